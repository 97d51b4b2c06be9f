package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sakif/crewcall/internal/apperror"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10

	// MaxAvatarBytes bounds an avatar upload request.
	MaxAvatarBytes = 10 << 20
)

// Runtime is the client core behind one open page.
type Runtime interface {
	// Start runs the startup sequence. It is called once, on its own goroutine.
	Start(ctx context.Context)
	// ReportLocation records the page's current location.href.
	ReportLocation(raw string)
	// Do runs a named screen action and returns its result.
	Do(ctx context.Context, action string, fields json.RawMessage) (any, error)
	Navigate(route string, params map[string]string)
	Back()
	Upload(ctx context.Context, name string, body io.Reader, contentType string) (any, error)
	Close()
}

// RuntimeFactory opens a Runtime for a page. send delivers host → page
// messages and is safe for concurrent use.
type RuntimeFactory interface {
	Open(page Page, send func(Message)) (Runtime, error)
}

// BridgeHandler connects each rendered shell to its own Runtime over a
// websocket.
type BridgeHandler struct {
	pages    *Pages
	runtimes RuntimeFactory
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]activePage
}

type activePage struct {
	deviceID string
	runtime  Runtime
}

// NewBridgeHandler creates a BridgeHandler.
func NewBridgeHandler(pages *Pages, runtimes RuntimeFactory, logger *slog.Logger) *BridgeHandler {
	return &BridgeHandler{
		pages:    pages,
		runtimes: runtimes,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		logger:   logger,
		active:   make(map[string]activePage),
	}
}

// peer serialises writes; gorilla/websocket allows one writer at a time.
type peer struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	logger *slog.Logger
}

func (p *peer) send(m Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := p.conn.WriteJSON(m); err != nil {
		p.logger.Debug("bridge write failed", slog.String("type", m.Type), slog.String("error", err.Error()))
	}
}

func (p *peer) ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// HandleBridge upgrades GET /bridge?page=<id> and runs the page's Runtime
// until the socket closes.
func (h *BridgeHandler) HandleBridge(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("page")
	page, ok := h.pages.Claim(id)
	if !ok {
		writeError(w, apperror.NotFound("page", id))
		return
	}
	if c, err := r.Cookie(DeviceCookie); err != nil || c.Value != page.DeviceID {
		writeError(w, apperror.Forbidden("page belongs to another device"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("bridge upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	p := &peer{conn: conn, logger: h.logger}
	rt, err := h.runtimes.Open(page, p.send)
	if err != nil {
		h.logger.Error("opening page runtime failed",
			slog.String("page", page.ID),
			slog.String("error", err.Error()),
		)
		p.send(Message{Type: MsgNotice, Message: "Something went wrong. Please reload the page."})
		return
	}

	h.mu.Lock()
	h.active[page.ID] = activePage{deviceID: page.DeviceID, runtime: rt}
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		h.mu.Lock()
		delete(h.active, page.ID)
		h.mu.Unlock()
		cancel()
		wg.Wait()
		rt.Close()
		h.logger.Info("page closed", slog.String("page", page.ID))
	}()

	h.logger.Info("page opened", slog.String("page", page.ID))

	wg.Add(2)
	go func() {
		defer wg.Done()
		rt.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		h.keepAlive(ctx, p)
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("bridge read failed", slog.String("error", err.Error()))
			}
			return
		}
		h.dispatch(ctx, rt, p, msg, &wg)
	}
}

func (h *BridgeHandler) dispatch(ctx context.Context, rt Runtime, p *peer, msg Message, wg *sync.WaitGroup) {
	switch msg.Type {
	case MsgLocation:
		rt.ReportLocation(msg.URL)
	case MsgNavigate:
		rt.Navigate(msg.Route, msg.Params)
	case MsgBack:
		rt.Back()
	case MsgAction:
		// Actions call the network; keep reading location reports meanwhile.
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.send(runAction(ctx, rt, msg))
		}()
	default:
		h.logger.Debug("ignoring bridge message", slog.String("type", msg.Type))
	}
}

func runAction(ctx context.Context, rt Runtime, msg Message) Message {
	reply := Message{Type: MsgResult, ID: msg.ID, Action: msg.Action}
	data, err := rt.Do(ctx, msg.Action, msg.Fields)
	if err != nil {
		_, reply.Error = describeError(err)
		return reply
	}
	reply.OK = true
	reply.Data = data
	return reply
}

func (h *BridgeHandler) keepAlive(ctx context.Context, p *peer) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.ping(); err != nil {
				return
			}
		}
	}
}

// HandleAvatar accepts POST /pages/{page}/avatar as multipart form data with
// an "avatar" file and hands it to the page's Runtime.
func (h *BridgeHandler) HandleAvatar(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "page")

	h.mu.Lock()
	ap, ok := h.active[id]
	h.mu.Unlock()
	if !ok {
		writeError(w, apperror.NotFound("page", id))
		return
	}
	if c, err := r.Cookie(DeviceCookie); err != nil || c.Value != ap.deviceID {
		writeError(w, apperror.Forbidden("page belongs to another device"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxAvatarBytes)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeError(w, apperror.ValidationFailed("avatar", "upload must be a form under 10MB"))
		return
	}
	file, header, err := r.FormFile("avatar")
	if err != nil {
		writeError(w, apperror.ValidationFailed("avatar", "avatar file is required"))
		return
	}
	defer file.Close()

	data, err := ap.runtime.Upload(r.Context(), header.Filename, file, header.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// Active returns the number of connected pages.
func (h *BridgeHandler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active)
}

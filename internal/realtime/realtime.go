// Package realtime subscribes to row-level changes of a backend table over the
// platform's websocket channel protocol.
//
// PROTOCOL:
// Every frame is a JSON envelope {topic, event, payload, ref}.
//   - phx_join   — join a topic; the server answers with phx_reply {status}
//   - heartbeat  — sent on the "phoenix" topic to keep the socket alive
//   - postgres_changes — a row matching the join filter changed
//   - phx_leave  — leave the topic before closing
//
// The caller only learns THAT something changed, never what: it refetches.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

const (
	defaultHeartbeat   = 25 * time.Second
	defaultJoinTimeout = 10 * time.Second
	writeTimeout       = 5 * time.Second
)

// TokenFunc returns the bearer token the join is authorized with.
type TokenFunc func(ctx context.Context) (string, error)

// Client opens change subscriptions.
type Client struct {
	endpoint    string
	token       TokenFunc
	dialer      *websocket.Dialer
	heartbeat   time.Duration
	joinTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHeartbeat overrides the heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Client) { c.heartbeat = d }
}

// WithJoinTimeout overrides how long Subscribe waits for the join reply.
func WithJoinTimeout(d time.Duration) Option {
	return func(c *Client) { c.joinTimeout = d }
}

// New creates a Client for the backend at baseURL (http or https).
func New(baseURL, apiKey string, token TokenFunc, logger *slog.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("realtime: parsing base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("realtime: unsupported scheme %q", u.Scheme)
	}
	u.Path += "/realtime/v1/websocket"
	u.RawQuery = url.Values{"apikey": {apiKey}, "vsn": {"1.0.0"}}.Encode()

	c := &Client{
		endpoint:    u.String(),
		token:       token,
		dialer:      websocket.DefaultDialer,
		heartbeat:   defaultHeartbeat,
		joinTimeout: defaultJoinTimeout,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

type joinPayload struct {
	Config struct {
		PostgresChanges []changeFilter `json:"postgres_changes"`
	} `json:"config"`
	AccessToken string `json:"access_token,omitempty"`
}

type changeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type replyPayload struct {
	Status   string `json:"status"`
	Response struct {
		Reason string `json:"reason"`
	} `json:"response"`
}

// Subscribe joins the change channel of table (optionally narrowed by a
// filter such as "id=eq.42") and calls onChange for every change. onChange is
// also called after the socket reconnects, since changes may have been missed
// while it was down.
//
// The returned unsubscribe leaves the channel and closes the socket; it is
// safe to call more than once.
func (c *Client) Subscribe(ctx context.Context, table, filter string, onChange func()) (func(), error) {
	topic := "realtime:public:" + table
	if filter != "" {
		topic += ":" + filter
	}

	subCtx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		client:   c,
		topic:    topic,
		filter:   changeFilter{Event: "*", Schema: "public", Table: table, Filter: filter},
		onChange: onChange,
		ctx:      subCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	conn, err := s.connect(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	go s.run(conn)

	var once sync.Once
	return func() { once.Do(s.stop) }, nil
}

type subscription struct {
	client   *Client
	topic    string
	filter   changeFilter
	onChange func()

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	ref atomic.Uint64

	// writeMu guards conn writes; gorilla/websocket allows one writer at a time.
	writeMu sync.Mutex
	conn    *websocket.Conn
}

func (s *subscription) nextRef() string {
	return strconv.FormatUint(s.ref.Add(1), 10)
}

func (s *subscription) write(msg message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return errors.New("realtime: not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(msg)
}

// connect dials, joins the topic and waits for the join reply.
func (s *subscription) connect(ctx context.Context) (*websocket.Conn, error) {
	c := s.client

	token, err := c.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("realtime: getting access token: %w", err)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("realtime: dialing: %w", err)
	}

	var jp joinPayload
	jp.Config.PostgresChanges = []changeFilter{s.filter}
	jp.AccessToken = token
	payload, _ := json.Marshal(jp)

	joinRef := s.nextRef()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(message{Topic: s.topic, Event: "phx_join", Payload: payload, Ref: joinRef}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("realtime: joining %s: %w", s.topic, err)
	}

	conn.SetReadDeadline(time.Now().Add(c.joinTimeout))
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("realtime: waiting for join reply: %w", err)
		}
		if msg.Event != "phx_reply" || msg.Ref != joinRef {
			continue
		}
		var reply replyPayload
		_ = json.Unmarshal(msg.Payload, &reply)
		if reply.Status != "ok" {
			conn.Close()
			return nil, fmt.Errorf("realtime: join %s rejected: %s", s.topic, reply.Response.Reason)
		}
		break
	}
	conn.SetReadDeadline(time.Time{})

	s.writeMu.Lock()
	s.conn = conn
	s.writeMu.Unlock()

	c.logger.Debug("realtime channel joined", slog.String("topic", s.topic))
	return conn, nil
}

func (s *subscription) run(conn *websocket.Conn) {
	defer close(s.done)

	for {
		err := s.serve(conn)
		if s.ctx.Err() != nil {
			return
		}
		s.client.logger.Warn("realtime connection lost",
			slog.String("topic", s.topic),
			slog.String("error", err.Error()),
		)

		conn, err = s.reconnect()
		if err != nil {
			return
		}
		s.onChange()
	}
}

// serve pumps one connection until it fails or the subscription stops.
func (s *subscription) serve(conn *websocket.Conn) error {
	stopped := make(chan struct{})
	defer close(stopped)

	go func() {
		ticker := time.NewTicker(s.client.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.write(message{Topic: "phoenix", Event: "heartbeat", Payload: json.RawMessage(`{}`), Ref: s.nextRef()}); err != nil {
					conn.Close()
					return
				}
			case <-s.ctx.Done():
				conn.Close()
				return
			case <-stopped:
				return
			}
		}
	}()

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Topic == s.topic && msg.Event == "postgres_changes" {
			s.onChange()
		}
	}
}

func (s *subscription) reconnect() (*websocket.Conn, error) {
	var conn *websocket.Conn
	op := func() error {
		var err error
		conn, err = s.connect(s.ctx)
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.client.logger.Debug("realtime reconnect failed",
			slog.String("topic", s.topic),
			slog.Duration("retryIn", wait),
			slog.String("error", err.Error()),
		)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	if err := backoff.RetryNotify(op, backoff.WithContext(b, s.ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *subscription) stop() {
	if err := s.write(message{Topic: s.topic, Event: "phx_leave", Payload: json.RawMessage(`{}`), Ref: s.nextRef()}); err != nil {
		s.client.logger.Debug("realtime leave failed", slog.String("error", err.Error()))
	}
	s.cancel()
	<-s.done

	s.writeMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.writeMu.Unlock()
}

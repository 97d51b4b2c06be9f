package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/crewcall/internal/apperror"
	"github.com/sakif/crewcall/internal/handler"
)

// fakeRuntime records what the bridge hands it.
type fakeRuntime struct {
	send func(handler.Message)

	mu        sync.Mutex
	locations []string
	navigated []string
	backs     int
	uploads   []string
	closed    bool
}

func (f *fakeRuntime) Start(context.Context) {
	f.send(handler.Message{Type: handler.MsgRoute, Route: "signin", Routes: []string{"signin"}})
}

func (f *fakeRuntime) ReportLocation(raw string) {
	f.mu.Lock()
	f.locations = append(f.locations, raw)
	f.mu.Unlock()
}

func (f *fakeRuntime) Do(_ context.Context, action string, fields json.RawMessage) (any, error) {
	switch action {
	case "echo":
		var v map[string]string
		if err := json.Unmarshal(fields, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "sign_in":
		return nil, apperror.ValidationFailed("email", "email is required")
	}
	return nil, errors.New("unknown action")
}

func (f *fakeRuntime) Navigate(route string, _ map[string]string) {
	f.mu.Lock()
	f.navigated = append(f.navigated, route)
	f.mu.Unlock()
}

func (f *fakeRuntime) Back() {
	f.mu.Lock()
	f.backs++
	f.mu.Unlock()
}

func (f *fakeRuntime) Upload(_ context.Context, name string, body io.Reader, contentType string) (any, error) {
	data, _ := io.ReadAll(body)
	f.mu.Lock()
	f.uploads = append(f.uploads, name+":"+contentType+":"+string(data))
	f.mu.Unlock()
	return map[string]string{"avatar_url": "https://cdn.example.com/" + name}, nil
}

func (f *fakeRuntime) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

type runtimeState struct {
	locations []string
	navigated []string
	backs     int
	uploads   []string
	closed    bool
}

func (f *fakeRuntime) snapshot() runtimeState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return runtimeState{
		locations: append([]string(nil), f.locations...),
		navigated: append([]string(nil), f.navigated...),
		backs:     f.backs,
		uploads:   append([]string(nil), f.uploads...),
		closed:    f.closed,
	}
}

type fakeFactory struct {
	mu     sync.Mutex
	opened []handler.Page
	rt     *fakeRuntime
}

func (f *fakeFactory) Open(page handler.Page, send func(handler.Message)) (handler.Runtime, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, page)
	f.rt = &fakeRuntime{send: send}
	return f.rt, nil
}

func (f *fakeFactory) runtime() *fakeRuntime {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rt
}

type bridgeEnv struct {
	srv     *httptest.Server
	pages   *handler.Pages
	bridge  *handler.BridgeHandler
	factory *fakeFactory
}

func newBridgeEnv(t *testing.T) *bridgeEnv {
	t.Helper()
	e := &bridgeEnv{pages: handler.NewPages(0), factory: &fakeFactory{}}
	e.bridge = handler.NewBridgeHandler(e.pages, e.factory, testLogger)

	r := chi.NewRouter()
	r.Get("/bridge", e.bridge.HandleBridge)
	r.Post("/pages/{page}/avatar", e.bridge.HandleAvatar)
	e.srv = httptest.NewServer(r)
	t.Cleanup(e.srv.Close)
	return e
}

func (e *bridgeEnv) dial(t *testing.T, pageID, device string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	header.Set("Cookie", handler.DeviceCookie+"="+device)
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/bridge?page=" + pageID
	return websocket.DefaultDialer.Dial(url, header)
}

func readMessage(t *testing.T, conn *websocket.Conn) handler.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg handler.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestBridge_RoundTrip(t *testing.T) {
	e := newBridgeEnv(t)
	page := e.pages.Register("http://app.example/?code=xyz", "dev1")

	conn, _, err := e.dial(t, page.ID, "dev1")
	require.NoError(t, err)
	defer conn.Close()

	first := readMessage(t, conn)
	assert.Equal(t, handler.MsgRoute, first.Type)
	assert.Equal(t, "signin", first.Route)

	require.NoError(t, conn.WriteJSON(handler.Message{Type: handler.MsgLocation, URL: "http://app.example/?code=xyz#frag"}))
	require.NoError(t, conn.WriteJSON(handler.Message{Type: handler.MsgNavigate, Route: "chats"}))
	require.NoError(t, conn.WriteJSON(handler.Message{Type: handler.MsgBack}))
	require.NoError(t, conn.WriteJSON(handler.Message{
		Type: handler.MsgAction, ID: "1", Action: "echo", Fields: json.RawMessage(`{"a":"b"}`),
	}))

	result := readMessage(t, conn)
	assert.Equal(t, handler.MsgResult, result.Type)
	assert.Equal(t, "1", result.ID)
	assert.True(t, result.OK)
	assert.Equal(t, map[string]any{"a": "b"}, result.Data)

	require.NoError(t, conn.WriteJSON(handler.Message{Type: handler.MsgAction, ID: "2", Action: "sign_in"}))
	failed := readMessage(t, conn)
	assert.False(t, failed.OK)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "validation_error", failed.Error.Error)
	assert.Equal(t, "email", failed.Error.Field)

	rt := e.factory.runtime().snapshot()
	assert.Equal(t, []string{"http://app.example/?code=xyz#frag"}, rt.locations)
	assert.Equal(t, []string{"chats"}, rt.navigated)
	assert.Equal(t, 1, rt.backs)
	assert.Equal(t, "http://app.example/?code=xyz", e.factory.opened[0].EntryURL)

	conn.Close()
	assert.Eventually(t, func() bool { return e.factory.runtime().snapshot().closed }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return e.bridge.Active() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestBridge_RejectsUnknownAndForeignPages(t *testing.T) {
	e := newBridgeEnv(t)

	_, resp, err := e.dial(t, "nope", "dev1")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	page := e.pages.Register("http://app.example/", "dev1")
	_, resp, err = e.dial(t, page.ID, "dev2")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, e.factory.opened)
}

func TestBridge_AvatarUpload(t *testing.T) {
	e := newBridgeEnv(t)
	page := e.pages.Register("http://app.example/", "dev1")
	conn, _, err := e.dial(t, page.ID, "dev1")
	require.NoError(t, err)
	defer conn.Close()
	readMessage(t, conn)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreatePart(map[string][]string{
		"Content-Disposition": {`form-data; name="avatar"; filename="me.png"`},
		"Content-Type":        {"image/png"},
	})
	require.NoError(t, err)
	_, _ = part.Write([]byte("png-bytes"))
	require.NoError(t, mw.Close())

	post := func(device string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/pages/"+page.ID+"/avatar", bytes.NewReader(body.Bytes()))
		require.NoError(t, err)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.AddCookie(&http.Cookie{Name: handler.DeviceCookie, Value: device})
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusForbidden, post("dev2").StatusCode)

	resp := post("dev1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "https://cdn.example.com/me.png", out["avatar_url"])
	assert.Equal(t, []string{"me.png:image/png:png-bytes"}, e.factory.runtime().snapshot().uploads)
}

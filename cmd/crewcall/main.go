// Command crewcall runs the native client core headless.
//
// The OS integration is a line protocol on stdin/stdout, so a shell (or the
// platform glue of a packaged app) can drive it:
//
//	crewcall [launch-url]
//
// Each stdin line is either a JSON object command or a deep link (anything
// else with "://"), delivered as if the OS had opened it. Commands look like:
//
//	{"action":"sign_in","fields":{"email":"ada@example.com","password":"..."}}
//	{"navigate":"chats","params":{"id":"42"}}
//	{"back":true}
//
// Route changes, notices and action results are written to stdout as JSON
// lines. Logs go to stderr.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/sakif/crewcall/internal/config"
	"github.com/sakif/crewcall/internal/core"
	"github.com/sakif/crewcall/internal/navigation"
	"github.com/sakif/crewcall/internal/platform"
	sqliteRepo "github.com/sakif/crewcall/internal/repository/sqlite"
	"github.com/sakif/crewcall/internal/service"
	"github.com/sakif/crewcall/internal/storage"
)

type command struct {
	Action   string            `json:"action"`
	Fields   json.RawMessage   `json:"fields"`
	Navigate string            `json:"navigate"`
	Params   map[string]string `json:"params"`
	Back     bool              `json:"back"`
}

type event struct {
	Type    string   `json:"type"`
	Route   string   `json:"route,omitempty"`
	Routes  []string `json:"routes,omitempty"`
	Message string   `json:"message,omitempty"`
	Action  string   `json:"action,omitempty"`
	OK      bool     `json:"ok,omitempty"`
	Error   string   `json:"error,omitempty"`
	Data    any      `json:"data,omitempty"`
}

// output serialises stdout writes from the core's goroutines.
type output struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (o *output) emit(ev event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.enc.Encode(ev)
}

type noticeFunc func(string)

func (f noticeFunc) Notify(msg string) { f(msg) }

func main() {
	if err := run(); err != nil {
		slog.Error("crewcall failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return err
		}
	}
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var objects service.ObjectStore
	if cfg.StorageEnabled() {
		store, err := storage.New(ctx, cfg.Storage(), logger)
		if err != nil {
			return err
		}
		objects = store
	}

	var launch platform.LaunchURLFunc
	if len(os.Args) > 1 {
		raw := os.Args[1]
		launch = func() (string, bool) { return raw, true }
	}
	source := platform.NewNative(launch, cfg.URLPolicy(), logger)

	out := &output{enc: json.NewEncoder(os.Stdout)}

	c, err := core.New(core.Options{
		Config:   cfg,
		Kind:     cfg.Kind(),
		Source:   source,
		Notifier: noticeFunc(func(msg string) { out.emit(event{Type: "notice", Message: msg}) }),
		Sessions: db,
		Screens:  db,
		Profiles: db,
		Objects:  objects,
		Redirects: service.Redirects{
			Callback: cfg.RedirectURL,
			Recovery: cfg.AppScheme + "://reset-password",
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	c.App.Context().Stack.OnChange(func(entries []navigation.Entry) {
		out.emit(routeEvent(entries))
	})

	if _, err := c.Start(ctx); err != nil {
		return err
	}
	out.emit(routeEvent(c.App.Context().Stack.Entries()))

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			handleLine(ctx, c, source, out, strings.TrimSpace(line))
		}
	}
}

// commander is the part of the core that stdin commands drive.
type commander interface {
	Do(ctx context.Context, action string, fields json.RawMessage) (any, error)
	Navigate(route string, params map[string]string)
	Back()
}

// linkSink receives deep links.
type linkSink interface {
	Deliver(raw string)
}

// isDeepLink reports whether a stdin line is a link rather than a command.
// Commands are JSON objects and may well contain URLs in their fields.
func isDeepLink(line string) bool {
	return !strings.HasPrefix(line, "{") && strings.Contains(line, "://")
}

func handleLine(ctx context.Context, c commander, links linkSink, out *output, line string) {
	switch {
	case line == "":
		return
	case isDeepLink(line):
		links.Deliver(line)
		return
	}

	var cmd command
	if err := json.Unmarshal([]byte(line), &cmd); err != nil {
		out.emit(event{Type: "result", Error: "malformed command"})
		return
	}

	switch {
	case cmd.Back:
		c.Back()
	case cmd.Navigate != "":
		c.Navigate(cmd.Navigate, cmd.Params)
	case cmd.Action != "":
		data, err := c.Do(ctx, cmd.Action, cmd.Fields)
		ev := event{Type: "result", Action: cmd.Action, OK: err == nil, Data: data}
		if err != nil {
			ev.Data = nil
			ev.Error = err.Error()
		}
		out.emit(ev)
	}
}

func routeEvent(entries []navigation.Entry) event {
	ev := event{Type: "route"}
	for _, e := range entries {
		ev.Routes = append(ev.Routes, string(e.Route))
	}
	if n := len(entries); n > 0 {
		ev.Route = string(entries[n-1].Route)
	}
	return ev
}

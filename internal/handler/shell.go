// Package handler contains the HTTP handlers of the web runtime host.
//
// WHAT THE HOST SERVES:
// The screens themselves are not rendered here. Every app path returns the
// same bare shell page; the shell opens a websocket bridge, and the client
// core for that page runs on the host and tells the shell which route to
// show. Handlers only translate between HTTP/websocket and that core.
package handler

import (
	"embed"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/sakif/crewcall/internal/authurl"
)

//go:embed web
var webFS embed.FS

// StaticFS returns the shell's static assets.
func StaticFS() fs.FS {
	sub, err := fs.Sub(webFS, "web/static")
	if err != nil {
		panic(err)
	}
	return sub
}

// ShellHandler renders the shell page.
// It parses the template once at startup and reuses it.
type ShellHandler struct {
	templates *template.Template
	pages     *Pages
	title     string
	logger    *slog.Logger
}

// NewShellHandler parses the embedded shell template.
func NewShellHandler(pages *Pages, title string, logger *slog.Logger) (*ShellHandler, error) {
	tmpl, err := template.ParseFS(webFS, "web/shell.html")
	if err != nil {
		return nil, err
	}
	return &ShellHandler{templates: tmpl, pages: pages, title: title, logger: logger}, nil
}

type shellData struct {
	Title    string
	PageID   string
	EntryURL string
}

// HandleShell serves GET /* .
//
// HTTP FLOW:
//  1. Capture the requested URL before any page script can rewrite it.
//  2. Register a page id for it.
//  3. Render the shell, which connects to /bridge?page=<id>.
func (h *ShellHandler) HandleShell(w http.ResponseWriter, r *http.Request) {
	device := ensureDevice(w, r)
	entry := requestURL(r)
	page := h.pages.Register(entry, device)

	h.logger.Debug("shell rendered",
		slog.String("page", page.ID),
		slog.Bool("callback", authurl.Parse(entry).Payload().Kind != authurl.KindNone),
	)

	// The shell embeds a one-time page id; caching it would hand the same id
	// to two loads.
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	data := shellData{Title: h.title, PageID: page.ID, EntryURL: entry}
	if err := h.templates.ExecuteTemplate(w, "shell", data); err != nil {
		h.logger.Error("failed to render shell", slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// HandleHealth serves GET /healthz.
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package handler

import (
	"sync"
	"time"

	"github.com/rs/xid"
)

// DefaultPageTTL is how long a rendered shell may take to open its bridge.
const DefaultPageTTL = 2 * time.Minute

// Page is a rendered shell waiting for its bridge connection.
type Page struct {
	ID string
	// EntryURL is the full URL the browser requested, captured before any
	// page script could rewrite it.
	EntryURL string
	DeviceID string
	Created  time.Time
}

// Pages hands out page ids and remembers each page's entry URL until its
// bridge connects. Every page can be claimed once.
type Pages struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	pages map[string]Page
}

// NewPages creates a registry. A ttl of zero uses DefaultPageTTL.
func NewPages(ttl time.Duration) *Pages {
	if ttl <= 0 {
		ttl = DefaultPageTTL
	}
	return &Pages{ttl: ttl, now: time.Now, pages: make(map[string]Page)}
}

// Register records a new page and returns it.
func (p *Pages) Register(entryURL, deviceID string) Page {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for id, pg := range p.pages {
		if now.Sub(pg.Created) > p.ttl {
			delete(p.pages, id)
		}
	}

	pg := Page{ID: xid.New().String(), EntryURL: entryURL, DeviceID: deviceID, Created: now}
	p.pages[pg.ID] = pg
	return pg
}

// Claim removes and returns the page with id. Expired pages are not returned.
func (p *Pages) Claim(id string) (Page, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pg, ok := p.pages[id]
	if !ok {
		return Page{}, false
	}
	delete(p.pages, id)
	if p.now().Sub(pg.Created) > p.ttl {
		return Page{}, false
	}
	return pg, true
}

// Len returns the number of unclaimed pages.
func (p *Pages) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pages)
}

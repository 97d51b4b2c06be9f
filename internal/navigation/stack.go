package navigation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/crewcall/internal/apperror"
	"github.com/sakif/crewcall/internal/model"
	"github.com/sakif/crewcall/internal/repository"
)

const persistTimeout = 2 * time.Second

// Entry is one screen on the stack.
type Entry struct {
	Route  model.Route       `json:"route"`
	Params map[string]string `json:"params,omitempty"`
}

// Stack is the navigation container: an ordered list of screens whose state
// is cached per user id so a cold start can put the user back where they were.
type Stack struct {
	mu       sync.Mutex
	entries  []Entry
	userID   string
	repo     repository.NavStateRepository
	logger   *slog.Logger
	onChange []func([]Entry)
}

var _ Navigator = (*Stack)(nil)

// NewStack creates an empty Stack. repo may be nil to disable persistence.
func NewStack(repo repository.NavStateRepository, logger *slog.Logger) *Stack {
	return &Stack{repo: repo, logger: logger}
}

// Mount restores the cached tree for userID (empty for signed-out users).
// A missing or unreadable cache leaves the stack empty; it is never an error
// worth blocking on.
func (s *Stack) Mount(ctx context.Context, userID string) {
	entries := s.load(ctx, userID)

	s.mu.Lock()
	s.userID = userID
	s.entries = entries
	snapshot := s.snapshotLocked()
	observers := s.onChange
	s.mu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
}

// SetUser switches the persistence key without touching the current screens.
func (s *Stack) SetUser(userID string) {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
}

// Forget drops the cached tree of userID.
func (s *Stack) Forget(ctx context.Context, userID string) {
	if s.repo == nil || userID == "" {
		return
	}
	if err := s.repo.DeleteNavState(ctx, userID); err != nil {
		s.logger.Warn("failed to delete navigation state",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
	}
}

// OnChange registers fn to receive the stack after every change.
func (s *Stack) OnChange(fn func([]Entry)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func (s *Stack) Reset(route model.Route, params map[string]string) {
	s.update(func(entries []Entry) []Entry {
		return []Entry{{Route: route, Params: params}}
	})
}

func (s *Stack) Navigate(route model.Route, params map[string]string) {
	s.update(func(entries []Entry) []Entry {
		return append(entries, Entry{Route: route, Params: params})
	})
}

// Back pops the top screen. The root screen is never popped.
func (s *Stack) Back() bool {
	popped := false
	s.update(func(entries []Entry) []Entry {
		if len(entries) <= 1 {
			return entries
		}
		popped = true
		return entries[:len(entries)-1]
	})
	return popped
}

// Current returns the top screen.
func (s *Stack) Current() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.entries[len(s.entries)-1], true
}

// Root returns the bottom screen, or RouteLoading when nothing is shown yet.
func (s *Stack) Root() model.Route {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return model.RouteLoading
	}
	return s.entries[0].Route
}

// Entries returns a copy of the stack from bottom to top.
func (s *Stack) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Routes lists the routes from bottom to top.
func (s *Stack) Routes() []model.Route {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Route, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Route
	}
	return out
}

func (s *Stack) update(fn func([]Entry) []Entry) {
	s.mu.Lock()
	s.entries = fn(s.entries)
	snapshot := s.snapshotLocked()
	userID := s.userID
	observers := s.onChange
	s.mu.Unlock()

	s.persist(userID, snapshot)
	for _, obs := range observers {
		obs(snapshot)
	}
}

func (s *Stack) snapshotLocked() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Stack) load(ctx context.Context, userID string) []Entry {
	if s.repo == nil || userID == "" {
		return nil
	}

	data, err := s.repo.LoadNavState(ctx, userID)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			s.logger.Warn("failed to load navigation state",
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("discarding corrupt navigation state",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return entries
}

func (s *Stack) persist(userID string, entries []Entry) {
	if s.repo == nil || userID == "" {
		return
	}

	data, err := json.Marshal(entries)
	if err != nil {
		s.logger.Error("failed to encode navigation state", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.repo.SaveNavState(ctx, userID, data); err != nil {
		s.logger.Warn("failed to save navigation state",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
	}
}

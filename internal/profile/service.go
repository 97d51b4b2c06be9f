package profile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/crewcall/internal/apperror"
	"github.com/sakif/crewcall/internal/model"
	"github.com/sakif/crewcall/internal/repository"
)

// Table is the backend table profile rows live in.
const Table = "users"

const refetchTimeout = 10 * time.Second

// Fetcher reads a profile row from the backend.
type Fetcher interface {
	FetchProfile(ctx context.Context, id string) (*model.Profile, error)
}

// ChangeSubscriber delivers row-level change notifications.
type ChangeSubscriber interface {
	Subscribe(ctx context.Context, table, filter string, onChange func()) (func(), error)
}

// Service holds the signed-in user's profile.
//
// The backend row is the source of truth. A successful fetch is mirrored to
// the local cache; a failed fetch leaves the profile unknown, which the
// router treats as incomplete so the user is asked to (re)enter it rather than
// being blocked.
type Service struct {
	fetch   Fetcher
	cache   repository.ProfileCache
	changes ChangeSubscriber
	logger  *slog.Logger

	mu        sync.Mutex
	userID    string
	current   *model.Profile
	unwatch   func()
	observers []func(*model.Profile)
}

// NewService creates a Service. cache and changes may be nil.
func NewService(fetch Fetcher, cache repository.ProfileCache, changes ChangeSubscriber, logger *slog.Logger) *Service {
	return &Service{fetch: fetch, cache: cache, changes: changes, logger: logger}
}

// OnChange registers fn to be called with the profile after every load or clear.
func (s *Service) OnChange(fn func(*model.Profile)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Load fetches the profile of userID and makes it current. A user with no
// row yet gets a nil profile and no error. Any other failure is a
// ProfileFetchError and also leaves a nil profile.
func (s *Service) Load(ctx context.Context, userID string) (*model.Profile, error) {
	if userID == "" {
		s.Clear()
		return nil, nil
	}

	p, err := s.fetch.FetchProfile(ctx, userID)
	switch {
	case err == nil:
		s.mirror(ctx, p)
	case errors.Is(err, apperror.ErrNotFound):
		p, err = nil, nil
	default:
		p, err = nil, apperror.ProfileFetch(userID, err)
		s.logger.Warn("profile fetch failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
	}

	s.set(userID, p)
	return clone(p), err
}

// Current returns the current profile, or nil.
func (s *Service) Current() *model.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.current)
}

// Cached returns the last mirrored profile of userID, for showing something
// (name, avatar) before the network answers. It never feeds the gates.
func (s *Service) Cached(ctx context.Context, userID string) (*model.Profile, bool) {
	if s.cache == nil || userID == "" {
		return nil, false
	}
	p, err := s.cache.GetProfile(ctx, userID)
	if err != nil {
		return nil, false
	}
	return p, true
}

// Clear forgets the profile and stops watching for changes.
func (s *Service) Clear() {
	s.mu.Lock()
	unwatch := s.unwatch
	s.unwatch = nil
	s.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	s.set("", nil)
}

// Watch subscribes to changes of userID's row; every change refetches the
// profile. A previous watch is replaced.
func (s *Service) Watch(ctx context.Context, userID string) error {
	if s.changes == nil || userID == "" {
		return nil
	}

	unwatch, err := s.changes.Subscribe(ctx, Table, "id=eq."+userID, func() {
		s.mu.Lock()
		stale := s.userID != userID
		s.mu.Unlock()
		if stale {
			return
		}

		rctx, cancel := context.WithTimeout(context.Background(), refetchTimeout)
		defer cancel()
		_, _ = s.Load(rctx, userID)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	previous := s.unwatch
	s.unwatch = unwatch
	s.mu.Unlock()

	if previous != nil {
		previous()
	}
	return nil
}

func (s *Service) set(userID string, p *model.Profile) {
	s.mu.Lock()
	s.userID = userID
	s.current = p
	observers := s.observers
	s.mu.Unlock()

	for _, fn := range observers {
		fn(clone(p))
	}
}

func (s *Service) mirror(ctx context.Context, p *model.Profile) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SaveProfile(ctx, clone(p)); err != nil {
		s.logger.Warn("caching profile failed", slog.String("error", err.Error()))
	}
}

func clone(p *model.Profile) *model.Profile {
	if p == nil {
		return nil
	}
	out := *p
	if p.MainRoleID != nil {
		v := *p.MainRoleID
		out.MainRoleID = &v
	}
	if p.CityID != nil {
		v := *p.CityID
		out.CityID = &v
	}
	return &out
}

// Package repository declares the local cache the client keeps on the device.
//
// The backend platform is the source of truth for everything here. The cache
// exists so a cold start can restore the session, the navigation tree and the
// last known profile before the network answers.
package repository

import (
	"context"

	"github.com/sakif/crewcall/internal/model"
)

// KeyValueStore persists opaque blobs under fixed keys (the serialized session,
// the pending PKCE code verifier). Get returns apperror.ErrNotFound when the key
// is absent.
type KeyValueStore interface {
	GetValue(ctx context.Context, key string) ([]byte, error)
	PutValue(ctx context.Context, key string, value []byte) error
	DeleteValue(ctx context.Context, key string) error
}

// NavStateRepository persists the serialized navigation tree per user id.
type NavStateRepository interface {
	LoadNavState(ctx context.Context, userID string) ([]byte, error)
	SaveNavState(ctx context.Context, userID string, state []byte) error
	DeleteNavState(ctx context.Context, userID string) error
}

// ProfileCache mirrors profile rows fetched from the backend.
type ProfileCache interface {
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	SaveProfile(ctx context.Context, profile *model.Profile) error
	DeleteProfile(ctx context.Context, id string) error
}

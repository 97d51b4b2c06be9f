package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/crewcall/internal/apperror"
	"github.com/sakif/crewcall/internal/backend"
	"github.com/sakif/crewcall/internal/platform"
)

func TestPageOrigin(t *testing.T) {
	tests := []struct {
		entry      string
		wantOrigin string
		wantKind   platform.Kind
		wantErr    bool
	}{
		{"https://app.example/reset-password?type=recovery", "https://app.example", platform.Web, false},
		{"http://localhost:8080/", "http://localhost:8080", platform.Localhost, false},
		{"http://127.0.0.1:5173/auth/callback?code=x", "http://127.0.0.1:5173", platform.Localhost, false},
		{"/relative", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.entry, func(t *testing.T) {
			origin, kind, err := pageOrigin(tt.entry)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOrigin, origin)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestDeviceStore_ScopesKeys(t *testing.T) {
	ctx := context.Background()
	shared := backend.NewMemoryStore()
	a := &deviceStore{kv: shared, prefix: "a:"}
	b := &deviceStore{kv: shared, prefix: "b:"}

	require.NoError(t, a.PutValue(ctx, backend.SessionKey, []byte("alpha")))

	got, err := a.GetValue(ctx, backend.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(got))

	_, err = b.GetValue(ctx, backend.SessionKey)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	require.NoError(t, a.DeleteValue(ctx, backend.SessionKey))
	_, err = a.GetValue(ctx, backend.SessionKey)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

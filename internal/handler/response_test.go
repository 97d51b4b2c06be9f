package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/crewcall/internal/apperror"
)

func TestDescribeError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		errorType string
		field     string
	}{
		{"validation", fmt.Errorf("service: %w", apperror.ValidationFailed("email", "email is required")), http.StatusBadRequest, "validation_error", "email"},
		{"unauthorized", apperror.Unauthorized("not signed in"), http.StatusUnauthorized, "unauthorized", ""},
		{"forbidden", apperror.Forbidden("nope"), http.StatusForbidden, "forbidden", ""},
		{"not found", apperror.NotFound("page", "x"), http.StatusNotFound, "not_found", ""},
		{"exchange", apperror.AuthExchange("exchanging", errors.New("invalid_grant")), http.StatusBadGateway, "auth_error", ""},
		{"unknown", errors.New("dial tcp 10.0.0.1: refused"), http.StatusInternalServerError, "internal_error", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := describeError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.errorType, body.Error)
			assert.Equal(t, tt.field, body.Field)
			assert.NotContains(t, body.Message, "10.0.0.1")
		})
	}
}

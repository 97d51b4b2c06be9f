package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sakif/crewcall/internal/apperror"
	"github.com/sakif/crewcall/internal/model"
)

// Server-side functions are invoked with the user's bearer token. Their
// logic lives on the platform; the client only calls them.

// CreateCheckoutSession asks the billing function for a hosted checkout page
// for priceID and returns its URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, priceID string) (string, error) {
	if priceID == "" {
		return "", apperror.ValidationFailed("price_id", "price id is required")
	}

	token, err := c.bearer(ctx)
	if err != nil {
		return "", err
	}

	var out struct {
		URL string `json:"url"`
	}
	err = c.do(ctx, request{
		method: http.MethodPost,
		path:   "/functions/v1/create-checkout-session",
		bearer: token,
		body:   map[string]string{"price_id": priceID},
	}, &out)
	if err != nil {
		return "", fmt.Errorf("backend: creating checkout session: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("backend: checkout session returned no url")
	}
	return out.URL, nil
}

// DeleteAccount deletes the signed-in account and then signs out locally.
func (c *Client) DeleteAccount(ctx context.Context) error {
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}

	err = c.do(ctx, request{
		method: http.MethodPost,
		path:   "/functions/v1/delete-account",
		bearer: token,
	}, nil)
	if err != nil {
		return fmt.Errorf("backend: deleting account: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked(ctx)
	c.emit(model.EventSignedOut, nil)
	return nil
}

package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sakif/crewcall/internal/apperror"
	"github.com/sakif/crewcall/internal/model"
)

// ProfilesTable is the REST table profile rows live in, keyed by user id.
const ProfilesTable = "users"

const profilesPath = "/rest/v1/" + ProfilesTable

// FetchProfile reads the profile row of id. A missing row is
// apperror.ErrNotFound, which callers treat as "no profile yet".
func (c *Client) FetchProfile(ctx context.Context, id string) (*model.Profile, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.Profile
	err = c.do(ctx, request{
		method: http.MethodGet,
		path:   profilesPath,
		query:  url.Values{"id": {"eq." + id}, "select": {"*"}},
		bearer: token,
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("backend: fetching profile %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, apperror.NotFound("profile", id)
	}
	return &rows[0], nil
}

// UpdateProfile patches the existing row of p.ID and returns the stored row.
func (c *Client) UpdateProfile(ctx context.Context, p *model.Profile) (*model.Profile, error) {
	return c.writeProfile(ctx, http.MethodPatch, p, "return=representation")
}

// UpsertProfile creates the row of p.ID, or merges into it if it exists.
func (c *Client) UpsertProfile(ctx context.Context, p *model.Profile) (*model.Profile, error) {
	return c.writeProfile(ctx, http.MethodPost, p, "resolution=merge-duplicates,return=representation")
}

func (c *Client) writeProfile(ctx context.Context, method string, p *model.Profile, prefer string) (*model.Profile, error) {
	if p == nil || p.ID == "" {
		return nil, apperror.ValidationFailed("id", "profile id is required")
	}

	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	var query url.Values
	if method == http.MethodPatch {
		query = url.Values{"id": {"eq." + p.ID}}
	}

	var rows []model.Profile
	err = c.do(ctx, request{
		method: method,
		path:   profilesPath,
		query:  query,
		bearer: token,
		prefer: prefer,
		body:   p,
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("backend: writing profile %s: %w", p.ID, err)
	}
	if len(rows) == 0 {
		return nil, apperror.NotFound("profile", p.ID)
	}
	return &rows[0], nil
}

// Package backendtest runs an in-process fake of the auth/data platform for
// tests, in the spirit of net/http/httptest.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"

	"github.com/sakif/crewcall/internal/auth"
	"github.com/sakif/crewcall/internal/model"
)

const (
	// Secret signs the fake's access tokens.
	Secret = "backendtest-secret-0123456789"
	// AnonKey is the public key the fake expects in the apikey header.
	AnonKey = "backendtest-anon-key"
)

type user struct {
	id       string
	email    string
	password string
}

// Server is a fake platform. Zero or more users, codes and profiles are
// registered up front; the recorded fields can be inspected afterwards.
type Server struct {
	*httptest.Server

	Tokens *auth.TokenInspector
	// TTL is the lifetime of issued access tokens.
	TTL time.Duration

	mu       sync.Mutex
	users    map[string]*user
	codes    map[string]string
	refresh  map[string]string
	profiles map[string]model.Profile

	// RejectRefresh makes every refresh_token grant fail with invalid_grant.
	RejectRefresh bool

	Recoveries []string
	Verifiers  []string
	Logouts    int
	Deleted    []string
}

// New starts a fake platform that is shut down when t ends.
func New(t testing.TB) *Server {
	t.Helper()

	tokens, err := auth.NewTokenInspector(Secret)
	if err != nil {
		t.Fatalf("backendtest: %v", err)
	}

	s := &Server{
		Tokens:   tokens,
		TTL:      time.Hour,
		users:    make(map[string]*user),
		codes:    make(map[string]string),
		refresh:  make(map[string]string),
		profiles: make(map[string]model.Profile),
	}

	r := chi.NewRouter()
	r.Use(s.requireAPIKey)
	r.Post("/auth/v1/token", s.token)
	r.Post("/auth/v1/logout", s.logout)
	r.Post("/auth/v1/recover", s.recover)
	r.Post("/auth/v1/signup", s.signup)
	r.Put("/auth/v1/user", s.updateUser)
	r.Get("/rest/v1/users", s.getProfiles)
	r.Patch("/rest/v1/users", s.patchProfile)
	r.Post("/rest/v1/users", s.upsertProfile)
	r.Post("/functions/v1/create-checkout-session", s.checkout)
	r.Post("/functions/v1/delete-account", s.deleteAccount)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// AddUser registers an account.
func (s *Server) AddUser(id, email, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &user{id: id, email: email, password: password}
}

// AddCode registers a one-time authorization code for userID.
func (s *Server) AddCode(code, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = userID
}

// IssueTokens mints a token pair for userID, as the legacy fragment flow
// would deliver it. ttl may be negative to get an already expired token.
func (s *Server) IssueTokens(t testing.TB, userID string, ttl time.Duration) model.Tokens {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	pair, err := s.issueLocked(userID, ttl)
	if err != nil {
		t.Fatalf("backendtest: %v", err)
	}
	return model.Tokens{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}
}

// SetProfile stores a profile row.
func (s *Server) SetProfile(p model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

// Profile returns the stored profile row of id.
func (s *Server) Profile(id string) (model.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	return p, ok
}

// Password returns the current password of userID.
func (s *Server) Password(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		return u.password
	}
	return ""
}

// =========================================================================
// handlers
// =========================================================================

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

func (s *Server) issueLocked(userID string, ttl time.Duration) (tokenResponse, error) {
	u, ok := s.users[userID]
	if !ok {
		return tokenResponse{}, fmt.Errorf("unknown user %s", userID)
	}
	access, err := s.Tokens.Issue(u.id, u.email, ttl)
	if err != nil {
		return tokenResponse{}, err
	}
	rt := xid.New().String()
	s.refresh[rt] = u.id
	return tokenResponse{
		AccessToken:  access,
		RefreshToken: rt,
		TokenType:    "bearer",
		ExpiresIn:    int(ttl / time.Second),
	}, nil
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != AnonKey {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var userID string
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		id, ok := s.codes[r.PostForm.Get("code")]
		if !ok || r.PostForm.Get("code_verifier") == "" {
			writeOAuthError(w, "invalid_grant", "invalid code or verifier")
			return
		}
		delete(s.codes, r.PostForm.Get("code"))
		s.Verifiers = append(s.Verifiers, r.PostForm.Get("code_verifier"))
		userID = id
	case "refresh_token":
		id, ok := s.refresh[r.PostForm.Get("refresh_token")]
		if !ok || s.RejectRefresh {
			writeOAuthError(w, "invalid_grant", "invalid refresh token")
			return
		}
		delete(s.refresh, r.PostForm.Get("refresh_token"))
		userID = id
	case "password":
		for _, u := range s.users {
			if u.email == r.PostForm.Get("username") && u.password == r.PostForm.Get("password") {
				userID = u.id
			}
		}
		if userID == "" {
			writeOAuthError(w, "invalid_grant", "invalid login credentials")
			return
		}
	default:
		writeOAuthError(w, "unsupported_grant_type", "")
		return
	}

	pair, err := s.issueLocked(userID, s.TTL)
	if err != nil {
		writeOAuthError(w, "invalid_grant", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// authorized returns the user behind the request's bearer token.
func (s *Server) authorized(r *http.Request) (*user, bool) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	claims, err := s.Tokens.Parse(raw)
	if err != nil || claims.ExpiresAt.Before(time.Now()) {
		return nil, false
	}
	u, ok := s.users[claims.UserID]
	return u, ok
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Logouts++
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) recover(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email         string `json:"email"`
		CodeChallenge string `json:"code_challenge"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CodeChallenge == "" {
		writeError(w, http.StatusBadRequest, "email and code challenge required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Recoveries = append(s.Recoveries, body.Email)
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		writeError(w, http.StatusBadRequest, "email required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.email == body.Email {
			writeError(w, http.StatusUnprocessableEntity, "user already registered")
			return
		}
	}
	id := xid.New().String()
	s.users[id] = &user{id: id, email: body.Email, password: body.Password}

	pair, err := s.issueLocked(id, s.TTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.authorized(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if body.Password != "" {
		u.password = body.Password
	}
	if body.Email != "" {
		u.email = body.Email
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": u.id, "email": u.email})
}

func (s *Server) getProfiles(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authorized(r); !ok {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	rows := []model.Profile{}
	if p, ok := s.profiles[strings.TrimPrefix(r.URL.Query().Get("id"), "eq.")]; ok {
		rows = append(rows, p)
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) patchProfile(w http.ResponseWriter, r *http.Request) {
	s.writeProfile(w, r, false)
}

func (s *Server) upsertProfile(w http.ResponseWriter, r *http.Request) {
	s.writeProfile(w, r, true)
}

func (s *Server) writeProfile(w http.ResponseWriter, r *http.Request, create bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.authorized(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	var p model.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if !create {
		p.ID = strings.TrimPrefix(r.URL.Query().Get("id"), "eq.")
	}
	if p.ID != u.id {
		writeError(w, http.StatusForbidden, "row-level security violation")
		return
	}

	if _, exists := s.profiles[p.ID]; !exists && !create {
		writeJSON(w, http.StatusOK, []model.Profile{})
		return
	}
	p.UpdatedAt = time.Now().UTC()
	s.profiles[p.ID] = p
	writeJSON(w, http.StatusOK, []model.Profile{p})
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	_, ok := s.authorized(r)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	var body struct {
		PriceID string `json:"price_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PriceID == "" {
		writeError(w, http.StatusBadRequest, "price_id required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": "https://checkout.example.com/" + body.PriceID})
}

func (s *Server) deleteAccount(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.authorized(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	delete(s.users, u.id)
	delete(s.profiles, u.id)
	s.Deleted = append(s.Deleted, u.id)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeOAuthError(w http.ResponseWriter, code, desc string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": code, "error_description": desc})
}

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/tutorhall/backend/internal/models"
)

// Current mirrors the GetCurrent answer from the session registry.
type Current struct {
	Status            string              `json:"status"`
	Session           *models.LiveSession `json:"session,omitempty"`
	RecentlyCompleted bool                `json:"recently_completed,omitempty"`
}

// Session status values as the registry reports them.
const (
	StatusActive    = "active"
	StatusEnded     = "ended"
	StatusNoSession = "no_session"
)

// API is the slice of the backend the reconciler talks to.
type API interface {
	GetCurrent(ctx context.Context, courseID uuid.UUID) (*Current, error)
	Heartbeat(ctx context.Context, sessionID uuid.UUID) error
}

// DefaultRequestTimeout bounds each poll/heartbeat request. It must stay
// below the poll interval so a hung request costs at most one cycle.
const DefaultRequestTimeout = 2 * time.Second

// HTTPAPI talks to the backend over its REST surface, authenticating with
// the credential held by the tab's store and identifying the tab on every
// poll so the registry can serve the ended status exactly once.
type HTTPAPI struct {
	baseURL string
	store   *Store
	http    *http.Client
	timeout time.Duration
}

// NewHTTPAPI creates an API client. baseURL is the server root, e.g.
// "https://api.tutorhall.dev".
func NewHTTPAPI(baseURL string, store *Store) *HTTPAPI {
	return &HTTPAPI{
		baseURL: baseURL,
		store:   store,
		http:    &http.Client{},
		timeout: DefaultRequestTimeout,
	}
}

// SetRequestTimeout overrides the per-request timeout.
func (a *HTTPAPI) SetRequestTimeout(d time.Duration) {
	a.timeout = d
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (a *HTTPAPI) do(ctx context.Context, method, path string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, nil)
	if err != nil {
		return err
	}
	if cred := a.store.Credential(); cred.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, env.Error)
	}
	if out != nil && env.Data != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// GetCurrent polls the course's current session status, identifying this tab.
func (a *HTTPAPI) GetCurrent(ctx context.Context, courseID uuid.UUID) (*Current, error) {
	path := fmt.Sprintf("/api/v1/courses/%s/session/current?tab=%s",
		courseID, url.QueryEscape(a.store.TabID()))
	var cur Current
	if err := a.do(ctx, http.MethodGet, path, &cur); err != nil {
		return nil, err
	}
	return &cur, nil
}

// Heartbeat refreshes host liveness for an active session.
func (a *HTTPAPI) Heartbeat(ctx context.Context, sessionID uuid.UUID) error {
	return a.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%s/heartbeat", sessionID), nil)
}

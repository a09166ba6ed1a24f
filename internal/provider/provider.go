// Package provider wraps the external video-conferencing vendor. The core
// treats it as a black box that yields a join link at start time and,
// asynchronously, end-of-meeting and recording webhooks; it is never relied
// on to report session end (the watchdog bounds lifetime regardless).
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUnavailable means the vendor could not produce a meeting. Start is a
// blocking failure in that case; no session record is created.
var ErrUnavailable = errors.New("meeting provider unavailable")

// Meeting is what the vendor returns for a created meeting.
type Meeting struct {
	JoinURL     string `json:"join_url"`
	ProviderRef string `json:"provider_ref,omitempty"`
}

// MeetingProvider creates meetings for live sessions.
type MeetingProvider interface {
	CreateMeeting(ctx context.Context, courseID, hostID uuid.UUID) (*Meeting, error)
}

// HTTPProvider calls a vendor HTTP API to create meetings.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPProvider creates a provider client against baseURL.
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CreateMeeting POSTs /meetings and returns the vendor's join link.
func (p *HTTPProvider) CreateMeeting(ctx context.Context, courseID, hostID uuid.UUID) (*Meeting, error) {
	body := fmt.Sprintf(`{"course_id":%q,"host_id":%q}`, courseID, hostID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/meetings", strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("provider request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		p.logger.Warn("provider rejected meeting create", zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	var m Meeting
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if m.JoinURL == "" {
		return nil, fmt.Errorf("%w: empty join url", ErrUnavailable)
	}
	return &m, nil
}

// StaticProvider mints join links locally from a format string, for dev and
// single-tenant installs without a vendor API.
type StaticProvider struct {
	format string
}

// NewStaticProvider creates a provider that formats one-off meeting IDs into
// join URLs, e.g. "https://meet.example.com/%s".
func NewStaticProvider(format string) *StaticProvider {
	return &StaticProvider{format: format}
}

func (p *StaticProvider) CreateMeeting(_ context.Context, _, _ uuid.UUID) (*Meeting, error) {
	ref := uuid.New().String()
	return &Meeting{JoinURL: fmt.Sprintf(p.format, ref), ProviderRef: ref}, nil
}

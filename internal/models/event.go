package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType tags a notification event variant. Each variant carries exactly
// one payload shape, decoded with the matching *Payload accessor.
type EventType string

const (
	EventSessionStarted EventType = "session_started"
	EventSessionEnded   EventType = "session_ended"
	EventReplayReady    EventType = "replay_ready"
)

// StateAfter returns the session state the event announces. Clients compare
// its ordinal against their local view instead of trusting arrival order.
func (t EventType) StateAfter() SessionState {
	switch t {
	case EventSessionStarted:
		return StateActive
	case EventSessionEnded:
		return StateEnded
	case EventReplayReady:
		return StateReplayReady
	}
	return StateNoSession
}

// SessionStartedPayload accompanies EventSessionStarted.
type SessionStartedPayload struct {
	MeetingLink string    `json:"meeting_link"`
	HostID      uuid.UUID `json:"host_id"`
	StartedAt   time.Time `json:"started_at"`
}

// SessionEndedPayload accompanies EventSessionEnded.
type SessionEndedPayload struct {
	EndedAt time.Time `json:"ended_at"`
	Reason  EndReason `json:"reason"`
}

// ReplayReadyPayload accompanies EventReplayReady.
type ReplayReadyPayload struct {
	ReplayID uuid.UUID `json:"replay_id"`
	URL      string    `json:"url,omitempty"`
}

// NotificationEvent is an immutable record of one accepted session
// transition. Delivery is at-least-once; the event ID is the dedup key.
type NotificationEvent struct {
	ID        uuid.UUID       `json:"event_id"`
	Type      EventType       `json:"type"`
	CourseID  uuid.UUID       `json:"course_id"`
	SessionID uuid.UUID       `json:"session_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	EmittedAt time.Time       `json:"emitted_at"`
	// TargetUserID scopes the event to a single user (host-only
	// acknowledgements); zero value means broadcast to the course audience.
	TargetUserID uuid.UUID `json:"target_user_id,omitempty"`
}

func newEvent(t EventType, courseID, sessionID uuid.UUID, payload interface{}) NotificationEvent {
	raw, _ := json.Marshal(payload)
	return NotificationEvent{
		ID:        uuid.New(),
		Type:      t,
		CourseID:  courseID,
		SessionID: sessionID,
		Payload:   raw,
		EmittedAt: time.Now().UTC(),
	}
}

// NewSessionStarted builds a session_started event.
func NewSessionStarted(s *LiveSession) NotificationEvent {
	return newEvent(EventSessionStarted, s.CourseID, s.ID, SessionStartedPayload{
		MeetingLink: s.MeetingLink,
		HostID:      s.HostID,
		StartedAt:   s.StartTime,
	})
}

// NewSessionEnded builds a session_ended event.
func NewSessionEnded(s *LiveSession) NotificationEvent {
	endedAt := time.Now().UTC()
	if s.EndTime != nil {
		endedAt = *s.EndTime
	}
	return newEvent(EventSessionEnded, s.CourseID, s.ID, SessionEndedPayload{
		EndedAt: endedAt,
		Reason:  s.EndReason,
	})
}

// NewReplayReady builds a replay_ready event.
func NewReplayReady(courseID, sessionID, replayID uuid.UUID, url string) NotificationEvent {
	return newEvent(EventReplayReady, courseID, sessionID, ReplayReadyPayload{
		ReplayID: replayID,
		URL:      url,
	})
}

// StartedPayload decodes the payload of a session_started event.
func (e *NotificationEvent) StartedPayload() (*SessionStartedPayload, error) {
	if e.Type != EventSessionStarted {
		return nil, fmt.Errorf("event type %s has no started payload", e.Type)
	}
	var p SessionStartedPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// EndedPayload decodes the payload of a session_ended event.
func (e *NotificationEvent) EndedPayload() (*SessionEndedPayload, error) {
	if e.Type != EventSessionEnded {
		return nil, fmt.Errorf("event type %s has no ended payload", e.Type)
	}
	var p SessionEndedPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ReplayPayload decodes the payload of a replay_ready event.
func (e *NotificationEvent) ReplayPayload() (*ReplayReadyPayload, error) {
	if e.Type != EventReplayReady {
		return nil, fmt.Errorf("event type %s has no replay payload", e.Type)
	}
	var p ReplayReadyPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

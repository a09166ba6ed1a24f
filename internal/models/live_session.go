package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a live session. States are strictly
// ordered; the ordinal acts as a logical clock so late or duplicated signals
// can never move a session (or a client's view of it) backwards.
type SessionState string

const (
	StateNoSession        SessionState = "no_session"
	StateActive           SessionState = "active"
	StateEnded            SessionState = "ended"
	StateReplayProcessing SessionState = "replay_processing"
	StateReplayReady      SessionState = "replay_ready"
)

// Ordinal returns the position of the state in the lifecycle ordering.
// Unknown states map to -1 so they always lose against a known state.
func (s SessionState) Ordinal() int {
	switch s {
	case StateNoSession:
		return 0
	case StateActive:
		return 1
	case StateEnded:
		return 2
	case StateReplayProcessing:
		return 3
	case StateReplayReady:
		return 4
	}
	return -1
}

// CanTransitionTo reports whether moving to next is a legal forward step.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	return next.Ordinal() > s.Ordinal()
}

// EndReason records what terminated a session. Watchdog-forced endings are
// normal transitions but hosts see them labelled differently.
type EndReason string

const (
	EndReasonHost     EndReason = "host"
	EndReasonWatchdog EndReason = "watchdog"
	EndReasonProvider EndReason = "provider"
)

// LiveSession is one instance of a live teaching meeting for a course.
// At most one session per course may be active at any instant.
type LiveSession struct {
	ID               uuid.UUID    `json:"id"`
	CourseID         uuid.UUID    `json:"course_id"`
	HostID           uuid.UUID    `json:"host_id"`
	State            SessionState `json:"state"`
	StartTime        time.Time    `json:"start_time"`
	EndTime          *time.Time   `json:"end_time,omitempty"`
	MeetingLink      string       `json:"meeting_link"`
	AudienceSnapshot []uuid.UUID  `json:"audience_snapshot,omitempty"`
	EndReason        EndReason    `json:"end_reason,omitempty"`
	LastHeartbeat    time.Time    `json:"last_heartbeat"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// IsLive reports whether the session is currently active.
func (s *LiveSession) IsLive() bool {
	return s.State == StateActive
}

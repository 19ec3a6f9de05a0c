package models

import "time"

type SessionStatus string

const (
	SessionPending SessionStatus = "PENDING"
	SessionActive  SessionStatus = "ACTIVE"
	SessionEnded   SessionStatus = "ENDED"
)

type Role string

const (
	RoleCreator Role = "creator"
	RoleFan     Role = "fan"
)

func (r Role) Valid() bool {
	return r == RoleCreator || r == RoleFan
}

type Session struct {
	ID              string        `json:"id"`
	CreatorID       string        `json:"creator_id"`
	FanID           string        `json:"fan_id"`
	Status          SessionStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	DurationSeconds int64         `json:"duration_seconds"`
}

// EndResult is what a participant gets back after ending a session. Ended is
// the authoritative signal; NavigationPath is always populated.
type EndResult struct {
	SessionID       string `json:"session_id"`
	NavigationPath  string `json:"navigation_path"`
	Ended           bool   `json:"ended"`
	AlreadyEnded    bool   `json:"already_ended"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// MediaCredential is single-use: request a new one for every connection attempt.
type MediaCredential struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	Identity  string    `json:"identity"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

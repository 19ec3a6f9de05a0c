package models

import (
	"time"
)

type EntryState string

const (
	StateWaiting   EntryState = "WAITING"
	StateReady     EntryState = "READY"
	StateHeld      EntryState = "HELD"
	StateInSession EntryState = "IN_SESSION"
	StateRemoved   EntryState = "REMOVED"
)

type RemoveReason string

const (
	ReasonManualLeave    RemoveReason = "manual_leave"
	ReasonSessionEnded   RemoveReason = "session_ended"
	ReasonCreatorRemoved RemoveReason = "creator_removed"
	ReasonReported       RemoveReason = "reported"
	ReasonTimeout        RemoveReason = "timeout"
)

func (r RemoveReason) Valid() bool {
	switch r {
	case ReasonManualLeave, ReasonSessionEnded, ReasonCreatorRemoved, ReasonReported, ReasonTimeout:
		return true
	}
	return false
}

// QueueEntry is a fan's waiting-room record for one creator. Position is
// 1-based and only as fresh as the read that produced it.
type QueueEntry struct {
	CreatorID string     `json:"creator_id"`
	FanID     string     `json:"fan_id"`
	EntryID   string     `json:"entry_id"`
	EnteredAt time.Time  `json:"entered_at"`
	State     EntryState `json:"state"`
	Position  int64      `json:"position"`
	HoldUntil *time.Time `json:"hold_until,omitempty"`
}

type RemoveResult struct {
	Success         bool `json:"success"`
	Removed         bool `json:"removed"`
	RemovedWasFront bool `json:"removed_was_front"`
}

// FrontChanged is broadcast in-process after every successful removal.
type FrontChanged struct {
	CreatorID       string `json:"creator_id"`
	RemovedFanID    string `json:"removed_fan_id"`
	RemovedWasFront bool   `json:"removed_was_front"`
}

type QueueSnapshot struct {
	CreatorID string       `json:"creator_id"`
	Total     int          `json:"total"`
	Entries   []QueueEntry `json:"entries"`
}

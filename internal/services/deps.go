package services

import (
	"context"
	"time"

	"consult-queue/internal/store"
	"consult-queue/models"
)

// QueueStore is the queue side of the backend.
type QueueStore interface {
	Enqueue(ctx context.Context, creatorID, fanID string) (int64, bool, error)
	RemoveFromQueue(ctx context.Context, creatorID, fanID string, reason models.RemoveReason) (models.RemoveResult, error)
	GetEntry(ctx context.Context, creatorID, fanID string) (*models.QueueEntry, error)
	List(ctx context.Context, creatorID string) ([]models.QueueEntry, error)
	Front(ctx context.Context, creatorID string) (string, error)
	ClearQueue(ctx context.Context, creatorID string) ([]string, error)
}

type ConsentStore interface {
	Transition(ctx context.Context, creatorID, fanID string, to models.EntryState, from []models.EntryState, holdUntil time.Time) (store.TransitionCode, models.EntryState, error)
	Snooze(ctx context.Context, creatorID, fanID string) (store.SnoozeCode, int64, error)
	GetEntry(ctx context.Context, creatorID, fanID string) (*models.QueueEntry, error)
	Front(ctx context.Context, creatorID string) (string, error)
	Creators(ctx context.Context) ([]string, error)
	ExpiredHolds(ctx context.Context, creatorID string, now time.Time) ([]string, error)
	SetSMSRoute(ctx context.Context, phone string, route store.SMSRoute, ttl time.Duration) error
	GetSMSRoute(ctx context.Context, phone string) (*store.SMSRoute, error)
	ConfirmSMSRoute(ctx context.Context, phone, code string) (store.ConfirmCode, error)
	ClaimDelivery(ctx context.Context, messageSID string) (bool, string, error)
	SaveDeliveryReply(ctx context.Context, messageSID, reply string) error
}

type SessionStore interface {
	GetEntry(ctx context.Context, creatorID, fanID string) (*models.QueueEntry, error)
	CreateSession(ctx context.Context, creatorID, fanID string) (string, error)
	ActivateSession(ctx context.Context, sessionID string) (store.ActivateCode, error)
	EndSession(ctx context.Context, sessionID, creatorID string) (bool, int64, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
}

type SettlementStore interface {
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	SubmitRating(ctx context.Context, r models.RatingRecord) error
	TransferFunds(ctx context.Context, tip models.TipTransfer) (string, bool, error)
	TransferAmount(ctx context.Context, transferID string) (int64, error)
}

// Publisher is the outbound half of the realtime mesh.
type Publisher interface {
	Publish(ctx context.Context, channel string, msg any) error
}

// Topics names realtime channels.
type Topics interface {
	Topic(creatorID string) string
	FanTopic(fanID string) string
}

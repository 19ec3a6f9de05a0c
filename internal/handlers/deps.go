package handlers

import (
	"context"

	"consult-queue/models"
)

type QueueCoordinator interface {
	Admit(ctx context.Context, creatorID, fanID string) (int64, error)
	RemoveFromQueue(ctx context.Context, creatorID, fanID string, reason models.RemoveReason) (models.RemoveResult, error)
	Position(ctx context.Context, creatorID, fanID string) (*models.QueueEntry, error)
	List(ctx context.Context, creatorID string) (*models.QueueSnapshot, error)
	ClearQueue(ctx context.Context, creatorID, actor string) ([]string, error)
}

type ConsentHandshake interface {
	Acknowledge(ctx context.Context, creatorID, fanID string) (models.EntryState, error)
	OptInSMS(ctx context.Context, creatorID string, req models.SMSOptInRequest) (string, error)
	HandleSMS(ctx context.Context, msg models.InboundSMS) (string, error)
}

type SessionCoordinator interface {
	StartSession(ctx context.Context, req models.StartSessionRequest) (*models.Session, error)
	Reconnect(ctx context.Context, sessionID string) (*models.Session, error)
	IssueCredential(ctx context.Context, sessionID string, req models.CredentialRequest) (*models.MediaCredential, error)
	EndSession(ctx context.Context, sessionID string, role models.Role) (*models.EndResult, error)
}

type SettlementCoordinator interface {
	SubmitAll(ctx context.Context, sessionID string, req models.SettlementRequest) (*models.SettlementOutcome, error)
}

type ChannelResolver interface {
	ResolveCreator(ctx context.Context, rawID string) (string, models.ChannelTopic)
}

type ChannelWatcher interface {
	Watch(ctx context.Context, rawID string) (models.ChannelTopic, error)
	Unwatch(ctx context.Context, rawID string) error
}

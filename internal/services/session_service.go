package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"consult-queue/internal/logging"
	"consult-queue/internal/media"
	"consult-queue/internal/status"
	"consult-queue/internal/store"
	"consult-queue/models"
	"consult-queue/monitoring"
)

// Archiver keeps a history record of ended sessions.
type Archiver interface {
	ArchiveSession(ctx context.Context, session *models.Session) error
}

type SessionConfig struct {
	CreatorHomePath string
	FanQueuePath    string
}

// SessionService creates, activates and ends sessions. Each step of ending a
// session stands on its own: only the status update decides whether the
// session ended.
type SessionService struct {
	store     SessionStore
	queue     *QueueService
	consent   *ConsentService
	issuer    media.Issuer
	connector media.Connector
	notify    *Notifier
	archiver  Archiver
	monitor   *monitoring.Monitor
	cfg       SessionConfig
}

func NewSessionService(store SessionStore, queue *QueueService, consent *ConsentService, issuer media.Issuer, connector media.Connector, notify *Notifier, monitor *monitoring.Monitor, cfg SessionConfig) *SessionService {
	return &SessionService{
		store:     store,
		queue:     queue,
		consent:   consent,
		issuer:    issuer,
		connector: connector,
		notify:    notify,
		monitor:   monitor,
		cfg:       cfg,
	}
}

func (s *SessionService) SetArchiver(a Archiver) {
	s.archiver = a
}

// StartSession opens a session for a READY fan and brings up media. When the
// media handshake fails the session stays PENDING and is returned together
// with the error so the caller can retry through Reconnect.
func (s *SessionService) StartSession(ctx context.Context, req models.StartSessionRequest) (*models.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	entry, err := s.store.GetEntry(ctx, req.CreatorID, req.FanID)
	if errors.Is(err, status.ErrNotFound) {
		return nil, fmt.Errorf("fan %s is not queued for %s: %w", req.FanID, req.CreatorID, status.ErrNotReady)
	}
	if err != nil {
		return nil, err
	}
	if entry.State != models.StateReady {
		return nil, fmt.Errorf("fan %s is %s: %w", req.FanID, entry.State, status.ErrNotReady)
	}

	sessionID, err := s.store.CreateSession(ctx, req.CreatorID, req.FanID)
	s.monitor.TrackSessionTransition("create", err)
	if err != nil {
		if errors.Is(err, status.ErrSessionActive) {
			slog.WarnContext(ctx, "session already open for creator",
				"creator_id", req.CreatorID, "open_session_id", sessionID)
		}
		return nil, err
	}

	session := &models.Session{
		ID:        sessionID,
		CreatorID: req.CreatorID,
		FanID:     req.FanID,
		Status:    models.SessionPending,
	}
	logging.Event(ctx, slog.LevelInfo, "session_created",
		"session_id", sessionID, "creator_id", req.CreatorID, "fan_id", req.FanID)

	if err := s.establish(ctx, session); err != nil {
		return session, err
	}
	return s.activate(ctx, session)
}

// Reconnect retries media for a PENDING session with a fresh credential.
func (s *SessionService) Reconnect(ctx context.Context, sessionID string) (*models.Session, error) {
	if err := models.ValidateID("session_id", sessionID); err != nil {
		return nil, err
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch session.Status {
	case models.SessionActive:
		return session, nil
	case models.SessionEnded:
		return session, fmt.Errorf("session %s has ended: %w", sessionID, status.ErrInvalidTransition)
	}

	if err := s.establish(ctx, session); err != nil {
		return session, err
	}
	return s.activate(ctx, session)
}

// IssueCredential mints a credential for one participant of a live session.
// Credentials are never reused.
func (s *SessionService) IssueCredential(ctx context.Context, sessionID string, req models.CredentialRequest) (*models.MediaCredential, error) {
	if err := models.ValidateID("session_id", sessionID); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionEnded {
		return nil, fmt.Errorf("session %s has ended: %w", sessionID, status.ErrInvalidTransition)
	}

	participant := session.FanID
	if req.Role == models.RoleCreator {
		participant = session.CreatorID
	}
	if req.Identity != participant {
		return nil, fmt.Errorf("%s is not the %s of session %s: %w", req.Identity, req.Role, sessionID, status.ErrUnauthorized)
	}

	return s.issuer.RequestCredential(ctx, req.Role, session.CreatorID, req.Identity)
}

func (s *SessionService) establish(ctx context.Context, session *models.Session) error {
	cred, err := s.issuer.RequestCredential(ctx, models.RoleCreator, session.CreatorID, session.CreatorID)
	if err != nil {
		s.monitor.TrackSessionTransition("media", err)
		slog.WarnContext(ctx, "media credential request failed",
			"session_id", session.ID, "error", err)
		return fmt.Errorf("session %s: request credential: %w", session.ID, err)
	}

	conn, err := s.connector.Connect(ctx, cred)
	if err == nil {
		err = s.connector.Publish(ctx, conn, cred)
	}
	s.monitor.TrackSessionTransition("media", err)
	if err != nil {
		slog.WarnContext(ctx, "media handshake failed, session left pending",
			"session_id", session.ID, "error", err)
		if !errors.Is(err, status.ErrMediaNegotiation) && !errors.Is(err, status.ErrUnauthorized) {
			err = fmt.Errorf("%w: %w", status.ErrMediaNegotiation, err)
		}
		return fmt.Errorf("session %s: %w", session.ID, err)
	}
	return nil
}

func (s *SessionService) activate(ctx context.Context, session *models.Session) (*models.Session, error) {
	code, err := s.store.ActivateSession(ctx, session.ID)
	s.monitor.TrackSessionTransition("activate", err)
	if err != nil {
		return session, err
	}
	switch code {
	case store.ActivateMissing:
		return session, fmt.Errorf("session %s: %w", session.ID, status.ErrNotFound)
	case store.ActivateEnded:
		return session, fmt.Errorf("session %s ended before activation: %w", session.ID, status.ErrInvalidTransition)
	}

	if err := s.consent.MarkInSession(ctx, session.CreatorID, session.FanID); err != nil {
		slog.WarnContext(ctx, "queue entry not marked in session",
			"session_id", session.ID, "fan_id", session.FanID, "error", err)
	}

	if code == store.ActivateApplied {
		logging.Event(ctx, slog.LevelInfo, "session_started",
			"session_id", session.ID, "creator_id", session.CreatorID, "fan_id", session.FanID)
		s.notify.Both(ctx, session.CreatorID, session.FanID, models.Notification{
			Type:      NoticeSessionStarted,
			SessionID: session.ID,
		})
	}

	fresh, err := s.store.GetSession(ctx, session.ID)
	if err != nil {
		session.Status = models.SessionActive
		return session, nil
	}
	return fresh, nil
}

// EndSession ends a session for either participant and tells the caller
// where to navigate next. Ending an ENDED session succeeds without changes.
func (s *SessionService) EndSession(ctx context.Context, sessionID string, role models.Role) (*models.EndResult, error) {
	if err := models.ValidateID("session_id", sessionID); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, status.Invalid("role", "must be creator or fan")
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	result := &models.EndResult{
		SessionID:      sessionID,
		NavigationPath: s.navigation(role, session.CreatorID),
	}

	if session.Status == models.SessionEnded {
		result.Ended = true
		result.AlreadyEnded = true
		result.DurationSeconds = session.DurationSeconds
		return result, nil
	}

	// The status update and the queue removal run independently; only Ended
	// depends on the status update.
	ended, duration, endErr := s.store.EndSession(ctx, sessionID, session.CreatorID)
	s.monitor.TrackSessionTransition("end", endErr)
	if endErr != nil {
		logging.Event(ctx, slog.LevelError, "session_end_failed",
			"session_id", sessionID, "role", role, "error", endErr)
	}

	if _, err := s.queue.RemoveFromQueue(ctx, session.CreatorID, session.FanID, models.ReasonSessionEnded); err != nil {
		slog.WarnContext(ctx, "queue entry left for reconciliation",
			"session_id", sessionID, "fan_id", session.FanID, "error", err)
	}

	if endErr != nil {
		return result, endErr
	}
	result.Ended = true
	result.AlreadyEnded = !ended
	result.DurationSeconds = duration

	if ended {
		s.monitor.ObserveSessionDuration(duration)
		logging.Event(ctx, slog.LevelInfo, "session_ended",
			"session_id", sessionID, "ended_by", role, "duration_seconds", duration)
		s.notify.Both(ctx, session.CreatorID, session.FanID, models.Notification{
			Type:      NoticeSessionEnded,
			SessionID: sessionID,
			Data:      map[string]any{"ended_by": string(role), "duration_seconds": duration},
		})
		s.archive(ctx, sessionID)
	}
	return result, nil
}

func (s *SessionService) archive(ctx context.Context, sessionID string) {
	if s.archiver == nil {
		return
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err == nil {
		err = s.archiver.ArchiveSession(ctx, session)
	}
	if err != nil {
		slog.WarnContext(ctx, "session not archived", "session_id", sessionID, "error", err)
	}
}

func (s *SessionService) navigation(role models.Role, creatorID string) string {
	if role == models.RoleCreator {
		return s.cfg.CreatorHomePath
	}
	if strings.Contains(s.cfg.FanQueuePath, "%s") {
		return fmt.Sprintf(s.cfg.FanQueuePath, creatorID)
	}
	return strings.TrimRight(s.cfg.FanQueuePath, "/") + "/" + creatorID
}

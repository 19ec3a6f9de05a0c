package services

import (
	"context"
	"fmt"
	"log/slog"

	"consult-queue/internal/events"
	"consult-queue/internal/logging"
	"consult-queue/internal/status"
	"consult-queue/models"
	"consult-queue/monitoring"
)

// QueueService owns admission to and removal from creator queues. Ordering
// is decided by the store; nothing here caches positions.
type QueueService struct {
	store   QueueStore
	notify  *Notifier
	bus     *events.Bus
	monitor *monitoring.Monitor
}

func NewQueueService(store QueueStore, notify *Notifier, bus *events.Bus, monitor *monitoring.Monitor) *QueueService {
	return &QueueService{
		store:   store,
		notify:  notify,
		bus:     bus,
		monitor: monitor,
	}
}

func validatePair(creatorID, fanID string) error {
	if err := models.ValidateID("creator_id", creatorID); err != nil {
		return err
	}
	if err := models.ValidateID("fan_id", fanID); err != nil {
		return err
	}
	if creatorID == fanID {
		return status.Invalid("fan_id", "must differ from creator_id")
	}
	return nil
}

// Admit puts fanID in creatorID's queue and returns its position. Admitting a
// fan that is already queued returns the current position.
func (s *QueueService) Admit(ctx context.Context, creatorID, fanID string) (int64, error) {
	if err := validatePair(creatorID, fanID); err != nil {
		return 0, err
	}

	position, created, err := s.store.Enqueue(ctx, creatorID, fanID)
	s.monitor.TrackQueueOperation("admit", err)
	if err != nil {
		return 0, err
	}

	logging.Event(ctx, slog.LevelInfo, "queue_admitted",
		"creator_id", creatorID, "fan_id", fanID, "position", position, "created", created)

	if created {
		s.notify.Creator(ctx, creatorID, models.Notification{
			Type:  NoticeQueueJoined,
			FanID: fanID,
			Data:  map[string]any{"position": position},
		})
	}
	s.notify.Fan(ctx, fanID, models.Notification{
		Type:      NoticeQueuePosition,
		CreatorID: creatorID,
		Data:      map[string]any{"position": position},
	})
	return position, nil
}

// RemoveFromQueue is idempotent: a fan who is no longer queued still yields
// Success with RemovedWasFront=false. Backend failures are returned as-is.
func (s *QueueService) RemoveFromQueue(ctx context.Context, creatorID, fanID string, reason models.RemoveReason) (models.RemoveResult, error) {
	if err := validatePair(creatorID, fanID); err != nil {
		return models.RemoveResult{}, err
	}
	if !reason.Valid() {
		return models.RemoveResult{}, status.Invalid("reason", "is not a known removal reason")
	}

	res, err := s.store.RemoveFromQueue(ctx, creatorID, fanID, reason)
	s.monitor.TrackQueueOperation("remove", err)
	if err != nil {
		logging.Event(ctx, slog.LevelError, "queue_remove_failed",
			"creator_id", creatorID, "fan_id", fanID, "reason", reason, "error", err)
		return res, err
	}

	logging.Event(ctx, slog.LevelInfo, "queue_removed",
		"creator_id", creatorID, "fan_id", fanID, "reason", reason,
		"removed", res.Removed, "removed_was_front", res.RemovedWasFront)

	if res.RemovedWasFront {
		s.monitor.TrackFrontChange()
	}
	if s.bus != nil {
		s.bus.Publish(models.FrontChanged{
			CreatorID:       creatorID,
			RemovedFanID:    fanID,
			RemovedWasFront: res.RemovedWasFront,
		})
	}
	if res.Removed {
		s.notify.Both(ctx, creatorID, fanID, models.Notification{
			Type: NoticeQueueLeft,
			Data: map[string]any{"reason": string(reason)},
		})
	}
	return res, nil
}

func (s *QueueService) Position(ctx context.Context, creatorID, fanID string) (*models.QueueEntry, error) {
	if err := validatePair(creatorID, fanID); err != nil {
		return nil, err
	}
	return s.store.GetEntry(ctx, creatorID, fanID)
}

func (s *QueueService) List(ctx context.Context, creatorID string) (*models.QueueSnapshot, error) {
	if err := models.ValidateID("creator_id", creatorID); err != nil {
		return nil, err
	}

	entries, err := s.store.List(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	return &models.QueueSnapshot{
		CreatorID: creatorID,
		Total:     len(entries),
		Entries:   entries,
	}, nil
}

// ClearQueue empties a creator's queue. It is an operator action and always
// carries the name of whoever ran it.
func (s *QueueService) ClearQueue(ctx context.Context, creatorID, actor string) ([]string, error) {
	if err := models.ValidateID("creator_id", creatorID); err != nil {
		return nil, err
	}
	if actor == "" {
		return nil, status.Invalid("actor", "is required")
	}

	fans, err := s.store.ClearQueue(ctx, creatorID)
	s.monitor.TrackQueueOperation("clear", err)
	if err != nil {
		return nil, fmt.Errorf("clear queue %s: %w", creatorID, err)
	}

	logging.Event(ctx, slog.LevelWarn, "queue_cleared",
		"creator_id", creatorID, "actor", actor, "removed", len(fans))

	for _, fanID := range fans {
		s.notify.Fan(ctx, fanID, models.Notification{
			Type:      NoticeQueueLeft,
			CreatorID: creatorID,
			Data:      map[string]any{"reason": string(models.ReasonCreatorRemoved)},
		})
	}
	return fans, nil
}

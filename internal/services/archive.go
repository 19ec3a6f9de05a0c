package services

import (
	"context"
	"fmt"

	"consult-queue/models"

	"github.com/pocketbase/pocketbase/core"
)

const SessionArchiveCollection = "consult_sessions"

// RecordArchiver stores ended sessions as PocketBase records.
type RecordArchiver struct {
	App core.App
}

func (a RecordArchiver) ArchiveSession(_ context.Context, session *models.Session) error {
	collection, err := a.App.FindCachedCollectionByNameOrId(SessionArchiveCollection)
	if err != nil {
		return fmt.Errorf("archive session %s: %w", session.ID, err)
	}

	record := core.NewRecord(collection)
	record.Set("session_id", session.ID)
	record.Set("creator_id", session.CreatorID)
	record.Set("fan_id", session.FanID)
	record.Set("status", string(session.Status))
	record.Set("created_at", session.CreatedAt)
	if session.StartedAt != nil {
		record.Set("started_at", *session.StartedAt)
	}
	if session.EndedAt != nil {
		record.Set("ended_at", *session.EndedAt)
	}
	record.Set("duration_seconds", session.DurationSeconds)

	if err := a.App.Save(record); err != nil {
		return fmt.Errorf("archive session %s: %w", session.ID, err)
	}
	return nil
}

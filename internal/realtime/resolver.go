package realtime

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"consult-queue/models"

	"github.com/google/uuid"
	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

const fanTopicPrefix = "fan-"

// MappingSource maps a generated identifier to a canonical creator id.
// An empty result with a nil error means "no mapping here".
type MappingSource interface {
	Name() string
	Lookup(ctx context.Context, rawID string) (string, error)
}

// SourceFunc adapts a lookup function into a MappingSource.
type SourceFunc struct {
	Label string
	Fn    func(ctx context.Context, rawID string) (string, error)
}

func (s SourceFunc) Name() string { return s.Label }

func (s SourceFunc) Lookup(ctx context.Context, rawID string) (string, error) {
	return s.Fn(ctx, rawID)
}

// CreatorRecordSource finds creators by the legacy id stored on their record.
type CreatorRecordSource struct {
	App core.App
}

func (s CreatorRecordSource) Name() string { return "creators" }

func (s CreatorRecordSource) Lookup(_ context.Context, rawID string) (string, error) {
	record, err := s.App.FindFirstRecordByFilter("creators", "legacy_id = {:id}", dbx.Params{"id": rawID})
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return record.Id, nil
}

// Resolver turns raw route or session identifiers into realtime topics.
type Resolver struct {
	prefix   string
	sources  []MappingSource
	sunset   time.Time
	now      func() time.Time
	onLegacy func()
}

// NewResolver consults sources in order. A zero sunset keeps the legacy
// secondary topic available indefinitely.
func NewResolver(prefix string, sunset time.Time, sources ...MappingSource) *Resolver {
	return &Resolver{
		prefix:  prefix,
		sources: sources,
		sunset:  sunset,
		now:     time.Now,
	}
}

// OnLegacy registers a callback run whenever a secondary topic is handed out.
func (r *Resolver) OnLegacy(fn func()) {
	r.onLegacy = fn
}

func (r *Resolver) Topic(id string) string {
	return r.prefix + id
}

func (r *Resolver) FanTopic(fanID string) string {
	return fanTopicPrefix + fanID
}

// Resolve never fails: any lookup problem degrades to using rawID as-is.
func (r *Resolver) Resolve(ctx context.Context, rawID string) models.ChannelTopic {
	_, topic := r.ResolveCreator(ctx, rawID)
	return topic
}

// ResolveCreator also returns the creator id the primary topic is keyed by.
func (r *Resolver) ResolveCreator(ctx context.Context, rawID string) (string, models.ChannelTopic) {
	asIs := models.ChannelTopic{Primary: r.Topic(rawID)}
	if !isGeneratedID(rawID) {
		return rawID, asIs
	}

	canonical := r.lookup(ctx, rawID)
	if canonical == "" || canonical == rawID {
		return rawID, asIs
	}

	topic := models.ChannelTopic{Primary: r.Topic(canonical)}
	if r.legacyOpen() {
		topic.Secondary = r.Topic(rawID)
		if r.onLegacy != nil {
			r.onLegacy()
		}
	}
	return canonical, topic
}

func (r *Resolver) lookup(ctx context.Context, rawID string) string {
	for _, src := range r.sources {
		canonical, err := src.Lookup(ctx, rawID)
		if err != nil {
			slog.Warn("channel mapping lookup failed, trying next source",
				"source", src.Name(), "raw_id", rawID, "error", err)
			continue
		}
		if canonical != "" {
			return canonical
		}
	}
	return ""
}

func (r *Resolver) legacyOpen() bool {
	return r.sunset.IsZero() || r.now().Before(r.sunset)
}

// isGeneratedID matches the canonical 36-character UUIDv4 form only.
func isGeneratedID(raw string) bool {
	if len(raw) != 36 {
		return false
	}
	id, err := uuid.Parse(raw)
	return err == nil && id.Version() == 4
}

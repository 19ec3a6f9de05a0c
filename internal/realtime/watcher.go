package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"consult-queue/models"
)

type WatchStore interface {
	AddWatched(ctx context.Context, creatorID, rawID string) error
	RemoveWatched(ctx context.Context, creatorID string) error
	Watched(ctx context.Context) ([]string, error)
}

// SignalHandler receives validated client signals from a creator's topics.
type SignalHandler interface {
	HandleSignal(ctx context.Context, creatorID string, sig models.Signal) error
}

// Watcher keeps one guarded subscription per live creator and routes inbound
// client signals to the handler.
type Watcher struct {
	resolver *Resolver
	guard    *Guard
	mesh     Mesh
	store    WatchStore
	handler  SignalHandler

	mu      sync.Mutex
	handles map[string]*Handle
	topics  map[string]string
}

func NewWatcher(resolver *Resolver, guard *Guard, mesh Mesh, store WatchStore) *Watcher {
	return &Watcher{
		resolver: resolver,
		guard:    guard,
		mesh:     mesh,
		store:    store,
		handles:  make(map[string]*Handle),
		topics:   make(map[string]string),
	}
}

func (w *Watcher) SetHandler(h SignalHandler) {
	w.handler = h
}

// Watch subscribes to the creator's resolved topics. Watching an already
// watched creator returns the existing topics.
func (w *Watcher) Watch(ctx context.Context, rawID string) (models.ChannelTopic, error) {
	creatorID, topic := w.resolver.ResolveCreator(ctx, rawID)

	w.mu.Lock()
	if h, ok := w.handles[creatorID]; ok && h.Active() {
		w.mu.Unlock()
		return topicFromHandle(h), nil
	}

	handle, err := w.guard.Subscribe(w.mesh, topic.Topics())
	if err != nil {
		w.mu.Unlock()
		return models.ChannelTopic{}, fmt.Errorf("subscribe %s: %w", creatorID, err)
	}
	w.handles[creatorID] = handle
	for _, t := range topic.Topics() {
		w.topics[t] = creatorID
	}
	w.mu.Unlock()

	if err := w.store.AddWatched(ctx, creatorID, rawID); err != nil {
		slog.Error("failed to persist watched creator", "creator_id", creatorID, "error", err)
		return topic, err
	}

	slog.Info("watching creator", "creator_id", creatorID, "primary", topic.Primary, "secondary", topic.Secondary)
	return topic, nil
}

// Unwatch is the only path that tears down a creator subscription.
func (w *Watcher) Unwatch(ctx context.Context, rawID string) error {
	creatorID, _ := w.resolver.ResolveCreator(ctx, rawID)

	w.mu.Lock()
	handle, ok := w.handles[creatorID]
	if ok {
		delete(w.handles, creatorID)
		for _, t := range handle.Channels() {
			delete(w.topics, t)
		}
	}
	w.mu.Unlock()

	if ok {
		_ = w.guard.WithTeardownAllowed(ctx, func(ctx context.Context) error {
			handle.Teardown(ctx)
			return nil
		})
	}

	return w.store.RemoveWatched(ctx, creatorID)
}

// Restore re-subscribes every creator that was being watched before a restart.
// Creators are re-watched by the raw id they were first watched with, so an
// open legacy topic is subscribed again.
func (w *Watcher) Restore(ctx context.Context) error {
	ids, err := w.store.Watched(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if _, err := w.Watch(ctx, id); err != nil {
			slog.Error("failed to restore watch", "raw_id", id, "error", err)
		}
	}
	slog.Info("restored watched creators", "count", len(ids))
	return nil
}

func (w *Watcher) Handle(creatorID string) (*Handle, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, ok := w.handles[creatorID]
	return h, ok
}

// Dispatch routes one inbound message. Malformed payloads are dropped.
func (w *Watcher) Dispatch(ctx context.Context, in Inbound) {
	w.mu.Lock()
	creatorID, ok := w.topics[in.Channel]
	w.mu.Unlock()
	if !ok || w.handler == nil {
		return
	}

	sig, err := decodeSignal(in.Payload)
	if err != nil {
		slog.Debug("ignoring realtime message", "channel", in.Channel, "error", err)
		return
	}

	if err := w.handler.HandleSignal(ctx, creatorID, sig); err != nil {
		slog.Warn("realtime signal not applied",
			"creator_id", creatorID, "fan_id", sig.FanID, "type", sig.Type, "error", err)
	}
}

// Shutdown tears down every subscription without forgetting the watch list,
// so Restore picks them up on the next boot.
func (w *Watcher) Shutdown(ctx context.Context) {
	w.mu.Lock()
	handles := make([]*Handle, 0, len(w.handles))
	for _, h := range w.handles {
		handles = append(handles, h)
	}
	w.handles = make(map[string]*Handle)
	w.topics = make(map[string]string)
	w.mu.Unlock()

	_ = w.guard.WithTeardownAllowed(ctx, func(ctx context.Context) error {
		for _, h := range handles {
			h.Teardown(ctx)
		}
		return nil
	})
}

func decodeSignal(payload any) (models.Signal, error) {
	var raw []byte
	switch p := payload.(type) {
	case string:
		raw = []byte(p)
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return models.Signal{}, err
		}
		raw = b
	}

	var sig models.Signal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return models.Signal{}, err
	}
	if err := sig.Validate(); err != nil {
		return models.Signal{}, err
	}
	return sig, nil
}

func topicFromHandle(h *Handle) models.ChannelTopic {
	ch := h.Channels()
	topic := models.ChannelTopic{Primary: ch[0]}
	if len(ch) > 1 {
		topic.Secondary = ch[1]
	}
	return topic
}

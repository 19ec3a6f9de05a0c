package handlers

import (
	"net/http"

	"consult-queue/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type ChannelHandler struct {
	resolver ChannelResolver
	watcher  ChannelWatcher
}

func NewChannelHandler(resolver ChannelResolver, watcher ChannelWatcher) *ChannelHandler {
	return &ChannelHandler{resolver: resolver, watcher: watcher}
}

// Resolve - GET /api/v1/channels/resolve?id=
func (h *ChannelHandler) Resolve(e *core.RequestEvent) error {
	rawID := e.Request.URL.Query().Get("id")
	if err := models.ValidateID("id", rawID); err != nil {
		return apis.NewBadRequestError(err.Error(), nil)
	}

	creatorID, topic := h.resolver.ResolveCreator(e.Request.Context(), rawID)
	return e.JSON(http.StatusOK, map[string]any{
		"creator_id": creatorID,
		"primary":    topic.Primary,
		"secondary":  topic.Secondary,
		"topics":     topic.Topics(),
	})
}

// Watch - POST /api/v1/creators/{creatorId}/watch
func (h *ChannelHandler) Watch(e *core.RequestEvent) error {
	rawID, err := pathID(e, "creatorId")
	if err != nil {
		return err
	}

	topic, err := h.watcher.Watch(e.Request.Context(), rawID)
	if err != nil {
		return apiError(e, err)
	}
	return e.JSON(http.StatusOK, topic)
}

// Unwatch - DELETE /api/v1/creators/{creatorId}/watch
func (h *ChannelHandler) Unwatch(e *core.RequestEvent) error {
	rawID, err := pathID(e, "creatorId")
	if err != nil {
		return err
	}

	if err := h.watcher.Unwatch(e.Request.Context(), rawID); err != nil {
		return apiError(e, err)
	}
	return e.NoContent(http.StatusNoContent)
}

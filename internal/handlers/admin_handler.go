package handlers

import (
	"net/http"

	"consult-queue/internal/logging"
	"consult-queue/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type AdminHandler struct {
	queue QueueCoordinator
}

func NewAdminHandler(queue QueueCoordinator) *AdminHandler {
	return &AdminHandler{queue: queue}
}

func (h *AdminHandler) requireAdmin(e *core.RequestEvent) error {
	if e.HasSuperuserAuth() {
		return nil
	}
	logging.LogSecurityEvent(e.Request.Context(), logging.SecurityEventNonAdminAccess,
		"admin route refused", "path", e.Request.URL.Path)
	return apis.NewForbiddenError("Admin access required", nil)
}

func actorOf(e *core.RequestEvent) string {
	if e.Auth == nil {
		return ""
	}
	if email := e.Auth.Email(); email != "" {
		return email
	}
	return e.Auth.Id
}

// ListQueue - GET /api/v1/admin/queues/{creatorId}
func (h *AdminHandler) ListQueue(e *core.RequestEvent) error {
	if err := h.requireAdmin(e); err != nil {
		return err
	}
	creatorID, err := pathID(e, "creatorId")
	if err != nil {
		return err
	}

	snapshot, err := h.queue.List(e.Request.Context(), creatorID)
	if err != nil {
		return apiError(e, err)
	}
	return e.JSON(http.StatusOK, snapshot)
}

// ClearQueue - POST /api/v1/admin/queues/{creatorId}/clear
func (h *AdminHandler) ClearQueue(e *core.RequestEvent) error {
	if err := h.requireAdmin(e); err != nil {
		return err
	}
	creatorID, err := pathID(e, "creatorId")
	if err != nil {
		return err
	}

	removed, err := h.queue.ClearQueue(e.Request.Context(), creatorID, actorOf(e))
	if err != nil {
		return apiError(e, err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"creator_id":    creatorID,
		"removed_count": len(removed),
		"removed":       removed,
	})
}

// RemoveFromQueue - POST /api/v1/admin/remove-from-queue
func (h *AdminHandler) RemoveFromQueue(e *core.RequestEvent) error {
	if err := h.requireAdmin(e); err != nil {
		return err
	}
	var req models.AdminRemoveRequest
	if err := bind(e, &req); err != nil {
		return err
	}

	result, err := h.queue.RemoveFromQueue(e.Request.Context(), req.CreatorID, req.FanID, req.Reason)
	if err != nil {
		return apiError(e, err)
	}
	return e.JSON(http.StatusOK, result)
}

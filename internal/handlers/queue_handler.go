package handlers

import (
	"net/http"

	"consult-queue/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type QueueHandler struct {
	queue   QueueCoordinator
	consent ConsentHandshake
}

func NewQueueHandler(queue QueueCoordinator, consent ConsentHandshake) *QueueHandler {
	return &QueueHandler{
		queue:   queue,
		consent: consent,
	}
}

// Join - POST /api/v1/queue/{creatorId}/join
func (h *QueueHandler) Join(e *core.RequestEvent) error {
	creatorID, err := pathID(e, "creatorId")
	if err != nil {
		return err
	}
	var req models.FanRequest
	if err := bind(e, &req); err != nil {
		return err
	}

	position, err := h.queue.Admit(e.Request.Context(), creatorID, req.FanID)
	if err != nil {
		return apiError(e, err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"creator_id": creatorID,
		"fan_id":     req.FanID,
		"position":   position,
	})
}

// Leave - POST /api/v1/queue/{creatorId}/leave
func (h *QueueHandler) Leave(e *core.RequestEvent) error {
	creatorID, err := pathID(e, "creatorId")
	if err != nil {
		return err
	}
	var req models.FanRequest
	if err := bind(e, &req); err != nil {
		return err
	}

	result, err := h.queue.RemoveFromQueue(e.Request.Context(), creatorID, req.FanID, models.ReasonManualLeave)
	if err != nil {
		return apiError(e, err)
	}
	return e.JSON(http.StatusOK, result)
}

// Position - GET /api/v1/queue/{creatorId}/position?fan_id=
func (h *QueueHandler) Position(e *core.RequestEvent) error {
	creatorID, err := pathID(e, "creatorId")
	if err != nil {
		return err
	}
	fanID := e.Request.URL.Query().Get("fan_id")
	if err := models.ValidateID("fan_id", fanID); err != nil {
		return apis.NewBadRequestError(err.Error(), nil)
	}

	entry, err := h.queue.Position(e.Request.Context(), creatorID, fanID)
	if err != nil {
		return apiError(e, err)
	}
	return e.JSON(http.StatusOK, entry)
}

// Ready - POST /api/v1/queue/{creatorId}/ready
func (h *QueueHandler) Ready(e *core.RequestEvent) error {
	creatorID, err := pathID(e, "creatorId")
	if err != nil {
		return err
	}
	var req models.FanRequest
	if err := bind(e, &req); err != nil {
		return err
	}

	state, err := h.consent.Acknowledge(e.Request.Context(), creatorID, req.FanID)
	if err != nil {
		return apiError(e, err)
	}
	return e.JSON(http.StatusOK, map[string]any{"fan_id": req.FanID, "state": state})
}

// OptInSMS - POST /api/v1/queue/{creatorId}/sms
func (h *QueueHandler) OptInSMS(e *core.RequestEvent) error {
	creatorID, err := pathID(e, "creatorId")
	if err != nil {
		return err
	}
	var req models.SMSOptInRequest
	if err := bind(e, &req); err != nil {
		return err
	}

	code, err := h.consent.OptInSMS(e.Request.Context(), creatorID, req)
	if err != nil {
		return apiError(e, err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"message":           "SMS updates enabled",
		"verification_code": code,
	})
}

package handlers

import (
	"errors"
	"net/http"

	"consult-queue/internal/status"
	"consult-queue/models"

	"github.com/pocketbase/pocketbase/core"
)

type SessionHandler struct {
	sessions   SessionCoordinator
	settlement SettlementCoordinator
}

func NewSessionHandler(sessions SessionCoordinator, settlement SettlementCoordinator) *SessionHandler {
	return &SessionHandler{
		sessions:   sessions,
		settlement: settlement,
	}
}

// Start - POST /api/v1/sessions
func (h *SessionHandler) Start(e *core.RequestEvent) error {
	var req models.StartSessionRequest
	if err := bind(e, &req); err != nil {
		return err
	}

	session, err := h.sessions.StartSession(e.Request.Context(), req)
	if err != nil {
		return h.sessionError(e, session, err)
	}
	return e.JSON(http.StatusCreated, session)
}

// Connect - POST /api/v1/sessions/{id}/connect
func (h *SessionHandler) Connect(e *core.RequestEvent) error {
	sessionID, err := pathID(e, "id")
	if err != nil {
		return err
	}

	session, err := h.sessions.Reconnect(e.Request.Context(), sessionID)
	if err != nil {
		return h.sessionError(e, session, err)
	}
	return e.JSON(http.StatusOK, session)
}

// Credentials - POST /api/v1/sessions/{id}/credentials
func (h *SessionHandler) Credentials(e *core.RequestEvent) error {
	sessionID, err := pathID(e, "id")
	if err != nil {
		return err
	}
	var req models.CredentialRequest
	if err := bind(e, &req); err != nil {
		return err
	}

	cred, err := h.sessions.IssueCredential(e.Request.Context(), sessionID, req)
	if err != nil {
		return apiError(e, err)
	}
	return e.JSON(http.StatusOK, cred)
}

// End - POST /api/v1/sessions/{id}/end
func (h *SessionHandler) End(e *core.RequestEvent) error {
	sessionID, err := pathID(e, "id")
	if err != nil {
		return err
	}
	var req models.EndSessionRequest
	if err := bind(e, &req); err != nil {
		return err
	}

	result, err := h.sessions.EndSession(e.Request.Context(), sessionID, req.Role)
	if err != nil {
		if result != nil {
			// the client still needs somewhere to go
			return e.JSON(status.HTTPStatus(err), map[string]any{
				"message": err.Error(),
				"result":  result,
			})
		}
		return apiError(e, err)
	}
	return e.JSON(http.StatusOK, result)
}

// Settle - POST /api/v1/sessions/{id}/settlement
func (h *SessionHandler) Settle(e *core.RequestEvent) error {
	sessionID, err := pathID(e, "id")
	if err != nil {
		return err
	}
	var req models.SettlementRequest
	if err := bind(e, &req); err != nil {
		return err
	}

	outcome, err := h.settlement.SubmitAll(e.Request.Context(), sessionID, req)
	switch {
	case err == nil:
		return e.JSON(http.StatusOK, outcome)
	case errors.Is(err, status.ErrPartialSettlement):
		return e.JSON(http.StatusMultiStatus, outcome)
	default:
		return apiError(e, err)
	}
}

// sessionError keeps the PENDING session in the body when media failed so
// the client can retry through Connect.
func (h *SessionHandler) sessionError(e *core.RequestEvent, session *models.Session, err error) error {
	if session != nil && errors.Is(err, status.ErrMediaNegotiation) {
		return e.JSON(http.StatusBadGateway, map[string]any{
			"message": err.Error(),
			"session": session,
		})
	}
	return apiError(e, err)
}

package handlers

import (
	"log/slog"
	"net/http"

	"consult-queue/internal/status"
	"consult-queue/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// apiError converts a coordinator error into the PocketBase error response
// for its class. Server-side failures are logged and their text withheld.
func apiError(e *core.RequestEvent, err error) error {
	code := status.HTTPStatus(err)
	switch code {
	case http.StatusBadRequest:
		return apis.NewBadRequestError(err.Error(), nil)
	case http.StatusUnauthorized:
		return apis.NewUnauthorizedError(err.Error(), nil)
	case http.StatusNotFound:
		return apis.NewNotFoundError(err.Error(), nil)
	case http.StatusInternalServerError:
		slog.ErrorContext(e.Request.Context(), "request failed",
			"path", e.Request.URL.Path, "error", err)
		return apis.NewApiError(code, "Something went wrong while processing your request.", nil)
	default:
		return apis.NewApiError(code, err.Error(), nil)
	}
}

// bind decodes the body into req and runs its validation.
func bind[T interface{ Validate() error }](e *core.RequestEvent, req *T) error {
	if err := e.BindBody(req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}
	if err := (*req).Validate(); err != nil {
		return apis.NewBadRequestError(err.Error(), nil)
	}
	return nil
}

func pathID(e *core.RequestEvent, name string) (string, error) {
	id := e.Request.PathValue(name)
	if err := models.ValidateID(name, id); err != nil {
		return "", apis.NewBadRequestError(err.Error(), nil)
	}
	return id, nil
}

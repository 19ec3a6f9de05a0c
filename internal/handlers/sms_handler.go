package handlers

import (
	"bytes"
	"crypto/subtle"
	"encoding/xml"
	"log/slog"
	"net/http"

	"consult-queue/internal/logging"
	"consult-queue/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

const replyUnavailable = "We could not process your message right now. Please try again shortly."

// SenderLimiter throttles inbound messages per phone number.
type SenderLimiter interface {
	Allow(key string) bool
}

type SMSHandler struct {
	consent ConsentHandshake
	limiter SenderLimiter
	token   string
}

func NewSMSHandler(consent ConsentHandshake, limiter SenderLimiter, token string) *SMSHandler {
	return &SMSHandler{
		consent: consent,
		limiter: limiter,
		token:   token,
	}
}

// Inbound - POST /api/v1/sms/inbound?token=
//
// The provider posts a form and expects TwiML back. Keyword outcomes,
// including unknown senders, are always answered with 200 so the provider
// does not retry.
func (h *SMSHandler) Inbound(e *core.RequestEvent) error {
	ctx := e.Request.Context()

	given := e.Request.URL.Query().Get("token")
	if h.token == "" || subtle.ConstantTimeCompare([]byte(given), []byte(h.token)) != 1 {
		logging.LogSecurityEvent(ctx, logging.SecurityEventBadWebhookToken,
			"sms webhook rejected", "remote_addr", e.Request.RemoteAddr)
		return apis.NewUnauthorizedError("Invalid webhook token", nil)
	}

	if err := e.Request.ParseForm(); err != nil {
		return apis.NewBadRequestError("Invalid form body", err)
	}
	msg := models.InboundSMS{
		From:       e.Request.PostForm.Get("From"),
		Body:       e.Request.PostForm.Get("Body"),
		MessageSID: e.Request.PostForm.Get("MessageSid"),
	}
	if err := msg.Validate(); err != nil {
		return apis.NewBadRequestError(err.Error(), nil)
	}

	phone, _ := models.NormalizePhone(msg.From)
	if h.limiter != nil && !h.limiter.Allow(phone) {
		logging.LogSecurityEvent(ctx, logging.SecurityEventRateLimited,
			"sms sender throttled", "message_sid", msg.MessageSID)
		return apis.NewTooManyRequestsError("Too many messages", nil)
	}

	reply, err := h.consent.HandleSMS(ctx, msg)
	if err != nil {
		slog.ErrorContext(ctx, "sms keyword failed", "message_sid", msg.MessageSID, "error", err)
		reply = replyUnavailable
	}
	return twiml(e, reply)
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

func twiml(e *core.RequestEvent, reply string) error {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(twimlResponse{Message: reply}); err != nil {
		return err
	}
	return e.Blob(http.StatusOK, "text/xml; charset=utf-8", buf.Bytes())
}

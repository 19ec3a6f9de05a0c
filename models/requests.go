package models

import (
	"regexp"
	"strings"

	"consult-queue/internal/status"
)

var (
	idPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

const (
	maxCommentLen   = 500
	maxTags         = 10
	maxTagLen       = 32
	minIdemKeyLen   = 8
	maxIdemKeyLen   = 128
	minRating       = 1
	maxRating       = 5
	maxIdentityLen  = 128
)

func ValidateID(field, v string) error {
	if v == "" {
		return status.Invalid(field, "is required")
	}
	if !idPattern.MatchString(v) {
		return status.Invalid(field, "has invalid characters or length")
	}
	return nil
}

// NormalizePhone strips common separators and checks E.164-ish shape.
func NormalizePhone(raw string) (string, error) {
	r := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	p := r.Replace(strings.TrimSpace(raw))
	if !phonePattern.MatchString(p) {
		return "", status.Invalid("phone", "is not a valid phone number")
	}
	if !strings.HasPrefix(p, "+") {
		p = "+" + p
	}
	return p, nil
}

type FanRequest struct {
	FanID string `json:"fan_id"`
}

func (r FanRequest) Validate() error {
	return ValidateID("fan_id", r.FanID)
}

type SMSOptInRequest struct {
	FanID string `json:"fan_id"`
	Phone string `json:"phone"`
}

func (r SMSOptInRequest) Validate() error {
	if err := ValidateID("fan_id", r.FanID); err != nil {
		return err
	}
	_, err := NormalizePhone(r.Phone)
	return err
}

type StartSessionRequest struct {
	CreatorID string `json:"creator_id"`
	FanID     string `json:"fan_id"`
}

func (r StartSessionRequest) Validate() error {
	if err := ValidateID("creator_id", r.CreatorID); err != nil {
		return err
	}
	if err := ValidateID("fan_id", r.FanID); err != nil {
		return err
	}
	if r.CreatorID == r.FanID {
		return status.Invalid("fan_id", "must differ from creator_id")
	}
	return nil
}

type CredentialRequest struct {
	Role     Role   `json:"role"`
	Identity string `json:"identity"`
}

func (r CredentialRequest) Validate() error {
	if !r.Role.Valid() {
		return status.Invalid("role", "must be creator or fan")
	}
	if r.Identity == "" || len(r.Identity) > maxIdentityLen {
		return status.Invalid("identity", "is required")
	}
	return nil
}

type EndSessionRequest struct {
	Role Role `json:"role"`
}

func (r EndSessionRequest) Validate() error {
	if !r.Role.Valid() {
		return status.Invalid("role", "must be creator or fan")
	}
	return nil
}

type RatingInput struct {
	RaterID     string   `json:"rater_id"`
	RatedUserID string   `json:"rated_user_id"`
	Rating      int      `json:"rating"`
	Comment     string   `json:"comment,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

func (r RatingInput) Record(sessionID string) RatingRecord {
	return RatingRecord{
		SessionID:   sessionID,
		RaterID:     r.RaterID,
		RatedUserID: r.RatedUserID,
		Rating:      r.Rating,
		Comment:     strings.TrimSpace(r.Comment),
		Tags:        r.Tags,
	}
}

func (r RatingRecord) Validate() error {
	if err := ValidateID("session_id", r.SessionID); err != nil {
		return err
	}
	if err := ValidateID("rater_id", r.RaterID); err != nil {
		return err
	}
	if err := ValidateID("rated_user_id", r.RatedUserID); err != nil {
		return err
	}
	if r.RaterID == r.RatedUserID {
		return status.Invalid("rated_user_id", "must differ from rater_id")
	}
	if r.Rating < minRating || r.Rating > maxRating {
		return status.Invalid("rating", "must be between 1 and 5")
	}
	if len(r.Comment) > maxCommentLen {
		return status.Invalid("comment", "is too long")
	}
	if len(r.Tags) > maxTags {
		return status.Invalid("tags", "has too many entries")
	}
	for _, tag := range r.Tags {
		if tag == "" || len(tag) > maxTagLen {
			return status.Invalid("tags", "contains an invalid tag")
		}
	}
	return nil
}

type TipInput struct {
	SenderID       string `json:"sender_id"`
	RecipientID    string `json:"recipient_id"`
	AmountSkips    int64  `json:"amount_skips"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (t TipInput) Transfer(sessionID string) TipTransfer {
	return TipTransfer{
		SessionID:      sessionID,
		SenderID:       t.SenderID,
		RecipientID:    t.RecipientID,
		AmountSkips:    t.AmountSkips,
		IdempotencyKey: t.IdempotencyKey,
	}
}

func (t TipTransfer) Validate() error {
	if err := ValidateID("session_id", t.SessionID); err != nil {
		return err
	}
	if err := ValidateID("sender_id", t.SenderID); err != nil {
		return err
	}
	if err := ValidateID("recipient_id", t.RecipientID); err != nil {
		return err
	}
	if t.SenderID == t.RecipientID {
		return status.Invalid("recipient_id", "must differ from sender_id")
	}
	if t.AmountSkips <= 0 {
		return status.Invalid("amount_skips", "must be positive")
	}
	if n := len(t.IdempotencyKey); n < minIdemKeyLen || n > maxIdemKeyLen {
		return status.Invalid("idempotency_key", "must be 8 to 128 characters")
	}
	return nil
}

type SettlementRequest struct {
	Rating *RatingInput `json:"rating,omitempty"`
	Tip    *TipInput    `json:"tip,omitempty"`
}

func (r SettlementRequest) Validate() error {
	if r.Rating == nil && r.Tip == nil {
		return status.Invalid("settlement", "requires a rating or a tip")
	}
	return nil
}

type AdminRemoveRequest struct {
	CreatorID string       `json:"creator_id"`
	FanID     string       `json:"fan_id"`
	Reason    RemoveReason `json:"reason"`
}

func (r AdminRemoveRequest) Validate() error {
	if err := ValidateID("creator_id", r.CreatorID); err != nil {
		return err
	}
	if err := ValidateID("fan_id", r.FanID); err != nil {
		return err
	}
	if !r.Reason.Valid() {
		return status.Invalid("reason", "is not a known removal reason")
	}
	return nil
}

func (s Signal) Validate() error {
	if s.Type != SignalReadyAck && s.Type != SignalLeave {
		return status.Invalid("type", "is not a known signal")
	}
	return ValidateID("fan_id", s.FanID)
}

// InboundSMS is the webhook form posted by the SMS provider.
type InboundSMS struct {
	From       string
	Body       string
	MessageSID string
}

func (m InboundSMS) Validate() error {
	if _, err := NormalizePhone(m.From); err != nil {
		return err
	}
	if m.MessageSID == "" {
		return status.Invalid("MessageSid", "is required")
	}
	return nil
}

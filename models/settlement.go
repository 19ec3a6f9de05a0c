package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RatingRecord is write-once per (SessionID, RaterID).
type RatingRecord struct {
	SessionID   string    `json:"session_id"`
	RaterID     string    `json:"rater_id"`
	RatedUserID string    `json:"rated_user_id"`
	Rating      int       `json:"rating"`
	Comment     string    `json:"comment,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type TipTransfer struct {
	SessionID      string `json:"session_id"`
	SenderID       string `json:"sender_id"`
	RecipientID    string `json:"recipient_id"`
	AmountSkips    int64  `json:"amount_skips"`
	IdempotencyKey string `json:"idempotency_key"`
}

type TransferReceipt struct {
	TransferID  string          `json:"transfer_id"`
	AmountSkips int64           `json:"amount_skips"`
	Value       decimal.Decimal `json:"value"`
	Duplicate   bool            `json:"duplicate"`
}

// SettlementOutcome reports each requested part separately so a partial
// success is visible to the caller.
type SettlementOutcome struct {
	RatingRequested bool             `json:"rating_requested"`
	RatingSaved     bool             `json:"rating_saved"`
	RatingError     string           `json:"rating_error,omitempty"`
	TipRequested    bool             `json:"tip_requested"`
	Tip             *TransferReceipt `json:"tip,omitempty"`
	TipError        string           `json:"tip_error,omitempty"`
}

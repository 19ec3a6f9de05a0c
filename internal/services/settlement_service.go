package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"consult-queue/internal/status"
	"consult-queue/models"
	"consult-queue/monitoring"

	"github.com/shopspring/decimal"
)

// SettlementService posts ratings and tips once a session has ended. The two
// are independent: one failing never undoes or blocks the other.
type SettlementService struct {
	store     SettlementStore
	skipValue decimal.Decimal
	monitor   *monitoring.Monitor
}

func NewSettlementService(store SettlementStore, skipValue decimal.Decimal, monitor *monitoring.Monitor) *SettlementService {
	return &SettlementService{
		store:     store,
		skipValue: skipValue,
		monitor:   monitor,
	}
}

// endedSession loads the session and checks both users took part in it.
func (s *SettlementService) endedSession(ctx context.Context, sessionID, a, b string) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != models.SessionEnded {
		return fmt.Errorf("session %s is %s: %w", sessionID, session.Status, status.ErrInvalidTransition)
	}

	participants := map[string]bool{session.CreatorID: true, session.FanID: true}
	if !participants[a] || !participants[b] {
		return status.Invalid("participants", "must both belong to the session")
	}
	return nil
}

// SubmitRating writes the rating once. A repeat by the same rater succeeds
// without changing the stored rating.
func (s *SettlementService) SubmitRating(ctx context.Context, r models.RatingRecord) error {
	err := s.submitRating(ctx, r)
	s.monitor.TrackSettlement("rating", err)
	return err
}

func (s *SettlementService) submitRating(ctx context.Context, r models.RatingRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if err := s.endedSession(ctx, r.SessionID, r.RaterID, r.RatedUserID); err != nil {
		return err
	}

	err := s.store.SubmitRating(ctx, r)
	if errors.Is(err, status.ErrDuplicateSubmission) {
		slog.InfoContext(ctx, "rating already submitted", "session_id", r.SessionID, "rater_id", r.RaterID)
		return nil
	}
	return err
}

// SubmitTip commits at most one transfer per idempotency key. Resubmitting a
// key returns the original receipt marked Duplicate.
func (s *SettlementService) SubmitTip(ctx context.Context, tip models.TipTransfer) (*models.TransferReceipt, error) {
	receipt, err := s.submitTip(ctx, tip)
	s.monitor.TrackSettlement("tip", err)
	return receipt, err
}

func (s *SettlementService) submitTip(ctx context.Context, tip models.TipTransfer) (*models.TransferReceipt, error) {
	if err := tip.Validate(); err != nil {
		return nil, err
	}
	if err := s.endedSession(ctx, tip.SessionID, tip.SenderID, tip.RecipientID); err != nil {
		return nil, err
	}

	transferID, duplicate, err := s.store.TransferFunds(ctx, tip)
	if err != nil {
		return nil, err
	}

	amount := tip.AmountSkips
	if duplicate {
		committed, err := s.store.TransferAmount(ctx, transferID)
		if err != nil {
			slog.WarnContext(ctx, "committed tip amount unavailable", "transfer_id", transferID, "error", err)
		} else {
			amount = committed
		}
	}

	return &models.TransferReceipt{
		TransferID:  transferID,
		AmountSkips: amount,
		Value:       decimal.NewFromInt(amount).Mul(s.skipValue),
		Duplicate:   duplicate,
	}, nil
}

// SubmitAll runs whichever of rating and tip are present. It fails unless
// every requested part succeeded; when some part did succeed the error
// matches status.ErrPartialSettlement and the outcome says what was saved.
func (s *SettlementService) SubmitAll(ctx context.Context, sessionID string, req models.SettlementRequest) (*models.SettlementOutcome, error) {
	if err := models.ValidateID("session_id", sessionID); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	out := &models.SettlementOutcome{}
	var errs []error
	succeeded := 0

	if req.Rating != nil {
		out.RatingRequested = true
		if err := s.SubmitRating(ctx, req.Rating.Record(sessionID)); err != nil {
			out.RatingError = err.Error()
			errs = append(errs, fmt.Errorf("rating: %w", err))
		} else {
			out.RatingSaved = true
			succeeded++
		}
	}

	if req.Tip != nil {
		out.TipRequested = true
		receipt, err := s.SubmitTip(ctx, req.Tip.Transfer(sessionID))
		if err != nil {
			out.TipError = err.Error()
			errs = append(errs, fmt.Errorf("tip: %w", err))
		} else {
			out.Tip = receipt
			succeeded++
		}
	}

	switch {
	case len(errs) == 0:
		return out, nil
	case succeeded > 0:
		return out, errors.Join(append([]error{status.ErrPartialSettlement}, errs...)...)
	default:
		return out, errors.Join(errs...)
	}
}

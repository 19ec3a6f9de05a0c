package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"consult-queue/internal/events"
	"consult-queue/internal/logging"
	"consult-queue/internal/status"
	"consult-queue/internal/store"
	"consult-queue/models"
	"consult-queue/monitoring"
	"consult-queue/utils"
)

type Keyword string

const (
	KeywordReady   Keyword = "READY"
	KeywordSnooze  Keyword = "SNOOZE"
	KeywordHold    Keyword = "HOLD"
	KeywordPass    Keyword = "PASS"
	KeywordUnknown Keyword = ""
)

const (
	ReplyReady      = "You're marked ready. The creator will start your session shortly."
	ReplySnooze     = "No problem, we moved you back in line."
	ReplyHold       = "We're holding your spot for %d minutes. Reply READY when you're set."
	ReplyPass       = "You've left the queue. Thanks for stopping by."
	ReplyNotQueued  = "You're not currently in a queue."
	ReplyHelp       = "Reply READY, SNOOZE, HOLD or PASS."
	ReplyInProgress = "Your session is already in progress."
	ReplyConfirmed  = "Your number is confirmed. Reply READY, SNOOZE, HOLD or PASS."
	ReplyConfirm    = "Reply with the code shown in the app to confirm your number."
	ReplyBadCode    = "That code doesn't match. Reply with the code shown in the app."
)

const (
	smsRouteTTL = 24 * time.Hour
	otpLength   = 6
)

type ConsentConfig struct {
	HoldGrace     time.Duration
	SweepInterval time.Duration
	PromptTimeout time.Duration
}

// ConsentService runs the readiness handshake for queue entries. The UI
// acknowledgement, realtime signals and SMS keywords all land on the same
// store transitions, so a repeated message has no further effect.
type ConsentService struct {
	store   ConsentStore
	queue   *QueueService
	notify  *Notifier
	bus     *events.Bus
	monitor *monitoring.Monitor
	cfg     ConsentConfig
	now     func() time.Time
}

func NewConsentService(store ConsentStore, queue *QueueService, notify *Notifier, bus *events.Bus, monitor *monitoring.Monitor, cfg ConsentConfig) *ConsentService {
	return &ConsentService{
		store:   store,
		queue:   queue,
		notify:  notify,
		bus:     bus,
		monitor: monitor,
		cfg:     cfg,
		now:     time.Now,
	}
}

func ParseKeyword(body string) Keyword {
	fields := strings.Fields(body)
	if len(fields) != 1 {
		return KeywordUnknown
	}
	switch kw := Keyword(strings.ToUpper(fields[0])); kw {
	case KeywordReady, KeywordSnooze, KeywordHold, KeywordPass:
		return kw
	}
	return KeywordUnknown
}

func transitionErr(code store.TransitionCode, state models.EntryState, creatorID, fanID string) error {
	switch code {
	case store.TransitionMissing:
		return fmt.Errorf("queue entry %s/%s: %w", creatorID, fanID, status.ErrNotFound)
	case store.TransitionNotAllowed:
		return fmt.Errorf("entry %s/%s is %s: %w", creatorID, fanID, state, status.ErrInvalidTransition)
	}
	return nil
}

// Acknowledge marks the entry READY. WAITING and HELD entries may move;
// an entry that is already READY is left alone.
func (s *ConsentService) Acknowledge(ctx context.Context, creatorID, fanID string) (models.EntryState, error) {
	if err := validatePair(creatorID, fanID); err != nil {
		return "", err
	}

	code, state, err := s.store.Transition(ctx, creatorID, fanID, models.StateReady,
		[]models.EntryState{models.StateWaiting, models.StateHeld}, time.Time{})
	if err != nil {
		return "", err
	}
	if err := transitionErr(code, state, creatorID, fanID); err != nil {
		return state, err
	}

	logging.Event(ctx, slog.LevelInfo, "consent_ready",
		"creator_id", creatorID, "fan_id", fanID, "changed", code == store.TransitionApplied)
	return models.StateReady, nil
}

// Hold grants a grace window. A second HOLD does not extend it.
func (s *ConsentService) Hold(ctx context.Context, creatorID, fanID string) (models.EntryState, error) {
	until := s.now().Add(s.cfg.HoldGrace)
	code, state, err := s.store.Transition(ctx, creatorID, fanID, models.StateHeld,
		[]models.EntryState{models.StateWaiting, models.StateReady}, until)
	if err != nil {
		return "", err
	}
	if err := transitionErr(code, state, creatorID, fanID); err != nil {
		return state, err
	}
	return models.StateHeld, nil
}

// MarkInSession moves a READY entry into IN_SESSION.
func (s *ConsentService) MarkInSession(ctx context.Context, creatorID, fanID string) error {
	code, state, err := s.store.Transition(ctx, creatorID, fanID, models.StateInSession,
		[]models.EntryState{models.StateReady}, time.Time{})
	if err != nil {
		return err
	}
	return transitionErr(code, state, creatorID, fanID)
}

// HandleSignal applies a client signal received on a creator topic.
func (s *ConsentService) HandleSignal(ctx context.Context, creatorID string, sig models.Signal) error {
	switch sig.Type {
	case models.SignalReadyAck:
		_, err := s.Acknowledge(ctx, creatorID, sig.FanID)
		return err
	case models.SignalLeave:
		_, err := s.queue.RemoveFromQueue(ctx, creatorID, sig.FanID, models.ReasonManualLeave)
		return err
	}
	return status.Invalid("type", "is not a known signal")
}

// OptInSMS links a phone number to the fan's current entry and returns the
// confirmation code shown to the fan. The route stays pending until the
// number texts that code back.
func (s *ConsentService) OptInSMS(ctx context.Context, creatorID string, req models.SMSOptInRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if err := validatePair(creatorID, req.FanID); err != nil {
		return "", err
	}
	phone, _ := models.NormalizePhone(req.Phone)

	if _, err := s.store.GetEntry(ctx, creatorID, req.FanID); err != nil {
		return "", err
	}

	code, err := utils.GenerateOTP(otpLength)
	if err != nil {
		return "", logging.WrapError(err, "generate sms code")
	}

	route := store.SMSRoute{CreatorID: creatorID, FanID: req.FanID, Code: code}
	if err := s.store.SetSMSRoute(ctx, phone, route, smsRouteTTL); err != nil {
		return "", err
	}

	logging.Event(ctx, slog.LevelInfo, "sms_opt_in", "creator_id", creatorID, "fan_id", req.FanID)
	return code, nil
}

// HandleSMS applies an inbound keyword and returns the reply text. A
// redelivered message gets the reply computed for its first delivery.
func (s *ConsentService) HandleSMS(ctx context.Context, msg models.InboundSMS) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	phone, _ := models.NormalizePhone(msg.From)

	claimed, cached, err := s.store.ClaimDelivery(ctx, msg.MessageSID)
	if err != nil {
		return "", err
	}
	if !claimed && cached != "" {
		return cached, nil
	}

	reply, err := s.applyKeyword(ctx, phone, msg.Body)
	if err != nil {
		return "", err
	}

	if err := s.store.SaveDeliveryReply(ctx, msg.MessageSID, reply); err != nil {
		slog.WarnContext(ctx, "sms reply not cached", "message_sid", msg.MessageSID, "error", err)
	}
	return reply, nil
}

func (s *ConsentService) applyKeyword(ctx context.Context, phone, body string) (string, error) {
	kw := ParseKeyword(body)
	if kw == KeywordUnknown {
		if code, ok := parseCode(body); ok {
			return s.confirmRoute(ctx, phone, code)
		}
		s.monitor.TrackSMSKeyword("UNKNOWN")
		return ReplyHelp, nil
	}
	s.monitor.TrackSMSKeyword(string(kw))

	route, err := s.store.GetSMSRoute(ctx, phone)
	if errors.Is(err, status.ErrNotFound) {
		return ReplyNotQueued, nil
	}
	if err != nil {
		return "", err
	}
	if !route.Verified {
		return ReplyConfirm, nil
	}

	logging.Event(ctx, slog.LevelInfo, "sms_keyword",
		"keyword", kw, "creator_id", route.CreatorID, "fan_id", route.FanID)

	switch kw {
	case KeywordReady:
		_, err = s.Acknowledge(ctx, route.CreatorID, route.FanID)
		return s.replyFor(ReplyReady, err)

	case KeywordSnooze:
		code, err := s.Snooze(ctx, route.CreatorID, route.FanID)
		if err != nil {
			return "", err
		}
		switch code {
		case store.SnoozeMissing:
			return ReplyNotQueued, nil
		case store.SnoozeInSession:
			return ReplyInProgress, nil
		}
		return ReplySnooze, nil

	case KeywordHold:
		_, err = s.Hold(ctx, route.CreatorID, route.FanID)
		return s.replyFor(fmt.Sprintf(ReplyHold, int(s.cfg.HoldGrace.Minutes())), err)

	case KeywordPass:
		if _, err := s.queue.RemoveFromQueue(ctx, route.CreatorID, route.FanID, models.ReasonManualLeave); err != nil {
			return "", err
		}
		return ReplyPass, nil
	}
	return ReplyHelp, nil
}

func (s *ConsentService) confirmRoute(ctx context.Context, phone, code string) (string, error) {
	s.monitor.TrackSMSKeyword("CODE")

	result, err := s.store.ConfirmSMSRoute(ctx, phone, code)
	if err != nil {
		return "", err
	}
	switch result {
	case store.ConfirmMissing:
		return ReplyNotQueued, nil
	case store.ConfirmMismatch:
		return ReplyBadCode, nil
	}

	logging.Event(ctx, slog.LevelInfo, "sms_confirmed")
	return ReplyConfirmed, nil
}

// parseCode accepts a message that is only the numeric opt-in code.
func parseCode(body string) (string, bool) {
	code := strings.TrimSpace(body)
	if len(code) != otpLength {
		return "", false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return code, true
}

// Snooze moves the fan to the back of the queue. When the fan was at the
// front, the fan now at the front is prompted.
func (s *ConsentService) Snooze(ctx context.Context, creatorID, fanID string) (store.SnoozeCode, error) {
	front, err := s.store.Front(ctx, creatorID)
	if err != nil {
		return 0, err
	}

	code, _, err := s.store.Snooze(ctx, creatorID, fanID)
	if err != nil {
		return 0, err
	}
	if code == store.SnoozeMoved && front == fanID {
		s.monitor.TrackFrontChange()
		if err := s.NotifyFront(ctx, creatorID); err != nil {
			slog.WarnContext(ctx, "front notification failed after snooze", "creator_id", creatorID, "error", err)
		}
	}
	return code, nil
}

// replyFor turns handshake outcomes into reply text. Only backend failures
// are returned as errors.
func (s *ConsentService) replyFor(ok string, err error) (string, error) {
	switch {
	case err == nil:
		return ok, nil
	case errors.Is(err, status.ErrNotFound):
		return ReplyNotQueued, nil
	case errors.Is(err, status.ErrInvalidTransition):
		return ReplyInProgress, nil
	}
	return "", err
}

// NotifyFront prompts the fan currently at the front of the queue.
func (s *ConsentService) NotifyFront(ctx context.Context, creatorID string) error {
	fanID, err := s.store.Front(ctx, creatorID)
	if err != nil || fanID == "" {
		return err
	}

	s.notify.Fan(ctx, fanID, models.Notification{
		Type:      NoticeYourTurn,
		CreatorID: creatorID,
		Data:      map[string]any{"timeout_seconds": int64(s.cfg.PromptTimeout.Seconds())},
	})
	return nil
}

// ExpireHolds removes entries whose HOLD window has passed and returns how
// many were removed.
func (s *ConsentService) ExpireHolds(ctx context.Context) (int, error) {
	creators, err := s.store.Creators(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	removed := 0
	for _, creatorID := range creators {
		fans, err := s.store.ExpiredHolds(ctx, creatorID, now)
		if err != nil {
			slog.WarnContext(ctx, "hold sweep: list expired holds", "creator_id", creatorID, "error", err)
			continue
		}
		for _, fanID := range fans {
			if !s.stillExpired(ctx, creatorID, fanID, now) {
				continue
			}
			if _, err := s.queue.RemoveFromQueue(ctx, creatorID, fanID, models.ReasonTimeout); err != nil {
				continue
			}
			removed++
		}
	}
	return removed, nil
}

// stillExpired re-reads the entry so a fan who answered READY since the
// listing is not removed.
func (s *ConsentService) stillExpired(ctx context.Context, creatorID, fanID string, now time.Time) bool {
	entry, err := s.store.GetEntry(ctx, creatorID, fanID)
	if err != nil {
		return false
	}
	return entry.State == models.StateHeld && entry.HoldUntil != nil && entry.HoldUntil.Before(now)
}

// Run prompts new front entries and sweeps expired holds until ctx is done.
func (s *ConsentService) Run(ctx context.Context) {
	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			if !ev.RemovedWasFront {
				continue
			}
			if err := s.NotifyFront(ctx, ev.CreatorID); err != nil {
				slog.WarnContext(ctx, "front prompt failed", "creator_id", ev.CreatorID, "error", err)
			}
		case <-ticker.C:
			n, err := s.ExpireHolds(ctx)
			if err != nil {
				slog.WarnContext(ctx, "hold sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.InfoContext(ctx, "hold sweep removed expired entries", "removed", n)
			}
		}
	}
}

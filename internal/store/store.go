package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"consult-queue/internal/status"
	"consult-queue/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

const (
	aliasTTL     = 7 * 24 * time.Hour
	tombstoneTTL = 24 * time.Hour
	deliveryTTL  = 24 * time.Hour

	creatorsKey = "queue:creators"
	watchedKey  = "creator:watched"
)

func queueKey(creatorID string) string { return "queue:" + creatorID }
func entryKeyPrefix(creatorID string) string { return fmt.Sprintf("queue:entry:%s:", creatorID) }
func entryKey(creatorID, fanID string) string { return entryKeyPrefix(creatorID) + fanID }
func aliasKey(entryID string) string { return "queue:alias:" + entryID }
func sessionKey(sessionID string) string { return "session:" + sessionID }
func creatorSessionKey(creatorID string) string { return "creator:session:" + creatorID }
func walletKey(userID string) string { return "wallet:" + userID }
func transferKey(transferID string) string { return "transfer:" + transferID }
func idempotencyKey(senderID, key string) string {
	return fmt.Sprintf("transfer:idem:%s:%s", senderID, key)
}
func ratingKey(sessionID, raterID string) string { return fmt.Sprintf("rating:%s:%s", sessionID, raterID) }
func smsRouteKey(phoneHash string) string { return "sms:route:" + phoneHash }
func deliveryKey(messageSID string) string { return "sms:delivery:" + messageSID }

// Store is the transactional backend. Writes go through Lua procedures only.
type Store struct {
	Redis *redis.Client
	now   func() time.Time
	newID func() string
}

func New(rdb *redis.Client) *Store {
	return &Store{
		Redis: rdb,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func (s *Store) nowMs() int64 {
	return s.now().UnixMilli()
}

// Enqueue admits fanID to creatorID's queue and returns the 1-based FIFO
// position. Admitting a fan that is already queued returns its current position.
func (s *Store) Enqueue(ctx context.Context, creatorID, fanID string) (position int64, created bool, err error) {
	entryID := s.newID()
	keys := []string{queueKey(creatorID), entryKey(creatorID, fanID), aliasKey(entryID), creatorsKey}

	values, err := s.eval(ctx, "enqueue", enqueueScript, keys,
		creatorID, fanID, s.nowMs(), entryID, int64(aliasTTL.Seconds()))
	if err != nil {
		return 0, false, err
	}
	if len(values) < 2 {
		return 0, false, fmt.Errorf("enqueue: unexpected script result length: %d", len(values))
	}

	code, _ := toInt64(values[0])
	position, _ = toInt64(values[1])
	return position, code == 1, nil
}

func (s *Store) RemoveFromQueue(ctx context.Context, creatorID, fanID string, reason models.RemoveReason) (models.RemoveResult, error) {
	keys := []string{queueKey(creatorID), entryKey(creatorID, fanID), creatorsKey}

	values, err := s.eval(ctx, "remove_from_queue", removeFromQueueScript, keys,
		fanID, string(reason), s.nowMs(), creatorID, int64(tombstoneTTL.Seconds()))
	if err != nil {
		return models.RemoveResult{}, err
	}
	if len(values) < 2 {
		return models.RemoveResult{}, fmt.Errorf("remove_from_queue: unexpected script result length: %d", len(values))
	}

	removed, _ := toInt64(values[0])
	front, _ := toInt64(values[1])
	return models.RemoveResult{
		Success:         true,
		Removed:         removed == 1,
		RemovedWasFront: front == 1,
	}, nil
}

type SnoozeCode int64

const (
	SnoozeInSession   SnoozeCode = -2
	SnoozeMissing     SnoozeCode = -1
	SnoozeAlreadyLast SnoozeCode = 0
	SnoozeMoved       SnoozeCode = 1
)

func (s *Store) Snooze(ctx context.Context, creatorID, fanID string) (SnoozeCode, int64, error) {
	keys := []string{queueKey(creatorID), entryKey(creatorID, fanID)}

	values, err := s.eval(ctx, "snooze", snoozeScript, keys, fanID)
	if err != nil {
		return 0, 0, err
	}
	if len(values) < 2 {
		return 0, 0, fmt.Errorf("snooze: unexpected script result length: %d", len(values))
	}

	code, _ := toInt64(values[0])
	position, _ := toInt64(values[1])
	return SnoozeCode(code), position, nil
}

type TransitionCode int64

const (
	TransitionMissing    TransitionCode = -2
	TransitionNotAllowed TransitionCode = -1
	TransitionNoop       TransitionCode = 0
	TransitionApplied    TransitionCode = 1
)

// Transition moves an entry to `to` if its current state is one of `from`.
// It returns the code and the entry's state after the call.
func (s *Store) Transition(ctx context.Context, creatorID, fanID string, to models.EntryState, from []models.EntryState, holdUntil time.Time) (TransitionCode, models.EntryState, error) {
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}
	var holdMs int64
	if !holdUntil.IsZero() {
		holdMs = holdUntil.UnixMilli()
	}

	values, err := s.eval(ctx, "transition", transitionScript, []string{entryKey(creatorID, fanID)},
		string(to), strings.Join(allowed, ","), holdMs)
	if err != nil {
		return 0, "", err
	}
	if len(values) < 2 {
		return 0, "", fmt.Errorf("transition: unexpected script result length: %d", len(values))
	}

	code, _ := toInt64(values[0])
	state, _ := values[1].(string)
	return TransitionCode(code), models.EntryState(state), nil
}

// CreateSession inserts a PENDING session unless the creator already has an
// open one, in which case it returns status.ErrSessionActive and the open id.
func (s *Store) CreateSession(ctx context.Context, creatorID, fanID string) (string, error) {
	sessionID := s.newID()
	keys := []string{creatorSessionKey(creatorID), sessionKey(sessionID)}

	values, err := s.eval(ctx, "create_session", createSessionScript, keys,
		sessionID, creatorID, fanID, s.nowMs())
	if err != nil {
		return "", err
	}
	if len(values) < 2 {
		return "", fmt.Errorf("create_session: unexpected script result length: %d", len(values))
	}

	code, _ := toInt64(values[0])
	id, _ := values[1].(string)
	if code != 1 {
		return id, fmt.Errorf("create_session %s: %w", creatorID, status.ErrSessionActive)
	}
	return id, nil
}

type ActivateCode int64

const (
	ActivateMissing ActivateCode = -2
	ActivateEnded   ActivateCode = -1
	ActivateNoop    ActivateCode = 0
	ActivateApplied ActivateCode = 1
)

func (s *Store) ActivateSession(ctx context.Context, sessionID string) (ActivateCode, error) {
	code, err := s.Redis.Eval(ctx, activateSessionScript, []string{sessionKey(sessionID)}, s.nowMs()).Int64()
	if err != nil {
		return 0, status.Unavailable("activate_session", err)
	}
	return ActivateCode(code), nil
}

// EndSession is idempotent: ending an ENDED session reports ended=false with
// the stored duration. A missing session is status.ErrNotFound.
func (s *Store) EndSession(ctx context.Context, sessionID, creatorID string) (ended bool, durationSeconds int64, err error) {
	keys := []string{sessionKey(sessionID), creatorSessionKey(creatorID)}

	values, err := s.eval(ctx, "end_session", endSessionScript, keys, sessionID, s.nowMs())
	if err != nil {
		return false, 0, err
	}
	if len(values) < 2 {
		return false, 0, fmt.Errorf("end_session: unexpected script result length: %d", len(values))
	}

	code, _ := toInt64(values[0])
	durationSeconds, _ = toInt64(values[1])
	if code == -2 {
		return false, 0, fmt.Errorf("end_session %s: %w", sessionID, status.ErrNotFound)
	}
	return code == 1, durationSeconds, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	fields, err := s.Redis.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, status.Unavailable("get_session", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, status.ErrNotFound)
	}

	session := &models.Session{
		ID:        fields["id"],
		CreatorID: fields["creator_id"],
		FanID:     fields["fan_id"],
		Status:    models.SessionStatus(fields["status"]),
		CreatedAt: msToTime(fields["created_at"]),
	}
	if t := msToTime(fields["started_at"]); !t.IsZero() {
		session.StartedAt = &t
	}
	if t := msToTime(fields["ended_at"]); !t.IsZero() {
		session.EndedAt = &t
	}
	session.DurationSeconds, _ = strconv.ParseInt(fields["duration_seconds"], 10, 64)
	return session, nil
}

// TransferFunds commits at most one transfer per sender and idempotency key.
// A repeated key returns the original transfer id with duplicate=true.
func (s *Store) TransferFunds(ctx context.Context, tip models.TipTransfer) (transferID string, duplicate bool, err error) {
	newID := s.newID()
	keys := []string{
		idempotencyKey(tip.SenderID, tip.IdempotencyKey),
		walletKey(tip.SenderID),
		walletKey(tip.RecipientID),
		transferKey(newID),
	}

	values, err := s.eval(ctx, "transfer_funds", transferFundsScript, keys,
		newID, tip.SenderID, tip.RecipientID, tip.AmountSkips, tip.SessionID, tip.IdempotencyKey, s.nowMs())
	if err != nil {
		return "", false, err
	}
	if len(values) < 2 {
		return "", false, fmt.Errorf("transfer_funds: unexpected script result length: %d", len(values))
	}

	code, _ := toInt64(values[0])
	transferID, _ = values[1].(string)
	switch code {
	case 1:
		return transferID, false, nil
	case 0:
		return transferID, true, nil
	default:
		return "", false, fmt.Errorf("transfer_funds %s: %w", tip.SenderID, status.ErrInsufficientFunds)
	}
}

// TransferAmount reads back the committed amount of a transfer.
func (s *Store) TransferAmount(ctx context.Context, transferID string) (int64, error) {
	amount, err := s.Redis.HGet(ctx, transferKey(transferID), "amount_skips").Int64()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("transfer %s: %w", transferID, status.ErrNotFound)
	}
	if err != nil {
		return 0, status.Unavailable("transfer_amount", err)
	}
	return amount, nil
}

// SubmitRating writes a rating once. A second write for the same rater and
// session is rejected with status.ErrDuplicateSubmission and changes nothing.
func (s *Store) SubmitRating(ctx context.Context, r models.RatingRecord) error {
	tags, err := json.Marshal(r.Tags)
	if err != nil {
		return err
	}

	code, err := s.Redis.Eval(ctx, submitRatingScript, []string{ratingKey(r.SessionID, r.RaterID)},
		r.SessionID, r.RaterID, r.RatedUserID, int64(r.Rating), r.Comment, string(tags), s.nowMs()).Int64()
	if err != nil {
		return status.Unavailable("submit_rating", err)
	}
	if code == 0 {
		return fmt.Errorf("rating %s/%s: %w", r.SessionID, r.RaterID, status.ErrDuplicateSubmission)
	}
	return nil
}

// ClearQueue drops every entry of a creator's queue and returns the fans removed.
func (s *Store) ClearQueue(ctx context.Context, creatorID string) ([]string, error) {
	values, err := s.eval(ctx, "clear_queue", clearQueueScript,
		[]string{queueKey(creatorID), creatorsKey}, creatorID, entryKeyPrefix(creatorID))
	if err != nil {
		return nil, err
	}

	fans := make([]string, 0, len(values))
	for _, v := range values {
		if fan, ok := v.(string); ok {
			fans = append(fans, fan)
		}
	}
	return fans, nil
}

// GetEntry returns the live queue entry with its current position.
func (s *Store) GetEntry(ctx context.Context, creatorID, fanID string) (*models.QueueEntry, error) {
	fields, err := s.Redis.HGetAll(ctx, entryKey(creatorID, fanID)).Result()
	if err != nil {
		return nil, status.Unavailable("get_entry", err)
	}
	if len(fields) == 0 || models.EntryState(fields["state"]) == models.StateRemoved {
		return nil, fmt.Errorf("queue entry %s/%s: %w", creatorID, fanID, status.ErrNotFound)
	}

	entry := entryFromFields(fields)
	rank, err := s.Redis.ZRank(ctx, queueKey(creatorID), fanID).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("queue entry %s/%s: %w", creatorID, fanID, status.ErrNotFound)
	case err != nil:
		return nil, status.Unavailable("get_entry", err)
	}
	entry.Position = rank + 1
	return entry, nil
}

// Front returns the fan at the head of the queue, or "" when it is empty.
func (s *Store) Front(ctx context.Context, creatorID string) (string, error) {
	fans, err := s.Redis.ZRange(ctx, queueKey(creatorID), 0, 0).Result()
	if err != nil {
		return "", status.Unavailable("front", err)
	}
	if len(fans) == 0 {
		return "", nil
	}
	return fans[0], nil
}

func (s *Store) List(ctx context.Context, creatorID string) ([]models.QueueEntry, error) {
	fans, err := s.Redis.ZRange(ctx, queueKey(creatorID), 0, -1).Result()
	if err != nil {
		return nil, status.Unavailable("list", err)
	}

	entries := make([]models.QueueEntry, 0, len(fans))
	for i, fan := range fans {
		fields, err := s.Redis.HGetAll(ctx, entryKey(creatorID, fan)).Result()
		if err != nil {
			return nil, status.Unavailable("list", err)
		}
		entry := entryFromFields(fields)
		entry.CreatorID = creatorID
		entry.FanID = fan
		entry.Position = int64(i + 1)
		entries = append(entries, *entry)
	}
	return entries, nil
}

func (s *Store) QueueLength(ctx context.Context, creatorID string) (int64, error) {
	n, err := s.Redis.ZCard(ctx, queueKey(creatorID)).Result()
	if err != nil {
		return 0, status.Unavailable("queue_length", err)
	}
	return n, nil
}

// Creators lists creators that currently have a non-empty queue.
func (s *Store) Creators(ctx context.Context) ([]string, error) {
	ids, err := s.Redis.SMembers(ctx, creatorsKey).Result()
	if err != nil {
		return nil, status.Unavailable("creators", err)
	}
	return ids, nil
}

// ExpiredHolds lists fans of creatorID whose HOLD grace window ended before now.
func (s *Store) ExpiredHolds(ctx context.Context, creatorID string, now time.Time) ([]string, error) {
	entries, err := s.List(ctx, creatorID)
	if err != nil {
		return nil, err
	}

	var expired []string
	for _, e := range entries {
		if e.State == models.StateHeld && e.HoldUntil != nil && e.HoldUntil.Before(now) {
			expired = append(expired, e.FanID)
		}
	}
	return expired, nil
}

// LookupQueueAlias maps a queue entry id to its creator. "" means no mapping.
func (s *Store) LookupQueueAlias(ctx context.Context, entryID string) (string, error) {
	creatorID, err := s.Redis.Get(ctx, aliasKey(entryID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", status.Unavailable("lookup_queue_alias", err)
	}
	return creatorID, nil
}

// LookupSessionCreator maps a session id to its creator. "" means no mapping.
func (s *Store) LookupSessionCreator(ctx context.Context, sessionID string) (string, error) {
	creatorID, err := s.Redis.HGet(ctx, sessionKey(sessionID), "creator_id").Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", status.Unavailable("lookup_session_creator", err)
	}
	return creatorID, nil
}

// SMSRoute links a phone number to a queue entry. Keywords are only applied
// once the number has echoed Code back.
type SMSRoute struct {
	CreatorID string
	FanID     string
	Code      string
	Verified  bool
}

// HashPhone keys SMS routes by a blake2b digest so raw numbers never land in Redis keys.
func HashPhone(phone string) string {
	sum := blake2b.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:])
}

func (s *Store) SetSMSRoute(ctx context.Context, phone string, route SMSRoute, ttl time.Duration) error {
	key := smsRouteKey(HashPhone(phone))
	verified := "0"
	if route.Verified {
		verified = "1"
	}
	if err := s.Redis.HSet(ctx, key, "creator_id", route.CreatorID, "fan_id", route.FanID, "code", route.Code, "verified", verified).Err(); err != nil {
		return status.Unavailable("set_sms_route", err)
	}
	if err := s.Redis.Expire(ctx, key, ttl).Err(); err != nil {
		return status.Unavailable("set_sms_route", err)
	}
	return nil
}

func (s *Store) GetSMSRoute(ctx context.Context, phone string) (*SMSRoute, error) {
	fields, err := s.Redis.HGetAll(ctx, smsRouteKey(HashPhone(phone))).Result()
	if err != nil {
		return nil, status.Unavailable("get_sms_route", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("sms route: %w", status.ErrNotFound)
	}
	return &SMSRoute{
		CreatorID: fields["creator_id"],
		FanID:     fields["fan_id"],
		Code:      fields["code"],
		Verified:  fields["verified"] == "1",
	}, nil
}

type ConfirmCode int64

const (
	ConfirmMissing  ConfirmCode = -1
	ConfirmMismatch ConfirmCode = 0
	ConfirmApplied  ConfirmCode = 1
)

// ConfirmSMSRoute marks the route verified when code matches the one issued
// at opt-in. Confirming an already verified route with the same code is a no-op.
func (s *Store) ConfirmSMSRoute(ctx context.Context, phone, code string) (ConfirmCode, error) {
	result, err := s.Redis.Eval(ctx, confirmSMSRouteScript, []string{smsRouteKey(HashPhone(phone))}, code).Int64()
	if err != nil {
		return 0, status.Unavailable("confirm_sms_route", err)
	}
	return ConfirmCode(result), nil
}

// ClaimDelivery records an inbound message id. For a repeated delivery it
// returns claimed=false and the reply cached for the first one.
func (s *Store) ClaimDelivery(ctx context.Context, messageSID string) (claimed bool, cachedReply string, err error) {
	key := deliveryKey(messageSID)
	ok, err := s.Redis.SetNX(ctx, key, "", deliveryTTL).Result()
	if err != nil {
		return false, "", status.Unavailable("claim_delivery", err)
	}
	if ok {
		return true, "", nil
	}

	reply, err := s.Redis.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, "", status.Unavailable("claim_delivery", err)
	}
	return false, reply, nil
}

func (s *Store) SaveDeliveryReply(ctx context.Context, messageSID, reply string) error {
	if err := s.Redis.Set(ctx, deliveryKey(messageSID), reply, deliveryTTL).Err(); err != nil {
		return status.Unavailable("save_delivery_reply", err)
	}
	return nil
}

// AddWatched records a live creator under its canonical id together with the
// raw id it was watched by, so a restore resolves the same topic pair.
func (s *Store) AddWatched(ctx context.Context, creatorID, rawID string) error {
	if rawID == "" {
		rawID = creatorID
	}
	if err := s.Redis.HSet(ctx, watchedKey, creatorID, rawID).Err(); err != nil {
		return status.Unavailable("add_watched", err)
	}
	return nil
}

func (s *Store) RemoveWatched(ctx context.Context, creatorID string) error {
	if err := s.Redis.HDel(ctx, watchedKey, creatorID).Err(); err != nil {
		return status.Unavailable("remove_watched", err)
	}
	return nil
}

// Watched returns the raw ids of every watched creator.
func (s *Store) Watched(ctx context.Context) ([]string, error) {
	watched, err := s.Redis.HGetAll(ctx, watchedKey).Result()
	if err != nil {
		return nil, status.Unavailable("watched", err)
	}
	ids := make([]string, 0, len(watched))
	for creatorID, rawID := range watched {
		if rawID == "" {
			rawID = creatorID
		}
		ids = append(ids, rawID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) eval(ctx context.Context, op, script string, keys []string, args ...interface{}) ([]interface{}, error) {
	result, err := s.Redis.Eval(ctx, script, keys, args...).Result()
	if err != nil {
		return nil, status.Unavailable(op, err)
	}
	values, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s: unexpected script result type %T", op, result)
	}
	return values, nil
}

func entryFromFields(fields map[string]string) *models.QueueEntry {
	entry := &models.QueueEntry{
		CreatorID: fields["creator_id"],
		FanID:     fields["fan_id"],
		EntryID:   fields["entry_id"],
		EnteredAt: msToTime(fields["entered_at"]),
		State:     models.EntryState(fields["state"]),
	}
	if t := msToTime(fields["hold_until"]); !t.IsZero() {
		entry.HoldUntil = &t
	}
	return entry
}

func msToTime(raw string) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

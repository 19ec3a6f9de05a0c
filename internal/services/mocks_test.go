package services

import (
	"context"
	"time"

	"consult-queue/internal/media"
	"consult-queue/internal/store"
	"consult-queue/models"
	"consult-queue/monitoring"

	"github.com/stretchr/testify/mock"
)

// mockStore implements every store interface the services consume.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Enqueue(ctx context.Context, creatorID, fanID string) (int64, bool, error) {
	args := m.Called(ctx, creatorID, fanID)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}

func (m *mockStore) RemoveFromQueue(ctx context.Context, creatorID, fanID string, reason models.RemoveReason) (models.RemoveResult, error) {
	args := m.Called(ctx, creatorID, fanID, reason)
	return args.Get(0).(models.RemoveResult), args.Error(1)
}

func (m *mockStore) GetEntry(ctx context.Context, creatorID, fanID string) (*models.QueueEntry, error) {
	args := m.Called(ctx, creatorID, fanID)
	entry, _ := args.Get(0).(*models.QueueEntry)
	return entry, args.Error(1)
}

func (m *mockStore) List(ctx context.Context, creatorID string) ([]models.QueueEntry, error) {
	args := m.Called(ctx, creatorID)
	entries, _ := args.Get(0).([]models.QueueEntry)
	return entries, args.Error(1)
}

func (m *mockStore) Front(ctx context.Context, creatorID string) (string, error) {
	args := m.Called(ctx, creatorID)
	return args.String(0), args.Error(1)
}

func (m *mockStore) ClearQueue(ctx context.Context, creatorID string) ([]string, error) {
	args := m.Called(ctx, creatorID)
	fans, _ := args.Get(0).([]string)
	return fans, args.Error(1)
}

func (m *mockStore) Transition(ctx context.Context, creatorID, fanID string, to models.EntryState, from []models.EntryState, holdUntil time.Time) (store.TransitionCode, models.EntryState, error) {
	args := m.Called(ctx, creatorID, fanID, to, from, holdUntil)
	return args.Get(0).(store.TransitionCode), args.Get(1).(models.EntryState), args.Error(2)
}

func (m *mockStore) Snooze(ctx context.Context, creatorID, fanID string) (store.SnoozeCode, int64, error) {
	args := m.Called(ctx, creatorID, fanID)
	return args.Get(0).(store.SnoozeCode), args.Get(1).(int64), args.Error(2)
}

func (m *mockStore) Creators(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *mockStore) ExpiredHolds(ctx context.Context, creatorID string, now time.Time) ([]string, error) {
	args := m.Called(ctx, creatorID, now)
	fans, _ := args.Get(0).([]string)
	return fans, args.Error(1)
}

func (m *mockStore) SetSMSRoute(ctx context.Context, phone string, route store.SMSRoute, ttl time.Duration) error {
	return m.Called(ctx, phone, route, ttl).Error(0)
}

func (m *mockStore) GetSMSRoute(ctx context.Context, phone string) (*store.SMSRoute, error) {
	args := m.Called(ctx, phone)
	route, _ := args.Get(0).(*store.SMSRoute)
	return route, args.Error(1)
}

func (m *mockStore) ConfirmSMSRoute(ctx context.Context, phone, code string) (store.ConfirmCode, error) {
	args := m.Called(ctx, phone, code)
	return args.Get(0).(store.ConfirmCode), args.Error(1)
}

func (m *mockStore) ClaimDelivery(ctx context.Context, messageSID string) (bool, string, error) {
	args := m.Called(ctx, messageSID)
	return args.Bool(0), args.String(1), args.Error(2)
}

func (m *mockStore) SaveDeliveryReply(ctx context.Context, messageSID, reply string) error {
	return m.Called(ctx, messageSID, reply).Error(0)
}

func (m *mockStore) CreateSession(ctx context.Context, creatorID, fanID string) (string, error) {
	args := m.Called(ctx, creatorID, fanID)
	return args.String(0), args.Error(1)
}

func (m *mockStore) ActivateSession(ctx context.Context, sessionID string) (store.ActivateCode, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(store.ActivateCode), args.Error(1)
}

func (m *mockStore) EndSession(ctx context.Context, sessionID, creatorID string) (bool, int64, error) {
	args := m.Called(ctx, sessionID, creatorID)
	return args.Bool(0), args.Get(1).(int64), args.Error(2)
}

func (m *mockStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	args := m.Called(ctx, sessionID)
	session, _ := args.Get(0).(*models.Session)
	return session, args.Error(1)
}

func (m *mockStore) SubmitRating(ctx context.Context, r models.RatingRecord) error {
	return m.Called(ctx, r).Error(0)
}

func (m *mockStore) TransferFunds(ctx context.Context, tip models.TipTransfer) (string, bool, error) {
	args := m.Called(ctx, tip)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockStore) TransferAmount(ctx context.Context, transferID string) (int64, error) {
	args := m.Called(ctx, transferID)
	return args.Get(0).(int64), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, channel string, msg any) error {
	return m.Called(ctx, channel, msg).Error(0)
}

type mockIssuer struct {
	mock.Mock
}

func (m *mockIssuer) RequestCredential(ctx context.Context, role models.Role, creatorID, identity string) (*models.MediaCredential, error) {
	args := m.Called(ctx, role, creatorID, identity)
	cred, _ := args.Get(0).(*models.MediaCredential)
	return cred, args.Error(1)
}

type mockConnector struct {
	mock.Mock
}

func (m *mockConnector) Connect(ctx context.Context, cred *models.MediaCredential) (*media.Connection, error) {
	args := m.Called(ctx, cred)
	conn, _ := args.Get(0).(*media.Connection)
	return conn, args.Error(1)
}

func (m *mockConnector) Publish(ctx context.Context, conn *media.Connection, cred *models.MediaCredential) error {
	return m.Called(ctx, conn, cred).Error(0)
}

type testTopics struct{}

func (testTopics) Topic(creatorID string) string { return "creator-queue-" + creatorID }
func (testTopics) FanTopic(fanID string) string  { return "fan-" + fanID }

// noticeOf matches a Publish call carrying a notification of the given type.
func noticeOf(kind string) any {
	return mock.MatchedBy(func(msg any) bool {
		n, ok := msg.(models.Notification)
		return ok && n.Type == kind
	})
}

type harness struct {
	store   *mockStore
	pub     *mockPublisher
	monitor *monitoring.Monitor
	notify  *Notifier
}

func newHarness() *harness {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return &harness{
		store:   &mockStore{},
		pub:     pub,
		monitor: monitoring.NewMonitor(nil),
		notify:  NewNotifier(pub, testTopics{}),
	}
}

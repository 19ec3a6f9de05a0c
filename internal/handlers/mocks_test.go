package handlers

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"consult-queue/models"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockQueue struct{ mock.Mock }

func (m *mockQueue) Admit(ctx context.Context, creatorID, fanID string) (int64, error) {
	args := m.Called(ctx, creatorID, fanID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockQueue) RemoveFromQueue(ctx context.Context, creatorID, fanID string, reason models.RemoveReason) (models.RemoveResult, error) {
	args := m.Called(ctx, creatorID, fanID, reason)
	return args.Get(0).(models.RemoveResult), args.Error(1)
}

func (m *mockQueue) Position(ctx context.Context, creatorID, fanID string) (*models.QueueEntry, error) {
	args := m.Called(ctx, creatorID, fanID)
	entry, _ := args.Get(0).(*models.QueueEntry)
	return entry, args.Error(1)
}

func (m *mockQueue) List(ctx context.Context, creatorID string) (*models.QueueSnapshot, error) {
	args := m.Called(ctx, creatorID)
	snap, _ := args.Get(0).(*models.QueueSnapshot)
	return snap, args.Error(1)
}

func (m *mockQueue) ClearQueue(ctx context.Context, creatorID, actor string) ([]string, error) {
	args := m.Called(ctx, creatorID, actor)
	removed, _ := args.Get(0).([]string)
	return removed, args.Error(1)
}

type mockConsent struct{ mock.Mock }

func (m *mockConsent) Acknowledge(ctx context.Context, creatorID, fanID string) (models.EntryState, error) {
	args := m.Called(ctx, creatorID, fanID)
	return args.Get(0).(models.EntryState), args.Error(1)
}

func (m *mockConsent) OptInSMS(ctx context.Context, creatorID string, req models.SMSOptInRequest) (string, error) {
	args := m.Called(ctx, creatorID, req)
	return args.String(0), args.Error(1)
}

func (m *mockConsent) HandleSMS(ctx context.Context, msg models.InboundSMS) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

type mockSessions struct{ mock.Mock }

func (m *mockSessions) StartSession(ctx context.Context, req models.StartSessionRequest) (*models.Session, error) {
	args := m.Called(ctx, req)
	s, _ := args.Get(0).(*models.Session)
	return s, args.Error(1)
}

func (m *mockSessions) Reconnect(ctx context.Context, sessionID string) (*models.Session, error) {
	args := m.Called(ctx, sessionID)
	s, _ := args.Get(0).(*models.Session)
	return s, args.Error(1)
}

func (m *mockSessions) IssueCredential(ctx context.Context, sessionID string, req models.CredentialRequest) (*models.MediaCredential, error) {
	args := m.Called(ctx, sessionID, req)
	c, _ := args.Get(0).(*models.MediaCredential)
	return c, args.Error(1)
}

func (m *mockSessions) EndSession(ctx context.Context, sessionID string, role models.Role) (*models.EndResult, error) {
	args := m.Called(ctx, sessionID, role)
	r, _ := args.Get(0).(*models.EndResult)
	return r, args.Error(1)
}

type mockSettlement struct{ mock.Mock }

func (m *mockSettlement) SubmitAll(ctx context.Context, sessionID string, req models.SettlementRequest) (*models.SettlementOutcome, error) {
	args := m.Called(ctx, sessionID, req)
	o, _ := args.Get(0).(*models.SettlementOutcome)
	return o, args.Error(1)
}

type mockResolver struct{ mock.Mock }

func (m *mockResolver) ResolveCreator(ctx context.Context, rawID string) (string, models.ChannelTopic) {
	args := m.Called(ctx, rawID)
	return args.String(0), args.Get(1).(models.ChannelTopic)
}

type mockWatcher struct{ mock.Mock }

func (m *mockWatcher) Watch(ctx context.Context, rawID string) (models.ChannelTopic, error) {
	args := m.Called(ctx, rawID)
	return args.Get(0).(models.ChannelTopic), args.Error(1)
}

func (m *mockWatcher) Unwatch(ctx context.Context, rawID string) error {
	return m.Called(ctx, rawID).Error(0)
}

type mockLimiter struct{ mock.Mock }

func (m *mockLimiter) Allow(key string) bool {
	return m.Called(key).Bool(0)
}

// newEvent builds a request event with path values given as name, value pairs.
func newEvent(method, target, contentType, body string, pathValues ...string) (*core.RequestEvent, *httptest.ResponseRecorder) {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}

	rec := httptest.NewRecorder()
	e := &core.RequestEvent{}
	e.Request = req
	e.Response = rec
	return e, rec
}

func jsonEvent(method, target, body string, pathValues ...string) (*core.RequestEvent, *httptest.ResponseRecorder) {
	return newEvent(method, target, "application/json", body, pathValues...)
}

func superuser(e *core.RequestEvent) {
	record := core.NewRecord(core.NewAuthCollection(core.CollectionNameSuperusers))
	record.Id = "su1"
	record.SetEmail("ops@example.com")
	e.Auth = record
}

func requireAPIStatus(t *testing.T, err error, code int) {
	t.Helper()
	var apiErr *router.ApiError
	require.True(t, errors.As(err, &apiErr), "expected an api error, got %v", err)
	require.Equal(t, code, apiErr.Status)
}

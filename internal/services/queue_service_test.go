package services

import (
	"context"
	"errors"
	"testing"

	"consult-queue/internal/events"
	"consult-queue/internal/status"
	"consult-queue/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupQueueService() (*QueueService, *harness, *events.Bus) {
	h := newHarness()
	bus := events.NewBus(8)
	return NewQueueService(h.store, h.notify, bus, h.monitor), h, bus
}

func TestQueueService_Admit(t *testing.T) {
	svc, h, _ := setupQueueService()
	ctx := context.Background()

	h.store.On("Enqueue", ctx, "creator-1", "fan-1").Return(int64(3), true, nil).Once()

	position, err := svc.Admit(ctx, "creator-1", "fan-1")

	require.NoError(t, err)
	assert.Equal(t, int64(3), position)
	h.pub.AssertCalled(t, "Publish", ctx, "creator-queue-creator-1", noticeOf(NoticeQueueJoined))
	h.pub.AssertCalled(t, "Publish", ctx, "fan-fan-1", noticeOf(NoticeQueuePosition))
	h.store.AssertExpectations(t)
}

func TestQueueService_Admit_AlreadyQueued(t *testing.T) {
	svc, h, _ := setupQueueService()
	ctx := context.Background()

	h.store.On("Enqueue", ctx, "creator-1", "fan-1").Return(int64(2), false, nil).Once()

	position, err := svc.Admit(ctx, "creator-1", "fan-1")

	require.NoError(t, err)
	assert.Equal(t, int64(2), position)
	h.pub.AssertNotCalled(t, "Publish", ctx, "creator-queue-creator-1", noticeOf(NoticeQueueJoined))
}

func TestQueueService_Admit_Validation(t *testing.T) {
	svc, h, _ := setupQueueService()

	tests := []struct {
		name      string
		creatorID string
		fanID     string
	}{
		{"empty creator", "", "fan-1"},
		{"bad characters", "creator 1", "fan-1"},
		{"same user", "user-1", "user-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Admit(context.Background(), tt.creatorID, tt.fanID)
			assert.ErrorIs(t, err, status.ErrValidation)
		})
	}
	h.store.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueueService_Admit_BackendUnavailable(t *testing.T) {
	svc, h, _ := setupQueueService()
	ctx := context.Background()

	h.store.On("Enqueue", ctx, "creator-1", "fan-1").
		Return(int64(0), false, status.Unavailable("enqueue", errors.New("dial tcp: refused"))).Once()

	_, err := svc.Admit(ctx, "creator-1", "fan-1")

	assert.ErrorIs(t, err, status.ErrBackendUnavailable)
	h.pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueueService_RemoveFromQueue_Idempotent(t *testing.T) {
	svc, h, bus := setupQueueService()
	ctx := context.Background()
	ch := bus.Subscribe()

	h.store.On("RemoveFromQueue", ctx, "creator-1", "fan-1", models.ReasonManualLeave).
		Return(models.RemoveResult{Success: true, Removed: true, RemovedWasFront: true}, nil).Once()
	h.store.On("RemoveFromQueue", ctx, "creator-1", "fan-1", models.ReasonManualLeave).
		Return(models.RemoveResult{Success: true}, nil).Once()

	first, err := svc.RemoveFromQueue(ctx, "creator-1", "fan-1", models.ReasonManualLeave)
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.True(t, first.RemovedWasFront)

	second, err := svc.RemoveFromQueue(ctx, "creator-1", "fan-1", models.ReasonManualLeave)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.False(t, second.RemovedWasFront)

	ev := <-ch
	assert.Equal(t, models.FrontChanged{CreatorID: "creator-1", RemovedFanID: "fan-1", RemovedWasFront: true}, ev)
	ev = <-ch
	assert.False(t, ev.RemovedWasFront)

	h.pub.AssertNumberOfCalls(t, "Publish", 2) // queue_left to creator and fan, first call only
	h.store.AssertExpectations(t)
}

func TestQueueService_RemoveFromQueue_BackendError(t *testing.T) {
	svc, h, bus := setupQueueService()
	ctx := context.Background()
	ch := bus.Subscribe()

	h.store.On("RemoveFromQueue", ctx, "creator-1", "fan-1", models.ReasonTimeout).
		Return(models.RemoveResult{}, status.Unavailable("remove_from_queue", errors.New("timeout"))).Once()

	_, err := svc.RemoveFromQueue(ctx, "creator-1", "fan-1", models.ReasonTimeout)

	assert.ErrorIs(t, err, status.ErrBackendUnavailable)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestQueueService_RemoveFromQueue_BadReason(t *testing.T) {
	svc, h, _ := setupQueueService()

	_, err := svc.RemoveFromQueue(context.Background(), "creator-1", "fan-1", models.RemoveReason("bored"))

	assert.ErrorIs(t, err, status.ErrValidation)
	h.store.AssertNotCalled(t, "RemoveFromQueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestQueueService_List(t *testing.T) {
	svc, h, _ := setupQueueService()
	ctx := context.Background()

	entries := []models.QueueEntry{
		{CreatorID: "creator-1", FanID: "fan-1", State: models.StateReady, Position: 1},
		{CreatorID: "creator-1", FanID: "fan-2", State: models.StateWaiting, Position: 2},
	}
	h.store.On("List", ctx, "creator-1").Return(entries, nil).Once()

	snap, err := svc.List(ctx, "creator-1")

	require.NoError(t, err)
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, "fan-2", snap.Entries[1].FanID)
}

func TestQueueService_ClearQueue(t *testing.T) {
	svc, h, _ := setupQueueService()
	ctx := context.Background()

	_, err := svc.ClearQueue(ctx, "creator-1", "")
	assert.ErrorIs(t, err, status.ErrValidation)

	h.store.On("ClearQueue", ctx, "creator-1").Return([]string{"fan-1", "fan-2"}, nil).Once()

	fans, err := svc.ClearQueue(ctx, "creator-1", "ops@example.com")

	require.NoError(t, err)
	assert.Equal(t, []string{"fan-1", "fan-2"}, fans)
	h.pub.AssertCalled(t, "Publish", ctx, "fan-fan-1", noticeOf(NoticeQueueLeft))
	h.pub.AssertCalled(t, "Publish", ctx, "fan-fan-2", noticeOf(NoticeQueueLeft))
	h.store.AssertExpectations(t)
}

func TestNotifier_PublishFailureIsSwallowed(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "fan-fan-1", mock.Anything).Return(status.ErrBackendUnavailable).Once()

	n := NewNotifier(pub, testTopics{})
	assert.NotPanics(t, func() {
		n.Fan(context.Background(), "fan-1", models.Notification{Type: NoticeYourTurn})
	})
	pub.AssertExpectations(t)
}

package services

import (
	"context"
	"log/slog"
	"time"

	"consult-queue/models"
)

const (
	NoticeQueueJoined    = "queue_joined"
	NoticeQueueLeft      = "queue_left"
	NoticeQueuePosition  = "queue_position"
	NoticeYourTurn       = "your_turn"
	NoticeSessionStarted = "session_started"
	NoticeSessionEnded   = "session_ended"
)

// Notifier publishes best-effort realtime notifications. Publish failures are
// logged and never returned.
type Notifier struct {
	pub    Publisher
	topics Topics
	now    func() time.Time
}

func NewNotifier(pub Publisher, topics Topics) *Notifier {
	return &Notifier{pub: pub, topics: topics, now: time.Now}
}

func (n *Notifier) Creator(ctx context.Context, creatorID string, note models.Notification) {
	note.CreatorID = creatorID
	n.send(ctx, n.topics.Topic(creatorID), note)
}

func (n *Notifier) Fan(ctx context.Context, fanID string, note models.Notification) {
	note.FanID = fanID
	n.send(ctx, n.topics.FanTopic(fanID), note)
}

// Both sends note to the creator topic and to the fan topic.
func (n *Notifier) Both(ctx context.Context, creatorID, fanID string, note models.Notification) {
	note.CreatorID = creatorID
	note.FanID = fanID
	n.send(ctx, n.topics.Topic(creatorID), note)
	n.send(ctx, n.topics.FanTopic(fanID), note)
}

func (n *Notifier) send(ctx context.Context, channel string, note models.Notification) {
	if n == nil || n.pub == nil {
		return
	}
	note.Timestamp = n.now().Unix()
	if err := n.pub.Publish(ctx, channel, note); err != nil {
		slog.WarnContext(ctx, "realtime notification not delivered",
			"channel", channel, "type", note.Type, "error", err)
	}
}

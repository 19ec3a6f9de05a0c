package models

// ChannelTopic is the resolved realtime topic pair for a raw identifier.
// Secondary is empty outside the legacy migration window.
type ChannelTopic struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary,omitempty"`
}

func (t ChannelTopic) Topics() []string {
	if t.Secondary == "" || t.Secondary == t.Primary {
		return []string{t.Primary}
	}
	return []string{t.Primary, t.Secondary}
}

type SignalType string

const (
	SignalReadyAck SignalType = "ready_ack"
	SignalLeave    SignalType = "leave"
)

// Signal is an inbound client message received on a creator topic.
type Signal struct {
	Type  SignalType `json:"type"`
	FanID string     `json:"fan_id"`
}

// Notification is an outbound realtime message.
type Notification struct {
	Type      string         `json:"type"`
	CreatorID string         `json:"creator_id,omitempty"`
	FanID     string         `json:"fan_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

package realtime

import (
	"context"
	"log/slog"

	"consult-queue/internal/status"

	pubnub "github.com/pubnub/go/v7"
)

// Mesh is the realtime publish/subscribe layer.
type Mesh interface {
	Publish(ctx context.Context, channel string, msg any) error
	Subscribe(channels []string) error
	Unsubscribe(channels []string) error
}

// Inbound is a message received on a subscribed channel.
type Inbound struct {
	Channel string
	Payload any
}

type PubNubConfig struct {
	PublishKey   string
	SubscribeKey string
	SecretKey    string
	UserID       string
}

type PubNubMesh struct {
	pn       *pubnub.PubNub
	listener *pubnub.Listener
}

func NewPubNubMesh(c PubNubConfig) *PubNubMesh {
	cfg := pubnub.NewConfigWithUserId(pubnub.UserId(c.UserID))
	cfg.PublishKey = c.PublishKey
	cfg.SubscribeKey = c.SubscribeKey
	cfg.SecretKey = c.SecretKey

	pn := pubnub.NewPubNub(cfg)
	listener := pubnub.NewListener()
	pn.AddListener(listener)

	return &PubNubMesh{pn: pn, listener: listener}
}

func (m *PubNubMesh) Publish(_ context.Context, channel string, msg any) error {
	_, _, err := m.pn.Publish().
		Channel(channel).
		Message(msg).
		Execute()
	if err != nil {
		return status.Unavailable("publish "+channel, err)
	}
	return nil
}

func (m *PubNubMesh) Subscribe(channels []string) error {
	m.pn.Subscribe().
		Channels(channels).
		Execute()
	return nil
}

func (m *PubNubMesh) Unsubscribe(channels []string) error {
	m.pn.Unsubscribe().
		Channels(channels).
		Execute()
	return nil
}

// Listen delivers inbound messages to handle until ctx is done.
func (m *PubNubMesh) Listen(ctx context.Context, handle func(Inbound)) {
	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-m.listener.Message:
			handle(Inbound{Channel: msg.Channel, Payload: msg.Message})

		case st := <-m.listener.Status:
			switch st.Category {
			case pubnub.PNConnectedCategory, pubnub.PNReconnectedCategory:
				slog.Info("realtime connected")
			case pubnub.PNDisconnectedCategory, pubnub.PNTimeoutCategory:
				slog.Warn("realtime disconnected", "category", st.Category)
			case pubnub.PNAccessDeniedCategory:
				slog.Error("realtime access denied", "category", st.Category)
			}

		case <-m.listener.Presence:
		case <-m.listener.Signal:
		}
	}
}

func (m *PubNubMesh) Close() {
	m.pn.UnsubscribeAll()
	m.pn.Destroy()
}

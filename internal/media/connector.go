package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"consult-queue/internal/status"
	"consult-queue/models"
)

// Connection is an established media session for one participant.
type Connection struct {
	ParticipantID string
	Identity      string
	URL           string
}

// Connector negotiates a media connection with the SFU using a credential.
type Connector interface {
	Connect(ctx context.Context, cred *models.MediaCredential) (*Connection, error)
	Publish(ctx context.Context, conn *Connection, cred *models.MediaCredential) error
}

type HTTPConnector struct {
	hc *http.Client
}

func NewHTTPConnector() *HTTPConnector {
	return &HTTPConnector{
		hc: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type connectReply struct {
	ParticipantID string `json:"participantId"`
	Error         string `json:"error,omitempty"`
}

func (c *HTTPConnector) Connect(ctx context.Context, cred *models.MediaCredential) (*Connection, error) {
	if cred == nil || cred.Token == "" {
		return nil, fmt.Errorf("media connect: empty credential: %w", status.ErrMediaNegotiation)
	}

	body, _ := json.Marshal(map[string]string{"identity": cred.Identity})

	var reply connectReply
	if err := c.post(ctx, cred, "/rtc/connect", body, &reply); err != nil {
		return nil, fmt.Errorf("media connect: %w", err)
	}
	if reply.ParticipantID == "" {
		return nil, fmt.Errorf("media connect: no participant id (%s): %w", reply.Error, status.ErrMediaNegotiation)
	}

	return &Connection{
		ParticipantID: reply.ParticipantID,
		Identity:      cred.Identity,
		URL:           cred.URL,
	}, nil
}

func (c *HTTPConnector) Publish(ctx context.Context, conn *Connection, cred *models.MediaCredential) error {
	body, _ := json.Marshal(map[string]any{
		"participantId": conn.ParticipantID,
		"tracks":        []string{"audio", "video"},
	})

	if err := c.post(ctx, cred, "/rtc/publish", body, nil); err != nil {
		return fmt.Errorf("media publish: %w", err)
	}
	return nil
}

func (c *HTTPConnector) post(ctx context.Context, cred *models.MediaCredential, path string, body []byte, out any) error {
	url := strings.TrimRight(cred.URL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http.NewReq: %w: %w", err, status.ErrMediaNegotiation)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.Token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", err, status.ErrMediaNegotiation)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("status %d: %w", resp.StatusCode, status.ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("status %d: %w", resp.StatusCode, status.ErrMediaNegotiation)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("json.Decode: %w: %w", err, status.ErrMediaNegotiation)
	}
	return nil
}

package media

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"consult-queue/internal/status"
	"consult-queue/models"
	"consult-queue/utils"
)

// Issuer hands out short-lived media credentials. Implementations must return
// a fresh credential on every call.
type Issuer interface {
	RequestCredential(ctx context.Context, role models.Role, creatorID, identity string) (*models.MediaCredential, error)
}

type IssuerConfig struct {
	BaseURL string `json:"baseUrl" mapstructure:"base_url"`
	APIKey  string `json:"apiKey" mapstructure:"api_key"`
	HMACKey string `json:"hmacKey" mapstructure:"hmac_key"`
	TTL     time.Duration
}

// HTTPIssuer asks an external token service for credentials.
type HTTPIssuer struct {
	// baseURL is the token service root, without trailing slash.
	baseURL string

	// apiKey authenticates this process to the token service.
	apiKey string

	// hmacKey signs every request body.
	hmacKey string

	ttl time.Duration

	breaker *utils.CircuitBreaker
	hc      *http.Client
}

func NewHTTPIssuer(c IssuerConfig) *HTTPIssuer {
	return &HTTPIssuer{
		baseURL: strings.TrimRight(c.BaseURL, "/"),
		apiKey:  c.APIKey,
		hmacKey: c.HMACKey,
		ttl:     c.TTL,
		breaker: utils.NewCircuitBreaker("media-issuer"),

		// set http client with timeout.
		hc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type credentialRequest struct {
	RequestID  string `json:"requestId"`
	Role       string `json:"role"`
	CreatorID  string `json:"creatorId"`
	Identity   string `json:"identity"`
	TTLSeconds int64  `json:"ttlSeconds"`
}

type credentialReply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Token     string `json:"token"`
		URL       string `json:"url"`
		ExpiresAt int64  `json:"expiresAt"`
	} `json:"data"`
}

func (c *HTTPIssuer) RequestCredential(ctx context.Context, role models.Role, creatorID, identity string) (*models.MediaCredential, error) {
	requestID, err := utils.GenerateCode(12)
	if err != nil {
		return nil, fmt.Errorf("request_credential: request id: %w", err)
	}

	body, err := json.Marshal(credentialRequest{
		RequestID:  requestID,
		Role:       string(role),
		CreatorID:  creatorID,
		Identity:   identity,
		TTLSeconds: int64(c.ttl.Seconds()),
	})
	if err != nil {
		return nil, err
	}

	// Only availability failures count against the breaker; a rejected
	// request means the service is up.
	var rejected error
	result, err := c.breaker.Execute(ctx, func() (any, error) {
		reply, err := c.post(ctx, body)
		if err != nil && !errors.Is(err, status.ErrBackendUnavailable) {
			rejected = err
			return nil, nil
		}
		return reply, err
	})
	if errors.Is(err, utils.ErrOpen) || errors.Is(err, utils.ErrTooManyRequests) {
		return nil, status.Unavailable("request_credential", err)
	}
	if err != nil {
		return nil, err
	}
	if rejected != nil {
		return nil, rejected
	}

	reply := result.(*credentialReply)
	return &models.MediaCredential{
		Token:     reply.Data.Token,
		URL:       reply.Data.URL,
		Identity:  identity,
		Role:      role,
		ExpiresAt: time.Unix(reply.Data.ExpiresAt, 0),
	}, nil
}

func (c *HTTPIssuer) post(ctx context.Context, body []byte) (*credentialReply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/credentials", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request_credential: http.NewReq: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Signature", Hmac256(body, []byte(c.hmacKey)))

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, status.Unavailable("request_credential", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("request_credential: status %d: %w", resp.StatusCode, status.ErrUnauthorized)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, status.Unavailable("request_credential", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("request_credential: status %d: %w", resp.StatusCode, status.ErrValidation)
	}

	var reply credentialReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, status.Unavailable("request_credential", fmt.Errorf("json.Decode: %w", err))
	}
	if reply.Status != "OK" || reply.Data.Token == "" {
		return nil, fmt.Errorf("request_credential: reply.Status: %v, reply.Message: %v: %w",
			reply.Status, reply.Message, status.ErrBackendUnavailable)
	}
	return &reply, nil
}

// Hmac256 returns the hex HMAC-SHA256 of body under key.
func Hmac256(body, key []byte) string {
	hash := hmac.New(sha256.New, key)
	hash.Write(body)
	return hex.EncodeToString(hash.Sum(nil))
}

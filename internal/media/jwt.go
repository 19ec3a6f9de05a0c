package media

import (
	"context"
	"fmt"
	"time"

	"consult-queue/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type VideoGrant struct {
	Room         string `json:"room"`
	RoomJoin     bool   `json:"roomJoin"`
	CanPublish   bool   `json:"canPublish"`
	CanSubscribe bool   `json:"canSubscribe"`
	RoomAdmin    bool   `json:"roomAdmin,omitempty"`
}

type GrantClaims struct {
	Video VideoGrant `json:"video"`
	Role  string     `json:"role"`
	jwt.RegisteredClaims
}

// JWTIssuer signs credentials locally for a self-hosted SFU that trusts a
// shared API key and secret.
type JWTIssuer struct {
	apiKey string
	secret []byte
	sfuURL string
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTIssuer(apiKey, secret, sfuURL string, ttl time.Duration) *JWTIssuer {
	return &JWTIssuer{
		apiKey: apiKey,
		secret: []byte(secret),
		sfuURL: sfuURL,
		ttl:    ttl,
		now:    time.Now,
	}
}

func RoomName(creatorID string) string {
	return "consult-" + creatorID
}

func (j *JWTIssuer) RequestCredential(_ context.Context, role models.Role, creatorID, identity string) (*models.MediaCredential, error) {
	now := j.now()
	expiresAt := now.Add(j.ttl)

	claims := GrantClaims{
		Video: VideoGrant{
			Room:         RoomName(creatorID),
			RoomJoin:     true,
			CanPublish:   true,
			CanSubscribe: true,
			RoomAdmin:    role == models.RoleCreator,
		},
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.apiKey,
			Subject:   identity,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return nil, fmt.Errorf("sign media token: %w", err)
	}

	return &models.MediaCredential{
		Token:     token,
		URL:       j.sfuURL,
		Identity:  identity,
		Role:      role,
		ExpiresAt: expiresAt,
	}, nil
}

// Parse verifies a token minted by this issuer.
func (j *JWTIssuer) Parse(token string) (*GrantClaims, error) {
	claims := &GrantClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithTimeFunc(j.now))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

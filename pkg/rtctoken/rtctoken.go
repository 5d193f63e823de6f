// Package rtctoken mints bearer tokens for human operators joining a voice
// room during a handoff. Tokens are HS256-signed JWTs carrying a room grant;
// the room server validates them against the shared API secret. The core
// never holds the secret anywhere else.
package rtctoken

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the token lifetime used when the caller passes zero.
const DefaultTTL = time.Hour

// ErrMissingCredentials is returned by New when the API key or secret is
// empty.
var ErrMissingCredentials = errors.New("rtctoken: api key and secret are required")

// RoomGrant describes what the token holder may do inside one room.
type RoomGrant struct {
	Room        string `json:"room"`
	Join        bool   `json:"join"`
	Publish     bool   `json:"publish"`
	Subscribe   bool   `json:"subscribe"`
	PublishData bool   `json:"publish_data"`
}

// claims is the full JWT payload for an operator join token.
type claims struct {
	jwt.RegisteredClaims
	Name      string    `json:"name"`
	RoomGrant RoomGrant `json:"room_grant"`
	Metadata  string    `json:"metadata"`
}

// Minter signs operator join tokens with a shared room-server secret.
// Safe for concurrent use.
type Minter struct {
	apiKey    string
	apiSecret []byte
	now       func() time.Time
}

// New returns a Minter for the given room-server credentials.
func New(apiKey, apiSecret string) (*Minter, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, ErrMissingCredentials
	}
	return &Minter{
		apiKey:    apiKey,
		apiSecret: []byte(apiSecret),
		now:       time.Now,
	}, nil
}

// MintOperatorToken signs a join token for agentID in roomName. An empty
// displayName defaults to "Agent <id>"; a zero ttl defaults to [DefaultTTL].
// The grant allows joining, publishing, subscribing and data publishing in
// exactly the one room.
func (m *Minter) MintOperatorToken(roomName, agentID, displayName string, ttl time.Duration) (string, error) {
	if roomName == "" {
		return "", errors.New("rtctoken: room name is required")
	}
	if agentID == "" {
		return "", errors.New("rtctoken: agent id is required")
	}
	if displayName == "" {
		displayName = "Agent " + agentID
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	meta, err := json.Marshal(struct {
		Role    string `json:"role"`
		AgentID string `json:"agent_id"`
	}{Role: "human_agent", AgentID: agentID})
	if err != nil {
		return "", fmt.Errorf("rtctoken: encode metadata: %w", err)
	}

	now := m.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.apiKey,
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: displayName,
		RoomGrant: RoomGrant{
			Room:        roomName,
			Join:        true,
			Publish:     true,
			Subscribe:   true,
			PublishData: true,
		},
		Metadata: string(meta),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.apiSecret)
	if err != nil {
		return "", fmt.Errorf("rtctoken: sign token: %w", err)
	}
	return token, nil
}

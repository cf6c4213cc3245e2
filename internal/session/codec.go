package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultLifetime is how long a minted session token stays valid.
const DefaultLifetime = 24 * time.Hour

var (
	// ErrEmptySecret is returned by NewCodec when no signing secret is given.
	ErrEmptySecret = errors.New("session: signing secret is empty")

	// ErrInvalidSubject is returned by Mint for a non-positive subject id.
	ErrInvalidSubject = errors.New("session: subject id must be positive")

	// ErrMissingUpstreamToken is returned by Mint when the upstream token is empty.
	ErrMissingUpstreamToken = errors.New("session: upstream token is empty")
)

// Payload is the verified content of a session token.
type Payload struct {
	// SubjectID is the Discord user id.
	SubjectID int64

	// UpstreamToken is the Discord OAuth2 access token.
	UpstreamToken string

	// ExpiresAt is the fixed expiry set at mint time.
	ExpiresAt time.Time
}

type claims struct {
	jwt.RegisteredClaims
	UserID        int64  `json:"user_id"`
	UpstreamToken string `json:"discord_token"`
}

// Codec mints and verifies HS256 session tokens with a shared secret.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithLifetime overrides DefaultLifetime. Non-positive values are ignored.
func WithLifetime(d time.Duration) CodecOption {
	return func(c *Codec) {
		if d > 0 {
			c.lifetime = d
		}
	}
}

// WithClock sets the time source used for minting and expiry checks.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec creates a Codec signing with secret.
func NewCodec(secret []byte, opts ...CodecOption) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	c := &Codec{
		secret:   append([]byte(nil), secret...),
		lifetime: DefaultLifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Lifetime returns the token lifetime, also used as the cookie Max-Age.
func (c *Codec) Lifetime() time.Duration {
	return c.lifetime
}

// Mint issues a token binding subjectID to upstreamToken, expiring one
// lifetime from now.
func (c *Codec) Mint(subjectID int64, upstreamToken string) (string, error) {
	if subjectID <= 0 {
		return "", ErrInvalidSubject
	}
	if upstreamToken == "" {
		return "", ErrMissingUpstreamToken
	}

	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(subjectID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.lifetime)),
		},
		UserID:        subjectID,
		UpstreamToken: upstreamToken,
	})

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("session: failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of token and returns its payload.
// Any failure yields (nil, false); the cause is deliberately not reported.
func (c *Codec) Verify(token string) (*Payload, bool) {
	if token == "" {
		return nil, false
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, false
	}

	if parsed.UserID <= 0 || parsed.UpstreamToken == "" || parsed.ExpiresAt == nil {
		return nil, false
	}
	// A token is still valid at its exact expiry instant.
	if c.now().After(parsed.ExpiresAt.Time) {
		return nil, false
	}
	if parsed.Subject != "" && parsed.Subject != strconv.FormatInt(parsed.UserID, 10) {
		return nil, false
	}

	return &Payload{
		SubjectID:     parsed.UserID,
		UpstreamToken: parsed.UpstreamToken,
		ExpiresAt:     parsed.ExpiresAt.Time,
	}, true
}

package interrupt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	resumeIssuer     = "assistant0"
	defaultResumeTTL = 24 * time.Hour
	minSecretLength  = 32
)

// ErrInvalidResumeToken is returned for tampered, expired or malformed
// resume tokens.
var ErrInvalidResumeToken = errors.New("interrupt: invalid resume token")

type (
	// ResumeClaims identify the exact suspended tool call.
	ResumeClaims struct {
		ConversationID string          `json:"cid"`
		Turn           int             `json:"turn"`
		ToolCallID     string          `json:"tcid"`
		ToolName       string          `json:"tool"`
		Args           json.RawMessage `json:"args,omitempty"`
		// Position is the index of the assistant message holding the call.
		Position int `json:"pos"`
		jwt.RegisteredClaims
	}

	// Signer issues and verifies HS256 resume tokens.
	Signer struct {
		key []byte
		ttl time.Duration
		now func() time.Time
	}
)

// NewSigner returns a Signer keyed by secret. Tokens live for ttl, 24h when
// zero.
func NewSigner(secret []byte, ttl time.Duration) (*Signer, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("interrupt: resume token secret must be at least %d bytes", minSecretLength)
	}
	if ttl <= 0 {
		ttl = defaultResumeTTL
	}
	return &Signer{key: append([]byte(nil), secret...), ttl: ttl, now: time.Now}, nil
}

// WithClock returns a copy of s using now as its clock.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	cp := *s
	cp.now = now
	return &cp
}

// Sign issues a token for the suspended call of subject.
func (s *Signer) Sign(subject string, c ResumeClaims) (string, error) {
	now := s.now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    resumeIssuer,
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &c).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("interrupt: sign resume token: %w", err)
	}
	return tok, nil
}

// Verify checks the token signature, expiry and subject and returns its
// claims.
func (s *Signer) Verify(subject, token string) (ResumeClaims, error) {
	var c ResumeClaims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(resumeIssuer),
		jwt.WithSubject(subject),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return ResumeClaims{}, fmt.Errorf("%w: %w", ErrInvalidResumeToken, err)
	}
	if c.ConversationID == "" || c.ToolCallID == "" {
		return ResumeClaims{}, fmt.Errorf("%w: missing call identity", ErrInvalidResumeToken)
	}
	return c, nil
}

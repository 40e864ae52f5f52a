// Package captoken issues and verifies signed, time-bounded capability grants.
package captoken

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/agentgate/internal/signing"
)

// Wildcard grants every capability.
const Wildcard = "*"

// DefaultIssuer names tokens issued without an explicit issuer.
const DefaultIssuer = "agentgate"

// Verification failure kinds.
const (
	KindExpired          = "expired"
	KindInvalidSignature = "invalid_signature"
	KindMalformed        = "malformed"
)

// TokenError reports why a token failed verification.
type TokenError struct {
	Kind    string
	TokenID string
	Detail  string
}

func (e *TokenError) Error() string {
	msg := fmt.Sprintf("captoken: %s", e.Kind)
	if e.TokenID != "" {
		msg += fmt.Sprintf(" (token %s)", e.TokenID)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is matches sentinel errors by kind.
func (e *TokenError) Is(target error) bool {
	var t *TokenError
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

var (
	ErrExpired          = &TokenError{Kind: KindExpired}
	ErrInvalidSignature = &TokenError{Kind: KindInvalidSignature}
	ErrMalformed        = &TokenError{Kind: KindMalformed}
)

// Token is an immutable capability grant.
type Token struct {
	TokenID      string    `json:"token_id"`
	Subject      string    `json:"subject"`
	Issuer       string    `json:"issuer"`
	Capabilities []string  `json:"capabilities"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Signature    string    `json:"signature"`
}

// Issuer signs and verifies tokens with one shared secret.
type Issuer struct {
	Name   string
	signer *signing.Signer
	now    func() time.Time
}

// NewIssuer creates an issuer. An empty name uses DefaultIssuer.
func NewIssuer(name string, signer *signing.Signer) *Issuer {
	if name == "" {
		name = DefaultIssuer
	}
	return &Issuer{Name: name, signer: signer, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Issue grants caps to subject for ttl. Capabilities are deduplicated and
// sorted so the signed form is independent of input order.
func (i *Issuer) Issue(subject string, caps []string, ttl time.Duration) (*Token, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, fmt.Errorf("captoken: subject is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("captoken: ttl must be positive, got %s", ttl)
	}
	id, err := generateID()
	if err != nil {
		return nil, err
	}

	now := i.now().UTC()
	t := &Token{
		TokenID:      id,
		Subject:      subject,
		Issuer:       i.Name,
		Capabilities: normalize(caps),
		IssuedAt:     now,
		ExpiresAt:    now.Add(ttl),
	}
	sig, err := i.signer.Sign(t, "signature")
	if err != nil {
		return nil, fmt.Errorf("captoken: sign: %w", err)
	}
	t.Signature = sig
	return t, nil
}

// Verify checks expiry, then the signature, and returns the capability set.
func (i *Issuer) Verify(t *Token) ([]string, error) {
	if t == nil {
		return nil, &TokenError{Kind: KindMalformed, Detail: "nil token"}
	}
	if i.now().After(t.ExpiresAt) {
		return nil, &TokenError{Kind: KindExpired, TokenID: t.TokenID,
			Detail: "expired at " + t.ExpiresAt.UTC().Format(time.RFC3339)}
	}
	ok, err := i.signer.Verify(t, t.Signature, "signature")
	if err != nil {
		return nil, &TokenError{Kind: KindMalformed, TokenID: t.TokenID, Detail: err.Error()}
	}
	if !ok {
		return nil, &TokenError{Kind: KindInvalidSignature, TokenID: t.TokenID}
	}
	return append([]string(nil), t.Capabilities...), nil
}

// HasCapability verifies the token and checks membership. The wildcard
// capability grants everything.
func (i *Issuer) HasCapability(t *Token, capability string) (bool, error) {
	caps, err := i.Verify(t)
	if err != nil {
		return false, err
	}
	for _, c := range caps {
		if c == Wildcard || c == capability {
			return true, nil
		}
	}
	return false, nil
}

// Encode renders a token as unpadded base64url JSON for transport.
func Encode(t *Token) (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("captoken: encode: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode parses a token produced by Encode. It does not verify it.
func Decode(s string) (*Token, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, &TokenError{Kind: KindMalformed, Detail: err.Error()}
	}
	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, &TokenError{Kind: KindMalformed, Detail: err.Error()}
	}
	return &t, nil
}

func normalize(caps []string) []string {
	seen := make(map[string]bool, len(caps))
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func generateID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("captoken: generate id: %w", err)
	}
	return "cap-" + hex.EncodeToString(b), nil
}

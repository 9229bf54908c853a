// Package auth issues and validates the bearer tokens callers present to
// submit bids and subscribe to leaderboard updates. Tokens are cached by
// internal/authcache so the hot path rarely reaches this package at all;
// this is only exercised on a cache miss or first login, mirroring the
// original service's Redis-cache-first / JWT-fallback-reconstruction
// pattern from core/jwt.py and api/auth.py.
//
// No JWT library appears anywhere in the retrieved example pack, so this
// implements the minimal HMAC-signed token scheme itself rather than
// reaching for an out-of-pack dependency (see DESIGN.md).
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lvdashuaibi/bidfeed/internal/apierr"
	"github.com/lvdashuaibi/bidfeed/internal/authcache"
	"github.com/lvdashuaibi/bidfeed/internal/core"
)

const defaultWeight = 1.0

// Issuer signs and validates bearer tokens for a fixed TTL.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer builds an Issuer using secret as the HMAC key.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

type claims struct {
	UserID    string  `json:"userId"`
	Weight    float64 `json:"weight"`
	ExpiresAt int64   `json:"exp"`
}

// Issue mints a token for a principal, defaulting weight to 1.0 when unset.
func (i *Issuer) Issue(userID string, weight float64) (string, error) {
	if weight == 0 {
		weight = defaultWeight
	}
	c := claims{UserID: userID, Weight: weight, ExpiresAt: time.Now().Add(i.ttl).Unix()}
	body, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	encodedBody := base64.RawURLEncoding.EncodeToString(body)
	sig := i.sign(encodedBody)
	return encodedBody + "." + sig, nil
}

// Validate verifies a token's signature and expiry, returning the
// principal it authenticates.
// Validate decodes and verifies a bearer token, returning the principal it
// authenticates. Every failure — malformed shape, bad signature, expiry —
// wraps apierr.ErrAuthFailed so callers get one stable kind to branch on
// instead of matching on message text.
func (i *Issuer) Validate(token string) (core.Principal, error) {
	dot := strings.IndexByte(token, '.')
	if dot < 0 {
		return core.Principal{}, fmt.Errorf("%w: malformed token", apierr.ErrAuthFailed)
	}
	encodedBody, sig := token[:dot], token[dot+1:]

	expected := i.sign(encodedBody)
	if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) != 1 {
		return core.Principal{}, fmt.Errorf("%w: invalid token signature", apierr.ErrAuthFailed)
	}

	body, err := base64.RawURLEncoding.DecodeString(encodedBody)
	if err != nil {
		return core.Principal{}, fmt.Errorf("%w: decode token body: %v", apierr.ErrAuthFailed, err)
	}
	var c claims
	if err := json.Unmarshal(body, &c); err != nil {
		return core.Principal{}, fmt.Errorf("%w: unmarshal claims: %v", apierr.ErrAuthFailed, err)
	}
	if time.Now().Unix() > c.ExpiresAt {
		return core.Principal{}, fmt.Errorf("%w: token expired", apierr.ErrAuthFailed)
	}

	weight := c.Weight
	if weight == 0 {
		weight = defaultWeight
	}
	return core.Principal{UserID: c.UserID, Weight: weight}, nil
}

// Authenticate is the Core API's token -> principal resolution: it
// consults cache first and falls back to Validate on a miss, populating
// cache with the result so the next call for the same token is free. Any
// failure classifies as apierr.ErrAuthFailed, never a bare or ad hoc
// message.
func (i *Issuer) Authenticate(cache *authcache.Cache, token string) (core.Principal, error) {
	if token == "" {
		return core.Principal{}, fmt.Errorf("%w: missing bearer token", apierr.ErrAuthFailed)
	}
	if principal, ok := cache.Get(token); ok {
		return principal, nil
	}
	principal, err := i.Validate(token)
	if err != nil {
		return core.Principal{}, err
	}
	cache.Set(token, principal)
	return principal, nil
}

func (i *Issuer) sign(encodedBody string) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(encodedBody))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

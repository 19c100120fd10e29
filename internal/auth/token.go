package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TokenIssuer mints and verifies HMAC-SHA256 signed bearer tokens.
// Tokens are payload.signature, both base64url, no external state.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates an issuer. ttl bounds token lifetime.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("token secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}, nil
}

type tokenClaims struct {
	UserID    string `json:"uid"`
	ExpiresAt int64  `json:"exp"`
}

// Issue mints a token for a user id.
func (t *TokenIssuer) Issue(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("issue token: user id is required")
	}
	payload, err := json.Marshal(tokenClaims{
		UserID:    userID,
		ExpiresAt: time.Now().Add(t.ttl).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}

	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + t.sign(body), nil
}

// Verify checks a token's signature and expiry and returns the user id.
func (t *TokenIssuer) Verify(token string) (string, error) {
	body, sig, ok := strings.Cut(token, ".")
	if !ok {
		return "", fmt.Errorf("malformed token")
	}
	if !hmac.Equal([]byte(t.sign(body)), []byte(sig)) {
		return "", fmt.Errorf("invalid token signature")
	}

	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("malformed token payload")
	}
	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("malformed token claims")
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("token has no subject")
	}
	if time.Now().Unix() > claims.ExpiresAt {
		return "", fmt.Errorf("token expired")
	}
	return claims.UserID, nil
}

func (t *TokenIssuer) sign(body string) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

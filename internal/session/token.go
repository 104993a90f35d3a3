package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Claims are the JWT fields the client cares about. The signature is not
// verified here; the server is the authority, the client only needs the
// identity hints and the expiry for refresh scheduling.
type Claims struct {
	Subject   string  `json:"sub"`
	Email     string  `json:"email"`
	ExpiresAt float64 `json:"exp"` // Unix seconds
}

// Expiry returns the token expiry as a time, or the zero time if absent.
func (c Claims) Expiry() time.Time {
	if c.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(int64(c.ExpiresAt), 0)
}

// ParseClaims decodes the payload segment of a JWT without verifying it.
func ParseClaims(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, fmt.Errorf("token is not a JWT: %d segments", len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, fmt.Errorf("decode token payload: %w", err)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, fmt.Errorf("unmarshal token claims: %w", err)
	}

	return claims, nil
}

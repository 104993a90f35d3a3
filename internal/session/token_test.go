package session

import (
	"encoding/base64"
	"fmt"
	"testing"
	"time"
)

func makeJWT(t *testing.T, payload string) string {
	t.Helper()
	enc := base64.RawURLEncoding
	header := enc.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	return fmt.Sprintf("%s.%s.%s", header, enc.EncodeToString([]byte(payload)), "sig")
}

func TestParseClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	token := makeJWT(t, fmt.Sprintf(`{"sub":"user-1","email":"u@example.com","exp":%d}`, exp))

	claims, err := ParseClaims(token)
	if err != nil {
		t.Fatalf("ParseClaims: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("Subject = %q", claims.Subject)
	}
	if claims.Email != "u@example.com" {
		t.Errorf("Email = %q", claims.Email)
	}
	if got := claims.Expiry().Unix(); got != exp {
		t.Errorf("Expiry = %d, want %d", got, exp)
	}
}

func TestParseClaimsNoExpiry(t *testing.T) {
	claims, err := ParseClaims(makeJWT(t, `{"sub":"user-1"}`))
	if err != nil {
		t.Fatalf("ParseClaims: %v", err)
	}
	if !claims.Expiry().IsZero() {
		t.Errorf("Expiry = %v, want zero time", claims.Expiry())
	}
}

func TestParseClaimsRejectsMalformed(t *testing.T) {
	for _, token := range []string{
		"",
		"not-a-jwt",
		"one.two",
		"a.!!!.c",
	} {
		if _, err := ParseClaims(token); err == nil {
			t.Errorf("ParseClaims(%q) succeeded, want error", token)
		}
	}
}

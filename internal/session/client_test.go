package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestStaticProvider(t *testing.T) {
	token, err := Static{Token: "tok-1"}.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if token != "tok-1" {
		t.Errorf("token = %q", token)
	}
}

func TestFileProviderReadsEveryCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("tok-1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	provider := File{Path: path}
	token, err := provider.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if token != "tok-1" {
		t.Errorf("token = %q, want trimmed tok-1", token)
	}

	// Rotation on disk is picked up without restart.
	if err := os.WriteFile(path, []byte("tok-2"), 0o600); err != nil {
		t.Fatal(err)
	}
	token, err = provider.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken after rotate: %v", err)
	}
	if token != "tok-2" {
		t.Errorf("token = %q, want tok-2", token)
	}
}

func TestFileProviderErrors(t *testing.T) {
	if _, err := (File{}).AccessToken(context.Background()); err == nil {
		t.Error("empty path should error")
	}
	if _, err := (File{Path: "/nonexistent/token"}).AccessToken(context.Background()); err == nil {
		t.Error("missing file should error")
	}

	empty := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(empty, []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := (File{Path: empty}).AccessToken(context.Background()); err == nil {
		t.Error("blank file should error")
	}
}

func TestClientCachesUntilMargin(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.RefreshToken != "refresh-1" {
			t.Errorf("refresh_token = %q", req.RefreshToken)
		}

		json.NewEncoder(w).Encode(refreshResponse{
			AccessToken: "access-1",
			ExpiresIn:   3600,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "refresh-1")

	for i := 0; i < 3; i++ {
		token, err := client.AccessToken(context.Background())
		if err != nil {
			t.Fatalf("AccessToken: %v", err)
		}
		if token != "access-1" {
			t.Errorf("token = %q", token)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("endpoint called %d times, want 1 (cached)", got)
	}

	client.Invalidate()
	if _, err := client.AccessToken(context.Background()); err != nil {
		t.Fatalf("AccessToken after invalidate: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("endpoint called %d times after invalidate, want 2", got)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(refreshResponse{AccessToken: "access-2", ExpiresIn: 60})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "refresh-1",
		WithRetries(2, time.Millisecond),
	)

	token, err := client.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if token != "access-2" {
		t.Errorf("token = %q", token)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("endpoint called %d times, want 2", got)
	}
}

func TestClientDoesNotRetryAuthFailure(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad refresh token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "stale",
		WithRetries(3, time.Millisecond),
	)

	_, err := client.AccessToken(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("err = %v, want 401 APIError", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("endpoint called %d times, want 1 (no retry on 401)", got)
	}
}

func TestClientFallsBackToClaimExpiry(t *testing.T) {
	// Endpoint omits expires_in; the client reads the JWT's exp claim instead.
	exp := time.Now().Add(time.Hour).Unix()
	jwt := makeJWT(t, fmt.Sprintf(`{"sub":"u","exp":%d}`, exp))

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(refreshResponse{AccessToken: jwt})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "refresh-1")
	token, err := client.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if token != jwt {
		t.Errorf("token = %q", token)
	}

	// The hour-long claim expiry keeps the token cached.
	if _, err := client.AccessToken(context.Background()); err != nil {
		t.Fatalf("cached AccessToken: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("endpoint called %d times, want 1", got)
	}
}

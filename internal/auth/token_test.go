package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

// fake token endpoint counting exchanges
func tokenServer(t *testing.T, calls *atomic.Int64, expiresIn int64, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(delay)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("grant_type") != jwtBearerGrant {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("assertion") == "" {
			http.Error(w, "missing assertion", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":%d}`, calls.Load(), expiresIn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newManager(t *testing.T, tokenURL string) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		TokenURL:      tokenURL,
		Issuer:        "svc@example.invalid",
		Scope:         "https://store.example.invalid/auth",
		PrivateKeyPEM: testKeyPEM(t),
	}, http.DefaultClient)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestToken_CachedWithinMargin_NoNetworkCall(t *testing.T) {
	var calls atomic.Int64
	srv := tokenServer(t, &calls, 3600, 0)
	m := newManager(t, srv.URL)

	ctx := context.Background()
	tok1, err := m.Token(ctx)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	tok2, err := m.Token(ctx)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok1 != tok2 {
		t.Fatalf("cached token changed: %q vs %q", tok1, tok2)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("exchange calls=%d want 1", got)
	}
}

func TestToken_RefreshesInsideMargin(t *testing.T) {
	var calls atomic.Int64
	// lifetime shorter than the 300s margin: every call must refresh
	srv := tokenServer(t, &calls, 200, 0)
	m := newManager(t, srv.URL)

	ctx := context.Background()
	if _, err := m.Token(ctx); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if _, err := m.Token(ctx); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("exchange calls=%d want 2", got)
	}
}

func TestToken_SingleFlight_ConcurrentCallersShareOneExchange(t *testing.T) {
	var calls atomic.Int64
	srv := tokenServer(t, &calls, 3600, 50*time.Millisecond)
	m := newManager(t, srv.URL)

	ctx := context.Background()
	var wg sync.WaitGroup
	tokens := make([]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := m.Token(ctx)
			if err != nil {
				t.Errorf("Token: %v", err)
				return
			}
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("exchange calls=%d want 1", got)
	}
	for i := 1; i < len(tokens); i++ {
		if tokens[i] != tokens[0] {
			t.Fatalf("callers got different tokens: %q vs %q", tokens[0], tokens[i])
		}
	}
}

func TestToken_RefreshSurvivesCallerCancellation(t *testing.T) {
	var calls atomic.Int64
	srv := tokenServer(t, &calls, 3600, 0)
	m := newManager(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tok, err := m.Token(ctx)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok == "" {
		t.Fatal("empty token")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("exchange calls=%d want 1", got)
	}
}

func TestToken_ExchangeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	m := newManager(t, srv.URL)
	if _, err := m.Token(context.Background()); !errors.Is(err, ErrExchange) {
		t.Fatalf("err=%v want ErrExchange", err)
	}
}

func TestNewManager_RejectsBadKey(t *testing.T) {
	_, err := NewManager(Config{
		TokenURL:      "https://token.example.invalid",
		Issuer:        "svc@example.invalid",
		PrivateKeyPEM: []byte("not a pem"),
	}, nil)
	if err == nil {
		t.Fatal("expected error for malformed key")
	}
}

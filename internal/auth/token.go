// Package auth obtains and caches the bearer credential used to query the
// document store. The token lives in process memory only and is rebuilt from
// scratch on restart.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/nearbyops/geodispatch/internal/core/observability"
)

// ErrExchange marks a failed signing or token-exchange step. No store query
// can proceed without a credential, so callers surface this as a server error.
var ErrExchange = errors.New("credential exchange failed")

const (
	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionTTL   = time.Hour

	defaultRefreshMargin   = 300 * time.Second
	defaultExchangeTimeout = 10 * time.Second
)

type Config struct {
	TokenURL      string
	Issuer        string
	Scope         string
	Audience      string // defaults to TokenURL
	PrivateKeyPEM []byte

	// RefreshMargin is how much remaining validity a cached token must have
	// to be served without a refresh.
	RefreshMargin   time.Duration
	ExchangeTimeout time.Duration
}

type credential struct {
	token     string
	expiresAt time.Time
}

// Manager is a process-wide cache-aside around the token exchange. Refresh is
// single-flight: concurrent callers with no valid cached token await one
// in-flight exchange instead of issuing their own.
type Manager struct {
	cfg    Config
	client *http.Client
	key    *rsa.PrivateKey
	now    func() time.Time // for tests

	mu     sync.Mutex
	cached credential
	flight singleflight.Group
}

func NewManager(cfg Config, client *http.Client) (*Manager, error) {
	if cfg.TokenURL == "" {
		return nil, errors.New("auth: missing token URL")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("auth: missing issuer")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	if cfg.Audience == "" {
		cfg.Audience = cfg.TokenURL
	}
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = defaultRefreshMargin
	}
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = defaultExchangeTimeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Manager{cfg: cfg, client: client, key: key, now: time.Now}, nil
}

// Token returns a bearer token with at least RefreshMargin of validity left,
// refreshing synchronously when the cached one is absent or too close to
// expiry.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if tok, ok := m.cachedToken(); ok {
		observability.IncCredentialCacheHit()
		return tok, nil
	}
	observability.IncCredentialCacheMiss()

	v, err, _ := m.flight.Do("token", func() (any, error) {
		// a concurrent caller may have refreshed while we queued
		if tok, ok := m.cachedToken(); ok {
			return tok, nil
		}
		// waiting callers share this result, so the winner's request
		// cancellation must not abort the exchange; it has its own timeout
		return m.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) cachedToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached.token == "" {
		return "", false
	}
	if m.now().Add(m.cfg.RefreshMargin).After(m.cached.expiresAt) {
		return "", false
	}
	return m.cached.token, true
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	assertion, err := m.signAssertion()
	if err != nil {
		return "", fmt.Errorf("%w: sign assertion: %v", ErrExchange, err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ExchangeTimeout)
	defer cancel()

	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrExchange, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := m.now()
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchange, err)
	}
	defer func() { _ = resp.Body.Close() }()
	observability.ObserveUpstreamLatency("token", time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return "", fmt.Errorf("%w: status %d: %s", ErrExchange, resp.StatusCode, string(b))
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrExchange, err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access_token", ErrExchange)
	}

	m.mu.Lock()
	m.cached = credential{
		token:     body.AccessToken,
		expiresAt: m.now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}
	m.mu.Unlock()

	return body.AccessToken, nil
}

func (m *Manager) signAssertion() (string, error) {
	now := m.now()
	claims := jwt.MapClaims{
		"iss":   m.cfg.Issuer,
		"scope": m.cfg.Scope,
		"aud":   m.cfg.Audience,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.key)
}

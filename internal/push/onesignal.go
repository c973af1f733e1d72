package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/nearbyops/geodispatch/internal/core/observability"
)

// ErrGateway marks a failed push gateway call, including calls rejected by an
// open breaker.
var ErrGateway = errors.New("push gateway call failed")

const defaultSendTimeout = 10 * time.Second

type OneSignalConfig struct {
	BaseURL string // e.g. https://onesignal.com/api/v1
	AppID   string
	APIKey  string
	Timeout time.Duration
}

// OneSignal sends create-notification calls to a OneSignal-compatible
// gateway. Calls run through a circuit breaker so a dead gateway is not
// hammered on every request.
type OneSignal struct {
	logger  *slog.Logger
	client  *http.Client
	cfg     OneSignalConfig
	breaker *gobreaker.CircuitBreaker[struct{}]
}

func NewOneSignal(logger *slog.Logger, httpClient *http.Client, cfg OneSignalConfig) *OneSignal {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSendTimeout
	}
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "push-gateway",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &OneSignal{logger: logger, client: httpClient, cfg: cfg, breaker: breaker}
}

func (g *OneSignal) Send(ctx context.Context, batch Batch) error {
	_, err := g.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, g.send(ctx, batch)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGateway, err)
	}
	return nil
}

func (g *OneSignal) send(ctx context.Context, batch Batch) error {
	payload := map[string]any{
		"app_id":             g.cfg.AppID,
		"include_player_ids": batch.RecipientIDs,
		"headings":           map[string]string{"en": batch.Title},
		"contents":           map[string]string{"en": batch.Body},
	}
	if len(batch.Metadata) > 0 {
		payload["data"] = batch.Metadata
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/notifications", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+g.cfg.APIKey)

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	observability.ObserveUpstreamLatency("push", time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return fmt.Errorf("gateway status %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

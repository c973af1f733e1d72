// Package orchestrator runs one dispatch request end to end: resolve the
// center key, expand its neighborhood, query the registry, extract and dedupe
// recipients, fan the notification out and shape the response.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nearbyops/geodispatch/internal/auth"
	"github.com/nearbyops/geodispatch/internal/core/model"
	"github.com/nearbyops/geodispatch/internal/core/observability"
	"github.com/nearbyops/geodispatch/internal/geohash"
	"github.com/nearbyops/geodispatch/internal/push"
	"github.com/nearbyops/geodispatch/internal/store"
)

// ErrValidation marks a client-side input problem, mapped to HTTP 400.
var ErrValidation = errors.New("invalid request")

// MissingFieldsMessage is the fixed client-error body for absent inputs.
const MissingFieldsMessage = "Missing required fields"

// Expander produces the spatial keys covering a center key's neighborhood.
type Expander interface {
	Expand(centerKey string) []string
}

type Config struct {
	// Precision of keys computed from raw coordinates. Caller-supplied keys
	// are authoritative and never recomputed.
	Precision int
	Contract  store.Contract
	// StoreFailOpen degrades a failed store query to an empty result set
	// instead of failing the request.
	StoreFailOpen bool
}

type Orchestrator struct {
	cfg        Config
	logger     *slog.Logger
	expander   Expander
	querier    store.Querier
	dispatcher *push.Dispatcher
}

func New(cfg Config, logger *slog.Logger, expander Expander, querier store.Querier, dispatcher *push.Dispatcher) *Orchestrator {
	if cfg.Precision < geohash.MinPrecision || cfg.Precision > geohash.MaxPrecision {
		cfg.Precision = 6
	}
	cfg.Contract = cfg.Contract.WithDefaults()
	return &Orchestrator{
		cfg:        cfg,
		logger:     logger,
		expander:   expander,
		querier:    querier,
		dispatcher: dispatcher,
	}
}

// Handle runs the request to completion. Returned errors are either
// ErrValidation-wrapped (client fault) or server faults; everything else
// degrades into a best-effort response.
func (o *Orchestrator) Handle(ctx context.Context, req model.DispatchRequest) (model.DispatchResponse, error) {
	service := strings.TrimSpace(req.Service)
	if service == "" {
		return model.DispatchResponse{}, fmt.Errorf("%w: %s", ErrValidation, MissingFieldsMessage)
	}

	center, err := o.resolveCenter(req)
	if err != nil {
		return model.DispatchResponse{}, err
	}

	keys := o.expander.Expand(center)

	q := store.BuildQuery(o.cfg.Contract, keys, service)
	docs, err := o.querier.Run(ctx, q)
	if err != nil {
		// without a credential the match cannot run at all
		if errors.Is(err, auth.ErrExchange) {
			return model.DispatchResponse{}, err
		}
		if !o.cfg.StoreFailOpen {
			return model.DispatchResponse{}, err
		}
		o.logger.Warn("store query failed, treating as no matches", "err", err)
		docs = nil
	}

	raw := make([]string, 0, len(docs))
	for _, doc := range docs {
		raw = append(raw, doc.StringField(o.cfg.Contract.RecipientField))
	}
	recipients := push.Dedupe(raw)
	observability.ObserveProvidersMatched(len(recipients))

	result := o.dispatcher.Dispatch(ctx, push.Batch{
		RecipientIDs: recipients,
		Title:        fmt.Sprintf("New %s request nearby", service),
		Body:         notificationBody(req, service),
		Metadata: map[string]string{
			"requestId": req.RequestID,
			"service":   service,
			"geohash":   center,
		},
	})

	if len(recipients) == 0 {
		observability.IncDispatchOutcome(model.StatusNoProviders)
		o.logger.Info("no providers matched", "geohash", center, "service", service)
		return model.DispatchResponse{
			Status:  model.StatusNoProviders,
			Message: "No providers available in your area",
		}, nil
	}

	observability.IncDispatchOutcome(model.StatusSuccess)
	resp := model.DispatchResponse{
		Status:   model.StatusSuccess,
		Notified: result.Attempted,
		Message:  "Nearby providers have been notified",
	}
	if !result.Succeeded {
		// the match succeeded; delivery did not
		resp.Message = "Providers matched but notification delivery failed"
	}
	return resp, nil
}

// resolveCenter returns the authoritative center key: the caller-supplied one
// when present, otherwise a fresh encoding of the raw coordinates.
func (o *Orchestrator) resolveCenter(req model.DispatchRequest) (string, error) {
	if key := strings.TrimSpace(req.Geohash); key != "" {
		if !geohash.Valid(key) {
			return "", fmt.Errorf("%w: malformed geohash %q", ErrValidation, key)
		}
		return key, nil
	}
	loc := req.UserLocation
	if loc == nil || loc.Latitude == nil || loc.Longitude == nil {
		return "", fmt.Errorf("%w: %s", ErrValidation, MissingFieldsMessage)
	}
	key, err := geohash.Encode(*loc.Latitude, *loc.Longitude, o.cfg.Precision)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return key, nil
}

func notificationBody(req model.DispatchRequest, service string) string {
	who := "A customer"
	if req.UserName != "" {
		who = req.UserName
	}
	if req.LocationDescription != "" {
		return fmt.Sprintf("%s needs %s near %s", who, service, req.LocationDescription)
	}
	return fmt.Sprintf("%s nearby needs %s", who, service)
}

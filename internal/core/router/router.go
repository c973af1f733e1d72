// Package router validates inbound dispatch requests and shapes responses.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/nearbyops/geodispatch/internal/core/model"
	"github.com/nearbyops/geodispatch/internal/core/observability"
	"github.com/nearbyops/geodispatch/internal/orchestrator"
)

const maxBodyBytes = 1 << 20

// DispatchHandler runs a validated dispatch request to completion.
type DispatchHandler interface {
	Handle(ctx context.Context, req model.DispatchRequest) (model.DispatchResponse, error)
}

// HandleDispatch decodes, validates and serves POST /dispatch.
func HandleDispatch(logger *slog.Logger, validate *validator.Validate, h DispatchHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, "/dispatch", sw.code, time.Since(start).Seconds())
		}()

		req, err := ParseDispatchRequest(r, validate)
		if err != nil {
			observability.IncDispatchOutcome("error")
			writeJSON(sw, http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
			return
		}

		resp, err := h.Handle(r.Context(), req)
		if err != nil {
			observability.IncDispatchOutcome("error")
			if errors.Is(err, orchestrator.ErrValidation) {
				writeJSON(sw, http.StatusBadRequest, model.ErrorResponse{Error: validationMessage(err)})
				return
			}
			logger.ErrorContext(r.Context(), "dispatch request failed", "err", err)
			writeJSON(sw, http.StatusInternalServerError, model.ErrorResponse{
				Error:   "Internal server error",
				Details: err.Error(),
			})
			return
		}

		writeJSON(sw, http.StatusOK, resp)
	}
}

// ParseDispatchRequest decodes and validates the request body. Validation
// failures surface as the fixed missing-fields message for absent inputs and
// a coordinate message for range violations.
func ParseDispatchRequest(r *http.Request, validate *validator.Validate) (model.DispatchRequest, error) {
	var req model.DispatchRequest
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		return model.DispatchRequest{}, errors.New("invalid JSON body")
	}

	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				switch fe.Tag() {
				case "required", "required_without":
					return model.DispatchRequest{}, errors.New(orchestrator.MissingFieldsMessage)
				}
			}
			return model.DispatchRequest{}, errors.New("invalid coordinates")
		}
		return model.DispatchRequest{}, errors.New(orchestrator.MissingFieldsMessage)
	}

	if strings.TrimSpace(req.RequestID) == "" {
		req.RequestID = uuid.NewString()
	}
	return req, nil
}

// validationMessage strips the sentinel prefix so clients see only the cause.
func validationMessage(err error) string {
	msg := err.Error()
	prefix := orchestrator.ErrValidation.Error() + ": "
	if strings.HasPrefix(msg, prefix) {
		return strings.TrimPrefix(msg, prefix)
	}
	return msg
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

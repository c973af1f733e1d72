package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nearbyops/geodispatch/internal/core/observability"
)

// ErrQuery marks a failed store call. The orchestrator decides whether it
// degrades to an empty result set or surfaces, so the client never swallows.
var ErrQuery = errors.New("store query failed")

const defaultQueryTimeout = 10 * time.Second

// TokenSource supplies the bearer credential for store calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Querier is the collaborator seam the orchestrator consumes.
type Querier interface {
	Run(ctx context.Context, q Query) ([]Document, error)
}

// Document is one store row with its fields decoded to plain Go scalars.
type Document map[string]any

// StringField returns the named field when it is a string, "" otherwise.
func (d Document) StringField(name string) string {
	s, _ := d[name].(string)
	return s
}

// Client executes queries against the store's REST run-query endpoint.
type Client struct {
	logger  *slog.Logger
	client  *http.Client
	baseURL *url.URL // .../documents, without the :runQuery suffix
	creds   TokenSource
	timeout time.Duration
}

func NewClient(logger *slog.Logger, httpClient *http.Client, base string, creds TokenSource, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	if creds == nil {
		return nil, errors.New("store: nil token source")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &Client{
		logger:  logger,
		client:  httpClient,
		baseURL: u,
		creds:   creds,
		timeout: timeout,
	}, nil
}

// Run executes q and returns the decoded documents. Credential failures are
// returned unwrapped so callers can tell them apart from query failures.
func (c *Client) Run(ctx context.Context, q Query) ([]Document, error) {
	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(renderRunQuery(q))
	if err != nil {
		return nil, fmt.Errorf("%w: marshal query: %v", ErrQuery, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL.String() + ":runQuery"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrQuery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	defer func() { _ = resp.Body.Close() }()
	observability.ObserveUpstreamLatency("store", time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("%w: status %d: %s", ErrQuery, resp.StatusCode, string(b))
	}

	var rows []struct {
		Document *struct {
			Name   string                     `json:"name"`
			Fields map[string]json.RawMessage `json:"fields"`
		} `json:"document"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrQuery, err)
	}

	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		// trailing rows may carry only a readTime
		if row.Document == nil {
			continue
		}
		doc := make(Document, len(row.Document.Fields))
		for name, raw := range row.Document.Fields {
			doc[name] = decodeValue(raw)
		}
		docs = append(docs, doc)
	}

	c.logger.Debug("store query done",
		"collection", q.Collection,
		"documents", len(docs))
	return docs, nil
}

// renderRunQuery maps a Query onto the store's structured-query JSON form.
func renderRunQuery(q Query) map[string]any {
	filters := make([]map[string]any, 0, len(q.Predicates))
	for _, p := range q.Predicates {
		filters = append(filters, map[string]any{
			"fieldFilter": map[string]any{
				"field": map[string]any{"fieldPath": p.Field},
				"op":    string(p.Op),
				"value": renderValue(p.Value),
			},
		})
	}
	return map[string]any{
		"structuredQuery": map[string]any{
			"from": []map[string]any{{"collectionId": q.Collection}},
			"where": map[string]any{
				"compositeFilter": map[string]any{
					"op":      "AND",
					"filters": filters,
				},
			},
		},
	}
}

func renderValue(v any) map[string]any {
	switch val := v.(type) {
	case bool:
		return map[string]any{"booleanValue": val}
	case string:
		return map[string]any{"stringValue": val}
	case int:
		return map[string]any{"integerValue": strconv.Itoa(val)}
	case int64:
		return map[string]any{"integerValue": strconv.FormatInt(val, 10)}
	case float64:
		return map[string]any{"doubleValue": val}
	case []string:
		values := make([]map[string]any, 0, len(val))
		for _, s := range val {
			values = append(values, map[string]any{"stringValue": s})
		}
		return map[string]any{"arrayValue": map[string]any{"values": values}}
	default:
		return map[string]any{"nullValue": nil}
	}
}

// decodeValue unwraps one typed store value to a plain Go scalar. Unknown or
// null kinds decode to nil.
func decodeValue(raw json.RawMessage) any {
	var typed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &typed); err != nil {
		return nil
	}
	if v, ok := typed["stringValue"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil {
			return s
		}
	}
	if v, ok := typed["booleanValue"]; ok {
		var b bool
		if json.Unmarshal(v, &b) == nil {
			return b
		}
	}
	if v, ok := typed["integerValue"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n
			}
		}
	}
	if v, ok := typed["doubleValue"]; ok {
		var f float64
		if json.Unmarshal(v, &f) == nil {
			return f
		}
	}
	if v, ok := typed["arrayValue"]; ok {
		var arr struct {
			Values []json.RawMessage `json:"values"`
		}
		if json.Unmarshal(v, &arr) == nil {
			out := make([]any, 0, len(arr.Values))
			for _, item := range arr.Values {
				out = append(out, decodeValue(item))
			}
			return out
		}
	}
	return nil
}

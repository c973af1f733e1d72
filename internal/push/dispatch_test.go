package push

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingGateway struct {
	calls int
	last  Batch
	err   error
}

func (g *countingGateway) Send(_ context.Context, batch Batch) error {
	g.calls++
	g.last = batch
	return g.err
}

func TestDedupe(t *testing.T) {
	raw := []string{
		"player-aaaa", " player-aaaa ", "player-bbbb",
		"", "   ", "player-bbbb",
	}
	got := Dedupe(raw)
	want := []string{"player-aaaa", "player-bbbb"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Dedupe=%v want %v", got, want)
	}
}

func TestDedupe_KeepsShortIdentifiers(t *testing.T) {
	got := Dedupe([]string{"a", "a", "b"})
	want := []string{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Dedupe=%v want %v", got, want)
	}
}

func TestDispatch_EmptyBatchSkipsGateway(t *testing.T) {
	gw := &countingGateway{}
	d := NewDispatcher(discardLogger(), gw)

	res := d.Dispatch(context.Background(), Batch{Title: "t", Body: "b"})
	if gw.calls != 0 {
		t.Fatalf("gateway calls=%d want 0", gw.calls)
	}
	if res.Attempted != 0 || !res.Succeeded {
		t.Fatalf("result=%+v want {0 true}", res)
	}
}

func TestDispatch_GatewayFailureIsContained(t *testing.T) {
	gw := &countingGateway{err: errors.New("gateway down")}
	d := NewDispatcher(discardLogger(), gw)

	res := d.Dispatch(context.Background(), Batch{RecipientIDs: []string{"player-aaaa", "player-bbbb"}})
	if gw.calls != 1 {
		t.Fatalf("gateway calls=%d want 1", gw.calls)
	}
	if res.Attempted != 2 || res.Succeeded {
		t.Fatalf("result=%+v want {2 false}", res)
	}
}

func TestOneSignal_SendShape(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"n1","recipients":2}`))
	}))
	t.Cleanup(srv.Close)

	g := NewOneSignal(discardLogger(), srv.Client(), OneSignalConfig{
		BaseURL: srv.URL,
		AppID:   "app-1",
		APIKey:  "rest-key",
	})

	err := g.Send(context.Background(), Batch{
		RecipientIDs: []string{"player-aaaa", "player-bbbb"},
		Title:        "Service request nearby",
		Body:         "Tow needed",
		Metadata:     map[string]string{"requestId": "r1"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotAuth != "Basic rest-key" {
		t.Fatalf("Authorization=%q", gotAuth)
	}
	if gotBody["app_id"] != "app-1" {
		t.Fatalf("app_id=%v", gotBody["app_id"])
	}
	ids := gotBody["include_player_ids"].([]any)
	if len(ids) != 2 {
		t.Fatalf("include_player_ids=%v", ids)
	}
	contents := gotBody["contents"].(map[string]any)
	if contents["en"] != "Tow needed" {
		t.Fatalf("contents=%v", contents)
	}
}

func TestOneSignal_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	g := NewOneSignal(discardLogger(), srv.Client(), OneSignalConfig{BaseURL: srv.URL, AppID: "a", APIKey: "k"})

	batch := Batch{RecipientIDs: []string{"player-aaaa"}}
	for i := 0; i < 8; i++ {
		if err := g.Send(context.Background(), batch); !errors.Is(err, ErrGateway) {
			t.Fatalf("send %d: err=%v want ErrGateway", i, err)
		}
	}
	// breaker trips at 5 consecutive failures; later sends never reach the wire
	if hits != 5 {
		t.Fatalf("gateway hits=%d want 5", hits)
	}
}

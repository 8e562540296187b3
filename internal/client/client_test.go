package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"conveyor/internal/api"
	"conveyor/internal/broadcast"
)

func TestClientSendsTokenAndDecodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(api.ErrorResponse{Error: "unauthorized"})
			return
		}
		switch r.URL.Path {
		case "/api/stats":
			json.NewEncoder(w).Encode(api.StatsView{Total: 3, Capacity: 5})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := New(strings.TrimPrefix(server.URL, "http://"), "secret")
	stats, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.Total != 3 || stats.Capacity != 5 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	unauthenticated := New(server.URL, "")
	if _, err := unauthenticated.Stats(context.Background()); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "invalid stage plan"})
	}))
	defer server.Close()

	c := New(server.URL, "")
	_, err := c.SubmitBatch(context.Background(), api.BatchRequest{StagePlan: []string{"nope"}})
	if err == nil || !strings.Contains(err.Error(), "invalid stage plan") {
		t.Fatalf("expected API error message, got %v", err)
	}
}

func TestClientEventsStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "application/x-ndjson")
		encoder := json.NewEncoder(w)
		for i := 0; i < 3; i++ {
			event, _ := broadcast.JobUpdate(map[string]int{"id": i})
			encoder.Encode(event)
			flusher.Flush()
		}
	}))
	defer server.Close()

	c := New(server.URL, "")
	var seen int
	err := c.Events(context.Background(), func(event broadcast.Event) error {
		if event.Type != broadcast.TypeJobUpdate {
			t.Fatalf("unexpected event type %q", event.Type)
		}
		seen++
		return nil
	})
	if err != nil {
		t.Fatalf("Events returned error: %v", err)
	}
	if seen != 3 {
		t.Fatalf("expected 3 events, got %d", seen)
	}
}

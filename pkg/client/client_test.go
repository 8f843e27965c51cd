package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newFakeDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/records/events", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("auth header = %q", got)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"formSubmissionId": "fs-1"})
	})
	mux.HandleFunc("GET /api/v1/sync/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"unsynced_events": 4, "last_server_version": 17,
		})
	})
	mux.HandleFunc("POST /api/v1/sync", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
	})
	mux.HandleFunc("GET /api/v1/changes/events", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("after"); got != "5" {
			t.Errorf("after = %q, want 5", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"events": []map[string]any{{"FormSubmissionID": "fs-9", "RowSeq": 6}},
			"count":  1,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: baseURL, APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without BaseURL")
	}
}

func TestClient_CaptureEvent(t *testing.T) {
	srv := newFakeDaemon(t)
	c := newTestClient(t, srv.URL)

	id, err := c.CaptureEvent(context.Background(),
		json.RawMessage(`{"baseEntityId":"c1","eventType":"Visit"}`))
	if err != nil {
		t.Fatal(err)
	}
	if id != "fs-1" {
		t.Errorf("id = %s, want fs-1", id)
	}
}

func TestClient_Status(t *testing.T) {
	srv := newFakeDaemon(t)
	c := newTestClient(t, srv.URL)

	report, err := c.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.UnsyncedEvents != 4 || report.Watermark != 17 {
		t.Errorf("report = %+v", report)
	}
}

func TestClient_TriggerSync(t *testing.T) {
	srv := newFakeDaemon(t)
	c := newTestClient(t, srv.URL)

	if err := c.TriggerSync(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestClient_EventChanges(t *testing.T) {
	srv := newFakeDaemon(t)
	c := newTestClient(t, srv.URL)

	page, err := c.EventChanges(context.Background(), 5, 10)
	if err != nil {
		t.Fatal(err)
	}
	if page.Count != 1 || page.Events[0].FormSubmissionID != "fs-9" {
		t.Errorf("page = %+v", page)
	}
}

func TestClient_DaemonErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	if _, err := c.Status(context.Background()); err == nil {
		t.Fatal("expected error for 401 response")
	}
}

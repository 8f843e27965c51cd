package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/hyperengineering/vitalsync/internal/store"
	"github.com/hyperengineering/vitalsync/internal/types"
)

const testAPIKey = "test-key"

type fakeTrigger struct{ fired int }

func (f *fakeTrigger) Trigger() { f.fired++ }

type fakeValidator struct {
	outcome types.ValidationOutcome
	err     error
}

func (f *fakeValidator) Validate(ctx context.Context) (types.ValidationOutcome, error) {
	return f.outcome, f.err
}

func newTestServer(t *testing.T) (*httptest.Server, *store.SQLiteStore, *fakeTrigger) {
	t.Helper()
	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	trigger := &fakeTrigger{}
	handler := NewHandler(db, trigger, &fakeValidator{outcome: types.ValidationNothing}, testAPIKey, "test")
	srv := httptest.NewServer(NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv, db, trigger
}

func doRequest(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatal(err)
	}
}

func TestAPI_HealthIsPublic(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAPI_ProtectedRoutesRequireAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/sync/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/problem+json" {
		t.Errorf("content type = %s, want problem+json", got)
	}
}

func TestAPI_CaptureAndFetchEvent(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// Given: an event captured without a submission id
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/records/events",
		`{"baseEntityId":"c1","eventType":"Visit"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var created struct {
		FormSubmissionID string `json:"formSubmissionId"`
	}
	decodeBody(t, resp, &created)
	if created.FormSubmissionID == "" {
		t.Fatal("expected assigned formSubmissionId")
	}

	// Then: it is readable under the assigned key
	resp = doRequest(t, http.MethodGet,
		srv.URL+"/api/v1/records/events/"+created.FormSubmissionID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var event types.Event
	decodeBody(t, resp, &event)
	if event.SyncStatus != types.StatusUnsynced {
		t.Errorf("SyncStatus = %s, want Unsynced", event.SyncStatus)
	}
}

func TestAPI_CaptureEventWithoutEntityKeyRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/records/events",
		`{"eventType":"Visit"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestAPI_CaptureClientAndStatusReport(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/records/clients",
		`{"baseEntityId":"c1","firstName":"Amina"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/sync/status", "")
	var report types.SyncStatusReport
	decodeBody(t, resp, &report)
	if report.TotalClients != 1 || report.UnsyncedClients != 1 {
		t.Errorf("report = %+v, want 1 total / 1 unsynced client", report)
	}
}

func TestAPI_TriggerSyncQueuesCycle(t *testing.T) {
	srv, _, trigger := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/sync", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
	if trigger.fired != 1 {
		t.Errorf("trigger fired %d times, want 1", trigger.fired)
	}
}

func TestAPI_EventChangesCursor(t *testing.T) {
	srv, db, _ := newTestServer(t)
	ctx := context.Background()

	for _, fs := range []string{"fs1", "fs2", "fs3"} {
		payload := json.RawMessage(
			`{"baseEntityId":"c1","formSubmissionId":"` + fs + `","eventType":"Visit"}`)
		if _, err := db.UpsertEvent(ctx, payload, types.StatusUnsynced); err != nil {
			t.Fatal(err)
		}
	}

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/changes/events?after=0&limit=2", "")
	var page struct {
		Events []types.Event `json:"events"`
		Count  int           `json:"count"`
	}
	decodeBody(t, resp, &page)
	if page.Count != 2 {
		t.Fatalf("first page count = %d, want 2", page.Count)
	}

	cursor := page.Events[len(page.Events)-1].RowSeq
	resp = doRequest(t, http.MethodGet,
		srv.URL+"/api/v1/changes/events?after="+itoa(cursor), "")
	decodeBody(t, resp, &page)
	if page.Count != 1 || page.Events[0].FormSubmissionID != "fs3" {
		t.Errorf("second page = %+v, want just fs3", page.Events)
	}
}

func TestAPI_ChangesRejectsBadCursor(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/changes/events?after=-1", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAPI_GetMissingRecordIs404(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/records/clients/nope", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

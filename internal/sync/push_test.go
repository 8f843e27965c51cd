package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperengineering/vitalsync/internal/types"
)

func captureEvents(t *testing.T, db interface {
	UpsertEvent(ctx context.Context, payload json.RawMessage, status types.SyncStatus) (string, error)
}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		payload := json.RawMessage(fmt.Sprintf(
			`{"baseEntityId":"c1","formSubmissionId":"fs%03d","eventType":"Visit"}`, i))
		if _, err := db.UpsertEvent(context.Background(), payload, types.StatusUnsynced); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPush_DrainsBacklogInBatches(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	// Given: a backlog larger than one batch
	captureEvents(t, db, 7)
	if err := db.UpsertClient(ctx, "c1",
		json.RawMessage(`{"baseEntityId":"c1","firstName":"Amina"}`), types.StatusUnsynced); err != nil {
		t.Fatal(err)
	}

	tr := &fakeTransport{}
	engine := NewPushEngine(db, tr, testLogger())
	engine.SetLimit(3)

	pushed, err := engine.Push(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Then: three batches of 3+3+1 events, backlog drained
	if pushed != 7 {
		t.Errorf("pushed = %d, want 7", pushed)
	}
	if len(tr.pushCalls) != 3 {
		t.Fatalf("batches = %d, want 3", len(tr.pushCalls))
	}
	if len(tr.pushCalls[0].Events) != 3 || len(tr.pushCalls[2].Events) != 1 {
		t.Errorf("batch sizes = %d,%d,%d",
			len(tr.pushCalls[0].Events), len(tr.pushCalls[1].Events), len(tr.pushCalls[2].Events))
	}
	// The owning client rides along only while it is still unsynced.
	if len(tr.pushCalls[0].Clients) != 1 {
		t.Errorf("first batch clients = %d, want 1", len(tr.pushCalls[0].Clients))
	}
	if len(tr.pushCalls[1].Clients) != 0 {
		t.Errorf("second batch clients = %d, want 0 (already acknowledged)", len(tr.pushCalls[1].Clients))
	}

	remaining, err := db.UnsyncedBatch(ctx, 50)
	if err != nil {
		t.Fatal(err)
	}
	if !remaining.Empty() {
		t.Errorf("backlog not drained: %d events", len(remaining.Events))
	}
}

func TestPush_FailureLeavesRecordsUnsynced(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	captureEvents(t, db, 2)
	tr := &fakeTransport{pushErr: errors.New("server unavailable")}
	engine := NewPushEngine(db, tr, testLogger())

	pushed, err := engine.Push(ctx)
	if err == nil {
		t.Fatal("expected push failure")
	}
	if pushed != 0 {
		t.Errorf("pushed = %d, want 0", pushed)
	}

	// Nothing may be marked until the server acknowledges.
	remaining, err := db.UnsyncedBatch(ctx, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining.Events) != 2 {
		t.Errorf("backlog = %d events, want 2", len(remaining.Events))
	}
}

func TestForcePush_ResendsRecordsWithoutValidVerdict(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	// Given: an acknowledged event the server never validated, one rejected,
	// and one fully confirmed
	pulled := json.RawMessage(`{"baseEntityId":"c1","formSubmissionId":"fs1","id":"ev1","serverVersion":5}`)
	if err := db.ApplyPullBatch(ctx, types.RecordBatch{Events: []json.RawMessage{pulled}}, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpsertEvent(ctx,
		json.RawMessage(`{"baseEntityId":"c1","formSubmissionId":"fs2","id":"ev2","eventType":"Visit"}`),
		types.StatusSynced); err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpsertEvent(ctx,
		json.RawMessage(`{"baseEntityId":"c1","formSubmissionId":"fs3","id":"ev3","eventType":"Visit"}`),
		types.StatusSynced); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkEventValidation(ctx, "fs3", false); err != nil {
		t.Fatal(err)
	}

	// When: the sweep runs one event per batch. Acknowledged events stay
	// verdict-less, so termination must come from the sweep bound, not from
	// the predicate draining.
	tr := &fakeTransport{}
	engine := NewPushEngine(db, tr, testLogger())
	engine.SetLimit(1)
	pushed, err := engine.ForcePush(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Then: the unvalidated and the rejected event go out exactly once, the
	// confirmed pulled record does not
	if pushed != 2 {
		t.Errorf("pushed = %d, want 2", pushed)
	}
	if len(tr.pushCalls) != 2 {
		t.Fatalf("batches = %d, want 2", len(tr.pushCalls))
	}
	for i, call := range tr.pushCalls {
		if len(call.Events) != 1 {
			t.Errorf("batch %d carried %d events, want 1", i, len(call.Events))
		}
	}
}

func TestPush_EmptyBacklogMakesNoRequests(t *testing.T) {
	db := newTestStore(t)
	tr := &fakeTransport{}

	pushed, err := NewPushEngine(db, tr, testLogger()).Push(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if pushed != 0 || len(tr.pushCalls) != 0 {
		t.Errorf("pushed = %d, calls = %d, want 0/0", pushed, len(tr.pushCalls))
	}
}

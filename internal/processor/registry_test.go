package processor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hyperengineering/vitalsync/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func record(eventType string) types.EventClient {
	return types.EventClient{Event: types.Event{EventType: eventType}}
}

type capturing struct {
	name string
	got  [][]types.EventClient
	err  error
}

func (c *capturing) Name() string { return c.name }

func (c *capturing) Process(ctx context.Context, records []types.EventClient) error {
	c.got = append(c.got, records)
	return c.err
}

func TestRegistry_RoutesByEventType(t *testing.T) {
	r := NewRegistry(testLogger())
	births := &capturing{name: "births"}
	visits := &capturing{name: "visits"}
	r.Register(births, "Birth Registration")
	r.Register(visits, "Visit", "ANC Visit")

	r.Process(context.Background(), []types.EventClient{
		record("Visit"),
		record("Birth Registration"),
		record("ANC Visit"),
	})

	if len(births.got) != 1 || len(births.got[0]) != 1 {
		t.Errorf("births got %v batches", births.got)
	}
	if len(visits.got) != 1 || len(visits.got[0]) != 2 {
		t.Errorf("visits got %v batches", visits.got)
	}
}

func TestRegistry_GenericCatchesUnboundTypes(t *testing.T) {
	r := NewRegistry(testLogger())
	generic := &capturing{name: "generic"}
	r.SetGeneric(generic)

	r.Process(context.Background(), []types.EventClient{record("Something Else")})

	if len(generic.got) != 1 {
		t.Fatalf("generic got %d batches, want 1", len(generic.got))
	}
}

func TestRegistry_NoProcessorNoPanic(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Process(context.Background(), []types.EventClient{record("Orphan")})
}

func TestRegistry_FailingProcessorDoesNotStopOthers(t *testing.T) {
	r := NewRegistry(testLogger())
	failing := &capturing{name: "failing", err: errors.New("boom")}
	healthy := &capturing{name: "healthy"}
	r.Register(failing, "A")
	r.Register(healthy, "B")

	r.Process(context.Background(), []types.EventClient{record("A"), record("B")})

	if len(healthy.got) != 1 {
		t.Errorf("healthy processor starved by failing one")
	}
}

func TestRegistry_DuplicateRegistrationPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	r := NewRegistry(testLogger())
	r.Register(&capturing{name: "one"}, "Visit")
	r.Register(&capturing{name: "two"}, "Visit")
}

func TestFunc_Adapter(t *testing.T) {
	called := false
	f := Func{ProcessorName: "fn", Fn: func(ctx context.Context, records []types.EventClient) error {
		called = true
		return nil
	}}
	if f.Name() != "fn" {
		t.Errorf("Name() = %s", f.Name())
	}
	if err := f.Process(context.Background(), nil); err != nil || !called {
		t.Errorf("Process err=%v called=%v", err, called)
	}
}

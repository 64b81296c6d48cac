package bus

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/petal-labs/scenarioflow/core"
	"github.com/petal-labs/scenarioflow/runtime"
)

// testDSN returns a unique shared-memory DSN for test isolation.
func testDSN(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
}

func newTestStore(t *testing.T, cfg ...SQLiteStoreConfig) *SQLiteEventStore {
	t.Helper()
	var c SQLiteStoreConfig
	if len(cfg) > 0 {
		c = cfg[0]
	}
	if c.DSN == "" {
		c.DSN = testDSN(t)
	}
	store, err := NewSQLiteEventStore(c)
	if err != nil {
		t.Fatalf("NewSQLiteEventStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteEventStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := makeEvent("run-1", 1, runtime.EventNodeCompleted).
		WithNode(core.HashString("greet"), "action").
		WithElapsed(42*time.Millisecond).
		WithPayload("reason", "completed").
		WithPayload("count", 3)
	e.ParentRunID = "root"
	e.Scenario = "docking"
	e.TraceID = "trace-abc"
	e.SpanID = "span-def"
	if err := store.Append(ctx, e); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := store.List(ctx, "run-1", 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	got := events[0]
	if got.Kind != runtime.EventNodeCompleted {
		t.Errorf("Kind = %q", got.Kind)
	}
	if got.NodeHash != core.HashString("greet") || got.NodeKind != "action" {
		t.Errorf("node = %d/%q, want %d/action", got.NodeHash, got.NodeKind, core.HashString("greet"))
	}
	if got.ParentRunID != "root" || got.Scenario != "docking" {
		t.Errorf("ParentRunID/Scenario = %q/%q", got.ParentRunID, got.Scenario)
	}
	if got.Elapsed != 42*time.Millisecond {
		t.Errorf("Elapsed = %v", got.Elapsed)
	}
	if got.TraceID != "trace-abc" || got.SpanID != "span-def" {
		t.Errorf("trace = %q/%q", got.TraceID, got.SpanID)
	}
	if got.Payload["reason"] != "completed" || got.Payload["count"] != float64(3) {
		t.Errorf("Payload = %v", got.Payload)
	}
	if !got.Time.Equal(e.Time) {
		t.Errorf("Time = %v, want %v", got.Time, e.Time)
	}
}

func TestSQLiteEventStore_DuplicateSeq(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Append(ctx, makeEvent("run-1", 1, runtime.EventSignal)); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	if err := store.Append(ctx, makeEvent("run-1", 1, runtime.EventSignal)); err == nil {
		t.Error("expected error appending duplicate seq")
	}
}

func TestSQLiteEventStore_ListAndLatestSeq(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := uint64(1); i <= 10; i++ {
		store.Append(ctx, makeEvent("run-1", i, runtime.EventNodeActivated))
	}
	store.Append(ctx, makeEvent("run-2", 1, runtime.EventNodeActivated))

	events, err := store.List(ctx, "run-1", 5, 3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("List(after 5, limit 3) returned %d events, want 3", len(events))
	}
	if events[0].Seq != 6 || events[2].Seq != 8 {
		t.Errorf("List(after 5, limit 3) seqs = %d..%d, want 6..8", events[0].Seq, events[2].Seq)
	}

	seq, err := store.LatestSeq(ctx, "run-1")
	if err != nil || seq != 10 {
		t.Errorf("LatestSeq = %d, %v; want 10", seq, err)
	}
	seq, _ = store.LatestSeq(ctx, "missing")
	if seq != 0 {
		t.Errorf("LatestSeq(missing) = %d, want 0", seq)
	}

	ids, err := store.RunIDs(ctx)
	if err != nil || len(ids) != 2 || ids[0] != "run-1" {
		t.Errorf("RunIDs = %v, %v", ids, err)
	}
}

func TestSQLiteEventStore_ChildRunIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Append(ctx, makeEvent("root", 1, runtime.EventScenarioStarted))
	for i, run := range []string{"child-b", "child-a", "child-b"} {
		e := makeEvent(run, uint64(i+1), runtime.EventScenarioStarted)
		e.ParentRunID = "root"
		store.Append(ctx, e)
	}

	ids, err := store.ChildRunIDs(ctx, "root")
	if err != nil {
		t.Fatalf("ChildRunIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "child-b" || ids[1] != "child-a" {
		t.Errorf("ChildRunIDs = %v, want [child-b child-a]", ids)
	}
}

func TestSQLiteEventStore_Prune(t *testing.T) {
	t.Run("by age", func(t *testing.T) {
		store := newTestStore(t, SQLiteStoreConfig{RetentionAge: time.Hour, PruneInterval: time.Hour})
		ctx := context.Background()

		old := makeEvent("run-1", 1, runtime.EventNodeActivated)
		old.Time = time.Now().Add(-2 * time.Hour)
		store.Append(ctx, old)
		store.Append(ctx, makeEvent("run-1", 2, runtime.EventNodeCompleted))

		if err := store.Prune(ctx); err != nil {
			t.Fatalf("Prune: %v", err)
		}
		events, _ := store.List(ctx, "run-1", 0, 0)
		if len(events) != 1 || events[0].Seq != 2 {
			t.Errorf("after prune got %d events", len(events))
		}
	})

	t.Run("by count per run", func(t *testing.T) {
		store := newTestStore(t, SQLiteStoreConfig{RetentionCount: 3, PruneInterval: time.Hour})
		ctx := context.Background()

		for i := uint64(1); i <= 6; i++ {
			store.Append(ctx, makeEvent("run-1", i, runtime.EventNodeActivated))
			store.Append(ctx, makeEvent("run-2", i, runtime.EventNodeActivated))
		}
		if err := store.Prune(ctx); err != nil {
			t.Fatalf("Prune: %v", err)
		}
		for _, run := range []string{"run-1", "run-2"} {
			events, _ := store.List(ctx, run, 0, 0)
			if len(events) != 3 || events[0].Seq != 4 {
				t.Errorf("%s: kept %d events", run, len(events))
			}
		}
	})
}

func TestSQLiteEventStore_PersistenceAcrossReopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()

	first, err := NewSQLiteEventStore(SQLiteStoreConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first.Append(ctx, makeEvent("run-1", 1, runtime.EventScenarioStarted))
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := newTestStore(t, SQLiteStoreConfig{DSN: dsn})
	events, err := second.List(ctx, "run-1", 0, 0)
	if err != nil || len(events) != 1 {
		t.Fatalf("after reopen got %d events, err %v", len(events), err)
	}
}

func TestSQLiteEventStore_ConcurrentReadWrite(t *testing.T) {
	store := newTestStore(t, SQLiteStoreConfig{DSN: filepath.Join(t.TempDir(), "events.db")})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= 50; i++ {
			if err := store.Append(ctx, makeEvent("run-1", i, runtime.EventNodeActivated)); err != nil {
				t.Errorf("Append: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if _, err := store.List(ctx, "run-1", 0, 0); err != nil {
				t.Errorf("List: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	if seq, _ := store.LatestSeq(ctx, "run-1"); seq != 50 {
		t.Errorf("LatestSeq = %d, want 50", seq)
	}
}

var _ EventStore = (*SQLiteEventStore)(nil)

package sessionstore

import (
	"context"
	"errors"
	"testing"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndGet(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "s-1", "/projects/demo.timeline", "/exports/demo.mov")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Phase != PhaseProfiling {
		t.Fatalf("new session phase = %q, want profiling", created.Phase)
	}

	got, err := store.Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SourcePath != "/projects/demo.timeline" || got.OutputPath != "/exports/demo.mov" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatal("timestamps not recorded")
	}
}

func TestGetMissing(t *testing.T) {
	store := openStore(t)
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestPhaseAndPlanUpdates(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if _, err := store.Create(ctx, "s-1", "/p.timeline", "/o.mov"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := store.SetPlan(ctx, "s-1", true, 4, 3, 10, 36000); err != nil {
		t.Fatalf("SetPlan: %v", err)
	}
	if err := store.SetPhase(ctx, "s-1", PhaseRendering); err != nil {
		t.Fatalf("SetPhase: %v", err)
	}
	if err := store.SetPhase(ctx, "s-1", "warming_up"); err == nil {
		t.Fatal("unknown phase must be rejected")
	}

	got, err := store.Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Phase != PhaseRendering || !got.UseParallel || got.WorkerCount != 4 || got.ChunkCount != 10 {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestProgressUpdates(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if _, err := store.Create(ctx, "s-1", "/p.timeline", "/o.mov"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.SetProgress(ctx, "s-1", 42.5, "rendering", "chunk 4 of 10"); err != nil {
		t.Fatalf("SetProgress: %v", err)
	}
	got, err := store.Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ProgressPercent != 42.5 || got.ProgressStage != "rendering" {
		t.Fatalf("unexpected progress: %+v", got)
	}
}

func TestFinishRequiresTerminalPhase(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if _, err := store.Create(ctx, "s-1", "/p.timeline", "/o.mov"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Finish(ctx, "s-1", PhaseRendering, "", ""); err == nil {
		t.Fatal("Finish must reject non-terminal phases")
	}
	if err := store.Finish(ctx, "s-1", PhaseFailed, "render", "renderer crashed"); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	got, err := store.Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Phase != PhaseFailed || got.ErrorKind != "render" || got.CompletedAt == nil {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestActiveTracksNonTerminalSession(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	active, err := store.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active != nil {
		t.Fatalf("empty store should have no active session, got %+v", active)
	}

	if _, err := store.Create(ctx, "s-1", "/p.timeline", "/o.mov"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	active, err = store.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active == nil || active.ID != "s-1" {
		t.Fatalf("want active s-1, got %+v", active)
	}

	if err := store.Finish(ctx, "s-1", PhaseSucceeded, "", ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	active, err = store.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active != nil {
		t.Fatalf("finished session should not be active, got %+v", active)
	}
}

func TestReclaimStale(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if _, err := store.Create(ctx, "s-1", "/p.timeline", "/o.mov"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(ctx, "s-2", "/q.timeline", "/p.mov"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Finish(ctx, "s-2", PhaseCancelled, "cancelled", "stopped by user"); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	reclaimed, err := store.ReclaimStale(ctx)
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed %d sessions, want 1", reclaimed)
	}
	got, err := store.Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Phase != PhaseFailed || got.ErrorMessage != DaemonRestartReason {
		t.Fatalf("unexpected reclaimed session: %+v", got)
	}
	cancelled, err := store.Get(ctx, "s-2")
	if err != nil {
		t.Fatalf("Get(s-2): %v", err)
	}
	if cancelled.Phase != PhaseCancelled {
		t.Fatal("terminal sessions must not be reclaimed")
	}
}

func TestClearCompletedKeepsActive(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if _, err := store.Create(ctx, "s-1", "/p.timeline", "/o.mov"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(ctx, "s-2", "/q.timeline", "/p.mov"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Finish(ctx, "s-2", PhaseSucceeded, "", ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	removed, err := store.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("ClearCompleted: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed %d sessions, want 1", removed)
	}
	if _, err := store.Get(ctx, "s-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cleared session still present: %v", err)
	}
	if _, err := store.Get(ctx, "s-1"); err != nil {
		t.Fatalf("active session removed: %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	for _, id := range []string{"s-1", "s-2", "s-3"} {
		if _, err := store.Create(ctx, id, "/p.timeline", "/o.mov"); err != nil {
			t.Fatalf("Create(%s): %v", id, err)
		}
	}
	sessions, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("List returned %d sessions, want 2", len(sessions))
	}
}

package schedule

import (
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)

	sched := &Schedule{
		Name:     "nightly report",
		CronExpr: "0 2 * * *",
		AgentID:  "reporter",
		Input:    "summarize yesterday",
		Enabled:  true,
	}
	if err := store.Create(sched); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sched.ID == "" {
		t.Fatalf("Create() did not assign an id")
	}
	if sched.NextRunAt == nil {
		t.Errorf("Create() did not compute next run for enabled schedule")
	}
	if sched.Overlap != OverlapSkip {
		t.Errorf("Overlap = %q, want skip default", sched.Overlap)
	}

	got, err := store.Get(sched.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "nightly report" || got.AgentID != "reporter" || got.Input != "summarize yesterday" {
		t.Errorf("Get() = %+v", got)
	}
	if !got.Enabled {
		t.Errorf("Enabled = false, want true")
	}
}

func TestStore_CreateRejectsInvalidCron(t *testing.T) {
	store := newTestStore(t)

	err := store.Create(&Schedule{Name: "bad", CronExpr: "nope", AgentID: "a", Enabled: true})
	if !errors.Is(err, ErrInvalidCron) {
		t.Errorf("Create() error = %v, want ErrInvalidCron", err)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Get("sched_missing"); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("Get() error = %v, want ErrScheduleNotFound", err)
	}
}

func TestStore_ListDue(t *testing.T) {
	store := newTestStore(t)

	past := time.Now().Add(-time.Hour)
	due := &Schedule{Name: "due", CronExpr: "* * * * *", AgentID: "a", Enabled: true, NextRunAt: &past}
	if err := store.Create(due); err != nil {
		t.Fatalf("Create(due) error = %v", err)
	}

	future := time.Now().Add(time.Hour)
	notDue := &Schedule{Name: "later", CronExpr: "* * * * *", AgentID: "a", Enabled: true, NextRunAt: &future}
	if err := store.Create(notDue); err != nil {
		t.Fatalf("Create(later) error = %v", err)
	}

	disabled := &Schedule{Name: "paused", CronExpr: "* * * * *", AgentID: "a", Enabled: false, NextRunAt: &past}
	if err := store.Create(disabled); err != nil {
		t.Fatalf("Create(paused) error = %v", err)
	}

	got, err := store.ListDue(time.Now())
	if err != nil {
		t.Fatalf("ListDue() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Errorf("ListDue() = %+v, want only the due schedule", got)
	}
}

func TestStore_UpdateRunTimes(t *testing.T) {
	store := newTestStore(t)

	sched := &Schedule{Name: "s", CronExpr: "* * * * *", AgentID: "a", Enabled: true}
	if err := store.Create(sched); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	last := time.Now()
	next := last.Add(time.Minute)
	if err := store.UpdateRunTimes(sched.ID, last, next); err != nil {
		t.Fatalf("UpdateRunTimes() error = %v", err)
	}

	got, err := store.Get(sched.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.LastRunAt == nil || got.NextRunAt == nil {
		t.Fatalf("run times not persisted: %+v", got)
	}

	if err := store.UpdateRunTimes("sched_missing", last, next); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("UpdateRunTimes(missing) error = %v, want ErrScheduleNotFound", err)
	}
}

func TestStore_SetEnabled(t *testing.T) {
	store := newTestStore(t)

	sched := &Schedule{Name: "s", CronExpr: "* * * * *", AgentID: "a", Enabled: true}
	if err := store.Create(sched); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := store.SetEnabled(sched.ID, false); err != nil {
		t.Fatalf("SetEnabled(false) error = %v", err)
	}
	got, _ := store.Get(sched.ID)
	if got.Enabled {
		t.Errorf("Enabled = true after pause")
	}
	if got.NextRunAt != nil {
		t.Errorf("NextRunAt = %v after pause, want nil", got.NextRunAt)
	}

	if err := store.SetEnabled(sched.ID, true); err != nil {
		t.Fatalf("SetEnabled(true) error = %v", err)
	}
	got, _ = store.Get(sched.ID)
	if !got.Enabled || got.NextRunAt == nil {
		t.Errorf("resume did not restore enabled/next run: %+v", got)
	}
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)

	sched := &Schedule{Name: "s", CronExpr: "* * * * *", AgentID: "a", Enabled: true}
	if err := store.Create(sched); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Delete(sched.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(sched.ID); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrScheduleNotFound", err)
	}
	if err := store.Delete(sched.ID); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("Delete() twice error = %v, want ErrScheduleNotFound", err)
	}
}

func TestStore_RecordAndListLaunches(t *testing.T) {
	store := newTestStore(t)

	sched := &Schedule{Name: "s", CronExpr: "* * * * *", AgentID: "a", Enabled: true}
	if err := store.Create(sched); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	launches := []*Launch{
		{ScheduleID: sched.ID, RunID: "run-1", Status: LaunchOK},
		{ScheduleID: sched.ID, Status: LaunchFailed, Error: "upstream 503"},
		{ScheduleID: sched.ID, Status: LaunchSkipped, Error: "previous launch still running"},
	}
	for _, l := range launches {
		if err := store.RecordLaunch(l); err != nil {
			t.Fatalf("RecordLaunch() error = %v", err)
		}
	}

	got, err := store.ListLaunches(sched.ID, 10)
	if err != nil {
		t.Fatalf("ListLaunches() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(ListLaunches()) = %d, want 3", len(got))
	}

	statuses := map[LaunchStatus]bool{}
	for _, l := range got {
		statuses[l.Status] = true
	}
	for _, want := range []LaunchStatus{LaunchOK, LaunchFailed, LaunchSkipped} {
		if !statuses[want] {
			t.Errorf("missing launch status %q in %+v", want, got)
		}
	}
}

package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newManager(t *testing.T, store Store, opts Options) *Manager {
	t.Helper()
	if opts.OutputDir == "" {
		opts.OutputDir = t.TempDir()
	}
	m, err := NewManager(store, opts)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func waitTerminal(t *testing.T, m *Manager, id string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := m.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return Job{}
}

func TestSubmitCompletes(t *testing.T) {
	m := newManager(t, NewMemoryStore(), Options{MaxConcurrent: 2})
	release := make(chan struct{})

	job, err := m.Submit("video", func(ctx context.Context, dir string, progress func(float64)) ([]string, error) {
		<-release
		progress(0.5)
		progress(0.4)
		out := filepath.Join(dir, "chat.mp4")
		return []string{out}, os.WriteFile(out, []byte("video"), 0644)
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if job.Status != StatusQueued || job.ID == "" {
		t.Fatalf("Submitted job = %+v", job)
	}

	updates, unsubscribe := m.Subscribe(job.ID)
	defer unsubscribe()
	close(release)

	var last Job
	prev := 0.0
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case u, ok := <-updates:
			if !ok {
				done = true
				break
			}
			if u.Progress < prev {
				t.Errorf("Progress went back: %v after %v", u.Progress, prev)
			}
			prev = u.Progress
			last = u
		case <-timeout:
			t.Fatal("Timed out waiting for updates")
		}
	}
	if last.Status != StatusCompleted || last.Progress != 1 {
		t.Errorf("Final update = %+v", last)
	}

	stored := waitTerminal(t, m, job.ID)
	if len(stored.Artifacts) != 1 {
		t.Fatalf("Artifacts = %v", stored.Artifacts)
	}
	if _, err := os.Stat(stored.Artifacts[0]); err != nil {
		t.Errorf("Artifact missing: %v", err)
	}
}

func TestSubmitFailure(t *testing.T) {
	m := newManager(t, NewMemoryStore(), Options{
		ErrorText: func(err error) string { return "export failed: " + err.Error() },
	})
	var dir string
	job, err := m.Submit("video", func(ctx context.Context, d string, progress func(float64)) ([]string, error) {
		dir = d
		os.WriteFile(filepath.Join(d, "partial.mp4"), []byte("x"), 0644)
		return nil, errors.New("encoder exploded")
	})
	if err != nil {
		t.Fatal(err)
	}

	got := waitTerminal(t, m, job.ID)
	if got.Status != StatusFailed || got.Error != "export failed: encoder exploded" {
		t.Errorf("Job = %+v", got)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("Job dir not removed after failure")
	}
}

func TestMaxConcurrent(t *testing.T) {
	m := newManager(t, NewMemoryStore(), Options{MaxConcurrent: 1})
	var running, peak atomic.Int32

	task := func(ctx context.Context, dir string, progress func(float64)) ([]string, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	}

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := m.Submit("video", task)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		waitTerminal(t, m, id)
	}
	if peak.Load() != 1 {
		t.Errorf("Peak concurrency = %d, want 1", peak.Load())
	}
}

func TestCloseCancelsRunningJobs(t *testing.T) {
	store := NewMemoryStore()
	m, err := NewManager(store, Options{OutputDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	started := make(chan struct{})
	job, err := m.Submit("video", func(ctx context.Context, dir string, progress func(float64)) ([]string, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatal(err)
	}
	<-started
	m.Close()

	got, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusFailed {
		t.Errorf("Status after Close = %s", got.Status)
	}
	if _, err := m.Submit("video", nil); err == nil {
		t.Error("Submit after Close must fail")
	}
}

func TestCleanupRemovesExpired(t *testing.T) {
	store := NewMemoryStore()
	m := newManager(t, store, Options{TTL: time.Hour})
	ctx := context.Background()
	now := time.Now()

	old := Job{ID: "old", Status: StatusCompleted, CreatedAt: now.Add(-3 * time.Hour), UpdatedAt: now.Add(-2 * time.Hour)}
	fresh := Job{ID: "fresh", Status: StatusCompleted, CreatedAt: now, UpdatedAt: now}
	stuck := Job{ID: "stuck", Status: StatusProcessing, CreatedAt: now.Add(-3 * time.Hour), UpdatedAt: now.Add(-2 * time.Hour)}
	for _, j := range []Job{old, fresh, stuck} {
		store.Put(ctx, j)
		os.MkdirAll(m.JobDir(j.ID), 0755)
	}

	n, err := m.Cleanup(ctx, now)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Removed %d jobs, want 1", n)
	}
	if _, err := store.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Error("Expired job still stored")
	}
	if _, err := os.Stat(m.JobDir("old")); !os.IsNotExist(err) {
		t.Error("Expired job files still present")
	}
	for _, id := range []string{"fresh", "stuck"} {
		if _, err := store.Get(ctx, id); err != nil {
			t.Errorf("%s removed: %v", id, err)
		}
	}
}

func TestNewManagerFailsInterruptedJobs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Put(ctx, Job{ID: "a", Status: StatusProcessing, CreatedAt: time.Now()})
	store.Put(ctx, Job{ID: "b", Status: StatusCompleted, CreatedAt: time.Now()})

	newManager(t, store, Options{})

	a, _ := store.Get(ctx, "a")
	if a.Status != StatusFailed || a.Error == "" {
		t.Errorf("Interrupted job = %+v", a)
	}
	b, _ := store.Get(ctx, "b")
	if b.Status != StatusCompleted {
		t.Errorf("Completed job changed: %+v", b)
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	job := Job{ID: "j1", Status: StatusQueued, ExportType: "video", CreatedAt: created, UpdatedAt: created}
	if err := store.Put(ctx, job); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	job.Status = StatusCompleted
	job.Progress = 1
	job.Artifacts = []string{"/tmp/a.mp4"}
	job.UpdatedAt = created.Add(time.Minute)
	if err := store.Put(ctx, job); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	store.Put(ctx, Job{ID: "j0", Status: StatusFailed, Error: "boom", CreatedAt: created.Add(-time.Hour), UpdatedAt: created})
	store.Close()

	store, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer store.Close()

	got, err := store.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusCompleted || got.Progress != 1 || len(got.Artifacts) != 1 || got.Artifacts[0] != "/tmp/a.mp4" {
		t.Errorf("Got %+v", got)
	}
	if !got.CreatedAt.Equal(created) || !got.UpdatedAt.Equal(created.Add(time.Minute)) {
		t.Errorf("Times = %v / %v", got.CreatedAt, got.UpdatedAt)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != "j0" {
		t.Errorf("List = %+v", all)
	}

	if err := store.Delete(ctx, "j1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "j1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
}

// Package jobs runs exports in the background for the render server and
// keeps their status, progress and artifacts until they expire.
package jobs

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

type Job struct {
	ID         string    `json:"job_id"`
	Status     Status    `json:"status"`
	Progress   float64   `json:"progress"`
	ExportType string    `json:"export_type"`
	Artifacts  []string  `json:"-"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Task performs one export into dir and returns the produced files.
// progress may be called from any goroutine.
type Task func(ctx context.Context, dir string, progress func(float64)) ([]string, error)

type Options struct {
	OutputDir     string
	MaxConcurrent int
	TTL           time.Duration
	// ErrorText renders a task failure for clients. Defaults to err.Error().
	ErrorText func(error) string
	// OnFinish observes every terminal job.
	OnFinish func(job Job, took time.Duration)
}

// progressStep is the smallest change written to the store; subscribers
// see every change.
const progressStep = 0.01

type Manager struct {
	store Store
	opts  Options
	sem   *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	subs map[string]map[chan Job]struct{}
}

// NewManager marks jobs left unfinished by a previous process as failed.
func NewManager(store Store, opts Options) (*Manager, error) {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.ErrorText == nil {
		opts.ErrorText = func(err error) string { return err.Error() }
	}
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, errors.Wrap(err, "create output dir")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:  store,
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]map[chan Job]struct{}),
	}
	if err := m.recover(ctx); err != nil {
		cancel()
		return nil, err
	}
	return m, nil
}

func (m *Manager) recover(ctx context.Context) error {
	all, err := m.store.List(ctx)
	if err != nil {
		return errors.Wrap(err, "load jobs")
	}
	for _, job := range all {
		if job.Status.Terminal() {
			continue
		}
		job.Status = StatusFailed
		job.Error = "interrupted by server restart"
		job.UpdatedAt = time.Now()
		if err := m.store.Put(ctx, job); err != nil {
			return errors.Wrap(err, "mark interrupted job")
		}
	}
	return nil
}

// JobDir is where a job's artifacts live.
func (m *Manager) JobDir(id string) string { return filepath.Join(m.opts.OutputDir, id) }

// Submit stores a queued job and starts it once a slot is free.
func (m *Manager) Submit(exportType string, task Task) (Job, error) {
	if m.ctx.Err() != nil {
		return Job{}, errors.New("manager closed")
	}
	now := time.Now()
	job := Job{
		ID:         uuid.NewString(),
		Status:     StatusQueued,
		ExportType: exportType,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.store.Put(m.ctx, job); err != nil {
		return Job{}, errors.Wrap(err, "store job")
	}

	m.wg.Add(1)
	go m.run(job, task)
	return job, nil
}

func (m *Manager) run(job Job, task Task) {
	defer m.wg.Done()

	if err := m.sem.Acquire(m.ctx, 1); err != nil {
		m.fail(job, err, 0)
		return
	}
	defer m.sem.Release(1)

	start := time.Now()
	job.Status = StatusProcessing
	m.update(job, true)

	dir := m.JobDir(job.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		m.fail(job, errors.Wrap(err, "create job dir"), time.Since(start))
		return
	}

	var (
		mu        sync.Mutex
		persisted float64
	)
	progress := func(v float64) {
		mu.Lock()
		defer mu.Unlock()
		if v <= job.Progress {
			return
		}
		job.Progress = v
		persist := v-persisted >= progressStep
		if persist {
			persisted = v
		}
		m.update(job, persist)
	}

	artifacts, err := task(m.ctx, dir, progress)

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		os.RemoveAll(dir)
		m.fail(job, err, time.Since(start))
		return
	}
	job.Status = StatusCompleted
	job.Progress = 1
	job.Artifacts = artifacts
	m.finish(job, time.Since(start))
	log.Printf("[+++] job %s completed in %.2fs", job.ID, time.Since(start).Seconds())
}

func (m *Manager) fail(job Job, err error, took time.Duration) {
	job.Status = StatusFailed
	job.Error = m.opts.ErrorText(err)
	m.finish(job, took)
	log.Printf("[!] job %s failed: %v", job.ID, err)
}

// finish runs OnFinish before the terminal state becomes visible.
func (m *Manager) finish(job Job, took time.Duration) {
	if m.opts.OnFinish != nil {
		m.opts.OnFinish(job, took)
	}
	m.update(job, true)
}

func (m *Manager) update(job Job, persist bool) {
	job.UpdatedAt = time.Now()
	if persist {
		// Фоновый контекст: финальный статус пишем даже при остановке
		if err := m.store.Put(context.Background(), job); err != nil {
			log.Printf("[!] job %s: %v", job.ID, err)
		}
	}
	m.publish(job)
}

func (m *Manager) Get(ctx context.Context, id string) (Job, error) {
	return m.store.Get(ctx, id)
}

// Subscribe delivers every later change of job id. Slow readers miss
// intermediate updates; the channel is closed after the terminal one.
func (m *Manager) Subscribe(id string) (<-chan Job, func()) {
	ch := make(chan Job, 16)
	m.mu.Lock()
	if m.subs[id] == nil {
		m.subs[id] = make(map[chan Job]struct{})
	}
	m.subs[id][ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.subs[id][ch]; ok {
				delete(m.subs[id], ch)
				close(ch)
			}
		})
	}
}

func (m *Manager) publish(job Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs[job.ID] {
		if job.Status.Terminal() {
			// Финальное обновление обязано дойти: выкидываем устаревшее
			select {
			case ch <- job:
			default:
				select {
				case <-ch:
				default:
				}
				ch <- job
			}
			close(ch)
			continue
		}
		select {
		case ch <- job:
		default:
		}
	}
	if job.Status.Terminal() {
		delete(m.subs, job.ID)
	}
}

// Cleanup removes finished jobs last updated before now minus the TTL,
// together with their files. It returns the number removed.
func (m *Manager) Cleanup(ctx context.Context, now time.Time) (int, error) {
	if m.opts.TTL <= 0 {
		return 0, nil
	}
	all, err := m.store.List(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list jobs")
	}
	cutoff := now.Add(-m.opts.TTL)
	removed := 0
	for _, job := range all {
		if !job.Status.Terminal() || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(m.JobDir(job.ID)); err != nil {
			log.Printf("[!] job %s: remove files: %v", job.ID, err)
		}
		if err := m.store.Delete(ctx, job.ID); err != nil {
			return removed, errors.Wrap(err, "delete job")
		}
		removed++
	}
	return removed, nil
}

// RunJanitor calls Cleanup every interval until ctx ends.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := m.Cleanup(ctx, now)
			if err != nil {
				log.Printf("[!] job cleanup: %v", err)
			} else if n > 0 {
				log.Printf("[*] job cleanup: removed %d expired jobs", n)
			}
		}
	}
}

// Close cancels running exports and waits for them to finish.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by stores for unknown ids.
var ErrNotFound = errors.New("job not found")

type Store interface {
	// Put inserts or replaces the job with the same id.
	Put(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
	// List returns every job, oldest first.
	List(ctx context.Context) ([]Job, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Job)}
}

func (s *MemoryStore) Put(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Artifacts = append([]string(nil), job.Artifacts...)
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	job.Artifacts = append([]string(nil), job.Artifacts...)
	return job, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Job, error) {
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nvandessel/funnelsim/internal/models"
)

// InMemoryRunStore implements RunStore for testing and for runs with
// persistence disabled.
type InMemoryRunStore struct {
	mu     sync.RWMutex
	runs   map[string]Run
	trials map[string][]models.TrialResult
}

// NewInMemoryRunStore creates a new in-memory store.
func NewInMemoryRunStore() *InMemoryRunStore {
	return &InMemoryRunStore{
		runs:   make(map[string]Run),
		trials: make(map[string][]models.TrialResult),
	}
}

// SaveRun stores a copy of the run and its trials.
func (s *InMemoryRunStore) SaveRun(ctx context.Context, run Run, trials []models.TrialResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	kept := make([]models.TrialResult, len(trials))
	for i, t := range trials {
		t.Steps = nil
		kept[i] = t
	}

	s.runs[run.ID] = run
	s.trials[run.ID] = kept
	return nil
}

// GetRun retrieves a run by ID.
func (s *InMemoryRunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &run, nil
}

// GetTrials returns the trials of a run ordered by index.
func (s *InMemoryRunStore) GetTrials(ctx context.Context, id string) ([]models.TrialResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trials, ok := s.trials[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := slices.Clone(trials)
	slices.SortFunc(out, func(a, b models.TrialResult) int { return a.Trial - b.Trial })
	return out, nil
}

// ListRuns returns runs matching filter, newest first.
func (s *InMemoryRunStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []Run
	for _, r := range s.runs {
		if filter.Matches(r) {
			runs = append(runs, r)
		}
	}

	slices.SortFunc(runs, func(a, b Run) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	if filter.Limit > 0 && len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

// DeleteRun removes a run and its trials.
func (s *InMemoryRunStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.runs, id)
	delete(s.trials, id)
	return nil
}

// Close is a no-op.
func (s *InMemoryRunStore) Close() error {
	return nil
}

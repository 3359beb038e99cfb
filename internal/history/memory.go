package history

import (
	"context"
	"errors"
	"sync"

	"github.com/verdictlabs/negotiator/internal/errs"
	"github.com/verdictlabs/negotiator/pkg/models"
)

var errSaveDisabled = errors.New("saves disabled")

// MemoryStore is an in-memory Store used by tests and ephemeral deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	outcomes []models.DeploymentOutcome
	nextID   int64

	// FailSaves forces Save to fail; used to exercise storage error paths.
	FailSaves bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// Save appends one outcome.
func (s *MemoryStore) Save(ctx context.Context, outcome *models.DeploymentOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailSaves {
		return errs.Storage("save", errSaveDisabled)
	}

	outcome.ID = s.nextID
	s.nextID++
	s.outcomes = append(s.outcomes, *outcome)
	return nil
}

// Recent returns up to limit outcomes, newest first.
func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]models.DeploymentOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		return []models.DeploymentOutcome{}, nil
	}
	if limit > len(s.outcomes) {
		limit = len(s.outcomes)
	}

	result := make([]models.DeploymentOutcome, 0, limit)
	for i := len(s.outcomes) - 1; i >= len(s.outcomes)-limit; i-- {
		result = append(result, s.outcomes[i])
	}
	return result, nil
}

// Count returns the number of stored outcomes.
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.outcomes)), nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

package storage

import (
	"context"
	"sort"
	"sync"

	"jointinv/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	best        map[string]model.BestModelRecord
	history     map[string][]float64
	ensembles   map[string][]model.CandidateRecord
	diagnostics map[string]model.RunDiagnosticsRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		s.reset()
	}
	return nil
}

// Reset drops every stored run.
func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	return nil
}

func (s *MemoryStore) reset() {
	s.initialized = true
	s.best = make(map[string]model.BestModelRecord)
	s.history = make(map[string][]float64)
	s.ensembles = make(map[string][]model.CandidateRecord)
	s.diagnostics = make(map[string]model.RunDiagnosticsRecord)
}

func (s *MemoryStore) SaveBestModel(_ context.Context, record model.BestModelRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.Model = record.Model.Clone()
	s.best[record.RunID] = record
	return nil
}

func (s *MemoryStore) GetBestModel(_ context.Context, runID string) (model.BestModelRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.best[runID]
	if !ok {
		return model.BestModelRecord{}, false, nil
	}
	record.Model = record.Model.Clone()
	return record, true, nil
}

func (s *MemoryStore) SaveMisfitHistory(_ context.Context, runID string, history []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[runID] = append([]float64(nil), history...)
	return nil
}

func (s *MemoryStore) GetMisfitHistory(_ context.Context, runID string) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]float64(nil), history...), true, nil
}

func (s *MemoryStore) SaveEnsembleHead(_ context.Context, runID string, head []model.CandidateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.CandidateRecord, len(head))
	for i, record := range head {
		record.Model = record.Model.Clone()
		copied[i] = record
	}
	s.ensembles[runID] = copied
	return nil
}

func (s *MemoryStore) GetEnsembleHead(_ context.Context, runID string) ([]model.CandidateRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	head, ok := s.ensembles[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.CandidateRecord, len(head))
	for i, record := range head {
		record.Model = record.Model.Clone()
		copied[i] = record
	}
	return copied, true, nil
}

func (s *MemoryStore) SaveDiagnostics(_ context.Context, record model.RunDiagnosticsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.BestByRound = append([]float64(nil), record.BestByRound...)
	s.diagnostics[record.RunID] = record
	return nil
}

func (s *MemoryStore) GetDiagnostics(_ context.Context, runID string) (model.RunDiagnosticsRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.diagnostics[runID]
	if !ok {
		return model.RunDiagnosticsRecord{}, false, nil
	}
	record.BestByRound = append([]float64(nil), record.BestByRound...)
	return record, true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{}, len(s.best))
	for runID := range s.best {
		seen[runID] = struct{}{}
	}
	for runID := range s.diagnostics {
		seen[runID] = struct{}{}
	}
	runs := make([]string, 0, len(seen))
	for runID := range seen {
		runs = append(runs, runID)
	}
	sort.Strings(runs)
	return runs, nil
}

package storage

import (
	"context"

	"jointinv/internal/model"
)

// Store defines the persistence operations for per-node inversion results.
type Store interface {
	Init(ctx context.Context) error
	SaveBestModel(ctx context.Context, record model.BestModelRecord) error
	GetBestModel(ctx context.Context, runID string) (model.BestModelRecord, bool, error)
	SaveMisfitHistory(ctx context.Context, runID string, history []float64) error
	GetMisfitHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveEnsembleHead(ctx context.Context, runID string, head []model.CandidateRecord) error
	GetEnsembleHead(ctx context.Context, runID string) ([]model.CandidateRecord, bool, error)
	SaveDiagnostics(ctx context.Context, record model.RunDiagnosticsRecord) error
	GetDiagnostics(ctx context.Context, runID string) (model.RunDiagnosticsRecord, bool, error)
	ListRuns(ctx context.Context) ([]string, error)
}

// Resetter is implemented by stores that can drop every stored run.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Package jointinv is the public facade over the joint dispersion and
// receiver-function inversion engine. A Client owns a results store and the
// on-disk artifact directories; every request type applies its own defaults
// so zero values stay usable.
package jointinv

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"jointinv/internal/inversion"
	"jointinv/internal/misfit"
	"jointinv/internal/model"
	"jointinv/internal/stats"
	"jointinv/internal/storage"
)

const (
	defaultResultsDir = "results"
	defaultExportsDir = "exports"
	defaultDBPath     = "jointinv.db"

	defaultPopulation    = 64
	defaultRounds        = 50
	defaultStallRounds   = 8
	defaultStallTol      = 1e-3
	defaultWorkers       = 4
	defaultEnsembleHead  = 50
	defaultProfileStepKm = 1.0
)

type Options struct {
	StoreKind  string
	DBPath     string
	ResultsDir string
	ExportsDir string
}

type Client struct {
	store storage.Store

	resultsDir string
	exportsDir string
}

type RunRequest struct {
	// RunID is assigned when empty.
	RunID string

	Bounds     inversion.Bounds
	Dispersion []model.DispersionSet
	Receiver   *model.ReceiverFunction

	WeightDispersion float64
	WeightReceiver   float64

	Population int
	Rounds     int
	// StallRounds 0 takes the default; a negative value disables
	// stall-based early termination so the run always spends Rounds.
	StallRounds int
	StallTol    float64
	ResampleCells int
	Exploration   float64
	Workers       int
	Seed          int64

	// EnsembleHead is how many ranked candidates to persist.
	EnsembleHead int
}

type RunSummary struct {
	RunID         string
	ArtifactsDir  string
	BestModel     model.Model
	BestMisfit    float64
	Rounds        int
	Evaluations   int
	Termination   string
	MisfitByRound []float64
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID           string
	CreatedAtUTC    string
	LayerCount      int
	Population      int
	Rounds          int
	Evaluations     int
	Seed            int64
	Termination     string
	FinalBestMisfit float64
}

type BestRequest struct {
	RunID  string
	Latest bool
}

type HistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type EnsembleRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	resultsDir := opts.ResultsDir
	if resultsDir == "" {
		resultsDir = defaultResultsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		resultsDir: resultsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if req.Population <= 0 {
		req.Population = defaultPopulation
	}
	if req.Rounds <= 0 {
		req.Rounds = defaultRounds
	}
	if req.StallRounds == 0 {
		req.StallRounds = defaultStallRounds
	}
	if req.StallRounds < 0 {
		req.StallRounds = 0
	}
	if req.StallTol <= 0 {
		req.StallTol = defaultStallTol
	}
	if req.Workers <= 0 {
		req.Workers = defaultWorkers
	}
	if req.EnsembleHead <= 0 {
		req.EnsembleHead = defaultEnsembleHead
	}
	if req.WeightDispersion < 0 || req.WeightReceiver < 0 {
		return RunSummary{}, errors.New("misfit weights must be >= 0")
	}

	result, err := inversion.Run(ctx, inversion.RunConfig{
		Bounds:         req.Bounds,
		Dispersion:     req.Dispersion,
		Receiver:       req.Receiver,
		Weights:        misfit.Weights{Dispersion: req.WeightDispersion, Receiver: req.WeightReceiver},
		PopulationSize: req.Population,
		MaxRounds:      req.Rounds,
		StallRounds:    req.StallRounds,
		StallTol:       req.StallTol,
		ResampleCells:  req.ResampleCells,
		Exploration:    req.Exploration,
		Workers:        req.Workers,
		Seed:           req.Seed,
	})
	if err != nil {
		return RunSummary{}, err
	}

	versioned := model.VersionedRecord{
		SchemaVersion: storage.CurrentSchemaVersion,
		CodecVersion:  storage.CurrentCodecVersion,
	}
	bestRecord := model.BestModelRecord{
		VersionedRecord:  versioned,
		RunID:            req.RunID,
		Model:            result.Best.Model,
		Misfit:           result.Best.Misfit,
		DispersionMisfit: result.Best.DispersionMisfit,
		ReceiverMisfit:   result.Best.ReceiverMisfit,
	}
	head := result.Ensemble.Head(req.EnsembleHead)
	headRecords := make([]model.CandidateRecord, 0, len(head))
	for i, cand := range head {
		headRecords = append(headRecords, model.CandidateRecord{
			VersionedRecord:  versioned,
			Rank:             i + 1,
			Misfit:           cand.Misfit,
			DispersionMisfit: cand.DispersionMisfit,
			ReceiverMisfit:   cand.ReceiverMisfit,
			Model:            cand.Model,
		})
	}
	diagRecord := model.RunDiagnosticsRecord{
		VersionedRecord: versioned,
		RunID:           req.RunID,
		Rounds:          result.Diagnostics.Rounds,
		Evaluations:     result.Diagnostics.Evaluations,
		BestMisfit:      result.Diagnostics.BestMisfit,
		Termination:     result.Diagnostics.Termination,
		BestByRound:     result.Diagnostics.BestByRound,
	}

	if err := c.store.Init(ctx); err != nil {
		return RunSummary{}, err
	}
	if err := c.store.SaveBestModel(ctx, bestRecord); err != nil {
		return RunSummary{}, err
	}
	if err := c.store.SaveMisfitHistory(ctx, req.RunID, result.Diagnostics.BestByRound); err != nil {
		return RunSummary{}, err
	}
	if err := c.store.SaveEnsembleHead(ctx, req.RunID, headRecords); err != nil {
		return RunSummary{}, err
	}
	if err := c.store.SaveDiagnostics(ctx, diagRecord); err != nil {
		return RunSummary{}, err
	}

	wave, kind := "", ""
	if len(req.Dispersion) > 0 {
		wave = string(req.Dispersion[0].Wave)
		kind = string(req.Dispersion[0].Kind)
	}
	runDir, err := stats.WriteRunArtifacts(c.resultsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:          req.RunID,
			Wave:           wave,
			VelocityKind:   kind,
			LayerCount:     len(req.Bounds.Layers),
			PopulationSize: req.Population,
			MaxRounds:      req.Rounds,
			StallRounds:    req.StallRounds,
			StallTol:       req.StallTol,
			ResampleCells:  req.ResampleCells,
			Exploration:    req.Exploration,
			WeightDisp:     req.WeightDispersion,
			WeightRF:       req.WeightReceiver,
			Workers:        req.Workers,
			Seed:           req.Seed,
		},
		MisfitByRound:   result.Diagnostics.BestByRound,
		FinalBestMisfit: result.Best.Misfit,
		BestModel:       bestRecord,
		EnsembleHead:    headRecords,
		Diagnostics:     diagRecord,
	})
	if err != nil {
		return RunSummary{}, err
	}

	profile := stats.EnsembleProfile(headRecords, profileDepthKm(req.Bounds), defaultProfileStepKm)
	if err := stats.WriteProfileStats(runDir, profile); err != nil {
		return RunSummary{}, err
	}

	if err := stats.AppendRunIndex(c.resultsDir, stats.RunIndexEntry{
		RunID:           req.RunID,
		LayerCount:      len(req.Bounds.Layers),
		PopulationSize:  req.Population,
		Rounds:          result.Diagnostics.Rounds,
		Evaluations:     result.Diagnostics.Evaluations,
		Seed:            req.Seed,
		Termination:     result.Diagnostics.Termination,
		FinalBestMisfit: result.Best.Misfit,
		CreatedAtUTC:    time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return RunSummary{}, err
	}

	return RunSummary{
		RunID:         req.RunID,
		ArtifactsDir:  filepath.Clean(runDir),
		BestModel:     result.Best.Model,
		BestMisfit:    result.Best.Misfit,
		Rounds:        result.Diagnostics.Rounds,
		Evaluations:   result.Diagnostics.Evaluations,
		Termination:   result.Diagnostics.Termination,
		MisfitByRound: append([]float64(nil), result.Diagnostics.BestByRound...),
	}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.resultsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:           e.RunID,
			CreatedAtUTC:    e.CreatedAtUTC,
			LayerCount:      e.LayerCount,
			Population:      e.PopulationSize,
			Rounds:          e.Rounds,
			Evaluations:     e.Evaluations,
			Seed:            e.Seed,
			Termination:     e.Termination,
			FinalBestMisfit: e.FinalBestMisfit,
		})
	}
	return out, nil
}

func (c *Client) Best(ctx context.Context, req BestRequest) (model.BestModelRecord, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return model.BestModelRecord{}, err
	}
	if err := c.store.Init(ctx); err != nil {
		return model.BestModelRecord{}, err
	}
	record, ok, err := c.store.GetBestModel(ctx, runID)
	if err != nil {
		return model.BestModelRecord{}, err
	}
	if !ok {
		return model.BestModelRecord{}, fmt.Errorf("best model not found for run id: %s", runID)
	}
	return record, nil
}

func (c *Client) History(ctx context.Context, req HistoryRequest) ([]float64, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	if err := c.store.Init(ctx); err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetMisfitHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("misfit history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]float64(nil), history...), nil
}

func (c *Client) EnsembleHead(ctx context.Context, req EnsembleRequest) ([]model.CandidateRecord, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	if err := c.store.Init(ctx); err != nil {
		return nil, err
	}
	head, ok, err := c.store.GetEnsembleHead(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("ensemble not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(head) > req.Limit {
		head = head[:req.Limit]
	}
	out := make([]model.CandidateRecord, len(head))
	copy(out, head)
	return out, nil
}

func (c *Client) Diagnostics(ctx context.Context, req BestRequest) (model.RunDiagnosticsRecord, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return model.RunDiagnosticsRecord{}, err
	}
	if err := c.store.Init(ctx); err != nil {
		return model.RunDiagnosticsRecord{}, err
	}
	record, ok, err := c.store.GetDiagnostics(ctx, runID)
	if err != nil {
		return model.RunDiagnosticsRecord{}, err
	}
	if !ok {
		return model.RunDiagnosticsRecord{}, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	return record, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	exportedDir, err := stats.ExportRunArtifacts(c.resultsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if latest {
		entries, err := stats.ListRunIndex(c.resultsDir)
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return "", errors.New("no runs available")
		}
		return entries[0].RunID, nil
	}
	if runID == "" {
		return "", errors.New("request requires run id or latest")
	}
	return runID, nil
}

// profileDepthKm is the depth extent of the persisted posterior profile:
// the deepest possible stack of finite layers plus a half-space margin.
func profileDepthKm(b inversion.Bounds) float64 {
	depth := 0.0
	for i, lb := range b.Layers {
		if i == len(b.Layers)-1 {
			break
		}
		depth += lb.MaxThicknessKm
	}
	return depth + 10
}

package jointinv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"jointinv/internal/forward"
	"jointinv/internal/inversion"
	"jointinv/internal/model"
)

func testBounds() inversion.Bounds {
	return inversion.Bounds{
		Layers: []inversion.LayerBounds{
			{MinThicknessKm: 5, MaxThicknessKm: 30, MinVsKmPerS: 2.5, MaxVsKmPerS: 3.8},
			{MinVsKmPerS: 3.8, MaxVsKmPerS: 5.0},
		},
	}
}

func testDispersion(t *testing.T) []model.DispersionSet {
	t.Helper()
	truth := model.Model{Layers: []model.Layer{
		{ThicknessKm: 15, VsKmPerS: 3.1},
		{VsKmPerS: 4.4},
	}}
	set := model.DispersionSet{
		Wave: model.WaveRayleigh,
		Kind: model.VelocityPhase,
		Points: []model.DispersionPoint{
			{PeriodS: 5},
			{PeriodS: 10},
			{PeriodS: 20},
		},
	}
	velocities, err := forward.Dispersion(truth, set)
	if err != nil {
		t.Fatalf("synthesize observation: %v", err)
	}
	for i := range set.Points {
		set.Points[i].VelocityKmPerS = velocities[i]
		set.Points[i].Sigma = 0.03
	}
	return []model.DispersionSet{set}
}

func newTestClient(t *testing.T) (*Client, string) {
	t.Helper()
	base := t.TempDir()
	resultsDir := filepath.Join(base, "results")
	exportsDir := filepath.Join(base, "exports")

	client, err := New(Options{
		StoreKind:  "memory",
		ResultsDir: resultsDir,
		ExportsDir: exportsDir,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, resultsDir
}

func TestClientRunAccessorsAndExport(t *testing.T) {
	client, resultsDir := newTestClient(t)

	summary, err := client.Run(context.Background(), RunRequest{
		Bounds:     testBounds(),
		Dispersion: testDispersion(t),
		Population: 8,
		Rounds:     3,
		Workers:    2,
		Seed:       7,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.RunID == "" {
		t.Fatal("expected assigned run id")
	}
	if summary.Rounds != 3 || len(summary.MisfitByRound) != 3 {
		t.Fatalf("unexpected round history: rounds=%d len=%d", summary.Rounds, len(summary.MisfitByRound))
	}
	if summary.Evaluations != 24 {
		t.Fatalf("unexpected evaluation count: %d", summary.Evaluations)
	}
	if len(summary.BestModel.Layers) != 2 {
		t.Fatalf("unexpected best model layer count: %d", len(summary.BestModel.Layers))
	}

	runs, err := client.Runs(context.Background(), RunsRequest{Limit: 5})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != summary.RunID {
		t.Fatalf("expected run %s in runs list: %+v", summary.RunID, runs)
	}
	if runs[0].Termination != summary.Termination {
		t.Fatalf("termination mismatch: index=%s summary=%s", runs[0].Termination, summary.Termination)
	}

	best, err := client.Best(context.Background(), BestRequest{RunID: summary.RunID})
	if err != nil {
		t.Fatalf("best: %v", err)
	}
	if best.Misfit != summary.BestMisfit {
		t.Fatalf("best misfit mismatch: store=%g summary=%g", best.Misfit, summary.BestMisfit)
	}

	history, err := client.History(context.Background(), HistoryRequest{Latest: true})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("unexpected history length: %d", len(history))
	}

	head, err := client.EnsembleHead(context.Background(), EnsembleRequest{RunID: summary.RunID, Limit: 5})
	if err != nil {
		t.Fatalf("ensemble head: %v", err)
	}
	if len(head) != 5 {
		t.Fatalf("unexpected head length: %d", len(head))
	}
	for i := 1; i < len(head); i++ {
		if head[i].Misfit < head[i-1].Misfit {
			t.Fatalf("head not ranked at %d: %g < %g", i, head[i].Misfit, head[i-1].Misfit)
		}
	}

	diagnostics, err := client.Diagnostics(context.Background(), BestRequest{RunID: summary.RunID})
	if err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	if diagnostics.Evaluations != summary.Evaluations {
		t.Fatalf("diagnostics evaluations mismatch: %d != %d", diagnostics.Evaluations, summary.Evaluations)
	}

	if _, err := os.Stat(filepath.Join(resultsDir, summary.RunID, "profile_stats.json")); err != nil {
		t.Fatalf("expected profile stats artifact: %v", err)
	}

	export, err := client.Export(context.Background(), ExportRequest{Latest: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if export.RunID != summary.RunID {
		t.Fatalf("exported wrong run: %s", export.RunID)
	}
	if _, err := os.Stat(filepath.Join(export.Directory, "best_model.json")); err != nil {
		t.Fatalf("expected exported best model: %v", err)
	}
}

func TestClientRunSeedReproducible(t *testing.T) {
	client, _ := newTestClient(t)
	dispersion := testDispersion(t)

	first, err := client.Run(context.Background(), RunRequest{
		RunID:      "run-a",
		Bounds:     testBounds(),
		Dispersion: dispersion,
		Population: 8,
		Rounds:     3,
		Workers:    3,
		Seed:       11,
	})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := client.Run(context.Background(), RunRequest{
		RunID:      "run-b",
		Bounds:     testBounds(),
		Dispersion: dispersion,
		Population: 8,
		Rounds:     3,
		Workers:    1,
		Seed:       11,
	})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.BestMisfit != second.BestMisfit {
		t.Fatalf("seeded runs diverged: %g != %g", first.BestMisfit, second.BestMisfit)
	}
}

func TestClientRunNegativeStallRoundsDisablesEarlyStop(t *testing.T) {
	client, _ := newTestClient(t)

	summary, err := client.Run(context.Background(), RunRequest{
		Bounds:      testBounds(),
		Dispersion:  testDispersion(t),
		Population:  8,
		Rounds:      4,
		StallRounds: -1,
		StallTol:    1e9,
		Workers:     2,
		Seed:        5,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Rounds != 4 || summary.Termination != model.TerminationBudget {
		t.Fatalf("expected full budget with stalling disabled: rounds=%d termination=%s",
			summary.Rounds, summary.Termination)
	}
}

func TestClientRunRejectsBadRequest(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.Run(context.Background(), RunRequest{
		Bounds:           testBounds(),
		Dispersion:       testDispersion(t),
		WeightDispersion: -1,
	})
	if err == nil {
		t.Fatal("expected error for negative weight")
	}

	_, err = client.Run(context.Background(), RunRequest{Bounds: testBounds()})
	if !inversion.IsConfigurationError(err) {
		t.Fatalf("expected configuration error for missing observations, got %v", err)
	}
}

func TestClientAccessorRunIDResolution(t *testing.T) {
	client, _ := newTestClient(t)

	if _, err := client.Best(context.Background(), BestRequest{}); err == nil {
		t.Fatal("expected error when neither run id nor latest given")
	}
	if _, err := client.Best(context.Background(), BestRequest{RunID: "x", Latest: true}); err == nil {
		t.Fatal("expected error when both run id and latest given")
	}
	if _, err := client.History(context.Background(), HistoryRequest{Latest: true}); err == nil {
		t.Fatal("expected error with no runs recorded")
	}
	if _, err := client.Best(context.Background(), BestRequest{RunID: "missing"}); err == nil {
		t.Fatal("expected error for unknown run id")
	}
}

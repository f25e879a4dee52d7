package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"jointinv/internal/forward"
	"jointinv/internal/grid"
	"jointinv/internal/inversion"
	"jointinv/internal/model"
	"jointinv/internal/storage"
	jointapi "jointinv/pkg/jointinv"
)

const (
	resultsDir = "results"
	exportsDir = "exports"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "synth":
		return runSynth(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "best":
		return runBest(ctx, args[1:])
	case "ensemble":
		return runEnsemble(ctx, args[1:])
	case "history":
		return runHistory(ctx, args[1:])
	case "diagnostics":
		return runDiagnostics(ctx, args[1:])
	case "stations":
		return runStations(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "jointinv.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := storage.NewStore(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = storage.CloseIfSupported(store)
	}()

	if err := store.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "jointinv.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := storage.NewStore(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = storage.CloseIfSupported(store)
	}()

	if err := store.Init(ctx); err != nil {
		return err
	}
	resetter, ok := store.(storage.Resetter)
	if !ok {
		return fmt.Errorf("store backend %s does not support reset", *storeKind)
	}
	if err := resetter.Reset(ctx); err != nil {
		return err
	}

	fmt.Printf("reset store=%s\n", *storeKind)
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "run config YAML path (required)")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	seed := fs.Int64("seed", 0, "rng seed (0 derives one from the clock)")
	population := fs.Int("pop", 0, "population size per round")
	rounds := fs.Int("rounds", 0, "round budget")
	workers := fs.Int("workers", 0, "worker count")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "jointinv.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return errors.New("run requires -config")
	}

	req, err := loadRunSpec(*configPath)
	if err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})
	if setFlags["run-id"] {
		req.RunID = *runID
	}
	if setFlags["seed"] {
		req.Seed = *seed
	}
	if setFlags["pop"] {
		req.Population = *population
	}
	if setFlags["rounds"] {
		req.Rounds = *rounds
	}
	if setFlags["workers"] {
		req.Workers = *workers
	}

	client, err := jointapi.New(jointapi.Options{
		StoreKind:  *storeKind,
		DBPath:     *dbPath,
		ResultsDir: resultsDir,
		ExportsDir: exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("run completed run_id=%s rounds=%d evaluations=%d termination=%s\n",
		summary.RunID, summary.Rounds, summary.Evaluations, summary.Termination)
	for i, best := range summary.MisfitByRound {
		fmt.Printf("round=%d best_misfit=%.6f\n", i+1, best)
	}
	fmt.Printf("final_best_misfit=%.6f\n", summary.BestMisfit)
	printModel(summary.BestModel)
	fmt.Printf("artifacts_dir=%s\n", filepath.Clean(summary.ArtifactsDir))
	return nil
}

func runSynth(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("synth", flag.ContinueOnError)
	configPath := fs.String("config", "", "synth config YAML path: reference model + acquisition (required)")
	outPath := fs.String("out", "", "output run config YAML path (required)")
	sigmaDisp := fs.Float64("sigma-disp", 0.03, "dispersion uncertainty to stamp on synthesized points (km/s)")
	sigmaRF := fs.Float64("sigma-rf", 0.01, "receiver-function amplitude uncertainty to stamp")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" || *outPath == "" {
		return errors.New("synth requires -config and -out")
	}

	spec, err := loadSynthSpec(*configPath)
	if err != nil {
		return err
	}
	reference := spec.Model.toModel()
	if err := reference.Validate(); err != nil {
		return err
	}

	out := runSpec{Bounds: boundsAround(reference)}
	for i, d := range spec.Dispersion {
		set, err := dispersionFromSpec(d)
		if err != nil {
			return fmt.Errorf("dispersion set %d: %w", i, err)
		}
		velocities, err := forward.Dispersion(reference, set)
		if err != nil {
			return fmt.Errorf("dispersion set %d: %w", i, err)
		}
		synth := dispersionSpec{Wave: string(set.Wave), Kind: string(set.Kind)}
		for j, p := range set.Points {
			synth.Points = append(synth.Points, dispersionItem{
				PeriodS:        p.PeriodS,
				VelocityKmPerS: velocities[j],
				Sigma:          *sigmaDisp,
			})
		}
		out.Dispersion = append(out.Dispersion, synth)
	}
	if spec.Receiver != nil {
		obs := model.ReceiverFunction{
			DtS:            spec.Receiver.DtS,
			ShiftS:         spec.Receiver.ShiftS,
			RayParamSPerKm: spec.Receiver.RayParamSPerKm,
			GaussWidth:     spec.Receiver.GaussWidth,
			Amplitudes:     spec.Receiver.Amplitudes,
		}
		amplitudes, err := forward.SyntheticReceiverFunction(reference, obs)
		if err != nil {
			return fmt.Errorf("receiver function: %w", err)
		}
		out.Receiver = &receiverSpec{
			DtS:            obs.DtS,
			ShiftS:         obs.ShiftS,
			RayParamSPerKm: obs.RayParamSPerKm,
			GaussWidth:     obs.GaussWidth,
			Sigma:          *sigmaRF,
			Amplitudes:     amplitudes,
		}
	}

	if err := writeRunSpec(*outPath, out); err != nil {
		return err
	}
	fmt.Printf("synthesized config=%s\n", filepath.Clean(*outPath))
	return nil
}

// boundsAround widens each reference layer into a search range so a
// synthesized config is invertible as written.
func boundsAround(m model.Model) inversion.Bounds {
	bounds := inversion.Bounds{VpVs: m.VpVs}
	last := len(m.Layers) - 1
	for i, layer := range m.Layers {
		lb := inversion.LayerBounds{
			MinVsKmPerS: layer.VsKmPerS * 0.7,
			MaxVsKmPerS: layer.VsKmPerS * 1.3,
		}
		if i < last {
			lb.MinThicknessKm = layer.ThicknessKm * 0.5
			lb.MaxThicknessKm = layer.ThicknessKm * 1.5
		}
		bounds.Layers = append(bounds.Layers, lb)
	}
	return bounds
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := newReadClient()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, jointapi.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	if *jsonOut {
		return printJSON(items)
	}
	for _, item := range items {
		fmt.Printf("run_id=%s created=%s layers=%d pop=%d rounds=%d evals=%d seed=%d termination=%s best_misfit=%.6f\n",
			item.RunID, item.CreatedAtUTC, item.LayerCount, item.Population,
			item.Rounds, item.Evaluations, item.Seed, item.Termination, item.FinalBestMisfit)
	}
	return nil
}

func runBest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("best", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "jointinv.db", "sqlite database path")
	jsonOut := fs.Bool("json", false, "emit best model as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newStoreClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	record, err := client.Best(ctx, jointapi.BestRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(record)
	}
	fmt.Printf("run_id=%s misfit=%.6f dispersion_misfit=%.6f receiver_misfit=%.6f\n",
		record.RunID, record.Misfit, record.DispersionMisfit, record.ReceiverMisfit)
	printModel(record.Model)
	return nil
}

func runEnsemble(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ensemble", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	limit := fs.Int("limit", 10, "max candidates to show (0 shows all stored)")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "jointinv.db", "sqlite database path")
	jsonOut := fs.Bool("json", false, "emit ensemble as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newStoreClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	head, err := client.EnsembleHead(ctx, jointapi.EnsembleRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(head)
	}
	for _, cand := range head {
		fmt.Printf("rank=%d misfit=%.6f dispersion_misfit=%.6f receiver_misfit=%.6f layers=%d\n",
			cand.Rank, cand.Misfit, cand.DispersionMisfit, cand.ReceiverMisfit, len(cand.Model.Layers))
	}
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	limit := fs.Int("limit", 0, "max rounds to show (0 shows all)")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "jointinv.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newStoreClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.History(ctx, jointapi.HistoryRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	for i, best := range history {
		fmt.Printf("round=%d best_misfit=%.6f\n", i+1, best)
	}
	return nil
}

func runDiagnostics(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("diagnostics", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "jointinv.db", "sqlite database path")
	jsonOut := fs.Bool("json", false, "emit diagnostics as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newStoreClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	record, err := client.Diagnostics(ctx, jointapi.BestRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(record)
	}
	fmt.Printf("run_id=%s rounds=%d evaluations=%d termination=%s best_misfit=%.6f\n",
		record.RunID, record.Rounds, record.Evaluations, record.Termination, record.BestMisfit)
	return nil
}

func runStations(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("stations", flag.ContinueOnError)
	catalogPath := fs.String("catalog", "", "station catalog YAML path (required)")
	lon := fs.Float64("lon", 0, "node longitude in degrees")
	lat := fs.Float64("lat", 0, "node latitude in degrees")
	radius := fs.Float64("radius", 0, "also list stations within this radius in km (0 disables)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *catalogPath == "" {
		return errors.New("stations requires -catalog")
	}

	catalog, err := loadStationCatalog(*catalogPath)
	if err != nil {
		return err
	}
	node := grid.Node{LonDeg: *lon, LatDeg: *lat}
	station, distanceKm, ok := catalog.Nearest(node)
	if !ok {
		return errors.New("catalog holds no stations")
	}
	fmt.Printf("nearest station=%s channel=%s lon=%.4f lat=%.4f distance_km=%.2f\n",
		station.Key(), station.Channel, station.LonDeg, station.LatDeg, distanceKm)
	if *radius > 0 {
		for _, s := range catalog.Within(node, *radius) {
			fmt.Printf("within station=%s lon=%.4f lat=%.4f distance_km=%.2f\n",
				s.Key(), s.LonDeg, s.LatDeg, grid.DistanceKm(*lon, *lat, s.LonDeg, s.LatDeg))
		}
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run")
	outDir := fs.String("out", "", "output directory (defaults to exports/)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newReadClient()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Export(ctx, jointapi.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s dir=%s\n", summary.RunID, summary.Directory)
	return nil
}

// newReadClient serves commands that only touch the on-disk artifacts.
func newReadClient() (*jointapi.Client, error) {
	return jointapi.New(jointapi.Options{
		StoreKind:  "memory",
		ResultsDir: resultsDir,
		ExportsDir: exportsDir,
	})
}

func newStoreClient(storeKind, dbPath string) (*jointapi.Client, error) {
	return jointapi.New(jointapi.Options{
		StoreKind:  storeKind,
		DBPath:     dbPath,
		ResultsDir: resultsDir,
		ExportsDir: exportsDir,
	})
}

func printModel(m model.Model) {
	depth := 0.0
	for i, layer := range m.Layers {
		if i == len(m.Layers)-1 {
			fmt.Printf("layer=%d depth_km=%.2f vs_km_per_s=%.3f (half-space)\n", i, depth, layer.VsKmPerS)
			break
		}
		fmt.Printf("layer=%d depth_km=%.2f thickness_km=%.2f vs_km_per_s=%.3f\n", i, depth, layer.ThicknessKm, layer.VsKmPerS)
		depth += layer.ThicknessKm
	}
}

func printJSON(value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: jointinvctl <init|reset|run|synth|runs|best|ensemble|history|diagnostics|stations|export> [flags]", msg)
}

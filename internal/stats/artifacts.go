// Package stats writes the on-disk artifacts of inversion runs and derives
// posterior summaries from their ensembles.
package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"jointinv/internal/model"
)

const runIndexFile = "run_index.json"

// RunConfig is the persisted description of how a run was launched.
type RunConfig struct {
	RunID          string  `json:"run_id"`
	Wave           string  `json:"wave,omitempty"`
	VelocityKind   string  `json:"velocity_kind,omitempty"`
	LayerCount     int     `json:"layer_count"`
	PopulationSize int     `json:"population_size"`
	MaxRounds      int     `json:"max_rounds"`
	StallRounds    int     `json:"stall_rounds"`
	StallTol       float64 `json:"stall_tol"`
	ResampleCells  int     `json:"resample_cells"`
	Exploration    float64 `json:"exploration"`
	WeightDisp     float64 `json:"weight_dispersion"`
	WeightRF       float64 `json:"weight_receiver"`
	Workers        int     `json:"workers"`
	Seed           int64   `json:"seed"`
}

// RunArtifacts is everything one run leaves behind on disk.
type RunArtifacts struct {
	Config          RunConfig                  `json:"config"`
	MisfitByRound   []float64                  `json:"misfit_by_round"`
	FinalBestMisfit float64                    `json:"final_best_misfit"`
	BestModel       model.BestModelRecord      `json:"best_model"`
	EnsembleHead    []model.CandidateRecord    `json:"ensemble_head"`
	Diagnostics     model.RunDiagnosticsRecord `json:"diagnostics"`
}

// RunIndexEntry is a row of the run index kept at the results root.
type RunIndexEntry struct {
	RunID           string  `json:"run_id"`
	LayerCount      int     `json:"layer_count"`
	PopulationSize  int     `json:"population_size"`
	Rounds          int     `json:"rounds"`
	Evaluations     int     `json:"evaluations"`
	Seed            int64   `json:"seed"`
	Termination     string  `json:"termination"`
	FinalBestMisfit float64 `json:"final_best_misfit"`
	CreatedAtUTC    string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := WriteRunConfig(baseDir, artifacts.Config.RunID, artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "misfit_history.json"), map[string]any{
		"misfit_by_round":   artifacts.MisfitByRound,
		"final_best_misfit": artifacts.FinalBestMisfit,
	}); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "best_model.json"), artifacts.BestModel); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "ensemble.json"), artifacts.EnsembleHead); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "diagnostics.json"), artifacts.Diagnostics); err != nil {
		return "", err
	}
	if err := WriteMisfitSeries(runDir, artifacts.MisfitByRound); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	files := []string{"config.json", "misfit_history.json", "best_model.json", "ensemble.json", "diagnostics.json"}
	for _, file := range files {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	seriesPath := filepath.Join(src, "misfit_series.csv")
	if _, err := os.Stat(seriesPath); err == nil {
		if err := copyFile(seriesPath, filepath.Join(dst, "misfit_series.csv")); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}
	profilePath := filepath.Join(src, "profile_stats.json")
	if _, err := os.Stat(profilePath); err == nil {
		if err := copyFile(profilePath, filepath.Join(dst, "profile_stats.json")); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, "config.json"), cfg)
}

func ReadBestModel(baseDir, runID string) (model.BestModelRecord, bool, error) {
	path := filepath.Join(baseDir, runID, "best_model.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.BestModelRecord{}, false, nil
		}
		return model.BestModelRecord{}, false, err
	}

	var record model.BestModelRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.BestModelRecord{}, false, err
	}
	return record, true, nil
}

func ReadEnsembleHead(baseDir, runID string) ([]model.CandidateRecord, bool, error) {
	path := filepath.Join(baseDir, runID, "ensemble.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var head []model.CandidateRecord
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, false, err
	}
	return head, true, nil
}

func WriteProfileStats(runDir string, profile []ProfileStat) error {
	return writeJSON(filepath.Join(runDir, "profile_stats.json"), profile)
}

func WriteMisfitSeries(runDir string, misfitByRound []float64) error {
	path := filepath.Join(runDir, "misfit_series.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"round", "best_misfit"}); err != nil {
		return err
	}
	for i, best := range misfitByRound {
		if err := writer.Write([]string{
			strconv.Itoa(i + 1),
			strconv.FormatFloat(best, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadMisfitSeries(baseDir, runID string) ([]float64, bool, error) {
	path := filepath.Join(baseDir, runID, "misfit_series.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("misfit series header must have at least 2 columns")
	}

	series := make([]float64, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 2 {
			return nil, false, fmt.Errorf("misfit series row must have at least 2 columns")
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

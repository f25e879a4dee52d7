package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"jointinv/internal/grid"
	"jointinv/internal/inversion"
	"jointinv/internal/model"
	jointapi "jointinv/pkg/jointinv"
)

// runSpec is the YAML run-configuration file the run and synth commands read
// and write. It mirrors the facade RunRequest with the observations inline.
type runSpec struct {
	RunID string `yaml:"run_id,omitempty"`
	Seed  int64  `yaml:"seed,omitempty"`

	Population    int     `yaml:"population,omitempty"`
	Rounds        int     `yaml:"rounds,omitempty"`
	StallRounds   int     `yaml:"stall_rounds,omitempty"`
	StallTol      float64 `yaml:"stall_tol,omitempty"`
	ResampleCells int     `yaml:"resample_cells,omitempty"`
	Exploration   float64 `yaml:"exploration,omitempty"`
	Workers       int     `yaml:"workers,omitempty"`
	EnsembleHead  int     `yaml:"ensemble_head,omitempty"`

	Weights *weightsSpec `yaml:"weights,omitempty"`

	Bounds     inversion.Bounds `yaml:"bounds"`
	Dispersion []dispersionSpec `yaml:"dispersion,omitempty"`
	Receiver   *receiverSpec    `yaml:"receiver_function,omitempty"`
}

type weightsSpec struct {
	Dispersion float64 `yaml:"dispersion"`
	Receiver   float64 `yaml:"receiver"`
}

type dispersionSpec struct {
	Wave   string           `yaml:"wave"`
	Kind   string           `yaml:"kind"`
	Points []dispersionItem `yaml:"points"`
}

type dispersionItem struct {
	PeriodS        float64 `yaml:"period_s"`
	VelocityKmPerS float64 `yaml:"velocity_km_per_s"`
	Sigma          float64 `yaml:"sigma,omitempty"`
}

type receiverSpec struct {
	DtS            float64   `yaml:"dt_s"`
	ShiftS         float64   `yaml:"shift_s"`
	RayParamSPerKm float64   `yaml:"ray_param_s_per_km"`
	GaussWidth     float64   `yaml:"gauss_width"`
	Sigma          float64   `yaml:"sigma,omitempty"`
	Amplitudes     []float64 `yaml:"amplitudes"`
}

func loadRunSpec(path string) (jointapi.RunRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return jointapi.RunRequest{}, err
	}
	var spec runSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return jointapi.RunRequest{}, fmt.Errorf("parse run config %s: %w", path, err)
	}
	return specToRequest(spec)
}

func specToRequest(spec runSpec) (jointapi.RunRequest, error) {
	req := jointapi.RunRequest{
		RunID:         spec.RunID,
		Bounds:        spec.Bounds,
		Population:    spec.Population,
		Rounds:        spec.Rounds,
		StallRounds:   spec.StallRounds,
		StallTol:      spec.StallTol,
		ResampleCells: spec.ResampleCells,
		Exploration:   spec.Exploration,
		Workers:       spec.Workers,
		Seed:          spec.Seed,
		EnsembleHead:  spec.EnsembleHead,
	}
	if spec.Weights != nil {
		req.WeightDispersion = spec.Weights.Dispersion
		req.WeightReceiver = spec.Weights.Receiver
	}
	for i, d := range spec.Dispersion {
		set, err := dispersionFromSpec(d)
		if err != nil {
			return jointapi.RunRequest{}, fmt.Errorf("dispersion set %d: %w", i, err)
		}
		req.Dispersion = append(req.Dispersion, set)
	}
	if spec.Receiver != nil {
		req.Receiver = &model.ReceiverFunction{
			DtS:            spec.Receiver.DtS,
			ShiftS:         spec.Receiver.ShiftS,
			RayParamSPerKm: spec.Receiver.RayParamSPerKm,
			GaussWidth:     spec.Receiver.GaussWidth,
			Sigma:          spec.Receiver.Sigma,
			Amplitudes:     spec.Receiver.Amplitudes,
		}
	}
	return req, nil
}

func dispersionFromSpec(d dispersionSpec) (model.DispersionSet, error) {
	wave, err := waveFromName(d.Wave)
	if err != nil {
		return model.DispersionSet{}, err
	}
	kind, err := kindFromName(d.Kind)
	if err != nil {
		return model.DispersionSet{}, err
	}
	set := model.DispersionSet{Wave: wave, Kind: kind}
	for _, p := range d.Points {
		set.Points = append(set.Points, model.DispersionPoint{
			PeriodS:        p.PeriodS,
			VelocityKmPerS: p.VelocityKmPerS,
			Sigma:          p.Sigma,
		})
	}
	return set, nil
}

func waveFromName(name string) (model.WaveType, error) {
	switch name {
	case "", string(model.WaveRayleigh):
		return model.WaveRayleigh, nil
	case string(model.WaveLove):
		return model.WaveLove, nil
	default:
		return "", fmt.Errorf("unknown wave type: %s", name)
	}
}

func kindFromName(name string) (model.VelocityKind, error) {
	switch name {
	case "", string(model.VelocityPhase):
		return model.VelocityPhase, nil
	case string(model.VelocityGroup):
		return model.VelocityGroup, nil
	default:
		return "", fmt.Errorf("unknown velocity kind: %s", name)
	}
}

// synthSpec is the YAML file the synth command reads: a reference model plus
// the acquisition geometry of the observations to synthesize.
type synthSpec struct {
	Model      modelSpec        `yaml:"model"`
	Dispersion []dispersionSpec `yaml:"dispersion,omitempty"`
	Receiver   *receiverSpec    `yaml:"receiver_function,omitempty"`
}

type modelSpec struct {
	VpVs   float64     `yaml:"vp_vs,omitempty"`
	Layers []layerSpec `yaml:"layers"`
}

type layerSpec struct {
	ThicknessKm float64 `yaml:"thickness_km"`
	VsKmPerS    float64 `yaml:"vs_km_per_s"`
}

func (s modelSpec) toModel() model.Model {
	layers := make([]model.Layer, len(s.Layers))
	for i, l := range s.Layers {
		layers[i] = model.Layer{ThicknessKm: l.ThicknessKm, VsKmPerS: l.VsKmPerS}
	}
	return model.Model{Layers: layers, VpVs: s.VpVs}
}

func loadSynthSpec(path string) (synthSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return synthSpec{}, err
	}
	var spec synthSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return synthSpec{}, fmt.Errorf("parse synth config %s: %w", path, err)
	}
	return spec, nil
}

func writeRunSpec(path string, spec runSpec) error {
	data, err := yaml.Marshal(spec)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// stationsFile is the YAML station catalog the stations command reads.
type stationsFile struct {
	Stations []stationSpec `yaml:"stations"`
}

type stationSpec struct {
	Network string  `yaml:"network"`
	Name    string  `yaml:"name"`
	Channel string  `yaml:"channel,omitempty"`
	LonDeg  float64 `yaml:"lon_deg"`
	LatDeg  float64 `yaml:"lat_deg"`
}

func loadStationCatalog(path string) (*grid.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file stationsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse station catalog %s: %w", path, err)
	}
	stations := make([]grid.Station, 0, len(file.Stations))
	for _, s := range file.Stations {
		stations = append(stations, grid.Station{
			Network: s.Network,
			Name:    s.Name,
			Channel: s.Channel,
			LonDeg:  s.LonDeg,
			LatDeg:  s.LatDeg,
		})
	}
	return grid.NewCatalog(stations)
}

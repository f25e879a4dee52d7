// Package grid supplies per-node observations and parameterizations to the
// inversion core. The core itself is grid-agnostic; these adapters are how a
// map-scale study feeds it one spatial node at a time.
package grid

import (
	"fmt"
	"math"
	"sort"

	"jointinv/internal/inversion"
	"jointinv/internal/model"
)

// Node is one point of the study area, in degrees.
type Node struct {
	LonDeg float64 `json:"lon_deg" yaml:"lon_deg"`
	LatDeg float64 `json:"lat_deg" yaml:"lat_deg"`
}

// DispersionProvider yields the dispersion observations for a node, sourced
// from a tomography map or a measurement database.
type DispersionProvider interface {
	DispersionAt(node Node) ([]model.DispersionSet, error)
}

// ReceiverFunctionProvider yields the stacked receiver function recorded at
// or nearest to a node. A nil result with nil error means the node has no
// receiver-function coverage and is inverted on dispersion alone.
type ReceiverFunctionProvider interface {
	ReceiverFunctionAt(node Node) (*model.ReceiverFunction, error)
}

// ParameterizationPolicy decides the layer count and bounds for a node. It
// is where prior geological constraints enter the inversion.
type ParameterizationPolicy interface {
	BoundsAt(node Node) (inversion.Bounds, error)
}

// UniformPolicy applies the same parameterization everywhere.
type UniformPolicy struct {
	Bounds inversion.Bounds
}

func (p UniformPolicy) BoundsAt(Node) (inversion.Bounds, error) {
	if err := p.Bounds.Validate(); err != nil {
		return inversion.Bounds{}, err
	}
	return p.Bounds, nil
}

// Regular is an evenly spaced rectangular grid of nodes.
type Regular struct {
	Origin  Node
	StepDeg float64
	NLon    int
	NLat    int
}

// Validate rejects degenerate grids.
func (g Regular) Validate() error {
	if g.StepDeg <= 0 {
		return fmt.Errorf("grid step must be > 0, got %g", g.StepDeg)
	}
	if g.NLon <= 0 || g.NLat <= 0 {
		return fmt.Errorf("grid extent must be positive, got %dx%d", g.NLon, g.NLat)
	}
	return nil
}

// Nodes enumerates the grid in row-major order, longitude fastest.
func (g Regular) Nodes() []Node {
	out := make([]Node, 0, g.NLon*g.NLat)
	for j := 0; j < g.NLat; j++ {
		for i := 0; i < g.NLon; i++ {
			out = append(out, Node{
				LonDeg: g.Origin.LonDeg + float64(i)*g.StepDeg,
				LatDeg: g.Origin.LatDeg + float64(j)*g.StepDeg,
			})
		}
	}
	return out
}

// Closest returns the grid node nearest to an arbitrary position.
func (g Regular) Closest(lonDeg, latDeg float64) Node {
	clampIdx := func(v float64, n int) int {
		i := int(math.Round(v))
		if i < 0 {
			return 0
		}
		if i >= n {
			return n - 1
		}
		return i
	}
	i := clampIdx((lonDeg-g.Origin.LonDeg)/g.StepDeg, g.NLon)
	j := clampIdx((latDeg-g.Origin.LatDeg)/g.StepDeg, g.NLat)
	return Node{
		LonDeg: g.Origin.LonDeg + float64(i)*g.StepDeg,
		LatDeg: g.Origin.LatDeg + float64(j)*g.StepDeg,
	}
}

// Station identifies one seismic station of the study network.
type Station struct {
	Name    string  `json:"name" yaml:"name"`
	Network string  `json:"network" yaml:"network"`
	Channel string  `json:"channel,omitempty" yaml:"channel,omitempty"`
	LonDeg  float64 `json:"lon_deg" yaml:"lon_deg"`
	LatDeg  float64 `json:"lat_deg" yaml:"lat_deg"`
}

// Key returns the network.name identifier used for sorting and lookup.
func (s Station) Key() string {
	return s.Network + "." + s.Name
}

const earthRadiusKm = 6371.0

// DistanceKm is the great-circle distance in km between two points given in
// degrees.
func DistanceKm(lon1, lat1, lon2, lat2 float64) float64 {
	const rad = math.Pi / 180
	phi1, phi2 := lat1*rad, lat2*rad
	dphi := (lat2 - lat1) * rad
	dlam := (lon2 - lon1) * rad
	a := math.Sin(dphi/2)*math.Sin(dphi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dlam/2)*math.Sin(dlam/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// Catalog is an immutable set of stations, ordered by key.
type Catalog struct {
	stations []Station
}

// NewCatalog copies and sorts the stations, rejecting duplicates.
func NewCatalog(stations []Station) (*Catalog, error) {
	out := make([]Station, len(stations))
	copy(out, stations)
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	for i := 1; i < len(out); i++ {
		if out[i].Key() == out[i-1].Key() {
			return nil, fmt.Errorf("duplicate station %s", out[i].Key())
		}
	}
	return &Catalog{stations: out}, nil
}

// Stations returns the catalog in key order. The slice is a copy.
func (c *Catalog) Stations() []Station {
	out := make([]Station, len(c.stations))
	copy(out, c.stations)
	return out
}

// Len returns the number of stations.
func (c *Catalog) Len() int { return len(c.stations) }

// Lookup finds a station by its network.name key.
func (c *Catalog) Lookup(key string) (Station, bool) {
	i := sort.Search(len(c.stations), func(i int) bool { return c.stations[i].Key() >= key })
	if i < len(c.stations) && c.stations[i].Key() == key {
		return c.stations[i], true
	}
	return Station{}, false
}

// Nearest returns the station closest to a node and its distance in km.
func (c *Catalog) Nearest(node Node) (Station, float64, bool) {
	if len(c.stations) == 0 {
		return Station{}, 0, false
	}
	best := c.stations[0]
	bestD := DistanceKm(node.LonDeg, node.LatDeg, best.LonDeg, best.LatDeg)
	for _, s := range c.stations[1:] {
		if d := DistanceKm(node.LonDeg, node.LatDeg, s.LonDeg, s.LatDeg); d < bestD {
			best, bestD = s, d
		}
	}
	return best, bestD, true
}

// Within returns the stations no farther than radiusKm from a node, ordered
// by increasing distance.
func (c *Catalog) Within(node Node, radiusKm float64) []Station {
	type scored struct {
		s Station
		d float64
	}
	hits := make([]scored, 0, len(c.stations))
	for _, s := range c.stations {
		if d := DistanceKm(node.LonDeg, node.LatDeg, s.LonDeg, s.LatDeg); d <= radiusKm {
			hits = append(hits, scored{s: s, d: d})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].d != hits[j].d {
			return hits[i].d < hits[j].d
		}
		return hits[i].s.Key() < hits[j].s.Key()
	})
	out := make([]Station, len(hits))
	for i, h := range hits {
		out[i] = h.s
	}
	return out
}

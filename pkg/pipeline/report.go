package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"mrilaminar/internal/models"
	"mrilaminar/pkg/meshing"
)

// DepthStats summarizes the depth map over the laminar domain.
type DepthStats struct {
	Voxels int     `json:"voxels"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Report is the run manifest: what ran, what it wrote, and how many
// ambiguities each stage resolved locally.
type Report struct {
	RunID   string        `json:"runId"`
	Started time.Time     `json:"started"`
	Elapsed time.Duration `json:"elapsed"`

	Stages []models.Diagnostics `json:"stages"`

	Depth *DepthStats `json:"depth,omitempty"`

	// LayerFractions is the share of domain voxels in each layer. Under the
	// equivolume model the fractions are close to uniform.
	LayerFractions []float64 `json:"layerFractions,omitempty"`

	// Spacing is the nearest-vertex distance between consecutive depth
	// meshes.
	Spacing []meshing.Spacing `json:"spacing,omitempty"`

	Outputs []string `json:"outputs"`
}

func newReport() *Report {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Report{
		RunID:   id.String(),
		Started: time.Now().UTC(),
	}
}

func (r *Report) add(d models.Diagnostics) {
	r.Stages = append(r.Stages, d)
}

func (r *Report) addOutput(path string) {
	r.Outputs = append(r.Outputs, path)
}

// Totals sums the diagnostic counters of every stage.
func (r *Report) Totals() models.Diagnostics {
	var total models.Diagnostics
	for _, d := range r.Stages {
		total.Merge(d)
		total.Elapsed += d.Elapsed
	}
	return total
}

// Save writes the report as indented JSON.
func (r *Report) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing report: %w", err)
	}
	return nil
}

// LoadReport reads a report written by Save.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("error parsing report %s: %w", path, err)
	}
	return &r, nil
}

// depthStats summarizes the finite voxels of a depth map.
func depthStats(depth *models.Volume) *DepthStats {
	values := make([]float64, 0, len(depth.Data))
	for _, d := range depth.Data {
		if !math.IsNaN(d) {
			values = append(values, d)
		}
	}
	if len(values) == 0 {
		return &DepthStats{}
	}
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) == 1 {
		std = 0
	}
	return &DepthStats{
		Voxels: len(values),
		Mean:   mean,
		StdDev: std,
		Min:    floats.Min(values),
		Max:    floats.Max(values),
	}
}

// layerFractions returns the share of labelled voxels in each of n layers.
func layerFractions(labels *models.LabelVolume, n int) []float64 {
	counts := make([]float64, n)
	for _, l := range labels.Data {
		if l >= 0 && int(l) < n {
			counts[l]++
		}
	}
	if total := floats.Sum(counts); total > 0 {
		floats.Scale(1/total, counts)
	}
	return counts
}

// Package config provides configuration loading and management for mrilaminar.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"mrilaminar/pkg/interpolation"
	"mrilaminar/pkg/layering"
	"mrilaminar/pkg/levelset"
	"mrilaminar/pkg/meshing"
	"mrilaminar/pkg/sampling"
	"mrilaminar/pkg/visualization"
)

// Search bounds the normal-direction search used by sampling and meshing.
type Search struct {
	// SearchRadius is the longest path in mm a search may travel
	SearchRadius float64 `yaml:"searchRadius"`

	// Tolerance is the largest |phi| in mm accepted as on the surface
	Tolerance float64 `yaml:"tolerance"`

	// MaxIterations caps the Newton steps of one search
	MaxIterations int `yaml:"maxIterations"`
}

func (s Search) options() interpolation.SearchOptions {
	return interpolation.SearchOptions{
		Radius:        s.SearchRadius,
		Tolerance:     s.Tolerance,
		MaxIterations: s.MaxIterations,
	}
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumWorkers specifies how many goroutines each stage uses
		NumWorkers int `yaml:"numWorkers"`

		// MaxVoxels bounds the voxels (times frames) a stage may allocate;
		// zero means unbounded
		MaxVoxels int `yaml:"maxVoxels"`
	} `yaml:"processing"`

	// Level-set construction
	Levelset struct {
		// IsoLevel is the probability of the boundary surface
		IsoLevel float64 `yaml:"isoLevel"`

		// ClampProbability clamps values marginally outside [0,1]
		ClampProbability bool `yaml:"clampProbability"`
	} `yaml:"levelset"`

	// Layering parameters
	Layering struct {
		// NumLayers is the number of layers between the boundaries
		NumLayers int `yaml:"numLayers"`

		// Model is equivolume or equidistance
		Model string `yaml:"model"`

		// NestingTolerance is the fraction of the inner interior allowed
		// outside the outer boundary before the input is rejected
		NestingTolerance float64 `yaml:"nestingTolerance"`

		// TopologyPasses is how often rejected voxels are retried
		TopologyPasses int `yaml:"topologyPasses"`
	} `yaml:"layering"`

	// Sampling search bounds
	Sampling Search `yaml:"sampling"`

	// Meshing search bounds
	Meshing Search `yaml:"meshing"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults writes previews of every stage output
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// PreviewFormat is jpeg or webp
		PreviewFormat string `yaml:"previewFormat"`

		// PreviewScale enlarges preview images
		PreviewScale float64 `yaml:"previewScale"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumWorkers = runtime.NumCPU()

	ls := levelset.DefaultParams()
	cfg.Levelset.IsoLevel = ls.IsoLevel
	cfg.Levelset.ClampProbability = ls.Clamp

	lp := layering.DefaultParams()
	cfg.Layering.NumLayers = lp.NumLayers
	cfg.Layering.Model = lp.Model.String()
	cfg.Layering.NestingTolerance = lp.NestingTolerance
	cfg.Layering.TopologyPasses = lp.TopologyPasses

	search := interpolation.DefaultSearchOptions()
	cfg.Sampling = Search{SearchRadius: search.Radius, Tolerance: search.Tolerance, MaxIterations: search.MaxIterations}
	cfg.Meshing = cfg.Sampling

	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.PreviewFormat = "jpeg"
	cfg.Output.PreviewScale = 2
	cfg.Output.Verbose = false

	return cfg
}

// Validate checks values that would otherwise fail deep inside a stage.
func (c *Config) Validate() error {
	if c.Processing.MaxVoxels < 0 {
		return fmt.Errorf("processing.maxVoxels must not be negative, got %d", c.Processing.MaxVoxels)
	}
	if c.Layering.NumLayers < 1 {
		return fmt.Errorf("layering.numLayers must be at least 1, got %d", c.Layering.NumLayers)
	}
	if _, err := layering.ParseDepthModel(c.Layering.Model); err != nil {
		return fmt.Errorf("layering.model: %w", err)
	}
	if c.Layering.NestingTolerance < 0 || c.Layering.NestingTolerance > 1 {
		return fmt.Errorf("layering.nestingTolerance must be in [0,1], got %g", c.Layering.NestingTolerance)
	}
	if !(c.Levelset.IsoLevel > 0 && c.Levelset.IsoLevel < 1) {
		return fmt.Errorf("levelset.isoLevel must be in (0,1), got %g", c.Levelset.IsoLevel)
	}
	for name, s := range map[string]Search{"sampling": c.Sampling, "meshing": c.Meshing} {
		if !(s.SearchRadius > 0) {
			return fmt.Errorf("%s.searchRadius must be positive, got %g", name, s.SearchRadius)
		}
	}
	if _, err := visualization.Extension(c.Output.PreviewFormat); err != nil {
		return fmt.Errorf("output.previewFormat: %w", err)
	}
	return nil
}

// LevelsetParams returns the level-set builder parameters.
func (c *Config) LevelsetParams() levelset.Params {
	p := levelset.DefaultParams()
	p.IsoLevel = c.Levelset.IsoLevel
	p.Clamp = c.Levelset.ClampProbability
	return p
}

// LayeringParams returns the layering parameters.
func (c *Config) LayeringParams() (layering.Params, error) {
	model, err := layering.ParseDepthModel(c.Layering.Model)
	if err != nil {
		return layering.Params{}, err
	}
	return layering.Params{
		NumLayers:        c.Layering.NumLayers,
		Model:            model,
		NestingTolerance: c.Layering.NestingTolerance,
		TopologyPasses:   c.Layering.TopologyPasses,
		NumWorkers:       c.Processing.NumWorkers,
	}, nil
}

// SamplingParams returns the profile sampler parameters.
func (c *Config) SamplingParams() sampling.Params {
	return sampling.Params{Search: c.Sampling.options(), NumWorkers: c.Processing.NumWorkers}
}

// MeshingParams returns the profile mesher parameters.
func (c *Config) MeshingParams() meshing.Params {
	return meshing.Params{Search: c.Meshing.options(), NumWorkers: c.Processing.NumWorkers}
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// YAML returns the configuration as a YAML document.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("error marshaling config: %w", err)
	}
	return data, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := cfg.YAML()
	if err != nil {
		return err
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

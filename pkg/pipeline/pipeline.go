// Package pipeline runs the laminar analysis stages on files: it loads the
// inputs, calls the stage, and writes the outputs under a common base name.
package pipeline

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mrilaminar/internal/logger"
	"mrilaminar/internal/models"
	"mrilaminar/pkg/config"
	"mrilaminar/pkg/layering"
	"mrilaminar/pkg/levelset"
	"mrilaminar/pkg/meshing"
	"mrilaminar/pkg/nifti"
	"mrilaminar/pkg/sampling"
	"mrilaminar/pkg/stl"
	"mrilaminar/pkg/visualization"
	"mrilaminar/pkg/vtk"
)

// Output suffixes appended to the base name.
const (
	SuffixLevelset   = "_levelset"
	SuffixDepth      = "_depth"
	SuffixLayers     = "_layers"
	SuffixBoundaries = "_boundaries"
	SuffixProfiles   = "_profiles"
	SuffixReport     = "_report"

	volumeExt = ".nii.gz"
	meshExt   = ".vtk"
)

// defaultStem names outputs of in-memory inputs written to the working
// directory.
const defaultStem = "mrilaminar"

// Params holds the file-level settings of a pipeline.
type Params struct {
	// Config holds the stage parameters; nil uses the defaults
	Config *config.Config

	// Save writes every stage output to disk
	Save bool

	// BaseName is the output prefix. When empty it is derived from the
	// stage's input path.
	BaseName string

	// Out receives progress lines when verbose output is enabled
	Out io.Writer
}

// Pipeline runs the four stages and collects their diagnostics. A Pipeline
// is not safe for concurrent use; the stages themselves run in parallel.
type Pipeline struct {
	params *Params
	cfg    *config.Config
	report *Report
}

// New creates a pipeline.
func New(params *Params) *Pipeline {
	if params == nil {
		params = &Params{}
	}
	cfg := params.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if params.Out == nil {
		params.Out = os.Stdout
	}
	return &Pipeline{
		params: params,
		cfg:    cfg,
		report: newReport(),
	}
}

// Report returns the diagnostics collected so far.
func (p *Pipeline) Report() *Report {
	return p.report
}

func (p *Pipeline) printf(format string, args ...any) {
	if p.cfg.Output.Verbose {
		fmt.Fprintf(p.params.Out, format, args...)
	}
}

// BaseName derives an output prefix from an input path: the input's
// directory joined with the file name up to its first '.'. An empty input
// stands for an in-memory volume and yields a prefix in the working
// directory.
func BaseName(input string) (string, error) {
	if input == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to resolve working directory: %w", err)
		}
		return filepath.Join(cwd, defaultStem), nil
	}
	name := filepath.Base(input)
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return filepath.Join(filepath.Dir(input), name), nil
}

func (p *Pipeline) base(source string) (string, error) {
	if p.params.BaseName != "" {
		return p.params.BaseName, nil
	}
	return BaseName(source)
}

// checkBudget rejects volumes larger than the configured voxel budget.
func (p *Pipeline) checkBudget(stage string, voxels int) error {
	limit := p.cfg.Processing.MaxVoxels
	if limit > 0 && voxels > limit {
		return models.NewStageError(stage, models.KindResource, "voxel budget",
			"%d voxels exceed the budget of %d", voxels, limit)
	}
	return nil
}

// Levelset converts a probability map into a level set. source is the path
// the map was read from, or empty for an in-memory map.
func (p *Pipeline) Levelset(prob *models.Volume, source string) (*models.Volume, error) {
	if err := p.checkBudget(levelset.Stage, prob.Len()); err != nil {
		return nil, err
	}
	phi, diag, err := levelset.Build(prob, p.cfg.LevelsetParams())
	if err != nil {
		return nil, err
	}
	p.report.add(diag)
	p.printf("Level set built in %.2f seconds\n", diag.Elapsed.Seconds())

	if !p.params.Save {
		return phi, nil
	}
	base, err := p.base(source)
	if err != nil {
		return nil, err
	}
	if err := p.saveVolume(base+SuffixLevelset, phi); err != nil {
		return nil, err
	}
	return phi, nil
}

// LevelsetFile loads a probability map and converts it.
func (p *Pipeline) LevelsetFile(path string) (*models.Volume, error) {
	prob, err := nifti.LoadVolume(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load probability map: %w", err)
	}
	return p.Levelset(prob, path)
}

// Layering computes depth, labels and boundaries between two level sets.
// source names the inner level set for output naming.
func (p *Pipeline) Layering(inner, outer *models.Volume, source string) (*layering.Result, error) {
	if err := p.checkBudget(layering.Stage, inner.Len()*(p.cfg.Layering.NumLayers+3)); err != nil {
		return nil, err
	}
	lp, err := p.cfg.LayeringParams()
	if err != nil {
		return nil, models.NewStageError(layering.Stage, models.KindConfiguration, "depth model", "%v", err)
	}
	res, err := layering.Layer(inner, outer, lp)
	if err != nil {
		return nil, err
	}
	p.report.add(res.Diagnostics)
	p.report.Depth = depthStats(res.Depth)
	p.report.LayerFractions = layerFractions(res.Layers, lp.NumLayers)
	p.printf("Layering: %d layers, %d nesting corrections, %d fallback voxels, %d ambiguous voxels\n",
		lp.NumLayers, res.Diagnostics.NestingCorrections, res.Diagnostics.FallbackVoxels, res.Diagnostics.AmbiguousVoxels)

	if !p.params.Save {
		return res, nil
	}
	base, err := p.base(source)
	if err != nil {
		return nil, err
	}
	if err := p.saveVolume(base+SuffixDepth, res.Depth); err != nil {
		return nil, err
	}
	if err := p.saveLabels(base+SuffixLayers, res.Layers); err != nil {
		return nil, err
	}
	if err := p.saveVolume4D(base+SuffixBoundaries, res.Boundaries.Volume4D()); err != nil {
		return nil, err
	}
	return res, nil
}

// LayeringFile loads two level sets and layers the domain between them.
func (p *Pipeline) LayeringFile(innerPath, outerPath string) (*layering.Result, error) {
	inner, err := nifti.LoadVolume(innerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load inner level set: %w", err)
	}
	outer, err := nifti.LoadVolume(outerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load outer level set: %w", err)
	}
	return p.Layering(inner, outer, innerPath)
}

// Sample maps intensities onto every layer boundary. source names the
// intensity volume for output naming.
func (p *Pipeline) Sample(stack *models.LayerStack, intensity *models.Volume, source string) (*models.ProfileVolume, error) {
	if stack != nil && intensity != nil {
		if err := p.checkBudget(sampling.Stage, intensity.Len()*(len(stack.Surfaces)+1)); err != nil {
			return nil, err
		}
	}
	profiles, diag, err := sampling.SampleProfiles(stack, intensity, p.cfg.SamplingParams())
	if err != nil {
		return nil, err
	}
	p.report.add(diag)
	p.printf("Sampled %d depths, %d failed searches\n", profiles.Depths(), diag.FailedSearches)

	if !p.params.Save {
		return profiles, nil
	}
	base, err := p.base(source)
	if err != nil {
		return nil, err
	}
	if err := p.saveVolume4D(base+SuffixProfiles, profiles.Samples); err != nil {
		return nil, err
	}
	return profiles, nil
}

// SampleFile loads a boundary volume and an intensity volume and samples
// profiles. Outputs are named after the intensity volume.
func (p *Pipeline) SampleFile(boundariesPath, intensityPath string) (*models.ProfileVolume, error) {
	stack, err := LoadBoundaries(boundariesPath)
	if err != nil {
		return nil, err
	}
	intensity, err := nifti.LoadVolume(intensityPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load intensity volume: %w", err)
	}
	return p.Sample(stack, intensity, intensityPath)
}

// Mesh moves the base mesh onto every depth of the profile geometry.
// source names the boundary volume for output naming.
func (p *Pipeline) Mesh(profiles *models.ProfileVolume, base *models.Mesh, source string) (models.DepthMeshSequence, error) {
	seq, diag, err := meshing.MeshProfiles(profiles, base, p.cfg.MeshingParams())
	if err != nil {
		return nil, err
	}
	p.report.add(diag)
	p.report.Spacing = meshing.LayerSpacing(seq)
	p.printf("Meshed %d depths of %d vertices, %d failed searches\n", len(seq), len(base.Points), diag.FailedSearches)

	if !p.params.Save {
		return seq, nil
	}
	prefix, err := p.base(source)
	if err != nil {
		return nil, err
	}
	for i, m := range seq {
		path := fmt.Sprintf("%s_%d%s", prefix, i, meshExt)
		if err := vtk.Save(path, m, fmt.Sprintf("depth %d", i)); err != nil {
			return nil, fmt.Errorf("failed to save mesh: %w", err)
		}
		p.report.addOutput(path)
	}
	return seq, nil
}

// MeshFile loads a boundary volume and a VTK base mesh and builds the depth
// meshes. Outputs are named after the boundary volume.
func (p *Pipeline) MeshFile(boundariesPath, meshPath string) (models.DepthMeshSequence, error) {
	stack, err := LoadBoundaries(boundariesPath)
	if err != nil {
		return nil, err
	}
	base, err := vtk.Load(meshPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load base mesh: %w", err)
	}
	return p.Mesh(&models.ProfileVolume{Geometry: stack}, base, boundariesPath)
}

// MeshFromLevelsetFile builds the depth meshes starting from the zero
// surface of a level set instead of a supplied mesh. The extracted base mesh
// is also written as STL when saving.
func (p *Pipeline) MeshFromLevelsetFile(boundariesPath, levelsetPath string) (models.DepthMeshSequence, error) {
	stack, err := LoadBoundaries(boundariesPath)
	if err != nil {
		return nil, err
	}
	phi, err := nifti.LoadVolume(levelsetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load level set: %w", err)
	}
	base, err := p.BaseMesh(phi, boundariesPath)
	if err != nil {
		return nil, err
	}
	return p.Mesh(&models.ProfileVolume{Geometry: stack}, base, boundariesPath)
}

// BaseMesh extracts the zero surface of a level set as a world-space mesh.
func (p *Pipeline) BaseMesh(phi *models.Volume, source string) (*models.Mesh, error) {
	mt := stl.NewMarchingTetrahedra(phi, 0)
	mesh := mt.Extract()
	if len(mesh.Faces) == 0 {
		return nil, models.NewStageError(meshing.Stage, models.KindDegenerateInput, "base surface",
			"level set has no zero crossing to extract a base mesh from")
	}
	p.printf("Extracted base mesh with %d vertices and %d faces\n", len(mesh.Points), len(mesh.Faces))

	if p.params.Save {
		prefix, err := p.base(source)
		if err != nil {
			return nil, err
		}
		path := prefix + "_base.stl"
		if err := stl.SaveMesh(path, mesh); err != nil {
			return nil, err
		}
		p.report.addOutput(path)
	}
	return mesh, nil
}

// LoadBoundaries reads a 4D boundary volume as a layer stack.
func LoadBoundaries(path string) (*models.LayerStack, error) {
	v, err := nifti.LoadVolume4D(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load boundaries: %w", err)
	}
	stack, err := models.StackFromVolume4D(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return stack, nil
}

// RunInputs names the files of a full run.
type RunInputs struct {
	// InnerProbability and OuterProbability are probability maps of the
	// interior of the inner and outer boundary
	InnerProbability string
	OuterProbability string

	// Intensity is the volume sampled along the profiles
	Intensity string

	// Mesh is an optional VTK base mesh; when empty the base mesh is
	// extracted from the inner level set
	Mesh string
}

// Run processes the complete pipeline: level sets, layering, profile
// sampling and profile meshing. With Save set every stage output and the
// run report are written under the base name, which defaults to the one
// derived from the inner probability map.
func (p *Pipeline) Run(in RunInputs) error {
	startTime := time.Now()
	log := logger.L().With("run", p.report.RunID)
	log.Info("run.start", "inner", in.InnerProbability, "outer", in.OuterProbability, "intensity", in.Intensity)

	base, err := p.base(in.InnerProbability)
	if err != nil {
		return err
	}

	// Step 1: level sets of both boundaries
	p.printf("Step 1: Building level sets...\n")
	innerProb, err := nifti.LoadVolume(in.InnerProbability)
	if err != nil {
		return fmt.Errorf("failed to load inner probability map: %w", err)
	}
	outerProb, err := nifti.LoadVolume(in.OuterProbability)
	if err != nil {
		return fmt.Errorf("failed to load outer probability map: %w", err)
	}
	inner, err := p.runLevelset(innerProb, base+"_inner")
	if err != nil {
		return err
	}
	outer, err := p.runLevelset(outerProb, base+"_outer")
	if err != nil {
		return err
	}

	// Step 2: depth, labels and boundaries
	p.printf("Step 2: Layering the domain...\n")
	var res *layering.Result
	if err := p.withBase(base, func() (err error) {
		res, err = p.Layering(inner, outer, "")
		return err
	}); err != nil {
		return err
	}

	// Step 3: profile sampling
	p.printf("Step 3: Sampling intensity profiles...\n")
	intensity, err := nifti.LoadVolume(in.Intensity)
	if err != nil {
		return fmt.Errorf("failed to load intensity volume: %w", err)
	}
	var profiles *models.ProfileVolume
	if err := p.withBase(base, func() (err error) {
		profiles, err = p.Sample(res.Boundaries, intensity, "")
		return err
	}); err != nil {
		return err
	}

	// Step 4: profile meshing
	p.printf("Step 4: Meshing profiles...\n")
	var baseMesh *models.Mesh
	if in.Mesh != "" {
		if baseMesh, err = vtk.Load(in.Mesh); err != nil {
			return fmt.Errorf("failed to load base mesh: %w", err)
		}
	}
	if err := p.withBase(base, func() (err error) {
		if baseMesh == nil {
			if baseMesh, err = p.BaseMesh(inner, ""); err != nil {
				return err
			}
		}
		_, err = p.Mesh(profiles, baseMesh, "")
		return err
	}); err != nil {
		return err
	}

	// Step 5: previews and report
	if p.params.Save && p.cfg.Output.SaveIntermediaryResults {
		p.printf("Step 5: Saving previews...\n")
		p.savePreviews(base, res, profiles)
	}
	p.report.Elapsed = time.Since(startTime)
	if p.params.Save {
		path := base + SuffixReport + ".json"
		p.report.addOutput(path)
		if err := p.report.Save(path); err != nil {
			return err
		}
	}

	log.Info("run.done", "elapsed", p.report.Elapsed, "outputs", len(p.report.Outputs))
	p.printf("Run completed in %.2f seconds\n", p.report.Elapsed.Seconds())
	return nil
}

// runLevelset builds a level set whose outputs are named after prefix.
func (p *Pipeline) runLevelset(prob *models.Volume, prefix string) (phi *models.Volume, err error) {
	err = p.withBase(prefix, func() error {
		phi, err = p.Levelset(prob, "")
		return err
	})
	return phi, err
}

// withBase runs fn with the output base name temporarily set to base.
func (p *Pipeline) withBase(base string, fn func() error) error {
	saved := p.params.BaseName
	p.params.BaseName = base
	defer func() { p.params.BaseName = saved }()
	return fn()
}

func (p *Pipeline) saveVolume(prefix string, v *models.Volume) error {
	path := prefix + volumeExt
	if err := nifti.SaveVolume(path, v); err != nil {
		return fmt.Errorf("failed to save volume: %w", err)
	}
	p.report.addOutput(path)
	return nil
}

func (p *Pipeline) saveVolume4D(prefix string, v *models.Volume4D) error {
	path := prefix + volumeExt
	if err := nifti.SaveVolume4D(path, v); err != nil {
		return fmt.Errorf("failed to save volume: %w", err)
	}
	p.report.addOutput(path)
	return nil
}

func (p *Pipeline) saveLabels(prefix string, l *models.LabelVolume) error {
	path := prefix + volumeExt
	if err := nifti.SaveLabels(path, l); err != nil {
		return fmt.Errorf("failed to save labels: %w", err)
	}
	p.report.addOutput(path)
	return nil
}

// savePreviews writes central slices of the depth map, the labels and the
// middle profile frame. Failures are reported but do not fail the run.
func (p *Pipeline) savePreviews(base string, res *layering.Result, profiles *models.ProfileVolume) {
	previews := map[string]*models.Volume{
		SuffixDepth:  res.Depth,
		SuffixLayers: labelsAsVolume(res.Layers),
	}
	if profiles != nil && profiles.Samples != nil {
		previews[SuffixProfiles] = profiles.Samples.Frame(profiles.Samples.Frames / 2)
	}
	for suffix, v := range previews {
		viewer := visualization.NewViewer(v)
		viewer.SetScale(p.cfg.Output.PreviewScale)
		paths, err := viewer.SavePreview(base+suffix, p.cfg.Output.PreviewFormat)
		if err != nil {
			fmt.Fprintf(p.params.Out, "Warning: Failed to save %s preview: %v\n", suffix, err)
			logger.L().Warn("preview.failed", "output", suffix, "err", err)
		}
		for _, path := range paths {
			p.report.addOutput(path)
		}
	}
}

// labelsAsVolume converts labels to floats with NaN background for display.
func labelsAsVolume(l *models.LabelVolume) *models.Volume {
	v := &models.Volume{Data: make([]float64, len(l.Data)), Dims: l.Dims, Res: l.Res, Affine: l.Affine}
	for i, x := range l.Data {
		if x == models.LabelBackground {
			v.Data[i] = math.NaN()
			continue
		}
		v.Data[i] = float64(x)
	}
	return v
}

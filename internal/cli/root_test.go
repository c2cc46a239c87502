package cli

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrilaminar/internal/models"
	"mrilaminar/pkg/config"
	"mrilaminar/pkg/nifti"
	"mrilaminar/pkg/pipeline"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeSphereProbability(t *testing.T, path string, size int, radius float64) {
	t.Helper()
	v := models.NewVolume([3]int{size, size, size}, [3]float64{1, 1, 1})
	c := float64(size-1) / 2
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				dx, dy, dz := float64(x)-c, float64(y)-c, float64(z)-c
				r := math.Sqrt(dx*dx + dy*dy + dz*dz)
				v.Set(x, y, z, 0.5-0.5*math.Tanh((r-radius)/1.5))
			}
		}
	}
	require.NoError(t, nifti.SaveVolume(path, v))
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "mrilaminar", cmd.Use)
	assert.Contains(t, cmd.Long, "equivolume")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{
		{"levelset"}, {"layering"}, {"sample"}, {"mesh"}, {"run"}, {"config", "init"}, {"config", "show"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestLayeringCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	layeringCmd, _, err := cmd.Find([]string{"layering"})
	require.NoError(t, err)

	layersFlag := layeringCmd.Flags().Lookup("layers")
	require.NotNil(t, layersFlag)
	assert.Equal(t, "n", layersFlag.Shorthand)
	assert.Equal(t, "10", layersFlag.DefValue)

	modelFlag := layeringCmd.Flags().Lookup("model")
	require.NotNil(t, modelFlag)
	assert.Equal(t, "equivolume", modelFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "mrilaminar.yaml")
	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)

	require.NoError(t, os.WriteFile(path, []byte("layering:\n  numLayers: 4\n"), 0644))
	out, err = execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "numLayers: 4")
}

func TestLevelsetCommand(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "wm_prob.nii.gz")
	writeSphereProbability(t, input, 12, 3.5)

	out, err := execute(t, "--format", "json", "levelset", input)
	require.NoError(t, err)

	var report pipeline.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Stages, 1)
	assert.Equal(t, "levelset", report.Stages[0].Stage)
	assert.Equal(t, []string{filepath.Join(dir, "wm_prob_levelset.nii.gz")}, report.Outputs)
	_, err = os.Stat(report.Outputs[0])
	assert.NoError(t, err)
}

func TestLevelsetCommandNoSave(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "wm_prob.nii")
	writeSphereProbability(t, input, 10, 3)

	out, err := execute(t, "levelset", "--no-save", input)
	require.NoError(t, err)
	assert.Contains(t, out, "levelset")
	_, err = os.Stat(filepath.Join(dir, "wm_prob_levelset.nii.gz"))
	assert.True(t, os.IsNotExist(err))
}

func TestLevelsetCommandDegenerate(t *testing.T) {
	input := filepath.Join(t.TempDir(), "flat.nii")
	v := models.NewVolume([3]int{4, 4, 4}, [3]float64{1, 1, 1})
	require.NoError(t, nifti.SaveVolume(input, v))

	_, err := execute(t, "levelset", input)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDegenerateInput)
}

func TestMeshCommandRequiresOneBaseSource(t *testing.T) {
	_, err := execute(t, "mesh", "boundaries.nii.gz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one")

	_, err = execute(t, "mesh", "boundaries.nii.gz", "--mesh", "a.vtk", "--from-levelset", "b.nii")
	require.Error(t, err)
}

func TestRunCommandRequiresInputs(t *testing.T) {
	_, err := execute(t, "run", "--inner", "a.nii")
	require.Error(t, err)
}

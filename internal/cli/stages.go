package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mrilaminar/pkg/layering"
)

// NewLevelsetCommand creates the levelset command.
func NewLevelsetCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &stageFlags{}
	cmd := &cobra.Command{
		Use:   "levelset <probability.nii[.gz]>",
		Short: "Convert a tissue probability map into a signed distance level set",
		Long: `Compute the signed distance (mm) to the 0.5 iso-surface of a tissue
probability map. Voxels of higher probability are inside and negative.

Writes <base>_levelset.nii.gz.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPipeline(rootOpts, cmd, flags)
			if _, err := p.LevelsetFile(args[0]); err != nil {
				return err
			}
			return printReport(rootOpts, cmd.OutOrStdout(), p.Report())
		},
	}
	flags.register(cmd)
	return cmd
}

// NewLayeringCommand creates the layering command.
func NewLayeringCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &stageFlags{}
	var layers int
	var model string

	cmd := &cobra.Command{
		Use:   "layering <inner-levelset> <outer-levelset>",
		Short: "Divide the domain between two level sets into layers",
		Long: `Compute the continuous depth, the discrete layer labels and the layer
boundary level sets between an inner and an outer boundary.

Writes <base>_depth.nii.gz, <base>_layers.nii.gz and <base>_boundaries.nii.gz.`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("layers") {
				rootOpts.config().Layering.NumLayers = layers
			}
			if cmd.Flags().Changed("model") {
				if _, err := layering.ParseDepthModel(model); err != nil {
					return err
				}
				rootOpts.config().Layering.Model = model
			}

			p := newPipeline(rootOpts, cmd, flags)
			if _, err := p.LayeringFile(args[0], args[1]); err != nil {
				return err
			}
			return printReport(rootOpts, cmd.OutOrStdout(), p.Report())
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVarP(&layers, "layers", "n", layering.DefaultParams().NumLayers, "number of layers")
	cmd.Flags().StringVar(&model, "model", layering.DefaultParams().Model.String(), "depth model (equivolume|equidistance)")
	return cmd
}

// NewSampleCommand creates the sample command.
func NewSampleCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &stageFlags{}
	cmd := &cobra.Command{
		Use:   "sample <boundaries> <intensity>",
		Short: "Sample intensity profiles across the layer boundaries",
		Long: `Sample an intensity volume at every layer boundary of a 4D boundary volume.
Voxels outside the laminar domain, or whose search finds no crossing, are NaN.

Writes <base>_profiles.nii.gz, named after the intensity volume.`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPipeline(rootOpts, cmd, flags)
			if _, err := p.SampleFile(args[0], args[1]); err != nil {
				return err
			}
			return printReport(rootOpts, cmd.OutOrStdout(), p.Report())
		},
	}
	flags.register(cmd)
	return cmd
}

// NewMeshCommand creates the mesh command.
func NewMeshCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &stageFlags{}
	var meshPath, levelsetPath string

	cmd := &cobra.Command{
		Use:   "mesh <boundaries>",
		Short: "Carry a surface mesh through every layer boundary",
		Long: `Move every vertex of a base mesh onto each layer boundary, innermost first.
The base mesh is read from a VTK file (--mesh) or extracted from the zero
surface of a level set (--from-levelset).

Writes <base>_<i>.vtk for every depth i, named after the boundary volume.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (meshPath == "") == (levelsetPath == "") {
				return fmt.Errorf("exactly one of --mesh and --from-levelset is required")
			}
			p := newPipeline(rootOpts, cmd, flags)
			var err error
			if meshPath != "" {
				_, err = p.MeshFile(args[0], meshPath)
			} else {
				_, err = p.MeshFromLevelsetFile(args[0], levelsetPath)
			}
			if err != nil {
				return err
			}
			return printReport(rootOpts, cmd.OutOrStdout(), p.Report())
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&meshPath, "mesh", "m", "", "base mesh (VTK polydata)")
	cmd.Flags().StringVar(&levelsetPath, "from-levelset", "", "extract the base mesh from this level set")
	return cmd
}

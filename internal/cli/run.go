package cli

import (
	"github.com/spf13/cobra"

	"mrilaminar/pkg/pipeline"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &stageFlags{}
	in := pipeline.RunInputs{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every stage from probability maps to depth meshes",
		Long: `Build level sets of the inner and outer boundary, layer the domain between
them, sample the intensity volume along the profiles and mesh every depth.

Outputs are named after the inner probability map unless --output is given;
a JSON run report is written as <base>_report.json.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPipeline(rootOpts, cmd, flags)
			if err := p.Run(in); err != nil {
				return err
			}
			return printReport(rootOpts, cmd.OutOrStdout(), p.Report())
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&in.InnerProbability, "inner", "", "probability map of the inner boundary interior")
	cmd.Flags().StringVar(&in.OuterProbability, "outer", "", "probability map of the outer boundary interior")
	cmd.Flags().StringVar(&in.Intensity, "intensity", "", "intensity volume to sample")
	cmd.Flags().StringVarP(&in.Mesh, "mesh", "m", "", "base mesh (default: extracted from the inner level set)")
	_ = cmd.MarkFlagRequired("inner")
	_ = cmd.MarkFlagRequired("outer")
	_ = cmd.MarkFlagRequired("intensity")
	return cmd
}

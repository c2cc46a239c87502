package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mrilaminar/pkg/pipeline"
)

// stageFlags are the flags shared by every stage command.
type stageFlags struct {
	output string
	noSave bool
}

func (f *stageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output base name (default: input directory and stem)")
	cmd.Flags().BoolVar(&f.noSave, "no-save", false, "run without writing outputs")
}

// newPipeline builds a pipeline from the global options. Progress goes to
// stderr so that JSON output on stdout stays parseable.
func newPipeline(opts *RootOptions, cmd *cobra.Command, f *stageFlags) *pipeline.Pipeline {
	return pipeline.New(&pipeline.Params{
		Config:   opts.config(),
		Save:     !f.noSave,
		BaseName: f.output,
		Out:      cmd.ErrOrStderr(),
	})
}

// printReport writes the run report: indented JSON, or a short summary of
// the diagnostics and outputs.
func printReport(opts *RootOptions, w io.Writer, r *pipeline.Report) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	total := r.Totals()
	fmt.Fprintf(w, "Run %s completed in %.2f seconds\n", r.RunID, total.Elapsed.Seconds())
	for _, d := range r.Stages {
		fmt.Fprintf(w, "- %s: %d nesting corrections, %d fallback voxels, %d ambiguous voxels, %d failed searches\n",
			d.Stage, d.NestingCorrections, d.FallbackVoxels, d.AmbiguousVoxels, d.FailedSearches)
	}
	if r.Depth != nil {
		fmt.Fprintf(w, "Depth: %d voxels, mean %.3f, std %.3f\n", r.Depth.Voxels, r.Depth.Mean, r.Depth.StdDev)
	}
	if len(r.LayerFractions) > 0 {
		fmt.Fprint(w, "Layer volume fractions:")
		for _, f := range r.LayerFractions {
			fmt.Fprintf(w, " %.3f", f)
		}
		fmt.Fprintln(w)
	}
	for _, s := range r.Spacing {
		fmt.Fprintf(w, "Depth %d spacing: mean %.3f mm, min %.3f mm, max %.3f mm\n", s.Depth, s.Mean, s.Min, s.Max)
	}
	if len(r.Outputs) > 0 {
		fmt.Fprintln(w, "Outputs:")
		for _, path := range r.Outputs {
			fmt.Fprintf(w, "  %s\n", path)
		}
	}
	return nil
}

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aurapacs/portal/internal/export"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export <study-uid>",
		Short: "Export a study's instance index (Parquet) or summary (YAML)",
		Example: `  aurapacs export 1.2.840.113619.2.55.3 --format parquet -o study.parquet
  aurapacs export 1.2.840.113619.2.55.3 --format yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			studyUID := args[0]
			if format != "parquet" && format != "yaml" {
				return fmt.Errorf("unsupported format %q (supported: parquet, yaml)", format)
			}
			if format == "parquet" && output == "" {
				output = studyUID + ".parquet"
			}

			resp, err := a.client().StudyData(cmd.Context(), studyUID)
			if err != nil {
				return fmt.Errorf("failed to load study %s: %w", studyUID, err)
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}

			switch format {
			case "parquet":
				rows := export.Rows(studyUID, resp.Data, a.cfg.Viewer.Scheme, a.cfg.Server.APIBase)
				if err := export.WriteParquet(w, rows); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d instances to %s\n", len(rows), output)
			case "yaml":
				if err := export.WriteYAML(w, studyUID, resp.Data); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "parquet", "Export format: parquet or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (parquet default <study-uid>.parquet, yaml default stdout)")

	return cmd
}

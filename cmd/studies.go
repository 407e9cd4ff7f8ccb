package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/aurapacs/portal/internal/catalog"
)

func newStudiesCmd(a *app) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "studies",
		Short: "List studies in the imaging store",
		Example: `  aurapacs studies --limit 20
  aurapacs studies --portal http://pacs.example.org:8888 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := a.client().Studies(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list studies: %w", err)
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "No studies found")
				return nil
			}

			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				table = append(table, []string{
					r.StudyInstanceUID,
					r.PatientName,
					r.PatientID,
					r.StudyDate,
					r.Modality,
					r.Description,
					strconv.Itoa(r.NumberOfSeries),
					strconv.Itoa(r.NumberOfInstances),
				})
			}
			renderTable(out,
				[]string{"Study UID", "Patient", "Patient ID", "Date", "Modality", "Description", "Series", "Instances"},
				table,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight})
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of studies to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print JSON instead of a table")

	return cmd
}

func newStudyCmd(a *app) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "study <study-uid>",
		Short: "Show the patient header and series of one study",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client().StudyData(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to load study %s: %w", args[0], err)
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, resp)
			}

			h := resp.Header
			fmt.Fprintf(out, "Patient:     %s (%s)\n", h.PatientName, h.PatientID)
			fmt.Fprintf(out, "Born:        %s  Sex: %s\n", h.PatientBirthDate, h.PatientSex)
			fmt.Fprintf(out, "Study:       %s  %s\n\n", h.StudyDate, h.StudyDescription)

			if resp.Data == nil || len(resp.Data.Series) == 0 {
				fmt.Fprintln(out, "No series")
				return nil
			}
			rows := make([][]string, 0, len(resp.Data.Series))
			for i, s := range resp.Data.Series {
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					s.UID(),
					s.Modality(),
					s.Description(),
					strconv.Itoa(len(s.Instances)),
				})
			}
			renderTable(out,
				[]string{"#", "Series UID", "Modality", "Description", "Instances"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight})
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the aggregated study as JSON")

	return cmd
}

func newUploadsCmd(a *app) *cobra.Command {
	var (
		local bool
		limit int
	)

	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "List studies uploaded through the portal",
		Long: `Lists the upload catalog, newest first. By default the catalog of the
running portal is queried; --local reads the configured catalog file directly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				studies []catalog.Study
				err     error
			)
			if local {
				var c *catalog.Catalog
				c, err = a.openCatalog(cmd.Context(), "")
				if err != nil {
					return err
				}
				defer c.Close()
				studies, err = c.List(cmd.Context(), limit)
			} else {
				studies, err = a.client().Uploads(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("failed to list uploads: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(studies) == 0 {
				fmt.Fprintln(out, "No uploads recorded")
				return nil
			}
			renderUploads(out, studies)
			return nil
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "Read the local catalog instead of the portal")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of studies (local only, 0 for all)")

	return cmd
}

func renderUploads(out io.Writer, studies []catalog.Study) {
	rows := make([][]string, 0, len(studies))
	for _, s := range studies {
		rows = append(rows, []string{
			s.StudyInstanceUID,
			s.PatientName,
			s.Modality,
			strconv.Itoa(s.SeriesCount),
			strconv.Itoa(s.InstanceCount),
			humanize.Bytes(uint64(s.TotalBytes)),
			humanize.Time(s.LastUploadedAt),
		})
	}
	renderTable(out,
		[]string{"Study UID", "Patient", "Modality", "Series", "Instances", "Size", "Last upload"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

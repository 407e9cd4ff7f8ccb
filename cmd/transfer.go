package cmd

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newUploadCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file-or-dir>...",
		Short: "Upload DICOM Part-10 files to the portal",
		Long: `Uploads each file to the portal's upload endpoint. Directories are
walked for *.dcm files. Failures are reported per file; the command fails
if any upload failed.`,
		Example: `  aurapacs upload scan.dcm
  aurapacs upload ./exports/ct-head`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := collectDICOMFiles(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no .dcm files found")
			}

			client := a.client()
			rows := make([][]string, 0, len(files))
			failed := 0
			for _, path := range files {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", path, err)
				}
				res, err := client.Upload(cmd.Context(), filepath.Base(path), f)
				f.Close()
				if err != nil {
					failed++
					slog.Error("Upload failed", "path", path, "err", err)
					rows = append(rows, []string{path, "", "", "failed"})
					continue
				}
				rows = append(rows, []string{path, res.StudyInstanceUID, res.SOPInstanceUID, humanize.Bytes(uint64(res.Size))})
			}

			renderTable(cmd.OutOrStdout(),
				[]string{"File", "Study UID", "SOP Instance UID", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight})

			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(files))
			}
			return nil
		},
	}

	return cmd
}

func collectDICOMFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".dcm") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", arg, err)
		}
	}
	return files, nil
}

func newDownloadCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download <study-uid>",
		Short: "Download every instance of a study as a zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			studyUID := args[0]
			if output == "" {
				output = studyUID + ".zip"
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}

			n, err := a.client().Download(cmd.Context(), studyUID, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(output)
				return fmt.Errorf("failed to download study %s: %w", studyUID, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", output, humanize.Bytes(uint64(n)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output zip path (default <study-uid>.zip)")

	return cmd
}

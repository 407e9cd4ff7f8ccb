package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aurapacs/portal/internal/models"
	"github.com/aurapacs/portal/internal/study"
	"github.com/aurapacs/portal/internal/viewer"
)

func newViewCmd(a *app) *cobra.Command {
	var (
		seriesArg string
		index     int
		scroll    int
		toolName  string
		outputDir string
		direct    bool
	)

	cmd := &cobra.Command{
		Use:   "view <study-uid>",
		Short: "Load a series into the headless stack player",
		Long: `Aggregates a study, selects one series and drives the image stack player
against a file renderer: the displayed frame is written to <out>/current.dcm
and the rest of the stack is prefetched.

By default frames come from the portal; --direct reads the imaging store.`,
		Example: `  # First series, first frame
  aurapacs view 1.2.840.113619.2.55.3

  # Third series, frame 10, zoom on the primary button
  aurapacs view 1.2.840.113619.2.55.3 --series 3 --index 9 --tool zoom --out /tmp/frame`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := a.cfg
			studyUID := args[0]

			if toolName == "" {
				toolName = cfg.Viewer.Tool
			}
			tool, err := viewer.ParseTool(toolName)
			if err != nil {
				return err
			}

			var (
				source study.Source
				frames viewer.FrameSource
			)
			if direct {
				store, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				defer closeStore(store)
				source = study.StoreSource{Store: store}
				frames = viewer.StoreFrames{Store: store}
			} else {
				client := a.client()
				source = client
				frames = client
			}

			loader := study.NewLoader(study.NewAggregator(source, cfg.Study.Concurrency))
			data, err := loader.Load(ctx, studyUID)
			if err != nil {
				return fmt.Errorf("failed to load study %s: %w", studyUID, err)
			}

			series, err := pickSeries(data, seriesArg)
			if err != nil {
				return err
			}

			renderer := viewer.NewFileRenderer(frames, outputDir)
			player := viewer.NewPlayer(renderer, viewer.Options{
				Scheme:              cfg.Viewer.Scheme,
				APIBase:             cfg.Server.APIBase,
				PrefetchConnections: cfg.Viewer.PrefetchConnections,
				Tool:                tool,
			})
			defer player.Close()

			if err := player.SelectSeries(ctx, studyUID, series); err != nil {
				return fmt.Errorf("failed to select series %s: %w", series.UID(), err)
			}
			if player.State() == viewer.StateCleared {
				fmt.Fprintf(cmd.OutOrStdout(), "Series %s has no instances\n", series.UID())
				return nil
			}
			if cmd.Flags().Changed("index") {
				if err := player.SetIndex(ctx, index); err != nil {
					return fmt.Errorf("failed to show frame %d: %w", index, err)
				}
			}
			if scroll != 0 {
				if err := player.Scroll(ctx, scroll); err != nil {
					return fmt.Errorf("failed to scroll: %w", err)
				}
			}
			player.WaitPrefetch()

			ref, _ := renderer.Displayed()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Series:   %s (%s, %s)\n", series.UID(), series.Modality(), series.Description())
			fmt.Fprintf(out, "Frame:    %d/%d (instance %d)\n", player.Index()+1, len(player.Frames()), ref.InstanceNumber)
			fmt.Fprintf(out, "Frame ID: %s\n", ref.ID)
			fmt.Fprintf(out, "Tools:    %s=%s %s=%s\n",
				viewer.BindingPrimaryButton, renderer.ToolFor(viewer.BindingPrimaryButton),
				viewer.BindingWheel, renderer.ToolFor(viewer.BindingWheel))
			fmt.Fprintf(out, "Cached:   %d frames\n", renderer.Cached())
			fmt.Fprintf(out, "Written:  %s\n", renderer.CurrentPath())
			return nil
		},
	}

	cmd.Flags().StringVarP(&seriesArg, "series", "s", "", "Series UID or 1-based position (default first series)")
	cmd.Flags().IntVarP(&index, "index", "i", 0, "0-based frame index to display")
	cmd.Flags().IntVar(&scroll, "scroll", 0, "Wheel steps to scroll after positioning")
	cmd.Flags().StringVarP(&toolName, "tool", "t", "", "Primary button tool: zoom, pan or wwwc (default from config)")
	cmd.Flags().StringVarP(&outputDir, "out", "o", ".", "Directory the displayed frame is written to")
	cmd.Flags().BoolVar(&direct, "direct", false, "Read from the imaging store instead of the portal")

	return cmd
}

func pickSeries(data *models.StudyData, arg string) (models.Series, error) {
	if len(data.Series) == 0 {
		return models.Series{}, fmt.Errorf("study has no series")
	}
	if arg == "" {
		return data.Series[0], nil
	}
	for _, s := range data.Series {
		if s.UID() == arg {
			return s, nil
		}
	}
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(data.Series) {
		return data.Series[n-1], nil
	}
	return models.Series{}, fmt.Errorf("series %q not found in study (%d series)", arg, len(data.Series))
}

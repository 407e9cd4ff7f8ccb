package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aurapacs/portal/internal/ingest"
)

func newIngestCmd(a *app) *cobra.Command {
	var (
		dir  string
		once bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Watch a directory and upload new DICOM files to the store",
		Long: `Polls a directory for new or modified *.dcm files, uploads each to the
imaging store and records it in the upload catalog. Files that fail to parse
are skipped until they change; store failures are retried on the next scan.`,
		Example: `  aurapacs ingest --dir /srv/incoming
  aurapacs ingest --dir ./scans --once`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := a.cfg
			if dir == "" {
				dir = cfg.Ingest.Dir
			}
			if dir == "" {
				return fmt.Errorf("no directory given: use --dir or ingest.dir in the config")
			}

			lock, err := ingest.Lock(dir)
			if err != nil {
				return err
			}
			defer func() {
				if err := lock.Unlock(); err != nil {
					slog.Warn("Failed to release ingest lock", "dir", dir, "err", err)
				}
			}()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore(store)
			uploads, err := a.openCatalog(ctx, "")
			if err != nil {
				return err
			}
			defer uploads.Close()

			uploader := &ingest.Uploader{Store: store, Catalog: uploads}
			watcher := ingest.NewWatcher(dir, cfg.Ingest.Interval, cfg.Ingest.Settle, cfg.Ingest.Workers, uploader)

			if !once {
				return watcher.Run(ctx)
			}

			stats, err := watcher.Scan(ctx)
			if err != nil {
				return err
			}
			slog.Info("Ingest finished", "dir", dir, "found", stats.Found, "uploaded", stats.Uploaded, "failed", stats.Failed, "pending", stats.Pending)
			if stats.Failed > 0 {
				return fmt.Errorf("%d files failed to ingest", stats.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Directory to watch (default from config)")
	cmd.Flags().BoolVar(&once, "once", false, "Scan once and exit")

	return cmd
}

package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/aurapacs/portal/internal/handlers"
	"github.com/aurapacs/portal/internal/storage"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		port      string
		staticDir string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the portal web server",
		Long: `Starts the portal API and static web interface.

Study reads, downloads and uploads are served from the configured imaging
store. Uploads are recorded in the local catalog and invalidate the cached
aggregate of their study.`,
		Example: `  # Start server on default port 8888
  aurapacs serve

  # Start server on custom port against a local Orthanc
  DICOMWEB_URL=http://localhost:8042/dicom-web aurapacs serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if port != "" {
				cfg.Server.Port = port
			}
			if staticDir != "" {
				cfg.Server.StaticDir = staticDir
			}

			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore(store)
			uploads, err := a.openCatalog(cmd.Context(), "")
			if err != nil {
				return err
			}
			defer uploads.Close()

			handler := handlers.New(handlers.Options{
				Store:          store,
				Cache:          storage.New(cfg.Cache.TTL),
				Catalog:        uploads,
				StaticDir:      cfg.Server.StaticDir,
				MaxUploadBytes: cfg.Server.MaxUploadBytes,
				Concurrency:    cfg.Study.Concurrency,
			})

			addr := ":" + cfg.Server.Port
			server := &http.Server{
				Addr:    addr,
				Handler: handler.Routes(cfg.Server.APIBase),
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Portal available",
					"addr", addr,
					"url", "http://localhost"+addr,
					"backend", cfg.Store.Backend,
					"catalog", uploads.Path())
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (default from config, 8888)")
	cmd.Flags().StringVar(&staticDir, "static", "", "Directory of static web assets")

	return cmd
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aurapacs/portal/internal/catalog"
	"github.com/aurapacs/portal/internal/config"
	"github.com/aurapacs/portal/internal/dicomstore"
	"github.com/aurapacs/portal/internal/logging"
	"github.com/aurapacs/portal/internal/portal"
)

// app carries the state shared by every subcommand once the root
// PersistentPreRunE has run.
type app struct {
	configPath string
	logLevel   string
	portalURL  string

	cfg       *config.Config
	logCloser io.Closer
}

func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "aurapacs",
		Short: "DICOM imaging portal backed by a DICOMweb store",
		Long: `aurapacs serves a web portal in front of a DICOMweb imaging store
(Google Cloud Healthcare API or any QIDO/WADO/STOW server).

It lists and aggregates studies, accepts uploads, streams study downloads
and drives a headless image stack player from the command line.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to config file (default: aurapacs.yaml if present)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	cmd.PersistentFlags().StringVar(&a.portalURL, "portal", "", "Portal URL for client commands (default from config)")

	// Add subcommands
	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newIngestCmd(a))
	cmd.AddCommand(newStudiesCmd(a))
	cmd.AddCommand(newStudyCmd(a))
	cmd.AddCommand(newUploadsCmd(a))
	cmd.AddCommand(newUploadCmd(a))
	cmd.AddCommand(newDownloadCmd(a))
	cmd.AddCommand(newViewCmd(a))
	cmd.AddCommand(newExportCmd(a))

	return cmd
}

func (a *app) init() error {
	path := a.configPath
	if path == "" {
		found, err := config.Find()
		switch {
		case err == nil:
			path = found
		case !errors.Is(err, config.ErrNoConfigFile):
			return err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	if a.portalURL != "" {
		cfg.Client.PortalURL = a.portalURL
	}

	logger, closer, err := logging.New(os.Stderr, logging.FromConfig(cfg.Logging))
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a.cfg = cfg
	a.logCloser = closer
	if path != "" {
		slog.Debug("Loaded config", "path", path)
	}
	return nil
}

func (a *app) close() {
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

func (a *app) client() *portal.Client {
	return portal.NewClient(a.cfg.Client.PortalURL)
}

// newStore opens the configured imaging store.
var newStore = dicomstore.New

func (a *app) openStore(ctx context.Context) (dicomstore.Store, error) {
	if err := a.cfg.RequireStore(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	store, err := newStore(ctx, a.cfg.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open imaging store: %w", err)
	}
	return store, nil
}

func closeStore(store dicomstore.Store) {
	if err := store.Close(); err != nil {
		slog.Warn("Failed to close imaging store", "err", err)
	}
}

func (a *app) openCatalog(ctx context.Context, path string) (*catalog.Catalog, error) {
	if path == "" {
		path = a.cfg.Catalog.Path
	}
	c, err := catalog.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload catalog: %w", err)
	}
	return c, nil
}

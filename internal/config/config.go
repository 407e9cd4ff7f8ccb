package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/aurapacs/portal/internal/dicomstore"
)

// Config is the portal's runtime configuration.
type Config struct {
	Server  Server  `yaml:"server"`
	Store   Store   `yaml:"store"`
	Catalog Catalog `yaml:"catalog"`
	Cache   Cache   `yaml:"cache"`
	Study   Study   `yaml:"study"`
	Viewer  Viewer  `yaml:"viewer"`
	Ingest  Ingest  `yaml:"ingest"`
	Client  Client  `yaml:"client"`
	Logging Logging `yaml:"logging"`
}

type Server struct {
	Port            string        `yaml:"port"`
	StaticDir       string        `yaml:"static_dir"`
	APIBase         string        `yaml:"api_base"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Store struct {
	Backend         string        `yaml:"backend"`
	DICOMwebURL     string        `yaml:"dicomweb_url"`
	ProjectID       string        `yaml:"project_id"`
	Location        string        `yaml:"location"`
	DatasetID       string        `yaml:"dataset_id"`
	DicomStoreID    string        `yaml:"dicom_store_id"`
	CredentialsFile string        `yaml:"credentials_file"`
	Endpoint        string        `yaml:"endpoint"`
	Timeout         time.Duration `yaml:"timeout"`
}

type Catalog struct {
	Path string `yaml:"path"`
}

type Cache struct {
	TTL time.Duration `yaml:"ttl"`
}

type Study struct {
	Concurrency int `yaml:"concurrency"`
}

type Viewer struct {
	Scheme              string `yaml:"scheme"`
	Tool                string `yaml:"tool"`
	PrefetchConnections int    `yaml:"prefetch_connections"`
}

type Ingest struct {
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
	Settle   time.Duration `yaml:"settle"`
	Workers  int           `yaml:"workers"`
}

type Client struct {
	PortalURL string `yaml:"portal_url"`
}

type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: Server{
			Port:            "8888",
			StaticDir:       "static",
			APIBase:         "/api",
			MaxUploadBytes:  512 << 20,
			ShutdownTimeout: 5 * time.Second,
		},
		Store: Store{
			Location: "us-central1",
			Timeout:  30 * time.Second,
		},
		Catalog: Catalog{Path: "data/uploads.db"},
		Study:   Study{Concurrency: 6},
		Viewer: Viewer{
			Scheme:              "wadouri:",
			Tool:                "Wwwc",
			PrefetchConnections: 6,
		},
		Ingest: Ingest{
			Interval: 10 * time.Second,
			Settle:   2 * time.Second,
			Workers:  4,
		},
		Client: Client{PortalURL: "http://localhost:8888"},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if data, err = tomlToYAML(data); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// tomlToYAML re-encodes a TOML document as YAML; both formats decode
// through the yaml tags.
func tomlToYAML(data []byte) ([]byte, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return yaml.Marshal(raw)
}

func (c *Config) applyEnv() error {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	setString(&c.Store.ProjectID, "GCP_PROJECT_ID")
	setString(&c.Store.Location, "GCP_LOCATION")
	setString(&c.Store.DatasetID, "GCP_DATASET_ID")
	setString(&c.Store.DicomStoreID, "GCP_DICOM_STORE_ID")
	setString(&c.Store.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	setString(&c.Store.DICOMwebURL, "DICOMWEB_URL")
	setString(&c.Store.Backend, "AURAPACS_STORE_BACKEND")
	setString(&c.Server.Port, "PORT")
	setString(&c.Catalog.Path, "AURAPACS_CATALOG_PATH")
	setString(&c.Client.PortalURL, "AURAPACS_PORTAL_URL")
	setString(&c.Logging.Level, "AURAPACS_LOG_LEVEL")
	setString(&c.Logging.File, "AURAPACS_LOG_FILE")
	setString(&c.Ingest.Dir, "AURAPACS_INGEST_DIR")

	if v, ok := os.LookupEnv("AURAPACS_CACHE_TTL"); ok && v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("AURAPACS_CACHE_TTL: %w", err)
		}
		c.Cache.TTL = ttl
	}
	if v, ok := os.LookupEnv("AURAPACS_STUDY_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AURAPACS_STUDY_CONCURRENCY: %w", err)
		}
		c.Study.Concurrency = n
	}
	return nil
}

func (c *Config) normalize() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		if c.Store.DICOMwebURL != "" {
			c.Store.Backend = dicomstore.BackendDICOMweb
		} else {
			c.Store.Backend = dicomstore.BackendHealthcare
		}
	}
	c.Store.DICOMwebURL = strings.TrimRight(c.Store.DICOMwebURL, "/")

	c.Server.APIBase = "/" + strings.Trim(c.Server.APIBase, "/")
	c.Server.Port = strings.TrimPrefix(c.Server.Port, ":")
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
}

// StoreConfig translates the store section for dicomstore.New.
func (c *Config) StoreConfig() dicomstore.Config {
	return dicomstore.Config{
		Backend:         c.Store.Backend,
		BaseURL:         c.Store.DICOMwebURL,
		ProjectID:       c.Store.ProjectID,
		Location:        c.Store.Location,
		DatasetID:       c.Store.DatasetID,
		DicomStoreID:    c.Store.DicomStoreID,
		CredentialsFile: c.Store.CredentialsFile,
		Endpoint:        c.Store.Endpoint,
		Timeout:         c.Store.Timeout,
	}
}

// ErrNoConfigFile is returned by Find when no candidate exists.
var ErrNoConfigFile = errors.New("no config file found")

// Find returns the first existing config file among the usual locations.
func Find() (string, error) {
	candidates := []string{"aurapacs.yaml", "aurapacs.yml", "aurapacs.toml"}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "aurapacs", "config.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", ErrNoConfigFile
}

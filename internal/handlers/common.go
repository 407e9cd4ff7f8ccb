package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aurapacs/portal/internal/catalog"
	"github.com/aurapacs/portal/internal/dicomstore"
	"github.com/aurapacs/portal/internal/ingest"
	"github.com/aurapacs/portal/internal/storage"
	"github.com/aurapacs/portal/internal/study"
)

// UploadCatalog is the part of the upload catalog the handlers use.
type UploadCatalog interface {
	ingest.Recorder
	List(ctx context.Context, limit int) ([]catalog.Study, error)
}

type Options struct {
	Store          dicomstore.Store
	Cache          *storage.StudyCache
	Catalog        UploadCatalog
	StaticDir      string
	MaxUploadBytes int64
	// Concurrency bounds the per-series instance fan-out of study aggregation
	// and download listing.
	Concurrency int
}

type Handler struct {
	store          dicomstore.Store
	cache          *storage.StudyCache
	catalog        UploadCatalog
	studies        study.StudyLoader
	uploader       *ingest.Uploader
	staticDir      string
	maxUploadBytes int64
	concurrency    int
}

func New(opts Options) *Handler {
	if opts.Cache == nil {
		opts.Cache = storage.New(0)
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 512 << 20
	}
	if opts.StaticDir == "" {
		opts.StaticDir = "static"
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = study.DefaultConcurrency
	}

	aggregator := study.NewAggregator(study.StoreSource{Store: opts.Store}, opts.Concurrency)
	uploader := &ingest.Uploader{Store: opts.Store, Cache: opts.Cache}
	if opts.Catalog != nil {
		uploader.Catalog = opts.Catalog
	}

	return &Handler{
		store:          opts.Store,
		cache:          opts.Cache,
		catalog:        opts.Catalog,
		studies:        study.NewCached(aggregator, opts.Cache),
		uploader:       uploader,
		staticDir:      opts.StaticDir,
		maxUploadBytes: opts.MaxUploadBytes,
		concurrency:    opts.Concurrency,
	}
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	slog.Error(message, "status", code)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		slog.Error("Unable to encode error response", "err", err)
	}
}

// writeStoreError maps imaging store failures to a response: 404 for
// missing resources, 502 for everything the store got wrong.
func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case errors.Is(err, dicomstore.ErrNotFound):
		h.writeError(w, message+": not found", http.StatusNotFound)
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		slog.Debug("Client went away", "path", r.URL.Path, "request_id", RequestID(r.Context()))
	default:
		h.writeError(w, message+": "+err.Error(), http.StatusBadGateway)
	}
}

// intParam reads a non-negative integer query parameter.
func intParam(r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

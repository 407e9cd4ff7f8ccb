package handlers

import (
	"log/slog"
	"net/http"
	"strings"
)

// Routes mounts the portal API under apiBase, plus the healthcheck and
// static files.
func (h *Handler) Routes(apiBase string) http.Handler {
	base := "/" + strings.Trim(apiBase, "/")

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+base+"/studies", h.HandleListStudies)
	mux.HandleFunc("GET "+base+"/studies/{id}", h.HandleStudySeries)
	mux.HandleFunc("GET "+base+"/studies/{id}/metadata", h.HandleStudyMetadata)
	mux.HandleFunc("GET "+base+"/studies/{id}/data", h.HandleStudyData)
	mux.HandleFunc("GET "+base+"/studies/{id}/download", h.HandleDownload)
	mux.HandleFunc("GET "+base+"/studies/{id}/series/{seriesId}/instances", h.HandleSeriesInstances)
	mux.HandleFunc("GET "+base+"/studies/{id}/series/{seriesId}/instances/{instanceId}", h.HandleInstance)
	mux.HandleFunc("POST "+base+"/upload", h.HandleUpload)
	mux.HandleFunc("GET "+base+"/uploads", h.HandleUploads)
	mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})
	mux.HandleFunc(base+"/", func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, "Not found", http.StatusNotFound)
	})
	mux.HandleFunc("/", h.HandleStatic)

	return WithRequestID(mux)
}

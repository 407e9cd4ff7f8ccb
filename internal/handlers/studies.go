package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/aurapacs/portal/internal/dicom"
	"github.com/aurapacs/portal/internal/dicomstore"
)

func (h *Handler) HandleListStudies(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r, "limit")
	if !ok {
		h.writeError(w, "Invalid limit", http.StatusBadRequest)
		return
	}
	offset, ok := intParam(r, "offset")
	if !ok {
		h.writeError(w, "Invalid offset", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	results, err := h.store.SearchStudies(r.Context(), dicomstore.Query{
		PatientName: q.Get("patient_name"),
		PatientID:   q.Get("patient_id"),
		StudyDate:   q.Get("study_date"),
		Modality:    q.Get("modality"),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		h.writeStoreError(w, r, "Failed to search studies", err)
		return
	}

	rows := make([]dicom.StudyRow, 0, len(results))
	for _, m := range results {
		row, ok := dicom.NewStudyRow(m)
		if !ok {
			slog.Warn("Skipping study without StudyInstanceUID", "request_id", RequestID(r.Context()))
			continue
		}
		rows = append(rows, row)
	}

	h.writeJSON(w, map[string]any{"data": rows})
}

func (h *Handler) HandleStudySeries(w http.ResponseWriter, r *http.Request) {
	series, err := h.store.SearchSeries(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, r, "Failed to fetch series", err)
		return
	}
	if series == nil {
		series = []dicom.TagMap{}
	}
	h.writeJSON(w, map[string]any{"series": series})
}

func (h *Handler) HandleStudyMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := h.store.StudyMetadata(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, r, "Failed to fetch metadata", err)
		return
	}
	// a nil map encodes as null
	h.writeJSON(w, map[string]any{"data": meta})
}

func (h *Handler) HandleSeriesInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := h.store.SearchInstances(r.Context(), r.PathValue("id"), r.PathValue("seriesId"))
	if err != nil {
		h.writeStoreError(w, r, "Failed to fetch instances", err)
		return
	}
	if instances == nil {
		instances = []dicom.TagMap{}
	}
	h.writeJSON(w, map[string]any{"instances": instances})
}

func (h *Handler) HandleInstance(w http.ResponseWriter, r *http.Request) {
	rc, err := h.store.RetrieveInstance(r.Context(), r.PathValue("id"), r.PathValue("seriesId"), r.PathValue("instanceId"))
	if err != nil {
		h.writeStoreError(w, r, "Failed to fetch instance", err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/dicom")
	if _, err := io.Copy(w, rc); err != nil {
		slog.Error("Failed to stream instance", "err", err, "request_id", RequestID(r.Context()))
	}
}

// HandleStudyData returns the aggregated study with its header. Results
// are cached until an upload to the study invalidates them.
func (h *Handler) HandleStudyData(w http.ResponseWriter, r *http.Request) {
	data, err := h.studies.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, r, "Failed to load study", err)
		return
	}
	h.writeJSON(w, map[string]any{
		"header": dicom.NewHeader(data.PatientInfo),
		"data":   data,
	})
}

func (h *Handler) HandleUploads(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		h.writeJSON(w, map[string]any{"data": []any{}})
		return
	}
	limit, ok := intParam(r, "limit")
	if !ok {
		h.writeError(w, "Invalid limit", http.StatusBadRequest)
		return
	}
	studies, err := h.catalog.List(r.Context(), limit)
	if err != nil {
		h.writeError(w, "Failed to list uploads: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, map[string]any{"data": studies})
}

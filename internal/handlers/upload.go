package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aurapacs/portal/internal/ingest"
)

func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+(1<<20))

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, fmt.Sprintf("File too large (max %d bytes)", h.maxUploadBytes), http.StatusRequestEntityTooLarge)
			return
		}
		h.writeError(w, "No file uploaded: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadBytes {
		h.writeError(w, fmt.Sprintf("File too large (max %d bytes)", h.maxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, "Failed to read file contents: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if len(data) == 0 {
		h.writeError(w, "Uploaded file is empty", http.StatusBadRequest)
		return
	}

	result, err := h.uploader.Upload(r.Context(), data)
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidDICOM) {
			h.writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.writeStoreError(w, r, "Failed to upload "+header.Filename, err)
		return
	}

	h.writeJSON(w, result)
}

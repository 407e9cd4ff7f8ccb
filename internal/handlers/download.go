package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/errgroup"

	"github.com/aurapacs/portal/internal/dicom"
)

type archiveEntry struct {
	seriesUID string
	sopUID    string
}

// HandleDownload streams every instance of a study as a zip archive with
// one {seriesUID}/{sopUID}.dcm entry per instance.
//
// The instance listing and the first instance are fetched before any
// header is written, so those failures get a JSON error. A store failure
// after streaming has begun aborts the connection.
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	studyUID := r.PathValue("id")

	entries, err := h.archiveEntries(ctx, studyUID)
	if err != nil {
		h.writeStoreError(w, r, "Failed to list study instances", err)
		return
	}
	if len(entries) == 0 {
		h.writeError(w, "Study has no instances", http.StatusNotFound)
		return
	}

	first, err := h.store.RetrieveInstance(ctx, studyUID, entries[0].seriesUID, entries[0].sopUID)
	if err != nil {
		h.writeStoreError(w, r, "Failed to retrieve instance "+entries[0].sopUID, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="study-%s.zip"`, studyUID))

	zw := zip.NewWriter(w)
	var written int64
	for i, e := range entries {
		rc := first
		if i > 0 {
			rc, err = h.store.RetrieveInstance(ctx, studyUID, e.seriesUID, e.sopUID)
			if err != nil {
				h.abortDownload(ctx, studyUID, e, err)
			}
		}
		n, cerr := copyEntry(zw, e, rc)
		if cerr != nil {
			h.abortDownload(ctx, studyUID, e, cerr)
		}
		written += n
	}
	if err := zw.Close(); err != nil {
		slog.Error("Failed to finish archive", "study_uid", studyUID, "err", err)
		panic(http.ErrAbortHandler)
	}

	slog.Info("Study downloaded", "study_uid", studyUID, "instances", len(entries), "size", humanize.Bytes(uint64(written)), "request_id", RequestID(ctx))
}

func (h *Handler) abortDownload(ctx context.Context, studyUID string, e archiveEntry, err error) {
	slog.Error("Aborting download", "study_uid", studyUID, "series_uid", e.seriesUID, "sop_uid", e.sopUID, "err", err, "request_id", RequestID(ctx))
	panic(http.ErrAbortHandler)
}

// archiveEntries lists every instance of a study straight from the store.
// Unlike study aggregation, any failed series listing fails the whole
// download.
func (h *Handler) archiveEntries(ctx context.Context, studyUID string) ([]archiveEntry, error) {
	series, err := h.store.SearchSeries(ctx, studyUID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch series: %w", err)
	}

	lists := make([][]archiveEntry, len(series))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for i, tags := range series {
		seriesUID, ok := tags.String(dicom.SeriesInstanceUID)
		if !ok || seriesUID == "" {
			continue
		}
		g.Go(func() error {
			instances, err := h.store.SearchInstances(gctx, studyUID, seriesUID)
			if err != nil {
				return fmt.Errorf("failed to fetch instances for series %s: %w", seriesUID, err)
			}
			dicom.SortInstances(instances)
			for _, inst := range instances {
				sop, ok := inst.String(dicom.SOPInstanceUID)
				if !ok || sop == "" {
					continue
				}
				lists[i] = append(lists[i], archiveEntry{seriesUID: seriesUID, sopUID: sop})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var entries []archiveEntry
	for _, l := range lists {
		entries = append(entries, l...)
	}
	return entries, nil
}

func copyEntry(zw *zip.Writer, e archiveEntry, rc io.ReadCloser) (int64, error) {
	defer rc.Close()

	entry, err := zw.Create(e.seriesUID + "/" + e.sopUID + ".dcm")
	if err != nil {
		return 0, err
	}
	return io.Copy(entry, rc)
}

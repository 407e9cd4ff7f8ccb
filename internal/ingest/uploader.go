package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aurapacs/portal/internal/dicom"
	"github.com/aurapacs/portal/internal/dicomstore"
	"github.com/aurapacs/portal/internal/models"
	"github.com/dustin/go-humanize"
)

// ErrInvalidDICOM is returned for payloads that are not usable Part-10 files.
var ErrInvalidDICOM = errors.New("invalid DICOM file")

// Recorder keeps track of uploaded instances.
type Recorder interface {
	Record(ctx context.Context, info *dicom.FileInfo, size int64, at time.Time) error
}

// Invalidator drops cached copies of a study.
type Invalidator interface {
	Invalidate(studyUID string)
}

// Uploader validates a Part-10 payload, stores it and updates the catalog
// and cache. Catalog and Cache are optional.
type Uploader struct {
	Store   dicomstore.Store
	Catalog Recorder
	Cache   Invalidator
	Now     func() time.Time
}

func (u *Uploader) Upload(ctx context.Context, data []byte) (*models.UploadResult, error) {
	info, err := dicom.ReadPart10(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDICOM, err)
	}

	resp, err := u.Store.StoreInstances(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to store instance: %w", err)
	}

	now := time.Now
	if u.Now != nil {
		now = u.Now
	}
	at := now().UTC()

	if u.Catalog != nil {
		if err := u.Catalog.Record(ctx, info, int64(len(data)), at); err != nil {
			slog.Error("Failed to record upload", "study_uid", info.StudyInstanceUID, "sop_uid", info.SOPInstanceUID, "err", err)
		}
	}
	if u.Cache != nil {
		u.Cache.Invalidate(info.StudyInstanceUID)
	}

	slog.Info("Instance stored",
		"study_uid", info.StudyInstanceUID,
		"series_uid", info.SeriesInstanceUID,
		"sop_uid", info.SOPInstanceUID,
		"size", humanize.Bytes(uint64(len(data))),
	)

	result := &models.UploadResult{
		StudyInstanceUID:  info.StudyInstanceUID,
		SeriesInstanceUID: info.SeriesInstanceUID,
		SOPInstanceUID:    info.SOPInstanceUID,
		Size:              int64(len(data)),
		UploadedAt:        at,
	}
	if resp != nil {
		result.Response = resp
	}
	return result, nil
}

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aurapacs/portal/internal/dicom"
)

// ErrNotFound is returned by Get for a study that was never uploaded here.
var ErrNotFound = errors.New("study not found in upload catalog")

// Study summarizes the instances of one study uploaded through the portal.
type Study struct {
	StudyInstanceUID string    `json:"study_instance_uid"`
	PatientName      string    `json:"patient_name"`
	PatientID        string    `json:"patient_id"`
	StudyDate        string    `json:"study_date"`
	StudyDescription string    `json:"study_description"`
	Modality         string    `json:"modality"`
	SeriesCount      int       `json:"series_count"`
	InstanceCount    int       `json:"instance_count"`
	TotalBytes       int64     `json:"total_bytes"`
	FirstUploadedAt  time.Time `json:"first_uploaded_at"`
	LastUploadedAt   time.Time `json:"last_uploaded_at"`
}

// Catalog is the SQLite-backed record of uploads.
type Catalog struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS studies (
    study_uid         TEXT PRIMARY KEY,
    patient_name      TEXT NOT NULL DEFAULT '',
    patient_id        TEXT NOT NULL DEFAULT '',
    study_date        TEXT NOT NULL DEFAULT '',
    study_description TEXT NOT NULL DEFAULT '',
    modality          TEXT NOT NULL DEFAULT '',
    first_uploaded_at INTEGER NOT NULL,
    last_uploaded_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS instances (
    sop_uid     TEXT PRIMARY KEY,
    study_uid   TEXT NOT NULL REFERENCES studies(study_uid) ON DELETE CASCADE,
    series_uid  TEXT NOT NULL,
    size        INTEGER NOT NULL,
    uploaded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_instances_study ON instances(study_uid);
CREATE INDEX IF NOT EXISTS idx_studies_last_upload ON studies(last_uploaded_at);
`

// Open creates or connects to the catalog database at path.
func Open(ctx context.Context, path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Catalog{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Path returns the database file location.
func (c *Catalog) Path() string {
	return c.path
}

// Record stores one uploaded instance. Uploading the same SOP instance
// again replaces its size and timestamp rather than adding a second row.
func (c *Catalog) Record(ctx context.Context, info *dicom.FileInfo, size int64, at time.Time) error {
	if info == nil {
		return errors.New("file info is nil")
	}
	ts := at.UTC().UnixNano()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO studies (
            study_uid, patient_name, patient_id, study_date, study_description, modality,
            first_uploaded_at, last_uploaded_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(study_uid) DO UPDATE SET
            patient_name = COALESCE(NULLIF(excluded.patient_name, ''), studies.patient_name),
            patient_id = COALESCE(NULLIF(excluded.patient_id, ''), studies.patient_id),
            study_date = COALESCE(NULLIF(excluded.study_date, ''), studies.study_date),
            study_description = COALESCE(NULLIF(excluded.study_description, ''), studies.study_description),
            modality = COALESCE(NULLIF(excluded.modality, ''), studies.modality),
            last_uploaded_at = MAX(studies.last_uploaded_at, excluded.last_uploaded_at)`,
		info.StudyInstanceUID,
		info.PatientName,
		info.PatientID,
		info.StudyDate,
		info.StudyDescription,
		info.Modality,
		ts,
		ts,
	)
	if err != nil {
		return fmt.Errorf("upsert study: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO instances (sop_uid, study_uid, series_uid, size, uploaded_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(sop_uid) DO UPDATE SET
            size = excluded.size,
            uploaded_at = excluded.uploaded_at`,
		info.SOPInstanceUID,
		info.StudyInstanceUID,
		info.SeriesInstanceUID,
		size,
		ts,
	)
	if err != nil {
		return fmt.Errorf("upsert instance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const studyQuery = `
SELECT s.study_uid, s.patient_name, s.patient_id, s.study_date, s.study_description, s.modality,
       COUNT(DISTINCT i.series_uid), COUNT(i.sop_uid), COALESCE(SUM(i.size), 0),
       s.first_uploaded_at, s.last_uploaded_at
FROM studies s
LEFT JOIN instances i ON i.study_uid = s.study_uid`

// List returns uploaded studies, most recently uploaded first. A limit of
// zero or less returns every study.
func (c *Catalog) List(ctx context.Context, limit int) ([]Study, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.db.QueryContext(ctx,
		studyQuery+` GROUP BY s.study_uid ORDER BY s.last_uploaded_at DESC, s.study_uid LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list studies: %w", err)
	}
	defer rows.Close()

	studies := []Study{}
	for rows.Next() {
		study, err := scanStudy(rows)
		if err != nil {
			return nil, err
		}
		studies = append(studies, *study)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate studies: %w", err)
	}
	return studies, nil
}

// Get returns one uploaded study.
func (c *Catalog) Get(ctx context.Context, studyUID string) (*Study, error) {
	row := c.db.QueryRowContext(ctx, studyQuery+` WHERE s.study_uid = ? GROUP BY s.study_uid`, studyUID)
	study, err := scanStudy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return study, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStudy(s scanner) (*Study, error) {
	var (
		study       Study
		first, last int64
	)
	err := s.Scan(
		&study.StudyInstanceUID,
		&study.PatientName,
		&study.PatientID,
		&study.StudyDate,
		&study.StudyDescription,
		&study.Modality,
		&study.SeriesCount,
		&study.InstanceCount,
		&study.TotalBytes,
		&first,
		&last,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan study: %w", err)
	}
	study.FirstUploadedAt = time.Unix(0, first).UTC()
	study.LastUploadedAt = time.Unix(0, last).UTC()
	return &study, nil
}

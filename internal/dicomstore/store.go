package dicomstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aurapacs/portal/internal/dicom"
)

const (
	BackendHealthcare = "healthcare"
	BackendDICOMweb   = "dicomweb"

	mediaDICOMJSON = "application/dicom+json"
	mediaDICOM     = "application/dicom"
)

// ErrNotFound matches a 404 from the imaging store.
var ErrNotFound = errors.New("not found in imaging store")

// Store is the read/write surface of a DICOMweb imaging store.
type Store interface {
	// SearchStudies runs a QIDO-RS study query.
	SearchStudies(ctx context.Context, q Query) ([]dicom.TagMap, error)
	// StudyMetadata returns the first metadata object of a study, or nil
	// when the store returns an empty set.
	StudyMetadata(ctx context.Context, studyUID string) (dicom.TagMap, error)
	SearchSeries(ctx context.Context, studyUID string) ([]dicom.TagMap, error)
	SearchInstances(ctx context.Context, studyUID, seriesUID string) ([]dicom.TagMap, error)
	// RetrieveInstance streams one Part-10 instance. The caller closes it.
	RetrieveInstance(ctx context.Context, studyUID, seriesUID, sopUID string) (io.ReadCloser, error)
	// StoreInstances uploads one Part-10 payload (STOW-RS).
	StoreInstances(ctx context.Context, body io.Reader) (dicom.TagMap, error)
	Close() error
}

// Config selects and configures a Store backend.
type Config struct {
	Backend string

	// dicomweb backend
	BaseURL string

	// healthcare backend
	ProjectID       string
	Location        string
	DatasetID       string
	DicomStoreID    string
	CredentialsFile string
	Endpoint        string
	// Anonymous skips Google credentials; used against emulators and tests.
	Anonymous bool

	Timeout time.Duration
}

// New returns the Store selected by cfg.Backend.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendHealthcare:
		return NewHealthcare(ctx, cfg)
	case BackendDICOMweb:
		return NewDICOMweb(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

// Query holds QIDO-RS study search parameters.
type Query struct {
	PatientName string
	PatientID   string
	StudyDate   string
	Modality    string
	Limit       int
	Offset      int
}

// studyFields are requested on study searches so list rows can be filled.
var studyFields = []string{
	dicom.StudyDescription,
	dicom.NumberOfStudyRelatedSeries,
	dicom.NumberOfStudyRelatedInstances,
	dicom.ModalitiesInStudy,
	dicom.InstitutionName,
	dicom.PatientBirthDate,
	dicom.PatientSex,
}

// Values renders q as QIDO-RS query parameters.
func (q Query) Values() url.Values {
	v := url.Values{}
	if q.PatientName != "" {
		v.Set("PatientName", q.PatientName)
		v.Set("fuzzymatching", "true")
	}
	if q.PatientID != "" {
		v.Set("PatientID", q.PatientID)
	}
	if q.StudyDate != "" {
		v.Set("StudyDate", q.StudyDate)
	}
	if q.Modality != "" {
		v.Set("ModalitiesInStudy", q.Modality)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	for _, f := range studyFields {
		v.Add("includefield", f)
	}
	return v
}

// StatusError is a non-success response from the imaging store.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: store returned status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: store returned status %d: %s", e.Op, e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// checkResponse closes resp and returns a StatusError for non-2xx codes.
func checkResponse(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Op: op, Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
}

// decodeTagMaps reads a DICOM JSON array. 204 and empty bodies are an
// empty result, not an error.
func decodeTagMaps(op string, resp *http.Response) ([]dicom.TagMap, error) {
	if err := checkResponse(op, resp); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return []dicom.TagMap{}, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", op, err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return []dicom.TagMap{}, nil
	}

	var maps []dicom.TagMap
	if err := json.Unmarshal(body, &maps); err != nil {
		return nil, fmt.Errorf("%s: failed to decode DICOM JSON: %w", op, err)
	}
	if maps == nil {
		maps = []dicom.TagMap{}
	}
	return maps, nil
}

// decodeStoreResponse reads a STOW-RS response, which is a single object.
func decodeStoreResponse(op string, resp *http.Response) (dicom.TagMap, error) {
	if err := checkResponse(op, resp); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", op, err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return dicom.TagMap{}, nil
	}
	var m dicom.TagMap
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("%s: failed to decode store response: %w", op, err)
	}
	return m, nil
}

func firstOrNil(maps []dicom.TagMap) dicom.TagMap {
	if len(maps) == 0 {
		return nil
	}
	return maps[0]
}

func studyPath(studyUID string) string {
	return "studies/" + url.PathEscape(studyUID)
}

func seriesPath(studyUID, seriesUID string) string {
	return studyPath(studyUID) + "/series/" + url.PathEscape(seriesUID)
}

func instancePath(studyUID, seriesUID, sopUID string) string {
	return seriesPath(studyUID, seriesUID) + "/instances/" + url.PathEscape(sopUID)
}

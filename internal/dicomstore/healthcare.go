package dicomstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aurapacs/portal/internal/dicom"
	"google.golang.org/api/googleapi"
	healthcare "google.golang.org/api/healthcare/v1"
	"google.golang.org/api/option"
)

// Healthcare is a Store backed by a Google Cloud Healthcare API DICOM store.
type Healthcare struct {
	svc    *healthcare.Service
	parent string
}

// NewHealthcare returns a Healthcare store. Without a credentials file the
// client falls back to application default credentials.
func NewHealthcare(ctx context.Context, cfg Config) (*Healthcare, error) {
	if cfg.ProjectID == "" || cfg.Location == "" || cfg.DatasetID == "" || cfg.DicomStoreID == "" {
		return nil, fmt.Errorf("healthcare store requires project, location, dataset and dicom store IDs")
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	switch {
	case cfg.Anonymous:
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: timeout}))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	svc, err := healthcare.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create healthcare client: %w", err)
	}

	return &Healthcare{
		svc:    svc,
		parent: fmt.Sprintf("projects/%s/locations/%s/datasets/%s/dicomStores/%s", cfg.ProjectID, cfg.Location, cfg.DatasetID, cfg.DicomStoreID),
	}, nil
}

// Parent returns the DICOM store resource name.
func (h *Healthcare) Parent() string {
	return h.parent
}

func (h *Healthcare) stores() *healthcare.ProjectsLocationsDatasetsDicomStoresService {
	return h.svc.Projects.Locations.Datasets.DicomStores
}

func (h *Healthcare) SearchStudies(ctx context.Context, q Query) ([]dicom.TagMap, error) {
	call := h.stores().SearchForStudies(h.parent, "studies")
	call.Header().Set("Accept", mediaDICOMJSON)

	var params []googleapi.CallOption
	for key, values := range q.Values() {
		params = append(params, googleapi.QueryParameter(key, values...))
	}
	resp, err := call.Context(ctx).Do(params...)
	if err != nil {
		return nil, callError("search studies", err)
	}
	return decodeTagMaps("search studies", resp)
}

func (h *Healthcare) StudyMetadata(ctx context.Context, studyUID string) (dicom.TagMap, error) {
	call := h.stores().Studies.RetrieveMetadata(h.parent, studyPath(studyUID)+"/metadata")
	call.Header().Set("Accept", mediaDICOMJSON)

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, callError("study metadata", err)
	}
	maps, err := decodeTagMaps("study metadata", resp)
	if err != nil {
		return nil, err
	}
	return firstOrNil(maps), nil
}

func (h *Healthcare) SearchSeries(ctx context.Context, studyUID string) ([]dicom.TagMap, error) {
	call := h.stores().Studies.SearchForSeries(h.parent, studyPath(studyUID)+"/series")
	call.Header().Set("Accept", mediaDICOMJSON)

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, callError("search series", err)
	}
	return decodeTagMaps("search series", resp)
}

func (h *Healthcare) SearchInstances(ctx context.Context, studyUID, seriesUID string) ([]dicom.TagMap, error) {
	call := h.stores().Studies.Series.SearchForInstances(h.parent, seriesPath(studyUID, seriesUID)+"/instances")
	call.Header().Set("Accept", mediaDICOMJSON)

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, callError("search instances", err)
	}
	return decodeTagMaps("search instances", resp)
}

func (h *Healthcare) RetrieveInstance(ctx context.Context, studyUID, seriesUID, sopUID string) (io.ReadCloser, error) {
	call := h.stores().Studies.Series.Instances.RetrieveInstance(h.parent, instancePath(studyUID, seriesUID, sopUID))
	call.Header().Set("Accept", mediaDICOM+"; transfer-syntax=*")

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, callError("retrieve instance", err)
	}
	if err := checkResponse("retrieve instance", resp); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (h *Healthcare) StoreInstances(ctx context.Context, body io.Reader) (dicom.TagMap, error) {
	call := h.stores().StoreInstances(h.parent, "studies", body)
	call.Header().Set("Content-Type", mediaDICOM)
	call.Header().Set("Accept", mediaDICOMJSON)

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, callError("store instances", err)
	}
	return decodeStoreResponse("store instances", resp)
}

// callError maps googleapi errors onto StatusError so 404s match ErrNotFound.
func callError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &StatusError{Op: op, Code: gerr.Code, Body: gerr.Message}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (h *Healthcare) Close() error {
	return nil
}

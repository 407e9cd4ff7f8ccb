package dicomstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/aurapacs/portal/internal/dicom"
)

// DICOMweb talks QIDO-RS/WADO-RS/STOW-RS to a generic server such as
// Orthanc or dcm4chee.
type DICOMweb struct {
	BaseURL    string
	httpClient *http.Client
}

// NewDICOMweb creates a new DICOMweb client
func NewDICOMweb(cfg Config) *DICOMweb {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DICOMweb{
		BaseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *DICOMweb) get(ctx context.Context, path, query, accept string) (*http.Response, error) {
	target := c.BaseURL + "/" + path
	if query != "" {
		target += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	return c.httpClient.Do(req)
}

func (c *DICOMweb) searchTagMaps(ctx context.Context, op, path, query string) ([]dicom.TagMap, error) {
	resp, err := c.get(ctx, path, query, mediaDICOMJSON)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return decodeTagMaps(op, resp)
}

// SearchStudies runs a QIDO-RS study query
func (c *DICOMweb) SearchStudies(ctx context.Context, q Query) ([]dicom.TagMap, error) {
	return c.searchTagMaps(ctx, "search studies", "studies", q.Values().Encode())
}

// StudyMetadata fetches WADO-RS study metadata
func (c *DICOMweb) StudyMetadata(ctx context.Context, studyUID string) (dicom.TagMap, error) {
	maps, err := c.searchTagMaps(ctx, "study metadata", studyPath(studyUID)+"/metadata", "")
	if err != nil {
		return nil, err
	}
	return firstOrNil(maps), nil
}

// SearchSeries lists the series of a study
func (c *DICOMweb) SearchSeries(ctx context.Context, studyUID string) ([]dicom.TagMap, error) {
	return c.searchTagMaps(ctx, "search series", studyPath(studyUID)+"/series", "")
}

// SearchInstances lists the instances of a series
func (c *DICOMweb) SearchInstances(ctx context.Context, studyUID, seriesUID string) ([]dicom.TagMap, error) {
	return c.searchTagMaps(ctx, "search instances", seriesPath(studyUID, seriesUID)+"/instances", "")
}

// RetrieveInstance streams one instance as application/dicom
func (c *DICOMweb) RetrieveInstance(ctx context.Context, studyUID, seriesUID, sopUID string) (io.ReadCloser, error) {
	resp, err := c.get(ctx, instancePath(studyUID, seriesUID, sopUID), "", mediaDICOM+"; transfer-syntax=*")
	if err != nil {
		return nil, fmt.Errorf("retrieve instance: %w", err)
	}
	if err := checkResponse("retrieve instance", resp); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// StoreInstances uploads one Part-10 payload as a single-part
// multipart/related STOW-RS request
func (c *DICOMweb) StoreInstances(ctx context.Context, body io.Reader) (dicom.TagMap, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {mediaDICOM}})
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart body: %w", err)
	}
	if _, err := io.Copy(part, body); err != nil {
		return nil, fmt.Errorf("failed to write multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/studies", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", fmt.Sprintf(`multipart/related; type="%s"; boundary=%s`, mediaDICOM, mw.Boundary()))
	req.Header.Set("Accept", mediaDICOMJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("store instances: %w", err)
	}
	return decodeStoreResponse("store instances", resp)
}

func (c *DICOMweb) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

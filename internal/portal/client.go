package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/aurapacs/portal/internal/catalog"
	"github.com/aurapacs/portal/internal/dicom"
	"github.com/aurapacs/portal/internal/models"
)

// DefaultAPIBase is where the portal mounts its API.
const DefaultAPIBase = "/api"

// Error is a failed call to the portal API. StatusCode is zero when the
// request never produced a response.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound reports whether the portal answered 404.
func (e *Error) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Client talks to a running portal over its JSON API.
type Client struct {
	// BaseURL includes the API base, e.g. http://localhost:8888/api.
	BaseURL string
	// HTTPClient serves the JSON and frame calls and carries a timeout.
	HTTPClient *http.Client
	// TransferClient serves uploads and downloads. It has no overall
	// timeout; the caller's context bounds the transfer.
	TransferClient *http.Client
}

// NewClient creates a portal client. The API base is appended when baseURL
// has no path.
func NewClient(baseURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if u, err := url.Parse(baseURL); err == nil && (u.Path == "" || u.Path == "/") {
		baseURL += DefaultAPIBase
	}
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		TransferClient: &http.Client{},
	}
}

// StudyDataResponse is the body of GET /studies/{id}/data.
type StudyDataResponse struct {
	Header dicom.Header      `json:"header"`
	Data   *models.StudyData `json:"data"`
}

func (c *Client) Metadata(ctx context.Context, studyUID string) (dicom.TagMap, error) {
	var body struct {
		Data dicom.TagMap `json:"data"`
	}
	if err := c.getJSON(ctx, "fetch metadata", "/studies/"+url.PathEscape(studyUID)+"/metadata", &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

func (c *Client) Series(ctx context.Context, studyUID string) ([]dicom.TagMap, error) {
	var body struct {
		Series []dicom.TagMap `json:"series"`
	}
	if err := c.getJSON(ctx, "fetch series", "/studies/"+url.PathEscape(studyUID), &body); err != nil {
		return nil, err
	}
	if body.Series == nil {
		return []dicom.TagMap{}, nil
	}
	return body.Series, nil
}

func (c *Client) Instances(ctx context.Context, studyUID, seriesUID string) ([]dicom.TagMap, error) {
	var body struct {
		Instances []dicom.TagMap `json:"instances"`
	}
	if err := c.getJSON(ctx, "fetch instances", seriesPath(studyUID, seriesUID)+"/instances", &body); err != nil {
		return nil, err
	}
	if body.Instances == nil {
		return []dicom.TagMap{}, nil
	}
	return body.Instances, nil
}

// Frame downloads one instance as a Part-10 payload.
func (c *Client) Frame(ctx context.Context, studyUID, seriesUID, sopUID string) ([]byte, error) {
	path := seriesPath(studyUID, seriesUID) + "/instances/" + url.PathEscape(sopUID)
	resp, err := c.do(ctx, "fetch frame", http.MethodGet, path, "application/dicom", nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: "fetch frame", Message: "failed to read frame data", Err: err}
	}
	return data, nil
}

// Studies lists studies from the store behind the portal.
func (c *Client) Studies(ctx context.Context, limit int) ([]dicom.StudyRow, error) {
	path := "/studies"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var body struct {
		Data []dicom.StudyRow `json:"data"`
	}
	if err := c.getJSON(ctx, "list studies", path, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// StudyData fetches the aggregated study the portal assembled server side.
func (c *Client) StudyData(ctx context.Context, studyUID string) (*StudyDataResponse, error) {
	var body StudyDataResponse
	if err := c.getJSON(ctx, "fetch study data", "/studies/"+url.PathEscape(studyUID)+"/data", &body); err != nil {
		return nil, err
	}
	return &body, nil
}

// Uploads lists the portal's upload catalog.
func (c *Client) Uploads(ctx context.Context) ([]catalog.Study, error) {
	var body struct {
		Data []catalog.Study `json:"data"`
	}
	if err := c.getJSON(ctx, "list uploads", "/uploads", &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// Upload sends one Part-10 file to the portal.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (*models.UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, &Error{Op: "upload", Message: "failed to create form file", Err: err}
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, &Error{Op: "upload", Message: "failed to read file", Err: err}
	}
	if err := mw.Close(); err != nil {
		return nil, &Error{Op: "upload", Message: "failed to finish form", Err: err}
	}

	resp, err := c.doWith(ctx, c.transferClient(), "upload", http.MethodPost, "/upload", "application/json", &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result models.UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &Error{Op: "upload", StatusCode: resp.StatusCode, Message: "failed to decode response", Err: err}
	}
	return &result, nil
}

// Download streams the zip archive of a study into w and returns the
// number of bytes written.
func (c *Client) Download(ctx context.Context, studyUID string, w io.Writer) (int64, error) {
	resp, err := c.doWith(ctx, c.transferClient(), "download", http.MethodGet, "/studies/"+url.PathEscape(studyUID)+"/download", "application/zip", nil, "")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	dst := &recordingWriter{w: w}
	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		if dst.err != nil {
			return n, &Error{Op: "download", Message: "failed to write archive", Err: err}
		}
		return n, &Error{Op: "download", Message: "failed to read archive", Err: err}
	}
	return n, nil
}

// recordingWriter remembers the first write error so a failed copy can be
// attributed to the writer or the response body.
type recordingWriter struct {
	w   io.Writer
	err error
}

func (r *recordingWriter) Write(p []byte) (int, error) {
	n, err := r.w.Write(p)
	if err != nil && r.err == nil {
		r.err = err
	}
	return n, err
}

func (c *Client) transferClient() *http.Client {
	if c.TransferClient != nil {
		return c.TransferClient
	}
	return http.DefaultClient
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	resp, err := c.do(ctx, op, http.MethodGet, path, "application/json", nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: "failed to decode response", Err: err}
	}
	return nil
}

// do issues the request and turns non-2xx answers into *Error. The caller
// closes the body of a successful response.
func (c *Client) do(ctx context.Context, op, method, path, accept string, body io.Reader, contentType string) (*http.Response, error) {
	return c.doWith(ctx, c.HTTPClient, op, method, path, accept, body, contentType)
}

func (c *Client) doWith(ctx context.Context, client *http.Client, op, method, path, accept string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, &Error{Op: op, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Accept", accept)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Message: err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, &Error{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(resp)}
	}
	return resp, nil
}

// errorMessage extracts {error: msg} from a failed response, falling back
// to the raw body.
func errorMessage(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	if msg := strings.TrimSpace(string(data)); msg != "" {
		return msg
	}
	return http.StatusText(resp.StatusCode)
}

func seriesPath(studyUID, seriesUID string) string {
	return "/studies/" + url.PathEscape(studyUID) + "/series/" + url.PathEscape(seriesUID)
}

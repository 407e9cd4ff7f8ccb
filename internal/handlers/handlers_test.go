package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aurapacs/portal/internal/catalog"
	"github.com/aurapacs/portal/internal/dicom"
	"github.com/aurapacs/portal/internal/dicom/dicomtest"
	"github.com/aurapacs/portal/internal/dicomstore/storetest"
	"github.com/aurapacs/portal/internal/storage"
)

type memoryCatalog struct {
	mu      sync.Mutex
	studies map[string]*catalog.Study
}

func (m *memoryCatalog) Record(ctx context.Context, info *dicom.FileInfo, size int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.studies == nil {
		m.studies = map[string]*catalog.Study{}
	}
	s, ok := m.studies[info.StudyInstanceUID]
	if !ok {
		s = &catalog.Study{StudyInstanceUID: info.StudyInstanceUID, FirstUploadedAt: at}
		m.studies[info.StudyInstanceUID] = s
	}
	s.InstanceCount++
	s.TotalBytes += size
	s.LastUploadedAt = at
	return nil
}

func (m *memoryCatalog) List(ctx context.Context, limit int) ([]catalog.Study, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []catalog.Study{}
	for _, s := range m.studies {
		out = append(out, *s)
	}
	return out, nil
}

type fixture struct {
	store   *storetest.Memory
	cache   *storage.StudyCache
	catalog *memoryCatalog
	server  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storetest.NewMemory()
	store.AddInstance("1.2.3", "1.2.3.1", "1.2.3.1.3", "3", []byte("three"))
	store.AddInstance("1.2.3", "1.2.3.1", "1.2.3.1.1", "1", []byte("one"))
	store.AddInstance("1.2.3", "1.2.3.1", "1.2.3.1.2", "2", []byte("two"))
	store.AddInstance("1.2.3", "1.2.3.2", "1.2.3.2.1", "1", []byte("other"))

	f := &fixture{
		store:   store,
		cache:   storage.New(0),
		catalog: &memoryCatalog{},
	}
	h := New(Options{
		Store:     store,
		Cache:     f.cache,
		Catalog:   f.catalog,
		StaticDir: t.TempDir(),
	})
	f.server = httptest.NewServer(h.Routes("/api"))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestListStudies(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/api/studies?limit=10")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var body struct {
		Data []dicom.StudyRow `json:"data"`
	}
	decode(t, resp, &body)
	if len(body.Data) != 1 {
		t.Fatalf("Expected 1 study, got %d", len(body.Data))
	}
	if body.Data[0].StudyInstanceUID != "1.2.3" {
		t.Errorf("Expected study 1.2.3, got %s", body.Data[0].StudyInstanceUID)
	}
	if body.Data[0].PatientName != dicom.UnknownPatient {
		t.Errorf("Expected placeholder patient name, got %s", body.Data[0].PatientName)
	}
	if queries := f.store.Queries(); len(queries) != 1 || queries[0].Limit != 10 {
		t.Errorf("Expected limit 10 passed to store, got %+v", queries)
	}
}

func TestListStudiesBadLimit(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/api/studies?limit=many")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["error"] == "" {
		t.Error("Expected error message in body")
	}
}

func TestStudySeries(t *testing.T) {
	f := newFixture(t)

	var body struct {
		Series []dicom.TagMap `json:"series"`
	}
	decode(t, f.get(t, "/api/studies/1.2.3"), &body)
	if len(body.Series) != 2 {
		t.Errorf("Expected 2 series, got %d", len(body.Series))
	}

	raw, _ := io.ReadAll(f.get(t, "/api/studies/9.9.9").Body)
	if !bytes.Contains(raw, []byte(`"series":[]`)) {
		t.Errorf("Expected empty series list, got %s", raw)
	}
}

func TestStudyMetadata(t *testing.T) {
	f := newFixture(t)

	var body struct {
		Data dicom.TagMap `json:"data"`
	}
	decode(t, f.get(t, "/api/studies/1.2.3/metadata"), &body)
	if uid, _ := body.Data.String(dicom.StudyInstanceUID); uid != "1.2.3" {
		t.Errorf("Expected study UID 1.2.3, got %q", uid)
	}

	raw, _ := io.ReadAll(f.get(t, "/api/studies/9.9.9/metadata").Body)
	if string(bytes.TrimSpace(raw)) != `{"data":null}` {
		t.Errorf("Expected null data, got %s", raw)
	}
}

func TestSeriesInstances(t *testing.T) {
	f := newFixture(t)

	var body struct {
		Instances []dicom.TagMap `json:"instances"`
	}
	decode(t, f.get(t, "/api/studies/1.2.3/series/1.2.3.1/instances"), &body)
	if len(body.Instances) != 3 {
		t.Errorf("Expected 3 instances, got %d", len(body.Instances))
	}
}

func TestInstance(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/api/studies/1.2.3/series/1.2.3.1/instances/1.2.3.1.2")
	if ct := resp.Header.Get("Content-Type"); ct != "application/dicom" {
		t.Errorf("Expected application/dicom, got %s", ct)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "two" {
		t.Errorf("Expected payload two, got %q", data)
	}

	resp = f.get(t, "/api/studies/1.2.3/series/1.2.3.1/instances/missing")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
}

func TestStoreFailureIsBadGateway(t *testing.T) {
	f := newFixture(t)
	f.store.Fail("SearchSeries", errors.New("connection reset"))

	resp := f.get(t, "/api/studies/1.2.3")
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", resp.StatusCode)
	}
}

func TestStudyData(t *testing.T) {
	f := newFixture(t)
	f.store.FailSeries("1.2.3.2", errors.New("timeout"))

	var body struct {
		Header dicom.Header `json:"header"`
		Data   struct {
			Series []struct {
				Instances []dicom.TagMap `json:"instances"`
			} `json:"series"`
		} `json:"data"`
	}
	decode(t, f.get(t, "/api/studies/1.2.3/data"), &body)

	if len(body.Data.Series) != 2 {
		t.Fatalf("Expected 2 series, got %d", len(body.Data.Series))
	}
	var numbers []int
	for _, inst := range body.Data.Series[0].Instances {
		numbers = append(numbers, dicom.InstanceNumber(inst))
	}
	if len(numbers) != 3 || numbers[0] != 1 || numbers[1] != 2 || numbers[2] != 3 {
		t.Errorf("Expected sorted instances [1 2 3], got %v", numbers)
	}
	if len(body.Data.Series[1].Instances) != 0 {
		t.Errorf("Expected failing series to be empty, got %d instances", len(body.Data.Series[1].Instances))
	}
	if body.Header.PatientName != dicom.UnknownPatient {
		t.Errorf("Expected placeholder header, got %+v", body.Header)
	}
	if f.cache.Len() != 0 {
		t.Errorf("Expected partially loaded study not to be cached, got %d entries", f.cache.Len())
	}
}

func TestStudyDataRetriesFailedSeries(t *testing.T) {
	f := newFixture(t)
	f.store.FailSeries("1.2.3.2", errors.New("timeout"))

	var body struct {
		Data struct {
			Series []struct {
				Instances []dicom.TagMap `json:"instances"`
			} `json:"series"`
			FailedSeries []string `json:"failedSeries"`
		} `json:"data"`
	}
	decode(t, f.get(t, "/api/studies/1.2.3/data"), &body)
	if len(body.Data.FailedSeries) != 1 || body.Data.FailedSeries[0] != "1.2.3.2" {
		t.Errorf("Expected failed series [1.2.3.2], got %v", body.Data.FailedSeries)
	}

	f.store.FailSeries("1.2.3.2", nil)
	body.Data.FailedSeries = nil
	decode(t, f.get(t, "/api/studies/1.2.3/data"), &body)

	if len(body.Data.Series) != 2 {
		t.Fatalf("Expected 2 series, got %d", len(body.Data.Series))
	}
	if len(body.Data.Series[1].Instances) != 1 {
		t.Errorf("Expected recovered series to have 1 instance, got %d", len(body.Data.Series[1].Instances))
	}
	if len(body.Data.FailedSeries) != 0 {
		t.Errorf("Expected no failed series, got %v", body.Data.FailedSeries)
	}
	if f.cache.Len() != 1 {
		t.Errorf("Expected complete study to be cached, got %d entries", f.cache.Len())
	}
}

func TestStudyDataMetadataFailure(t *testing.T) {
	f := newFixture(t)
	f.store.Fail("StudyMetadata", errors.New("boom"))

	resp := f.get(t, "/api/studies/1.2.3/data")
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", resp.StatusCode)
	}
}

func TestDownload(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/api/studies/1.2.3/download")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read archive: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("Invalid zip: %v", err)
	}

	var names []string
	for _, file := range zr.File {
		names = append(names, file.Name)
	}
	sort.Strings(names)
	expected := []string{
		"1.2.3.1/1.2.3.1.1.dcm",
		"1.2.3.1/1.2.3.1.2.dcm",
		"1.2.3.1/1.2.3.1.3.dcm",
		"1.2.3.2/1.2.3.2.1.dcm",
	}
	if len(names) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, names)
	}
	for i := range expected {
		if names[i] != expected[i] {
			t.Errorf("Expected entry %s, got %s", expected[i], names[i])
		}
	}
}

func TestDownloadFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(store *storetest.Memory)
		status int
	}{
		{
			name:   "series listing fails",
			setup:  func(store *storetest.Memory) { store.Fail("SearchSeries", errors.New("connection reset")) },
			status: http.StatusBadGateway,
		},
		{
			name:   "one series listing fails",
			setup:  func(store *storetest.Memory) { store.FailSeries("1.2.3.2", errors.New("timeout")) },
			status: http.StatusBadGateway,
		},
		{
			name:   "first instance fails",
			setup:  func(store *storetest.Memory) { store.Fail("RetrieveInstance", errors.New("connection reset")) },
			status: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f.store)

			resp := f.get(t, "/api/studies/1.2.3/download")
			if resp.StatusCode != tt.status {
				t.Fatalf("Expected status %d, got %d", tt.status, resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Expected JSON error, got content type %q", ct)
			}
			var body map[string]string
			decode(t, resp, &body)
			if body["error"] == "" {
				t.Error("Expected error message in body")
			}
		})
	}
}

func TestDownloadAbortsMidStream(t *testing.T) {
	f := newFixture(t)
	f.store.FailInstance("1.2.3.2.1", errors.New("connection reset"))

	resp, err := http.Get(f.server.URL + "/api/studies/1.2.3/download")
	if err != nil {
		return
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	if _, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw))); err == nil {
		t.Error("Expected a truncated archive when an instance fails mid-stream")
	}
}

func TestDownloadEmptyStudy(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/api/studies/9.9.9/download")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
}

func upload(t *testing.T, f *fixture, name string, data []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()

	resp, err := http.Post(f.server.URL+"/api/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestUploadInvalidatesStudy(t *testing.T) {
	f := newFixture(t)

	// warm the cache
	f.get(t, "/api/studies/1.2.3/data")
	if f.cache.Len() != 1 {
		t.Fatalf("Expected cached study, got %d", f.cache.Len())
	}

	data := dicomtest.Part10(t, dicomtest.Instance{
		StudyInstanceUID:  "1.2.3",
		SeriesInstanceUID: "1.2.3.1",
		SOPInstanceUID:    "1.2.3.1.4",
		Modality:          "CT",
	})
	resp := upload(t, f, "new.dcm", data)
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, raw)
	}

	var result struct {
		SOPInstanceUID string `json:"sop_instance_uid"`
	}
	decode(t, resp, &result)
	if result.SOPInstanceUID != "1.2.3.1.4" {
		t.Errorf("Expected SOP 1.2.3.1.4, got %s", result.SOPInstanceUID)
	}
	if f.cache.Len() != 0 {
		t.Errorf("Expected cache invalidated, got %d entries", f.cache.Len())
	}

	var uploads struct {
		Data []catalog.Study `json:"data"`
	}
	decode(t, f.get(t, "/api/uploads"), &uploads)
	if len(uploads.Data) != 1 || uploads.Data[0].InstanceCount != 1 {
		t.Errorf("Expected one catalogued upload, got %+v", uploads.Data)
	}
}

func TestUploadRejectsNonDICOM(t *testing.T) {
	f := newFixture(t)

	resp := upload(t, f, "notes.txt", []byte("hello"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
	if f.store.Stored() != 4 {
		t.Errorf("Expected store untouched, got %d files", f.store.Stored())
	}
}

func TestUploadMissingFile(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.server.URL+"/api/upload", "text/plain", bytes.NewReader([]byte("x")))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestRequestID(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/healthcheck")
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("Expected generated request ID")
	}

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/healthcheck", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("Expected request ID to be echoed, got %q", got)
	}
}

func TestUnknownAPIRoute(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/api/nothing")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON error, got %s", ct)
	}
}

func TestStatic(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>portal</h1>"), 0644); err != nil {
		t.Fatal(err)
	}
	h := New(Options{Store: storetest.NewMemory(), StaticDir: dir})

	rec := httptest.NewRecorder()
	h.Routes("/api").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "<h1>portal</h1>" {
		t.Errorf("Unexpected body %q", rec.Body.String())
	}
}

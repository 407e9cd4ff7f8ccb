package dicomstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aurapacs/portal/internal/dicom"
)

func newTestDICOMweb(t *testing.T, handler http.HandlerFunc) *DICOMweb {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewDICOMweb(Config{Backend: BackendDICOMweb, BaseURL: srv.URL + "/"})
}

func TestDICOMwebSearchSeries(t *testing.T) {
	client := newTestDICOMweb(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/studies/1.2.3/series" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Accept"); got != "application/dicom+json" {
			t.Errorf("Expected dicom+json accept header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/dicom+json")
		_, _ = io.WriteString(w, `[{"0020000E": {"vr": "UI", "Value": ["1.2.3.1"]}}]`)
	})

	series, err := client.SearchSeries(context.Background(), "1.2.3")
	if err != nil {
		t.Fatalf("SearchSeries: %v", err)
	}
	if len(series) != 1 {
		t.Fatalf("Expected 1 series, got %d", len(series))
	}
	if uid, _ := series[0].String(dicom.SeriesInstanceUID); uid != "1.2.3.1" {
		t.Errorf("Expected series UID 1.2.3.1, got %s", uid)
	}
}

func TestDICOMwebEmptyResults(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "no content", status: http.StatusNoContent},
		{name: "empty body", status: http.StatusOK},
		{name: "empty array", status: http.StatusOK, body: "[]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestDICOMweb(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			series, err := client.SearchSeries(context.Background(), "1.2.3")
			if err != nil {
				t.Fatalf("Expected empty result, got error %v", err)
			}
			if series == nil || len(series) != 0 {
				t.Errorf("Expected empty non-nil slice, got %#v", series)
			}

			meta, err := client.StudyMetadata(context.Background(), "1.2.3")
			if err != nil {
				t.Fatalf("StudyMetadata: %v", err)
			}
			if meta != nil {
				t.Errorf("Expected nil metadata, got %v", meta)
			}
		})
	}
}

func TestDICOMwebStatusErrors(t *testing.T) {
	client := newTestDICOMweb(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/instances") {
			http.Error(w, "missing series", http.StatusNotFound)
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.SearchInstances(context.Background(), "1.2.3", "9")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	_, err = client.SearchSeries(context.Background(), "1.2.3")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", statusErr.Code)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("500 must not match ErrNotFound")
	}
}

func TestDICOMwebRetrieveInstance(t *testing.T) {
	client := newTestDICOMweb(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/studies/1/series/2/instances/3" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/dicom")
		_, _ = io.WriteString(w, "DICM-bytes")
	})

	rc, err := client.RetrieveInstance(context.Background(), "1", "2", "3")
	if err != nil {
		t.Fatalf("RetrieveInstance: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "DICM-bytes" {
		t.Errorf("Expected payload, got %q", data)
	}
}

func TestDICOMwebStoreInstances(t *testing.T) {
	client := newTestDICOMweb(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/studies" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/related") {
			t.Errorf("Expected multipart/related, got %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "payload") {
			t.Errorf("Expected payload in body, got %q", body)
		}
		_, _ = io.WriteString(w, `{"00081190": {"vr": "UR", "Value": ["http://store/studies/1"]}}`)
	})

	resp, err := client.StoreInstances(context.Background(), strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("StoreInstances: %v", err)
	}
	if _, ok := resp["00081190"]; !ok {
		t.Errorf("Expected retrieve URL in response, got %v", resp)
	}
}

func TestQueryValues(t *testing.T) {
	v := Query{PatientName: "Doe*", Limit: 25, Offset: 50}.Values()
	if v.Get("PatientName") != "Doe*" || v.Get("fuzzymatching") != "true" {
		t.Errorf("unexpected patient filter: %v", v)
	}
	if v.Get("limit") != "25" || v.Get("offset") != "50" {
		t.Errorf("unexpected paging: %v", v)
	}
	if len(v["includefield"]) == 0 {
		t.Error("Expected includefield parameters")
	}
}

func TestNewUnsupportedBackend(t *testing.T) {
	if _, err := New(context.Background(), Config{Backend: "s3"}); err == nil {
		t.Error("Expected error for unsupported backend")
	}
}

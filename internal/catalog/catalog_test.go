package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aurapacs/portal/internal/dicom"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Failed to open catalog: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func fileInfo(study, series, sop string) *dicom.FileInfo {
	return &dicom.FileInfo{
		StudyInstanceUID:  study,
		SeriesInstanceUID: series,
		SOPInstanceUID:    sop,
		PatientName:       "Doe^Jane",
		PatientID:         "P-" + study,
		Modality:          "CT",
	}
}

func TestRecordAggregatesInstances(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	records := []struct {
		info *dicom.FileInfo
		size int64
	}{
		{fileInfo("1.2.3", "1.2.3.1", "1.2.3.1.1"), 100},
		{fileInfo("1.2.3", "1.2.3.1", "1.2.3.1.2"), 200},
		{fileInfo("1.2.3", "1.2.3.2", "1.2.3.2.1"), 300},
		// re-upload of an existing instance
		{fileInfo("1.2.3", "1.2.3.1", "1.2.3.1.1"), 150},
	}
	for i, r := range records {
		if err := c.Record(ctx, r.info, r.size, at.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Record %d failed: %v", i, err)
		}
	}

	study, err := c.Get(ctx, "1.2.3")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if study.InstanceCount != 3 {
		t.Errorf("Expected 3 instances, got %d", study.InstanceCount)
	}
	if study.SeriesCount != 2 {
		t.Errorf("Expected 2 series, got %d", study.SeriesCount)
	}
	if study.TotalBytes != 650 {
		t.Errorf("Expected 650 bytes, got %d", study.TotalBytes)
	}
	if !study.FirstUploadedAt.Equal(at) {
		t.Errorf("Expected first upload %v, got %v", at, study.FirstUploadedAt)
	}
	if want := at.Add(3 * time.Minute); !study.LastUploadedAt.Equal(want) {
		t.Errorf("Expected last upload %v, got %v", want, study.LastUploadedAt)
	}
	if study.PatientName != "Doe^Jane" {
		t.Errorf("Expected patient name Doe^Jane, got %q", study.PatientName)
	}
}

func TestRecordKeepsKnownDescriptors(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	first := fileInfo("1.2.3", "1.2.3.1", "1.2.3.1.1")
	first.StudyDescription = "CHEST"
	if err := c.Record(ctx, first, 1, time.Now()); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	second := fileInfo("1.2.3", "1.2.3.1", "1.2.3.1.2")
	second.StudyDescription = ""
	if err := c.Record(ctx, second, 1, time.Now()); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	study, err := c.Get(ctx, "1.2.3")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if study.StudyDescription != "CHEST" {
		t.Errorf("Expected description CHEST, got %q", study.StudyDescription)
	}
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, uid := range []string{"1.1", "2.2", "3.3"} {
		if err := c.Record(ctx, fileInfo(uid, uid+".1", uid+".1.1"), 10, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	studies, err := c.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(studies) != 3 {
		t.Fatalf("Expected 3 studies, got %d", len(studies))
	}
	expected := []string{"3.3", "2.2", "1.1"}
	for i, uid := range expected {
		if studies[i].StudyInstanceUID != uid {
			t.Errorf("Expected study %d to be %s, got %s", i, uid, studies[i].StudyInstanceUID)
		}
	}

	limited, err := c.List(ctx, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected 2 studies, got %d", len(limited))
	}
}

func TestListEmpty(t *testing.T) {
	c := openTestCatalog(t)

	studies, err := c.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if studies == nil || len(studies) != 0 {
		t.Errorf("Expected empty non-nil list, got %v", studies)
	}
}

func TestGetNotFound(t *testing.T) {
	c := openTestCatalog(t)

	_, err := c.Get(context.Background(), "9.9.9")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

package study

import (
	"context"

	"github.com/aurapacs/portal/internal/dicom"
	"github.com/aurapacs/portal/internal/dicomstore"
	"github.com/aurapacs/portal/internal/models"
)

// Source resolves the three levels of a study.
type Source interface {
	// Metadata returns the study's descriptive tag map, or nil when the
	// store has none.
	Metadata(ctx context.Context, studyUID string) (dicom.TagMap, error)
	// Series returns the series of a study; an empty slice is a valid answer.
	Series(ctx context.Context, studyUID string) ([]dicom.TagMap, error)
	// Instances returns the instances of one series in store order.
	Instances(ctx context.Context, studyUID, seriesUID string) ([]dicom.TagMap, error)
}

// StudyLoader produces an aggregated study.
type StudyLoader interface {
	Load(ctx context.Context, studyUID string) (*models.StudyData, error)
}

// StoreSource adapts a dicomstore.Store to Source.
type StoreSource struct {
	Store dicomstore.Store
}

func (s StoreSource) Metadata(ctx context.Context, studyUID string) (dicom.TagMap, error) {
	return s.Store.StudyMetadata(ctx, studyUID)
}

func (s StoreSource) Series(ctx context.Context, studyUID string) ([]dicom.TagMap, error) {
	return s.Store.SearchSeries(ctx, studyUID)
}

func (s StoreSource) Instances(ctx context.Context, studyUID, seriesUID string) ([]dicom.TagMap, error) {
	return s.Store.SearchInstances(ctx, studyUID, seriesUID)
}

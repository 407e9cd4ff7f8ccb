package study

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/aurapacs/portal/internal/dicom"
	"github.com/aurapacs/portal/internal/models"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the per-series instance fan-out.
const DefaultConcurrency = 6

type Aggregator struct {
	source      Source
	concurrency int
}

func NewAggregator(source Source, concurrency int) *Aggregator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Aggregator{
		source:      source,
		concurrency: concurrency,
	}
}

// Load assembles StudyData for studyUID.
//
// Metadata and the series list are fetched concurrently and either failure
// fails the load. Instances are then fetched per series; a series whose
// instance fetch fails is kept with an empty instance list and its UID is
// recorded in FailedSeries.
func (a *Aggregator) Load(ctx context.Context, studyUID string) (*models.StudyData, error) {
	var (
		patientInfo dicom.TagMap
		seriesList  []dicom.TagMap
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		meta, err := a.source.Metadata(gctx, studyUID)
		if err != nil {
			return fmt.Errorf("failed to fetch metadata: %w", err)
		}
		patientInfo = meta
		return nil
	})
	g.Go(func() error {
		series, err := a.source.Series(gctx, studyUID)
		if err != nil {
			return fmt.Errorf("failed to fetch series: %w", err)
		}
		seriesList = series
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data := &models.StudyData{
		PatientInfo: patientInfo,
		Series:      make([]models.Series, len(seriesList)),
	}

	var (
		fan      errgroup.Group
		failedMu sync.Mutex
	)
	fan.SetLimit(a.concurrency)
	for i, tags := range seriesList {
		data.Series[i] = models.Series{Tags: tags, Instances: []dicom.TagMap{}}

		seriesUID, ok := tags.String(dicom.SeriesInstanceUID)
		if !ok || seriesUID == "" {
			slog.Warn("Series without SeriesInstanceUID", "study_uid", studyUID, "index", i)
			continue
		}

		fan.Go(func() error {
			instances, err := a.source.Instances(ctx, studyUID, seriesUID)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("Failed to fetch instances for series", "study_uid", studyUID, "series_uid", seriesUID, "err", err)
				}
				failedMu.Lock()
				data.FailedSeries = append(data.FailedSeries, seriesUID)
				failedMu.Unlock()
				return nil
			}
			if instances == nil {
				return nil
			}
			dicom.SortInstances(instances)
			data.Series[i].Instances = instances
			return nil
		})
	}
	_ = fan.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slices.Sort(data.FailedSeries)
	slog.Debug("Study aggregated", "study_uid", studyUID, "series", len(data.Series), "failed_series", len(data.FailedSeries), "has_metadata", patientInfo != nil)
	return data, nil
}

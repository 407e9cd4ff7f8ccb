// Package export writes aggregated studies to files for offline use:
// a Parquet instance index and a YAML study summary.
package export

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"

	"github.com/aurapacs/portal/internal/dicom"
	"github.com/aurapacs/portal/internal/models"
	"github.com/aurapacs/portal/internal/viewer"
)

// InstanceRow is one row of the Parquet instance index.
type InstanceRow struct {
	StudyInstanceUID  string `parquet:"study_instance_uid"`
	SeriesInstanceUID string `parquet:"series_instance_uid"`
	SOPInstanceUID    string `parquet:"sop_instance_uid"`
	InstanceNumber    int64  `parquet:"instance_number"`
	Modality          string `parquet:"modality"`
	SeriesDescription string `parquet:"series_description"`
	FrameID           string `parquet:"frame_id"`
}

// Rows flattens a study into index rows, series in store order and
// instances in ascending instance number.
func Rows(studyUID string, data *models.StudyData, scheme, apiBase string) []InstanceRow {
	if data == nil {
		return nil
	}
	var rows []InstanceRow
	for _, s := range data.Series {
		for _, f := range viewer.BuildFrames(scheme, apiBase, studyUID, s) {
			rows = append(rows, InstanceRow{
				StudyInstanceUID:  studyUID,
				SeriesInstanceUID: f.SeriesInstanceUID,
				SOPInstanceUID:    f.SOPInstanceUID,
				InstanceNumber:    int64(f.InstanceNumber),
				Modality:          s.Modality(),
				SeriesDescription: s.Description(),
				FrameID:           f.ID,
			})
		}
	}
	return rows
}

// WriteParquet encodes rows as a single Parquet file.
func WriteParquet(w io.Writer, rows []InstanceRow) error {
	writer := parquet.NewGenericWriter[InstanceRow](w)
	if _, err := writer.Write(rows); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}

// ReadParquet loads an index written by WriteParquet.
func ReadParquet(path string) ([]InstanceRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[InstanceRow](pf)
	defer reader.Close()

	rows := make([]InstanceRow, 0, pf.NumRows())
	batch := make([]InstanceRow, 128)
	for {
		n, err := reader.Read(batch)
		rows = append(rows, batch[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}
	return rows, nil
}

// Summary is the YAML document of an aggregated study.
type Summary struct {
	StudyInstanceUID string          `yaml:"study_instance_uid"`
	Header           dicom.Header    `yaml:"header"`
	Series           []SeriesSummary `yaml:"series"`
}

type SeriesSummary struct {
	SeriesInstanceUID string            `yaml:"series_instance_uid"`
	Modality          string            `yaml:"modality"`
	Description       string            `yaml:"description"`
	Instances         []InstanceSummary `yaml:"instances"`
}

type InstanceSummary struct {
	SOPInstanceUID string `yaml:"sop_instance_uid"`
	InstanceNumber int    `yaml:"instance_number"`
}

// NewSummary builds the YAML view of data. Instance order follows the
// aggregated study, which is already sorted.
func NewSummary(studyUID string, data *models.StudyData) Summary {
	sum := Summary{StudyInstanceUID: studyUID, Series: []SeriesSummary{}}
	if data == nil {
		sum.Header = dicom.NewHeader(nil)
		return sum
	}
	sum.Header = dicom.NewHeader(data.PatientInfo)
	for _, s := range data.Series {
		ss := SeriesSummary{
			SeriesInstanceUID: s.UID(),
			Modality:          s.Modality(),
			Description:       s.Description(),
			Instances:         make([]InstanceSummary, 0, len(s.Instances)),
		}
		for _, inst := range s.Instances {
			sop, _ := inst.String(dicom.SOPInstanceUID)
			ss.Instances = append(ss.Instances, InstanceSummary{
				SOPInstanceUID: sop,
				InstanceNumber: dicom.InstanceNumber(inst),
			})
		}
		sum.Series = append(sum.Series, ss)
	}
	return sum
}

// WriteYAML writes the summary of data to w.
func WriteYAML(w io.Writer, studyUID string, data *models.StudyData) error {
	out, err := yaml.Marshal(NewSummary(studyUID, data))
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("failed to write YAML: %w", err)
	}
	return nil
}

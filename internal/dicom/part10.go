package dicom

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ErrMissingUID is returned when an uploaded file lacks a required UID.
var ErrMissingUID = errors.New("dicom file is missing a required UID")

// FileInfo is what the portal needs to know about an uploaded Part-10 file.
type FileInfo struct {
	StudyInstanceUID  string
	SeriesInstanceUID string
	SOPInstanceUID    string
	PatientName       string
	PatientID         string
	StudyDate         string
	StudyDescription  string
	Modality          string
}

// ReadPart10 parses the header of a Part-10 payload. Pixel data is skipped.
func ReadPart10(data []byte) (*FileInfo, error) {
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("could not parse DICOM: %w", err)
	}

	info := &FileInfo{
		StudyInstanceUID:  elementString(ds, tag.StudyInstanceUID),
		SeriesInstanceUID: elementString(ds, tag.SeriesInstanceUID),
		SOPInstanceUID:    elementString(ds, tag.SOPInstanceUID),
		PatientName:       elementString(ds, tag.PatientName),
		PatientID:         elementString(ds, tag.PatientID),
		StudyDate:         elementString(ds, tag.StudyDate),
		StudyDescription:  elementString(ds, tag.StudyDescription),
		Modality:          elementString(ds, tag.Modality),
	}

	switch {
	case info.StudyInstanceUID == "":
		return nil, fmt.Errorf("%w: StudyInstanceUID", ErrMissingUID)
	case info.SeriesInstanceUID == "":
		return nil, fmt.Errorf("%w: SeriesInstanceUID", ErrMissingUID)
	case info.SOPInstanceUID == "":
		return nil, fmt.Errorf("%w: SOPInstanceUID", ErrMissingUID)
	}
	return info, nil
}

func elementString(ds dicom.Dataset, t tag.Tag) string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return ""
	}
	switch v := elem.Value.GetValue().(type) {
	case []string:
		if len(v) > 0 {
			return strings.TrimRight(v[0], " \x00")
		}
	case string:
		return strings.TrimRight(v, " \x00")
	}
	return ""
}

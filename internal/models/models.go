package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aurapacs/portal/internal/dicom"
)

// StudyData is the aggregated view of one study used by the viewer.
type StudyData struct {
	PatientInfo dicom.TagMap `json:"patientInfo"`
	Series      []Series     `json:"series"`
	// FailedSeries lists series whose instances could not be fetched. They
	// are present in Series with an empty instance list.
	FailedSeries []string `json:"failedSeries,omitempty"`
}

// Degraded reports whether any series failed to load.
func (d *StudyData) Degraded() bool {
	return d != nil && len(d.FailedSeries) > 0
}

// Series is a series tag map with its ordered instances attached.
// It marshals flat, with the series tags and an "instances" key side by side.
type Series struct {
	Tags      dicom.TagMap
	Instances []dicom.TagMap
}

// UID returns the SeriesInstanceUID, or "" when absent.
func (s Series) UID() string {
	uid, _ := s.Tags.String(dicom.SeriesInstanceUID)
	return uid
}

// Modality returns the series modality or the N/A placeholder.
func (s Series) Modality() string {
	return s.Tags.StringOr(dicom.Modality, dicom.NotAvailable)
}

// Description returns the series description or the N/A placeholder.
func (s Series) Description() string {
	return s.Tags.StringOr(dicom.SeriesDescription, dicom.NotAvailable)
}

func (s Series) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Tags)+1)
	for k, v := range s.Tags {
		out[k] = v
	}
	instances := s.Instances
	if instances == nil {
		instances = []dicom.TagMap{}
	}
	out["instances"] = instances
	return json.Marshal(out)
}

func (s *Series) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Tags = make(dicom.TagMap, len(raw))
	s.Instances = []dicom.TagMap{}
	for k, v := range raw {
		if k == "instances" {
			if err := json.Unmarshal(v, &s.Instances); err != nil {
				return fmt.Errorf("decode instances: %w", err)
			}
			continue
		}
		var attr dicom.Attribute
		if err := json.Unmarshal(v, &attr); err != nil {
			return fmt.Errorf("decode tag %s: %w", k, err)
		}
		s.Tags[k] = attr
	}
	return nil
}

// UploadResult reports one instance stored through the portal.
type UploadResult struct {
	StudyInstanceUID  string    `json:"study_instance_uid"`
	SeriesInstanceUID string    `json:"series_instance_uid"`
	SOPInstanceUID    string    `json:"sop_instance_uid"`
	Size              int64     `json:"size"`
	UploadedAt        time.Time `json:"uploaded_at"`
	Response          any       `json:"response,omitempty"`
}

// Package dicomtest builds small Part-10 payloads for tests.
package dicomtest

import (
	"bytes"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	ctImageStorage         = "1.2.840.10008.5.1.4.1.1.2"
	explicitVRLittleEndian = "1.2.840.10008.1.2.1"
)

// Instance describes the attributes written into a generated file.
type Instance struct {
	StudyInstanceUID  string
	SeriesInstanceUID string
	SOPInstanceUID    string
	InstanceNumber    string
	PatientName       string
	PatientID         string
	Modality          string
}

// Part10 encodes inst as a Part-10 file without pixel data.
func Part10(t testing.TB, inst Instance) []byte {
	t.Helper()

	values := []struct {
		tag   tag.Tag
		value string
	}{
		{tag.MediaStorageSOPClassUID, ctImageStorage},
		{tag.MediaStorageSOPInstanceUID, inst.SOPInstanceUID},
		{tag.TransferSyntaxUID, explicitVRLittleEndian},
		{tag.SOPClassUID, ctImageStorage},
		{tag.SOPInstanceUID, inst.SOPInstanceUID},
		{tag.StudyInstanceUID, inst.StudyInstanceUID},
		{tag.SeriesInstanceUID, inst.SeriesInstanceUID},
		{tag.InstanceNumber, inst.InstanceNumber},
		{tag.PatientName, inst.PatientName},
		{tag.PatientID, inst.PatientID},
		{tag.Modality, inst.Modality},
	}

	var ds dicom.Dataset
	for _, v := range values {
		if v.value == "" {
			continue
		}
		elem, err := dicom.NewElement(v.tag, []string{v.value})
		if err != nil {
			t.Fatalf("Failed to build element %v: %v", v.tag, err)
		}
		ds.Elements = append(ds.Elements, elem)
	}

	var buf bytes.Buffer
	if err := dicom.Write(&buf, ds); err != nil {
		t.Fatalf("Failed to write Part-10 file: %v", err)
	}
	return buf.Bytes()
}

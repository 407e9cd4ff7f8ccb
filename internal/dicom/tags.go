package dicom

import (
	"fmt"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// Code returns the DICOM JSON key for t, e.g. "0020000D" for StudyInstanceUID.
func Code(t tag.Tag) string {
	return fmt.Sprintf("%04X%04X", t.Group, t.Element)
}

// Tag codes used by the portal. Keys of a TagMap are always upper-case hex.
var (
	StudyInstanceUID  = Code(tag.StudyInstanceUID)
	SeriesInstanceUID = Code(tag.SeriesInstanceUID)
	SOPInstanceUID    = Code(tag.SOPInstanceUID)
	SOPClassUID       = Code(tag.SOPClassUID)
	InstanceNumberTag = Code(tag.InstanceNumber)
	SeriesNumber      = Code(tag.SeriesNumber)

	PatientName      = Code(tag.PatientName)
	PatientID        = Code(tag.PatientID)
	PatientBirthDate = Code(tag.PatientBirthDate)
	PatientSex       = Code(tag.PatientSex)
	PatientAge       = Code(tag.PatientAge)

	StudyID                = Code(tag.StudyID)
	StudyDate              = Code(tag.StudyDate)
	StudyTime              = Code(tag.StudyTime)
	StudyDescription       = Code(tag.StudyDescription)
	SeriesDescription      = Code(tag.SeriesDescription)
	AccessionNumber        = Code(tag.AccessionNumber)
	Modality               = Code(tag.Modality)
	ModalitiesInStudy      = Code(tag.ModalitiesInStudy)
	ReferringPhysicianName = Code(tag.ReferringPhysicianName)
	InstitutionName        = Code(tag.InstitutionName)

	NumberOfStudyRelatedSeries     = Code(tag.NumberOfStudyRelatedSeries)
	NumberOfStudyRelatedInstances  = Code(tag.NumberOfStudyRelatedInstances)
	NumberOfSeriesRelatedInstances = Code(tag.NumberOfSeriesRelatedInstances)
)

package dicom

const (
	UnknownPatient = "Unknown"
	NotAvailable   = "N/A"
)

// Header is the patient/study banner shown above the viewer.
type Header struct {
	PatientName      string `json:"patient_name" yaml:"patient_name"`
	PatientID        string `json:"patient_id" yaml:"patient_id"`
	PatientBirthDate string `json:"patient_birth_date" yaml:"patient_birth_date"`
	PatientSex       string `json:"patient_sex" yaml:"patient_sex"`
	StudyDate        string `json:"study_date" yaml:"study_date"`
	StudyDescription string `json:"study_description" yaml:"study_description"`
}

// NewHeader builds a Header from study metadata. A nil map yields the
// placeholder header.
func NewHeader(patientInfo TagMap) Header {
	name, ok := patientInfo.PersonName(PatientName)
	if !ok || name == "" {
		name = UnknownPatient
	}
	return Header{
		PatientName:      name,
		PatientID:        patientInfo.StringOr(PatientID, NotAvailable),
		PatientBirthDate: patientInfo.StringOr(PatientBirthDate, NotAvailable),
		PatientSex:       patientInfo.StringOr(PatientSex, NotAvailable),
		StudyDate:        patientInfo.StringOr(StudyDate, NotAvailable),
		StudyDescription: patientInfo.StringOr(StudyDescription, NotAvailable),
	}
}

// StudyRow is the list projection of a QIDO-RS study result.
type StudyRow struct {
	StudyInstanceUID   string `json:"study_instance_uid"`
	StudyID            string `json:"study_id"`
	PatientID          string `json:"patient_id"`
	PatientName        string `json:"patient_name"`
	PatientBirthDate   string `json:"patient_birth_date,omitempty"`
	PatientSex         string `json:"patient_sex,omitempty"`
	PatientAge         string `json:"patient_age,omitempty"`
	StudyDate          string `json:"study_date"`
	StudyTime          string `json:"study_time,omitempty"`
	AccessionNumber    string `json:"accession_number,omitempty"`
	Modality           string `json:"modality"`
	Description        string `json:"description"`
	ReferringPhysician string `json:"referring_physician,omitempty"`
	InstitutionName    string `json:"institution_name,omitempty"`
	NumberOfSeries     int    `json:"number_of_series"`
	NumberOfInstances  int    `json:"number_of_instances"`
}

// NewStudyRow projects a study-level tag map. Studies without a UID are
// skipped by callers, so ok=false is returned for them.
func NewStudyRow(m TagMap) (StudyRow, bool) {
	uid, ok := m.String(StudyInstanceUID)
	if !ok || uid == "" {
		return StudyRow{}, false
	}
	name, ok := m.PersonName(PatientName)
	if !ok || name == "" {
		name = UnknownPatient
	}
	modality := m.StringOr(ModalitiesInStudy, "")
	if modality == "" {
		modality = m.StringOr(Modality, NotAvailable)
	}
	description := m.StringOr(StudyDescription, "")
	if description == "" {
		description = m.StringOr(SeriesDescription, NotAvailable)
	}
	row := StudyRow{
		StudyInstanceUID: uid,
		StudyID:          m.StringOr(StudyID, NotAvailable),
		PatientID:        m.StringOr(PatientID, NotAvailable),
		PatientName:      name,
		PatientBirthDate: m.StringOr(PatientBirthDate, ""),
		PatientSex:       m.StringOr(PatientSex, ""),
		PatientAge:       m.StringOr(PatientAge, ""),
		StudyDate:        m.StringOr(StudyDate, NotAvailable),
		StudyTime:        m.StringOr(StudyTime, ""),
		AccessionNumber:  m.StringOr(AccessionNumber, ""),
		Modality:         modality,
		Description:      description,
		InstitutionName:  m.StringOr(InstitutionName, ""),
	}
	if ref, ok := m.PersonName(ReferringPhysicianName); ok {
		row.ReferringPhysician = ref
	}
	if n, ok := m.Int(NumberOfStudyRelatedSeries); ok {
		row.NumberOfSeries = n
	}
	if n, ok := m.Int(NumberOfStudyRelatedInstances); ok {
		row.NumberOfInstances = n
	}
	return row, true
}

// Package storetest provides an in-memory dicomstore.Store for tests.
package storetest

import (
	"bytes"
	"context"
	"io"
	"slices"
	"sync"

	"github.com/aurapacs/portal/internal/dicom"
	"github.com/aurapacs/portal/internal/dicomstore"
)

// Memory is a dicomstore.Store backed by maps.
type Memory struct {
	mu            sync.Mutex
	studies       []dicom.TagMap
	metadata      map[string]dicom.TagMap
	series        map[string][]dicom.TagMap
	instances     map[string][]dicom.TagMap
	files         map[string][]byte
	failOps       map[string]error
	failSeries    map[string]error
	failInstances map[string]error
	queries       []dicomstore.Query
}

var _ dicomstore.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		metadata:      make(map[string]dicom.TagMap),
		series:        make(map[string][]dicom.TagMap),
		instances:     make(map[string][]dicom.TagMap),
		files:         make(map[string][]byte),
		failOps:       make(map[string]error),
		failSeries:    make(map[string]error),
		failInstances: make(map[string]error),
	}
}

func attr(vr, value string) dicom.Attribute {
	return dicom.Attribute{VR: vr, Value: []any{value}}
}

// AddInstance registers an instance and creates its study and series
// entries on first use.
func (m *Memory) AddInstance(studyUID, seriesUID, sopUID, number string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLocked(studyUID, seriesUID, sopUID, number, "", "", data)
}

// SetMetadata replaces the metadata object of a study.
func (m *Memory) SetMetadata(studyUID string, meta dicom.TagMap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[studyUID] = meta
}

func (m *Memory) addLocked(studyUID, seriesUID, sopUID, number, patientID, modality string, data []byte) {
	if _, ok := m.metadata[studyUID]; !ok {
		meta := dicom.TagMap{dicom.StudyInstanceUID: attr("UI", studyUID)}
		if patientID != "" {
			meta[dicom.PatientID] = attr("LO", patientID)
		}
		m.metadata[studyUID] = meta
		m.studies = append(m.studies, meta.Clone())
	}

	if !slices.ContainsFunc(m.series[studyUID], func(s dicom.TagMap) bool {
		uid, _ := s.String(dicom.SeriesInstanceUID)
		return uid == seriesUID
	}) {
		s := dicom.TagMap{dicom.SeriesInstanceUID: attr("UI", seriesUID)}
		if modality != "" {
			s[dicom.Modality] = attr("CS", modality)
		}
		m.series[studyUID] = append(m.series[studyUID], s)
	}

	key := studyUID + "/" + seriesUID
	inst := dicom.TagMap{
		dicom.SOPInstanceUID:    attr("UI", sopUID),
		dicom.SeriesInstanceUID: attr("UI", seriesUID),
	}
	if number != "" {
		inst[dicom.InstanceNumberTag] = attr("IS", number)
	}
	m.instances[key] = slices.DeleteFunc(m.instances[key], func(t dicom.TagMap) bool {
		uid, _ := t.String(dicom.SOPInstanceUID)
		return uid == sopUID
	})
	m.instances[key] = append(m.instances[key], inst)
	m.files[key+"/"+sopUID] = data
}

// Fail makes the named operation ("SearchStudies", "StudyMetadata",
// "SearchSeries", "SearchInstances", "RetrieveInstance", "StoreInstances")
// return err. A nil err clears the failure.
func (m *Memory) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failOps, op)
		return
	}
	m.failOps[op] = err
}

// FailSeries makes SearchInstances fail for one series. A nil err clears
// the failure.
func (m *Memory) FailSeries(seriesUID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failSeries, seriesUID)
		return
	}
	m.failSeries[seriesUID] = err
}

// FailInstance makes RetrieveInstance fail for one SOP instance. A nil err
// clears the failure.
func (m *Memory) FailInstance(sopUID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failInstances, sopUID)
		return
	}
	m.failInstances[sopUID] = err
}

// Queries returns the study queries received so far.
func (m *Memory) Queries() []dicomstore.Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.queries)
}

func (m *Memory) fail(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failOps[op]
}

func (m *Memory) SearchStudies(ctx context.Context, q dicomstore.Query) ([]dicom.TagMap, error) {
	if err := m.fail("SearchStudies"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)

	out := []dicom.TagMap{}
	for _, s := range m.studies {
		if q.PatientID != "" && s.StringOr(dicom.PatientID, "") != q.PatientID {
			continue
		}
		out = append(out, s.Clone())
	}
	if q.Offset > 0 {
		out = out[min(q.Offset, len(out)):]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) StudyMetadata(ctx context.Context, studyUID string) (dicom.TagMap, error) {
	if err := m.fail("StudyMetadata"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.metadata[studyUID]
	if !ok {
		return nil, nil
	}
	return meta.Clone(), nil
}

func (m *Memory) SearchSeries(ctx context.Context, studyUID string) ([]dicom.TagMap, error) {
	if err := m.fail("SearchSeries"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []dicom.TagMap{}
	for _, s := range m.series[studyUID] {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (m *Memory) SearchInstances(ctx context.Context, studyUID, seriesUID string) ([]dicom.TagMap, error) {
	if err := m.fail("SearchInstances"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failSeries[seriesUID]; err != nil {
		return nil, err
	}
	out := []dicom.TagMap{}
	for _, inst := range m.instances[studyUID+"/"+seriesUID] {
		out = append(out, inst.Clone())
	}
	return out, nil
}

func (m *Memory) RetrieveInstance(ctx context.Context, studyUID, seriesUID, sopUID string) (io.ReadCloser, error) {
	if err := m.fail("RetrieveInstance"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failInstances[sopUID]; err != nil {
		return nil, err
	}
	data, ok := m.files[studyUID+"/"+seriesUID+"/"+sopUID]
	if !ok {
		return nil, &dicomstore.StatusError{Op: "retrieve instance", Code: 404}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// StoreInstances parses the payload header and files it under its UIDs.
func (m *Memory) StoreInstances(ctx context.Context, body io.Reader) (dicom.TagMap, error) {
	if err := m.fail("StoreInstances"); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	info, err := dicom.ReadPart10(data)
	if err != nil {
		return nil, &dicomstore.StatusError{Op: "store instances", Code: 400, Body: err.Error()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLocked(info.StudyInstanceUID, info.SeriesInstanceUID, info.SOPInstanceUID, "", info.PatientID, info.Modality, data)
	return dicom.TagMap{dicom.SOPInstanceUID: attr("UI", info.SOPInstanceUID)}, nil
}

// Stored reports how many instance files the store holds.
func (m *Memory) Stored() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

func (m *Memory) Close() error {
	return nil
}

package viewer

import (
	"log/slog"
	"net/url"
	"slices"

	"github.com/aurapacs/portal/internal/dicom"
	"github.com/aurapacs/portal/internal/models"
)

// DefaultScheme is the loader prefix the renderer resolves frame IDs with.
const DefaultScheme = "wadouri:"

// FrameRef identifies one frame of a stack.
type FrameRef struct {
	ID                string
	StudyInstanceUID  string
	SeriesInstanceUID string
	SOPInstanceUID    string
	InstanceNumber    int
}

// FrameID builds the identifier of a single instance, e.g.
// wadouri:/api/studies/1.2/series/1.2.1/instances/1.2.1.1.
func FrameID(scheme, apiBase, studyUID, seriesUID, sopUID string) string {
	return scheme + apiBase +
		"/studies/" + url.PathEscape(studyUID) +
		"/series/" + url.PathEscape(seriesUID) +
		"/instances/" + url.PathEscape(sopUID)
}

// BuildFrames returns one FrameRef per instance of series in ascending
// instance-number order. Instances without a SOPInstanceUID cannot be
// addressed and are left out.
func BuildFrames(scheme, apiBase, studyUID string, series models.Series) []FrameRef {
	instances := slices.Clone(series.Instances)
	dicom.SortInstances(instances)

	seriesUID := series.UID()
	frames := make([]FrameRef, 0, len(instances))
	for _, inst := range instances {
		sop, ok := inst.String(dicom.SOPInstanceUID)
		if !ok || sop == "" {
			slog.Warn("Skipping instance without SOPInstanceUID", "study_uid", studyUID, "series_uid", seriesUID)
			continue
		}
		frames = append(frames, FrameRef{
			ID:                FrameID(scheme, apiBase, studyUID, seriesUID, sop),
			StudyInstanceUID:  studyUID,
			SeriesInstanceUID: seriesUID,
			SOPInstanceUID:    sop,
			InstanceNumber:    dicom.InstanceNumber(inst),
		})
	}
	return frames
}

func frameIDs(frames []FrameRef) []string {
	ids := make([]string, len(frames))
	for i, f := range frames {
		ids[i] = f.ID
	}
	return ids
}

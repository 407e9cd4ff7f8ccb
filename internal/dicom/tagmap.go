package dicom

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Attribute is one entry of a DICOM JSON object (PS3.18 F.2).
type Attribute struct {
	VR           string `json:"vr,omitempty"`
	Value        []any  `json:"Value,omitempty"`
	InlineBinary string `json:"InlineBinary,omitempty"`
	BulkDataURI  string `json:"BulkDataURI,omitempty"`
}

// TagMap is a DICOM JSON dataset keyed by tag code.
type TagMap map[string]Attribute

// GetTagValue returns the first value of tagCode. A missing tag, an empty
// Value array or a null first value all report ok=false.
func GetTagValue(m TagMap, tagCode string) (any, bool) {
	if m == nil {
		return nil, false
	}
	attr, ok := m[tagCode]
	if !ok || len(attr.Value) == 0 || attr.Value[0] == nil {
		return nil, false
	}
	return attr.Value[0], true
}

// Value is the method form of GetTagValue.
func (m TagMap) Value(tagCode string) (any, bool) {
	return GetTagValue(m, tagCode)
}

// String returns the first value of tagCode rendered as a string.
// Person names are flattened with PersonName rules.
func (m TagMap) String(tagCode string) (string, bool) {
	v, ok := m.Value(tagCode)
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case json.Number:
		return val.String(), true
	case map[string]any:
		return personName(val), true
	default:
		return fmt.Sprint(val), true
	}
}

// Int parses the first value of tagCode as an integer. IS values arrive
// either as JSON numbers or as numeric strings depending on the store.
func (m TagMap) Int(tagCode string) (int, bool) {
	v, ok := m.Value(tagCode)
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return 0, false
		}
		return int(val), true
	case json.Number:
		n, err := strconv.Atoi(val.String())
		if err != nil {
			return 0, false
		}
		return n, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// PersonName returns a display form of a PN attribute.
func (m TagMap) PersonName(tagCode string) (string, bool) {
	v, ok := m.Value(tagCode)
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case map[string]any:
		return personName(val), true
	case string:
		return val, true
	default:
		return fmt.Sprint(val), true
	}
}

func personName(pn map[string]any) string {
	for _, group := range []string{"Alphabetic", "Ideographic", "Phonetic"} {
		if s, ok := pn[group].(string); ok && s != "" {
			return s
		}
	}
	b, err := json.Marshal(pn)
	if err != nil {
		return ""
	}
	return string(b)
}

// StringOr returns the string value of tagCode or fallback when absent.
func (m TagMap) StringOr(tagCode, fallback string) string {
	if s, ok := m.String(tagCode); ok && s != "" {
		return s
	}
	return fallback
}

// Clone returns a shallow copy of m so callers can add keys without
// touching the source map.
func (m TagMap) Clone() TagMap {
	if m == nil {
		return nil
	}
	out := make(TagMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

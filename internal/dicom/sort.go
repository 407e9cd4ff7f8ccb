package dicom

import (
	"cmp"
	"slices"
)

// InstanceNumber returns the parsed instance number, or 0 when the tag is
// absent or unparseable.
func InstanceNumber(m TagMap) int {
	n, ok := m.Int(InstanceNumberTag)
	if !ok {
		return 0
	}
	return n
}

// SortInstances orders instances ascending by instance number in place.
// Equal numbers keep their relative order.
func SortInstances(instances []TagMap) {
	slices.SortStableFunc(instances, func(a, b TagMap) int {
		return cmp.Compare(InstanceNumber(a), InstanceNumber(b))
	})
}

// Package bytes holds the allocation-free conversions used when hashing keys
// and matching command names straight out of a command's argument slices.
package bytes

import "unsafe"

// BytesToString returns a string that aliases b. Callers use it for lookups
// and slot hashing that finish before b can be reused; the result must not
// outlive the next write to b.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// Package sysinfo samples process memory usage.
package sysinfo

// RSS reports the resident set size of the current process. The zero value
// is ready to use.
type RSS struct{}

// RSSBytes returns the resident set size in bytes, or 0 when the platform
// gives no answer.
func (RSS) RSSBytes() uint64 {
	n, err := residentBytes()
	if err != nil {
		return 0
	}
	return n
}

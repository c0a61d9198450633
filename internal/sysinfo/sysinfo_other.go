//go:build !unix

package sysinfo

import "errors"

func residentBytes() (uint64, error) {
	return 0, errors.New("rss not supported on this platform")
}

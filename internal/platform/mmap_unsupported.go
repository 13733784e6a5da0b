//go:build !(darwin || linux || freebsd)

package platform

import (
	"fmt"
	"runtime"
)

var errUnsupported = fmt.Errorf("mmap unsupported on GOOS=%s. Use interpreter instead", runtime.GOOS)

func mmapCodeSegment(size int) ([]byte, error) {
	return nil, errUnsupported
}

func munmapCodeSegment(code []byte) error {
	return errUnsupported
}

func mprotect(b []byte, writable bool) error {
	return errUnsupported
}

//go:build !windows

package native

import "errors"

// ErrUnsupported reports that the platform has no WMI library.
var ErrUnsupported = errors.New("native: WMI is only available on windows")

// Open returns ErrUnsupported on this platform.
func Open() (Native, error) {
	return nil, ErrUnsupported
}

//go:build !airspy

package airspy

import (
	"github.com/norasector/airspy-source/pkg/device"
)

// Device is unavailable in builds without the airspy tag.
type Device struct {
	device.Driver
}

// Open always fails; rebuild with -tags airspy and libairspy installed.
func Open(serial uint64) (*Device, error) {
	return nil, device.ErrUnsupported
}

func Enumerate() ([]device.Info, error) {
	return nil, nil
}

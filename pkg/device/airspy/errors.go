package airspy

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParam     = errors.New("airspy: invalid parameter")
	ErrNotFound         = errors.New("airspy: device not found")
	ErrBusy             = errors.New("airspy: device busy")
	ErrNoMem            = errors.New("airspy: out of memory")
	ErrLibusb           = errors.New("airspy: libusb error")
	ErrThread           = errors.New("airspy: thread error")
	ErrStreamingThread  = errors.New("airspy: streaming thread error")
	ErrStreamingStopped = errors.New("airspy: streaming stopped")
	ErrOther            = errors.New("airspy: unspecified error")
)

var codeErrors = map[int]error{
	-2:    ErrInvalidParam,
	-5:    ErrNotFound,
	-6:    ErrBusy,
	-11:   ErrNoMem,
	-1000: ErrLibusb,
	-1001: ErrThread,
	-1002: ErrStreamingThread,
	-1003: ErrStreamingStopped,
	-9999: ErrOther,
}

// codeError maps a libairspy return code to an error. Zero (AIRSPY_SUCCESS)
// and AIRSPY_TRUE map to nil.
func codeError(code int) error {
	if code >= 0 {
		return nil
	}
	if err, ok := codeErrors[code]; ok {
		return err
	}
	return fmt.Errorf("airspy: unknown error (%d)", code)
}

// callError wraps a failed library call the way configuration errors are
// surfaced to callers: "<call>(<arg>) has failed: <reason>".
func callError(call string, arg interface{}, code int) error {
	err := codeError(code)
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s(%v) has failed: %w", call, arg, err)
}

var boardNames = map[uint8]string{
	0:    "AIRSPY",
	0xff: "UNKNOWN",
}

// BoardName returns the label used for a board id during enumeration.
func BoardName(id uint8) string {
	if name, ok := boardNames[id]; ok {
		return name
	}
	return boardNames[0xff]
}

// Label formats the enumeration label for a device, e.g. "AirSpy AIRSPY".
func Label(boardID uint8) string {
	return "AirSpy " + BoardName(boardID)
}

//go:build airspy

package airspy

// #cgo pkg-config: libairspy
// #include <stdlib.h>
// #include <libairspy/airspy.h>
// extern int goAirspyRxCallback(airspy_transfer* transfer);
import "C"

import (
	"fmt"
	"runtime/cgo"
	"sync"
	"unsafe"

	"github.com/norasector/airspy-source/pkg/device"
)

const (
	sampleTypeFloat32IQ = 0
	versionLength       = 128
	maxEnumerated       = 16
)

// Device is an opened AirSpy receiver streaming FLOAT32_IQ samples.
type Device struct {
	handle  *C.struct_airspy_device
	info    device.Info
	rates   []uint32
	boardID uint8

	mu     sync.Mutex
	cb     device.Callback
	cbRef  cgo.Handle
	xfer   device.Transfer
	closed bool
}

//export goAirspyRxCallback
func goAirspyRxCallback(transfer *C.airspy_transfer) C.int {
	d, ok := cgo.Handle(uintptr(transfer.ctx)).Value().(*Device)
	if !ok || d.cb == nil {
		return 0
	}

	count := int(transfer.sample_count)
	d.xfer.IQ = unsafe.Slice((*float32)(transfer.samples), 2*count)
	d.xfer.DroppedSamples = uint64(transfer.dropped_samples)
	if err := d.cb(&d.xfer); err != nil {
		return -1
	}
	return 0
}

// Open opens the first AirSpy found, or the one with the given serial number
// when serial is non-zero.
func Open(serial uint64) (*Device, error) {
	d := &Device{}

	var ret C.int
	if serial != 0 {
		ret = C.airspy_open_sn(&d.handle, C.uint64_t(serial))
	} else {
		ret = C.airspy_open(&d.handle)
	}
	if err := codeError(int(ret)); err != nil {
		return nil, fmt.Errorf("failed to open AirSpy device: %w", err)
	}

	if err := d.init(); err != nil {
		C.airspy_close(d.handle)
		return nil, err
	}
	return d, nil
}

func (d *Device) init() error {
	var boardID C.uint8_t
	if err := codeError(int(C.airspy_board_id_read(d.handle, &boardID))); err != nil {
		return fmt.Errorf("failed to get AirSpy board id: %w", err)
	}
	d.boardID = uint8(boardID)

	version := (*C.char)(C.calloc(versionLength, 1))
	defer C.free(unsafe.Pointer(version))
	if err := codeError(int(C.airspy_version_string_read(d.handle, version, versionLength))); err != nil {
		return fmt.Errorf("failed to read version string: %w", err)
	}

	var serial C.airspy_read_partid_serialno_t
	if codeError(int(C.airspy_board_partid_serialno_read(d.handle, &serial))) == nil {
		d.info.Serial = uint64(serial.serial_no[2])<<32 | uint64(serial.serial_no[3])
	}

	var count C.uint32_t
	C.airspy_get_samplerates(d.handle, &count, 0)
	if count > 0 {
		d.rates = make([]uint32, count)
		C.airspy_get_samplerates(d.handle, (*C.uint32_t)(unsafe.Pointer(&d.rates[0])), count)
	}

	if err := codeError(int(C.airspy_set_sample_type(d.handle, sampleTypeFloat32IQ))); err != nil {
		return fmt.Errorf("failed to set sample type: %w", err)
	}

	d.info.Driver = "airspy"
	d.info.Label = Label(d.boardID)
	d.info.Version = C.GoString(version)
	d.info.Args = fmt.Sprintf("airspy=0,label='%s'", d.info.Label)
	return nil
}

func (d *Device) Info() device.Info {
	return d.info
}

func (d *Device) SampleRates() []uint32 {
	return append([]uint32(nil), d.rates...)
}

// SetSampleRate takes either a rate index or a rate in Hz from SampleRates.
func (d *Device) SetSampleRate(rate uint32) error {
	return callError("airspy_set_samplerate", rate, int(C.airspy_set_samplerate(d.handle, C.uint32_t(rate))))
}

func (d *Device) SetFrequency(freqHz uint64) error {
	return callError("airspy_set_freq", freqHz, int(C.airspy_set_freq(d.handle, C.uint32_t(freqHz))))
}

func (d *Device) SetLNAGain(gain uint8) error {
	return callError("airspy_set_lna_gain", gain, int(C.airspy_set_lna_gain(d.handle, C.uint8_t(gain))))
}

func (d *Device) SetMixerGain(gain uint8) error {
	return callError("airspy_set_mixer_gain", gain, int(C.airspy_set_mixer_gain(d.handle, C.uint8_t(gain))))
}

func (d *Device) SetVGAGain(gain uint8) error {
	return callError("airspy_set_vga_gain", gain, int(C.airspy_set_vga_gain(d.handle, C.uint8_t(gain))))
}

func (d *Device) SetLinearityGain(gain uint8) error {
	return callError("airspy_set_linearity_gain", gain, int(C.airspy_set_linearity_gain(d.handle, C.uint8_t(gain))))
}

func (d *Device) SetSensitivityGain(gain uint8) error {
	return callError("airspy_set_sensitivity_gain", gain, int(C.airspy_set_sensitivity_gain(d.handle, C.uint8_t(gain))))
}

func (d *Device) SetLNAAGC(enabled bool) error {
	return callError("airspy_set_lna_agc", enabled, int(C.airspy_set_lna_agc(d.handle, boolValue(enabled))))
}

func (d *Device) SetMixerAGC(enabled bool) error {
	return callError("airspy_set_mixer_agc", enabled, int(C.airspy_set_mixer_agc(d.handle, boolValue(enabled))))
}

func (d *Device) SetRFBias(enabled bool) error {
	return callError("airspy_set_rf_bias", enabled, int(C.airspy_set_rf_bias(d.handle, boolValue(enabled))))
}

// SetPacking enables 12 bit sample packing on the USB bus. libairspy unpacks
// transparently.
func (d *Device) SetPacking(enabled bool) error {
	return callError("airspy_set_packing", enabled, int(C.airspy_set_packing(d.handle, boolValue(enabled))))
}

func (d *Device) StartStreaming(cb device.Callback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return device.ErrNoDevice
	}
	if d.cbRef != 0 {
		d.cbRef.Delete()
	}
	d.cb = cb
	d.cbRef = cgo.NewHandle(d)

	ret := C.airspy_start_rx(d.handle,
		C.airspy_sample_block_cb_fn(C.goAirspyRxCallback),
		unsafe.Pointer(uintptr(d.cbRef)))
	return callError("airspy_start_rx", "", int(ret))
}

// StopStreaming returns once libairspy has joined its transfer threads, so
// no callback runs after it.
func (d *Device) StopStreaming() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	return callError("airspy_stop_rx", "", int(C.airspy_stop_rx(d.handle)))
}

func (d *Device) IsStreaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	return C.airspy_is_streaming(d.handle) == C.AIRSPY_TRUE
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	err := callError("airspy_close", "", int(C.airspy_close(d.handle)))
	if d.cbRef != 0 {
		d.cbRef.Delete()
		d.cbRef = 0
	}
	return err
}

// Enumerate lists the AirSpy receivers attached to the host.
func Enumerate() ([]device.Info, error) {
	serials := make([]C.uint64_t, maxEnumerated)
	n := int(C.airspy_list_devices(&serials[0], C.int(len(serials))))
	if err := codeError(n); err != nil {
		return nil, err
	}

	ret := make([]device.Info, 0, n)
	for i := 0; i < n && i < len(serials); i++ {
		info := device.Info{
			Driver: "airspy",
			Serial: uint64(serials[i]),
			Label:  "AirSpy",
		}

		var handle *C.struct_airspy_device
		if codeError(int(C.airspy_open_sn(&handle, serials[i]))) == nil {
			var boardID C.uint8_t
			if codeError(int(C.airspy_board_id_read(handle, &boardID))) == nil {
				info.Label = Label(uint8(boardID))
			}
			C.airspy_close(handle)
		}
		info.Args = fmt.Sprintf("airspy=%d,serial=0x%x,label='%s'", i, info.Serial, info.Label)
		ret = append(ret, info)
	}
	return ret, nil
}

func boolValue(b bool) C.uint8_t {
	if b {
		return 1
	}
	return 0
}

package device

import (
	"errors"
)

var (
	ErrNoDevice     = errors.New("no device found")
	ErrUnsupported  = errors.New("operation not supported by device")
	ErrNotStreaming = errors.New("device is not streaming")
	ErrStreaming    = errors.New("device is already streaming")
)

// Transfer is one block of samples delivered by a driver's streaming thread.
// Exactly one of IQ and Samples is set. The slices are only valid for the
// duration of the callback.
type Transfer struct {
	// IQ holds interleaved float pairs: I0, Q0, I1, Q1, ...
	IQ             []float32
	Samples        []complex64
	DroppedSamples uint64
}

// SampleCount returns the number of complex samples carried by t.
func (t *Transfer) SampleCount() int {
	if t.IQ != nil {
		return len(t.IQ) / 2
	}
	return len(t.Samples)
}

// Callback is invoked on the driver's streaming thread. Returning a non-nil
// error asks the driver to stop streaming.
type Callback func(t *Transfer) error

// Driver is the hardware collaborator a source streams from.
type Driver interface {
	StartStreaming(cb Callback) error
	StopStreaming() error
	IsStreaming() bool
	Close() error

	SampleRates() []uint32
	SetSampleRate(rate uint32) error
	SetFrequency(freqHz uint64) error

	Info() Info
}

// GainController is implemented by drivers exposing AirSpy style gain stages.
type GainController interface {
	SetLNAGain(gain uint8) error
	SetMixerGain(gain uint8) error
	SetVGAGain(gain uint8) error
	SetLinearityGain(gain uint8) error
	SetSensitivityGain(gain uint8) error
	SetLNAAGC(enabled bool) error
	SetMixerAGC(enabled bool) error
}

type BiasController interface {
	SetRFBias(enabled bool) error
}

type PackingController interface {
	SetPacking(enabled bool) error
}

// Info describes an opened or enumerable device.
type Info struct {
	Driver  string `json:"driver"`
	Label   string `json:"label"`
	Version string `json:"version,omitempty"`
	Serial  uint64 `json:"serial,omitempty"`
	// Args is the argument string that selects this device again.
	Args string `json:"args"`
}

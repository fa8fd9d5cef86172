package hackrf

import (
	"sync/atomic"

	"github.com/norasector/airspy-source/pkg/device"
	"github.com/norasector/turbine-common/types"
	"github.com/samuel/go-hackrf/hackrf"
)

var sampleRates = []uint32{2000000, 4000000, 8000000, 10000000, 12500000, 16000000, 20000000}

const defaultLNAGain = 39

// HackRFDevice streams signed 8 bit I/Q from a HackRF One.
type HackRFDevice struct {
	device *hackrf.Device

	sampleRate int
	centerFreq int

	cb        device.Callback
	xfer      device.Transfer
	streaming atomic.Bool
}

// NewHackRFDevice opens the first HackRF. hackrf.Init must have been called.
func NewHackRFDevice() (*HackRFDevice, error) {
	dev, err := hackrf.Open()
	if err != nil {
		return nil, err
	}

	return &HackRFDevice{
		device: dev,
	}, nil
}

func (h *HackRFDevice) Info() device.Info {
	return device.Info{Driver: "hackrf", Label: "HackRF One", Args: "hackrf=0"}
}

func (h *HackRFDevice) SampleRates() []uint32 {
	return append([]uint32(nil), sampleRates...)
}

func (h *HackRFDevice) SetSampleRate(rate uint32) error {
	h.sampleRate = int(rate)
	if err := h.device.SetSampleRateManual(h.sampleRate*2, 2); err != nil {
		return err
	}
	return h.device.SetBasebandFilterBandwidth(h.sampleRate)
}

func (h *HackRFDevice) SetFrequency(freqHz uint64) error {
	h.centerFreq = int(freqHz)
	return h.device.SetFreq(freqHz)
}

func (h *HackRFDevice) callback(buf []byte) error {
	seg := types.SegmentCS8Raw{
		SampleRate: h.sampleRate,
		Data:       buf,
		Frequency:  h.centerFreq,
	}

	h.xfer.Samples = seg.ToComplex64().Data
	return h.cb(&h.xfer)
}

func (h *HackRFDevice) StartStreaming(cb device.Callback) error {
	if h.streaming.Load() {
		return device.ErrStreaming
	}
	h.cb = cb

	if err := h.device.SetLNAGain(defaultLNAGain); err != nil {
		return err
	}
	if err := h.device.SetAmpEnable(true); err != nil {
		return err
	}
	if err := h.device.StartRX(h.callback); err != nil {
		return err
	}
	h.streaming.Store(true)
	return nil
}

func (h *HackRFDevice) StopStreaming() error {
	if !h.streaming.Swap(false) {
		return nil
	}
	return h.device.StopRX()
}

func (h *HackRFDevice) IsStreaming() bool {
	return h.streaming.Load()
}

func (h *HackRFDevice) Close() error {
	return h.device.Close()
}

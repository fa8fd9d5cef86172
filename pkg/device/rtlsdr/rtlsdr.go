package rtlsdr

import (
	"fmt"
	"sync"
	"sync/atomic"

	gsdr "github.com/jpoirier/gortlsdr"
	"github.com/norasector/airspy-source/pkg/device"
	"github.com/rs/zerolog/log"
)

var sampleRates = []uint32{250000, 1024000, 1536000, 1792000, 1920000, 2048000, 2160000, 2400000}

// RTLSDRDevice streams unsigned 8 bit I/Q from an RTL2832U dongle.
type RTLSDRDevice struct {
	deviceIdx int
	device    *gsdr.Context

	cb        device.Callback
	xfer      device.Transfer
	streaming atomic.Bool
	wg        sync.WaitGroup
}

func NewRTLSDRDevice(deviceIdx int) (*RTLSDRDevice, error) {
	dev, err := gsdr.Open(deviceIdx)
	if err != nil {
		return nil, err
	}
	return &RTLSDRDevice{deviceIdx: deviceIdx, device: dev}, nil
}

func (r *RTLSDRDevice) Info() device.Info {
	return device.Info{
		Driver: "rtlsdr",
		Label:  gsdr.GetDeviceName(r.deviceIdx),
		Args:   fmt.Sprintf("rtl=%d", r.deviceIdx),
	}
}

func (r *RTLSDRDevice) SampleRates() []uint32 {
	return append([]uint32(nil), sampleRates...)
}

func (r *RTLSDRDevice) SetSampleRate(rate uint32) error {
	return r.device.SetSampleRate(int(rate))
}

func (r *RTLSDRDevice) SetFrequency(freqHz uint64) error {
	return r.device.SetCenterFreq(int(freqHz))
}

// callback converts each CU8 buffer in place into the reused Samples slice.
func (r *RTLSDRDevice) callback(buf []byte) {
	n := len(buf) / 2
	if cap(r.xfer.Samples) < n {
		r.xfer.Samples = make([]complex64, n)
	}
	r.xfer.Samples = r.xfer.Samples[:n]
	for i := 0; i < n; i++ {
		r.xfer.Samples[i] = complex(
			(float32(buf[2*i])-127.5)/127.5,
			(float32(buf[2*i+1])-127.5)/127.5,
		)
	}
	if err := r.cb(&r.xfer); err != nil {
		r.device.CancelAsync()
	}
}

func (r *RTLSDRDevice) StartStreaming(cb device.Callback) error {
	if r.streaming.Load() {
		return device.ErrStreaming
	}
	if err := r.device.ResetBuffer(); err != nil {
		return err
	}
	r.cb = cb
	r.streaming.Store(true)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.streaming.Store(false)
		if err := r.device.ReadAsync(r.callback, nil, 0, 0); err != nil {
			log.Error().Str("device", "rtlsdr").Err(err).Msg("async read ended")
		}
	}()
	return nil
}

func (r *RTLSDRDevice) StopStreaming() error {
	if !r.streaming.Load() {
		return nil
	}
	err := r.device.CancelAsync()
	r.wg.Wait()
	return err
}

func (r *RTLSDRDevice) IsStreaming() bool {
	return r.streaming.Load()
}

func (r *RTLSDRDevice) Close() error {
	return r.device.Close()
}

// Enumerate lists the attached RTL-SDR dongles.
func Enumerate() []device.Info {
	count := gsdr.GetDeviceCount()
	ret := make([]device.Info, 0, count)
	for i := 0; i < count; i++ {
		ret = append(ret, device.Info{
			Driver: "rtlsdr",
			Label:  gsdr.GetDeviceName(i),
			Args:   fmt.Sprintf("rtl=%d", i),
		})
	}
	return ret
}

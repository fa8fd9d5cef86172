// Package sim provides a synthetic receiver that emits a complex tone. It
// stands in for hardware in tests and demos.
package sim

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/norasector/airspy-source/pkg/device"
)

var sampleRates = []uint32{10000000, 2500000}

// Config controls the generated signal and its pacing.
type Config struct {
	// ToneOffset is the tone frequency relative to the center, in Hz.
	ToneOffset float64
	Amplitude  float32
	// BlockSize is the number of samples per transfer.
	BlockSize int
	// Interval is the delay between transfers. Zero paces transfers from the
	// sample rate.
	Interval time.Duration
	// StopAfter ends streaming on its own after this many transfers; zero
	// streams until stopped.
	StopAfter int
}

// Device generates interleaved float32 I/Q on its own goroutine, the same
// way libairspy delivers FLOAT32_IQ transfers.
type Device struct {
	cfg Config

	mu         sync.Mutex
	sampleRate uint32
	centerFreq uint64
	gains      map[string]uint8
	agc        map[string]bool
	phase      float64

	streaming atomic.Bool
	stop      chan struct{}
	wg        sync.WaitGroup
	closed    bool
}

func New(cfg Config) *Device {
	if cfg.BlockSize == 0 {
		cfg.BlockSize = 16384
	}
	if cfg.Amplitude == 0 {
		cfg.Amplitude = 0.5
	}
	return &Device{
		cfg:        cfg,
		sampleRate: sampleRates[len(sampleRates)-1],
		gains:      make(map[string]uint8),
		agc:        make(map[string]bool),
	}
}

func (d *Device) Info() device.Info {
	return device.Info{Driver: "sim", Label: "Simulated AirSpy", Version: "sim", Args: "sim=0"}
}

func (d *Device) SampleRates() []uint32 {
	return append([]uint32(nil), sampleRates...)
}

func (d *Device) SetSampleRate(rate uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range sampleRates {
		if r == rate {
			d.sampleRate = rate
			return nil
		}
	}
	// libairspy also accepts an index into the rate table.
	if int(rate) < len(sampleRates) {
		d.sampleRate = sampleRates[rate]
		return nil
	}
	return device.ErrUnsupported
}

func (d *Device) SetFrequency(freqHz uint64) error {
	d.mu.Lock()
	d.centerFreq = freqHz
	d.mu.Unlock()
	return nil
}

func (d *Device) Frequency() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.centerFreq
}

func (d *Device) SampleRate() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sampleRate
}

func (d *Device) setGain(stage string, gain uint8, max uint8) error {
	if gain > max {
		return errors.New("sim: gain out of range")
	}
	d.mu.Lock()
	d.gains[stage] = gain
	d.mu.Unlock()
	return nil
}

func (d *Device) SetLNAGain(gain uint8) error         { return d.setGain("lna", gain, 15) }
func (d *Device) SetMixerGain(gain uint8) error       { return d.setGain("mixer", gain, 15) }
func (d *Device) SetVGAGain(gain uint8) error         { return d.setGain("vga", gain, 15) }
func (d *Device) SetLinearityGain(gain uint8) error   { return d.setGain("linearity", gain, 21) }
func (d *Device) SetSensitivityGain(gain uint8) error { return d.setGain("sensitivity", gain, 21) }

func (d *Device) SetLNAAGC(enabled bool) error {
	d.mu.Lock()
	d.agc["lna"] = enabled
	d.mu.Unlock()
	return nil
}

func (d *Device) SetMixerAGC(enabled bool) error {
	d.mu.Lock()
	d.agc["mixer"] = enabled
	d.mu.Unlock()
	return nil
}

// Gain returns the last value written to a stage: lna, mixer, vga,
// linearity or sensitivity.
func (d *Device) Gain(stage string) uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gains[stage]
}

func (d *Device) AGC(stage string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.agc[stage]
}

func (d *Device) StartStreaming(cb device.Callback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return device.ErrNoDevice
	}
	if d.streaming.Load() {
		return device.ErrStreaming
	}

	interval := d.cfg.Interval
	if interval == 0 {
		interval = time.Duration(float64(d.cfg.BlockSize) / float64(d.sampleRate) * float64(time.Second))
	}

	d.stop = make(chan struct{})
	d.streaming.Store(true)
	d.wg.Add(1)
	go d.run(cb, d.stop, interval, float64(d.sampleRate))
	return nil
}

func (d *Device) run(cb device.Callback, stop chan struct{}, interval time.Duration, rate float64) {
	defer d.wg.Done()
	defer d.streaming.Store(false)

	tick := time.NewTicker(interval)
	defer tick.Stop()

	xfer := device.Transfer{IQ: make([]float32, 2*d.cfg.BlockSize)}
	step := 2 * math.Pi * d.cfg.ToneOffset / rate

	for n := 0; d.cfg.StopAfter == 0 || n < d.cfg.StopAfter; n++ {
		select {
		case <-stop:
			return
		case <-tick.C:
		}

		for i := 0; i < d.cfg.BlockSize; i++ {
			sin, cos := math.Sincos(d.phase)
			xfer.IQ[2*i] = d.cfg.Amplitude * float32(cos)
			xfer.IQ[2*i+1] = d.cfg.Amplitude * float32(sin)
			d.phase = math.Mod(d.phase+step, 2*math.Pi)
		}
		if err := cb(&xfer); err != nil {
			return
		}
	}
}

// StopStreaming returns after the generator goroutine has exited, so no
// callback is in flight afterwards.
func (d *Device) StopStreaming() error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	d.wg.Wait()
	return nil
}

func (d *Device) IsStreaming() bool {
	return d.streaming.Load()
}

func (d *Device) Close() error {
	if err := d.StopStreaming(); err != nil {
		return err
	}
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

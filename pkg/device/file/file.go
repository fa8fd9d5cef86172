package file

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/norasector/airspy-source/pkg/device"
	"github.com/norasector/turbine-common/types"
	"github.com/rs/zerolog/log"
)

// Format is the sample encoding of a capture file.
type Format string

const (
	// FormatFloat32 is little endian float32 interleaved I/Q, the AirSpy
	// FLOAT32_IQ layout.
	FormatFloat32 Format = "f32"
	// FormatCS8 is signed 8 bit interleaved I/Q as written by HackRF captures.
	FormatCS8 Format = "cs8"
)

func (f Format) bytesPerSample() int {
	if f == FormatCS8 {
		return 2
	}
	return 8
}

// FileDevice plays a capture back at a fixed pace. Streaming ends on its own
// when the file is exhausted.
type FileDevice struct {
	readFile    io.ReadCloser
	name        string
	format      Format
	readSize    int
	timeBetween time.Duration
	sampleRate  int
	centerFreq  int

	cb        device.Callback
	xfer      device.Transfer
	streaming atomic.Bool
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewFileDevice opens file for playback. readSize is the number of samples
// per transfer and timeBetween the delay between transfers.
func NewFileDevice(file string, format Format, readSize int, sampleRate int, timeBetween time.Duration) (*FileDevice, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	return NewReaderDevice(f, file, format, readSize, sampleRate, timeBetween)
}

// NewReaderDevice plays back samples from any reader.
func NewReaderDevice(r io.ReadCloser, name string, format Format, readSize int, sampleRate int, timeBetween time.Duration) (*FileDevice, error) {
	switch format {
	case FormatFloat32, FormatCS8:
	default:
		return nil, fmt.Errorf("unknown sample format %q", format)
	}
	if readSize <= 0 {
		return nil, errors.New("read size must be positive")
	}

	return &FileDevice{
		readFile:    r,
		name:        name,
		format:      format,
		readSize:    readSize,
		timeBetween: timeBetween,
		sampleRate:  sampleRate,
	}, nil
}

func (f *FileDevice) Info() device.Info {
	return device.Info{Driver: "file", Label: f.name, Args: "file=" + f.name}
}

func (f *FileDevice) SampleRates() []uint32 {
	return []uint32{uint32(f.sampleRate)}
}

func (f *FileDevice) SetSampleRate(rate uint32) error {
	if int(rate) != f.sampleRate {
		return fmt.Errorf("capture was recorded at %d, not %d: %w", f.sampleRate, rate, device.ErrUnsupported)
	}
	return nil
}

func (f *FileDevice) SetFrequency(freqHz uint64) error {
	f.centerFreq = int(freqHz)
	return nil
}

func (f *FileDevice) StartStreaming(cb device.Callback) error {
	if f.streaming.Load() {
		return device.ErrStreaming
	}
	f.cb = cb
	f.stop = make(chan struct{})
	f.streaming.Store(true)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.streaming.Store(false)
		if err := f.run(f.stop); err != nil && !errors.Is(err, io.EOF) {
			log.Error().Str("device", "file").Err(err).Msg("playback ended")
		}
	}()
	return nil
}

func (f *FileDevice) run(stop chan struct{}) error {
	tick := time.NewTicker(f.timeBetween)
	defer tick.Stop()

	buf := make([]byte, f.readSize*f.format.bytesPerSample())
	for {
		select {
		case <-stop:
			return nil
		case <-tick.C:
			n, err := io.ReadFull(f.readFile, buf)
			if n > 0 {
				if cbErr := f.deliver(buf[:n-n%f.format.bytesPerSample()]); cbErr != nil {
					return cbErr
				}
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return io.EOF
			}
			if err != nil {
				return err
			}
		}
	}
}

func (f *FileDevice) deliver(buf []byte) error {
	switch f.format {
	case FormatCS8:
		seg := types.SegmentCS8Raw{
			SampleRate: f.sampleRate,
			Data:       buf,
			Frequency:  f.centerFreq,
		}
		f.xfer.IQ = nil
		f.xfer.Samples = seg.ToComplex64().Data
	default:
		if cap(f.xfer.IQ) < len(buf)/4 {
			f.xfer.IQ = make([]float32, len(buf)/4)
		}
		f.xfer.IQ = f.xfer.IQ[:len(buf)/4]
		for i := range f.xfer.IQ {
			f.xfer.IQ[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
		}
		f.xfer.Samples = nil
	}
	return f.cb(&f.xfer)
}

func (f *FileDevice) StopStreaming() error {
	if f.stop == nil {
		return nil
	}
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
	f.wg.Wait()
	return nil
}

func (f *FileDevice) IsStreaming() bool {
	return f.streaming.Load()
}

func (f *FileDevice) Close() error {
	return f.readFile.Close()
}

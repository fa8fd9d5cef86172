package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/airspy-source/pkg/device"
	"github.com/norasector/airspy-source/pkg/fifo"
	"github.com/norasector/airspy-source/pkg/util"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrEndOfStream is returned by Work when the device is not streaming.
	// It is a normal termination, not a failure.
	ErrEndOfStream = errors.New("end of stream")
	ErrClosed      = errors.New("source is closed")
)

const streamCheckInterval = 100 * time.Millisecond

// State is the streaming state of a Source.
type State int

const (
	Stopped State = iota
	Streaming
)

func (s State) String() string {
	if s == Streaming {
		return "streaming"
	}
	return "stopped"
}

// Source relays sample blocks delivered on a driver's streaming thread to a
// consumer pulling fixed-size blocks with Work. It owns both the driver and
// the sample FIFO for its whole lifetime.
type Source struct {
	drv    device.Driver
	opts   Options
	fifo   *fifo.SampleFIFO
	logger zerolog.Logger
	// overrunLog is rate limited; it is written from the streaming thread.
	overrunLog zerolog.Logger
	writeAPI   api.WriteAPI

	fifoCapacity  int
	running       atomic.Bool
	driverDropped atomic.Uint64

	// mu serialises control calls: lifecycle and parameter setters.
	mu          sync.Mutex
	closed      bool
	sessionID   string
	args        Args
	sampleRates []uint32
	sampleRate  float64
	centerFreq  float64
	freqCorr    float64
	gainPolicy  GainPolicy
	autoGain    bool
	gain        float64
	lnaGain     float64
	mixGain     float64
	vgaGain     float64
}

type SourceOption func(s *Source) error

func WithLogger(logger zerolog.Logger) SourceOption {
	return func(s *Source) error {
		s.logger = logger
		return nil
	}
}

func WithWriteAPI(writeAPI api.WriteAPI) SourceOption {
	return func(s *Source) error {
		s.writeAPI = writeAPI
		return nil
	}
}

func WithFIFOCapacity(capacity int) SourceOption {
	return func(s *Source) error {
		if capacity <= 0 {
			return fmt.Errorf("fifo capacity must be positive, got %d", capacity)
		}
		s.fifoCapacity = capacity
		return nil
	}
}

// New configures drv according to options and allocates the sample FIFO.
// Any rejected parameter is returned as an error and the driver is left
// open; the caller owns closing it in that case.
func New(drv device.Driver, options Options, opts ...SourceOption) (*Source, error) {
	if drv == nil {
		return nil, device.ErrNoDevice
	}

	s := &Source{
		drv:          drv,
		opts:         options,
		logger:       log.Logger,
		writeAPI:     &util.MockWriteAPI{},
		fifoCapacity: fifo.DefaultCapacity,
		args:         ParseArgs(options.Args),
		gainPolicy:   Linearity,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With().Str("device", drv.Info().Driver).Logger()
	s.overrunLog = s.logger.Sample(&zerolog.BurstSampler{Burst: 1, Period: time.Second})

	s.sampleRates = drv.SampleRates()
	sort.Slice(s.sampleRates, func(i, j int) bool { return s.sampleRates[i] < s.sampleRates[j] })
	if len(s.sampleRates) == 0 {
		return nil, fmt.Errorf("device %s reports no sample rates", drv.Info().Label)
	}

	if err := s.configure(); err != nil {
		return nil, err
	}

	s.fifo = fifo.New(s.fifoCapacity)

	rates := make([]float64, len(s.sampleRates))
	for i, r := range s.sampleRates {
		rates[i] = float64(r) / 1e6
	}
	s.logger.Info().
		Str("version", drv.Info().Version).
		Floats64("sample_rates_mhz", rates).
		Msg("device opened")

	return s, nil
}

func (s *Source) configure() error {
	if s.args.Has("linearity") {
		s.gainPolicy = Linearity
	}
	if s.args.Has("sensitivity") {
		s.gainPolicy = Sensitivity
	}
	if s.opts.GainPolicy != "" {
		policy, err := ParseGainPolicy(s.opts.GainPolicy)
		if err != nil {
			return err
		}
		s.gainPolicy = policy
	}

	s.freqCorr = s.opts.FreqCorrPPM

	centerFreq := s.opts.CenterFreq
	if centerFreq == 0 {
		centerFreq = (FrequencyRange.Start + FrequencyRange.Stop) / 2
	}
	if _, err := s.SetCenterFreq(centerFreq); err != nil {
		return err
	}

	sampleRate := s.opts.SampleRate
	if sampleRate == 0 {
		sampleRate = float64(s.sampleRates[0])
	}
	if _, err := s.SetSampleRate(sampleRate); err != nil {
		return err
	}

	if _, ok := s.drv.(device.GainController); ok {
		for _, name := range GainNames() {
			value, ok := s.opts.Gains[name]
			if !ok {
				value = defaultGains[name]
			}
			if _, err := s.SetNamedGain(name, value); err != nil {
				return err
			}
		}
		if s.opts.AutoGain {
			if _, err := s.SetGainMode(true); err != nil {
				return err
			}
		}
	}

	if s.args.Has("bias") {
		bias, err := s.args.Bool("bias")
		if err != nil {
			return err
		}
		bc, ok := s.drv.(device.BiasController)
		if !ok {
			return fmt.Errorf("failed to enable DC bias: %w", device.ErrUnsupported)
		}
		if err := bc.SetRFBias(bias); err != nil {
			return fmt.Errorf("failed to enable DC bias: %w", err)
		}
	}

	if s.args.Has("pack") {
		pack, err := s.args.Bool("pack")
		if err != nil {
			return err
		}
		pc, ok := s.drv.(device.PackingController)
		if !ok {
			return fmt.Errorf("failed to set USB bit packing: %w", device.ErrUnsupported)
		}
		if err := pc.SetPacking(pack); err != nil {
			return fmt.Errorf("failed to set USB bit packing: %w", err)
		}
	}

	return nil
}

// handleTransfer runs on the driver's streaming thread. It never blocks on
// the consumer and never reports an overrun back to the driver, since a
// non-nil return would stop the stream.
func (s *Source) handleTransfer(xfer *device.Transfer) error {
	delivered := xfer.SampleCount()

	var accepted int
	if xfer.IQ != nil {
		accepted = s.fifo.PushInterleaved(xfer.IQ)
	} else {
		accepted = s.fifo.Push(xfer.Samples)
	}

	if xfer.DroppedSamples > 0 {
		s.driverDropped.Add(xfer.DroppedSamples)
	}
	if accepted < delivered {
		s.overrunLog.Warn().
			Int("delivered", delivered).
			Int("dropped", delivered-accepted).
			Msg("O")
	}
	return nil
}

// Start begins streaming. Samples buffered by an earlier session are
// discarded.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.running.Load() && s.drv.IsStreaming() {
		return nil
	}

	s.fifo.Reset()
	s.sessionID = uuid.NewString()
	if err := s.drv.StartStreaming(s.handleTransfer); err != nil {
		s.fifo.Stop()
		s.logger.Error().Err(err).Msg("failed to start RX streaming")
		return fmt.Errorf("failed to start RX streaming: %w", err)
	}
	s.running.Store(true)

	s.logger.Info().
		Str("session", s.sessionID).
		Str("center_freq", util.MHzToString(s.centerFreq)).
		Str("sample_rate", util.MHzToString(s.sampleRate)).
		Msg("streaming started")
	return nil
}

// Stop wakes any consumer blocked in Work before asking the driver to stop,
// so no waiter is stranded. Calling Stop on a stopped source is a no-op.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Source) stopLocked() error {
	wasRunning := s.running.Swap(false)
	s.fifo.Stop()

	if s.closed || !s.drv.IsStreaming() {
		return nil
	}
	if err := s.drv.StopStreaming(); err != nil {
		s.logger.Error().Err(err).Msg("failed to stop RX streaming")
		return fmt.Errorf("failed to stop RX streaming: %w", err)
	}
	if wasRunning {
		s.logger.Info().Str("session", s.sessionID).Msg("streaming stopped")
	}
	return nil
}

// Close stops streaming and releases the driver. Teardown failures are
// logged; the first one is returned.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	stopErr := s.stopLocked()
	s.closed = true
	closeErr := s.drv.Close()
	if closeErr != nil {
		s.logger.Error().Err(closeErr).Msg("failed to close device")
	}

	if stopErr != nil {
		return stopErr
	}
	return closeErr
}

// Work fills out with exactly len(out) samples in arrival order, blocking
// until they are available. It returns ErrEndOfStream without blocking when
// the source is stopped or the driver stopped streaming on its own, and when
// Stop is called while waiting. ctx bounds the wait.
func (s *Source) Work(ctx context.Context, out []complex64) (int, error) {
	for {
		if !s.running.Load() || !s.drv.IsStreaming() {
			return 0, ErrEndOfStream
		}

		// Drivers do not signal when they stop on their own, so the wait is
		// sliced to re-check the streaming state.
		waitCtx, cancel := context.WithTimeout(ctx, streamCheckInterval)
		n, err := s.fifo.ReadFull(waitCtx, out)
		cancel()

		switch {
		case errors.Is(err, fifo.ErrStopped):
			return 0, ErrEndOfStream
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			continue
		}
		return n, err
	}
}

func (s *Source) State() State {
	if s.running.Load() && s.drv.IsStreaming() {
		return Streaming
	}
	return Stopped
}

// Stats returns FIFO counters; DriverDropped counts samples the driver
// itself reported as lost before they reached the callback.
func (s *Source) Stats() Stats {
	return Stats{
		Stats:         s.fifo.Stats(),
		DriverDropped: s.driverDropped.Load(),
		State:         s.State().String(),
		Session:       s.session(),
	}
}

func (s *Source) session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Source) Info() device.Info {
	return s.drv.Info()
}

type Stats struct {
	fifo.Stats
	DriverDropped uint64 `json:"driver_dropped"`
	State         string `json:"state"`
	Session       string `json:"session,omitempty"`
}

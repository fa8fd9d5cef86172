package source

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/api/write"
	"github.com/norasector/airspy-source/pkg/device"
	"github.com/norasector/airspy-source/pkg/device/sim"
	"github.com/rs/zerolog"
)

// fakeDriver hands the callback to the test instead of running a thread.
type fakeDriver struct {
	mu        sync.Mutex
	cb        device.Callback
	streaming bool
	startErr  error
	stopErr   error
	stops     int
	closed    bool
	freqs     []uint64
	rates     []uint32
	gains     map[string]uint8
	agc       map[string]bool
	bias      *bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		rates: []uint32{10000000, 2500000},
		gains: make(map[string]uint8),
		agc:   make(map[string]bool),
	}
}

func (f *fakeDriver) StartStreaming(cb device.Callback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.cb = cb
	f.streaming = true
	return nil
}

func (f *fakeDriver) StopStreaming() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if f.stopErr != nil {
		return f.stopErr
	}
	f.streaming = false
	return nil
}

func (f *fakeDriver) IsStreaming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streaming
}

func (f *fakeDriver) setStreaming(v bool) {
	f.mu.Lock()
	f.streaming = v
	f.mu.Unlock()
}

func (f *fakeDriver) Close() error {
	f.closed = true
	return nil
}

func (f *fakeDriver) SampleRates() []uint32 { return f.rates }

func (f *fakeDriver) SetSampleRate(rate uint32) error { return nil }

func (f *fakeDriver) SetFrequency(freqHz uint64) error {
	f.freqs = append(f.freqs, freqHz)
	return nil
}

func (f *fakeDriver) Info() device.Info { return device.Info{Driver: "fake"} }

func (f *fakeDriver) SetLNAGain(g uint8) error         { f.gains["lna"] = g; return nil }
func (f *fakeDriver) SetMixerGain(g uint8) error       { f.gains["mixer"] = g; return nil }
func (f *fakeDriver) SetVGAGain(g uint8) error         { f.gains["vga"] = g; return nil }
func (f *fakeDriver) SetLinearityGain(g uint8) error   { f.gains["linearity"] = g; return nil }
func (f *fakeDriver) SetSensitivityGain(g uint8) error { f.gains["sensitivity"] = g; return nil }
func (f *fakeDriver) SetLNAAGC(on bool) error          { f.agc["lna"] = on; return nil }
func (f *fakeDriver) SetMixerAGC(on bool) error        { f.agc["mixer"] = on; return nil }
func (f *fakeDriver) SetRFBias(on bool) error          { f.bias = &on; return nil }

func (f *fakeDriver) deliver(t *testing.T, s ...complex64) {
	t.Helper()
	iq := make([]float32, 0, 2*len(s))
	for _, c := range s {
		iq = append(iq, real(c), imag(c))
	}
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if err := cb(&device.Transfer{IQ: iq}); err != nil {
		t.Fatalf("callback returned %v", err)
	}
}

func newTestSource(t *testing.T, drv device.Driver, capacity int) *Source {
	t.Helper()
	s, err := New(drv, Options{}, WithLogger(zerolog.Nop()), WithFIFOCapacity(capacity))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestOverrunScenario(t *testing.T) {
	drv := newFakeDriver()
	s := newTestSource(t, drv, 4)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	a, b, c, d, e := complex64(1+1i), complex64(2+2i), complex64(3+3i), complex64(4+4i), complex64(5+5i)
	drv.deliver(t, a, b, c, d, e)

	st := s.Stats()
	if st.Size != 4 || st.Overruns != 1 || st.Dropped != 1 {
		t.Errorf("Stats() = %+v, want size 4 with one overrun", st)
	}

	out := make([]complex64, 4)
	n, err := s.Work(context.Background(), out)
	if err != nil || n != 4 {
		t.Fatalf("Work() = %d, %v", n, err)
	}
	if want := []complex64{a, b, c, d}; !reflect.DeepEqual(out, want) {
		t.Errorf("Work() = %v, want %v", out, want)
	}
}

func TestWorkBlocksAcrossPushes(t *testing.T) {
	drv := newFakeDriver()
	s := newTestSource(t, drv, 16)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	type result struct {
		out []complex64
		n   int
		err error
	}
	done := make(chan result)
	go func() {
		out := make([]complex64, 3)
		n, err := s.Work(context.Background(), out)
		done <- result{out, n, err}
	}()

	x, y, z := complex64(1), complex64(2), complex64(3)
	time.Sleep(10 * time.Millisecond)
	drv.deliver(t, x, y)
	select {
	case <-done:
		t.Fatal("Work returned before enough samples were pushed")
	case <-time.After(50 * time.Millisecond):
	}

	drv.deliver(t, z)
	select {
	case r := <-done:
		if r.err != nil || r.n != 3 {
			t.Fatalf("Work() = %d, %v", r.n, r.err)
		}
		if want := []complex64{x, y, z}; !reflect.DeepEqual(r.out, want) {
			t.Errorf("Work() = %v, want %v", r.out, want)
		}
	case <-time.After(time.Second):
		t.Fatal("Work did not return after the second push")
	}
}

func TestWorkEndOfStreamWhenStopped(t *testing.T) {
	drv := newFakeDriver()
	s := newTestSource(t, drv, 16)

	start := time.Now()
	if _, err := s.Work(context.Background(), make([]complex64, 8)); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("Work() before Start = %v, want ErrEndOfStream", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Work blocked while stopped")
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	// The hardware stopped on its own.
	drv.setStreaming(false)
	if _, err := s.Work(context.Background(), make([]complex64, 8)); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("Work() after device stopped = %v, want ErrEndOfStream", err)
	}
	if s.State() != Stopped {
		t.Errorf("State() = %v, want stopped", s.State())
	}
}

func TestStopWakesBlockedWork(t *testing.T) {
	drv := newFakeDriver()
	s := newTestSource(t, drv, 16)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	errc := make(chan error)
	go func() {
		_, err := s.Work(context.Background(), make([]complex64, 8))
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, ErrEndOfStream) {
			t.Errorf("Work() = %v, want ErrEndOfStream", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Stop left Work blocked")
	}
}

func TestWorkTimeout(t *testing.T) {
	drv := newFakeDriver()
	s := newTestSource(t, drv, 16)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Work(ctx, make([]complex64, 8)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Work() = %v, want deadline exceeded", err)
	}
}

func TestStopIdempotent(t *testing.T) {
	drv := newFakeDriver()
	s := newTestSource(t, drv, 16)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("first Stop() = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() = %v", err)
	}
	if drv.stops != 1 {
		t.Errorf("driver stopped %d times, want 1", drv.stops)
	}
}

func TestStartFailure(t *testing.T) {
	drv := newFakeDriver()
	drv.startErr = errors.New("usb gone")
	s := newTestSource(t, drv, 16)

	if err := s.Start(); err == nil || !errors.Is(err, drv.startErr) {
		t.Fatalf("Start() = %v, want wrapped driver error", err)
	}
	if s.State() != Stopped {
		t.Errorf("State() = %v after failed start", s.State())
	}
	if _, err := s.Work(context.Background(), make([]complex64, 1)); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("Work() = %v, want ErrEndOfStream", err)
	}
}

func TestCloseThenStart(t *testing.T) {
	drv := newFakeDriver()
	s := newTestSource(t, drv, 16)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !drv.closed || drv.IsStreaming() {
		t.Errorf("driver closed=%v streaming=%v after Close", drv.closed, drv.IsStreaming())
	}
	if err := s.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Close = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestCloseReportsStopError(t *testing.T) {
	drv := newFakeDriver()
	drv.stopErr = errors.New("stall")
	s := newTestSource(t, drv, 16)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); !errors.Is(err, drv.stopErr) {
		t.Errorf("Close() = %v, want stop error", err)
	}
	if !drv.closed {
		t.Error("driver not closed after failed stop")
	}
}

func TestRestartDiscardsStaleSamples(t *testing.T) {
	drv := newFakeDriver()
	s := newTestSource(t, drv, 16)
	s.Start()
	drv.deliver(t, 1, 2, 3)
	s.Stop()

	s.Start()
	drv.deliver(t, 9)
	out := make([]complex64, 1)
	if _, err := s.Work(context.Background(), out); err != nil {
		t.Fatal(err)
	}
	if out[0] != 9 {
		t.Errorf("Work() = %v, want fresh sample 9", out[0])
	}
}

func TestSimulatedStream(t *testing.T) {
	drv := sim.New(sim.Config{BlockSize: 1000, Interval: time.Millisecond, ToneOffset: 1000})
	s := newTestSource(t, drv, 100000)
	defer s.Close()

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	out := make([]complex64, 2500)
	for i := 0; i < 4; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		n, err := s.Work(ctx, out)
		cancel()
		if err != nil || n != len(out) {
			t.Fatalf("Work() = %d, %v", n, err)
		}
	}
	if st := s.Stats(); st.Popped != 10000 {
		t.Errorf("Popped = %d, want 10000", st.Popped)
	}
}

func TestSimulatedStreamEnds(t *testing.T) {
	drv := sim.New(sim.Config{BlockSize: 100, Interval: time.Millisecond, StopAfter: 2})
	s := newTestSource(t, drv, 1000)
	defer s.Close()
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	out := make([]complex64, 100)
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		_, err = s.Work(context.Background(), out)
	}
	if !errors.Is(err, ErrEndOfStream) {
		t.Errorf("Work() = %v, want ErrEndOfStream once the device stops", err)
	}
}

type recordingWriteAPI struct {
	mu     sync.Mutex
	points []*write.Point
}

func (r *recordingWriteAPI) WriteRecord(line string) {}
func (r *recordingWriteAPI) WritePoint(p *write.Point) {
	r.mu.Lock()
	r.points = append(r.points, p)
	r.mu.Unlock()
}
func (r *recordingWriteAPI) Flush()               {}
func (r *recordingWriteAPI) Close()               {}
func (r *recordingWriteAPI) Errors() <-chan error { return nil }

func (r *recordingWriteAPI) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.points)
}

func TestReportMetrics(t *testing.T) {
	drv := newFakeDriver()
	rec := &recordingWriteAPI{}
	s, err := New(drv, Options{}, WithLogger(zerolog.Nop()), WithFIFOCapacity(4), WithWriteAPI(rec))
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	drv.deliver(t, 1, 2, 3, 4, 5, 6)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.ReportMetrics(ctx, 5*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ReportMetrics() = %v", err)
	}
	if rec.count() == 0 {
		t.Error("no metric points written")
	}
}

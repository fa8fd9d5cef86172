package fifo

import (
	"context"
	"errors"
	"sync"
)

// DefaultCapacity matches the sample buffer the AirSpy source has always used.
const DefaultCapacity = 5000000

var (
	ErrStopped   = errors.New("fifo: stopped")
	ErrShortRead = errors.New("fifo: not enough samples buffered")
	ErrTooLarge  = errors.New("fifo: request exceeds capacity")
)

// Stats is a point-in-time snapshot of FIFO occupancy and counters.
type Stats struct {
	Capacity int    `json:"capacity"`
	Size     int    `json:"size"`
	Accepted uint64 `json:"accepted"`
	Dropped  uint64 `json:"dropped"`
	Overruns uint64 `json:"overruns"`
	Popped   uint64 `json:"popped"`
}

// SampleFIFO is a bounded ring of complex samples shared by exactly one
// producer (the driver's streaming thread) and one consumer.
//
// Every field is guarded by mu. The producer never blocks: samples that do not
// fit are dropped. The consumer waits on avail, which is signalled whenever
// samples are added or the FIFO is stopped.
type SampleFIFO struct {
	mu    sync.Mutex
	avail *sync.Cond

	buf     []complex64
	head    int
	size    int
	stopped bool

	accepted uint64
	dropped  uint64
	overruns uint64
	popped   uint64
}

func New(capacity int) *SampleFIFO {
	if capacity <= 0 {
		panic("fifo: capacity must be positive")
	}
	f := &SampleFIFO{
		buf: make([]complex64, capacity),
	}
	f.avail = sync.NewCond(&f.mu)
	return f
}

func (f *SampleFIFO) Capacity() int {
	return len(f.buf)
}

func (f *SampleFIFO) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

func (f *SampleFIFO) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Capacity: len(f.buf),
		Size:     f.size,
		Accepted: f.accepted,
		Dropped:  f.dropped,
		Overruns: f.overruns,
		Popped:   f.popped,
	}
}

// PushInterleaved appends interleaved I/Q floats (I0, Q0, I1, Q1, ...) as
// complex samples and returns how many samples were accepted. A trailing
// unpaired float is ignored.
func (f *SampleFIFO) PushInterleaved(iq []float32) int {
	delivered := len(iq) / 2

	f.mu.Lock()
	n := f.free()
	if delivered < n {
		n = delivered
	}
	tail := (f.head + f.size) % len(f.buf)
	for i := 0; i < n; i++ {
		f.buf[tail] = complex(iq[2*i], iq[2*i+1])
		tail++
		if tail == len(f.buf) {
			tail = 0
		}
	}
	f.commit(n, delivered)
	f.mu.Unlock()

	if n > 0 {
		f.avail.Signal()
	}
	return n
}

// Push appends complex samples and returns how many were accepted.
func (f *SampleFIFO) Push(samples []complex64) int {
	delivered := len(samples)

	f.mu.Lock()
	n := f.free()
	if delivered < n {
		n = delivered
	}
	tail := (f.head + f.size) % len(f.buf)
	first := copy(f.buf[tail:], samples[:n])
	copy(f.buf, samples[first:n])
	f.commit(n, delivered)
	f.mu.Unlock()

	if n > 0 {
		f.avail.Signal()
	}
	return n
}

// PopExact removes exactly len(dst) samples, oldest first. It does not wait:
// callers that need to block use ReadFull.
func (f *SampleFIFO) PopExact(dst []complex64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(dst) > f.size {
		return ErrShortRead
	}
	f.pop(dst)
	return nil
}

// ReadFull blocks until len(dst) samples are buffered, then pops them into
// dst. It returns early with ErrStopped once Stop is called, or with
// ctx.Err() when ctx is done.
func (f *SampleFIFO) ReadFull(ctx context.Context, dst []complex64) (int, error) {
	if len(dst) > len(f.buf) {
		return 0, ErrTooLarge
	}

	stopWake := context.AfterFunc(ctx, func() {
		f.mu.Lock()
		f.avail.Broadcast()
		f.mu.Unlock()
	})
	defer stopWake()

	f.mu.Lock()
	defer f.mu.Unlock()

	for f.size < len(dst) {
		if f.stopped {
			return 0, ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		f.avail.Wait()
	}

	f.pop(dst)
	return len(dst), nil
}

// Stop wakes every waiting reader. Buffered samples are kept.
func (f *SampleFIFO) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	f.avail.Broadcast()
}

func (f *SampleFIFO) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// Reset drops buffered samples and clears the stop flag. Counters are kept.
func (f *SampleFIFO) Reset() {
	f.mu.Lock()
	f.head = 0
	f.size = 0
	f.stopped = false
	f.mu.Unlock()
}

func (f *SampleFIFO) free() int {
	return len(f.buf) - f.size
}

// commit must be called with mu held.
func (f *SampleFIFO) commit(accepted, delivered int) {
	f.size += accepted
	f.accepted += uint64(accepted)
	if accepted < delivered {
		f.dropped += uint64(delivered - accepted)
		f.overruns++
	}
}

// pop must be called with mu held and len(dst) <= size.
func (f *SampleFIFO) pop(dst []complex64) {
	n := copy(dst, f.buf[f.head:min(f.head+len(dst), len(f.buf))])
	copy(dst[n:], f.buf[:len(dst)-n])
	f.head = (f.head + len(dst)) % len(f.buf)
	f.size -= len(dst)
	f.popped += uint64(len(dst))
}

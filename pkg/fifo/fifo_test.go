package fifo

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

func samples(vals ...float32) []complex64 {
	ret := make([]complex64, len(vals))
	for i, v := range vals {
		ret[i] = complex(v, -v)
	}
	return ret
}

func interleave(s []complex64) []float32 {
	ret := make([]float32, 0, 2*len(s))
	for _, c := range s {
		ret = append(ret, real(c), imag(c))
	}
	return ret
}

func TestOverrunDropsNewest(t *testing.T) {
	f := New(4)
	in := samples(1, 2, 3, 4, 5)

	if got := f.Push(in); got != 4 {
		t.Fatalf("Push() accepted %d, want 4", got)
	}
	st := f.Stats()
	if st.Overruns != 1 || st.Dropped != 1 || st.Accepted != 4 {
		t.Errorf("Stats() = %+v, want 1 overrun, 1 dropped, 4 accepted", st)
	}

	out := make([]complex64, 4)
	if err := f.PopExact(out); err != nil {
		t.Fatalf("PopExact() error = %v", err)
	}
	if !reflect.DeepEqual(out, in[:4]) {
		t.Errorf("PopExact() = %v, want %v", out, in[:4])
	}
}

func TestPushInterleaved(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		iq       []float32
		want     []complex64
		accepted int
	}{
		{"pairs", 8, []float32{1, 2, 3, 4}, []complex64{complex(1, 2), complex(3, 4)}, 2},
		{"odd trailing float", 8, []float32{1, 2, 3}, []complex64{complex(1, 2)}, 1},
		{"overrun", 1, []float32{1, 2, 3, 4}, []complex64{complex(1, 2)}, 1},
		{"empty", 1, nil, []complex64{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.capacity)
			if got := f.PushInterleaved(tt.iq); got != tt.accepted {
				t.Errorf("PushInterleaved() = %d, want %d", got, tt.accepted)
			}
			out := make([]complex64, f.Size())
			if err := f.PopExact(out); err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(out, tt.want) {
				t.Errorf("contents = %v, want %v", out, tt.want)
			}
		})
	}
}

func TestOrderAcrossWrap(t *testing.T) {
	f := New(5)
	var pushed, pulled []complex64
	next := float32(0)

	for round := 0; round < 20; round++ {
		block := make([]complex64, 1+round%4)
		for i := range block {
			next++
			block[i] = complex(next, 0)
		}
		n := f.Push(block)
		pushed = append(pushed, block[:n]...)

		if f.Size() > f.Capacity() {
			t.Fatalf("size %d exceeds capacity %d", f.Size(), f.Capacity())
		}

		out := make([]complex64, f.Size()/2+1)
		if len(out) > f.Size() {
			continue
		}
		if err := f.PopExact(out); err != nil {
			t.Fatal(err)
		}
		pulled = append(pulled, out...)
	}

	if !reflect.DeepEqual(pulled, pushed[:len(pulled)]) {
		t.Errorf("pulled %v is not a prefix of pushed %v", pulled, pushed)
	}
}

func TestPopExactShort(t *testing.T) {
	f := New(4)
	f.Push(samples(1))
	if err := f.PopExact(make([]complex64, 2)); !errors.Is(err, ErrShortRead) {
		t.Errorf("PopExact() error = %v, want ErrShortRead", err)
	}
	if f.Size() != 1 {
		t.Errorf("Size() = %d after short read, want 1", f.Size())
	}
}

func TestReadFullWaitsForSecondPush(t *testing.T) {
	f := New(16)
	done := make(chan []complex64)

	go func() {
		out := make([]complex64, 3)
		if _, err := f.ReadFull(context.Background(), out); err != nil {
			t.Error(err)
		}
		done <- out
	}()

	f.Push(samples(1, 2))
	select {
	case <-done:
		t.Fatal("ReadFull returned after the first push")
	case <-time.After(50 * time.Millisecond):
	}

	f.Push(samples(3))
	select {
	case got := <-done:
		if want := samples(1, 2, 3); !reflect.DeepEqual(got, want) {
			t.Errorf("ReadFull() = %v, want %v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("ReadFull did not return after the second push")
	}
}

func TestStopWakesReader(t *testing.T) {
	f := New(16)
	errc := make(chan error)
	go func() {
		_, err := f.ReadFull(context.Background(), make([]complex64, 8))
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	f.Stop()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("ReadFull() error = %v, want ErrStopped", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Stop did not wake the reader")
	}
}

func TestReadFullDeadline(t *testing.T) {
	f := New(16)
	f.Push(samples(1))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := f.ReadFull(ctx, make([]complex64, 2))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ReadFull() error = %v, want deadline exceeded", err)
	}
	if f.Size() != 1 {
		t.Errorf("Size() = %d, want buffered sample kept", f.Size())
	}
}

func TestReadFullTooLarge(t *testing.T) {
	f := New(2)
	if _, err := f.ReadFull(context.Background(), make([]complex64, 3)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("ReadFull() error = %v, want ErrTooLarge", err)
	}
}

func TestResetClearsStop(t *testing.T) {
	f := New(4)
	f.Push(samples(1, 2))
	f.Stop()
	f.Reset()

	if f.Stopped() || f.Size() != 0 {
		t.Fatalf("after Reset: stopped=%v size=%d", f.Stopped(), f.Size())
	}
	f.Push(samples(7))
	out := make([]complex64, 1)
	if _, err := f.ReadFull(context.Background(), out); err != nil {
		t.Fatal(err)
	}
	if out[0] != complex(7, -7) {
		t.Errorf("got %v, want (7-7i)", out[0])
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	const total = 100000
	f := New(1024)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		next := 0
		for next < total {
			end := next + 97
			if end > total {
				end = total
			}
			block := make([]complex64, 0, end-next)
			for i := next; i < end; i++ {
				block = append(block, complex(float32(i), 0))
			}
			iq := interleave(block)
			n := f.PushInterleaved(iq)
			next += n
			if n < len(block) {
				time.Sleep(time.Microsecond)
			}
		}
	}()

	got := 0
	out := make([]complex64, 64)
	for got+len(out) <= total {
		if _, err := f.ReadFull(context.Background(), out); err != nil {
			t.Fatal(err)
		}
		for i, s := range out {
			if real(s) != float32(got+i) {
				t.Fatalf("sample %d = %v, want %d", got+i, s, got+i)
			}
		}
		got += len(out)
	}
	wg.Wait()
}

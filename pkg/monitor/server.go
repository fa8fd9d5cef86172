package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/norasector/airspy-source/pkg/device"
	"github.com/norasector/airspy-source/pkg/output"
	"github.com/norasector/airspy-source/pkg/source"
	"github.com/norasector/airspy-source/pkg/util"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Source is the part of *source.Source the monitor reads.
type Source interface {
	Stats() source.Stats
	Info() device.Info
	SampleRate() float64
	CenterFreq() float64
}

type Stats struct {
	source.Stats
	Device     string  `json:"device"`
	CenterFreq float64 `json:"center_freq"`
	SampleRate float64 `json:"sample_rate"`
	Blocks     int     `json:"blocks"`
	PowerDBFS  float64 `json:"power_dbfs"`
}

// Server serves source statistics and a spectrum of the most recent block.
// It is also an output.SampleOutput fed by the pull loop.
type Server struct {
	src      Source
	port     int
	fftSize  int
	recvChan chan *output.Block

	mu     sync.RWMutex
	latest []complex64
	blocks int
	power  float64
}

func NewServer(src Source, port, fftSize int) *Server {
	return &Server{
		src:      src,
		port:     port,
		fftSize:  fftSize,
		recvChan: make(chan *output.Block, 1),
		power:    minPowerDB,
	}
}

func (s *Server) Receive() chan<- *output.Block {
	return s.recvChan
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler()}
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case b := <-s.recvChan:
				s.update(b.Samples)
			}
		}
	})

	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("monitor server starting")
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	return eg.Wait()
}

func (s *Server) update(samples []complex64) {
	tail := samples
	if len(tail) > s.fftSize {
		tail = tail[len(tail)-s.fftSize:]
	}
	power := PowerDBFS(samples)

	s.mu.Lock()
	s.latest = append(s.latest[:0], tail...)
	s.blocks++
	s.power = power
	s.mu.Unlock()
}

func (s *Server) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Stats:      s.src.Stats(),
		Device:     s.src.Info().Label,
		CenterFreq: s.src.CenterFreq(),
		SampleRate: s.src.SampleRate(),
		Blocks:     s.blocks,
		PowerDBFS:  s.power,
	}
}

func (s *Server) Handler() http.Handler {
	handler := httprouter.New()

	handler.GET("/stats", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.Stats()); err != nil {
			log.Warn().Err(err).Msg("error encoding stats")
		}
	})

	handler.GET("/spectrum.png", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s.mu.RLock()
		samples := append([]complex64(nil), s.latest...)
		s.mu.RUnlock()

		if len(samples) == 0 {
			http.Error(w, "no samples received yet", http.StatusServiceUnavailable)
			return
		}

		centerFreq := s.src.CenterFreq()
		spectrum := ComputeSpectrum(samples, s.fftSize, s.src.SampleRate(), centerFreq)
		img, err := spectrum.PNG(fmt.Sprintf("%s @ %s", s.src.Info().Label, util.MHzToString(centerFreq)))
		if err != nil {
			log.Error().Err(err).Msg("error rendering spectrum")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Write(img)
	})

	return handler
}

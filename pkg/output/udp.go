package output

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/airspy-source/pkg/source/config"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	frameHeaderLength = 6
	bytesPerSample    = 8
	// MaxFrameSamples keeps a frame inside one UDP datagram.
	MaxFrameSamples = (65507 - frameHeaderLength) / bytesPerSample
)

// UDPOutput sends each block to every destination. A block longer than
// MaxFrameSamples is split into several frames sharing its sequence number.
//
// Frame layout, little-endian: uint32 sequence | uint16 sample count |
// count interleaved float32 I/Q pairs.
type UDPOutput struct {
	dests    []config.OutputDestination
	recvChan chan *Block
	metrics  api.WriteAPI
}

func NewUDPOutput(dests []config.OutputDestination, metrics api.WriteAPI) *UDPOutput {
	return &UDPOutput{
		dests:    dests,
		recvChan: make(chan *Block, blockBufferLength),
		metrics:  metrics,
	}
}

func (u *UDPOutput) Receive() chan<- *Block {
	return u.recvChan
}

func (u *UDPOutput) Start(ctx context.Context) error {
	destAddrs := make([]*net.UDPAddr, 0, len(u.dests))
	for _, dest := range u.dests {
		ips, err := net.LookupIP(dest.Host)
		if err != nil {
			return err
		}
		if len(ips) == 0 {
			return fmt.Errorf("no IPs returned for %s", dest.Host)
		}

		destAddr := &net.UDPAddr{IP: ips[0], Port: dest.Port}
		destAddrs = append(destAddrs, destAddr)
		log.Info().IPAddr("dest_ip", destAddr.IP).Int("port", dest.Port).Msg("stream output starting")
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		return conn.Close()
	})

	eg.Go(func() error {
		var frame []byte
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case b := <-u.recvChan:
				var bytesWritten, frames, failed int
				for off := 0; off < len(b.Samples); off += MaxFrameSamples {
					end := min(off+MaxFrameSamples, len(b.Samples))
					frame = EncodeFrame(frame[:0], uint32(b.Sequence), b.Samples[off:end])
					frames++

					for _, destAddr := range destAddrs {
						n, err := conn.WriteToUDP(frame, destAddr)
						if err != nil {
							log.Error().Err(err).Msg("error writing")
							failed++
							continue
						}
						bytesWritten += n
					}
				}

				u.metrics.WritePoint(influxdb2.NewPoint("iq.sent_block",
					map[string]string{
						"destinations": strconv.Itoa(len(destAddrs)),
					},
					map[string]interface{}{
						"sequence":      b.Sequence,
						"samples":       len(b.Samples),
						"frames":        frames,
						"bytes_written": bytesWritten,
						"failed":        failed,
					}, time.Now()))
			}
		}
	})

	return eg.Wait()
}

// EncodeFrame appends one frame to dst. samples must not exceed
// MaxFrameSamples.
func EncodeFrame(dst []byte, seq uint32, samples []complex64) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, seq)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(samples)))
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(real(s)))
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(imag(s)))
	}
	return dst
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(frame []byte) (uint32, []complex64, error) {
	if len(frame) < frameHeaderLength {
		return 0, nil, fmt.Errorf("frame too short: %d bytes", len(frame))
	}
	seq := binary.LittleEndian.Uint32(frame)
	count := int(binary.LittleEndian.Uint16(frame[4:]))
	payload := frame[frameHeaderLength:]
	if len(payload) != count*bytesPerSample {
		return 0, nil, fmt.Errorf("frame declares %d samples, carries %d bytes", count, len(payload))
	}

	samples := make([]complex64, count)
	for i := range samples {
		re := math.Float32frombits(binary.LittleEndian.Uint32(payload[i*8:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(payload[i*8+4:]))
		samples[i] = complex(re, im)
	}
	return seq, samples, nil
}

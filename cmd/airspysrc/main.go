package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/airspy-source/pkg/device"
	"github.com/norasector/airspy-source/pkg/device/airspy"
	"github.com/norasector/airspy-source/pkg/device/file"
	hackrfDevice "github.com/norasector/airspy-source/pkg/device/hackrf"
	"github.com/norasector/airspy-source/pkg/device/rtlsdr"
	"github.com/norasector/airspy-source/pkg/device/sim"
	"github.com/norasector/airspy-source/pkg/monitor"
	"github.com/norasector/airspy-source/pkg/output"
	"github.com/norasector/airspy-source/pkg/source"
	"github.com/norasector/airspy-source/pkg/source/config"
	"github.com/norasector/airspy-source/pkg/util"
	"github.com/samuel/go-hackrf/hackrf"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)
	configFile := flag.String("config", "airspysrc.yaml", "YAML config file")
	list := flag.Bool("list", false, "list attached receivers and exit")
	flag.Parse()

	if *list {
		listDevices()
		return
	}

	opts, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("error reading config file")
	}
	if opts.LogLevel != "" {
		level, err := zerolog.ParseLevel(opts.LogLevel)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid log level")
		}
		log.Logger = log.Logger.Level(level)
	}

	if opts.Playback.Location != "" {
		opts.Device = "file"
	}

	drv, err := openDevice(opts)
	if err != nil {
		log.Fatal().Str("device", opts.Device).Err(err).Msg("failed to initialize device")
	}
	if opts.Device == "hackrf" {
		defer hackrf.Exit()
	}

	var writeAPI api.WriteAPI = &util.MockWriteAPI{}
	if opts.InfluxDB.Host != "" {
		client := influxdb2.NewClient(opts.InfluxDB.Host, "")
		defer client.Close()
		writeAPI = client.WriteAPI(opts.InfluxDB.Organization, opts.InfluxDB.Bucket)
	}

	sourceOpts := []source.SourceOption{
		source.WithLogger(log.Logger),
		source.WithWriteAPI(writeAPI),
	}
	if opts.FIFOCapacity > 0 {
		sourceOpts = append(sourceOpts, source.WithFIFOCapacity(opts.FIFOCapacity))
	}
	src, err := source.New(drv, source.Options{
		Args:        opts.Args,
		CenterFreq:  opts.CenterFreq,
		SampleRate:  opts.SampleRate,
		FreqCorrPPM: opts.FreqCorrPPM,
		GainPolicy:  opts.GainPolicy,
		Gains:       opts.Gains,
		AutoGain:    opts.AutoGain,
	}, sourceOpts...)
	if err != nil {
		drv.Close()
		log.Fatal().Err(err).Msg("failed to create source")
	}
	defer src.Close()

	if opts.Gain != nil {
		if _, err := src.SetGain(*opts.Gain); err != nil {
			log.Fatal().Err(err).Msg("failed to set gain")
		}
	}

	var outputs []output.SampleOutput
	if opts.Output.File != "" {
		f, err := os.Create(opts.Output.File)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create output file")
		}
		defer f.Close()
		outputs = append(outputs, output.NewFileOutput(f))
	}
	if len(opts.Output.Destinations) > 0 {
		outputs = append(outputs, output.NewUDPOutput(opts.Output.Destinations, writeAPI))
	}
	if opts.Monitor.Port != 0 {
		outputs = append(outputs, monitor.NewServer(src, opts.Monitor.Port, opts.Monitor.FFTSize))
	}

	eg, ctx := errgroup.WithContext(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	eg.Go(func() error {
		select {
		case <-sigChan:
		case <-ctx.Done():
		}
		return src.Stop()
	})

	for _, out := range outputs {
		out := out
		eg.Go(func() error {
			return out.Start(ctx)
		})
	}

	eg.Go(func() error {
		return src.ReportMetrics(ctx, opts.InfluxDB.ReportInterval)
	})

	eg.Go(func() error {
		if err := src.Start(); err != nil {
			return err
		}
		return pull(ctx, src, opts, outputs, writeAPI)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("exited program")
	}
}

// pull reads fixed-size blocks from src and hands each one to every output.
// An output that is not keeping up misses the block.
func pull(ctx context.Context, src *source.Source, opts config.Config, outputs []output.SampleOutput, writeAPI api.WriteAPI) error {
	for seq := 0; ; seq++ {
		block := &output.Block{Sequence: seq, Samples: make([]complex64, opts.BlockSize)}

		var err error
		waitCtx, cancel := ctx, context.CancelFunc(func() {})
		if opts.WorkTimeout > 0 {
			waitCtx, cancel = context.WithTimeout(ctx, opts.WorkTimeout)
		}
		elapsed := util.TimeOperationMicroseconds(func() {
			_, err = src.Work(waitCtx, block.Samples)
		})
		cancel()

		switch {
		case errors.Is(err, source.ErrEndOfStream):
			log.Info().Int("blocks", seq).Msg("end of stream")
			// End of stream is terminal; cancel the rest of the group.
			return context.Canceled
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			log.Warn().Dur("timeout", opts.WorkTimeout).Msg("no samples within work timeout")
			continue
		case err != nil:
			return err
		}
		block.Timestamp = time.Now()

		writeAPI.WritePoint(influxdb2.NewPoint("airspy.work",
			map[string]string{"device": src.Info().Driver},
			map[string]interface{}{
				"wait_us": elapsed,
				"samples": len(block.Samples),
			}, block.Timestamp))

		for _, out := range outputs {
			select {
			case out.Receive() <- block:
			default:
			}
		}
	}
}

func openDevice(opts config.Config) (device.Driver, error) {
	log.Info().Str("device", opts.Device).Msg("initializing device...")

	switch opts.Device {
	case "airspy":
		args := source.ParseArgs(opts.Args)
		serial, err := args.Uint("serial")
		if err != nil {
			return nil, err
		}
		return airspy.Open(serial)
	case "rtlsdr":
		return rtlsdr.NewRTLSDRDevice(opts.RTLSDRDeviceIndex)
	case "hackrf":
		if err := hackrf.Init(); err != nil {
			return nil, fmt.Errorf("failed to initialize hackRF: %w", err)
		}
		return hackrfDevice.NewHackRFDevice()
	case "file":
		return file.NewFileDevice(opts.Playback.Location, file.Format(opts.Playback.Format),
			opts.Playback.ReadSize, int(opts.SampleRate), opts.Playback.Interval)
	case "sim":
		return sim.New(sim.Config{
			ToneOffset: opts.Sim.ToneOffset,
			BlockSize:  opts.Sim.BlockSize,
		}), nil
	default:
		return nil, fmt.Errorf("unknown device %q", opts.Device)
	}
}

func listDevices() {
	var infos []device.Info
	found, err := airspy.Enumerate()
	if err != nil {
		log.Error().Err(err).Msg("failed to list AirSpy devices")
	}
	infos = append(infos, found...)
	infos = append(infos, rtlsdr.Enumerate()...)

	if len(infos) == 0 {
		fmt.Println("no receivers found")
		return
	}
	for _, info := range infos {
		fmt.Printf("%-8s %-24s %s\n", info.Driver, info.Label, info.Args)
	}
}

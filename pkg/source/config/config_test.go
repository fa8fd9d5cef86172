package config

import (
	"reflect"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	contents := []byte(`
device: sim
args: airspy=0,sensitivity,bias=1
center_freq: 851e6
sample_rate: 10e6
freq_corr_ppm: -1.5
gains:
  LNA: 10
  IF: 7
auto_gain: true
fifo_capacity: 1000000
block_size: 8192
work_timeout: 2s
output:
  file: /tmp/iq.f32
  destinations:
    - host: 127.0.0.1
      port: 9000
monitor:
  port: 8080
influxdb:
  host: http://localhost:8086
  bucket: sdr
`)
	c, err := Parse(contents)
	if err != nil {
		t.Fatal(err)
	}

	if c.Device != "sim" || c.Args != "airspy=0,sensitivity,bias=1" {
		t.Errorf("device = %q args = %q", c.Device, c.Args)
	}
	if c.CenterFreq != 851e6 || c.SampleRate != 10e6 || c.FreqCorrPPM != -1.5 {
		t.Errorf("tuning = %v %v %v", c.CenterFreq, c.SampleRate, c.FreqCorrPPM)
	}
	if !reflect.DeepEqual(c.Gains, map[string]float64{"LNA": 10, "IF": 7}) {
		t.Errorf("gains = %v", c.Gains)
	}
	if c.WorkTimeout != 2*time.Second || c.BlockSize != 8192 || c.FIFOCapacity != 1000000 {
		t.Errorf("work_timeout = %v block_size = %d fifo_capacity = %d", c.WorkTimeout, c.BlockSize, c.FIFOCapacity)
	}
	want := []OutputDestination{{Host: "127.0.0.1", Port: 9000}}
	if !reflect.DeepEqual(c.Output.Destinations, want) {
		t.Errorf("destinations = %+v", c.Output.Destinations)
	}
	// Unset keys keep their defaults.
	if c.Monitor.FFTSize != 1024 || c.InfluxDB.ReportInterval != 10*time.Second || c.Playback.Format != "f32" {
		t.Errorf("defaults lost: %+v %+v %+v", c.Monitor, c.InfluxDB, c.Playback)
	}
	if c.Gain != nil {
		t.Errorf("gain = %v, want unset", *c.Gain)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{"unknown key", "devcie: sim\n"},
		{"zero block", "block_size: 0\n"},
		{"negative capacity", "fifo_capacity: -1\n"},
		{"block exceeds capacity", "fifo_capacity: 100\nblock_size: 200\n"},
		{"zero report interval", "influxdb:\n  report_interval: 0s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.contents)); err == nil {
				t.Errorf("Parse(%q) succeeded", tt.contents)
			}
		})
	}
}

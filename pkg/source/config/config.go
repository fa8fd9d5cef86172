package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Device       string             `yaml:"device"`
	Args         string             `yaml:"args"`
	CenterFreq   float64            `yaml:"center_freq"`
	SampleRate   float64            `yaml:"sample_rate"`
	FreqCorrPPM  float64            `yaml:"freq_corr_ppm"`
	GainPolicy   string             `yaml:"gain_policy"`
	Gain         *float64           `yaml:"gain"`
	Gains        map[string]float64 `yaml:"gains"`
	AutoGain     bool               `yaml:"auto_gain"`
	FIFOCapacity int                `yaml:"fifo_capacity"`
	BlockSize    int                `yaml:"block_size"`
	WorkTimeout  time.Duration      `yaml:"work_timeout"`
	LogLevel     string             `yaml:"log_level"`

	RTLSDRDeviceIndex int `yaml:"rtlsdr_device_index"`
	Playback          struct {
		Location string        `yaml:"location"`
		Format   string        `yaml:"format"`
		ReadSize int           `yaml:"read_size"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"playback"`
	Sim struct {
		ToneOffset float64 `yaml:"tone_offset"`
		BlockSize  int     `yaml:"block_size"`
	} `yaml:"sim"`

	Output struct {
		File         string              `yaml:"file"`
		Destinations []OutputDestination `yaml:"destinations"`
	} `yaml:"output"`
	Monitor struct {
		Port    int `yaml:"port"`
		FFTSize int `yaml:"fft_size"`
	} `yaml:"monitor"`
	InfluxDB struct {
		Host           string        `yaml:"host"`
		Organization   string        `yaml:"organization"`
		Bucket         string        `yaml:"bucket"`
		ReportInterval time.Duration `yaml:"report_interval"`
	} `yaml:"influxdb"`
}

type OutputDestination struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func Default() Config {
	var c Config
	c.Device = "airspy"
	c.BlockSize = 65536
	c.Playback.Format = "f32"
	c.Playback.ReadSize = 65536
	c.Playback.Interval = 10 * time.Millisecond
	c.Monitor.FFTSize = 1024
	c.InfluxDB.ReportInterval = 10 * time.Second
	return c
}

// Parse decodes YAML over the defaults.
func Parse(contents []byte) (Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(contents, &c); err != nil {
		return c, err
	}
	if c.BlockSize <= 0 {
		return c, fmt.Errorf("block_size must be positive, got %d", c.BlockSize)
	}
	if c.FIFOCapacity < 0 {
		return c, fmt.Errorf("fifo_capacity must not be negative, got %d", c.FIFOCapacity)
	}
	if c.FIFOCapacity > 0 && c.BlockSize > c.FIFOCapacity {
		return c, fmt.Errorf("block_size %d exceeds fifo_capacity %d", c.BlockSize, c.FIFOCapacity)
	}
	if c.InfluxDB.ReportInterval <= 0 {
		return c, fmt.Errorf("influxdb report_interval must be positive, got %v", c.InfluxDB.ReportInterval)
	}
	return c, nil
}

func Load(path string) (Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(contents)
}

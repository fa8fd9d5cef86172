package source

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/norasector/airspy-source/pkg/device"
	"github.com/norasector/airspy-source/pkg/util"
)

var ErrUnsupportedSampleRate = errors.New("unsupported sample rate")

const (
	GainLNA = "LNA"
	GainMIX = "MIX"
	GainIF  = "IF"

	fixedBandwidth = 10e6
	antenna        = "RX"
)

// Range is a closed interval with an optional step.
type Range struct {
	Start float64 `json:"start"`
	Stop  float64 `json:"stop"`
	Step  float64 `json:"step"`
}

// Clip clamps v into the range. With snap set and a non-zero step, the result
// is rounded to the nearest step from Start.
func (r Range) Clip(v float64, snap bool) float64 {
	if v < r.Start {
		v = r.Start
	}
	if v > r.Stop {
		v = r.Stop
	}
	if snap && r.Step > 0 {
		v = r.Start + math.Round((v-r.Start)/r.Step)*r.Step
	}
	return v
}

var (
	FrequencyRange = Range{Start: 24e6, Stop: 1766e6}
	// The vendor publishes no dB figures, so gains are stage indices.
	stageGainRange   = Range{Start: 0, Stop: 15, Step: 1}
	overallGainRange = Range{Start: 0, Stop: 21, Step: 1}

	defaultGains = map[string]float64{
		GainLNA: 8,
		GainMIX: 5,
		GainIF:  5,
	}
)

// GainPolicy selects which combined gain table SetGain drives.
type GainPolicy int

const (
	Linearity GainPolicy = iota
	Sensitivity
)

func (g GainPolicy) String() string {
	if g == Sensitivity {
		return "sensitivity"
	}
	return "linearity"
}

func ParseGainPolicy(s string) (GainPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linearity", "":
		return Linearity, nil
	case "sensitivity":
		return Sensitivity, nil
	default:
		return Linearity, fmt.Errorf("unknown gain policy %q", s)
	}
}

func GainNames() []string {
	return []string{GainLNA, GainMIX, GainIF}
}

// GainRange returns the range of a named stage, or of the combined gain for
// any other name.
func GainRange(name string) Range {
	switch name {
	case GainLNA, GainMIX, GainIF:
		return stageGainRange
	default:
		return overallGainRange
	}
}

// SampleRates returns the supported rates in ascending order.
func (s *Source) SampleRates() []float64 {
	ret := make([]float64, len(s.sampleRates))
	for i, r := range s.sampleRates {
		ret[i] = float64(r)
	}
	return ret
}

// SetSampleRate accepts only rates reported by the device.
func (s *Source) SetSampleRate(rate float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found bool
	for _, r := range s.sampleRates {
		if float64(r) == rate {
			found = true
			break
		}
	}
	if !found {
		return s.sampleRate, fmt.Errorf("%w: %gM", ErrUnsupportedSampleRate, rate/1e6)
	}

	if err := s.drv.SetSampleRate(uint32(rate)); err != nil {
		return s.sampleRate, fmt.Errorf("set sample rate %s: %w", util.MHzToString(rate), err)
	}
	s.sampleRate = rate
	return s.sampleRate, nil
}

func (s *Source) SampleRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleRate
}

// SetCenterFreq tunes to freq after applying the ppm correction. The
// uncorrected frequency is what CenterFreq reports.
func (s *Source) SetCenterFreq(freq float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCenterFreqLocked(freq)
}

func (s *Source) setCenterFreqLocked(freq float64) (float64, error) {
	corrected := util.ApplyPPM(freq, s.freqCorr)
	if err := s.drv.SetFrequency(uint64(math.Round(corrected))); err != nil {
		return s.centerFreq, fmt.Errorf("set center frequency %s: %w", util.MHzToString(corrected), err)
	}
	s.centerFreq = freq
	return s.centerFreq, nil
}

func (s *Source) CenterFreq() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.centerFreq
}

// SetFreqCorr stores a new ppm correction and retunes the current frequency.
func (s *Source) SetFreqCorr(ppm float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freqCorr = ppm
	if _, err := s.setCenterFreqLocked(s.centerFreq); err != nil {
		return s.freqCorr, err
	}
	return s.freqCorr, nil
}

func (s *Source) FreqCorr() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freqCorr
}

func (s *Source) gainController() (device.GainController, error) {
	gc, ok := s.drv.(device.GainController)
	if !ok {
		return nil, fmt.Errorf("gain control: %w", device.ErrUnsupported)
	}
	return gc, nil
}

// SetGain sets the combined gain through the linearity or sensitivity table.
func (s *Source) SetGain(gain float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gc, err := s.gainController()
	if err != nil {
		return s.gain, err
	}

	clipped := overallGainRange.Clip(gain, true)
	if s.gainPolicy == Sensitivity {
		err = gc.SetSensitivityGain(uint8(clipped))
	} else {
		err = gc.SetLinearityGain(uint8(clipped))
	}
	if err != nil {
		return s.gain, err
	}
	s.gain = clipped
	return s.gain, nil
}

// SetNamedGain sets one of the LNA, MIX or IF stages; other names set the
// combined gain.
func (s *Source) SetNamedGain(name string, gain float64) (float64, error) {
	switch name {
	case GainLNA, GainMIX, GainIF:
	default:
		return s.SetGain(gain)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setStageGainLocked(name, gain)
}

func (s *Source) setStageGainLocked(name string, gain float64) (float64, error) {
	gc, err := s.gainController()
	if err != nil {
		return 0, err
	}

	clipped := stageGainRange.Clip(gain, true)
	switch name {
	case GainLNA:
		if err := gc.SetLNAGain(uint8(clipped)); err != nil {
			return s.lnaGain, err
		}
		s.lnaGain = clipped
	case GainMIX:
		if err := gc.SetMixerGain(uint8(clipped)); err != nil {
			return s.mixGain, err
		}
		s.mixGain = clipped
	case GainIF:
		if err := gc.SetVGAGain(uint8(clipped)); err != nil {
			return s.vgaGain, err
		}
		s.vgaGain = clipped
	}
	return clipped, nil
}

// Gain returns a stage gain by name, or the combined gain for other names.
func (s *Source) Gain(name string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case GainLNA:
		return s.lnaGain
	case GainMIX:
		return s.mixGain
	case GainIF:
		return s.vgaGain
	default:
		return s.gain
	}
}

// SetGainMode toggles LNA and mixer AGC. Leaving automatic mode re-applies
// the last manual LNA and mixer gains.
func (s *Source) SetGainMode(automatic bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gc, err := s.gainController()
	if err != nil {
		return s.autoGain, err
	}
	if err := gc.SetLNAAGC(automatic); err != nil {
		return s.autoGain, err
	}
	if err := gc.SetMixerAGC(automatic); err != nil {
		return s.autoGain, err
	}
	if !automatic {
		if _, err := s.setStageGainLocked(GainLNA, s.lnaGain); err != nil {
			return s.autoGain, err
		}
		if _, err := s.setStageGainLocked(GainMIX, s.mixGain); err != nil {
			return s.autoGain, err
		}
	}
	s.autoGain = automatic
	return s.autoGain, nil
}

func (s *Source) GainMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoGain
}

func (s *Source) GainPolicy() GainPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gainPolicy
}

func (s *Source) Antennas() []string {
	return []string{antenna}
}

func (s *Source) Antenna() string {
	return antenna
}

// Bandwidth is fixed by the hardware.
func (s *Source) Bandwidth() float64 {
	return fixedBandwidth
}

func (s *Source) BandwidthRange() Range {
	return Range{Start: fixedBandwidth, Stop: fixedBandwidth}
}

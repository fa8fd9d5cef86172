package monitor

import (
	"bytes"
	"image/color"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/window"
	"github.com/racerxdl/segdsp/dsp"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Noise floor used in place of log10(0).
const minPowerDB = -200

// PowerDBFS returns the mean power of samples relative to a full-scale
// complex sinusoid of amplitude 1.
func PowerDBFS(samples []complex64) float64 {
	if len(samples) == 0 {
		return minPowerDB
	}
	var sum float64
	for _, p := range dsp.MultiplyConjugate(samples, samples, len(samples)) {
		sum += float64(real(p))
	}
	return toDB(sum / float64(len(samples)))
}

func toDB(power float64) float64 {
	if power <= 0 {
		return minPowerDB
	}
	return math.Max(10*math.Log10(power), minPowerDB)
}

// Spectrum is one Blackman-windowed FFT, ordered from the most negative
// frequency to the most positive.
type Spectrum struct {
	Freqs   []float64
	PowerDB []float64
}

// ComputeSpectrum transforms the last size samples. Fewer samples are zero
// padded. Frequencies are absolute: offsets plus centerFreq.
func ComputeSpectrum(samples []complex64, size int, sampleRate, centerFreq float64) Spectrum {
	if len(samples) > size {
		samples = samples[len(samples)-size:]
	}

	win := window.Blackman(size)
	var gain float64
	for _, w := range win {
		gain += w
	}

	data := make([]complex128, size)
	for i, s := range samples {
		data[i] = complex128(s) * complex(win[i]/gain, 0)
	}

	f := fourier.NewCmplxFFT(size)
	coeffs := f.Coefficients(nil, data)

	ret := Spectrum{
		Freqs:   make([]float64, size),
		PowerDB: make([]float64, size),
	}
	for i := 0; i < size; i++ {
		idx := f.ShiftIdx(i)
		ret.Freqs[i] = centerFreq + f.Freq(idx)*sampleRate
		mag := cmplx.Abs(coeffs[idx])
		ret.PowerDB[i] = toDB(mag * mag)
	}
	return ret
}

// PNG renders the spectrum in MHz against dBFS.
func (s Spectrum) PNG(title string) ([]byte, error) {
	p := plotWithDefaults()
	p.Title.Text = title
	p.Y.Label.Text = "Power (dBFS)"
	p.X.Label.Text = "Frequency (MHz)"
	p.Y.Max = 0
	p.Y.Min = -140
	p.Add(plotter.NewGrid())

	xys := make(plotter.XYs, len(s.Freqs))
	for i := range s.Freqs {
		xys[i] = plotter.XY{X: s.Freqs[i] / 1e6, Y: s.PowerDB[i]}
	}
	if err := plotutil.AddLines(p, "power", xys); err != nil {
		return nil, err
	}

	w, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func plotWithDefaults() *plot.Plot {
	p := plot.New()
	p.BackgroundColor = color.Black
	p.Title.TextStyle.Color = color.White
	p.Y.Label.TextStyle.Color = color.White
	p.Y.Color = color.White
	p.X.Label.TextStyle.Color = color.White
	p.X.Color = color.White
	p.Legend.TextStyle.Color = color.White
	p.X.Tick.Color = color.White
	p.Y.Tick.Color = color.White
	p.X.Tick.Label.Color = color.White
	p.Y.Tick.Label.Color = color.White
	return p
}

package source

type Options struct {
	// Args is a device argument string, e.g. "airspy=0,sensitivity,bias=1".
	Args        string
	CenterFreq  float64
	SampleRate  float64
	FreqCorrPPM float64
	// GainPolicy overrides the linearity/sensitivity flag from Args.
	GainPolicy string
	// Gains holds per stage gains keyed by LNA, MIX and IF. Missing stages
	// get the defaults 8, 5 and 5.
	Gains    map[string]float64
	AutoGain bool
}

package util

import "fmt"

func MHzToString(hz float64) string {
	return fmt.Sprintf("%0.4f MHz", hz/1e6)
}

// ApplyPPM corrects freq for an oscillator error of ppm parts per million.
func ApplyPPM(freq, ppm float64) float64 {
	return freq * (1.0 + ppm*0.000001)
}

// Package bands defines the fixed octave-band partition used by the
// frequency-domain analyzers.
//
// Nine standard acoustic octave bands cover 63 Hz through 16 kHz. Band
// edges follow the conventional sqrt(2) spacing around each center, with
// the top band clipped to the 20 kHz audible limit.
package bands

import "math"

// Band describes a single octave band by its center frequency and edges.
type Band struct {
	Key    string  // JSON key, e.g. "1000"
	Label  string  // human-readable label, e.g. "1kHz"
	LowHz  float64 // lower edge (inclusive)
	HighHz float64 // upper edge (inclusive)
}

// Octave is the fixed nine-band partition from 63 Hz to 16 kHz.
var Octave = []Band{
	{Key: "63", Label: "63Hz", LowHz: 45, HighHz: 90},
	{Key: "125", Label: "125Hz", LowHz: 90, HighHz: 177},
	{Key: "250", Label: "250Hz", LowHz: 177, HighHz: 355},
	{Key: "500", Label: "500Hz", LowHz: 355, HighHz: 710},
	{Key: "1000", Label: "1kHz", LowHz: 710, HighHz: 1420},
	{Key: "2000", Label: "2kHz", LowHz: 1420, HighHz: 2840},
	{Key: "4000", Label: "4kHz", LowHz: 2840, HighHz: 5680},
	{Key: "8000", Label: "8kHz", LowHz: 5680, HighHz: 11360},
	{Key: "16000", Label: "16kHz", LowHz: 11360, HighHz: 20000},
}

// Audible is the broadband analysis range in Hz.
const (
	AudibleLowHz  = 20.0
	AudibleHighHz = 20000.0
)

// Center returns the geometric center frequency of the band.
func (b Band) Center() float64 {
	return math.Sqrt(b.LowHz * b.HighHz)
}

// Contains reports whether freqHz falls within the band edges.
func (b Band) Contains(freqHz float64) bool {
	return freqHz >= b.LowHz && freqHz <= b.HighHz
}

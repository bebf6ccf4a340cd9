// Package spatial extracts binaural cues from a stereo recording's onset
// window: interaural time difference (ITD) via GCC-PHAT, interaural level
// difference (ILD) broadband and per octave band, and interaural
// cross-correlation (IACC).
package spatial

import (
	"errors"
	"math"

	"github.com/cwbudde/algo-reverb-qa/audio/wavio"
)

// Errors returned by spatial analysis.
var (
	ErrEmptySignal       = errors.New("spatial: signal is empty")
	ErrInvalidSampleRate = errors.New("spatial: sample rate must be positive")
)

const eps = 1e-12

// Defaults for the onset analysis window.
const (
	DefaultWindowMs = 80.0
	DefaultMaxLagMs = 1.0
)

// Config holds spatial analysis parameters.
type Config struct {
	WindowMs float64 // onset window length, default 80 ms
	MaxLagMs float64 // physically plausible ITD bound, default ±1 ms
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{WindowMs: DefaultWindowMs, MaxLagMs: DefaultMaxLagMs}
}

// WindowInfo records the analysis window actually used.
type WindowInfo struct {
	StartSample            int     `json:"start_sample"`
	LengthSamples          int     `json:"length_samples"`
	LengthMs               float64 `json:"length_ms"`
	RequestedLengthSamples int     `json:"requested_length_samples"`
	MaxLagSamples          int     `json:"max_lag_samples"`
	MaxLagMs               float64 `json:"max_lag_ms"`
}

// Result holds the extracted cues.
//
// Sign convention: a positive ITD or IACC lag means the left channel lags
// the right (the source is toward the right ear).
type Result struct {
	ITDSeconds     float64            `json:"itd_seconds"`
	ITDSamples     int                `json:"itd_samples"`
	ILDDB          float64            `json:"ild_db"`
	IACC           float64            `json:"iacc"`
	IACCSigned     float64            `json:"iacc_signed"`
	IACCLagSamples int                `json:"iacc_lag_samples"`
	CorrZeroLag    float64            `json:"corr_zero_lag"`
	RMSLeft        float64            `json:"rms_left"`
	RMSRight       float64            `json:"rms_right"`
	BandILD        map[string]float64 `json:"band_ild_db"`
	Window         WindowInfo         `json:"analysis_window"`
	NumChannels    int                `json:"num_channels"`
	Notes          []string           `json:"notes,omitempty"`
}

// Analyzer extracts spatial cues with a fixed configuration.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer creates a spatial analyzer, filling zero config fields with
// the documented defaults.
func NewAnalyzer(cfg Config) *Analyzer {
	if cfg.WindowMs <= 0 {
		cfg.WindowMs = DefaultWindowMs
	}

	if cfg.MaxLagMs <= 0 {
		cfg.MaxLagMs = DefaultMaxLagMs
	}

	return &Analyzer{cfg: cfg}
}

// Analyze extracts ITD, ILD, and IACC from the buffer. Mono input is
// duplicated into both channels with a recorded caveat; the degenerate
// cues are still computed, never suppressed.
func (a *Analyzer) Analyze(buf *wavio.Buffer) (Result, error) {
	if buf == nil || buf.NumFrames() == 0 {
		return Result{}, ErrEmptySignal
	}

	if buf.SampleRate <= 0 {
		return Result{}, ErrInvalidSampleRate
	}

	left, right, chanNote := buf.StereoPair()
	sampleRate := float64(buf.SampleRate)

	res := Result{NumChannels: buf.NumChannels()}
	if chanNote != "" {
		res.Notes = append(res.Notes, chanNote)
	}

	// Onset window: fixed duration starting at the cross-channel peak,
	// truncated (with a note) when the recording is shorter.
	start, end, requested := selectWindow(left, right, sampleRate, a.cfg.WindowMs)
	if end-start < requested {
		res.Notes = append(res.Notes, "analysis window truncated due to recording length")
	}

	maxLag := int(sampleRate * a.cfg.MaxLagMs / 1000)
	if maxLag < 1 {
		maxLag = 1

		res.Notes = append(res.Notes, "max lag too small; clamped to 1 sample")
	}

	res.Window = WindowInfo{
		StartSample:            start,
		LengthSamples:          end - start,
		LengthMs:               float64(end-start) * 1000 / sampleRate,
		RequestedLengthSamples: requested,
		MaxLagSamples:          maxLag,
		MaxLagMs:               a.cfg.MaxLagMs,
	}

	l := left[start:end]
	r := right[start:end]

	res.RMSLeft = rms(l)
	res.RMSRight = rms(r)
	res.ILDDB = 20 * math.Log10((res.RMSLeft+eps)/(res.RMSRight+eps))

	bandILD, err := bandLevelDifference(l, r, sampleRate)
	if err != nil {
		return Result{}, err
	}

	res.BandILD = bandILD

	shift, err := gccPHAT(l, r, maxLag)
	if err != nil {
		return Result{}, err
	}

	res.ITDSamples = shift
	res.ITDSeconds = float64(shift) / sampleRate

	iacc, err := crossCorrelationCues(l, r, maxLag)
	if err != nil {
		return Result{}, err
	}

	res.IACCSigned = clamp(iacc.signedPeak, -1, 1)
	res.IACC = clamp(math.Abs(iacc.signedPeak), 0, 1)
	res.IACCLagSamples = iacc.peakLag
	res.CorrZeroLag = clamp(iacc.zeroLag, -1, 1)

	return res, nil
}

// selectWindow finds the onset (cross-channel peak magnitude) and the
// analysis window starting there.
func selectWindow(left, right []float64, sampleRate, windowMs float64) (start, end, requested int) {
	peakIdx := 0
	peakVal := 0.0

	for i := range left {
		m := math.Abs(left[i])
		if ar := math.Abs(right[i]); ar > m {
			m = ar
		}

		if m > peakVal {
			peakVal = m
			peakIdx = i
		}
	}

	requested = int(sampleRate * windowMs / 1000)
	if requested <= 0 {
		requested = len(left)
	}

	start = peakIdx

	end = start + requested
	if end > len(left) {
		end = len(left)
	}

	if end <= start {
		start = 0
		end = len(left)
	}

	return start, end, requested
}

func rms(x []float64) float64 {
	var sumSq float64
	for _, v := range x {
		sumSq += v * v
	}

	return math.Sqrt(sumSq/float64(len(x)) + eps)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}

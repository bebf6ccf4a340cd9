package metrics

import (
	"math"
	"time"

	"github.com/cwbudde/algo-reverb-qa/analysis/decay"
	"github.com/cwbudde/algo-reverb-qa/analysis/flatness"
	"github.com/cwbudde/algo-reverb-qa/analysis/spatial"
)

// Version is the document schema version stamped into every output.
const Version = "1.0.0"

// FrequencyRange is the audible range annotation carried by broadband
// figures.
const FrequencyRange = "20-20000 Hz"

// now is overridable in tests for deterministic timestamps.
var now = time.Now

// Timestamp returns the UTC second-resolution RFC 3339 timestamp used in
// all documents.
func Timestamp() string {
	return now().UTC().Truncate(time.Second).Format(time.RFC3339)
}

// Meta carries source-file context stamped into document metadata.
type Meta struct {
	InputFile       string
	SampleRate      int
	DurationSeconds float64
}

// NewRT60Document builds the rt60_metrics document. A failed estimate is
// reported as a null rt60_seconds, never omitted.
func NewRT60Document(report decay.Report, meta Meta) map[string]any {
	var rt60 any
	if report.OK && !math.IsNaN(report.RT60) {
		rt60 = report.RT60
	}

	broadband := map[string]any{
		"rt60_seconds":    rt60,
		"frequency_range": FrequencyRange,
		"method":          report.Method,
		"extrapolated":    report.Extrapolated,
	}

	if len(report.Notes) > 0 {
		broadband["analysis_notes"] = report.Notes
	}

	return map[string]any{
		"version":      Version,
		"timestamp":    Timestamp(),
		"broadband":    broadband,
		"octave_bands": map[string]any{},
		"_metadata": map[string]any{
			"audio_file":           meta.InputFile,
			"sample_rate":          meta.SampleRate,
			"duration_seconds":     meta.DurationSeconds,
			"analysis_method":      report.Method,
			"peak_amplitude":       report.Quality.Peak,
			"rms_level":            report.Quality.RMS,
			"dynamic_range_db":     report.Quality.DynamicRangeDB,
			"early_late_energy_db": report.Quality.EarlyLateDB,
		},
	}
}

// NewFrequencyDocument builds the frequency_response document.
func NewFrequencyDocument(res flatness.Result, meta Meta) map[string]any {
	octaveBands := make(map[string]any, len(res.Bands))
	for key, b := range res.Bands {
		octaveBands[key] = map[string]any{
			"gain_db":     b.MeanDB,
			"flatness_db": b.FlatnessDB,
		}
	}

	doc := map[string]any{
		"version":     Version,
		"timestamp":   Timestamp(),
		"input_file":  meta.InputFile,
		"sample_rate": meta.SampleRate,
		"broadband": map[string]any{
			"flatness_db":        res.FlatnessDB,
			"mean_gain_db":       res.MeanGainDB,
			"peak_frequency_hz":  res.PeakFrequencyHz,
			"notch_frequency_hz": res.NotchFrequencyHz,
		},
		"octave_bands":   octaveBands,
		"quality_rating": string(res.Rating),
		"overall": map[string]any{
			"flatness_std_db": res.FlatnessDB,
			"flatness_rating": string(res.Rating),
			"frequency_range": FrequencyRange,
			"mean_gain_db":    res.MeanGainDB,
		},
		"_metadata": map[string]any{
			"audio_file":       meta.InputFile,
			"sample_rate":      meta.SampleRate,
			"duration_seconds": meta.DurationSeconds,
			"analysis_method":  "FFT of windowed impulse response",
		},
	}

	if res.NearSilent {
		doc["near_silent"] = true
	}

	return doc
}

// NewSpatialDocument builds the spatial_metrics document.
func NewSpatialDocument(res spatial.Result, meta Meta) map[string]any {
	octaveBands := make(map[string]any, len(res.BandILD))
	for key, ild := range res.BandILD {
		octaveBands[key] = map[string]any{"ild_db": ild}
	}

	metadata := map[string]any{
		"audio_file":       meta.InputFile,
		"sample_rate":      meta.SampleRate,
		"duration_seconds": meta.DurationSeconds,
		"analysis_method":  "GCC-PHAT and interaural cross-correlation",
	}

	if len(res.Notes) > 0 {
		metadata["notes"] = res.Notes
	}

	return map[string]any{
		"version":      Version,
		"timestamp":    Timestamp(),
		"input_file":   meta.InputFile,
		"sample_rate":  meta.SampleRate,
		"num_channels": res.NumChannels,
		"analysis_window": map[string]any{
			"start_sample":             res.Window.StartSample,
			"length_samples":           res.Window.LengthSamples,
			"length_ms":                res.Window.LengthMs,
			"requested_length_samples": res.Window.RequestedLengthSamples,
			"max_lag_samples":          res.Window.MaxLagSamples,
			"max_lag_ms":               res.Window.MaxLagMs,
		},
		"broadband": map[string]any{
			"itd_seconds":      res.ITDSeconds,
			"itd_samples":      res.ITDSamples,
			"ild_db":           res.ILDDB,
			"iacc":             res.IACC,
			"iacc_signed":      res.IACCSigned,
			"iacc_lag_samples": res.IACCLagSamples,
			"corr_zero_lag":    res.CorrZeroLag,
			"rms_left":         res.RMSLeft,
			"rms_right":        res.RMSRight,
		},
		"octave_bands": octaveBands,
		"_metadata":    metadata,
	}
}

// Package decay estimates reverberation decay time (RT60) from captured
// impulse responses.
//
// Estimation runs an ordered ladder of strategies behind a common
// [Estimator] interface:
//
//  1. Linear regression on the Schroeder decay curve (T30, then T20),
//     extrapolated to -60 dB. Most robust against noise floors.
//  2. First -60 dB crossing of the backward-integrated energy curve.
//  3. First -30 dB crossing with 2x extrapolation. This is a projection,
//     not a measurement, and is tagged as extrapolated.
//
// Every attempt is logged with its outcome, and a failed ladder is not an
// error: the report carries a NaN RT60 together with signal-quality
// diagnostics (peak, RMS, achieved dynamic range) so consumers can weight
// confidence downstream.
//
// # Usage
//
//	a := decay.NewAnalyzer(decay.Config{SampleRate: 48000})
//	report, err := a.Analyze(impulseResponse)
//	if err != nil {
//		return err
//	}
//	if report.OK {
//		fmt.Printf("RT60 = %.3f s via %s\n", report.RT60, report.Method)
//	}
package decay

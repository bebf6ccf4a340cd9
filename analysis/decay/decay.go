package decay

import (
	"io"
	"math"

	"github.com/sirupsen/logrus"
)

// Config holds decay analysis parameters.
type Config struct {
	SampleRate float64
	Logger     *logrus.Logger
	Ladder     []Estimator // nil uses the documented default ladder
}

// Quality carries signal diagnostics recorded with every report so
// downstream consumers can discount unreliable estimates.
type Quality struct {
	Peak           float64 `json:"peak"`
	RMS            float64 `json:"rms"`
	DynamicRangeDB float64 `json:"dynamic_range_db"`
	EarlyLateDB    float64 `json:"early_late_energy_db"`
}

// Attempt records one ladder tier's outcome for diagnosability.
type Attempt struct {
	Method string `json:"method"`
	Err    string `json:"error,omitempty"`
}

// Report is the full decay analysis outcome. RT60 is NaN when no tier
// produced an estimate; that is a reportable result, not a failure.
type Report struct {
	RT60         float64   `json:"rt60_seconds"`
	OK           bool      `json:"ok"`
	Method       string    `json:"method"`
	Extrapolated bool      `json:"extrapolated"`
	Notes        []string  `json:"notes,omitempty"`
	Quality      Quality   `json:"quality"`
	Attempts     []Attempt `json:"attempts"`
}

// Analyzer runs the estimation ladder over impulse responses.
type Analyzer struct {
	cfg    Config
	log    *logrus.Logger
	ladder []Estimator
}

// NewAnalyzer creates a decay analyzer. A nil Logger discards log output.
func NewAnalyzer(cfg Config) *Analyzer {
	log := cfg.Logger
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}

	ladder := cfg.Ladder
	if ladder == nil {
		ladder = defaultLadder()
	}

	return &Analyzer{cfg: cfg, log: log, ladder: ladder}
}

// Analyze runs the ladder until one estimator succeeds. Intermediate
// failures are logged and recorded, never swallowed.
func (a *Analyzer) Analyze(ir []float64) (Report, error) {
	if len(ir) == 0 {
		return Report{}, ErrEmptySignal
	}

	if a.cfg.SampleRate <= 0 {
		return Report{}, ErrInvalidSampleRate
	}

	report := Report{
		RT60:    math.NaN(),
		Quality: analyzeQuality(ir),
	}

	for _, est := range a.ladder {
		res, err := est.Estimate(ir, a.cfg.SampleRate)
		if err != nil {
			a.log.WithFields(logrus.Fields{
				"method": est.Name(),
				"error":  err.Error(),
			}).Info("decay estimation tier failed, trying next")

			report.Attempts = append(report.Attempts, Attempt{Method: est.Name(), Err: err.Error()})
			report.Notes = append(report.Notes, err.Error())

			continue
		}

		if math.IsNaN(res.RT60) || res.RT60 <= 0 {
			a.log.WithField("method", est.Name()).Info("decay estimation tier returned invalid RT60")

			report.Attempts = append(report.Attempts,
				Attempt{Method: est.Name(), Err: "estimator returned non-positive RT60"})

			continue
		}

		a.log.WithFields(logrus.Fields{
			"method": res.Method,
			"rt60":   res.RT60,
		}).Info("decay estimation succeeded")

		report.Attempts = append(report.Attempts, Attempt{Method: est.Name()})
		report.RT60 = res.RT60
		report.OK = true
		report.Method = res.Method
		report.Extrapolated = res.Extrapolated

		if res.Note != "" {
			report.Notes = append(report.Notes, res.Note)
		}

		return report, nil
	}

	a.log.Warn("all decay estimation tiers failed; reporting null RT60")
	report.Method = "none"

	return report, nil
}

// analyzeQuality summarizes why estimation might fail: peak and RMS level,
// achieved dynamic range of the decay curve, and early-vs-late energy drop.
func analyzeQuality(ir []float64) Quality {
	var peak, sumSq float64

	for _, v := range ir {
		if a := math.Abs(v); a > peak {
			peak = a
		}

		sumSq += v * v
	}

	q := Quality{
		Peak: peak,
		RMS:  math.Sqrt(sumSq / float64(len(ir))),
	}

	curve := schroederDB(ir)

	minDB := 0.0
	for _, v := range curve {
		if v > -200 && v < minDB {
			minDB = v
		}
	}

	q.DynamicRangeDB = minDB

	// Energy drop between the first and last 10% of the recording.
	split := len(ir) / 10
	if split > 0 {
		var early, late float64

		for _, v := range ir[:split] {
			early += v * v
		}

		for _, v := range ir[len(ir)-split:] {
			late += v * v
		}

		q.EarlyLateDB = 10 * math.Log10((early+1e-10)/(late+1e-10))
	}

	return q
}

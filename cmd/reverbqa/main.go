// Command reverbqa analyzes reverb plugin captures and gates regressions.
//
// Usage:
//
//	reverbqa <command> [flags]
//
// Commands:
//
//	rt60       estimate the RT60 decay time of an impulse response
//	freq       measure spectral flatness per octave band
//	spatial    extract binaural cues (ITD, ILD, IACC)
//	stability  scan a capture for numerical health violations
//	compare    compare a current metrics tree against a baseline
//	validate   check metric documents against their schemas
//	sweep      run a drift/chaos capture and analysis grid
//
// Exit codes: 0 pass, 1 analysis or comparison failure, 2 invalid
// invocation or unreadable input.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/cwbudde/algo-reverb-qa/analysis/decay"
	"github.com/cwbudde/algo-reverb-qa/analysis/flatness"
	"github.com/cwbudde/algo-reverb-qa/analysis/spatial"
	"github.com/cwbudde/algo-reverb-qa/analysis/stability"
	"github.com/cwbudde/algo-reverb-qa/audio/wavio"
	"github.com/cwbudde/algo-reverb-qa/compare"
	"github.com/cwbudde/algo-reverb-qa/metrics"
	"github.com/cwbudde/algo-reverb-qa/sweep"
)

// errCheckFailed marks a completed run whose checks did not pass; main
// maps it to exit code 1 instead of 2.
var errCheckFailed = errors.New("checks failed")

var (
	passStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	keyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func pass(msg string) string { return passStyle.Render("✓ " + msg) }
func fail(msg string) string { return failStyle.Render("✗ " + msg) }

func printKV(key, value string) {
	fmt.Printf("  %s %s\n", keyStyle.Render(key+":"), value)
}

type cli struct {
	Verbose bool `short:"v" help:"Enable debug logging."`

	RT60      rt60Cmd      `cmd:"" name:"rt60" help:"Estimate RT60 decay time of an impulse response WAV."`
	Freq      freqCmd      `cmd:"" help:"Measure octave-band spectral flatness of an impulse response WAV."`
	Spatial   spatialCmd   `cmd:"" help:"Extract ITD, ILD, and IACC from a stereo WAV."`
	Stability stabilityCmd `cmd:"" help:"Scan a WAV for NaN/Inf/denormal/DC violations."`
	Compare   compareCmd   `cmd:"" help:"Compare current preset metrics against a baseline tree."`
	Validate  validateCmd  `cmd:"" help:"Validate metric JSON documents against their schemas."`
	Sweep     sweepCmd     `cmd:"" help:"Run a drift/chaos capture and analysis grid."`
}

type appEnv struct {
	log *logrus.Logger
}

func main() {
	var c cli

	ctx := kong.Parse(&c,
		kong.Name("reverbqa"),
		kong.Description("Reverb plugin QA: decay, spectral, spatial, and stability analysis with baseline regression gating."),
		kong.UsageOnError(),
		// Invalid invocations exit 2, reserving 1 for failed checks.
		kong.Exit(func(code int) {
			if code != 0 {
				os.Exit(2)
			}

			os.Exit(0)
		}),
	)

	log := logrus.New()
	log.SetOutput(os.Stderr)

	if c.Verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}

	if err := ctx.Run(&appEnv{log: log}); err != nil {
		if errors.Is(err, errCheckFailed) || errors.Is(err, sweep.ErrStrictAbort) {
			os.Exit(1)
		}

		fmt.Fprintln(os.Stderr, fail(err.Error()))
		os.Exit(2)
	}
}

func loadBuffer(path string) (*wavio.Buffer, error) {
	buf, err := wavio.Load(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return buf, nil
}

func bufferMeta(path string, buf *wavio.Buffer) metrics.Meta {
	return metrics.Meta{
		InputFile:       path,
		SampleRate:      buf.SampleRate,
		DurationSeconds: buf.Duration(),
	}
}

func writeDoc(path string, doc any) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Println(keyStyle.Render("wrote " + path))

	return nil
}

type rt60Cmd struct {
	Input  string `arg:"" type:"existingfile" help:"Impulse response WAV file."`
	Output string `short:"o" type:"path" help:"Write the RT60 metrics document to this path."`
}

func (c *rt60Cmd) Run(app *appEnv) error {
	buf, err := loadBuffer(c.Input)
	if err != nil {
		return err
	}

	report, err := decay.NewAnalyzer(decay.Config{
		SampleRate: float64(buf.SampleRate),
		Logger:     app.log,
	}).Analyze(buf.Mono())
	if err != nil {
		return fmt.Errorf("rt60 analysis: %w", err)
	}

	if report.OK {
		fmt.Println(pass(fmt.Sprintf("RT60 %.3f s (%s)", report.RT60, report.Method)))
	} else {
		// A failed estimate is a reported result, not an invocation error.
		fmt.Println(warnStyle.Render("RT60 could not be estimated"))
	}

	printKV("dynamic range", fmt.Sprintf("%.1f dB", report.Quality.DynamicRangeDB))
	printKV("early/late energy", fmt.Sprintf("%.1f dB", report.Quality.EarlyLateDB))

	for _, note := range report.Notes {
		printKV("note", note)
	}

	if c.Output != "" {
		return writeDoc(c.Output, metrics.NewRT60Document(report, bufferMeta(c.Input, buf)))
	}

	return nil
}

type freqCmd struct {
	Input  string `arg:"" type:"existingfile" help:"Impulse response WAV file."`
	Output string `short:"o" type:"path" help:"Write the frequency metrics document to this path."`
}

func (c *freqCmd) Run(app *appEnv) error {
	buf, err := loadBuffer(c.Input)
	if err != nil {
		return err
	}

	res, err := flatness.Analyze(buf.Mono(), float64(buf.SampleRate))
	if err != nil {
		return fmt.Errorf("flatness analysis: %w", err)
	}

	verdict := pass(fmt.Sprintf("flatness %.2f dB (%s)", res.FlatnessDB, res.Rating))
	if res.Rating == flatness.RatingColored {
		verdict = warnStyle.Render(fmt.Sprintf("flatness %.2f dB (%s)", res.FlatnessDB, res.Rating))
	}

	fmt.Println(verdict)
	printKV("mean gain", fmt.Sprintf("%.1f dB", res.MeanGainDB))
	printKV("peak", fmt.Sprintf("%.0f Hz", res.PeakFrequencyHz))
	printKV("notch", fmt.Sprintf("%.0f Hz", res.NotchFrequencyHz))

	if res.NearSilent {
		printKV("note", "input is near silent")
	}

	if c.Output != "" {
		return writeDoc(c.Output, metrics.NewFrequencyDocument(res, bufferMeta(c.Input, buf)))
	}

	return nil
}

type spatialCmd struct {
	Input    string  `arg:"" type:"existingfile" help:"Stereo WAV file."`
	Output   string  `short:"o" type:"path" help:"Write the spatial metrics document to this path."`
	WindowMs float64 `name:"window-ms" default:"80" help:"Onset analysis window length in milliseconds."`
	MaxLagMs float64 `name:"max-lag-ms" default:"1" help:"Maximum ITD search lag in milliseconds."`
}

func (c *spatialCmd) Run(app *appEnv) error {
	buf, err := loadBuffer(c.Input)
	if err != nil {
		return err
	}

	res, err := spatial.NewAnalyzer(spatial.Config{
		WindowMs: c.WindowMs,
		MaxLagMs: c.MaxLagMs,
	}).Analyze(buf)
	if err != nil {
		return fmt.Errorf("spatial analysis: %w", err)
	}

	fmt.Println(pass(fmt.Sprintf("ITD %.3f ms, ILD %.2f dB, IACC %.3f",
		res.ITDSeconds*1000, res.ILDDB, res.IACC)))
	printKV("itd", fmt.Sprintf("%d samples", res.ITDSamples))
	printKV("zero-lag correlation", fmt.Sprintf("%.3f", res.CorrZeroLag))
	printKV("window", fmt.Sprintf("%d samples from %d", res.Window.LengthSamples, res.Window.StartSample))

	for _, note := range res.Notes {
		printKV("note", note)
	}

	if c.Output != "" {
		return writeDoc(c.Output, metrics.NewSpatialDocument(res, bufferMeta(c.Input, buf)))
	}

	return nil
}

type stabilityCmd struct {
	Input  string `arg:"" type:"existingfile" help:"WAV file to scan."`
	Output string `short:"o" type:"path" help:"Write the stability report to this path."`
}

func (c *stabilityCmd) Run(app *appEnv) error {
	buf, err := loadBuffer(c.Input)
	if err != nil {
		return err
	}

	// Scan every channel so a NaN in one channel cannot be averaged away
	// by a mono fold.
	var samples []float64
	for _, ch := range buf.Channels {
		samples = append(samples, ch...)
	}

	res := stability.Analyze(samples, stability.DefaultBudget())

	printKV("samples", fmt.Sprintf("%d", res.Stats.TotalSamples))
	printKV("nan", fmt.Sprintf("%d", res.Stats.NaNCount))
	printKV("inf", fmt.Sprintf("%d", res.Stats.InfCount))
	printKV("denormals", fmt.Sprintf("%.4f%%", res.Stats.DenormalPercent))
	printKV("dc offset", fmt.Sprintf("%.1f dB", res.Stats.DCOffsetDB))

	if c.Output != "" {
		if err := writeDoc(c.Output, res); err != nil {
			return err
		}
	}

	if !res.Pass {
		for _, v := range res.Violations {
			fmt.Println(fail(v.Message))

			for _, hint := range v.Guidance {
				printKV("hint", hint)
			}
		}

		return errCheckFailed
	}

	fmt.Println(pass("stability checks passed"))

	return nil
}

type compareCmd struct {
	Baseline string `arg:"" type:"existingdir" help:"Baseline metrics tree."`
	Current  string `arg:"" type:"existingdir" help:"Current metrics tree."`

	Output        string  `short:"o" type:"path" help:"Write the regression report JSON to this path."`
	Threshold     float64 `default:"0.05" help:"Relative RT60 change threshold."`
	SpatialITDMs  float64 `name:"spatial-itd-ms" default:"0.2" help:"Maximum ITD change in milliseconds."`
	SpatialILDDB  float64 `name:"spatial-ild-db" default:"1.0" help:"Maximum ILD change in dB."`
	SpatialIACC   float64 `name:"spatial-iacc" default:"0.05" help:"Maximum IACC change."`
	FlatnessScale float64 `name:"flatness-scale" default:"10" help:"Scale applied to the threshold for the flatness dB bound."`
	Preset        []int   `help:"Preset indices to compare (default: all discovered)."`
}

func (c *compareCmd) Run(app *appEnv) error {
	report, err := compare.NewComparer(compare.Config{
		Threshold:      c.Threshold,
		ITDThresholdMs: c.SpatialITDMs,
		ILDThresholdDB: c.SpatialILDDB,
		IACCDelta:      c.SpatialIACC,
		FlatnessScale:  c.FlatnessScale,
		Presets:        c.Preset,
		Logger:         app.log,
	}).Run(c.Baseline, c.Current)
	if err != nil {
		return err
	}

	for _, res := range report.Results {
		name := fmt.Sprintf("preset %02d", res.PresetIndex)
		if res.Pass {
			fmt.Println(pass(name))
			continue
		}

		fmt.Println(fail(name))

		for _, issue := range res.Issues {
			printKV("issue", issue)
		}
	}

	fmt.Printf("\n%d compared, %d passed, %d failed\n",
		report.Summary.Total, report.Summary.Passed, report.Summary.Failed)

	if c.Output != "" {
		if err := compare.WriteReport(report, c.Output); err != nil {
			return err
		}

		fmt.Println(keyStyle.Render("wrote " + c.Output))
	}

	if !report.OverallPass() {
		return errCheckFailed
	}

	return nil
}

type validateCmd struct {
	Path   string `arg:"" type:"path" help:"Metric JSON file or directory tree."`
	Schema string `help:"Force a schema name instead of auto-detection (file mode only)."`
}

func (c *validateCmd) Run(app *appEnv) error {
	info, err := os.Stat(c.Path)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		res := metrics.ValidateFile(c.Path, c.Schema)
		printFileResult(res)

		if !res.OK() {
			return errCheckFailed
		}

		return nil
	}

	summary, err := metrics.ValidateDir(c.Path)
	if err != nil {
		return err
	}

	for _, res := range summary.Results {
		printFileResult(res)
	}

	fmt.Printf("\n%d passed, %d failed\n", summary.Passed, summary.Failed)

	if summary.Failed > 0 {
		return errCheckFailed
	}

	return nil
}

func printFileResult(res metrics.FileResult) {
	switch {
	case res.Err != "":
		fmt.Println(fail(fmt.Sprintf("%s: %v", res.Path, res.Err)))
	case len(res.Issues) > 0:
		fmt.Println(fail(fmt.Sprintf("%s (%s)", res.Path, res.Schema)))

		for _, issue := range res.Issues {
			printKV(issue.Path, issue.Message)
		}
	default:
		fmt.Println(pass(fmt.Sprintf("%s (%s)", res.Path, res.Schema)))
	}
}

type sweepCmd struct {
	Plugin     string `required:"" type:"path" help:"Plugin binary under test."`
	CaptureBin string `name:"capture-bin" required:"" type:"path" help:"Offline capture binary."`
	Output     string `short:"o" default:"sweep_output" type:"path" help:"Output directory."`

	Presets    string  `default:"0" help:"Preset indices, e.g. 0-36 or 0,3,7."`
	Drift      string  `default:"0,0.5,1" help:"Drift values in [0,1]."`
	Chaos      string  `default:"0,0.5,1" help:"chaosIntensity values in [0,1]."`
	Duration   float64 `default:"30" help:"Capture duration in seconds."`
	SampleRate float64 `name:"samplerate" default:"48000" help:"Capture sample rate."`
	BlockSize  int     `name:"blocksize" default:"512" help:"Processing block size."`
	Channels   int     `default:"2" help:"Capture channel count."`

	NoAnalysis bool `name:"no-analysis" help:"Capture only, skip analysis."`
	Force      bool `help:"Re-capture and re-analyze existing cells."`
	Strict     bool `help:"Abort on the first cell failure."`
}

func (c *sweepCmd) Run(app *appEnv) error {
	presets, err := sweep.ParseIndexList(c.Presets)
	if err != nil {
		return err
	}

	drifts, err := parseUnitValues(app, "drift", c.Drift)
	if err != nil {
		return err
	}

	chaoses, err := parseUnitValues(app, "chaos", c.Chaos)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := sweep.NewRunner(sweep.Config{
		PluginPath:      c.Plugin,
		AnalyzerPath:    c.CaptureBin,
		OutputDir:       c.Output,
		Presets:         presets,
		DriftValues:     drifts,
		ChaosValues:     chaoses,
		DurationSeconds: c.Duration,
		SampleRate:      c.SampleRate,
		BlockSize:       c.BlockSize,
		Channels:        c.Channels,
		NoAnalysis:      c.NoAnalysis,
		Force:           c.Force,
		Strict:          c.Strict,
		Logger:          app.log,
	}).Run(ctx)
	if err != nil {
		if errors.Is(err, sweep.ErrStrictAbort) {
			fmt.Fprintln(os.Stderr, fail(err.Error()))
		}

		return err
	}

	sum := res.Summary
	printKV("runs", fmt.Sprintf("%d", sum.RunsTotal))
	printKV("failures", fmt.Sprintf("%d", sum.Failures))
	printKV("runaways", fmt.Sprintf("%d", sum.RunawayCount))
	printKV("stability failures", fmt.Sprintf("%d", sum.StabilityFailures))

	if sum.MaxRT60 != nil {
		printKV("max rt60", fmt.Sprintf("%.3f s (preset %d)", sum.MaxRT60.RT60Seconds, sum.MaxRT60.Preset))
	}

	if sum.Failures > 0 {
		fmt.Println(warnStyle.Render(fmt.Sprintf("%d cells failed; see per-cell logs under %s", sum.Failures, c.Output)))
	} else {
		fmt.Println(pass("sweep complete"))
	}

	fmt.Println(keyStyle.Render("wrote " + c.Output + "/sweep_report.md"))

	return nil
}

// parseUnitValues parses a comma list and clamps each value into [0,1],
// warning when a value had to be clamped.
func parseUnitValues(app *appEnv, name, text string) ([]float64, error) {
	values, err := sweep.ParseFloatList(text)
	if err != nil {
		return nil, err
	}

	for i, v := range values {
		clamped, wasClamped := sweep.ClampUnit(v)
		if wasClamped {
			app.log.WithFields(logrus.Fields{
				"param": name,
				"value": v,
			}).Warn("value clamped to [0,1]")
		}

		values[i] = clamped
	}

	return values, nil
}

package metrics

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/algo-reverb-qa/analysis/decay"
	"github.com/cwbudde/algo-reverb-qa/analysis/flatness"
	"github.com/cwbudde/algo-reverb-qa/analysis/spatial"
)

func fixedClock(t *testing.T) {
	t.Helper()

	orig := now
	now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	t.Cleanup(func() { now = orig })
}

func sampleMeta() Meta {
	return Meta{InputFile: "wet.wav", SampleRate: 48000, DurationSeconds: 3.0}
}

func TestRT60DocumentValidates(t *testing.T) {
	fixedClock(t)

	report := decay.Report{
		RT60:   1.234,
		OK:     true,
		Method: "schroeder_t30",
	}

	doc := NewRT60Document(report, sampleMeta())

	schema, ok := SchemaByName("rt60_metrics")
	require.True(t, ok)
	assert.Empty(t, schema.Validate(doc))

	assert.Equal(t, "2026-03-01T12:00:00Z", doc["timestamp"])

	broadband := doc["broadband"].(map[string]any)
	assert.Equal(t, 1.234, broadband["rt60_seconds"])
	assert.Equal(t, FrequencyRange, broadband["frequency_range"])
}

func TestRT60DocumentNullEstimate(t *testing.T) {
	report := decay.Report{
		RT60:   math.NaN(),
		Method: "none",
		Notes:  []string{"signal does not decay 60 dB within the recording"},
	}

	doc := NewRT60Document(report, sampleMeta())

	broadband := doc["broadband"].(map[string]any)
	assert.Nil(t, broadband["rt60_seconds"])
	assert.Equal(t, "none", broadband["method"])
	assert.NotEmpty(t, broadband["analysis_notes"])

	schema, _ := SchemaByName("rt60_metrics")
	assert.Empty(t, schema.Validate(doc))
}

func TestFrequencyDocumentValidates(t *testing.T) {
	res := flatness.Result{
		FlatnessDB:      2.1,
		MeanGainDB:      -12.5,
		PeakFrequencyHz: 440,
		Rating:          flatness.RatingExcellent,
		Bands: map[string]flatness.BandStats{
			"1000": {MeanDB: -10, FlatnessDB: 1.5},
		},
	}

	doc := NewFrequencyDocument(res, sampleMeta())

	schema, _ := SchemaByName("frequency_response")
	assert.Empty(t, schema.Validate(doc))
	assert.Equal(t, "Excellent", doc["quality_rating"])
}

func TestSpatialDocumentValidates(t *testing.T) {
	res := spatial.Result{
		ITDSeconds:  -0.0002,
		ITDSamples:  -10,
		ILDDB:       1.5,
		IACC:        0.92,
		BandILD:     map[string]float64{"1000": 1.2},
		NumChannels: 2,
	}

	doc := NewSpatialDocument(res, sampleMeta())

	schema, _ := SchemaByName("spatial_metrics")
	assert.Empty(t, schema.Validate(doc))
}

func TestDetectSchemaFilenameFirst(t *testing.T) {
	// Filename conventions win even when the structure says otherwise.
	doc := map[string]any{"broadband": map[string]any{"flatness_db": 1.0}, "octave_bands": map[string]any{}}

	schema, err := DetectSchema("rt60_metrics.json", doc)
	require.NoError(t, err)
	assert.Equal(t, "rt60_metrics", schema.Name)
}

func TestDetectSchemaByStructure(t *testing.T) {
	cases := []struct {
		doc  map[string]any
		want string
	}{
		{
			doc: map[string]any{
				"broadband":    map[string]any{"rt60_seconds": nil},
				"octave_bands": map[string]any{},
			},
			want: "rt60_metrics",
		},
		{
			doc: map[string]any{
				"broadband":    map[string]any{"flatness_db": 3.2},
				"octave_bands": map[string]any{},
			},
			want: "frequency_response",
		},
		{
			doc: map[string]any{
				"broadband":    map[string]any{"itd_seconds": 0.0},
				"octave_bands": map[string]any{},
			},
			want: "spatial_metrics",
		},
		{
			doc:  map[string]any{"test_type": "impulse", "block_size": 512},
			want: "capture_metadata",
		},
		{
			doc: map[string]any{
				"baseline_dir": "a", "results": []any{}, "summary": map[string]any{},
			},
			want: "regression_report",
		},
		{
			doc: map[string]any{
				"top_functions": []any{}, "module_breakdown": map[string]any{},
			},
			want: "cpu_profile",
		},
	}

	for _, c := range cases {
		schema, err := DetectSchema("output.json", c.doc)
		require.NoError(t, err)
		assert.Equal(t, c.want, schema.Name)
	}
}

func TestDetectSchemaUnknown(t *testing.T) {
	_, err := DetectSchema("output.json", map[string]any{"something": 1})
	assert.ErrorIs(t, err, ErrUnknownSchema)
}

func TestValidateEnumeratesAllIssues(t *testing.T) {
	doc := map[string]any{
		"broadband": map[string]any{
			"rt60_seconds": "fast", // wrong type
			"method":       "schroeder_t30",
		},
		// frequency_range and _metadata missing entirely
	}

	schema, _ := SchemaByName("rt60_metrics")
	issues := schema.Validate(doc)

	require.Len(t, issues, 4)

	paths := make(map[string]bool)
	for _, i := range issues {
		paths[i.Path] = true
	}

	assert.True(t, paths["broadband.rt60_seconds"])
	assert.True(t, paths["broadband.frequency_range"])
	assert.True(t, paths["_metadata"])
	assert.True(t, paths["_metadata.sample_rate"])
}

func writeJSON(t *testing.T, path string, doc any) {
	t.Helper()

	raw, err := json.MarshalIndent(doc, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

func TestValidateDir(t *testing.T) {
	dir := t.TempDir()

	report := decay.Report{RT60: 0.8, OK: true, Method: "schroeder_t30"}
	writeJSON(t, filepath.Join(dir, "rt60_metrics.json"), NewRT60Document(report, sampleMeta()))

	// Tooling config must be skipped, not failed.
	writeJSON(t, filepath.Join(dir, "manifest.json"), map[string]any{"name": "x"})

	// Broken JSON must be reported, not crash the walk.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))

	// Unknown structure must fail detection.
	writeJSON(t, filepath.Join(dir, "mystery.json"), map[string]any{"a": 1})

	sum, err := ValidateDir(dir)
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Passed)
	assert.Equal(t, 2, sum.Failed)
	assert.Len(t, sum.Results, 3)
}

func TestValidateFileExplicitSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "output.json")

	res := flatness.Result{Rating: flatness.RatingGood}
	writeJSON(t, path, NewFrequencyDocument(res, sampleMeta()))

	fr := ValidateFile(path, "frequency_response")
	assert.True(t, fr.OK(), "issues: %v, err: %s", fr.Issues, fr.Err)

	bad := ValidateFile(path, "no_such_schema")
	assert.NotEmpty(t, bad.Err)
}

package metrics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownSchema is returned when neither the filename nor the document
// structure identifies a registered schema.
var ErrUnknownSchema = errors.New("metrics: could not detect schema")

// Kind is the expected JSON type of a required field.
type Kind string

// Field kinds checked by structural validation.
const (
	KindNumber       Kind = "number"
	KindNumberOrNull Kind = "number or null"
	KindString       Kind = "string"
	KindBool         Kind = "bool"
	KindObject       Kind = "object"
	KindArray        Kind = "array"
)

// Field is one required entry of a schema, addressed by dotted path.
type Field struct {
	Path string
	Kind Kind
}

// Schema describes the required structure of one document family.
type Schema struct {
	Name     string
	Required []Field
}

// Issue is a single validation finding.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

var registry = map[string]Schema{
	"rt60_metrics": {
		Name: "rt60_metrics",
		Required: []Field{
			{Path: "broadband", Kind: KindObject},
			{Path: "broadband.rt60_seconds", Kind: KindNumberOrNull},
			{Path: "broadband.method", Kind: KindString},
			{Path: "broadband.frequency_range", Kind: KindString},
			{Path: "_metadata", Kind: KindObject},
			{Path: "_metadata.sample_rate", Kind: KindNumber},
		},
	},
	"frequency_response": {
		Name: "frequency_response",
		Required: []Field{
			{Path: "version", Kind: KindString},
			{Path: "timestamp", Kind: KindString},
			{Path: "broadband", Kind: KindObject},
			{Path: "broadband.flatness_db", Kind: KindNumber},
			{Path: "broadband.mean_gain_db", Kind: KindNumber},
			{Path: "octave_bands", Kind: KindObject},
			{Path: "quality_rating", Kind: KindString},
		},
	},
	"spatial_metrics": {
		Name: "spatial_metrics",
		Required: []Field{
			{Path: "version", Kind: KindString},
			{Path: "sample_rate", Kind: KindNumber},
			{Path: "analysis_window", Kind: KindObject},
			{Path: "broadband", Kind: KindObject},
			{Path: "broadband.itd_seconds", Kind: KindNumber},
			{Path: "broadband.ild_db", Kind: KindNumber},
			{Path: "broadband.iacc", Kind: KindNumber},
			{Path: "octave_bands", Kind: KindObject},
		},
	},
	"capture_metadata": {
		Name: "capture_metadata",
		Required: []Field{
			{Path: "test_type", Kind: KindString},
			{Path: "sample_rate", Kind: KindNumber},
			{Path: "block_size", Kind: KindNumber},
		},
	},
	"regression_report": {
		Name: "regression_report",
		Required: []Field{
			{Path: "baseline_dir", Kind: KindString},
			{Path: "current_dir", Kind: KindString},
			{Path: "threshold", Kind: KindNumber},
			{Path: "summary", Kind: KindObject},
			{Path: "summary.total", Kind: KindNumber},
			{Path: "summary.passed", Kind: KindNumber},
			{Path: "summary.failed", Kind: KindNumber},
			{Path: "results", Kind: KindArray},
		},
	},
	"stability_report": {
		Name: "stability_report",
		Required: []Field{
			{Path: "pass", Kind: KindBool},
			{Path: "stats", Kind: KindObject},
			{Path: "stats.total_samples", Kind: KindNumber},
			{Path: "stats.nan_count", Kind: KindNumber},
			{Path: "stats.inf_count", Kind: KindNumber},
			{Path: "stats.denormal_percent", Kind: KindNumber},
		},
	},
	"cpu_profile": {
		Name: "cpu_profile",
		Required: []Field{
			{Path: "top_functions", Kind: KindArray},
			{Path: "module_breakdown", Kind: KindObject},
			{Path: "estimated_cpu_load_percent", Kind: KindNumber},
		},
	},
}

// SchemaNames returns the registered schema names, sorted.
func SchemaNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// SchemaByName looks up a registered schema.
func SchemaByName(name string) (Schema, bool) {
	s, ok := registry[name]
	return s, ok
}

// Validate checks doc against the schema and returns every finding; it
// never stops at the first problem.
func (s Schema) Validate(doc map[string]any) []Issue {
	var issues []Issue

	for _, f := range s.Required {
		v, ok := lookup(doc, f.Path)
		if !ok {
			issues = append(issues, Issue{Path: f.Path, Message: "required field missing"})
			continue
		}

		if !kindMatches(f.Kind, v) {
			issues = append(issues, Issue{
				Path:    f.Path,
				Message: fmt.Sprintf("expected %s, got %s", f.Kind, describe(v)),
			})
		}
	}

	return issues
}

// DetectSchema identifies the schema for a document: filename conventions
// first, then structural fingerprints. Detection is total; an
// unidentifiable document yields ErrUnknownSchema.
func DetectSchema(filename string, doc map[string]any) (Schema, error) {
	name := strings.ToLower(filename)

	switch {
	case strings.Contains(name, "rt60"):
		return registry["rt60_metrics"], nil
	case strings.Contains(name, "freq"):
		return registry["frequency_response"], nil
	case strings.Contains(name, "spatial"):
		return registry["spatial_metrics"], nil
	case strings.Contains(name, "capture"), name == "metadata.json":
		return registry["capture_metadata"], nil
	case strings.Contains(name, "stability"):
		return registry["stability_report"], nil
	case strings.Contains(name, "regression"):
		return registry["regression_report"], nil
	case strings.Contains(name, "cpu"), strings.Contains(name, "profile"):
		return registry["cpu_profile"], nil
	}

	broadband, _ := doc["broadband"].(map[string]any)

	if _, ok := doc["octave_bands"]; ok && broadband != nil {
		if _, ok := broadband["rt60_seconds"]; ok {
			return registry["rt60_metrics"], nil
		}

		if _, ok := broadband["flatness_db"]; ok {
			return registry["frequency_response"], nil
		}

		if _, ok := broadband["itd_seconds"]; ok {
			return registry["spatial_metrics"], nil
		}
	}

	if has(doc, "test_type") && has(doc, "block_size") {
		return registry["capture_metadata"], nil
	}

	if has(doc, "baseline_dir") && has(doc, "results") && has(doc, "summary") {
		return registry["regression_report"], nil
	}

	if has(doc, "pass") && has(doc, "stats") {
		return registry["stability_report"], nil
	}

	if has(doc, "top_functions") && has(doc, "module_breakdown") {
		return registry["cpu_profile"], nil
	}

	return Schema{}, fmt.Errorf("%w for %q", ErrUnknownSchema, filename)
}

func has(doc map[string]any, key string) bool {
	_, ok := doc[key]
	return ok
}

// lookup resolves a dotted path through nested objects.
func lookup(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")

	var cur any = doc

	for _, p := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}

		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}

	return cur, true
}

func kindMatches(kind Kind, v any) bool {
	switch kind {
	case KindNumber:
		return isNumber(v)
	case KindNumberOrNull:
		return v == nil || isNumber(v)
	case KindString:
		_, ok := v.(string)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindObject:
		_, ok := v.(map[string]any)
		return ok
	case KindArray:
		return isArray(v)
	default:
		return false
	}
}

// isNumber accepts both decoded JSON numbers (float64) and in-memory
// documents built with Go integer types.
func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int64, int32:
		return true
	default:
		return false
	}
}

func isArray(v any) bool {
	switch v.(type) {
	case []any, []string, []float64, []map[string]any:
		return true
	default:
		return false
	}
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case map[string]any:
		return "object"
	default:
		if isNumber(v) {
			return "number"
		}

		if isArray(v) {
			return "array"
		}

		return fmt.Sprintf("%T", v)
	}
}

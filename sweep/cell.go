package sweep

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// State tracks a grid cell through the capture/analysis lifecycle.
type State string

// Cell lifecycle states.
const (
	StateNeedsCapture  State = "needs-capture"
	StateCapturing     State = "capturing"
	StateCaptured      State = "captured"
	StateNeedsAnalysis State = "needs-analysis"
	StateAnalyzing     State = "analyzing"
	StateAnalyzed      State = "analyzed"
	StateRecorded      State = "recorded"
)

// Cell identifies one grid point of the sweep.
type Cell struct {
	Preset int
	Drift  float64
	Chaos  float64
}

// DirName returns the cell's directory relative to the sweep root, e.g.
// preset_03/drift_0.5_chaos_1.
func (c Cell) DirName() string {
	return filepath.Join(
		fmt.Sprintf("preset_%02d", c.Preset),
		fmt.Sprintf("drift_%s_chaos_%s", FormatValue(c.Drift), FormatValue(c.Chaos)),
	)
}

func (c Cell) String() string {
	return fmt.Sprintf("preset %d drift=%s chaos=%s",
		c.Preset, FormatValue(c.Drift), FormatValue(c.Chaos))
}

// FormatValue renders a control value compactly for directory names and
// labels: trailing zeros and a trailing dot are stripped.
func FormatValue(v float64) string {
	text := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
	if text == "" || text == "-" {
		return "0"
	}

	return text
}

// ParseIndexList parses preset selections like "0-7" or "0,2,4" into a
// sorted, deduplicated slice.
func ParseIndexList(text string) ([]int, error) {
	seen := map[int]bool{}

	for _, token := range strings.Split(text, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		if lo, hi, ok := strings.Cut(token, "-"); ok {
			start, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, fmt.Errorf("sweep: invalid index range %q: %w", token, err)
			}

			end, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, fmt.Errorf("sweep: invalid index range %q: %w", token, err)
			}

			for i := start; i <= end; i++ {
				seen[i] = true
			}

			continue
		}

		idx, err := strconv.Atoi(token)
		if err != nil {
			return nil, fmt.Errorf("sweep: invalid index %q: %w", token, err)
		}

		seen[idx] = true
	}

	indices := make([]int, 0, len(seen))
	for idx := range seen {
		indices = append(indices, idx)
	}

	sort.Ints(indices)

	return indices, nil
}

// ParseFloatList parses comma-separated control values.
func ParseFloatList(text string) ([]float64, error) {
	var values []float64

	for _, token := range strings.Split(text, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		v, err := strconv.ParseFloat(token, 64)
		if err != nil {
			return nil, fmt.Errorf("sweep: invalid value %q: %w", token, err)
		}

		values = append(values, v)
	}

	return values, nil
}

// ClampUnit clamps a control value into [0, 1], returning whether
// clamping happened.
func ClampUnit(v float64) (float64, bool) {
	if v < 0 {
		return 0, true
	}

	if v > 1 {
		return 1, true
	}

	return v, false
}

package metrics

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileResult is the validation outcome for one JSON file.
type FileResult struct {
	Path   string  `json:"path"`
	Schema string  `json:"schema,omitempty"`
	Issues []Issue `json:"issues,omitempty"`
	Err    string  `json:"error,omitempty"`
}

// OK reports whether the file validated cleanly.
func (r FileResult) OK() bool {
	return r.Err == "" && len(r.Issues) == 0
}

// Summary aggregates a directory validation run.
type Summary struct {
	Passed  int          `json:"passed"`
	Failed  int          `json:"failed"`
	Results []FileResult `json:"results"`
}

// ValidateFile validates one JSON file. An empty schemaName auto-detects
// from the filename and document structure.
func ValidateFile(path, schemaName string) FileResult {
	res := FileResult{Path: path}

	raw, err := os.ReadFile(path)
	if err != nil {
		res.Err = fmt.Sprintf("read file: %v", err)
		return res
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		res.Err = fmt.Sprintf("invalid JSON: %v", err)
		return res
	}

	var schema Schema

	if schemaName != "" {
		s, ok := SchemaByName(schemaName)
		if !ok {
			res.Err = fmt.Sprintf("schema %q not found, available: %s",
				schemaName, strings.Join(SchemaNames(), ", "))

			return res
		}

		schema = s
	} else {
		s, err := DetectSchema(filepath.Base(path), doc)
		if err != nil {
			res.Err = err.Error()
			return res
		}

		schema = s
	}

	res.Schema = schema.Name
	res.Issues = schema.Validate(doc)

	return res
}

// skippedFiles are tooling config files, not metric documents.
var skippedFiles = map[string]bool{
	"manifest.json": true,
	"package.json":  true,
}

// ValidateDir recursively validates every JSON file under dir, skipping
// schema directories and tooling config files.
func ValidateDir(dir string) (Summary, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if d.Name() == "schemas" {
				return filepath.SkipDir
			}

			return nil
		}

		name := d.Name()
		if filepath.Ext(name) != ".json" || skippedFiles[name] {
			return nil
		}

		// metadata.json is a metric document; it is matched by the
		// capture_metadata filename rule, not skipped.
		files = append(files, path)

		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("metrics: walk %s: %w", dir, err)
	}

	sort.Strings(files)

	var sum Summary

	for _, f := range files {
		res := ValidateFile(f, "")
		if res.OK() {
			sum.Passed++
		} else {
			sum.Failed++
		}

		sum.Results = append(sum.Results, res)
	}

	return sum, nil
}

// Package metrics defines the JSON document shapes shared by the analysis
// tools: builders that turn analysis results into versioned documents, a
// schema registry describing each document family, structural validation,
// and schema auto-detection for unlabeled files.
package metrics

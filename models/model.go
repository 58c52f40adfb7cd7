// Package models - Model roles and output class tables.
package models

// ModelTask identifies what a model is used for in the analysis.
type ModelTask string

const (
	// ModelTaskDetection locates leaves and emits bounding boxes.
	ModelTaskDetection ModelTask = "detection"
	// ModelTaskClassification labels a single leaf region.
	ModelTaskClassification ModelTask = "classification"
)

// Default square input resolutions per task.
const (
	DefaultDetectionInputSize      = 640
	DefaultClassificationInputSize = 224
)

// DefaultClassNames returns the built-in class table for task.
func DefaultClassNames(task ModelTask) []string {
	switch task {
	case ModelTaskDetection:
		return append([]string(nil), LeafDetectorClassNames...)
	case ModelTaskClassification:
		return append([]string(nil), DiseaseClassNames...)
	default:
		return nil
	}
}

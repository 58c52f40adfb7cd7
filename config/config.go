// Package config - Options of the leaf analysis, with defaults, YAML loading
// and validation.
package config

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/leafscan/images"
	"github.com/nvr-ai/leafscan/inference"
	"github.com/nvr-ai/leafscan/models"
	"github.com/nvr-ai/leafscan/models/postprocess"
)

// ModelOptions locates one ONNX model and describes its input and classes.
type ModelOptions struct {
	// ModelPath is the path to the .onnx file.
	ModelPath string `yaml:"modelPath" json:"modelPath"`

	// InputSize is the square input resolution of the model.
	InputSize int `yaml:"inputSize" json:"inputSize"`

	// Classes is the class-name table, indexed by class id.
	Classes []string `yaml:"classes" json:"classes"`
}

// Options holds every recognized analysis option.
type Options struct {
	Detector   ModelOptions `yaml:"detector" json:"detector"`
	Classifier ModelOptions `yaml:"classifier" json:"classifier"`

	// Classify enables the disease classifier. When false regions are only extracted.
	Classify bool `yaml:"classify" json:"classify"`

	ConfidenceThreshold float32 `yaml:"confidenceThreshold" json:"confidenceThreshold"`
	IoUThreshold        float32 `yaml:"iouThreshold" json:"iouThreshold"`
	MaxDetections       int     `yaml:"maxDetections" json:"maxDetections"`
	RegionPadding       int     `yaml:"regionPadding" json:"regionPadding"`
	ClassAware          bool    `yaml:"classAware" json:"classAware"`
	LeafFilter          string  `yaml:"leafFilter" json:"leafFilter"`

	// Provider is the ONNX Runtime execution provider: cpu, cuda, coreml or openvino.
	Provider          string `yaml:"provider" json:"provider"`
	SharedLibraryPath string `yaml:"sharedLibraryPath" json:"sharedLibraryPath"`
	Threads           int    `yaml:"threads" json:"threads"`

	// Workers bounds the classification tasks of one image.
	Workers int `yaml:"workers" json:"workers"`
	// ImageWorkers bounds the images processed concurrently by a batch.
	ImageWorkers int `yaml:"imageWorkers" json:"imageWorkers"`

	// OutputDir receives annotated images and manifests. Empty disables saving.
	OutputDir string `yaml:"outputDir" json:"outputDir"`
	// DatabasePath enables SQLite recording of results.
	DatabasePath string `yaml:"databasePath" json:"databasePath"`
	LogLevel     string `yaml:"logLevel" json:"logLevel"`
}

// Default returns the options of the integrated tomato leaf analysis.
//
// @example
// opts := config.Default()
// opts.Detector.ModelPath = "models/leaf.onnx"
func Default() Options {
	return Options{
		Detector: ModelOptions{
			ModelPath: "models/tomato_leaf_detector.onnx",
			InputSize: models.DefaultDetectionInputSize,
			Classes:   models.DefaultClassNames(models.ModelTaskDetection),
		},
		Classifier: ModelOptions{
			ModelPath: "models/tomato_disease_classifier.onnx",
			InputSize: models.DefaultClassificationInputSize,
			Classes:   models.DefaultClassNames(models.ModelTaskClassification),
		},
		Classify:            true,
		ConfidenceThreshold: 0.007,
		IoUThreshold:        0.65,
		MaxDetections:       15,
		RegionPadding:       images.DefaultRegionPadding,
		LeafFilter:          string(postprocess.LeafFilterNone),
		Provider:            string(inference.CPUExecutionProvider),
		Workers:             runtime.NumCPU(),
		ImageWorkers:        max(runtime.NumCPU()/2, 1),
		OutputDir:           "results",
		LogLevel:            "info",
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default value.
//
// Arguments:
// - path: The YAML file.
//
// Returns:
// - Options: The merged, validated options.
// - error: If the file cannot be read, parsed or validated.
func Load(path string) (Options, error) {
	opts := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return opts, errors.Wrapf(err, "failed to read config %s", path)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, errors.Wrapf(err, "failed to parse config %s", path)
	}
	return opts, opts.Validate()
}

// Validate checks ranges and enumerations.
func (o Options) Validate() error {
	if o.ConfidenceThreshold < 0 || o.ConfidenceThreshold > 1 {
		return errors.Errorf("confidenceThreshold %v is outside [0, 1]", o.ConfidenceThreshold)
	}
	if o.IoUThreshold < 0 || o.IoUThreshold > 1 {
		return errors.Errorf("iouThreshold %v is outside [0, 1]", o.IoUThreshold)
	}
	if o.MaxDetections < 0 {
		return errors.Errorf("maxDetections must not be negative, got %d", o.MaxDetections)
	}
	if o.RegionPadding < 0 {
		return errors.Errorf("regionPadding must not be negative, got %d", o.RegionPadding)
	}
	if o.Workers < 0 || o.ImageWorkers < 0 || o.Threads < 0 {
		return errors.New("worker and thread counts must not be negative")
	}
	if o.Detector.InputSize <= 0 {
		return errors.Errorf("detector inputSize must be positive, got %d", o.Detector.InputSize)
	}
	if o.Classify && o.Classifier.InputSize <= 0 {
		return errors.Errorf("classifier inputSize must be positive, got %d", o.Classifier.InputSize)
	}
	if _, err := postprocess.ParseLeafFilter(o.LeafFilter); err != nil {
		return err
	}
	if _, err := inference.ParseProvider(o.Provider); err != nil {
		return err
	}
	return nil
}

// Filter returns the parsed leaf filter. Options must be valid.
func (o Options) Filter() postprocess.LeafFilter {
	f, _ := postprocess.ParseLeafFilter(o.LeafFilter)
	return f
}

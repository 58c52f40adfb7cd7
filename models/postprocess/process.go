package postprocess

import (
	"gorgonia.org/tensor"

	"github.com/nvr-ai/leafscan/models"
)

// Config holds the post-processing options of one detector run.
type Config struct {
	// Original image size.
	ImageWidth  int
	ImageHeight int
	// InputSize is the model's square input resolution.
	InputSize int

	ConfidenceThreshold float32
	IoUThreshold        float32
	// MaxDetections caps the detections kept after suppression. 0 keeps all.
	MaxDetections int
	ClassAware    bool
	Filter        LeafFilter

	Classes *models.OutputClassSet
}

// Output is the finished detection list together with the decode diagnostics.
type Output struct {
	Detections []Detection
	Decode     DecodeResult
	// Suppressed counts candidates removed by NMS.
	Suppressed int
	// Truncated counts survivors dropped by MaxDetections.
	Truncated int
}

// Process chains decode, suppression, the detection cap, numbering and area
// annotation. Zero candidates is a valid outcome with an empty detection list.
func Process(output *tensor.Dense, cfg Config) Output {
	decoded := Decode(output, DecodeArgs{
		ImageWidth:          cfg.ImageWidth,
		ImageHeight:         cfg.ImageHeight,
		InputSize:           cfg.InputSize,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		NumClasses:          cfg.Classes.Len(),
	})
	return ProcessCandidates(decoded, cfg)
}

// ProcessCandidates runs every step after decode on already decoded candidates.
func ProcessCandidates(decoded DecodeResult, cfg Config) Output {
	kept := ApplyGreedyNMS(decoded.Candidates, NMSConfig{
		IoUThreshold: cfg.IoUThreshold,
		ClassAware:   cfg.ClassAware,
	})

	out := Output{
		Decode:     decoded,
		Suppressed: len(decoded.Candidates) - len(kept),
	}
	if cfg.MaxDetections > 0 && len(kept) > cfg.MaxDetections {
		out.Truncated = len(kept) - cfg.MaxDetections
	}

	detections := Finalize(kept, cfg.MaxDetections, cfg.Classes, cfg.ImageWidth, cfg.ImageHeight)
	out.Detections = cfg.Filter.Apply(detections)
	return out
}

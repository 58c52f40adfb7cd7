// Package postprocess - Decoding, suppression and finalization of detector outputs.
package postprocess

import "github.com/nvr-ai/leafscan/images"

// Candidate is a raw, pre-suppression detection.
type Candidate struct {
	// The bounding box, in source-image pixels.
	Box images.Box
	// The confidence score in [0, 1].
	Score float32
	// The predicted class index.
	Class int
}

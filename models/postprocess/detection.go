package postprocess

import (
	"image/color"

	"github.com/nvr-ai/leafscan/images"
	"github.com/nvr-ai/leafscan/models"
)

// Detection is a suppressed, identified and finalized candidate.
type Detection struct {
	// ID is the 1-based position in the final, confidence ordered list.
	ID int `json:"id"`
	// Box in source-image pixels.
	Box images.Box `json:"box"`
	// Confidence of the detection in [0, 1].
	Confidence float32 `json:"confidence"`
	// ClassID is the raw class index.
	ClassID int `json:"class_id"`
	// ClassName is resolved from the class table.
	ClassName string `json:"class_name"`
	// AreaPercentage is 100 * box area / image area, clamped to [0, 100].
	AreaPercentage float32 `json:"area_percentage"`
	// CenterColor is the RGB color at the box center, when sampled.
	CenterColor *color.RGBA `json:"center_color,omitempty"`
}

// Width of the detection box.
func (d Detection) Width() float32 { return d.Box.Width() }

// Height of the detection box.
func (d Detection) Height() float32 { return d.Box.Height() }

// Area of the detection box.
func (d Detection) Area() float32 { return d.Box.Area() }

// AspectRatio of the detection box, 0 when the height is 0.
func (d Detection) AspectRatio() float32 { return d.Box.AspectRatio() }

// Center of the detection box as integer pixel coordinates.
func (d Detection) Center() (int, int) {
	cx, cy := d.Box.Center()
	return int(cx), int(cy)
}

// AreaPercentage returns 100 * box area / (width * height), clamped to [0, 100].
// An image with no area yields 0.
func AreaPercentage(box images.Box, width, height int) float32 {
	total := float32(width) * float32(height)
	if total <= 0 {
		return 0
	}
	pct := 100 * box.Area() / total
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// Finalize promotes kept candidates into detections.
//
// The first maxDetections candidates are kept (all when maxDetections <= 0),
// numbered 1..k in order, named from classes and annotated with their area
// percentage of a width x height image.
func Finalize(kept []Candidate, maxDetections int, classes *models.OutputClassSet, width, height int) []Detection {
	if maxDetections > 0 && len(kept) > maxDetections {
		kept = kept[:maxDetections]
	}

	detections := make([]Detection, len(kept))
	for i, c := range kept {
		detections[i] = Detection{
			ID:             i + 1,
			Box:            c.Box,
			Confidence:     c.Score,
			ClassID:        c.Class,
			ClassName:      classes.Name(c.Class),
			AreaPercentage: AreaPercentage(c.Box, width, height),
		}
	}
	return detections
}

// Renumber assigns identifiers 1..k in slice order.
func Renumber(detections []Detection) []Detection {
	for i := range detections {
		detections[i].ID = i + 1
	}
	return detections
}

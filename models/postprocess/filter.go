package postprocess

import "github.com/pkg/errors"

// LeafFilter selects a size and shape heuristic applied after finalization.
type LeafFilter string

const (
	// LeafFilterNone keeps every detection.
	LeafFilterNone LeafFilter = "none"
	// LeafFilterIndividual drops boxes that cover almost the whole image or are
	// too small to be a single leaf.
	LeafFilterIndividual LeafFilter = "individual"
	// LeafFilterPrecise also bounds the aspect ratio and uses inclusive limits.
	LeafFilterPrecise LeafFilter = "precise"
)

// ParseLeafFilter parses a filter name. The empty string is LeafFilterNone.
func ParseLeafFilter(s string) (LeafFilter, error) {
	switch f := LeafFilter(s); f {
	case "", LeafFilterNone:
		return LeafFilterNone, nil
	case LeafFilterIndividual, LeafFilterPrecise:
		return f, nil
	default:
		return "", errors.Errorf("unknown leaf filter %q", s)
	}
}

// Keep reports whether d passes the filter. AreaPercentage must be set.
func (f LeafFilter) Keep(d Detection) bool {
	w, h, area := d.Width(), d.Height(), d.Area()

	switch f {
	case LeafFilterIndividual:
		return d.AreaPercentage < 95 &&
			d.AreaPercentage > 0.05 &&
			area > 50 &&
			w > 5 &&
			h > 5
	case LeafFilterPrecise:
		aspect := d.AspectRatio()
		return d.AreaPercentage <= 95 &&
			d.AreaPercentage >= 0.03 &&
			area >= 50 &&
			aspect >= 0.1 &&
			aspect <= 10 &&
			w >= 3 &&
			h >= 3
	default:
		return true
	}
}

// Apply returns the detections that pass the filter, renumbered 1..k.
func (f LeafFilter) Apply(detections []Detection) []Detection {
	if f == "" || f == LeafFilterNone {
		return detections
	}
	out := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if f.Keep(d) {
			out = append(out, d)
		}
	}
	return Renumber(out)
}

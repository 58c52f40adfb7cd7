// Package render - Annotated output images of analyzed leaves.
package render

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/leafscan/pipeline"
)

// Box colors.
var (
	HealthyColor  = color.RGBA{R: 0, G: 200, B: 0, A: 0}
	DiseasedColor = color.RGBA{R: 230, G: 40, B: 40, A: 0}
	FailedColor   = color.RGBA{R: 128, G: 128, B: 128, A: 0}
	// DetectedColor marks leaves that were not classified.
	DetectedColor = color.RGBA{R: 255, G: 200, B: 0, A: 0}
)

// Annotator draws detection boxes, identifiers and labels with OpenCV.
type Annotator struct {
	Thickness int
	FontScale float64
	// MarkCenters draws the sampled center point of every leaf.
	MarkCenters bool
}

// NewAnnotator returns an annotator with the default style.
func NewAnnotator() *Annotator {
	return &Annotator{Thickness: 2, FontScale: 1.0, MarkCenters: true}
}

// Label returns the text drawn next to a record.
func Label(rec pipeline.LeafRecord) string {
	switch {
	case rec.Outcome == nil && rec.Error != "":
		return fmt.Sprintf("#%d error", rec.ID())
	case rec.Outcome == nil:
		return fmt.Sprintf("#%d leaf %.2f", rec.ID(), rec.Detection.Confidence)
	case rec.Outcome.Failed:
		return fmt.Sprintf("#%d %s", rec.ID(), rec.Outcome.Label)
	default:
		return fmt.Sprintf("#%d %s %.0f%%", rec.ID(), rec.Outcome.Label, 100*rec.Outcome.Confidence)
	}
}

// Color returns the box color of a record.
func Color(rec pipeline.LeafRecord) color.RGBA {
	switch {
	case rec.Failed():
		return FailedColor
	case rec.Outcome == nil:
		return DetectedColor
	case strings.Contains(strings.ToLower(rec.Outcome.Label), "healthy"):
		return HealthyColor
	default:
		return DiseasedColor
	}
}

// Render draws records over the image at srcPath and writes the result to
// outPath. The records are only read.
//
// Arguments:
//   - srcPath: The analyzed image.
//   - records: Leaf records ordered by identifier.
//   - outPath: The annotated image to write. Its extension selects the codec.
//
// Returns:
//   - error: If the source cannot be read or the output cannot be written.
func (a *Annotator) Render(srcPath string, records []pipeline.LeafRecord, outPath string) error {
	img := gocv.IMRead(srcPath, gocv.IMReadColor)
	if img.Empty() {
		return errors.Errorf("error reading image: %s", srcPath)
	}
	defer img.Close()

	for _, rec := range records {
		r := rec.Detection.Box.Rect().Rectangle()
		c := Color(rec)
		if err := gocv.Rectangle(&img, r, c, a.Thickness); err != nil {
			return errors.Wrapf(err, "failed to draw leaf %d", rec.ID())
		}

		origin := image.Pt(r.Min.X, max(r.Min.Y-4, 12))
		if err := gocv.PutText(&img, Label(rec), origin, gocv.FontHersheyPlain, a.FontScale, c, a.Thickness); err != nil {
			return errors.Wrapf(err, "failed to label leaf %d", rec.ID())
		}

		if a.MarkCenters {
			cx, cy := rec.Detection.Center()
			if err := gocv.Circle(&img, image.Pt(cx, cy), 3, c, -1); err != nil {
				return errors.Wrapf(err, "failed to mark leaf %d", rec.ID())
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(outPath))
	}
	if !gocv.IMWrite(outPath, img) {
		return errors.Errorf("failed to write annotated image: %s", outPath)
	}
	return nil
}

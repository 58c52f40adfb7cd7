package images

import (
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// DefaultRegionPadding is the margin, in pixels, added around every extracted region.
const DefaultRegionPadding = 10

// ErrEmptyRegion is returned when a padded box has no area inside the image.
var ErrEmptyRegion = errors.New("region is empty after clamping to image bounds")

// Source is a decoded image shared by concurrent region extractions.
//
// The wrapped image is never mutated. Copies are taken under a single mutex per
// image, held only for the duration of the copy.
type Source struct {
	img    image.Image
	bounds image.Rectangle
	mu     sync.Mutex
}

// NewSource wraps img for concurrent extraction.
func NewSource(img image.Image) *Source {
	return &Source{img: img, bounds: img.Bounds()}
}

// Image returns the wrapped image. Callers must treat it as read-only.
func (s *Source) Image() image.Image { return s.img }

// Width of the source image.
func (s *Source) Width() int { return s.bounds.Dx() }

// Height of the source image.
func (s *Source) Height() int { return s.bounds.Dy() }

// Clone copies the rectangle r (in zero-based pixel coordinates) into a new,
// exclusively owned image.
func (s *Source) Clone(r image.Rectangle) *image.NRGBA {
	r = r.Add(s.bounds.Min)

	s.mu.Lock()
	defer s.mu.Unlock()
	return imaging.Crop(s.img, r)
}

// PixelAt samples the RGB color at (x, y), clamped to the image bounds.
func (s *Source) PixelAt(x, y int) color.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PixelAt(s.img, x, y)
}

// Region is an extracted, encoded sub-image.
type Region struct {
	// Rect is the padded and clamped rectangle in source-image pixels.
	Rect image.Rectangle
	// Image holds the PNG encoding of the region.
	Image Image
}

// Extractor produces padded, clamped, PNG encoded regions from a Source.
type Extractor struct {
	Padding int
}

// NewExtractor returns an extractor with the given padding. Negative values
// are treated as 0.
func NewExtractor(padding int) Extractor {
	return Extractor{Padding: max(padding, 0)}
}

// Extract copies the padded box out of src and encodes it.
//
// Arguments:
//   - src: The shared source image.
//   - box: The detection box, in source-image pixels.
//
// Returns:
//   - Region: The clamped rectangle and its PNG bytes.
//   - error: ErrEmptyRegion if the padded box does not intersect the image, or
//     an encoding error.
func (e Extractor) Extract(src *Source, box Box) (Region, error) {
	if !box.Valid() {
		return Region{}, errors.Errorf("invalid box %+v", box)
	}
	rect := box.Pad(e.Padding, src.Width(), src.Height())
	if rect.Empty() {
		return Region{}, errors.Wrapf(ErrEmptyRegion, "box %+v", box)
	}

	clone := src.Clone(rect)

	encoded, err := EncodePNG(clone)
	if err != nil {
		return Region{}, errors.Wrapf(err, "failed to encode region %v", rect)
	}
	return Region{Rect: rect, Image: encoded}, nil
}

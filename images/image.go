// Package images - Image codec for loading sources and encoding regions.
package images

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Image represents an encoded image with a format, data, width, and height.
type Image struct {
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The encoded bytes of the image.
	Data []byte `json:"-" yaml:"-"`
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
}

// Load opens and decodes the image at path, applying EXIF orientation.
func Load(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open image %s", path)
	}
	return img, nil
}

// Decode decodes an encoded image held in memory.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode image")
	}
	return img, nil
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) (Image, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return Image{}, errors.Wrap(err, "failed to encode png")
	}
	b := img.Bounds()
	return Image{
		Format: FormatPNG,
		Data:   buf.Bytes(),
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// Save writes img to path, creating parent directories. The format follows the
// file extension.
func Save(img image.Image, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}
	if err := imaging.Save(img, path); err != nil {
		return errors.Wrapf(err, "failed to save image %s", path)
	}
	return nil
}

// PixelAt returns the RGB color at (x, y), clamping the point to the image bounds.
func PixelAt(img image.Image, x, y int) color.RGBA {
	b := img.Bounds()
	x = clampInt(b.Min.X+x, b.Min.X, b.Max.X-1)
	y = clampInt(b.Min.Y+y, b.Min.Y, b.Max.Y-1)
	c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}
}

// CenterColor samples the pixel at the center of img.
func CenterColor(img image.Image) color.RGBA {
	b := img.Bounds()
	return PixelAt(img, b.Dx()/2, b.Dy()/2)
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return max(lo, min(v, hi))
}

package images

import (
	"bytes"
	"image"

	// Registers WebP with image.Decode, and so with imaging.
	_ "github.com/chai2010/webp"
	"github.com/pkg/errors"
)

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants, named as the image package registers them.
const (
	FormatJPEG ImageFormat = "jpeg"
	FormatPNG  ImageFormat = "png"
	FormatWebP ImageFormat = "webp"
	FormatGIF  ImageFormat = "gif"
	FormatBMP  ImageFormat = "bmp"
	FormatTIFF ImageFormat = "tiff"
)

// DetectFormat reads the header of an encoded image.
//
// Arguments:
//   - data: The encoded bytes.
//
// Returns:
//   - Image: The format and dimensions, with Data referencing data.
//   - error: If the format is not recognized.
func DetectFormat(data []byte) (Image, error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, errors.Wrap(err, "unrecognized image format")
	}
	return Image{Format: ImageFormat(name), Data: data, Width: cfg.Width, Height: cfg.Height}, nil
}

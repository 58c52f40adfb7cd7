package inference

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Normalization maps [0, 1] channel values to (v - Mean) / Std, per channel in
// RGB order.
type Normalization struct {
	Mean [3]float32 `json:"mean" yaml:"mean"`
	Std  [3]float32 `json:"std" yaml:"std"`
}

var (
	// UnitScale leaves pixel values in [0, 1].
	UnitScale = Normalization{Mean: [3]float32{0, 0, 0}, Std: [3]float32{1, 1, 1}}
	// ImageNet is the mean/std normalization of ImageNet trained classifiers.
	ImageNet = Normalization{
		Mean: [3]float32{0.485, 0.456, 0.406},
		Std:  [3]float32{0.229, 0.224, 0.225},
	}
)

// PrepareInput resizes img to size x size and packs it into a [1, 3, size, size]
// channel-first tensor.
//
// Arguments:
//   - img: The image to prepare.
//   - size: The model's square input resolution.
//   - norm: The per-channel normalization.
//
// Returns:
//   - *tensor.Dense: The input tensor.
//   - error: An error if the input preparation fails.
func PrepareInput(img image.Image, size int, norm Normalization) (*tensor.Dense, error) {
	if size <= 0 {
		return nil, errors.Errorf("invalid input size %d", size)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, errors.New("empty image")
	}
	for _, s := range norm.Std {
		if s == 0 {
			return nil, errors.New("normalization std must be non-zero")
		}
	}

	channelSize := size * size
	data := make([]float32, channelSize*3)
	red := data[0:channelSize]
	green := data[channelSize : channelSize*2]
	blue := data[channelSize*2 : channelSize*3]

	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)
	b := resized.Bounds()

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := resized.At(x, y).RGBA()
			red[i] = (float32(r>>8)/255.0 - norm.Mean[0]) / norm.Std[0]
			green[i] = (float32(g>>8)/255.0 - norm.Mean[1]) / norm.Std[1]
			blue[i] = (float32(bl>>8)/255.0 - norm.Mean[2]) / norm.Std[2]
			i++
		}
	}

	return tensor.New(tensor.WithShape(1, 3, size, size), tensor.WithBacking(data)), nil
}

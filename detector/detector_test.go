package detector_test

import (
	"context"
	"image"
	"image/color"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/leafscan/detector"
	"github.com/nvr-ai/leafscan/images"
	"github.com/nvr-ai/leafscan/models/postprocess"
	"github.com/nvr-ai/leafscan/test"
)

func TestDetector_DetectFile(t *testing.T) {
	// 320x160 image, model input 640: x scales by 0.5, y by 0.25.
	gen := test.NewMockImageGenerator(320, 160)
	path, err := gen.WriteLeafImage(t.TempDir(), "plant.png", image.Rect(50, 25, 100, 50))
	require.NoError(t, err)

	engine := test.CornersOutput(
		[6]float32{100, 100, 200, 200, 0.8, 0},
		[6]float32{104, 100, 204, 200, 0.6, 0}, // overlaps the first
		[6]float32{400, 400, 500, 600, 0.9, 0},
		[6]float32{0, 0, 10, 10, 0.001, 0}, // below threshold
	)
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	d := detector.New(engine, detector.Config{Logger: logger})

	res, err := d.DetectFile(context.Background(), path, detector.DefaultOptions())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, path, res.ImagePath)
	assert.Equal(t, 320, res.ImageWidth)
	assert.Equal(t, 160, res.ImageHeight)
	assert.Equal(t, "corners", res.Layout)
	require.Equal(t, 2, res.Count())

	first, second := res.Detections[0], res.Detections[1]
	assert.Equal(t, 1, first.ID)
	assert.Equal(t, float32(0.9), first.Confidence)
	assert.Equal(t, images.Box{X1: 200, Y1: 100, X2: 250, Y2: 150}, first.Box)
	assert.Equal(t, "tomato_leaf", first.ClassName)

	assert.Equal(t, 2, second.ID)
	assert.Equal(t, images.Box{X1: 50, Y1: 25, X2: 100, Y2: 50}, second.Box)
	assert.InDelta(t, 100*50*25/(320.0*160.0), second.AreaPercentage, 1e-4)
	require.NotNil(t, second.CenterColor)
	assert.Equal(t, color.RGBA{R: test.LeafColor.R, G: test.LeafColor.G, B: test.LeafColor.B, A: 255}, *second.CenterColor)

	assert.Equal(t, [][]int{{1, 3, 640, 640}}, engine.InputShapes())
	require.NotEmpty(t, hook.Entries)
	assert.Equal(t, "decoded detector output", hook.LastEntry().Message)
}

func TestDetector_UnknownLayoutIsEmpty(t *testing.T) {
	engine := test.NewMockEngine([]int{4, 4}, make([]float32, 16))
	logger, hook := logtest.NewNullLogger()
	d := detector.New(engine, detector.Config{InputSize: 32, Logger: logger})

	img := test.NewMockImageGenerator(64, 64).GenerateLeafImage()
	res, err := d.Detect(context.Background(), img, detector.DefaultOptions())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Zero(t, res.Count())
	assert.Equal(t, "unknown", res.Layout)
	assert.Contains(t, res.Note, "[4 4]")
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestDetector_Errors(t *testing.T) {
	engine := test.CornersOutput([6]float32{0, 0, 10, 10, 0.9, 0})
	d := detector.New(engine, detector.Config{InputSize: 32})

	res, err := d.DetectFile(context.Background(), "/missing/plant.png", detector.DefaultOptions())
	require.Error(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, err.Error(), res.Error)
	assert.Equal(t, "/missing/plant.png", res.ImagePath)
	assert.Zero(t, res.Count())
	assert.Zero(t, engine.Calls())

	res, err = d.DetectBytes(context.Background(), []byte("nope"), "upload", detector.DefaultOptions())
	require.Error(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "failed to decode upload")
	assert.Equal(t, "upload", res.ImagePath)

	engine.Err = errors.New("session lost")
	res, err = d.Detect(context.Background(), test.NewMockImageGenerator(8, 8).GenerateLeafImage(), detector.DefaultOptions())
	assert.ErrorContains(t, err, "session lost")
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "session lost")
	assert.Equal(t, 8, res.ImageWidth)
	assert.False(t, res.End.Before(res.Start))
}

func TestDetector_DetectBytes(t *testing.T) {
	path, err := test.NewMockImageGenerator(64, 64).WriteLeafImage(t.TempDir(), "leaf.png")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	engine := test.CornersOutput(
		[6]float32{0, 0, 16, 16, 0.9, 0},
		[6]float32{16, 16, 32, 32, 0.8, 0},
	)
	d := detector.New(engine, detector.Config{InputSize: 32})

	opts := detector.DefaultOptions()
	opts.MaxDetections = 1
	opts.SampleCenterColor = false
	res, err := d.DetectBytes(context.Background(), data, "upload.png", opts)
	require.NoError(t, err)

	assert.Equal(t, "upload.png", res.ImagePath)
	require.Len(t, res.Detections, 1)
	assert.Nil(t, res.Detections[0].CenterColor)
	assert.Equal(t, images.Box{X1: 0, Y1: 0, X2: 32, Y2: 32}, res.Detections[0].Box)
	assert.False(t, res.End.Before(res.Start))
}

func TestDetector_Filter(t *testing.T) {
	engine := test.CornersOutput(
		[6]float32{0, 0, 32, 32, 0.9, 0}, // whole image
		[6]float32{4, 4, 12, 12, 0.8, 0},
	)
	d := detector.New(engine, detector.Config{InputSize: 32})

	opts := detector.DefaultOptions()
	opts.Filter = postprocess.LeafFilterIndividual
	res, err := d.Detect(context.Background(), test.NewMockImageGenerator(64, 64).GenerateLeafImage(), opts)
	require.NoError(t, err)

	require.Len(t, res.Detections, 1)
	assert.Equal(t, 1, res.Detections[0].ID)
	assert.Equal(t, float32(0.8), res.Detections[0].Confidence)
}

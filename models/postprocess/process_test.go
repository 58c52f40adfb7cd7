package postprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/leafscan/images"
	"github.com/nvr-ai/leafscan/models"
)

func TestAreaPercentage(t *testing.T) {
	tests := []struct {
		name     string
		box      images.Box
		w, h     int
		expected float32
	}{
		{"quarter", images.Box{X1: 0, Y1: 0, X2: 50, Y2: 50}, 100, 100, 25},
		{"whole image", images.Box{X1: 0, Y1: 0, X2: 100, Y2: 100}, 100, 100, 100},
		{"larger than image", images.Box{X1: -50, Y1: -50, X2: 150, Y2: 150}, 100, 100, 100},
		{"empty image", images.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, 0, 100, 0},
		{"invalid box", images.Box{X1: 10, Y1: 10, X2: 0, Y2: 0}, 100, 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, AreaPercentage(tt.box, tt.w, tt.h), 1e-4)
		})
	}
}

func TestFinalize(t *testing.T) {
	classes := models.NewOutputClassSet(models.ModelTaskDetection, "tomato_leaf")
	kept := []Candidate{
		{Box: images.Box{X1: 0, Y1: 0, X2: 20, Y2: 10}, Score: 0.9, Class: 0},
		{Box: images.Box{X1: 30, Y1: 30, X2: 40, Y2: 40}, Score: 0.8, Class: 3},
		{Box: images.Box{X1: 50, Y1: 50, X2: 60, Y2: 60}, Score: 0.7, Class: 0},
	}

	detections := Finalize(kept, 2, classes, 100, 50)
	require.Len(t, detections, 2)

	assert.Equal(t, Detection{
		ID:             1,
		Box:            kept[0].Box,
		Confidence:     0.9,
		ClassID:        0,
		ClassName:      "tomato_leaf",
		AreaPercentage: 4,
	}, detections[0])
	assert.Equal(t, 2, detections[1].ID)
	assert.Equal(t, "unknown class #3", detections[1].ClassName)
	assert.Equal(t, float32(2), detections[0].AspectRatio())

	all := Finalize(kept, 0, classes, 100, 50)
	assert.Len(t, all, 3)
	for i, d := range all {
		assert.Equal(t, i+1, d.ID)
	}
}

func TestProcess_EndToEnd(t *testing.T) {
	// Four transposed boxes: two heavy overlaps, one distinct, one below threshold.
	data := []float32{
		100, 104, 400, 500, // cx
		100, 100, 400, 500, // cy
		80, 80, 60, 40, // w
		80, 80, 60, 40, // h
		0.6, 0.9, 0.7, 0.001, // tomato_leaf
	}
	output := tensor.New(tensor.WithShape(1, 5, 4), tensor.WithBacking(data))

	out := Process(output, Config{
		ImageWidth:          640,
		ImageHeight:         640,
		InputSize:           640,
		ConfidenceThreshold: 0.007,
		IoUThreshold:        0.65,
		MaxDetections:       15,
		Classes:             models.NewOutputClassSet(models.ModelTaskDetection, models.LeafDetectorClassNames...),
	})

	assert.Equal(t, LayoutTransposed, out.Decode.Layout)
	assert.Equal(t, 1, out.Decode.Rejected)
	assert.Equal(t, 1, out.Suppressed)
	assert.Zero(t, out.Truncated)
	require.Len(t, out.Detections, 2)

	assert.Equal(t, 1, out.Detections[0].ID)
	assert.Equal(t, float32(0.9), out.Detections[0].Confidence)
	assert.Equal(t, 2, out.Detections[1].ID)
	assert.Equal(t, float32(0.7), out.Detections[1].Confidence)
	assert.InDelta(t, 100*3600.0/(640*640), out.Detections[1].AreaPercentage, 1e-4)

	capped := Process(output, Config{
		ImageWidth:    640,
		ImageHeight:   640,
		InputSize:     640,
		IoUThreshold:  0.65,
		MaxDetections: 1,
	})
	assert.Equal(t, 2, capped.Truncated)
	require.Len(t, capped.Detections, 1)
	assert.Equal(t, float32(0.9), capped.Detections[0].Confidence)
}

func TestProcess_TransposedWithoutClassTable(t *testing.T) {
	// Four disjoint single-class boxes: [1, 5, 4] cannot hold corner rows.
	data := []float32{
		50, 200, 350, 500, // cx
		50, 200, 350, 500, // cy
		40, 40, 40, 40, // w
		40, 40, 40, 40, // h
		0.9, 0.8, 0.7, 0.6, // score
	}
	output := tensor.New(tensor.WithShape(1, 5, 4), tensor.WithBacking(data))

	out := Process(output, Config{
		ImageWidth:          640,
		ImageHeight:         640,
		InputSize:           640,
		ConfidenceThreshold: 0.007,
		IoUThreshold:        0.65,
	})

	assert.Equal(t, LayoutTransposed, out.Decode.Layout)
	assert.Empty(t, out.Decode.Note)
	assert.Equal(t, 1, out.Decode.NumClasses)
	require.Len(t, out.Detections, 4)
	for i, d := range out.Detections {
		assert.Equal(t, i+1, d.ID)
	}
}

func TestProcess_UnknownLayoutIsEmpty(t *testing.T) {
	output := tensor.New(tensor.WithShape(3, 3), tensor.WithBacking(make([]float32, 9)))

	out := Process(output, Config{ImageWidth: 10, ImageHeight: 10, InputSize: 640, IoUThreshold: 0.5})
	assert.Empty(t, out.Detections)
	assert.Equal(t, LayoutUnknown, out.Decode.Layout)
	assert.NotEmpty(t, out.Decode.Note)
}

func TestLeafFilter(t *testing.T) {
	detections := []Detection{
		{ID: 1, Box: images.Box{X1: 0, Y1: 0, X2: 99, Y2: 99}, AreaPercentage: 98},
		{ID: 2, Box: images.Box{X1: 0, Y1: 0, X2: 20, Y2: 20}, AreaPercentage: 4},
		{ID: 3, Box: images.Box{X1: 0, Y1: 0, X2: 4, Y2: 40}, AreaPercentage: 1.6},
		{ID: 4, Box: images.Box{X1: 0, Y1: 0, X2: 2, Y2: 2}, AreaPercentage: 0.04},
		{ID: 5, Box: images.Box{X1: 0, Y1: 0, X2: 3, Y2: 60}, AreaPercentage: 1.8},
	}

	tests := []struct {
		filter LeafFilter
		boxes  []float32 // widths of the kept boxes
	}{
		{LeafFilterNone, []float32{99, 20, 4, 2, 3}},
		{LeafFilterIndividual, []float32{20}},
		{LeafFilterPrecise, []float32{20, 4}},
	}

	for _, tt := range tests {
		t.Run(string(tt.filter), func(t *testing.T) {
			in := append([]Detection(nil), detections...)
			kept := tt.filter.Apply(in)
			require.Len(t, kept, len(tt.boxes))
			for i, d := range kept {
				assert.Equal(t, i+1, d.ID)
				assert.Equal(t, tt.boxes[i], d.Width())
			}
		})
	}

	f, err := ParseLeafFilter("")
	require.NoError(t, err)
	assert.Equal(t, LeafFilterNone, f)
	_, err = ParseLeafFilter("loose")
	assert.EqualError(t, err, `unknown leaf filter "loose"`)
}

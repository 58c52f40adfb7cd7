package render

import (
	"image"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/leafscan/classifier"
	"github.com/nvr-ai/leafscan/images"
	"github.com/nvr-ai/leafscan/models/postprocess"
	"github.com/nvr-ai/leafscan/pipeline"
	"github.com/nvr-ai/leafscan/test"
)

func leafRecord(id int, outcome *classifier.Outcome) pipeline.LeafRecord {
	return pipeline.LeafRecord{
		Detection: postprocess.Detection{
			ID:         id,
			Box:        images.Box{X1: 10, Y1: 20, X2: 60, Y2: 70},
			Confidence: 0.42,
		},
		Outcome: outcome,
	}
}

func TestLabelAndColor(t *testing.T) {
	healthy := leafRecord(1, &classifier.Outcome{Label: "Tomato_healthy", Confidence: 0.93})
	diseased := leafRecord(2, &classifier.Outcome{Label: "Tomato_Late_blight", Confidence: 0.5})
	sentinel := classifier.Failed(nil)
	failed := leafRecord(3, &sentinel)
	failed.Error = "boom"
	detected := leafRecord(4, nil)
	broken := leafRecord(5, nil)
	broken.Error = "region is empty"

	tests := []struct {
		rec   pipeline.LeafRecord
		label string
		color any
	}{
		{healthy, "#1 Tomato_healthy 93%", HealthyColor},
		{diseased, "#2 Tomato_Late_blight 50%", DiseasedColor},
		{failed, "#3 Error", FailedColor},
		{detected, "#4 leaf 0.42", DetectedColor},
		{broken, "#5 error", FailedColor},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.label, Label(tt.rec))
			assert.Equal(t, tt.color, Color(tt.rec))
		})
	}
}

func TestAnnotator_Render(t *testing.T) {
	dir := t.TempDir()
	src, err := test.NewMockImageGenerator(120, 90).WriteLeafImage(dir, "plant.png", image.Rect(10, 20, 60, 70))
	require.NoError(t, err)

	records := []pipeline.LeafRecord{
		leafRecord(1, &classifier.Outcome{Label: "Tomato_healthy", Confidence: 0.9}),
		leafRecord(2, nil),
	}
	out := filepath.Join(dir, "out", "analysis_plant.png")
	require.NoError(t, NewAnnotator().Render(src, records, out))

	img, err := images.Load(out)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 120, 90), img.Bounds())

	assert.Error(t, NewAnnotator().Render(filepath.Join(dir, "missing.png"), records, out))
}

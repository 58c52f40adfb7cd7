package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/leafscan/analysis"
	"github.com/nvr-ai/leafscan/classifier"
	"github.com/nvr-ai/leafscan/images"
	"github.com/nvr-ai/leafscan/models/postprocess"
	"github.com/nvr-ai/leafscan/pipeline"
)

func leaf(id int, label string) pipeline.LeafRecord {
	rec := pipeline.LeafRecord{
		Detection: postprocess.Detection{ID: id, Box: images.Box{X1: 1, Y1: 2, X2: 30, Y2: 40}, Confidence: 0.8},
	}
	if label != "" {
		rec.Outcome = &classifier.Outcome{Label: label, ClassIndex: 2, Confidence: 0.7}
	}
	return rec
}

func TestStore_Record(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "leafscan.db"))
	require.NoError(t, err)
	defer s.Close()

	now := time.Now()
	ok := &analysis.AnalysisResult{
		ID:        "a1",
		ImagePath: "plant.jpg",
		Start:     now,
		End:       now.Add(time.Second),
		Success:   true,
		Records: []pipeline.LeafRecord{
			leaf(1, "Tomato_healthy"),
			leaf(2, "Tomato_Leaf_Mold"),
			leaf(3, "Tomato_healthy"),
			leaf(4, ""),
		},
		DetectionTime: 12 * time.Millisecond,
	}
	failed := &analysis.AnalysisResult{ID: "a2", ImagePath: "missing.jpg", Start: now, End: now, Error: "no such file"}

	require.NoError(t, s.Record(ctx, ok))
	require.NoError(t, s.Record(ctx, failed))

	var analyses, leaves int
	require.NoError(t, s.QueryRow("SELECT COUNT(*) FROM analyses").Scan(&analyses))
	require.NoError(t, s.QueryRow("SELECT COUNT(*) FROM leaves").Scan(&leaves))
	assert.Equal(t, 2, analyses)
	assert.Equal(t, 4, leaves)

	var success bool
	var msg string
	require.NoError(t, s.QueryRow("SELECT success, error FROM analyses WHERE analysis_id = ?", "a2").Scan(&success, &msg))
	assert.False(t, success)
	assert.Equal(t, "no such file", msg)

	counts, err := s.LabelCounts(ctx)
	require.NoError(t, err)
	want := []LabelCount{{"Tomato_healthy", 2}, {"Tomato_Leaf_Mold", 1}}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("LabelCounts() mismatch (-want +got):\n%s", diff)
	}

	// Recording the same analysis twice violates the primary key.
	assert.Error(t, s.Record(ctx, ok))
}

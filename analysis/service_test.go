package analysis_test

import (
	"context"
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/leafscan/analysis"
	"github.com/nvr-ai/leafscan/config"
	"github.com/nvr-ai/leafscan/detector"
	"github.com/nvr-ai/leafscan/pipeline"
	"github.com/nvr-ai/leafscan/profiler"
	"github.com/nvr-ai/leafscan/test"
)

// leafDetector returns a detector over a 32px model input emitting two leaves.
// On a 64x64 image they map to (8,8)-(24,24) and (32,32)-(56,56).
func leafDetector() *detector.Detector {
	engine := test.CornersOutput(
		[6]float32{4, 4, 12, 12, 0.9, 0},
		[6]float32{16, 16, 28, 28, 0.8, 0},
	)
	return detector.New(engine, detector.Config{InputSize: 32})
}

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	path, err := test.NewMockImageGenerator(64, 64).WriteLeafImage(dir, name, image.Rect(8, 8, 24, 24))
	require.NoError(t, err)
	return path
}

func quietConfig() analysis.Config {
	cfg := analysis.DefaultConfig()
	cfg.OutputDir = ""
	cfg.Workers = 2
	cfg.ImageWorkers = 2
	return cfg
}

type fakeRenderer struct {
	err   error
	calls atomic.Int64
}

func (r *fakeRenderer) Render(src string, records []pipeline.LeafRecord, out string) error {
	r.calls.Add(1)
	if r.err != nil {
		return r.err
	}
	return os.WriteFile(out, []byte("png"), 0o644)
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []*analysis.AnalysisResult
}

func (r *fakeRecorder) Record(_ context.Context, res *analysis.AnalysisResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}

func TestService_ProcessBatch_MissingImage(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeImage(t, dir, "first.png"),
		filepath.Join(dir, "missing.png"),
		writeImage(t, dir, "third.png"),
	}

	recorder := &fakeRecorder{}
	svc := analysis.NewService(quietConfig(),
		analysis.WithDetector(leafDetector()),
		analysis.WithClassifier(&test.MockClassifier{}),
		analysis.WithRecorder(recorder),
	)

	results := svc.ProcessBatch(context.Background(), paths)
	require.Len(t, results, 3)

	for i, res := range results {
		assert.Equal(t, paths[i], res.ImagePath)
		assert.NotEmpty(t, res.ID)
	}

	assert.False(t, results[1].Success)
	assert.NotEmpty(t, results[1].Error)
	assert.Empty(t, results[1].Records)

	for _, i := range []int{0, 2} {
		res := results[i]
		require.True(t, res.Success, res.Error)
		assert.Equal(t, 64, res.ImageWidth)
		assert.Equal(t, "corners", res.Layout)
		require.Len(t, res.Records, 2)
		assert.Equal(t, 1, res.Records[0].ID())
		assert.Equal(t, 2, res.Records[1].ID())
		assert.True(t, res.Records[0].Classified())
		assert.Equal(t, 2, res.Summary().Classified)
		assert.False(t, res.End.Before(res.Start))
	}

	assert.Len(t, recorder.results, 3)
}

func TestService_LoaderRunsOnce(t *testing.T) {
	var calls atomic.Int64
	svc := analysis.NewService(quietConfig(), analysis.WithLoader(func() (analysis.Detector, pipeline.Classifier, error) {
		calls.Add(1)
		return nil, nil, errors.New("model not found: leaf.onnx")
	}))

	dir := t.TempDir()
	results := svc.ProcessBatch(context.Background(), []string{
		writeImage(t, dir, "a.png"),
		writeImage(t, dir, "b.png"),
	})

	require.Len(t, results, 2)
	for _, res := range results {
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "model not found")
	}
	assert.Equal(t, int64(1), calls.Load())
}

func TestService_NoDetector(t *testing.T) {
	svc := analysis.NewService(quietConfig())
	res := svc.ProcessImage(context.Background(), writeImage(t, t.TempDir(), "a.png"))
	assert.False(t, res.Success)
	assert.Equal(t, analysis.ErrNoDetector.Error(), res.Error)
}

func TestService_ExtractOnly(t *testing.T) {
	cfg := quietConfig()
	cfg.Classify = false
	mock := &test.MockClassifier{}
	svc := analysis.NewService(cfg,
		analysis.WithDetector(leafDetector()),
		analysis.WithClassifier(mock),
	)

	res := svc.ProcessImage(context.Background(), writeImage(t, t.TempDir(), "a.png"))
	require.True(t, res.Success)
	require.Len(t, res.Records, 2)
	for _, rec := range res.Records {
		assert.Nil(t, rec.Outcome)
		assert.NotEmpty(t, rec.Region)
	}
	assert.Zero(t, mock.Calls())
	assert.Zero(t, res.Summary().Classified)
}

func TestService_Save(t *testing.T) {
	out := t.TempDir()
	cfg := quietConfig()
	cfg.OutputDir = out

	renderer := &fakeRenderer{}
	prof := profiler.New(0)
	svc := analysis.NewService(cfg,
		analysis.WithDetector(leafDetector()),
		analysis.WithClassifier(&test.MockClassifier{}),
		analysis.WithRenderer(renderer),
		analysis.WithProfiler(prof),
	)

	res := svc.ProcessImage(context.Background(), writeImage(t, t.TempDir(), "plant.png"))
	require.True(t, res.Success)
	assert.Empty(t, res.SaveError)

	stem := analysis.OutputStem(res.ImagePath, res.Start)
	assert.True(t, strings.HasPrefix(stem, "analysis_plant_"))
	assert.Equal(t, filepath.Join(out, stem+".png"), res.OutputPath)
	assert.FileExists(t, res.OutputPath)
	require.FileExists(t, res.ManifestPath)

	data, err := os.ReadFile(res.ManifestPath)
	require.NoError(t, err)
	var manifest struct {
		ImagePath string `json:"image_path"`
		Records   []any  `json:"records"`
		Summary   struct {
			Leaves int `json:"leaves"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.Equal(t, res.ImagePath, manifest.ImagePath)
	assert.Len(t, manifest.Records, 2)
	assert.Equal(t, 2, manifest.Summary.Leaves)

	names := map[string]bool{}
	for _, s := range prof.Stats() {
		names[s.Name] = true
	}
	for _, phase := range []string{profiler.PhaseLoad, profiler.PhaseDetection, profiler.PhaseClassification, profiler.PhaseSave, profiler.PhaseImage} {
		assert.True(t, names[phase], phase)
	}
}

func TestService_SaveFailureKeepsResults(t *testing.T) {
	cfg := quietConfig()
	cfg.OutputDir = t.TempDir()

	logger, hook := logtest.NewNullLogger()
	svc := analysis.NewService(cfg,
		analysis.WithDetector(leafDetector()),
		analysis.WithClassifier(&test.MockClassifier{}),
		analysis.WithRenderer(&fakeRenderer{err: errors.New("disk full")}),
		analysis.WithLogger(logger),
	)

	res := svc.ProcessImage(context.Background(), writeImage(t, t.TempDir(), "plant.png"))
	assert.True(t, res.Success)
	assert.Contains(t, res.SaveError, "disk full")
	assert.Empty(t, res.OutputPath)
	assert.Len(t, res.Records, 2)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "failed to save analysis output" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestOutputStem(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "analysis_leaf_01_20240309_140507", analysis.OutputStem("/data/leaf_01.jpg", ts))
}

func TestModels_MissingArtifact(t *testing.T) {
	opts := config.Default()
	opts.Detector.ModelPath = filepath.Join(t.TempDir(), "absent.onnx")

	m := analysis.NewModels(opts, nil)
	svc := analysis.NewService(quietConfig(), analysis.WithLoader(m.Load))

	res := svc.ProcessImage(context.Background(), writeImage(t, t.TempDir(), "a.png"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "leaf detector")
	assert.Contains(t, res.Error, "model not found")

	assert.Empty(t, m.Metrics())
	assert.NoError(t, m.Close())
}

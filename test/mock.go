package test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	_ "image/png"
	"math/rand"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/leafscan/classifier"
	"github.com/nvr-ai/leafscan/images"
)

// Colors used by the generated leaf images.
var (
	SoilColor = color.NRGBA{R: 120, G: 84, B: 52, A: 255}
	LeafColor = color.NRGBA{R: 46, G: 139, B: 60, A: 255}
)

// MockImageGenerator creates deterministic leaf images for idempotent testing.
//
// Arguments:
// - width: Image width in pixels.
// - height: Image height in pixels.
//
// @example
// gen := NewMockImageGenerator(640, 480)
// img := gen.GenerateLeafImage(image.Rect(100, 100, 200, 180))
type MockImageGenerator struct {
	width  int
	height int
	seed   int64
}

// NewMockImageGenerator creates a new generator with specified dimensions.
func NewMockImageGenerator(width, height int) *MockImageGenerator {
	return &MockImageGenerator{
		width:  width,
		height: height,
		seed:   42, // Deterministic seed for reproducibility.
	}
}

// GenerateLeafImage paints a soil background with one green rectangle per leaf.
// A little deterministic noise keeps PNG encodings non-trivial.
func (g *MockImageGenerator) GenerateLeafImage(leaves ...image.Rectangle) *image.NRGBA {
	rng := rand.New(rand.NewSource(g.seed))
	img := image.NewNRGBA(image.Rect(0, 0, g.width, g.height))
	for y := 0; y < g.height; y++ {
		for x := 0; x < g.width; x++ {
			c := SoilColor
			c.R += uint8(rng.Intn(4))
			img.SetNRGBA(x, y, c)
		}
	}
	for _, leaf := range leaves {
		r := leaf.Intersect(img.Bounds())
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				img.SetNRGBA(x, y, LeafColor)
			}
		}
	}
	return img
}

// WriteLeafImage generates an image and saves it as dir/name.
//
// Returns:
// - The path of the written file.
func (g *MockImageGenerator) WriteLeafImage(dir, name string, leaves ...image.Rectangle) (string, error) {
	path := filepath.Join(dir, name)
	if err := images.Save(g.GenerateLeafImage(leaves...), path); err != nil {
		return "", err
	}
	return path, nil
}

// MockEngine is an inference engine returning a canned output tensor.
type MockEngine struct {
	Shape []int
	Data  []float32
	// Err, when set, is returned by every Run.
	Err error
	// Delay is slept before returning.
	Delay time.Duration

	calls  atomic.Int64
	mu     sync.Mutex
	inputs [][]int
	closed bool
}

// NewMockEngine returns an engine whose every run yields a copy of data with shape.
func NewMockEngine(shape []int, data []float32) *MockEngine {
	return &MockEngine{Shape: shape, Data: data}
}

// CornersOutput builds a [1, n, 6] detector output from rows of
// x1, y1, x2, y2, confidence, classId in model input space.
func CornersOutput(rows ...[6]float32) *MockEngine {
	data := make([]float32, 0, 6*len(rows))
	for _, r := range rows {
		data = append(data, r[:]...)
	}
	return NewMockEngine([]int{1, len(rows), 6}, data)
}

// Run implements inference.Engine.
func (m *MockEngine) Run(ctx context.Context, input *tensor.Dense) (*tensor.Dense, error) {
	m.calls.Add(1)

	m.mu.Lock()
	m.inputs = append(m.inputs, []int(input.Shape().Clone()))
	m.mu.Unlock()

	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	backing := append([]float32(nil), m.Data...)
	return tensor.New(tensor.WithShape(m.Shape...), tensor.WithBacking(backing)), nil
}

// Close implements inference.Engine.
func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns the number of runs.
func (m *MockEngine) Calls() int64 { return m.calls.Load() }

// Closed reports whether Close was called.
func (m *MockEngine) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// InputShapes returns the shapes of every input seen.
func (m *MockEngine) InputShapes() [][]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]int(nil), m.inputs...)
}

// ErrMockClassification is returned by MockClassifier for failing regions.
var ErrMockClassification = errors.New("mock classification failure")

// MockClassifier classifies regions by their decoded size.
//
// Delay and Fail receive the width and height of the region, which lets tests
// tie behavior to a specific detection through its box size.
type MockClassifier struct {
	Label string
	Delay func(width, height int) time.Duration
	Fail  func(width, height int) bool
	Panic func(width, height int) bool

	calls   atomic.Int64
	active  atomic.Int64
	maxSeen atomic.Int64
}

// Classify implements the pipeline classifier.
func (m *MockClassifier) Classify(ctx context.Context, data []byte) (classifier.Outcome, error) {
	m.calls.Add(1)
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		seen := m.maxSeen.Load()
		if n <= seen || m.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return classifier.Outcome{}, errors.Wrap(err, "mock classifier could not decode region")
	}
	if m.Delay != nil {
		time.Sleep(m.Delay(cfg.Width, cfg.Height))
	}
	if m.Panic != nil && m.Panic(cfg.Width, cfg.Height) {
		panic("mock classifier panic")
	}
	if m.Fail != nil && m.Fail(cfg.Width, cfg.Height) {
		return classifier.Outcome{}, ErrMockClassification
	}

	label := m.Label
	if label == "" {
		label = "Tomato_healthy"
	}
	return classifier.Outcome{
		Label:      label,
		ClassIndex: 2,
		Confidence: 0.9,
		Probabilities: []classifier.ClassProbability{
			{Class: label, Probability: 0.9},
		},
	}, nil
}

// Calls returns the number of classifications attempted.
func (m *MockClassifier) Calls() int64 { return m.calls.Load() }

// MaxConcurrent returns the highest number of simultaneous classifications seen.
func (m *MockClassifier) MaxConcurrent() int64 { return m.maxSeen.Load() }

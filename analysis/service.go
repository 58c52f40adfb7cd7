package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/leafscan/config"
	"github.com/nvr-ai/leafscan/detector"
	"github.com/nvr-ai/leafscan/images"
	"github.com/nvr-ai/leafscan/pipeline"
	"github.com/nvr-ai/leafscan/profiler"
)

// ErrNoDetector is returned when the service has no detector to run.
var ErrNoDetector = errors.New("no leaf detector configured")

// Detector finds leaves in a decoded image.
type Detector interface {
	Detect(ctx context.Context, img image.Image, opts detector.Options) (*detector.Result, error)
}

// Renderer draws the records of an analyzed image to outPath.
type Renderer interface {
	Render(srcPath string, records []pipeline.LeafRecord, outPath string) error
}

// Recorder persists finished results.
type Recorder interface {
	Record(ctx context.Context, result *AnalysisResult) error
}

// Loader creates the models on first use. The classifier may be nil.
type Loader func() (Detector, pipeline.Classifier, error)

// Config configures a Service.
type Config struct {
	Detection detector.Options
	// Classify enables classification. When false regions are only extracted.
	Classify bool
	Padding  int
	// Workers bounds the leaf tasks of one image.
	Workers int
	// ImageWorkers bounds the images of a batch processed at once.
	ImageWorkers int
	// OutputDir receives the annotated images and manifests. Empty disables saving.
	OutputDir string
}

// DefaultConfig returns the integrated analysis defaults.
func DefaultConfig() Config {
	return NewConfig(config.Default())
}

// NewConfig derives the service configuration from validated options.
func NewConfig(opts config.Options) Config {
	det := detector.DefaultOptions()
	det.ConfidenceThreshold = opts.ConfidenceThreshold
	det.IoUThreshold = opts.IoUThreshold
	det.MaxDetections = opts.MaxDetections
	det.ClassAware = opts.ClassAware
	det.Filter = opts.Filter()

	return Config{
		Detection:    det,
		Classify:     opts.Classify,
		Padding:      opts.RegionPadding,
		Workers:      opts.Workers,
		ImageWorkers: opts.ImageWorkers,
		OutputDir:    opts.OutputDir,
	}
}

// Option configures a Service.
type Option func(*Service)

// WithDetector sets the detector directly.
func WithDetector(d Detector) Option {
	return func(s *Service) { s.detector = d }
}

// WithClassifier sets the classifier directly.
func WithClassifier(c pipeline.Classifier) Option {
	return func(s *Service) { s.classifier = c }
}

// WithLoader defers model creation to the first processed image.
func WithLoader(l Loader) Option {
	return func(s *Service) { s.loader = l }
}

// WithRenderer sets the annotated image renderer.
func WithRenderer(r Renderer) Option {
	return func(s *Service) { s.renderer = r }
}

// WithRecorder persists every result.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.logger = l }
}

// WithProfiler records phase timings.
func WithProfiler(p *profiler.Profiler) Option {
	return func(s *Service) { s.profiler = p }
}

// Service analyzes images: detection, then parallel classification of every
// detected leaf, then optional save and recording.
type Service struct {
	cfg        Config
	detector   Detector
	classifier pipeline.Classifier
	loader     Loader
	renderer   Renderer
	recorder   Recorder
	logger     logrus.FieldLogger
	profiler   *profiler.Profiler

	once    sync.Once
	loadErr error
	// active is the classifier handed to each image's pipeline, nil when
	// classification is disabled.
	active pipeline.Classifier
}

// NewService creates a service.
//
// @example
// svc := analysis.NewService(analysis.DefaultConfig(), analysis.WithDetector(det))
// result := svc.ProcessImage(ctx, "plant.jpg")
func NewService(cfg Config, opts ...Option) *Service {
	if cfg.ImageWorkers <= 0 {
		cfg.ImageWorkers = runtime.NumCPU()
	}
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	return s
}

// init loads the models once. Later calls return the first outcome.
func (s *Service) init() error {
	s.once.Do(func() {
		if s.loader != nil {
			d, c, err := s.loader()
			if err != nil {
				s.loadErr = errors.Wrap(err, "failed to load models")
				return
			}
			s.detector, s.classifier = d, c
		}
		if s.detector == nil {
			s.loadErr = ErrNoDetector
			return
		}
		if s.cfg.Classify {
			s.active = s.classifier
		}
	})
	return s.loadErr
}

// ProcessImage analyzes the image at path. It never panics and always returns
// a result; failures are reported through Success and Error.
func (s *Service) ProcessImage(ctx context.Context, path string) (res *AnalysisResult) {
	res = &AnalysisResult{ID: uuid.NewString(), ImagePath: path, Start: time.Now(), Records: []pipeline.LeafRecord{}}
	log := s.logger.WithFields(logrus.Fields{"image": path, "analysis_id": res.ID})

	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Error = fmt.Sprintf("panic: %v", r)
			log.WithField("panic", r).Error("image analysis panicked")
		}
		res.End = time.Now()
		s.profiler.Record(profiler.PhaseImage, res.TotalTime())
		s.record(ctx, res, log)
	}()

	if err := s.init(); err != nil {
		s.fail(res, log, err)
		return res
	}

	loadStart := time.Now()
	img, err := images.Load(path)
	s.profiler.Record(profiler.PhaseLoad, time.Since(loadStart))
	if err != nil {
		s.fail(res, log, err)
		return res
	}
	res.ImageWidth, res.ImageHeight = img.Bounds().Dx(), img.Bounds().Dy()

	det, err := s.detector.Detect(ctx, img, s.cfg.Detection)
	if err != nil {
		s.fail(res, log, err)
		return res
	}
	res.DetectionTime = det.Duration()
	res.Layout, res.Note = det.Layout, det.Note
	s.profiler.Record(profiler.PhaseDetection, res.DetectionTime)

	pipe := pipeline.New(pipeline.Config{
		Padding: s.cfg.Padding,
		Workers: s.cfg.Workers,
		Logger:  log,
	}, s.active)
	out := pipe.Run(ctx, images.NewSource(img), det.Detections)
	res.Records = out.Records
	res.ClassificationTime = out.ClassificationTime
	s.profiler.Record(profiler.PhaseClassification, out.ClassificationTime)
	res.Success = true

	if s.cfg.OutputDir != "" {
		start := time.Now()
		if err := s.save(res); err != nil {
			res.SaveError = err.Error()
			log.WithError(err).Warn("failed to save analysis output")
		}
		res.SaveTime = time.Since(start)
		s.profiler.Record(profiler.PhaseSave, res.SaveTime)
	}

	summary := res.Summary()
	log.WithFields(logrus.Fields{
		"leaves":              summary.Leaves,
		"classified":          summary.Classified,
		"failed":              summary.Failed,
		"detection_time":      res.DetectionTime.Round(time.Millisecond),
		"classification_time": res.ClassificationTime.Round(time.Millisecond),
	}).Info("analyzed image")
	return res
}

// ProcessBatch analyzes every path concurrently, at most ImageWorkers at a
// time. Results are in the order of paths, whatever the completion order.
func (s *Service) ProcessBatch(ctx context.Context, paths []string) []*AnalysisResult {
	batchID := uuid.NewString()
	start := time.Now()
	results := make([]*AnalysisResult, len(paths))

	sem := make(chan struct{}, s.cfg.ImageWorkers)
	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = s.ProcessImage(ctx, path)
		}(i, path)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	s.logger.WithFields(logrus.Fields{
		"batch_id": batchID,
		"images":   len(paths),
		"failed":   failed,
		"elapsed":  time.Since(start).Round(time.Millisecond),
	}).Info("batch complete")
	return results
}

func (s *Service) fail(res *AnalysisResult, log logrus.FieldLogger, err error) {
	res.Success = false
	res.Error = err.Error()
	log.WithError(err).Error("image analysis failed")
}

func (s *Service) record(ctx context.Context, res *AnalysisResult, log logrus.FieldLogger) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, res); err != nil {
		log.WithError(err).Warn("failed to record analysis")
	}
}

// OutputStem returns analysis_<name>_<yyyyMMdd_HHmmss> for an image analyzed at t.
func OutputStem(imagePath string, t time.Time) string {
	name := strings.TrimSuffix(filepath.Base(imagePath), filepath.Ext(imagePath))
	return fmt.Sprintf("analysis_%s_%s", name, t.Format("20060102_150405"))
}

// save writes the annotated image, when a renderer is set, and the manifest.
func (s *Service) save(res *AnalysisResult) error {
	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create output directory %s", s.cfg.OutputDir)
	}
	stem := filepath.Join(s.cfg.OutputDir, OutputStem(res.ImagePath, res.Start))

	if s.renderer != nil {
		out := stem + ".png"
		if err := s.renderer.Render(res.ImagePath, res.Records, out); err != nil {
			return errors.Wrap(err, "failed to render annotated image")
		}
		res.OutputPath = out
	}

	manifest := stem + ".json"
	res.ManifestPath = manifest
	data, err := json.MarshalIndent(struct {
		*AnalysisResult
		Summary Summary `json:"summary"`
	}{res, res.Summary()}, "", "  ")
	if err != nil {
		res.ManifestPath = ""
		return errors.Wrap(err, "failed to encode manifest")
	}
	if err := os.WriteFile(manifest, data, 0o644); err != nil {
		res.ManifestPath = ""
		return errors.Wrapf(err, "failed to write manifest %s", manifest)
	}
	return nil
}

// Package pipeline - Parallel per-region classification of detections.
package pipeline

import (
	"context"
	"image"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/leafscan/classifier"
	"github.com/nvr-ai/leafscan/images"
	"github.com/nvr-ai/leafscan/models/postprocess"
)

// Classifier labels one encoded region.
type Classifier interface {
	Classify(ctx context.Context, data []byte) (classifier.Outcome, error)
}

// LeafRecord joins one detection with its extracted region and, when
// classification ran, its outcome.
type LeafRecord struct {
	Detection postprocess.Detection `json:"detection"`
	// Outcome is nil when classification is disabled.
	Outcome *classifier.Outcome `json:"outcome,omitempty"`
	// Region is the PNG encoded, padded crop. Empty when extraction failed.
	Region     []byte          `json:"-"`
	RegionRect image.Rectangle `json:"region_rect"`
	// Elapsed is the wall-clock time of this record's extraction and classification.
	Elapsed time.Duration `json:"elapsed"`
	// Error describes an extraction or classification failure.
	Error string `json:"error,omitempty"`
}

// ID returns the detection identifier.
func (r LeafRecord) ID() int { return r.Detection.ID }

// Classified reports whether the record carries a successful classification.
func (r LeafRecord) Classified() bool {
	return r.Outcome != nil && !r.Outcome.Failed
}

// Failed reports whether extraction or classification failed.
func (r LeafRecord) Failed() bool {
	return r.Error != "" || (r.Outcome != nil && r.Outcome.Failed)
}

// Result is the ordered record set of one image.
type Result struct {
	// Records are sorted by detection identifier.
	Records []LeafRecord
	// ClassificationTime is the sum of every record's Elapsed time.
	ClassificationTime time.Duration
	// WallTime is the elapsed time of the whole fan-out.
	WallTime time.Duration
}

// Config configures a Pipeline.
type Config struct {
	// Padding added around each region, in pixels.
	Padding int
	// Workers bounds concurrent tasks. 0 uses runtime.NumCPU().
	Workers int
	Logger  logrus.FieldLogger
}

// Pipeline fans detections out to a bounded worker pool.
type Pipeline struct {
	extractor  images.Extractor
	classifier Classifier
	workers    int
	logger     logrus.FieldLogger
}

// New creates a pipeline. A nil classifier extracts regions only.
func New(cfg Config, c Classifier) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Pipeline{
		extractor:  images.NewExtractor(cfg.Padding),
		classifier: c,
		workers:    cfg.Workers,
		logger:     cfg.Logger,
	}
}

// Workers returns the size of the worker pool.
func (p *Pipeline) Workers() int { return p.workers }

// Run extracts and classifies every detection of src.
//
// Tasks complete in any order; the returned records are sorted by detection
// identifier. A failing task yields a record with the failure sentinel and
// never affects its siblings. Run returns once every task has finished.
func (p *Pipeline) Run(ctx context.Context, src *images.Source, detections []postprocess.Detection) Result {
	start := time.Now()
	if len(detections) == 0 {
		return Result{Records: []LeafRecord{}}
	}

	jobs := make(chan postprocess.Detection)
	results := make(chan LeafRecord, len(detections))

	var wg sync.WaitGroup
	for w := 0; w < min(p.workers, len(detections)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for det := range jobs {
				results <- p.process(ctx, src, det)
			}
		}()
	}

	for _, det := range detections {
		jobs <- det
	}
	close(jobs)
	wg.Wait()
	close(results)

	res := Result{Records: make([]LeafRecord, 0, len(detections))}
	for rec := range results {
		res.ClassificationTime += rec.Elapsed
		res.Records = append(res.Records, rec)
	}
	sort.SliceStable(res.Records, func(i, j int) bool {
		return res.Records[i].ID() < res.Records[j].ID()
	})
	res.WallTime = time.Since(start)
	return res
}

// process runs one task. Panics are recovered into a failed record.
func (p *Pipeline) process(ctx context.Context, src *images.Source, det postprocess.Detection) (rec LeafRecord) {
	rec = LeafRecord{Detection: det}
	start := time.Now()
	log := p.logger.WithField("leaf_id", det.ID)

	defer func() {
		if r := recover(); r != nil {
			p.fail(&rec, errors.Errorf("panic: %v", r))
			log.WithField("panic", r).Error("leaf task panicked")
		}
		rec.Elapsed = time.Since(start)
	}()

	region, err := p.extractor.Extract(src, det.Box)
	if err != nil {
		p.fail(&rec, err)
		log.WithError(err).Warn("region extraction failed")
		return rec
	}
	rec.Region = region.Image.Data
	rec.RegionRect = region.Rect

	if p.classifier == nil {
		return rec
	}

	outcome, err := p.classifier.Classify(ctx, region.Image.Data)
	if err != nil {
		p.fail(&rec, err)
		log.WithError(err).Warn("classification failed")
		return rec
	}
	rec.Outcome = &outcome
	return rec
}

func (p *Pipeline) fail(rec *LeafRecord, err error) {
	rec.Error = err.Error()
	if p.classifier != nil {
		o := classifier.Failed(err)
		rec.Outcome = &o
	}
}

// Package detector - Leaf detection on whole images.
package detector

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/leafscan/images"
	"github.com/nvr-ai/leafscan/inference"
	"github.com/nvr-ai/leafscan/models"
	"github.com/nvr-ai/leafscan/models/postprocess"
)

// Options are the per-call detection settings.
type Options struct {
	ConfidenceThreshold float32
	IoUThreshold        float32
	// MaxDetections caps the detections kept after suppression. 0 keeps all.
	MaxDetections int
	ClassAware    bool
	Filter        postprocess.LeafFilter
	// SampleCenterColor fills Detection.CenterColor.
	SampleCenterColor bool
}

// DefaultOptions returns the thresholds used by the integrated analysis.
func DefaultOptions() Options {
	return Options{
		ConfidenceThreshold: 0.007,
		IoUThreshold:        0.65,
		MaxDetections:       15,
		Filter:              postprocess.LeafFilterNone,
		SampleCenterColor:   true,
	}
}

// Result is the outcome of detecting leaves in one image.
type Result struct {
	ImagePath   string                  `json:"image_path,omitempty"`
	ImageWidth  int                     `json:"image_width"`
	ImageHeight int                     `json:"image_height"`
	Detections  []postprocess.Detection `json:"detections"`
	Start       time.Time               `json:"start"`
	End         time.Time               `json:"end"`
	Options     Options                 `json:"options"`
	// Layout and Note carry the decode diagnostics.
	Layout string `json:"layout"`
	Note   string `json:"note,omitempty"`
	// Success is false only when the image could not be opened or inference failed.
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Duration returns the time spent detecting.
func (r *Result) Duration() time.Duration { return r.End.Sub(r.Start) }

// Count returns the number of detections.
func (r *Result) Count() int { return len(r.Detections) }

// Config configures a Detector.
type Config struct {
	// InputSize is the model's square input resolution.
	InputSize int
	Classes   *models.OutputClassSet
	Logger    logrus.FieldLogger
}

// Detector finds leaves with an inference engine.
type Detector struct {
	engine    inference.Engine
	inputSize int
	classes   *models.OutputClassSet
	logger    logrus.FieldLogger
}

// New creates a detector over engine. Zero config fields take the defaults of
// the tomato leaf model.
func New(engine inference.Engine, cfg Config) *Detector {
	if cfg.InputSize <= 0 {
		cfg.InputSize = models.DefaultDetectionInputSize
	}
	if cfg.Classes == nil {
		cfg.Classes = models.NewOutputClassSet(models.ModelTaskDetection, models.LeafDetectorClassNames...)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Detector{
		engine:    engine,
		inputSize: cfg.InputSize,
		classes:   cfg.Classes,
		logger:    cfg.Logger,
	}
}

// Detect runs the detector on a decoded image.
//
// An undecodable output tensor is not an error: it yields no detections and
// the decode diagnostics are logged and reported in the result.
//
// Arguments:
//   - ctx: The context for the inference.
//   - img: The source image.
//   - opts: Thresholds and limits.
//
// Returns:
//   - *Result: The finished detections, numbered 1..k by descending confidence.
//     On failure it is still returned, with Success false and Error set.
//   - error: If input preparation or inference fails.
func (d *Detector) Detect(ctx context.Context, img image.Image, opts Options) (*Result, error) {
	res := &Result{Start: time.Now(), Options: opts, Detections: []postprocess.Detection{}}
	b := img.Bounds()
	res.ImageWidth, res.ImageHeight = b.Dx(), b.Dy()

	input, err := inference.PrepareInput(img, d.inputSize, inference.UnitScale)
	if err != nil {
		return res.fail(errors.Wrap(err, "failed to prepare detector input"))
	}
	output, err := d.engine.Run(ctx, input)
	if err != nil {
		return res.fail(errors.Wrap(err, "detector inference failed"))
	}

	out := postprocess.Process(output, postprocess.Config{
		ImageWidth:          res.ImageWidth,
		ImageHeight:         res.ImageHeight,
		InputSize:           d.inputSize,
		ConfidenceThreshold: opts.ConfidenceThreshold,
		IoUThreshold:        opts.IoUThreshold,
		MaxDetections:       opts.MaxDetections,
		ClassAware:          opts.ClassAware,
		Filter:              opts.Filter,
		Classes:             d.classes,
	})
	d.logDecode(out)

	if opts.SampleCenterColor {
		for i := range out.Detections {
			cx, cy := out.Detections[i].Center()
			c := images.PixelAt(img, cx, cy)
			out.Detections[i].CenterColor = &c
		}
	}

	res.Detections = out.Detections
	res.Layout = out.Decode.Layout.String()
	res.Note = out.Decode.Note
	res.Success = true
	res.End = time.Now()
	return res, nil
}

// DetectFile loads the image at path and detects leaves in it. It fails only
// when the image cannot be opened or inference fails; the failed result is
// returned together with the error.
func (d *Detector) DetectFile(ctx context.Context, path string, opts Options) (*Result, error) {
	img, err := images.Load(path)
	if err != nil {
		res := &Result{ImagePath: path, Start: time.Now(), Options: opts, Detections: []postprocess.Detection{}}
		return res.fail(err)
	}
	res, err := d.Detect(ctx, img, opts)
	res.ImagePath = path
	return res, err
}

// DetectBytes decodes an encoded image and detects leaves in it.
func (d *Detector) DetectBytes(ctx context.Context, data []byte, name string, opts Options) (*Result, error) {
	img, err := images.Decode(data)
	if err != nil {
		res := &Result{ImagePath: name, Start: time.Now(), Options: opts, Detections: []postprocess.Detection{}}
		return res.fail(errors.Wrapf(err, "failed to decode %s", name))
	}
	res, err := d.Detect(ctx, img, opts)
	res.ImagePath = name
	return res, err
}

func (r *Result) fail(err error) (*Result, error) {
	r.Success = false
	r.Error = err.Error()
	r.End = time.Now()
	return r, err
}

// Close releases the engine.
func (d *Detector) Close() error {
	return d.engine.Close()
}

func (d *Detector) logDecode(out postprocess.Output) {
	fields := logrus.Fields{
		"layout":     out.Decode.Layout.String(),
		"shape":      out.Decode.Shape,
		"boxes":      out.Decode.NumBoxes,
		"rejected":   out.Decode.Rejected,
		"discarded":  out.Decode.Discarded,
		"suppressed": out.Suppressed,
		"truncated":  out.Truncated,
		"detections": len(out.Detections),
	}
	if out.Decode.Layout == postprocess.LayoutUnknown {
		d.logger.WithFields(fields).Warnf("unrecognized detector output: %s", out.Decode.Note)
		return
	}
	entry := d.logger.WithFields(fields)
	if out.Decode.Note != "" {
		entry = entry.WithField("note", out.Decode.Note)
	}
	entry.Debug("decoded detector output")
}

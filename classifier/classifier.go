// Package classifier - Leaf disease classification of extracted regions.
package classifier

import (
	"context"
	"image"
	"sort"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/leafscan/images"
	"github.com/nvr-ai/leafscan/inference"
	"github.com/nvr-ai/leafscan/models"
)

// FailedLabel is the predicted label of a failed classification.
const FailedLabel = "Error"

// ErrEmptyInput is returned when there are no image bytes to classify.
var ErrEmptyInput = errors.New("empty classification input")

// ClassProbability is the probability of one class.
type ClassProbability struct {
	Class       string  `json:"class"`
	Probability float32 `json:"probability"`
}

// Outcome is the result of classifying one region.
//
// A failed classification is an Outcome too: see Failed.
type Outcome struct {
	Label      string  `json:"label"`
	ClassIndex int     `json:"class_index"`
	Confidence float32 `json:"confidence"`
	// Probabilities is the softmax distribution, ordered by class index.
	Probabilities []ClassProbability `json:"probabilities,omitempty"`
	Failed        bool               `json:"failed,omitempty"`
	Err           string             `json:"error,omitempty"`
}

// Failed returns the sentinel outcome for a classification that could not run.
func Failed(err error) Outcome {
	o := Outcome{Label: FailedLabel, ClassIndex: -1, Failed: true}
	if err != nil {
		o.Err = err.Error()
	}
	return o
}

// Top returns the n most probable classes in descending order.
func (o Outcome) Top(n int) []ClassProbability {
	sorted := append([]ClassProbability(nil), o.Probabilities...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Probability > sorted[j].Probability
	})
	if n >= 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// Config configures a Classifier.
type Config struct {
	// InputSize is the model's square input resolution.
	InputSize     int
	Normalization inference.Normalization
	Classes       *models.OutputClassSet
	Logger        logrus.FieldLogger
}

// Classifier labels leaf regions with an inference engine.
type Classifier struct {
	engine    inference.Engine
	inputSize int
	norm      inference.Normalization
	classes   *models.OutputClassSet
	logger    logrus.FieldLogger
}

// New creates a classifier over engine. Zero config fields take the defaults
// of the tomato disease model.
func New(engine inference.Engine, cfg Config) *Classifier {
	if cfg.InputSize <= 0 {
		cfg.InputSize = models.DefaultClassificationInputSize
	}
	if cfg.Normalization == (inference.Normalization{}) {
		cfg.Normalization = inference.ImageNet
	}
	if cfg.Classes == nil {
		cfg.Classes = models.NewOutputClassSet(models.ModelTaskClassification, models.DiseaseClassNames...)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Classifier{
		engine:    engine,
		inputSize: cfg.InputSize,
		norm:      cfg.Normalization,
		classes:   cfg.Classes,
		logger:    cfg.Logger,
	}
}

// Classify decodes an encoded image and classifies it.
func (c *Classifier) Classify(ctx context.Context, data []byte) (Outcome, error) {
	if len(data) == 0 {
		return Outcome{}, ErrEmptyInput
	}
	img, err := images.Decode(data)
	if err != nil {
		return Outcome{}, err
	}
	return c.ClassifyImage(ctx, img)
}

// ClassifyFile loads and classifies the image at path.
func (c *Classifier) ClassifyFile(ctx context.Context, path string) (Outcome, error) {
	img, err := images.Load(path)
	if err != nil {
		return Outcome{}, err
	}
	return c.ClassifyImage(ctx, img)
}

// ClassifyImage classifies a decoded image.
func (c *Classifier) ClassifyImage(ctx context.Context, img image.Image) (Outcome, error) {
	input, err := inference.PrepareInput(img, c.inputSize, c.norm)
	if err != nil {
		return Outcome{}, errors.Wrap(err, "failed to prepare classifier input")
	}

	output, err := c.engine.Run(ctx, input)
	if err != nil {
		return Outcome{}, errors.Wrap(err, "classifier inference failed")
	}

	logits, ok := output.Data().([]float32)
	if !ok || len(logits) == 0 {
		return Outcome{}, errors.Errorf("malformed classifier output with shape %v", output.Shape())
	}
	return c.outcome(Softmax(logits)), nil
}

// ClassifyBatch classifies every input, in order. Inputs that fail yield the
// Failed sentinel at their position.
func (c *Classifier) ClassifyBatch(ctx context.Context, inputs [][]byte) []Outcome {
	outcomes := make([]Outcome, len(inputs))
	for i, data := range inputs {
		o, err := c.Classify(ctx, data)
		if err != nil {
			c.logger.WithError(err).WithField("index", i).Warn("classification failed")
			o = Failed(err)
		}
		outcomes[i] = o
	}
	return outcomes
}

func (c *Classifier) outcome(probs []float32) Outcome {
	best := 0
	dist := make([]ClassProbability, len(probs))
	for i, p := range probs {
		dist[i] = ClassProbability{Class: c.classes.Name(i), Probability: p}
		if p > probs[best] {
			best = i
		}
	}
	return Outcome{
		Label:         c.classes.Name(best),
		ClassIndex:    best,
		Confidence:    probs[best],
		Probabilities: dist,
	}
}

// Close releases the engine.
func (c *Classifier) Close() error {
	return c.engine.Close()
}

// Softmax normalizes logits into a probability distribution.
//
// The maximum logit is subtracted before exponentiation so large logits do not
// overflow. The result sums to 1 within float32 tolerance.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		maxLogit = math32.Max(maxLogit, v)
	}

	out := make([]float32, len(logits))
	var sum float32
	for i, v := range logits {
		out[i] = math32.Exp(v - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

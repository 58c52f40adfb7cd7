package analysis

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/leafscan/classifier"
	"github.com/nvr-ai/leafscan/config"
	"github.com/nvr-ai/leafscan/detector"
	"github.com/nvr-ai/leafscan/inference"
	"github.com/nvr-ai/leafscan/models"
	"github.com/nvr-ai/leafscan/pipeline"
)

// Models creates the ONNX Runtime backed detector and classifier and owns
// their sessions.
type Models struct {
	opts   config.Options
	logger logrus.FieldLogger

	mu      sync.Mutex
	engines []inference.Engine
}

// NewModels returns a model set for opts. Nothing is loaded until Load.
func NewModels(opts config.Options, logger logrus.FieldLogger) *Models {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Models{opts: opts, logger: logger}
}

// Load creates the sessions. It is a Loader: pass it to WithLoader so the
// models are loaded on first use. The classifier is nil when classification
// is disabled.
func (m *Models) Load() (Detector, pipeline.Classifier, error) {
	detEngine, err := m.build(m.opts.Detector)
	if err != nil {
		return nil, nil, errors.Wrap(err, "leaf detector")
	}
	det := detector.New(detEngine, detector.Config{
		InputSize: m.opts.Detector.InputSize,
		Classes:   models.NewOutputClassSet(models.ModelTaskDetection, m.opts.Detector.Classes...),
		Logger:    m.logger.WithField("model", "detector"),
	})
	m.logger.WithField("model_path", m.opts.Detector.ModelPath).Info("loaded leaf detector")

	if !m.opts.Classify {
		return det, nil, nil
	}

	clsEngine, err := m.build(m.opts.Classifier)
	if err != nil {
		return nil, nil, errors.Wrap(err, "disease classifier")
	}
	cls := classifier.New(clsEngine, classifier.Config{
		InputSize: m.opts.Classifier.InputSize,
		Classes:   models.NewOutputClassSet(models.ModelTaskClassification, m.opts.Classifier.Classes...),
		Logger:    m.logger.WithField("model", "classifier"),
	})
	m.logger.WithField("model_path", m.opts.Classifier.ModelPath).Info("loaded disease classifier")
	return det, cls, nil
}

func (m *Models) build(model config.ModelOptions) (inference.Engine, error) {
	session, err := inference.NewEngineBuilder().
		WithModel(model.ModelPath).
		WithProvider(m.opts.Provider).
		WithSharedLibrary(m.opts.SharedLibraryPath).
		WithThreads(m.opts.Threads, 0).
		Build()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.engines = append(m.engines, session)
	m.mu.Unlock()
	return session, nil
}

// Metrics returns the run statistics of every loaded session, keyed by model path.
func (m *Models) Metrics() map[string]inference.Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := make(map[string]inference.Metrics, len(m.engines))
	for _, e := range m.engines {
		if s, ok := e.(*inference.Session); ok {
			metrics[s.ModelPath()] = s.Metrics()
		}
	}
	return metrics
}

// Close releases every loaded session.
func (m *Models) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var first error
	for _, e := range m.engines {
		if err := e.Close(); err != nil && first == nil {
			first = err
		}
	}
	m.engines = nil
	return first
}

// Package inference - Inference sessions.
package inference

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

var envMu sync.Mutex

// initEnvironment loads the shared library and initializes ONNX Runtime once
// per process.
func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	return nil
}

// NewSessionArgs are the arguments for NewSession.
type NewSessionArgs struct {
	ModelPath         string   `json:"model_path" yaml:"model_path"`
	SharedLibraryPath string   `json:"shared_library_path" yaml:"shared_library_path"`
	Provider          Provider `json:"provider" yaml:"provider"`
	// InputName and OutputName default to the model's first input and output.
	InputName  string `json:"input_name" yaml:"input_name"`
	OutputName string `json:"output_name" yaml:"output_name"`
	// Thread counts, 0 uses the runtime default.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`
}

// Metrics are the cumulative run statistics of a session.
type Metrics struct {
	InferenceCount int64
	TotalTime      time.Duration
}

// Average returns the mean run time, or 0 before the first run.
func (m Metrics) Average() time.Duration {
	if m.InferenceCount == 0 {
		return 0
	}
	return m.TotalTime / time.Duration(m.InferenceCount)
}

// Session is an Engine backed by an ONNX Runtime session.
//
// Input and output tensors are allocated per run, so one session serves
// concurrent callers.
type Session struct {
	session    *ort.DynamicAdvancedSession
	modelPath  string
	inputName  string
	outputName string

	mu             sync.RWMutex
	inferenceCount int64
	totalTime      time.Duration
}

// NewSession loads an ONNX model.
//
// Arguments:
//   - args: The session arguments.
//
// Returns:
//   - *Session: The session.
//   - error: If the runtime, the model file or the session cannot be loaded.
func NewSession(args NewSessionArgs) (*Session, error) {
	if _, err := os.Stat(args.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model not found at %s", args.ModelPath)
	}
	if err := initEnvironment(SharedLibraryPath(args.SharedLibraryPath)); err != nil {
		return nil, err
	}

	inputName, outputName := args.InputName, args.OutputName
	if inputName == "" || outputName == "" {
		inputs, outputs, err := ort.GetInputOutputInfo(args.ModelPath)
		if err != nil {
			return nil, errors.Wrapf(err, "error reading model io of %s", args.ModelPath)
		}
		if len(inputs) == 0 || len(outputs) == 0 {
			return nil, errors.Errorf("model %s has no inputs or outputs", args.ModelPath)
		}
		if inputName == "" {
			inputName = inputs[0].Name
		}
		if outputName == "" {
			outputName = outputs[0].Name
		}
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	defer options.Destroy()

	if args.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(args.IntraOpThreads); err != nil {
			return nil, errors.Wrap(err, "error setting intra op threads")
		}
	}
	if args.InterOpThreads > 0 {
		if err := options.SetInterOpNumThreads(args.InterOpThreads); err != nil {
			return nil, errors.Wrap(err, "error setting inter op threads")
		}
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return nil, errors.Wrap(err, "error setting graph optimization level")
	}
	if err := appendProvider(options, args.Provider); err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(
		args.ModelPath,
		[]string{inputName},
		[]string{outputName},
		options,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating ORT session for %s", args.ModelPath)
	}

	return &Session{
		session:    session,
		modelPath:  args.ModelPath,
		inputName:  inputName,
		outputName: outputName,
	}, nil
}

// ModelPath returns the loaded model file.
func (s *Session) ModelPath() string { return s.modelPath }

// Run executes the model on input and returns a copy of its output.
func (s *Session) Run(ctx context.Context, input *tensor.Dense) (*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.session == nil {
		return nil, errors.New("session is closed")
	}

	data, ok := input.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("unsupported input type %v", input.Dtype())
	}
	dims := make([]int64, len(input.Shape()))
	for i, d := range input.Shape() {
		dims[i] = int64(d)
	}

	in, err := ort.NewTensor(ort.NewShape(dims...), data)
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	defer in.Destroy()

	start := time.Now()
	outputs := []ort.Value{nil}
	if err := s.session.Run([]ort.Value{in}, outputs); err != nil {
		return nil, errors.Wrap(err, "failed to run inference")
	}
	s.record(time.Since(start))
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errors.Errorf("unsupported output value %T", outputs[0])
	}

	shape := out.GetShape()
	outDims := make([]int, len(shape))
	for i, d := range shape {
		outDims[i] = int(d)
	}
	backing := append([]float32(nil), out.GetData()...)

	return tensor.New(tensor.WithShape(outDims...), tensor.WithBacking(backing)), nil
}

func (s *Session) record(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inferenceCount++
	s.totalTime += d
}

// Metrics returns the cumulative run statistics.
func (s *Session) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Metrics{InferenceCount: s.inferenceCount, TotalTime: s.totalTime}
}

// Close releases the session.
func (s *Session) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}

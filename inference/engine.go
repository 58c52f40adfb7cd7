// Package inference - Inference engine interface and implementations.
package inference

import (
	"context"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Engine runs a model forward pass.
//
// Run receives a channel-first float32 tensor and returns the model's output
// tensor with its model-dependent shape. Implementations are synchronous and
// must be safe for concurrent use.
type Engine interface {
	Run(ctx context.Context, input *tensor.Dense) (*tensor.Dense, error)
	Close() error
}

// EngineBuilder builds an ONNX Runtime engine with a fluent API.
type EngineBuilder struct {
	args NewSessionArgs
	err  error
}

// NewEngineBuilder creates a new engine builder.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{args: NewSessionArgs{Provider: CPUExecutionProvider}}
}

// WithModel sets the ONNX model file.
func (b *EngineBuilder) WithModel(path string) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if path == "" {
		b.err = errors.New("model path is required")
		return b
	}
	b.args.ModelPath = path
	return b
}

// WithProvider sets the execution provider by name.
//
// Arguments:
//   - name: One of cpu, cuda, coreml or openvino. Empty selects cpu.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithProvider(name string) *EngineBuilder {
	if b.HasError() {
		return b
	}
	provider, err := ParseProvider(name)
	if err != nil {
		b.err = err
		return b
	}
	b.args.Provider = provider
	return b
}

// WithSharedLibrary sets the ONNX Runtime shared library path.
func (b *EngineBuilder) WithSharedLibrary(path string) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.args.SharedLibraryPath = path
	return b
}

// WithThreads sets the intra and inter op thread counts. 0 keeps the runtime default.
func (b *EngineBuilder) WithThreads(intra, inter int) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if intra < 0 || inter < 0 {
		b.err = errors.Errorf("invalid thread counts %d/%d", intra, inter)
		return b
	}
	b.args.IntraOpThreads = intra
	b.args.InterOpThreads = inter
	return b
}

// WithIO names the model input and output. Empty names are read from the model.
func (b *EngineBuilder) WithIO(input, output string) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.args.InputName = input
	b.args.OutputName = output
	return b
}

// HasError checks if the engine builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// Args returns the session arguments collected so far.
func (b *EngineBuilder) Args() (NewSessionArgs, error) {
	return b.args, b.err
}

// Build creates the session.
//
// Returns:
//   - *Session: The ONNX Runtime session.
//   - error: The first builder error, or the session creation error.
func (b *EngineBuilder) Build() (*Session, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.args.ModelPath == "" {
		return nil, errors.New("model path is required")
	}
	return NewSession(b.args)
}

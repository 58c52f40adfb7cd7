package postprocess

import (
	"fmt"

	"github.com/chewxy/math32"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/leafscan/images"
)

// Layout is one of the recognized raw output tensor conventions of a detector.
type Layout int

const (
	// LayoutUnknown is any shape that matches none of the known layouts.
	LayoutUnknown Layout = iota
	// LayoutTransposed is [1, 4+numClasses, numBoxes]: one column per box of
	// cx, cy, w, h followed by the per-class scores.
	LayoutTransposed
	// LayoutObjectness is [numBoxes, 5+numClasses]: one row per box of
	// cx, cy, w, h, objectness, class scores.
	LayoutObjectness
	// LayoutCorners is [1, numBoxes, numAttributes>=6]: one row per box of
	// x1, y1, x2, y2, confidence, classId.
	LayoutCorners
)

// String returns the layout name.
func (l Layout) String() string {
	switch l {
	case LayoutTransposed:
		return "transposed"
	case LayoutObjectness:
		return "objectness"
	case LayoutCorners:
		return "corners"
	default:
		return "unknown"
	}
}

// DecodeArgs are the inputs of a decode besides the tensor itself.
type DecodeArgs struct {
	// Size of the original image, used to rescale coordinates.
	ImageWidth  int
	ImageHeight int
	// InputSize is the model's square input resolution.
	InputSize int
	// Candidates scoring below this are dropped before suppression.
	ConfidenceThreshold float32
	// NumClasses is the length of the class table, or 0 when unknown.
	NumClasses int
}

// DecodeResult is the outcome of decoding one output tensor.
type DecodeResult struct {
	Layout Layout
	// Shape of the raw tensor, kept for diagnostics.
	Shape []int
	// NumBoxes is the raw box count of the tensor.
	NumBoxes int
	// NumClasses is the class count implied by the tensor.
	NumClasses int
	// Candidates scoring at or above the confidence threshold.
	Candidates []Candidate
	// Rejected counts boxes below the confidence threshold.
	Rejected int
	// Discarded counts boxes with no area or non-finite coordinates.
	Discarded int
	// Note describes why a tensor could not be decoded, or a mismatch worth
	// reporting. Empty on a clean decode.
	Note string
}

type layoutDecoder func(data []float32, shape []int, args DecodeArgs, res *DecodeResult)

var decoders = map[Layout]layoutDecoder{
	LayoutTransposed: decodeTransposed,
	LayoutObjectness: decodeObjectness,
	LayoutCorners:    decodeCorners,
}

// DetectLayout picks the layout of a tensor from its rank and relative axis sizes.
//
// Rank 3 tensors with a batch of one are transposed when their second axis holds
// box parameters plus at least one score row and is 4+numClasses, the shorter
// axis, or paired with fewer than 6 columns; otherwise rows of at least 6
// attributes are corner rows. Rank 2
// tensors with rows of at least 6 values are objectness rows. Anything else is
// LayoutUnknown, with the reason returned as a note.
func DetectLayout(shape []int, numClasses int) (Layout, string) {
	for _, d := range shape {
		if d < 0 {
			return LayoutUnknown, fmt.Sprintf("negative dimension in shape %v", shape)
		}
	}

	switch len(shape) {
	case 3:
		if shape[0] != 1 {
			return LayoutUnknown, fmt.Sprintf("unsupported batch size %d in shape %v", shape[0], shape)
		}
		rows, cols := shape[1], shape[2]
		if rows > 4 && ((numClasses > 0 && rows == 4+numClasses) || rows < cols || cols < 6) {
			return LayoutTransposed, ""
		}
		if cols >= 6 {
			return LayoutCorners, ""
		}
	case 2:
		if shape[1] >= 6 {
			return LayoutObjectness, ""
		}
	}
	return LayoutUnknown, fmt.Sprintf("no known layout matches shape %v", shape)
}

// Decode interprets a detector output tensor as candidates.
//
// An unsupported element type or an unrecognized shape is not an error: the
// result carries LayoutUnknown, zero candidates and a diagnostic note.
func Decode(output *tensor.Dense, args DecodeArgs) DecodeResult {
	if output == nil {
		return DecodeResult{Note: "no output tensor"}
	}
	shape := []int(output.Shape().Clone())
	data, ok := output.Data().([]float32)
	if !ok {
		return DecodeResult{
			Shape: shape,
			Note:  fmt.Sprintf("unsupported output type %v", output.Dtype()),
		}
	}
	return DecodeRaw(data, shape, args)
}

// DecodeRaw is Decode over a flat, row-major float32 buffer.
func DecodeRaw(data []float32, shape []int, args DecodeArgs) DecodeResult {
	res := DecodeResult{Shape: append([]int(nil), shape...)}

	layout, note := DetectLayout(shape, args.NumClasses)
	if layout == LayoutUnknown {
		res.Note = note
		return res
	}

	expected := 1
	for _, d := range shape {
		expected *= d
	}
	if expected != len(data) {
		res.Note = fmt.Sprintf("shape %v needs %d values, got %d", shape, expected, len(data))
		return res
	}
	if args.InputSize <= 0 {
		res.Note = fmt.Sprintf("invalid input resolution %d", args.InputSize)
		return res
	}

	res.Layout = layout
	decoders[layout](data, shape, args, &res)

	if args.NumClasses > 0 && res.NumClasses > 0 && res.NumClasses != args.NumClasses {
		res.Note = fmt.Sprintf("tensor carries %d classes, class table has %d", res.NumClasses, args.NumClasses)
	}
	return res
}

// scale returns the factors that map input-resolution coordinates to the
// original image: coord * originalDimension / inputResolution.
func (a DecodeArgs) scale() (float32, float32) {
	in := float32(a.InputSize)
	return float32(a.ImageWidth) / in, float32(a.ImageHeight) / in
}

// accept applies the confidence threshold and box validity checks.
func (res *DecodeResult) accept(box images.Box, score float32, class int, threshold float32) {
	if math32.IsNaN(score) || score < threshold {
		res.Rejected++
		return
	}
	if box.Degenerate() {
		res.Discarded++
		return
	}
	res.Candidates = append(res.Candidates, Candidate{Box: box, Score: score, Class: class})
}

func decodeTransposed(data []float32, shape []int, args DecodeArgs, res *DecodeResult) {
	rows, n := shape[1], shape[2]
	res.NumBoxes = n
	res.NumClasses = rows - 4
	sx, sy := args.scale()

	for i := 0; i < n; i++ {
		classID := 0
		score := data[4*n+i]
		for c := 1; c < res.NumClasses; c++ {
			if s := data[(4+c)*n+i]; s > score {
				score = s
				classID = c
			}
		}

		box := images.BoxFromCenter(data[i], data[n+i], data[2*n+i], data[3*n+i]).Scale(sx, sy)
		res.accept(box, score, classID, args.ConfidenceThreshold)
	}
}

func decodeObjectness(data []float32, shape []int, args DecodeArgs, res *DecodeResult) {
	n, cols := shape[0], shape[1]
	res.NumBoxes = n
	res.NumClasses = cols - 5
	sx, sy := args.scale()

	for i := 0; i < n; i++ {
		row := data[i*cols : (i+1)*cols]

		classID := 0
		best := row[5]
		for c := 1; c < res.NumClasses; c++ {
			if s := row[5+c]; s > best {
				best = s
				classID = c
			}
		}

		box := images.BoxFromCenter(row[0], row[1], row[2], row[3]).Scale(sx, sy)
		res.accept(box, row[4]*best, classID, args.ConfidenceThreshold)
	}
}

func decodeCorners(data []float32, shape []int, args DecodeArgs, res *DecodeResult) {
	n, attrs := shape[1], shape[2]
	res.NumBoxes = n
	res.NumClasses = args.NumClasses
	sx, sy := args.scale()

	for i := 0; i < n; i++ {
		row := data[i*attrs : (i+1)*attrs]

		classID := int(math32.Floor(row[5] + 0.5))
		box := images.Box{X1: row[0], Y1: row[1], X2: row[2], Y2: row[3]}.Scale(sx, sy)
		res.accept(box, row[4], classID, args.ConfidenceThreshold)
	}
}

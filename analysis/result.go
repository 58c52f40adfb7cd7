// Package analysis - Integrated leaf detection and disease classification of
// images, one AnalysisResult per image.
package analysis

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/nvr-ai/leafscan/models/postprocess"
	"github.com/nvr-ai/leafscan/pipeline"
)

// AnalysisResult is the outcome of analyzing one image.
//
// Success is false only for input errors: an unreadable image, a missing model
// or an inference failure. A failed save sets SaveError and keeps Success.
type AnalysisResult struct {
	ID          string    `json:"id"`
	ImagePath   string    `json:"image_path"`
	ImageWidth  int       `json:"image_width"`
	ImageHeight int       `json:"image_height"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`

	// Records are ordered by detection identifier.
	Records []pipeline.LeafRecord `json:"records"`

	// Layout and Note are the detector output diagnostics.
	Layout string `json:"layout,omitempty"`
	Note   string `json:"note,omitempty"`

	DetectionTime time.Duration `json:"detection_time"`
	// ClassificationTime sums the time of every leaf task.
	ClassificationTime time.Duration `json:"classification_time"`
	SaveTime           time.Duration `json:"save_time"`

	OutputPath   string `json:"output_path,omitempty"`
	ManifestPath string `json:"manifest_path,omitempty"`
	SaveError    string `json:"save_error,omitempty"`
}

// TotalTime is the wall-clock time spent on the image.
func (r *AnalysisResult) TotalTime() time.Duration { return r.End.Sub(r.Start) }

// Detections returns the detection of every record, in order.
func (r *AnalysisResult) Detections() []postprocess.Detection {
	dets := make([]postprocess.Detection, len(r.Records))
	for i, rec := range r.Records {
		dets[i] = rec.Detection
	}
	return dets
}

// ClassSummary aggregates the records predicted as one label.
type ClassSummary struct {
	Label          string  `json:"label"`
	Count          int     `json:"count"`
	MeanConfidence float64 `json:"mean_confidence"`
}

// Summary is derived from the records of one image.
type Summary struct {
	Leaves     int `json:"leaves"`
	Classified int `json:"classified"`
	Failed     int `json:"failed"`
	// Classes are sorted by descending count, then label.
	Classes []ClassSummary `json:"classes"`
}

// Summary scans the records. It is computed on every call and never cached.
func (r *AnalysisResult) Summary() Summary {
	return Summarize(r.Records)
}

// Summarize computes the counts and per-class mean confidences of records.
// Failed classifications are counted as failed, not under the sentinel label.
func Summarize(records []pipeline.LeafRecord) Summary {
	s := Summary{Leaves: len(records), Classes: []ClassSummary{}}

	confidences := make(map[string][]float64)
	for _, rec := range records {
		if rec.Failed() {
			s.Failed++
			continue
		}
		if !rec.Classified() {
			continue
		}
		s.Classified++
		confidences[rec.Outcome.Label] = append(confidences[rec.Outcome.Label], float64(rec.Outcome.Confidence))
	}

	for label, values := range confidences {
		s.Classes = append(s.Classes, ClassSummary{
			Label:          label,
			Count:          len(values),
			MeanConfidence: stat.Mean(values, nil),
		})
	}
	sort.Slice(s.Classes, func(i, j int) bool {
		if s.Classes[i].Count != s.Classes[j].Count {
			return s.Classes[i].Count > s.Classes[j].Count
		}
		return s.Classes[i].Label < s.Classes[j].Label
	})
	return s
}

// Package profiler - Phase timing across an analysis run.
package profiler

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// Phase names recorded by the analysis service.
const (
	PhaseLoad           = "load"
	PhaseDetection      = "detection"
	PhaseClassification = "classification"
	PhaseSave           = "save"
	PhaseImage          = "image"
)

// DefaultMaxSamples bounds the durations kept per operation.
const DefaultMaxSamples = 4096

// TimeTracker tracks operation timing statistics.
type TimeTracker struct {
	name      string
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// OperationStats is a snapshot of one tracked operation.
type OperationStats struct {
	Name   string        `json:"name"`
	Count  int64         `json:"count"`
	Total  time.Duration `json:"total"`
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"std_dev"`
}

// Profiler records named operation durations. It is safe for concurrent use.
type Profiler struct {
	mu             sync.RWMutex
	maxSamples     int
	operationTimes map[string]*TimeTracker
}

// New creates a profiler keeping at most maxSamples durations per operation
// for its mean and deviation. Values <= 0 select DefaultMaxSamples.
func New(maxSamples int) *Profiler {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Profiler{
		maxSamples:     maxSamples,
		operationTimes: make(map[string]*TimeTracker),
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track
//
// Returns:
// - A function to call when the operation completes
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.Record(name, time.Since(start))
	}
}

// Record adds a measured duration for name. A nil profiler ignores it.
func (p *Profiler) Record(name string, duration time.Duration) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.operationTimes[name]
	if !exists {
		tracker = &TimeTracker{
			name:    name,
			minTime: duration,
			maxTime: duration,
		}
		p.operationTimes[name] = tracker
	}

	tracker.durations = append(tracker.durations, duration)
	if len(tracker.durations) > p.maxSamples {
		tracker.durations = tracker.durations[1:]
	}

	tracker.totalTime += duration
	tracker.count++

	if duration < tracker.minTime {
		tracker.minTime = duration
	}
	if duration > tracker.maxTime {
		tracker.maxTime = duration
	}
}

// Stats returns a snapshot of every operation, sorted by name.
func (p *Profiler) Stats() []OperationStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make([]OperationStats, 0, len(p.operationTimes))
	for _, tracker := range p.operationTimes {
		samples := make([]float64, len(tracker.durations))
		for i, d := range tracker.durations {
			samples[i] = float64(d)
		}
		mean, std := stat.MeanStdDev(samples, nil)
		if len(samples) < 2 {
			std = 0
		}

		stats = append(stats, OperationStats{
			Name:   tracker.name,
			Count:  tracker.count,
			Total:  tracker.totalTime,
			Min:    tracker.minTime,
			Max:    tracker.maxTime,
			Mean:   time.Duration(mean),
			StdDev: time.Duration(std),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Report logs one line per operation.
func (p *Profiler) Report(logger logrus.FieldLogger) {
	for _, s := range p.Stats() {
		logger.WithFields(logrus.Fields{
			"operation": s.Name,
			"count":     s.Count,
			"total":     s.Total.Round(time.Millisecond),
			"mean":      s.Mean.Round(time.Microsecond),
			"min":       s.Min.Round(time.Microsecond),
			"max":       s.Max.Round(time.Microsecond),
		}).Info("phase timing")
	}
}

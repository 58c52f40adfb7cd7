package postprocess

import "sort"

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold float32 // Overlap at or above which the weaker box is suppressed.
	ClassAware   bool    // If true, suppress only within same class.
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression.
//
// Candidates are stably sorted by descending score, so equal scores keep their
// input order. A candidate is kept unless its IoU with an already kept
// candidate is >= the threshold. The input slice is not modified.
//
// Arguments:
//   - candidates: Slice of candidates in decode order.
//   - config: NMS configuration.
//
// Returns:
//   - The kept candidates ordered by descending score. Nil if none are given.
func ApplyGreedyNMS(candidates []Candidate, config NMSConfig) []Candidate {
	n := len(candidates)
	if n == 0 {
		return nil
	}

	sorted := make([]Candidate, n)
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	kept := make([]Candidate, 0, n)
	for _, c := range sorted {
		suppressed := false
		for _, k := range kept {
			if config.ClassAware && k.Class != c.Class {
				continue
			}
			if c.Box.IoU(k.Box) >= config.IoUThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, c)
		}
	}
	return kept
}

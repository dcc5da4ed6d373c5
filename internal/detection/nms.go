package detection

import (
	"cmp"
	"slices"
)

// Suppress applies greedy non-maximum suppression. Candidates are taken in
// descending confidence order; each accepted box removes every remaining
// candidate whose IoU with it is >= threshold. Labels are ignored, so boxes
// of different classes suppress each other. The input slice is not modified
// and the result is in acceptance order.
func Suppress(candidates []Detection, threshold float32) []Detection {
	if len(candidates) == 0 {
		return nil
	}

	remaining := slices.Clone(candidates)
	slices.SortStableFunc(remaining, func(a, b Detection) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})

	var kept []Detection
	for len(remaining) > 0 {
		best := remaining[0]
		kept = append(kept, best)

		next := remaining[:0]
		for _, d := range remaining[1:] {
			if IoU(best.Box, d.Box) < threshold {
				next = append(next, d)
			}
		}
		remaining = next
	}

	return kept
}

package detection

// Thresholds are the filter lower bounds. Both comparisons are inclusive, so
// a detection exactly at threshold passes
type Thresholds struct {
	Objectness float32
	ClassProb  float32
}

// Filter narrows raw detections to confident failure-class detections.
// Pure function: no state, no I/O. Detections whose class id has no label are
// dropped silently; the model may emit classes outside the failure taxonomy
func Filter(dets []Detection, labels Labels, thr Thresholds) []Filtered {
	var out []Filtered
	for _, d := range dets {
		if d.Objectness < thr.Objectness || d.ClassProb < thr.ClassProb {
			continue
		}
		label, ok := labels.Lookup(d.ClassID)
		if !ok {
			continue
		}
		out = append(out, Filtered{Detection: d, Label: label})
	}
	return out
}

// Best returns the filtered detection with the highest class probability,
// used to summarize a tick for alerting and history
func Best(dets []Filtered) (Filtered, bool) {
	if len(dets) == 0 {
		return Filtered{}, false
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.ClassProb > best.ClassProb {
			best = d
		}
	}
	return best, true
}

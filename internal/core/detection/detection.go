// Package detection defines the model-facing detection types and the
// threshold filter that narrows raw model output to confident failure-class
// detections
package detection

import (
	"context"
	"os"
	"strings"

	perr "printguard/internal/platform/errors"
)

// Box is a bounding box in model coordinates (center x/y plus width/height)
type Box struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	W float32 `json:"w"`
	H float32 `json:"h"`
}

// Detection is one raw model output row. Ephemeral; lives for a single tick
type Detection struct {
	ClassID    int     `json:"class_id"`
	Objectness float32 `json:"objectness"`
	ClassProb  float32 `json:"class_prob"`
	Box        Box     `json:"box"`
}

// Filtered is a Detection that passed both thresholds and whose class maps to
// a known failure label
type Filtered struct {
	Detection
	Label string `json:"label"`
}

// Detector is the capability seam over the inference model.
// Implementations must be deterministic for identical input bytes so the
// pipeline can be tested with fakes
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]Detection, error)
}

// Labels maps class id (slice index) to a human failure label
type Labels []string

// Lookup returns the label for a class id, or ok=false for classes outside
// the failure taxonomy
func (l Labels) Lookup(classID int) (string, bool) {
	if classID < 0 || classID >= len(l) {
		return "", false
	}
	if l[classID] == "" {
		return "", false
	}
	return l[classID], true
}

// LoadLabels reads a label file with one label per line (index = class id)
func LoadLabels(path string) (Labels, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeConfig, "read labels %s", path)
	}
	lines := strings.Split(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n")
	out := make(Labels, 0, len(lines))
	for _, ln := range lines {
		out = append(out, strings.TrimSpace(ln))
	}
	// drop trailing blank lines so len(out) matches the class count
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return nil, perr.Configf("labels file %s is empty", path)
	}
	return out, nil
}

// Package vision implements the inference adapter over ONNX Runtime. It
// normalizes raw YOLO-style model output into detection.Detection rows; the
// rest of the pipeline never touches tensors
package vision

import (
	"context"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"printguard/internal/core/detection"
	perr "printguard/internal/platform/errors"
)

// Config describes the model session
type Config struct {
	// ModelPath is the ONNX model file
	ModelPath string
	// InputSize is the square input edge in pixels
	InputSize int
	// Classes is the number of failure classes the model emits
	Classes int
	// Flip mirrors frames horizontally before inference
	Flip bool
}

// Detector runs an ONNX session over preprocessed frames. It reuses its
// input/output tensors, so Detect is serialized with a mutex
type Detector struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	cfg     Config
	rows    int
}

// NewDetector initializes the ONNX environment and builds a session
func NewDetector(cfg Config) (*Detector, error) {
	if cfg.InputSize <= 0 {
		return nil, perr.Configf("model input size must be > 0, got %d", cfg.InputSize)
	}
	if cfg.Classes <= 0 {
		return nil, perr.Configf("model class count must be > 0, got %d", cfg.Classes)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeInference, "initialize onnx environment")
	}

	// YOLO-style head: rows of (cx, cy, w, h, objectness, class scores...)
	rows := (cfg.InputSize / 32) * (cfg.InputSize / 32) * 3
	inputShape := ort.NewShape(1, 3, int64(cfg.InputSize), int64(cfg.InputSize))
	outputShape := ort.NewShape(1, int64(rows), int64(5+cfg.Classes))

	input, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeInference, "create input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		input.Destroy()
		return nil, perr.Wrapf(err, perr.ErrorCodeInference, "create output tensor")
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{"images"}, []string{"output"},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, perr.Wrapf(err, perr.ErrorCodeInference, "create onnx session for %s", cfg.ModelPath)
	}

	return &Detector{
		session: session,
		input:   input,
		output:  output,
		cfg:     cfg,
		rows:    rows,
	}, nil
}

// Detect implements detection.Detector. Deterministic for identical bytes
func (d *Detector) Detect(ctx context.Context, image []byte) ([]detection.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tensor, err := Preprocess(image, d.cfg.InputSize, d.cfg.Flip)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	copy(d.input.GetData(), tensor)
	if err := d.session.Run(); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeInference, "run inference")
	}
	return d.decode(d.output.GetData()), nil
}

// decode turns the raw output tensor into detections. No thresholding here;
// that belongs to detection.Filter
func (d *Detector) decode(out []float32) []detection.Detection {
	stride := 5 + d.cfg.Classes
	dets := make([]detection.Detection, 0, 8)
	for r := 0; r+stride <= len(out); r += stride {
		row := out[r : r+stride]
		objectness := row[4]
		classID, classProb := 0, row[5]
		for c := 1; c < d.cfg.Classes; c++ {
			if row[5+c] > classProb {
				classID, classProb = c, row[5+c]
			}
		}
		dets = append(dets, detection.Detection{
			ClassID:    classID,
			Objectness: objectness,
			ClassProb:  classProb,
			Box: detection.Box{
				X: row[0],
				Y: row[1],
				W: row[2],
				H: row[3],
			},
		})
	}
	return dets
}

// Close releases session resources and the ONNX environment
func (d *Detector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.input != nil {
		d.input.Destroy()
	}
	if d.output != nil {
		d.output.Destroy()
	}
	if d.session != nil {
		d.session.Destroy()
	}
	_ = ort.DestroyEnvironment()
}

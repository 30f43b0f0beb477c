// printguard-scan runs the detector over a single frame and prints the
// filtered detections as JSON. Useful for threshold tuning and for checking
// a model against saved failure snapshots
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"printguard/internal/core/detection"
	"printguard/internal/core/vision"
)

type report struct {
	Image      string               `json:"image"`
	Hit        bool                 `json:"hit"`
	Detections []detection.Filtered `json:"detections"`
	ElapsedMs  int64                `json:"elapsed_ms"`
}

func main() {
	_ = godotenv.Load()

	var (
		image     = flag.String("image", "", "frame to scan: file path or http(s) URL")
		model     = flag.String("model", "model.onnx", "ONNX model path")
		labelsArg = flag.String("labels", "labels.txt", "labels file, one class per line")
		inputSize = flag.Int("input-size", 416, "model input edge in pixels")
		obj       = flag.Float64("obj", 0.08, "objectness threshold")
		prob      = flag.Float64("prob", 0.5, "class probability threshold")
		flip      = flag.Bool("flip", false, "mirror the frame horizontally")
	)
	flag.Parse()

	if *image == "" {
		log.Fatal("-image is required")
	}

	payload, err := loadImage(*image)
	if err != nil {
		log.Fatalf("load image: %v", err)
	}

	labels, err := detection.LoadLabels(*labelsArg)
	if err != nil {
		log.Fatalf("load labels: %v", err)
	}

	det, err := vision.NewDetector(vision.Config{
		ModelPath: *model,
		InputSize: *inputSize,
		Classes:   len(labels),
		Flip:      *flip,
	})
	if err != nil {
		log.Fatalf("detector init: %v", err)
	}
	defer det.Close()

	start := time.Now()
	dets, err := det.Detect(context.Background(), payload)
	if err != nil {
		log.Fatalf("detect: %v", err)
	}

	filtered := detection.Filter(dets, labels, detection.Thresholds{
		Objectness: float32(*obj),
		ClassProb:  float32(*prob),
	})
	if filtered == nil {
		filtered = []detection.Filtered{}
	}

	out := report{
		Image:      *image,
		Hit:        len(filtered) > 0,
		Detections: filtered,
		ElapsedMs:  time.Since(start).Milliseconds(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("encode report: %v", err)
	}
	if out.Hit {
		os.Exit(1)
	}
}

func loadImage(src string) ([]byte, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		client := &http.Client{Timeout: 30 * time.Second}
		resp, err := client.Get(src)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()
		return io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	}
	return os.ReadFile(src)
}

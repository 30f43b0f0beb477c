package vision

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	perr "printguard/internal/platform/errors"
)

// pngBytes renders a 4x2 image: left half red, right half blue
func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			if x < 2 {
				img.Set(x, y, color.RGBA{R: 255, A: 255})
			} else {
				img.Set(x, y, color.RGBA{B: 255, A: 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestPreprocessShapeAndRange(t *testing.T) {
	out, err := Preprocess(pngBytes(t), 8, false)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if len(out) != 3*8*8 {
		t.Fatalf("tensor len = %d, want %d", len(out), 3*8*8)
	}
	for i, v := range out {
		if v < 0 || v > 1 {
			t.Fatalf("value %d out of [0,1]: %f", i, v)
		}
	}
}

func TestPreprocessRejectsBadPayloads(t *testing.T) {
	if _, err := Preprocess(nil, 8, false); !perr.IsCode(err, perr.ErrorCodeDecode) {
		t.Fatalf("empty payload should be a decode error, got %v", err)
	}
	if _, err := Preprocess([]byte("not an image"), 8, false); !perr.IsCode(err, perr.ErrorCodeDecode) {
		t.Fatalf("garbage payload should be a decode error, got %v", err)
	}
}

func TestFlipHorizontal(t *testing.T) {
	img, _, err := image.Decode(bytes.NewReader(pngBytes(t)))
	if err != nil {
		t.Fatal(err)
	}
	flipped := flipHorizontal(img)

	// red was left, must now be right
	r, _, b, _ := flipped.At(3, 0).RGBA()
	if r>>8 != 255 || b>>8 != 0 {
		t.Fatalf("expected red at x=3 after flip, got r=%d b=%d", r>>8, b>>8)
	}
	r, _, b, _ = flipped.At(0, 0).RGBA()
	if b>>8 != 255 || r>>8 != 0 {
		t.Fatalf("expected blue at x=0 after flip, got r=%d b=%d", r>>8, b>>8)
	}
}

func TestPreprocessDeterministic(t *testing.T) {
	payload := pngBytes(t)
	a, err := Preprocess(payload, 8, true)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Preprocess(payload, 8, true)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("preprocessing must be deterministic; differs at %d", i)
		}
	}
}

func TestEnsureWeights(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("weights-blob"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "model.onnx")
	if err := EnsureWeights(context.Background(), path, srv.URL); err != nil {
		t.Fatalf("EnsureWeights: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "weights-blob" {
		t.Fatalf("weights content = %q, err %v", got, err)
	}

	// second call is a no-op even with a dead URL
	if err := EnsureWeights(context.Background(), path, "http://127.0.0.1:1"); err != nil {
		t.Fatalf("existing weights should short-circuit, got %v", err)
	}
}

func TestEnsureWeightsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "model.onnx")
	err := EnsureWeights(context.Background(), path, srv.URL)
	if !perr.IsCode(err, perr.ErrorCodeFetch) {
		t.Fatalf("want fetch error, got %v", err)
	}
	if _, statErr := os.Stat(path); statErr == nil {
		t.Fatalf("failed download must not leave a model file behind")
	}
}

func TestEnsureWeightsMissingURL(t *testing.T) {
	err := EnsureWeights(context.Background(), filepath.Join(t.TempDir(), "m.onnx"), "")
	if !perr.IsCode(err, perr.ErrorCodeConfig) {
		t.Fatalf("want config error, got %v", err)
	}
}

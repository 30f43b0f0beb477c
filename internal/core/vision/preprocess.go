package vision

import (
	"bytes"
	"image"

	// register decoders for the camera payload formats
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"

	perr "printguard/internal/platform/errors"
)

// Preprocess decodes a JPEG/PNG payload, optionally mirrors it horizontally
// (for cameras mounted mirrored), resizes it to the model's square input and
// returns an NCHW float32 tensor with channel values scaled to [0,1]
func Preprocess(payload []byte, inputSize int, flip bool) ([]float32, error) {
	if len(payload) == 0 {
		return nil, perr.Decodef("empty image payload")
	}
	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeDecode, "decode image")
	}
	if flip {
		img = flipHorizontal(img)
	}

	resized := resize.Resize(uint(inputSize), uint(inputSize), img, resize.Lanczos3)
	bounds := resized.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	// NCHW: all R, then all G, then all B
	out := make([]float32, 3*w*h)
	plane := w * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			idx := y*w + x
			out[idx] = float32(r>>8) / 255.0
			out[plane+idx] = float32(g>>8) / 255.0
			out[2*plane+idx] = float32(b>>8) / 255.0
		}
	}
	return out, nil
}

// flipHorizontal mirrors an image around its vertical axis
func flipHorizontal(src image.Image) image.Image {
	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dst.Set(bounds.Max.X-1-(x-bounds.Min.X), y, src.At(x, y))
		}
	}
	return dst
}

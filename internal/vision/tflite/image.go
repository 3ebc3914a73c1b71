package tflite

import (
	"image"

	"github.com/procwatch/proctor-go/internal/vision"
)

// rgbInput resamples the frame to the model's input resolution and returns
// normalized RGB values in [0, 1], row-major. Nearest-neighbor is good
// enough for detection inputs and keeps the per-frame critical path cheap.
func rgbInput(img image.Image, width, height int) []float32 {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	out := make([]float32, width*height*3)
	if srcW == 0 || srcH == 0 {
		return out
	}

	i := 0
	for y := 0; y < height; y++ {
		srcY := bounds.Min.Y + y*srcH/height
		for x := 0; x < width; x++ {
			srcX := bounds.Min.X + x*srcW/width
			r, g, b, _ := img.At(srcX, srcY).RGBA()
			out[i] = float32(r>>8) / 255.0
			out[i+1] = float32(g>>8) / 255.0
			out[i+2] = float32(b>>8) / 255.0
			i += 3
		}
	}
	return out
}

// EncodeFace produces a fixed-length embedding from the grayscale face crop.
// The crop is resampled to encodeSize x encodeSize and flattened, matching
// the cosine-similarity comparison done by the verifier.
func (b *Backend) EncodeFace(img image.Image, bbox vision.BoundingBox) ([]float32, error) {
	bounds := img.Bounds()

	crop := image.Rect(bbox.X, bbox.Y, bbox.X+bbox.Width, bbox.Y+bbox.Height).Intersect(bounds)
	if crop.Empty() {
		// Degenerate crop encodes to the zero vector, which similarity
		// treats as "no match".
		return make([]float32, encodeSize*encodeSize), nil
	}

	out := make([]float32, encodeSize*encodeSize)
	cw := crop.Dx()
	ch := crop.Dy()

	i := 0
	for y := 0; y < encodeSize; y++ {
		srcY := crop.Min.Y + y*ch/encodeSize
		for x := 0; x < encodeSize; x++ {
			srcX := crop.Min.X + x*cw/encodeSize
			r, g, bl, _ := img.At(srcX, srcY).RGBA()
			// ITU-R BT.601 luma
			gray := (299*float32(r>>8) + 587*float32(g>>8) + 114*float32(bl>>8)) / 1000
			out[i] = gray / 255.0
			i++
		}
	}
	return out, nil
}

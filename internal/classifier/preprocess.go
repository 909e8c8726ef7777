package classifier

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	"golang.org/x/image/draw"
)

// maxDecodePixels bounds the decoded image area so a small compressed upload
// cannot expand into gigabytes of pixels.
const maxDecodePixels = 50_000_000

// Preprocess decodes a JPEG or PNG image, scales it to size×size with bilinear
// interpolation and returns a float32 tensor laid out in NHWC order with
// shape (1, size, size, 3), each channel scaled to [0,1].
func Preprocess(data []byte, size int) ([]float32, error) {
	if size <= 0 {
		return nil, inferenceError(fmt.Errorf("invalid input size %d", size), "size", size)
	}
	if len(data) == 0 {
		return nil, inferenceError(fmt.Errorf("image is empty"), "", nil)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, inferenceError(fmt.Errorf("cannot decode image: %w", err), "bytes", len(data))
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxDecodePixels {
		return nil, inferenceError(fmt.Errorf("unsupported image dimensions %dx%d", cfg.Width, cfg.Height), "format", format)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, inferenceError(fmt.Errorf("cannot decode %s image: %w", format, err), "format", format)
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	// NHWC with batch=1: length = 1 * h * w * 3
	out := make([]float32, size*size*3)
	for y := range size {
		row := dst.Pix[y*dst.Stride:]
		for x := range size {
			p := row[x*4:]
			base := ((y * size) + x) * 3
			out[base+0] = float32(p[0]) / 255.0
			out[base+1] = float32(p[1]) / 255.0
			out[base+2] = float32(p[2]) / 255.0
		}
	}
	return out, nil
}

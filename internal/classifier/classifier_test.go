package classifier

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikancheck/ikancheck/internal/errors"
	"github.com/ikancheck/ikancheck/internal/observability/metrics"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}))
	return buf.Bytes()
}

func TestPreprocessPNG(t *testing.T) {
	t.Parallel()

	data := encodePNG(t, solidImage(40, 20, color.RGBA{R: 255, G: 0, B: 51, A: 255}))

	tensor, err := Preprocess(data, 16)
	require.NoError(t, err)
	require.Len(t, tensor, 16*16*3)

	for i := 0; i < len(tensor); i += 3 {
		assert.InDelta(t, 1.0, tensor[i], 0.005)
		assert.InDelta(t, 0.0, tensor[i+1], 0.005)
		assert.InDelta(t, 0.2, tensor[i+2], 0.005)
	}
}

func TestPreprocessJPEGInRange(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := range 48 {
		for x := range 64 {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 128, A: 255})
		}
	}

	tensor, err := Preprocess(encodeJPEG(t, img), DefaultInputSize)
	require.NoError(t, err)
	require.Len(t, tensor, DefaultInputSize*DefaultInputSize*3)
	for _, v := range tensor {
		require.GreaterOrEqual(t, v, float32(0))
		require.LessOrEqual(t, v, float32(1))
	}
}

func TestPreprocessRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		size int
	}{
		{"empty", nil, 8},
		{"not an image", []byte("definitely not an image"), 8},
		{"truncated png", encodePNG(t, solidImage(8, 8, color.White))[:20], 8},
		{"zero size", encodePNG(t, solidImage(8, 8, color.White)), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Preprocess(tt.data, tt.size)
			require.Error(t, err)
			assert.True(t, errors.IsInference(err))
		})
	}
}

func TestStaticPredictor(t *testing.T) {
	t.Parallel()

	vector := []float32{0.05, 0.02, 0.01, 0.01, 0.85, 0.03, 0.02, 0.01}
	p := NewStatic(vector)
	vector[0] = 0.99

	got, err := p.Predict(t.Context(), encodePNG(t, solidImage(4, 4, color.Black)))
	require.NoError(t, err)
	assert.Equal(t, float32(0.05), got[0], "constructor copies its input")
	assert.Equal(t, float32(0.85), got[4])

	got[4] = 0
	again, err := p.Predict(t.Context(), encodePNG(t, solidImage(4, 4, color.Black)))
	require.NoError(t, err)
	assert.Equal(t, float32(0.85), again[4], "callers get their own copy")

	_, err = p.Predict(t.Context(), []byte("garbage"))
	assert.True(t, errors.IsInference(err))
}

func TestOneHot(t *testing.T) {
	t.Parallel()

	v := OneHot(5, 2, 0.8)
	require.Len(t, v, 5)
	assert.Equal(t, float32(0.8), v[2])
	assert.InDelta(t, 0.05, v[0], 1e-6)

	sum := float32(0)
	for _, x := range v {
		sum += x
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestNewTFLiteValidation(t *testing.T) {
	t.Parallel()

	_, err := NewTFLite(TFLiteConfig{Labels: 8})
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	_, err = NewTFLite(TFLiteConfig{ModelPath: "model.tflite"})
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	p, err := NewTFLite(TFLiteConfig{ModelPath: "model.tflite", Labels: 8})
	require.NoError(t, err)
	assert.Equal(t, DefaultInputSize, p.cfg.InputSize)
}

func TestTFLiteMissingModel(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewClassifierMetrics(reg)
	require.NoError(t, err)

	p, err := NewTFLite(TFLiteConfig{
		ModelPath: filepath.Join(t.TempDir(), "missing.tflite"),
		Labels:    8,
		Metrics:   m,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	err = p.Load()
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelLoad))

	// Concurrent first predictions share the single failed load.
	var wg sync.WaitGroup
	img := encodePNG(t, solidImage(4, 4, color.White))
	for range 4 {
		wg.Go(func() {
			_, perr := p.Predict(t.Context(), img)
			assert.True(t, errors.IsInference(perr))
		})
	}
	wg.Wait()

	assert.Equal(t, 1, testutil.CollectAndCount(m, "ikancheck_model_loads_total"))

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "ikancheck_model_loads_total" {
			require.Len(t, f.GetMetric(), 1)
			assert.InDelta(t, 1, f.GetMetric()[0].GetCounter().GetValue(), 0, "model loaded once")
		}
	}
}

func TestTFLiteClosedBeforeLoad(t *testing.T) {
	t.Parallel()

	p, err := NewTFLite(TFLiteConfig{ModelPath: filepath.Join(t.TempDir(), "missing.tflite"), Labels: 8})
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err = p.Predict(t.Context(), encodePNG(t, solidImage(4, 4, color.White)))
	assert.Error(t, err)
}

// Package classifier turns an image into a probability vector over the label
// table. The model is opaque: callers see only Predictor.
package classifier

import (
	"context"
	"slices"

	"github.com/ikancheck/ikancheck/internal/errors"
)

// DefaultInputSize is the square input resolution of the bundled Xception model.
const DefaultInputSize = 299

// Predictor produces one probability per label for an encoded image.
// Failures are inference errors; callers must not retry them.
type Predictor interface {
	Predict(ctx context.Context, image []byte) ([]float32, error)
}

// Static is a Predictor that returns a fixed vector for any decodable image.
// It stands in for the model in tests and the --static-model mode.
type Static struct {
	vector []float32
	size   int
}

// NewStatic returns a predictor that always answers vector. The input image
// is still preprocessed so undecodable uploads fail the same way as with a
// real model.
func NewStatic(vector []float32) *Static {
	return &Static{vector: slices.Clone(vector), size: 8}
}

// Predict returns a copy of the fixed vector.
func (s *Static) Predict(ctx context.Context, image []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := Preprocess(image, s.size); err != nil {
		return nil, err
	}
	return slices.Clone(s.vector), nil
}

// OneHot returns a vector of length n with value at index i and the rest of
// the mass spread evenly over the other classes.
func OneHot(n, i int, value float32) []float32 {
	v := make([]float32, n)
	if n == 0 {
		return v
	}
	rest := float32(0)
	if n > 1 {
		rest = (1 - value) / float32(n-1)
	}
	for j := range v {
		v[j] = rest
	}
	if i >= 0 && i < n {
		v[i] = value
	}
	return v
}

func inferenceError(err error, ctxKey string, ctxVal any) error {
	b := errors.New(err).
		Component("classifier").
		Category(errors.CategoryInference)
	if ctxKey != "" {
		b = b.Context(ctxKey, ctxVal)
	}
	return b.Build()
}

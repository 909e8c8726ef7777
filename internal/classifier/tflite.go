package classifier

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/tphakala/go-tflite"

	"github.com/ikancheck/ikancheck/internal/errors"
	"github.com/ikancheck/ikancheck/internal/logger"
	"github.com/ikancheck/ikancheck/internal/observability/metrics"
)

// TFLiteConfig configures the TensorFlow Lite predictor.
type TFLiteConfig struct {
	ModelPath string
	// InputSize is used when the model's input tensor does not report a
	// square spatial shape. Zero means DefaultInputSize.
	InputSize int
	// Threads is the interpreter thread count. Zero uses every CPU.
	Threads int
	// Labels is the expected output length.
	Labels int
	// Metrics is optional.
	Metrics *metrics.ClassifierMetrics
}

// TFLite runs a TensorFlow Lite image classification model. The model is
// loaded on first use; the interpreter is not re-entrant so predictions are
// serialized.
type TFLite struct {
	cfg TFLiteConfig

	loadOnce sync.Once
	loadErr  error

	mu          sync.Mutex
	interpreter *tflite.Interpreter
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	inputSize   int
	closed      bool
}

var _ Predictor = (*TFLite)(nil)

// NewTFLite validates cfg and returns a predictor. The model file is not
// read until Load or the first Predict.
func NewTFLite(cfg TFLiteConfig) (*TFLite, error) {
	if cfg.ModelPath == "" {
		return nil, errors.Newf("model path is not configured").
			Component("classifier").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Labels <= 0 {
		return nil, errors.Newf("label count must be positive, got %d", cfg.Labels).
			Component("classifier").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultInputSize
	}
	return &TFLite{cfg: cfg}, nil
}

// Load loads the model now instead of on first prediction. It is safe to call
// more than once and from several goroutines; only the first call loads.
func (t *TFLite) Load() error {
	t.loadOnce.Do(func() {
		start := time.Now()
		t.loadErr = t.load()
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.RecordModelLoad(time.Since(start), t.loadErr)
		}
	})
	return t.loadErr
}

func (t *TFLite) load() error {
	start := time.Now()
	log := GetLogger()

	modelData, err := os.ReadFile(t.cfg.ModelPath)
	if err != nil {
		return t.loadError(fmt.Errorf("cannot read model file: %w", err), start)
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return t.loadError(fmt.Errorf("cannot load TensorFlow Lite model"), start)
	}

	threads := t.cfg.Threads
	if threads <= 0 || threads > runtime.NumCPU() {
		threads = runtime.NumCPU()
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return t.loadError(fmt.Errorf("cannot create interpreter"), start)
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return t.loadError(fmt.Errorf("tensor allocation failed: %v", status), start)
	}

	inputSize := t.cfg.InputSize
	if input := interpreter.GetInputTensor(0); input != nil && input.NumDims() == 4 {
		if h, w := input.Dim(1), input.Dim(2); h > 0 && h == w {
			inputSize = h
		}
	}

	if output := interpreter.GetOutputTensor(0); output != nil {
		if n := output.Dim(output.NumDims() - 1); n != t.cfg.Labels {
			interpreter.Delete()
			options.Delete()
			model.Delete()
			return t.loadError(fmt.Errorf("model has %d outputs but the label table has %d entries", n, t.cfg.Labels), start)
		}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return t.loadError(fmt.Errorf("classifier closed while loading"), start)
	}
	t.model = model
	t.options = options
	t.interpreter = interpreter
	t.inputSize = inputSize
	t.mu.Unlock()

	// The model bytes are copied by TFLite; reclaim them.
	runtime.GC()

	log.Info("classifier model loaded",
		logger.String("path", t.cfg.ModelPath),
		logger.Int("input_size", inputSize),
		logger.Int("threads", threads),
		logger.Int("labels", t.cfg.Labels),
		logger.Duration("duration", time.Since(start)))
	return nil
}

func (t *TFLite) loadError(err error, start time.Time) error {
	return errors.New(err).
		Component("classifier").
		Category(errors.CategoryModelLoad).
		Context("model_path", t.cfg.ModelPath).
		Timing("model-load", time.Since(start)).
		Build()
}

// Predict preprocesses image and runs the model. The model is loaded on the
// first call; a model that cannot be loaded fails every prediction.
func (t *TFLite) Predict(ctx context.Context, image []byte) (vector []float32, err error) {
	start := time.Now()
	defer func() {
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.RecordPrediction(time.Since(start), err)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.Load(); err != nil {
		return nil, inferenceError(err, "model_path", t.cfg.ModelPath)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.interpreter == nil {
		return nil, inferenceError(fmt.Errorf("classifier is closed"), "", nil)
	}

	input, err := Preprocess(image, t.inputSize)
	if err != nil {
		return nil, err
	}

	inputTensor := t.interpreter.GetInputTensor(0)
	if inputTensor == nil {
		return nil, inferenceError(fmt.Errorf("cannot get input tensor"), "", nil)
	}
	if n := len(inputTensor.Float32s()); n != len(input) {
		return nil, inferenceError(fmt.Errorf("input tensor holds %d values, image has %d", n, len(input)), "input_size", t.inputSize)
	}
	copy(inputTensor.Float32s(), input)

	if status := t.interpreter.Invoke(); status != tflite.OK {
		return nil, inferenceError(fmt.Errorf("tensor invoke failed: %v", status), "", nil)
	}

	outputTensor := t.interpreter.GetOutputTensor(0)
	if outputTensor == nil {
		return nil, inferenceError(fmt.Errorf("cannot get output tensor"), "", nil)
	}
	predictions := extractPredictions(outputTensor)
	if len(predictions) != t.cfg.Labels {
		return nil, inferenceError(fmt.Errorf("model returned %d values, want %d", len(predictions), t.cfg.Labels), "", nil)
	}

	GetLogger().Debug("prediction complete",
		logger.Int("bytes", len(image)),
		logger.Duration("duration", time.Since(start)))
	return predictions, nil
}

// extractPredictions copies the last dimension of the output tensor.
func extractPredictions(tensor *tflite.Tensor) []float32 {
	predSize := tensor.Dim(tensor.NumDims() - 1)
	out := make([]float32, predSize)
	copy(out, tensor.Float32s())
	return out
}

// Close releases the interpreter. Predictions after Close fail.
func (t *TFLite) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.interpreter != nil {
		t.interpreter.Delete()
		t.interpreter = nil
	}
	if t.options != nil {
		t.options.Delete()
		t.options = nil
	}
	if t.model != nil {
		t.model.Delete()
		t.model = nil
	}
	return nil
}

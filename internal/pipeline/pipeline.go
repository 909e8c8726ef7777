// Package pipeline runs one detection end to end: inference, the decision
// policy, and recording accepted detections in the history.
//
// A history write failure never changes the decision. It is returned in
// Result.PersistenceErr and logged, and the call itself succeeds.
package pipeline

import (
	"context"
	"time"

	"github.com/ikancheck/ikancheck/internal/classifier"
	"github.com/ikancheck/ikancheck/internal/decision"
	"github.com/ikancheck/ikancheck/internal/errors"
	"github.com/ikancheck/ikancheck/internal/history"
	"github.com/ikancheck/ikancheck/internal/labels"
	"github.com/ikancheck/ikancheck/internal/logger"
	"github.com/ikancheck/ikancheck/internal/observability/metrics"
)

// Recorder stores accepted detections. *history.Store implements it.
type Recorder interface {
	Append(ctx context.Context, rec history.Record) (history.RecordID, error)
}

// Result is the outcome of one ClassifyAndRecord call.
type Result struct {
	Decision decision.Decision
	// RecordID is set when an accepted detection was stored.
	RecordID history.RecordID
	// PersistenceErr is set when an accepted detection could not be stored.
	PersistenceErr error
	// Advice is the treatment advice for an accepted label.
	Advice string
}

// Stored reports whether the detection was written to the history.
func (r Result) Stored() bool {
	return r.RecordID != ""
}

// Warning returns a user facing note about a failed history write, or "".
func (r Result) Warning() string {
	if r.PersistenceErr == nil {
		return ""
	}
	return "The result could not be saved to the history."
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock replaces time.Now as the source of record timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithMetrics records decisions and failures.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithContent resolves advice text for accepted labels.
func WithContent(c *labels.Content) Option {
	return func(p *Pipeline) { p.content = c }
}

// Pipeline is safe for concurrent use; it keeps no per-call state.
type Pipeline struct {
	predictor classifier.Predictor
	policy    *decision.Policy
	recorder  Recorder
	content   *labels.Content
	metrics   *metrics.PipelineMetrics
	now       func() time.Time
}

// New returns a pipeline. All three collaborators are required.
func New(predictor classifier.Predictor, policy *decision.Policy, recorder Recorder, opts ...Option) (*Pipeline, error) {
	if predictor == nil || policy == nil || recorder == nil {
		return nil, errors.Newf("pipeline requires a predictor, a decision policy and a recorder").
			Component("pipeline").
			Category(errors.CategoryConfiguration).
			Build()
	}
	p := &Pipeline{
		predictor: predictor,
		policy:    policy,
		recorder:  recorder,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Policy returns the decision policy.
func (p *Pipeline) Policy() *decision.Policy {
	return p.policy
}

// ClassifyAndRecord classifies image and stores it when accepted. Inference
// failures are returned unchanged and nothing is stored. A vector the policy
// cannot judge is reported as an inference failure.
func (p *Pipeline) ClassifyAndRecord(ctx context.Context, image []byte) (Result, error) {
	log := GetLogger().WithContext(ctx)
	start := time.Now()

	vector, err := p.predictor.Predict(ctx, image)
	if err != nil {
		p.inferenceFailed()
		log.Warn("inference failed", logger.Error(err), logger.Int("bytes", len(image)))
		return Result{}, err
	}

	dec, err := p.policy.Decide(vector)
	if err != nil {
		p.inferenceFailed()
		return Result{}, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryInference).
			Context("vector_length", len(vector)).
			Build()
	}

	res := Result{Decision: dec}
	if p.metrics != nil {
		accepted := ""
		if dec.IsAccepted() {
			accepted = dec.Label
		}
		p.metrics.RecordDecision(string(dec.Outcome), accepted, dec.Confidence)
	}

	if !dec.IsAccepted() {
		log.Info("detection rejected",
			logger.String("reason", dec.Reason()),
			logger.String("top_label", dec.Label),
			logger.Float64("confidence", dec.Confidence),
			logger.Duration("duration", time.Since(start)))
		return res, nil
	}

	if p.content != nil {
		res.Advice = p.content.Advice(dec.Label)
	}

	id, err := p.recorder.Append(ctx, history.Record{
		CreatedAt: p.now(),
		Label:     dec.Label,
		Image:     image,
	})
	if err != nil {
		res.PersistenceErr = err
		if p.metrics != nil {
			p.metrics.RecordHistoryWriteFailure()
		}
		log.Warn("accepted detection was not recorded",
			logger.String("label", dec.Label),
			logger.Error(err))
	} else {
		res.RecordID = id
	}

	log.Info("detection accepted",
		logger.String("label", dec.Label),
		logger.Float64("confidence", dec.Confidence),
		logger.String("record_id", string(res.RecordID)),
		logger.Duration("duration", time.Since(start)))
	return res, nil
}

func (p *Pipeline) inferenceFailed() {
	if p.metrics != nil {
		p.metrics.RecordInferenceFailure()
	}
}

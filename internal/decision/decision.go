// Package decision turns a classifier probability vector into exactly one of
// three outcomes: rejected as not a fish, rejected for low confidence, or
// accepted with a label.
//
// The rules are applied in a fixed order. The not-a-fish check runs before
// the confidence check, so an image whose top class is the sentinel is always
// reported as not a fish, however confident the model was.
package decision

import (
	"fmt"
	"math"
	"slices"

	"github.com/ikancheck/ikancheck/internal/errors"
	"github.com/ikancheck/ikancheck/internal/labels"
)

// DefaultThreshold is the minimum confidence for an accepted detection.
const DefaultThreshold = 0.70

// valueTolerance allows for float rounding in model outputs near 0 and 1.
const valueTolerance = 1e-4

// Outcome is the kind of a decision.
type Outcome string

const (
	// Accepted means the image shows a fish with a confident label.
	Accepted Outcome = "accepted"
	// RejectedNotSubject means the top class was the not-a-fish sentinel.
	RejectedNotSubject Outcome = "rejected_not_subject"
	// RejectedLowConfidence means the top confidence was below the threshold.
	RejectedLowConfidence Outcome = "rejected_low_confidence"
)

// Machine readable rejection reasons.
const (
	ReasonNone          = ""
	ReasonNotSubject    = "not_a_fish"
	ReasonLowConfidence = "low_confidence"
)

// Score is one label with its model confidence.
type Score struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Decision is the result of applying the policy to one probability vector.
// Label, Index and Confidence always describe the top class, including for
// rejections. Scores lists every class in descending confidence.
type Decision struct {
	Outcome    Outcome
	Label      string
	Index      int
	Confidence float64
	Threshold  float64
	Scores     []Score
}

// IsAccepted reports whether the decision carries an accepted label.
func (d Decision) IsAccepted() bool {
	return d.Outcome == Accepted
}

// Reason returns the machine readable rejection reason, or ReasonNone for
// accepted decisions.
func (d Decision) Reason() string {
	switch d.Outcome {
	case RejectedNotSubject:
		return ReasonNotSubject
	case RejectedLowConfidence:
		return ReasonLowConfidence
	default:
		return ReasonNone
	}
}

// Message returns the user facing text for the outcome.
func (d Decision) Message() string {
	switch d.Outcome {
	case RejectedNotSubject:
		return "The image was not recognized as a fish. Please upload a clear photo of a fish."
	case RejectedLowConfidence:
		return fmt.Sprintf("The model is only %.2f%% confident, which is too low for an accurate result. "+
			"Try a clearer photo.", d.Confidence*100)
	case Accepted:
		return fmt.Sprintf("Detected %s with %.2f%% confidence.", d.Label, d.Confidence*100)
	default:
		return ""
	}
}

// Policy applies the ordered rejection rules against a label table.
// It holds no mutable state and is safe for concurrent use.
type Policy struct {
	threshold float64
	table     *labels.Table
}

// NewPolicy returns a policy with the given acceptance threshold. The
// threshold must lie in (0, 1].
func NewPolicy(threshold float64, table *labels.Table) (*Policy, error) {
	if math.IsNaN(threshold) || threshold <= 0 || threshold > 1 {
		return nil, errors.Newf("confidence threshold %v must be in (0, 1]", threshold).
			Component("decision").
			Category(errors.CategoryConfiguration).
			Context("threshold", threshold).
			Build()
	}
	if table == nil {
		return nil, errors.Newf("label table is required").
			Component("decision").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &Policy{threshold: threshold, table: table}, nil
}

// Threshold returns the acceptance threshold.
func (p *Policy) Threshold() float64 {
	return p.threshold
}

// Labels returns the label table the policy decides against.
func (p *Policy) Labels() *labels.Table {
	return p.table
}

// Decide classifies vector. The predicted index is the first index holding
// the maximum value. A vector that does not match the label table, or that
// holds values outside [0, 1], is a validation error.
func (p *Policy) Decide(vector []float32) (Decision, error) {
	if err := p.validate(vector); err != nil {
		return Decision{}, err
	}

	index := argmax(vector)
	label, _ := p.table.Name(index)
	top := vector[index]

	d := Decision{
		Label:      label,
		Index:      index,
		Confidence: float64(top),
		Threshold:  p.threshold,
		Scores:     p.rank(vector),
	}

	// Compare in float32 so a model output of exactly the threshold is accepted.
	switch {
	case p.table.IsNotSubject(label):
		d.Outcome = RejectedNotSubject
	case top < float32(p.threshold):
		d.Outcome = RejectedLowConfidence
	default:
		d.Outcome = Accepted
	}
	return d, nil
}

func (p *Policy) validate(vector []float32) error {
	if len(vector) != p.table.Len() {
		return errors.Newf("probability vector has %d values, label table has %d", len(vector), p.table.Len()).
			Component("decision").
			Category(errors.CategoryValidation).
			Context("vector_length", len(vector)).
			Context("label_count", p.table.Len()).
			Build()
	}
	for i, v := range vector {
		f := float64(v)
		if math.IsNaN(f) || f < -valueTolerance || f > 1+valueTolerance {
			return errors.Newf("probability %v at index %d is outside [0, 1]", v, i).
				Component("decision").
				Category(errors.CategoryValidation).
				Context("index", i).
				Build()
		}
	}
	return nil
}

// rank pairs labels with their confidence, highest first. Equal values keep
// label table order.
func (p *Policy) rank(vector []float32) []Score {
	scores := make([]Score, len(vector))
	for i, v := range vector {
		name, _ := p.table.Name(i)
		scores[i] = Score{Label: name, Confidence: float64(v)}
	}
	slices.SortStableFunc(scores, func(a, b Score) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		default:
			return 0
		}
	})
	return scores
}

func argmax(vector []float32) int {
	best := 0
	for i := 1; i < len(vector); i++ {
		if vector[i] > vector[best] {
			best = i
		}
	}
	return best
}

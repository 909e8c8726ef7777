package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikancheck/ikancheck/internal/errors"
	"github.com/ikancheck/ikancheck/internal/labels"
)

func newTestPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := NewPolicy(DefaultThreshold, labels.Default())
	require.NoError(t, err)
	return p
}

func TestDecide(t *testing.T) {
	t.Parallel()

	p := newTestPolicy(t)

	tests := []struct {
		name           string
		vector         []float32
		wantOutcome    Outcome
		wantLabel      string
		wantIndex      int
		wantConfidence float64
		wantReason     string
	}{
		{
			name:           "healthy fish accepted",
			vector:         []float32{0.05, 0.02, 0.01, 0.01, 0.85, 0.03, 0.02, 0.01},
			wantOutcome:    Accepted,
			wantLabel:      "Healthy Fish",
			wantIndex:      4,
			wantConfidence: 0.85,
			wantReason:     ReasonNone,
		},
		{
			name:           "sentinel wins with low confidence",
			vector:         []float32{0.10, 0.10, 0.05, 0.05, 0.10, 0.10, 0.10, 0.40},
			wantOutcome:    RejectedNotSubject,
			wantLabel:      "bukan ikan",
			wantIndex:      7,
			wantConfidence: 0.40,
			wantReason:     ReasonNotSubject,
		},
		{
			name:           "sentinel wins with high confidence",
			vector:         []float32{0.01, 0.01, 0.01, 0.01, 0.01, 0.01, 0.01, 0.93},
			wantOutcome:    RejectedNotSubject,
			wantLabel:      "bukan ikan",
			wantIndex:      7,
			wantConfidence: 0.93,
			wantReason:     ReasonNotSubject,
		},
		{
			name:           "disease below threshold",
			vector:         []float32{0.55, 0.10, 0.05, 0.05, 0.10, 0.05, 0.05, 0.05},
			wantOutcome:    RejectedLowConfidence,
			wantLabel:      "Bacterial Red disease",
			wantIndex:      0,
			wantConfidence: 0.55,
			wantReason:     ReasonLowConfidence,
		},
		{
			name:           "exactly at threshold is accepted",
			vector:         []float32{0.10, 0.70, 0.05, 0.05, 0.05, 0.02, 0.02, 0.01},
			wantOutcome:    Accepted,
			wantLabel:      "Bacterial diseases - Aeromoniasis",
			wantIndex:      1,
			wantConfidence: 0.70,
			wantReason:     ReasonNone,
		},
		{
			name:           "tie resolves to lowest index",
			vector:         []float32{0.0, 0.0, 0.45, 0.0, 0.0, 0.45, 0.0, 0.10},
			wantOutcome:    RejectedLowConfidence,
			wantLabel:      "Bacterial gill disease",
			wantIndex:      2,
			wantConfidence: 0.45,
			wantReason:     ReasonLowConfidence,
		},
		{
			name:           "tie with sentinel resolves to the earlier disease",
			vector:         []float32{0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.5, 0.5},
			wantOutcome:    RejectedLowConfidence,
			wantLabel:      "Viral diseases White tail disease",
			wantIndex:      6,
			wantConfidence: 0.5,
			wantReason:     ReasonLowConfidence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d, err := p.Decide(tt.vector)
			require.NoError(t, err)

			assert.Equal(t, tt.wantOutcome, d.Outcome)
			assert.Equal(t, tt.wantLabel, d.Label)
			assert.Equal(t, tt.wantIndex, d.Index)
			assert.InDelta(t, tt.wantConfidence, d.Confidence, 1e-6)
			assert.Equal(t, tt.wantReason, d.Reason())
			assert.Equal(t, tt.wantOutcome == Accepted, d.IsAccepted())
			assert.InDelta(t, DefaultThreshold, d.Threshold, 1e-9)
		})
	}
}

func TestDecideScoresAreRanked(t *testing.T) {
	t.Parallel()

	p := newTestPolicy(t)
	d, err := p.Decide([]float32{0.05, 0.02, 0.01, 0.01, 0.85, 0.03, 0.02, 0.01})
	require.NoError(t, err)

	require.Len(t, d.Scores, 8)
	assert.Equal(t, "Healthy Fish", d.Scores[0].Label)
	assert.Equal(t, "Bacterial Red disease", d.Scores[1].Label)
	for i := 1; i < len(d.Scores); i++ {
		assert.GreaterOrEqual(t, d.Scores[i-1].Confidence, d.Scores[i].Confidence)
	}
	// Equal scores keep label table order.
	assert.Equal(t, "Bacterial diseases - Aeromoniasis", d.Scores[3].Label)
	assert.Equal(t, "Viral diseases White tail disease", d.Scores[4].Label)
}

func TestDecideDoesNotModifyVector(t *testing.T) {
	t.Parallel()

	p := newTestPolicy(t)
	vector := []float32{0.05, 0.02, 0.01, 0.01, 0.85, 0.03, 0.02, 0.01}
	original := append([]float32(nil), vector...)

	_, err := p.Decide(vector)
	require.NoError(t, err)
	assert.Equal(t, original, vector)
}

func TestDecideRejectsInvalidVectors(t *testing.T) {
	t.Parallel()

	p := newTestPolicy(t)

	tests := []struct {
		name   string
		vector []float32
	}{
		{"empty", nil},
		{"too short", []float32{0.9, 0.1}},
		{"too long", make([]float32, 9)},
		{"negative value", []float32{-0.5, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1}},
		{"above one", []float32{1.5, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := p.Decide(tt.vector)
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func TestNewPolicyThresholdBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		threshold float64
		wantErr   bool
	}{
		{0, true},
		{-0.1, true},
		{1.01, true},
		{0.01, false},
		{0.7, false},
		{1, false},
	}

	for _, tt := range tests {
		_, err := NewPolicy(tt.threshold, labels.Default())
		if tt.wantErr {
			assert.Error(t, err, "threshold %v", tt.threshold)
			assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
		} else {
			assert.NoError(t, err, "threshold %v", tt.threshold)
		}
	}

	_, err := NewPolicy(0.7, nil)
	assert.Error(t, err)
}

func TestCustomThreshold(t *testing.T) {
	t.Parallel()

	p, err := NewPolicy(0.5, labels.Default())
	require.NoError(t, err)

	d, err := p.Decide([]float32{0.55, 0.10, 0.05, 0.05, 0.10, 0.05, 0.05, 0.05})
	require.NoError(t, err)
	assert.Equal(t, Accepted, d.Outcome)
}

func TestMessagesAreDistinct(t *testing.T) {
	t.Parallel()

	notSubject := Decision{Outcome: RejectedNotSubject, Confidence: 0.4}
	lowConfidence := Decision{Outcome: RejectedLowConfidence, Confidence: 0.55}
	accepted := Decision{Outcome: Accepted, Label: "Healthy Fish", Confidence: 0.85}

	assert.Contains(t, notSubject.Message(), "not recognized as a fish")
	assert.Contains(t, lowConfidence.Message(), "55.00%")
	assert.Contains(t, lowConfidence.Message(), "too low")
	assert.Contains(t, accepted.Message(), "Healthy Fish")
	assert.Contains(t, accepted.Message(), "85.00%")
	assert.NotEqual(t, notSubject.Message(), lowConfidence.Message())
}

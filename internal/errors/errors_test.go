package errors

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildWithoutTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.Timestamp.IsZero())
}

func TestCategoryHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		category ErrorCategory
		check    func(error) bool
	}{
		{"inference", CategoryInference, IsInference},
		{"persistence", CategoryPersistence, IsPersistence},
		{"not found", CategoryNotFound, IsNotFound},
		{"malformed record", CategoryMalformedRecord, IsMalformedRecord},
		{"validation", CategoryValidation, IsValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Newf("boom").Component("history").Category(tt.category).Build()
			assert.True(t, tt.check(err))

			wrapped := fmt.Errorf("outer: %w", err)
			assert.True(t, tt.check(wrapped), "category survives fmt wrapping")

			assert.False(t, tt.check(fmt.Errorf("plain")))
		})
	}
}

func TestRewrapKeepsCategoryAndCause(t *testing.T) {
	t.Parallel()

	sentinel := NewStd("disk full")
	inner := New(sentinel).Category(CategoryPersistence).Build()
	outer := New(inner).Context("operation", "append").Build()

	assert.Equal(t, CategoryPersistence, outer.Category)
	assert.ErrorIs(t, outer, sentinel)
	assert.Equal(t, "append", outer.GetContext()["operation"])
}

func TestEnhancedErrorIsMatchesCategory(t *testing.T) {
	t.Parallel()

	a := Newf("a").Category(CategoryNotFound).Build()
	b := Newf("b").Category(CategoryNotFound).Build()
	c := Newf("c").Category(CategoryInference).Build()

	assert.ErrorIs(t, a, b)
	assert.NotErrorIs(t, a, c)
}

func TestPriorityFallback(t *testing.T) {
	t.Parallel()

	assert.Equal(t, PriorityHigh, Newf("x").Priority(PriorityHigh).Build().Priority)
	assert.Equal(t, PriorityMedium, Newf("x").Priority("urgent").Build().Priority)
	assert.Empty(t, Newf("x").Priority("").Build().Priority)
}

func TestScrubMessageForPrivacy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		input      string
		mustHave   string
		mustNotHas string
	}{
		{"url query", "GET https://blob.example.com/c?sig=abc123&se=2025", "https://blob.example.com/c?[REDACTED]", "abc123"},
		{"url credentials", "dial mysql://ikan:hunter22@db:3306", "[REDACTED]@db:3306", "hunter22"},
		{"account key", "config account_key=c2VjcmV0 rejected", "account_key=[REDACTED]", "c2VjcmV0"},
		{"absolute path", "open /home/user/riwayat_upload/20250115_134502_Healthy Fish.jpg: denied", "<path>/20250115_134502_Healthy", "/home/user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := scrubMessageForPrivacy(tt.input)
			assert.Contains(t, got, tt.mustHave)
			assert.NotContains(t, got, tt.mustNotHas)
		})
	}
}

// recordingTransport implements sentry.Transport and keeps events in memory
type recordingTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (r *recordingTransport) Configure(_ sentry.ClientOptions) {}

func (r *recordingTransport) SendEvent(event *sentry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingTransport) Flush(_ time.Duration) bool { return true }

func (r *recordingTransport) FlushWithContext(_ context.Context) bool { return true }

func (r *recordingTransport) Close() {}

func (r *recordingTransport) Events() []*sentry.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*sentry.Event(nil), r.events...)
}

func TestSentryReporterSendsScrubbedEventOnce(t *testing.T) {
	transport := &recordingTransport{}
	require.NoError(t, InitSentry(SentryOptions{Environment: "test", Transport: transport}))
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := Newf("write /var/lib/ikancheck/history/x.jpg failed").
		Component("history").
		Category(CategoryPersistence).
		Context("operation", "append_record").
		Build()

	// A second report of the same error is ignored.
	GetTelemetryReporter().ReportError(ee)
	FlushTelemetry(time.Second)

	events := transport.Events()
	require.Len(t, events, 1)
	event := events[0]
	assert.Equal(t, sentry.LevelWarning, event.Level)
	require.Len(t, event.Exception, 1)
	assert.Equal(t, "History Persistence Error Append Record", event.Exception[0].Type)
	assert.NotContains(t, event.Message, "/var/lib/ikancheck")
	assert.Equal(t, "persistence", event.Tags["category"])
	assert.True(t, ee.IsReported())
}

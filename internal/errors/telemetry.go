package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter receives every built error while reporting is active
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter forwards enhanced errors to Sentry with privacy scrubbing
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a Sentry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// SentryOptions configures the Sentry client used by InitSentry
type SentryOptions struct {
	DSN         string
	Release     string
	Environment string
	Transport   sentry.Transport
}

// InitSentry initializes the Sentry SDK and installs a SentryReporter as the
// process telemetry reporter.
func InitSentry(opts SentryOptions) error {
	if opts.Environment == "" {
		opts.Environment = "production"
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Transport:        opts.Transport,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      opts.Environment,
		ServerName:       "",
		Release:          opts.Release,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			event.User = sentry.User{}
			event.ServerName = ""
			if event.Contexts != nil {
				delete(event.Contexts, "device")
				delete(event.Contexts, "os")
			}
			return event
		},
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	SetTelemetryReporter(NewSentryReporter(true))
	return nil
}

// FlushTelemetry waits up to timeout for queued events to be sent.
func FlushTelemetry(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// ReportError sends ee to Sentry once.
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	message := scrubMessageForPrivacy(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	title := errorTitle(ee)
	level := errorLevel(ee.Category)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}
		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessageForPrivacy(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}
		scope.SetLevel(level)
		scope.SetFingerprint([]string{title, ee.GetComponent(), string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// errorTitle builds "Component Category Operation" for Sentry grouping
func errorTitle(ee *EnhancedError) string {
	var parts []string
	if c := ee.GetComponent(); c != "" && c != ComponentUnknown {
		parts = append(parts, titleCase(c))
	}
	parts = append(parts, categoryTitle(ee.Category))
	if op, ok := ee.GetContext()["operation"].(string); ok && op != "" {
		for word := range strings.FieldsSeq(strings.ReplaceAll(op, "_", " ")) {
			parts = append(parts, titleCase(word))
		}
	}
	return strings.Join(parts, " ")
}

func categoryTitle(category ErrorCategory) string {
	switch category {
	case CategoryInference:
		return "Inference Error"
	case CategoryPersistence:
		return "Persistence Error"
	case CategoryNotFound:
		return "Not Found"
	case CategoryMalformedRecord:
		return "Malformed Record"
	case CategoryValidation:
		return "Validation Error"
	case CategoryConfiguration:
		return "Configuration Error"
	case CategoryModelLoad:
		return "Model Loading Error"
	case CategoryDatabase:
		return "Database Error"
	default:
		return titleCase(string(category))
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func errorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryNotFound, CategoryMalformedRecord:
		return sentry.LevelInfo
	case CategoryPersistence, CategoryNetwork, CategoryFileIO:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

var (
	telemetryMu             sync.RWMutex
	globalTelemetryReporter TelemetryReporter
)

// SetTelemetryReporter installs the process telemetry reporter; nil disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	telemetryMu.Lock()
	defer telemetryMu.Unlock()
	globalTelemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

// GetTelemetryReporter returns the current telemetry reporter
func GetTelemetryReporter() TelemetryReporter {
	telemetryMu.RLock()
	defer telemetryMu.RUnlock()
	return globalTelemetryReporter
}

func reportToTelemetry(ee *EnhancedError) {
	if reporter := GetTelemetryReporter(); reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

var (
	urlQueryRegex  = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	urlUserRegex   = regexp.MustCompile(`(://)[^/@\s]+@`)
	secretRegex    = regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|account[_-]?key)[=:]\S+`)
	longHexRegex   = regexp.MustCompile(`[0-9a-fA-F]{32,}`)
	absPathRegex   = regexp.MustCompile(`(^|\s)(?:[A-Za-z]:\\|/)(?:[^\s/\\:"']+[/\\])+`)
	redactedMarker = "[REDACTED]"
)

// scrubMessageForPrivacy removes URL queries, credentials, secrets and
// directory components of absolute paths. File names are kept since history
// identifiers carry only a timestamp and a label.
func scrubMessageForPrivacy(message string) string {
	scrubbed := urlQueryRegex.ReplaceAllString(message, "$1?"+redactedMarker)
	scrubbed = urlUserRegex.ReplaceAllString(scrubbed, "${1}"+redactedMarker+"@")
	scrubbed = secretRegex.ReplaceAllString(scrubbed, "${1}="+redactedMarker)
	scrubbed = longHexRegex.ReplaceAllString(scrubbed, redactedMarker)
	scrubbed = absPathRegex.ReplaceAllString(scrubbed, "${1}<path>/")
	return scrubbed
}

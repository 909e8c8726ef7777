// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"slices"
	"strings"
)

var supportedBackends = []string{BackendFilesystem, BackendSQLite, BackendMySQL, BackendAzure, BackendS3}

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct and reports every problem found.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateLoggingSettings(&settings.Logging)...)
	ve.Errors = append(ve.Errors, validateModelSettings(&settings.Model)...)
	ve.Errors = append(ve.Errors, validateDecisionSettings(&settings.Decision)...)
	ve.Errors = append(ve.Errors, validateHistorySettings(&settings.History)...)
	ve.Errors = append(ve.Errors, validateWebServerSettings(&settings.WebServer)...)
	ve.Errors = append(ve.Errors, validateTelemetrySettings(&settings.Telemetry)...)

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateLoggingSettings(s *LoggingSettings) []string {
	var errs []string
	if s.Level != "" {
		if err := validateEnvLogLevel(s.Level); err != nil {
			errs = append(errs, fmt.Sprintf("logging.level: %v", err))
		}
	}
	if s.File.Enabled && s.File.Path == "" {
		errs = append(errs, "logging.file.path is required when file logging is enabled")
	}
	return errs
}

func validateModelSettings(s *ModelSettings) []string {
	var errs []string
	if s.InputSize <= 0 {
		errs = append(errs, fmt.Sprintf("model.inputsize must be positive, got %d", s.InputSize))
	}
	if s.Threads < 0 {
		errs = append(errs, fmt.Sprintf("model.threads cannot be negative, got %d", s.Threads))
	}
	if strings.TrimSpace(s.NotSubjectLabel) == "" {
		errs = append(errs, "model.notsubjectlabel is required")
	}
	if strings.TrimSpace(s.HealthyLabel) == "" {
		errs = append(errs, "model.healthylabel is required")
	}
	if s.NotSubjectLabel != "" && s.NotSubjectLabel == s.HealthyLabel {
		errs = append(errs, "model.notsubjectlabel and model.healthylabel must differ")
	}
	return errs
}

func validateDecisionSettings(s *DecisionSettings) []string {
	if s.Threshold <= 0 || s.Threshold > 1 {
		return []string{fmt.Sprintf("decision.threshold must be greater than 0 and at most 1, got %g", s.Threshold)}
	}
	return nil
}

func validateHistorySettings(s *HistorySettings) []string {
	var errs []string

	if s.CacheTTL < 0 {
		errs = append(errs, "history.cachettl cannot be negative")
	}

	switch s.Backend {
	case BackendFilesystem:
		if s.Path == "" {
			errs = append(errs, "history.path is required for the filesystem backend")
		}
	case BackendSQLite:
		if s.SQLite.Path == "" {
			errs = append(errs, "history.sqlite.path is required for the sqlite backend")
		}
	case BackendMySQL:
		if s.MySQL.Host == "" || s.MySQL.Database == "" {
			errs = append(errs, "history.mysql.host and history.mysql.database are required for the mysql backend")
		}
		if s.MySQL.Port != "" {
			if err := validateEnvPort(s.MySQL.Port); err != nil {
				errs = append(errs, fmt.Sprintf("history.mysql.port: %v", err))
			}
		}
	case BackendAzure:
		if s.Azure.Container == "" {
			errs = append(errs, "history.azure.container is required for the azure backend")
		}
		if s.Azure.ConnectionString == "" && (s.Azure.AccountName == "" || s.Azure.AccountKey == "") {
			errs = append(errs, "history.azure needs a connection string or an account name and key")
		}
	case BackendS3:
		if s.S3.Bucket == "" {
			errs = append(errs, "history.s3.bucket is required for the s3 backend")
		}
		if s.S3.Region == "" {
			errs = append(errs, "history.s3.region is required for the s3 backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("history.backend %q is not supported, use one of %s",
			s.Backend, strings.Join(supportedBackends, ", ")))
	}

	return errs
}

func validateWebServerSettings(s *WebServerSettings) []string {
	var errs []string
	if !s.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		errs = append(errs, fmt.Sprintf("webserver.listen %q is not a host:port address", s.Listen))
	}
	if s.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Sprintf("webserver.maxuploadmb must be positive, got %d", s.MaxUploadMB))
	}
	if s.RateLimit < 0 {
		errs = append(errs, "webserver.ratelimit cannot be negative")
	}
	return errs
}

func validateTelemetrySettings(s *TelemetrySettings) []string {
	if s.Enabled && s.DSN == "" {
		return []string{"telemetry.dsn is required when telemetry is enabled"}
	}
	return nil
}

// SupportedBackends returns the names accepted by history.backend.
func SupportedBackends() []string {
	return slices.Clone(supportedBackends)
}

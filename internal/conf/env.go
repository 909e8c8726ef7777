// env.go - environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for one environment variable binding
type envBinding struct {
	ConfigKey string             // viper config key
	EnvVar    string             // environment variable name
	Validate  func(string) error // optional validation
}

// getEnvBindings returns all environment variable bindings
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "IKANCHECK_DEBUG", validateEnvBool},
		{"logging.level", "IKANCHECK_LOG_LEVEL", validateEnvLogLevel},

		{"model.path", "IKANCHECK_MODEL_PATH", validateEnvPath},
		{"model.labelpath", "IKANCHECK_LABEL_PATH", validateEnvPath},
		{"model.threads", "IKANCHECK_MODEL_THREADS", validateEnvThreads},

		{"decision.threshold", "IKANCHECK_THRESHOLD", validateEnvThreshold},

		{"history.backend", "IKANCHECK_HISTORY_BACKEND", validateEnvBackend},
		{"history.path", "IKANCHECK_HISTORY_PATH", validateEnvPath},
		{"history.cachettl", "IKANCHECK_HISTORY_CACHE_TTL", validateEnvDuration},
		{"history.sqlite.path", "IKANCHECK_SQLITE_PATH", validateEnvPath},
		{"history.mysql.host", "IKANCHECK_MYSQL_HOST", nil},
		{"history.mysql.port", "IKANCHECK_MYSQL_PORT", validateEnvPort},
		{"history.mysql.username", "IKANCHECK_MYSQL_USERNAME", nil},
		{"history.mysql.password", "IKANCHECK_MYSQL_PASSWORD", nil},
		{"history.mysql.database", "IKANCHECK_MYSQL_DATABASE", nil},
		{"history.azure.connectionstring", "IKANCHECK_AZURE_CONNECTION_STRING", nil},
		{"history.azure.accountname", "IKANCHECK_AZURE_ACCOUNT_NAME", nil},
		{"history.azure.accountkey", "IKANCHECK_AZURE_ACCOUNT_KEY", nil},
		{"history.azure.container", "IKANCHECK_AZURE_CONTAINER", nil},
		{"history.s3.endpoint", "IKANCHECK_S3_ENDPOINT", nil},
		{"history.s3.region", "IKANCHECK_S3_REGION", nil},
		{"history.s3.bucket", "IKANCHECK_S3_BUCKET", nil},
		{"history.s3.accesskey", "IKANCHECK_S3_ACCESS_KEY", nil},
		{"history.s3.secretkey", "IKANCHECK_S3_SECRET_KEY", nil},
		{"history.s3.usepathstyle", "IKANCHECK_S3_USE_PATH_STYLE", validateEnvBool},

		{"webserver.listen", "IKANCHECK_LISTEN", nil},
		{"webserver.maxuploadmb", "IKANCHECK_MAX_UPLOAD_MB", validateEnvPositiveInt},

		{"telemetry.enabled", "IKANCHECK_TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.dsn", "IKANCHECK_SENTRY_DSN", nil},
	}
}

// bindEnvVars binds every environment variable and validates the ones that are set
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value '%s': %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true/false, 1/0, t/f")
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	if !slices.Contains([]string{"trace", "debug", "info", "warn", "error"}, strings.ToLower(value)) {
		return fmt.Errorf("must be one of trace, debug, info, warn, error")
	}
	return nil
}

func validateEnvThreshold(value string) error {
	threshold, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid threshold: %w", err)
	}
	if threshold <= 0.0 || threshold > 1.0 {
		return fmt.Errorf("threshold must be greater than 0.0 and at most 1.0, got %g", threshold)
	}
	return nil
}

func validateEnvThreads(value string) error {
	threads, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid thread count: %w", err)
	}
	if threads < 0 {
		return fmt.Errorf("thread count cannot be negative, got %d", threads)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid number: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("must be positive, got %d", n)
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func validateEnvDuration(value string) error {
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	return nil
}

func validateEnvBackend(value string) error {
	if !slices.Contains(supportedBackends, value) {
		return fmt.Errorf("must be one of %s", strings.Join(supportedBackends, ", "))
	}
	return nil
}

func validateEnvPath(value string) error {
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("path contains a NUL byte")
	}
	return nil
}

package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	return &Settings{
		Logging: LoggingSettings{Level: "info"},
		Model: ModelSettings{
			InputSize:       DefaultInputSize,
			NotSubjectLabel: DefaultNotSubjectLabel,
			HealthyLabel:    DefaultHealthyLabel,
		},
		Decision: DecisionSettings{Threshold: DefaultThreshold},
		History: HistorySettings{
			Backend: BackendFilesystem,
			Path:    DefaultHistoryPath,
		},
		WebServer: WebServerSettings{Enabled: true, Listen: ":8080", MaxUploadMB: 10},
	}
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"valid defaults", func(s *Settings) {}, ""},
		{"threshold zero", func(s *Settings) { s.Decision.Threshold = 0 }, "decision.threshold"},
		{"threshold above one", func(s *Settings) { s.Decision.Threshold = 1.01 }, "decision.threshold"},
		{"threshold exactly one", func(s *Settings) { s.Decision.Threshold = 1 }, ""},
		{"same sentinel and healthy", func(s *Settings) { s.Model.HealthyLabel = s.Model.NotSubjectLabel }, "must differ"},
		{"missing sentinel", func(s *Settings) { s.Model.NotSubjectLabel = " " }, "notsubjectlabel"},
		{"bad input size", func(s *Settings) { s.Model.InputSize = 0 }, "inputsize"},
		{"unknown backend", func(s *Settings) { s.History.Backend = "tape" }, "not supported"},
		{"filesystem without path", func(s *Settings) { s.History.Path = "" }, "history.path"},
		{"mysql without host", func(s *Settings) {
			s.History.Backend = BackendMySQL
			s.History.MySQL.Database = "ikan"
		}, "history.mysql.host"},
		{"mysql bad port", func(s *Settings) {
			s.History.Backend = BackendMySQL
			s.History.MySQL = MySQLSettings{Host: "db", Database: "ikan", Port: "99999"}
		}, "history.mysql.port"},
		{"azure without credentials", func(s *Settings) {
			s.History.Backend = BackendAzure
			s.History.Azure.Container = "c"
		}, "connection string"},
		{"azure with connection string", func(s *Settings) {
			s.History.Backend = BackendAzure
			s.History.Azure = AzureSettings{Container: "c", ConnectionString: "UseDevelopmentStorage=true"}
		}, ""},
		{"s3 without bucket", func(s *Settings) {
			s.History.Backend = BackendS3
			s.History.S3.Region = "us-east-1"
		}, "history.s3.bucket"},
		{"bad listen address", func(s *Settings) { s.WebServer.Listen = "8080" }, "webserver.listen"},
		{"disabled webserver skips checks", func(s *Settings) {
			s.WebServer = WebServerSettings{Enabled: false}
		}, ""},
		{"telemetry without dsn", func(s *Settings) { s.Telemetry.Enabled = true }, "telemetry.dsn"},
		{"bad log level", func(s *Settings) { s.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tt.mutate(s)

			err := ValidateSettings(s)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSettingsCollectsAllErrors(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Decision.Threshold = 2
	s.Model.InputSize = -1
	s.History.Backend = "tape"

	err := ValidateSettings(s)
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 3)
}

func TestEnvValidators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		validate func(string) error
		value    string
		wantErr  bool
	}{
		{"bool ok", validateEnvBool, "true", false},
		{"bool bad", validateEnvBool, "yes please", true},
		{"threshold ok", validateEnvThreshold, "0.7", false},
		{"threshold zero", validateEnvThreshold, "0", true},
		{"threshold nan", validateEnvThreshold, "high", true},
		{"port ok", validateEnvPort, "3306", false},
		{"port range", validateEnvPort, "70000", true},
		{"duration ok", validateEnvDuration, "45s", false},
		{"duration bad", validateEnvDuration, "soon", true},
		{"backend ok", validateEnvBackend, "azure", false},
		{"backend bad", validateEnvBackend, "ftp", true},
		{"level ok", validateEnvLogLevel, "DEBUG", false},
		{"threads negative", validateEnvThreads, "-2", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.validate(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSupportedBackendsIsACopy(t *testing.T) {
	t.Parallel()

	b := SupportedBackends()
	b[0] = "mutated"
	assert.Equal(t, BackendFilesystem, SupportedBackends()[0])
}

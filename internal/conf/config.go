// config.go: settings struct and functions to load and save the IkanCheck configuration.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ikancheck/ikancheck/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// History backend names
const (
	BackendFilesystem = "filesystem"
	BackendSQLite     = "sqlite"
	BackendMySQL      = "mysql"
	BackendAzure      = "azure"
	BackendS3         = "s3"
)

// MainSettings contains application identity settings.
type MainSettings struct {
	Name string // instance name, reported in health checks
}

// LogFileSettings contains settings for JSON file logging.
type LogFileSettings struct {
	Enabled bool   // true to write JSON logs to Path
	Path    string // log file path
	Level   string // log level for the file output
}

// LoggingSettings contains settings for the central logger.
type LoggingSettings struct {
	Level        string            // default level: trace, debug, info, warn, error
	Timezone     string            // "Local", "UTC" or an IANA zone name
	File         LogFileSettings   // optional JSON file output
	ModuleLevels map[string]string // per-module level overrides
}

// ModelSettings contains settings for the image classifier.
type ModelSettings struct {
	Path            string // path to the .tflite model file
	LabelPath       string // optional label file, one name per line; empty uses the built-in table
	InputSize       int    // square input resolution, used when the model does not report one
	Threads         int    // interpreter threads, 0 = number of CPUs
	NotSubjectLabel string // label that marks an image as not containing a fish
	HealthyLabel    string // label for a healthy fish
}

// DecisionSettings contains settings for the decision policy.
type DecisionSettings struct {
	Threshold float64 // minimum confidence for an accepted detection
}

// SQLiteSettings contains settings for the SQLite history backend.
type SQLiteSettings struct {
	Path string // database file path
}

// MySQLSettings contains settings for the MySQL history backend.
type MySQLSettings struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// AzureSettings contains settings for the Azure Blob history backend.
type AzureSettings struct {
	ConnectionString string // takes precedence over account name and key
	AccountName      string
	AccountKey       string
	ServiceURL       string // defaults to https://<account>.blob.core.windows.net/
	Container        string
}

// S3Settings contains settings for the S3 (or MinIO) history backend.
type S3Settings struct {
	Endpoint     string // custom endpoint, empty for AWS
	Region       string
	Bucket       string
	Prefix       string // key prefix inside the bucket
	AccessKey    string
	SecretKey    string
	UsePathStyle bool // required by MinIO
}

// HistorySettings contains settings for the detection history store.
type HistorySettings struct {
	Backend  string        // filesystem, sqlite, mysql, azure or s3
	Path     string        // directory for the filesystem backend
	CacheTTL time.Duration // lifetime of cached listings of remote backends, 0 disables caching
	SQLite   SQLiteSettings
	MySQL    MySQLSettings
	Azure    AzureSettings
	S3       S3Settings
}

// WebServerSettings contains settings for the HTTP API.
type WebServerSettings struct {
	Enabled     bool    // true to serve the HTTP API
	Listen      string  // listen address, e.g. ":8080"
	Debug       bool    // true to log every request
	MaxUploadMB int     // maximum accepted image size in megabytes
	RateLimit   float64 // detection uploads per second per client, 0 = unlimited
}

// TelemetrySettings contains settings for error reporting.
type TelemetrySettings struct {
	Enabled bool   // true to send error reports to Sentry
	DSN     string // Sentry DSN
}

// Settings contains all configuration options for IkanCheck.
type Settings struct {
	Debug bool // true to enable debug logging everywhere

	Main      MainSettings
	Logging   LoggingSettings
	Model     ModelSettings
	Decision  DecisionSettings
	History   HistorySettings
	WebServer WebServerSettings
	Telemetry TelemetrySettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
// An empty configFile searches the default paths and writes the embedded
// default config to the first of them when no file exists.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper sets defaults, binds the environment and reads the config file.
func initViper(configFile string) error {
	viper.SetConfigType("yaml")
	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		return err
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
			return createDefaultConfig(configFile)
		}
		return readConfig()
	}

	viper.SetConfigName("config")
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(filepath.Join(configPaths[0], "config.yaml"))
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

func readConfig() error {
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded default config to configPath and reads it.
func createDefaultConfig(configPath string) error {
	defaultConfig, err := getDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, defaultConfig, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	viper.SetConfigFile(configPath)
	return readConfig()
}

// getDefaultConfig returns the embedded default config.yaml.
func getDefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	return data, nil
}

// GetSettings returns the settings loaded by the last successful Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath through a temp file and rename.
// Comments and ordering of the existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer func() { _ = os.Remove(tempFileName) }()

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}

// LoggingConfig converts the logging section into a logger configuration.
func (s *Settings) LoggingConfig() *logger.LoggingConfig {
	level := s.Logging.Level
	if s.Debug {
		level = string(logger.LogLevelDebug)
	}
	fileLevel := s.Logging.File.Level
	if fileLevel == "" {
		fileLevel = level
	}
	return &logger.LoggingConfig{
		DefaultLevel: level,
		Timezone:     s.Logging.Timezone,
		Console: &logger.ConsoleOutput{
			Enabled: true,
			Level:   level,
		},
		FileOutput: &logger.FileOutput{
			Enabled: s.Logging.File.Enabled,
			Path:    s.Logging.File.Path,
			Level:   fileLevel,
		},
		ModuleLevels: s.Logging.ModuleLevels,
	}
}

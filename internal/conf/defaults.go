// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default values shared with other packages.
const (
	DefaultThreshold       = 0.70
	DefaultInputSize       = 299
	DefaultHistoryPath     = "riwayat_upload"
	DefaultNotSubjectLabel = "bukan ikan"
	DefaultHealthyLabel    = "Healthy Fish"
	DefaultMaxUploadMB     = 10
	DefaultListen          = ":8080"
	DefaultRateLimit       = 2.0
)

// setDefaultConfig sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "IkanCheck")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.file.enabled", false)
	viper.SetDefault("logging.file.path", "logs/ikancheck.log")
	viper.SetDefault("logging.file.level", "")

	viper.SetDefault("model.path", "model/xception_ikan.tflite")
	viper.SetDefault("model.labelpath", "")
	viper.SetDefault("model.inputsize", DefaultInputSize)
	viper.SetDefault("model.threads", 0)
	viper.SetDefault("model.notsubjectlabel", DefaultNotSubjectLabel)
	viper.SetDefault("model.healthylabel", DefaultHealthyLabel)

	viper.SetDefault("decision.threshold", DefaultThreshold)

	viper.SetDefault("history.backend", BackendFilesystem)
	viper.SetDefault("history.path", DefaultHistoryPath)
	viper.SetDefault("history.cachettl", time.Duration(0))
	viper.SetDefault("history.sqlite.path", "ikancheck.db")
	viper.SetDefault("history.mysql.host", "localhost")
	viper.SetDefault("history.mysql.port", "3306")
	viper.SetDefault("history.mysql.username", "")
	viper.SetDefault("history.mysql.password", "")
	viper.SetDefault("history.mysql.database", "ikancheck")
	viper.SetDefault("history.azure.connectionstring", "")
	viper.SetDefault("history.azure.accountname", "")
	viper.SetDefault("history.azure.accountkey", "")
	viper.SetDefault("history.azure.serviceurl", "")
	viper.SetDefault("history.azure.container", "riwayat-upload")
	viper.SetDefault("history.s3.endpoint", "")
	viper.SetDefault("history.s3.region", "us-east-1")
	viper.SetDefault("history.s3.bucket", "")
	viper.SetDefault("history.s3.prefix", DefaultHistoryPath+"/")
	viper.SetDefault("history.s3.accesskey", "")
	viper.SetDefault("history.s3.secretkey", "")
	viper.SetDefault("history.s3.usepathstyle", false)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.listen", DefaultListen)
	viper.SetDefault("webserver.debug", false)
	viper.SetDefault("webserver.maxuploadmb", DefaultMaxUploadMB)
	viper.SetDefault("webserver.ratelimit", DefaultRateLimit)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.dsn", "")
}

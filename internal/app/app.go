// Package app assembles the detection components from settings. The CLI
// and the HTTP API share one App per process.
package app

import (
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/ikancheck/ikancheck/internal/classifier"
	"github.com/ikancheck/ikancheck/internal/conf"
	"github.com/ikancheck/ikancheck/internal/decision"
	"github.com/ikancheck/ikancheck/internal/errors"
	"github.com/ikancheck/ikancheck/internal/history"
	"github.com/ikancheck/ikancheck/internal/history/backend"
	"github.com/ikancheck/ikancheck/internal/history/backend/azblobstore"
	"github.com/ikancheck/ikancheck/internal/history/backend/dbstore"
	"github.com/ikancheck/ikancheck/internal/history/backend/fsstore"
	"github.com/ikancheck/ikancheck/internal/history/backend/s3store"
	"github.com/ikancheck/ikancheck/internal/labels"
	"github.com/ikancheck/ikancheck/internal/logger"
	"github.com/ikancheck/ikancheck/internal/observability"
	"github.com/ikancheck/ikancheck/internal/pipeline"
)

// staticConfidence is the healthy-class confidence reported by the static model.
const staticConfidence = 0.9

// Options adjust how the App is built.
type Options struct {
	// StaticModel classifies with a fixed healthy vector instead of loading
	// the model. Results go through the pipeline and are recorded as usual.
	StaticModel bool
	// Predictor overrides the model entirely. Tests use it.
	Predictor classifier.Predictor
}

// App holds the wired components.
type App struct {
	Settings  *conf.Settings
	Metrics   *observability.Metrics
	Labels    *labels.Table
	Content   *labels.Content
	Policy    *decision.Policy
	History   *history.Store
	Predictor classifier.Predictor
	Pipeline  *pipeline.Pipeline

	closeOnce sync.Once
	closers   []io.Closer
}

// New builds every component. On error anything already opened is closed.
func New(settings *conf.Settings, opts Options) (a *App, err error) {
	if settings == nil {
		return nil, errors.Newf("settings are required").
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}

	a = &App{Settings: settings}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	if a.Metrics, err = observability.NewMetrics(); err != nil {
		return nil, err
	}

	if a.Labels, err = LoadLabels(&settings.Model); err != nil {
		return nil, err
	}
	if a.Content, err = labels.LoadContent(); err != nil {
		return nil, err
	}
	if missing := a.Content.Missing(a.Labels); len(missing) > 0 {
		GetLogger().Warn("labels without advice text", logger.Any("labels", missing))
	}

	if a.Policy, err = decision.NewPolicy(settings.Decision.Threshold, a.Labels); err != nil {
		return nil, err
	}

	b, err := OpenBackend(&settings.History)
	if err != nil {
		return nil, err
	}
	a.History = history.New(b,
		history.WithCacheTTL(listCacheTTL(&settings.History, b)),
		history.WithMetrics(a.Metrics.History))
	a.closers = append(a.closers, a.History)

	if a.Predictor, err = a.buildPredictor(opts); err != nil {
		return nil, err
	}

	a.Pipeline, err = pipeline.New(a.Predictor, a.Policy, a.History,
		pipeline.WithMetrics(a.Metrics.Pipeline),
		pipeline.WithContent(a.Content))
	if err != nil {
		return nil, err
	}

	GetLogger().Info("application initialized",
		logger.String("history_backend", a.History.Backend()),
		logger.Float64("threshold", a.Policy.Threshold()),
		logger.Int("labels", a.Labels.Len()),
		logger.Bool("static_model", opts.StaticModel))
	return a, nil
}

// LoadLabels returns the label table named by s, or the built-in table when
// no label file is configured.
func LoadLabels(s *conf.ModelSettings) (*labels.Table, error) {
	if s.LabelPath == "" {
		return labels.Default(), nil
	}
	return labels.Load(s.LabelPath, s.NotSubjectLabel, s.HealthyLabel)
}

func (a *App) buildPredictor(opts Options) (classifier.Predictor, error) {
	switch {
	case opts.Predictor != nil:
		return opts.Predictor, nil
	case opts.StaticModel:
		idx, _ := a.Labels.Index(a.Labels.Healthy())
		GetLogger().Warn("static model: every image is reported as healthy and still recorded")
		return classifier.NewStatic(classifier.OneHot(a.Labels.Len(), idx, staticConfidence)), nil
	}

	p, err := classifier.NewTFLite(classifier.TFLiteConfig{
		ModelPath: a.Settings.Model.Path,
		InputSize: a.Settings.Model.InputSize,
		Threads:   a.Settings.Model.Threads,
		Labels:    a.Labels.Len(),
		Metrics:   a.Metrics.Classifier,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, p)
	return p, nil
}

// listCacheTTL returns the configured listing cache lifetime. The history
// directory may be written by other processes and is cheap to read, so the
// filesystem backend is never cached.
func listCacheTTL(s *conf.HistorySettings, b backend.Backend) time.Duration {
	if s.CacheTTL > 0 && b.Name() == fsstore.Name {
		GetLogger().Info("history.cachettl ignored for the filesystem backend",
			logger.Duration("cachettl", s.CacheTTL))
		return 0
	}
	return s.CacheTTL
}

// OpenBackend opens the history backend named by s.Backend.
func OpenBackend(s *conf.HistorySettings) (backend.Backend, error) {
	switch s.Backend {
	case conf.BackendFilesystem, "":
		return fsstore.New(s.Path)
	case conf.BackendSQLite:
		return dbstore.OpenSQLite(s.SQLite.Path)
	case conf.BackendMySQL:
		return dbstore.OpenMySQL(dbstore.MySQLConfig{
			Host:     s.MySQL.Host,
			Port:     s.MySQL.Port,
			Username: s.MySQL.Username,
			Password: s.MySQL.Password,
			Database: s.MySQL.Database,
		})
	case conf.BackendAzure:
		return azblobstore.New(azblobstore.Config{
			ConnectionString: s.Azure.ConnectionString,
			AccountName:      s.Azure.AccountName,
			AccountKey:       s.Azure.AccountKey,
			ServiceURL:       s.Azure.ServiceURL,
			Container:        s.Azure.Container,
		})
	case conf.BackendS3:
		return s3store.New(s3store.Config{
			Endpoint:     s.S3.Endpoint,
			Region:       s.S3.Region,
			Bucket:       s.S3.Bucket,
			Prefix:       s.S3.Prefix,
			AccessKey:    s.S3.AccessKey,
			SecretKey:    s.S3.SecretKey,
			UsePathStyle: s.S3.UsePathStyle,
		})
	default:
		return nil, errors.New(fmt.Errorf("unknown history backend %q", s.Backend)).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("supported", conf.SupportedBackends()).
			Build()
	}
}

// Close releases the model and the history backend, last opened first.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		for _, c := range slices.Backward(a.closers) {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

package app

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikancheck/ikancheck/internal/classifier"
	"github.com/ikancheck/ikancheck/internal/conf"
	"github.com/ikancheck/ikancheck/internal/decision"
	"github.com/ikancheck/ikancheck/internal/errors"
)

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	dir := t.TempDir()
	return &conf.Settings{
		Model: conf.ModelSettings{
			Path:            filepath.Join(dir, "missing.tflite"),
			InputSize:       conf.DefaultInputSize,
			NotSubjectLabel: conf.DefaultNotSubjectLabel,
			HealthyLabel:    conf.DefaultHealthyLabel,
		},
		Decision: conf.DecisionSettings{Threshold: conf.DefaultThreshold},
		History: conf.HistorySettings{
			Backend:  conf.BackendFilesystem,
			Path:     filepath.Join(dir, conf.DefaultHistoryPath),
			CacheTTL: time.Second,
			SQLite:   conf.SQLiteSettings{Path: filepath.Join(dir, "ikancheck.db")},
		},
	}
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestStaticModelRecordsHealthyDetection(t *testing.T) {
	a, err := New(testSettings(t), Options{StaticModel: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	res, err := a.Pipeline.ClassifyAndRecord(t.Context(), pngImage(t))
	require.NoError(t, err)
	assert.Equal(t, decision.Accepted, res.Decision.Outcome)
	assert.Equal(t, conf.DefaultHealthyLabel, res.Decision.Label)
	assert.True(t, res.Stored())
	assert.NotEmpty(t, res.Advice)

	entries, err := a.History.List(t.Context())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(res.RecordID), entries[0].ID)
	assert.Equal(t, "filesystem", a.History.Backend())
}

func TestFilesystemListingSeesOtherWriters(t *testing.T) {
	s := testSettings(t)
	s.History.CacheTTL = time.Hour

	a, err := New(s, Options{StaticModel: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ctx := t.Context()
	res, err := a.Pipeline.ClassifyAndRecord(ctx, pngImage(t))
	require.NoError(t, err)
	entries, err := a.History.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Another process, such as the CLI, writes and deletes in the same directory.
	external := filepath.Join(s.History.Path, "20250115_090000_Parasitic diseases.jpg")
	require.NoError(t, os.WriteFile(external, pngImage(t), 0o600))
	entries, err = a.History.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "a file written by another process is listed")

	stored := filepath.Join(s.History.Path, string(res.RecordID)+".png")
	require.NoError(t, os.Remove(stored))
	entries, err = a.History.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1, "a file removed by another process is not listed")
	assert.Equal(t, "20250115_090000_Parasitic diseases", entries[0].ID)
}

func TestPredictorOverride(t *testing.T) {
	vector := classifier.OneHot(8, 7, 0.95)
	a, err := New(testSettings(t), Options{Predictor: classifier.NewStatic(vector)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	res, err := a.Pipeline.ClassifyAndRecord(t.Context(), pngImage(t))
	require.NoError(t, err)
	assert.Equal(t, decision.RejectedNotSubject, res.Decision.Outcome)
}

func TestModelLoadFailureSurfacesAsInference(t *testing.T) {
	a, err := New(testSettings(t), Options{})
	require.NoError(t, err, "the model is loaded lazily")
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.Pipeline.ClassifyAndRecord(t.Context(), pngImage(t))
	require.Error(t, err)
	assert.True(t, errors.IsInference(err))
}

func TestSQLiteBackend(t *testing.T) {
	s := testSettings(t)
	s.History.Backend = conf.BackendSQLite

	a, err := New(s, Options{StaticModel: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Equal(t, conf.BackendSQLite, a.History.Backend())
	_, err = a.Pipeline.ClassifyAndRecord(t.Context(), pngImage(t))
	require.NoError(t, err)
	assert.FileExists(t, s.History.SQLite.Path)
}

func TestNewRejectsBadSettings(t *testing.T) {
	_, err := New(nil, Options{})
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	s := testSettings(t)
	s.History.Backend = "tape"
	_, err = New(s, Options{StaticModel: true})
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	s = testSettings(t)
	s.Decision.Threshold = 1.5
	_, err = New(s, Options{StaticModel: true})
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	s = testSettings(t)
	s.Model.LabelPath = filepath.Join(t.TempDir(), "labels.txt")
	_, err = New(s, Options{StaticModel: true})
	assert.True(t, errors.IsCategory(err, errors.CategoryLabelLoad))
}

func TestCloseIsIdempotent(t *testing.T) {
	a, err := New(testSettings(t), Options{})
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}

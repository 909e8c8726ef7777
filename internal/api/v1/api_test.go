package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ikancheck/ikancheck/internal/decision"
	"github.com/ikancheck/ikancheck/internal/errors"
	"github.com/ikancheck/ikancheck/internal/history"
	"github.com/ikancheck/ikancheck/internal/history/backend/fsstore"
	"github.com/ikancheck/ikancheck/internal/labels"
	"github.com/ikancheck/ikancheck/internal/pipeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01}

// detectorFunc adapts a function to Detector.
type detectorFunc func(ctx context.Context, image []byte) (pipeline.Result, error)

func (f detectorFunc) ClassifyAndRecord(ctx context.Context, image []byte) (pipeline.Result, error) {
	return f(ctx, image)
}

type testEnv struct {
	echo    *echo.Echo
	store   *history.Store
	dir     string
	content *labels.Content
}

func setupTestEnvironment(t *testing.T, detector Detector, opts ...Option) *testEnv {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "riwayat_upload")
	b, err := fsstore.New(dir)
	require.NoError(t, err)
	store := history.New(b, history.WithLocation(time.UTC))
	t.Cleanup(func() { _ = store.Close() })

	content, err := labels.LoadContent()
	require.NoError(t, err)

	if detector == nil {
		detector = detectorFunc(func(context.Context, []byte) (pipeline.Result, error) {
			t.Fatal("detector should not be called")
			return pipeline.Result{}, nil
		})
	}

	e := echo.New()
	New(e, Deps{
		Detector:  detector,
		History:   store,
		Labels:    labels.Default(),
		Content:   content,
		Threshold: decision.DefaultThreshold,
	}, opts...)

	return &testEnv{echo: e, store: store, dir: dir, content: content}
}

func (env *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, Prefix+"/detections", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func accepted(label string, confidence float64, id history.RecordID) pipeline.Result {
	return pipeline.Result{
		Decision: decision.Decision{
			Outcome:    decision.Accepted,
			Label:      label,
			Index:      4,
			Confidence: confidence,
			Threshold:  decision.DefaultThreshold,
			Scores:     []decision.Score{{Label: label, Confidence: confidence}},
		},
		RecordID: id,
		Advice:   "Ikan Anda terlihat sehat!",
	}
}

func TestCreateDetectionAccepted(t *testing.T) {
	t.Parallel()

	var got []byte
	env := setupTestEnvironment(t, detectorFunc(func(_ context.Context, image []byte) (pipeline.Result, error) {
		got = image
		return accepted("Healthy Fish", 0.85, "20250115_134502_Healthy Fish"), nil
	}))

	rec := env.do(t, uploadRequest(t, "image", "ikan.JPG", jpegBytes))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, jpegBytes, got)

	resp := decodeJSON[DetectionResponse](t, rec)
	assert.Equal(t, decision.Accepted, resp.Outcome)
	assert.Empty(t, resp.Reason)
	assert.Equal(t, "Healthy Fish", resp.Label)
	assert.InDelta(t, 0.85, resp.Confidence, 1e-9)
	assert.Equal(t, "20250115_134502_Healthy Fish", resp.RecordID)
	assert.Equal(t, "Detected Healthy Fish with 85.00% confidence.", resp.Message)
	assert.NotEmpty(t, resp.Advice)
	assert.Empty(t, resp.Warning)
	assert.Len(t, resp.Scores, 1)
}

func TestCreateDetectionRejected(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, detectorFunc(func(context.Context, []byte) (pipeline.Result, error) {
		return pipeline.Result{Decision: decision.Decision{
			Outcome:    decision.RejectedLowConfidence,
			Label:      "Bacterial Red disease",
			Confidence: 0.55,
			Threshold:  decision.DefaultThreshold,
		}}, nil
	}))

	rec := env.do(t, uploadRequest(t, "image", "ikan.png", jpegBytes))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[DetectionResponse](t, rec)
	assert.Equal(t, decision.RejectedLowConfidence, resp.Outcome)
	assert.Equal(t, decision.ReasonLowConfidence, resp.Reason)
	assert.Contains(t, resp.Message, "55.00%")
	assert.Empty(t, resp.RecordID)
}

func TestCreateDetectionPersistenceWarning(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, detectorFunc(func(context.Context, []byte) (pipeline.Result, error) {
		res := accepted("Healthy Fish", 0.9, "")
		res.PersistenceErr = errors.NewStd("disk full")
		return res, nil
	}))

	rec := env.do(t, uploadRequest(t, "image", "ikan.jpg", jpegBytes))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[DetectionResponse](t, rec)
	assert.Equal(t, decision.Accepted, resp.Outcome)
	assert.NotEmpty(t, resp.Warning)
	assert.Empty(t, resp.RecordID)
}

func TestCreateDetectionErrors(t *testing.T) {
	t.Parallel()

	inferenceErr := errors.Newf("cannot decode image").
		Component("classifier").
		Category(errors.CategoryInference).
		Build()

	tests := []struct {
		name     string
		detector Detector
		req      func(t *testing.T) *http.Request
		status   int
	}{
		{
			name: "missing field",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "file", "ikan.jpg", jpegBytes)
			},
			status: http.StatusBadRequest,
		},
		{
			name: "unsupported type",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "image", "ikan.gif", jpegBytes)
			},
			status: http.StatusUnsupportedMediaType,
		},
		{
			name: "inference failure",
			detector: detectorFunc(func(context.Context, []byte) (pipeline.Result, error) {
				return pipeline.Result{}, inferenceErr
			}),
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "image", "ikan.jpg", []byte("not an image"))
			},
			status: http.StatusUnprocessableEntity,
		},
		{
			name: "unexpected failure",
			detector: detectorFunc(func(context.Context, []byte) (pipeline.Result, error) {
				return pipeline.Result{}, errors.NewStd("boom")
			}),
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "image", "ikan.jpg", jpegBytes)
			},
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := setupTestEnvironment(t, tt.detector)

			rec := env.do(t, tt.req(t))
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			resp := decodeJSON[ErrorResponse](t, rec)
			assert.Equal(t, tt.status, resp.Code)
			assert.NotEmpty(t, resp.Message)
			assert.NotEmpty(t, resp.CorrelationID)
		})
	}
}

func TestCreateDetectionTooLarge(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil, WithMaxUploadBytes(4))
	rec := env.do(t, uploadRequest(t, "image", "ikan.jpg", jpegBytes))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestListHistory(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	ctx := t.Context()

	_, err := env.store.Append(ctx, history.Record{
		CreatedAt: time.Date(2025, 1, 15, 13, 45, 2, 0, time.UTC),
		Label:     "Healthy Fish",
		Image:     jpegBytes,
	})
	require.NoError(t, err)
	_, err = env.store.Append(ctx, history.Record{
		CreatedAt: time.Date(2025, 1, 14, 8, 0, 0, 0, time.UTC),
		Label:     "Parasitic diseases",
		Image:     jpegBytes,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "foto_lama.jpg"), jpegBytes, 0o600))

	rec := env.do(t, httptest.NewRequest(http.MethodGet, Prefix+"/history", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	entries := decodeJSON[[]HistoryEntry](t, rec)
	require.Len(t, entries, 3)

	assert.Equal(t, "foto_lama", entries[0].ID)
	assert.True(t, entries[0].Malformed)
	assert.Nil(t, entries[0].Timestamp)
	assert.Equal(t, history.UnknownTime, entries[0].DisplayTime)

	assert.Equal(t, "20250115_134502_Healthy Fish", entries[1].ID)
	assert.Equal(t, "Healthy Fish", entries[1].Label)
	require.NotNil(t, entries[1].Timestamp)
	assert.Equal(t, "15 Jan 2025, 13:45", entries[1].DisplayTime)

	assert.Equal(t, "Parasitic diseases", entries[2].Label)
}

func TestListHistoryEmpty(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, Prefix+"/history", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func historyPath(id, suffix string) string {
	return Prefix + "/history/" + url.PathEscape(id) + suffix
}

func TestGetHistoryImage(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	id, err := env.store.Append(t.Context(), history.Record{
		CreatedAt: time.Date(2025, 1, 15, 13, 45, 2, 0, time.UTC),
		Label:     "Healthy Fish",
		Image:     jpegBytes,
	})
	require.NoError(t, err)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, historyPath(string(id), "/image"), http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, jpegBytes, rec.Body.Bytes())

	rec = env.do(t, httptest.NewRequest(http.MethodGet, historyPath("20200101_000000_Healthy Fish", "/image"), http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, historyPath("..", "/image"), http.NoBody))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteHistory(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	id, err := env.store.Append(t.Context(), history.Record{
		CreatedAt: time.Date(2025, 1, 15, 13, 45, 2, 0, time.UTC),
		Label:     "Healthy Fish",
		Image:     jpegBytes,
	})
	require.NoError(t, err)

	rec := env.do(t, httptest.NewRequest(http.MethodDelete, historyPath(string(id), ""), http.NoBody))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Record-Missing"))

	entries, err := env.store.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Deleting again is a no-op success.
	rec = env.do(t, httptest.NewRequest(http.MethodDelete, historyPath(string(id), ""), http.NoBody))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-Record-Missing"))
}

func TestListLabels(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, Prefix+"/labels", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[LabelsResponse](t, rec)
	assert.InDelta(t, decision.DefaultThreshold, resp.Threshold, 1e-9)
	require.Len(t, resp.Labels, 8)
	assert.Equal(t, "Bacterial Red disease", resp.Labels[0].Name)
	assert.True(t, resp.Labels[0].HasEducation)
	assert.True(t, resp.Labels[4].Healthy)
	assert.True(t, resp.Labels[7].NotSubject)
	assert.Equal(t, labels.NotSubject, resp.Labels[7].Name)
}

func TestGetLabel(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, Prefix+"/labels/"+url.PathEscape("Bacterial Red disease"), http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decodeJSON[LabelDetail](t, rec)
	assert.Equal(t, "Bacterial Red disease", detail.Name)
	assert.Equal(t, env.content.Advice("Bacterial Red disease"), detail.Advice)
	require.NotNil(t, detail.Education)
	assert.Equal(t, "image/bacterial.jpg", detail.Education.Image)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, Prefix+"/labels/"+url.PathEscape("Parasitic diseases"), http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decodeJSON[LabelDetail](t, rec).Education)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, Prefix+"/labels/unknown", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	env := setupTestEnvironment(t, nil, WithInstanceName("kolam-1"))
	rec := env.do(t, httptest.NewRequest(http.MethodGet, Prefix+"/health", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "kolam-1", body["name"])
	assert.Equal(t, "filesystem", body["history_backend"])
}

func TestErrorResponseUsesRequestID(t *testing.T) {
	t.Parallel()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Response().Header().Set(echo.HeaderXRequestID, "req-123")

	c := &Controller{Echo: e}
	require.NoError(t, c.HandleError(ctx, nil, "Record not found", http.StatusNotFound))

	resp := decodeJSON[ErrorResponse](t, rec)
	assert.Equal(t, "req-123", resp.CorrelationID)
	assert.Equal(t, "Record not found", resp.Error)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

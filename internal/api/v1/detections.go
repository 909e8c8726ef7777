// internal/api/v1/detections.go
package api

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ikancheck/ikancheck/internal/decision"
	"github.com/ikancheck/ikancheck/internal/errors"
	"github.com/ikancheck/ikancheck/internal/pipeline"
)

// uploadField is the multipart field carrying the image.
const uploadField = "image"

// allowedUploadExtensions lists the accepted image file types.
var allowedUploadExtensions = []string{".jpg", ".jpeg", ".png"}

// DetectionResponse is the reply to an image upload.
type DetectionResponse struct {
	Outcome    decision.Outcome `json:"outcome"`
	Reason     string           `json:"reason,omitempty"`
	Label      string           `json:"label"`
	Confidence float64          `json:"confidence"`
	Threshold  float64          `json:"threshold"`
	Message    string           `json:"message"`
	Scores     []decision.Score `json:"scores"`
	Advice     string           `json:"advice,omitempty"`
	RecordID   string           `json:"record_id,omitempty"`
	Warning    string           `json:"warning,omitempty"`
}

func newDetectionResponse(res pipeline.Result) DetectionResponse {
	d := res.Decision
	return DetectionResponse{
		Outcome:    d.Outcome,
		Reason:     d.Reason(),
		Label:      d.Label,
		Confidence: d.Confidence,
		Threshold:  d.Threshold,
		Message:    d.Message(),
		Scores:     d.Scores,
		Advice:     res.Advice,
		RecordID:   string(res.RecordID),
		Warning:    res.Warning(),
	}
}

// CreateDetection classifies the uploaded image. Rejections are successful
// replies; only unreadable uploads and inference failures are errors.
func (c *Controller) CreateDetection(ctx echo.Context) error {
	fh, err := ctx.FormFile(uploadField)
	if err != nil {
		return c.HandleError(ctx, err, fmt.Sprintf("Multipart field %q with an image is required", uploadField), http.StatusBadRequest)
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !slices.Contains(allowedUploadExtensions, ext) {
		return c.HandleError(ctx, nil,
			fmt.Sprintf("Unsupported file type %q, upload a JPG or PNG image", ext),
			http.StatusUnsupportedMediaType)
	}
	if fh.Size > c.maxUploadBytes {
		return c.HandleError(ctx, nil,
			fmt.Sprintf("Image is larger than %d MB", c.maxUploadBytes>>20),
			http.StatusRequestEntityTooLarge)
	}

	f, err := fh.Open()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read upload", http.StatusBadRequest)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, c.maxUploadBytes+1))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read upload", http.StatusBadRequest)
	}
	if int64(len(data)) > c.maxUploadBytes {
		return c.HandleError(ctx, nil,
			fmt.Sprintf("Image is larger than %d MB", c.maxUploadBytes>>20),
			http.StatusRequestEntityTooLarge)
	}

	res, err := c.detector.ClassifyAndRecord(ctx.Request().Context(), data)
	if err != nil {
		if errors.IsInference(err) {
			return c.HandleError(ctx, err, "The image could not be analyzed", http.StatusUnprocessableEntity)
		}
		return c.HandleError(ctx, err, "Detection failed", http.StatusInternalServerError)
	}

	status := http.StatusOK
	if res.Stored() {
		status = http.StatusCreated
	}
	return ctx.JSON(status, newDetectionResponse(res))
}

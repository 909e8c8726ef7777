// internal/api/v1/history.go
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ikancheck/ikancheck/internal/api/middleware"
	"github.com/ikancheck/ikancheck/internal/errors"
	"github.com/ikancheck/ikancheck/internal/history"
)

// HistoryEntry is one record in the history listing.
type HistoryEntry struct {
	ID          string     `json:"id"`
	Label       string     `json:"label"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	DisplayTime string     `json:"display_time"`
	Malformed   bool       `json:"malformed"`
}

func newHistoryEntry(md history.Metadata) HistoryEntry {
	e := HistoryEntry{
		ID:          md.ID,
		Label:       md.Label,
		DisplayTime: md.DisplayTime(),
		Malformed:   md.Malformed,
	}
	if !md.Malformed && !md.CreatedAt.IsZero() {
		ts := md.CreatedAt
		e.Timestamp = &ts
	}
	return e
}

// ListHistory returns every stored detection, newest first.
func (c *Controller) ListHistory(ctx echo.Context) error {
	entries, err := c.history.List(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read detection history", http.StatusInternalServerError)
	}

	out := make([]HistoryEntry, 0, len(entries))
	for _, md := range entries {
		out = append(out, newHistoryEntry(md))
	}
	return ctx.JSON(http.StatusOK, out)
}

// GetHistoryImage returns the stored image of one record.
func (c *Controller) GetHistoryImage(ctx echo.Context) error {
	id := pathParam(ctx, "id")
	rec, err := c.history.Get(ctx.Request().Context(), id)
	switch {
	case errors.IsNotFound(err):
		return c.HandleError(ctx, err, "Record not found", http.StatusNotFound)
	case errors.IsValidation(err):
		return c.HandleError(ctx, err, "Invalid record id", http.StatusBadRequest)
	case err != nil:
		return c.HandleError(ctx, err, "Failed to read record", http.StatusInternalServerError)
	}

	ctx.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=3600")
	return ctx.Blob(http.StatusOK, rec.ContentType, rec.Image)
}

// DeleteHistory removes a record. Deleting a record that does not exist is
// not an error; the reply says so in the X-Record-Missing header.
func (c *Controller) DeleteHistory(ctx echo.Context) error {
	id := pathParam(ctx, "id")
	err := c.history.Delete(ctx.Request().Context(), id)
	switch {
	case errors.IsNotFound(err):
		ctx.Response().Header().Set(middleware.HeaderRecordMissing, "true")
		return ctx.NoContent(http.StatusNoContent)
	case errors.IsValidation(err):
		return c.HandleError(ctx, err, "Invalid record id", http.StatusBadRequest)
	case err != nil:
		return c.HandleError(ctx, err, "Failed to delete record", http.StatusInternalServerError)
	}
	return ctx.NoContent(http.StatusNoContent)
}

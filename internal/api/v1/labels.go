// internal/api/v1/labels.go
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ikancheck/ikancheck/internal/labels"
)

// LabelInfo describes one classifier label.
type LabelInfo struct {
	Index        int    `json:"index"`
	Name         string `json:"name"`
	NotSubject   bool   `json:"not_subject"`
	Healthy      bool   `json:"healthy"`
	HasEducation bool   `json:"has_education"`
}

// LabelsResponse lists the label table and the acceptance threshold.
type LabelsResponse struct {
	Threshold float64     `json:"threshold"`
	Labels    []LabelInfo `json:"labels"`
}

// LabelDetail is the advice and reference content for one label.
type LabelDetail struct {
	Name      string            `json:"name"`
	Advice    string            `json:"advice"`
	Education *labels.Education `json:"education,omitempty"`
}

// ListLabels returns every label in output order.
func (c *Controller) ListLabels(ctx echo.Context) error {
	names := c.labels.Names()
	out := LabelsResponse{
		Threshold: c.threshold,
		Labels:    make([]LabelInfo, 0, len(names)),
	}
	for i, name := range names {
		_, hasEducation := c.content.Education(name)
		out.Labels = append(out.Labels, LabelInfo{
			Index:        i,
			Name:         name,
			NotSubject:   c.labels.IsNotSubject(name),
			Healthy:      name == c.labels.Healthy(),
			HasEducation: hasEducation,
		})
	}
	return ctx.JSON(http.StatusOK, out)
}

// GetLabel returns advice and education for one label.
func (c *Controller) GetLabel(ctx echo.Context) error {
	name := pathParam(ctx, "name")
	if !c.labels.Contains(name) {
		return c.HandleError(ctx, nil, "Unknown label", http.StatusNotFound)
	}

	detail := LabelDetail{Name: name, Advice: c.content.Advice(name)}
	if edu, ok := c.content.Education(name); ok {
		detail.Education = &edu
	}
	return ctx.JSON(http.StatusOK, detail)
}

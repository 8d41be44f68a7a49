package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-adp-console/internal/models"
	appErrors "github.com/noah-isme/sma-adp-console/pkg/errors"
	"github.com/noah-isme/sma-adp-console/pkg/response"
)

type teacherLister interface {
	ListTeachers(ctx context.Context) ([]models.Teacher, error)
}

// CatalogHandler exposes read-only catalog listings.
type CatalogHandler struct {
	catalog teacherLister
}

// NewCatalogHandler constructs a catalog handler.
func NewCatalogHandler(catalog teacherLister) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// ListTeachers godoc
// @Summary List teachers
// @Tags Catalog
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /catalog/teachers [get]
func (h *CatalogHandler) ListTeachers(c *gin.Context) {
	teachers, err := h.catalog.ListTeachers(c.Request.Context())
	if err != nil {
		var appErr *appErrors.Error
		if !errors.As(err, &appErr) {
			err = appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "failed to list teachers")
		}
		response.Error(c, err)
		return
	}
	if teachers == nil {
		teachers = []models.Teacher{}
	}
	response.JSON(c, http.StatusOK, teachers, map[string]interface{}{"total": len(teachers)})
}

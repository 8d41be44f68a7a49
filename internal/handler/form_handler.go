package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-adp-console/internal/dto"
	"github.com/noah-isme/sma-adp-console/internal/form"
	"github.com/noah-isme/sma-adp-console/internal/models"
	"github.com/noah-isme/sma-adp-console/pkg/response"
)

type formService interface {
	Create(ctx context.Context, req dto.CreateFormRequest) (*dto.FormResponse, error)
	Get(ctx context.Context, id string) (*dto.FormResponse, error)
	Delete(ctx context.Context, id string) error
	SetTeacher(ctx context.Context, id string, teacherID int64) (*dto.FormResponse, error)
	SetSubject(ctx context.Context, id string, subjectID int64) (*dto.FormResponse, error)
	SetClassroom(ctx context.Context, id string, classroomID int64) (*dto.FormResponse, error)
	Selection(ctx context.Context, id string) (*dto.SelectionResponse, error)
	AddRow(ctx context.Context, id string) (*models.AssignmentRow, error)
	UpdateRow(ctx context.Context, id, rowID string, req dto.UpdateRowRequest) (*models.AssignmentRow, error)
	RemoveRow(ctx context.Context, id, rowID string) error
	Assignments(ctx context.Context, id string) (int64, form.BuildResult, error)
	Submit(ctx context.Context, id string) (*dto.SubmitResponse, error)
}

// FormHandler exposes teaching-assignment form sessions.
type FormHandler struct {
	service  formService
	validate *validator.Validate
}

// NewFormHandler builds a new handler.
func NewFormHandler(service formService) *FormHandler {
	return &FormHandler{service: service, validate: validator.New()}
}

// Create godoc
// @Summary Open an assignment form session
// @Tags Forms
// @Accept json
// @Produce json
// @Param payload body dto.CreateFormRequest false "Mode and optional teacher"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /forms [post]
func (h *FormHandler) Create(c *gin.Context) {
	var req dto.CreateFormRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, invalidPayload(err, "invalid form payload"))
			return
		}
	}
	view, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, view)
}

// Get godoc
// @Summary Get a form session
// @Tags Forms
// @Produce json
// @Param id path string true "Form ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /forms/{id} [get]
func (h *FormHandler) Get(c *gin.Context) {
	view, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view)
}

// Delete godoc
// @Summary Close a form session
// @Tags Forms
// @Param id path string true "Form ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /forms/{id} [delete]
func (h *FormHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SetTeacher godoc
// @Summary Select the teacher
// @Description Clears subject, classroom and section, then refreshes subject and classroom candidates in the background.
// @Tags Forms
// @Accept json
// @Produce json
// @Param id path string true "Form ID"
// @Param payload body dto.SelectRequest true "Teacher ID, 0 clears"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /forms/{id}/selection/teacher [put]
func (h *FormHandler) SetTeacher(c *gin.Context) {
	h.selectLevel(c, h.service.SetTeacher)
}

// SetSubject godoc
// @Summary Select the subject
// @Description Clears classroom and section, then refreshes classroom candidates for the teacher and subject.
// @Tags Forms
// @Accept json
// @Produce json
// @Param id path string true "Form ID"
// @Param payload body dto.SelectRequest true "Subject ID, 0 clears"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /forms/{id}/selection/subject [put]
func (h *FormHandler) SetSubject(c *gin.Context) {
	h.selectLevel(c, h.service.SetSubject)
}

// SetClassroom godoc
// @Summary Select the classroom
// @Description The section is derived from the classroom.
// @Tags Forms
// @Accept json
// @Produce json
// @Param id path string true "Form ID"
// @Param payload body dto.SelectRequest true "Classroom ID, 0 clears"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /forms/{id}/selection/classroom [put]
func (h *FormHandler) SetClassroom(c *gin.Context) {
	h.selectLevel(c, h.service.SetClassroom)
}

// Selection godoc
// @Summary Resolve the current selection
// @Tags Forms
// @Produce json
// @Param id path string true "Form ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /forms/{id}/selection [get]
func (h *FormHandler) Selection(c *gin.Context) {
	selection, err := h.service.Selection(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, selection)
}

// AddRow godoc
// @Summary Add an empty assignment row
// @Tags Forms
// @Produce json
// @Param id path string true "Form ID"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /forms/{id}/rows [post]
func (h *FormHandler) AddRow(c *gin.Context) {
	row, err := h.service.AddRow(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, row)
}

// UpdateRow godoc
// @Summary Update one field of an assignment row
// @Tags Forms
// @Accept json
// @Produce json
// @Param id path string true "Form ID"
// @Param rowId path string true "Row ID"
// @Param payload body dto.UpdateRowRequest true "Field and value"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /forms/{id}/rows/{rowId} [patch]
func (h *FormHandler) UpdateRow(c *gin.Context) {
	var req dto.UpdateRowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid row payload"))
		return
	}
	row, err := h.service.UpdateRow(c.Request.Context(), c.Param("id"), c.Param("rowId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, row)
}

// RemoveRow godoc
// @Summary Remove an assignment row
// @Tags Forms
// @Param id path string true "Form ID"
// @Param rowId path string true "Row ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /forms/{id}/rows/{rowId} [delete]
func (h *FormHandler) RemoveRow(c *gin.Context) {
	if err := h.service.RemoveRow(c.Request.Context(), c.Param("id"), c.Param("rowId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Assignments godoc
// @Summary Build the assignment payload
// @Description Incomplete rows are left out and listed in meta.dropped_rows; out-of-range periods are clamped and listed in meta.clamped_rows.
// @Tags Forms
// @Produce json
// @Param id path string true "Form ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /forms/{id}/assignments [get]
func (h *FormHandler) Assignments(c *gin.Context) {
	teacherID, result, err := h.service.Assignments(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	meta := map[string]interface{}{}
	if len(result.Dropped) > 0 {
		meta["dropped_rows"] = result.Dropped
	}
	if len(result.Clamped) > 0 {
		meta["clamped_rows"] = result.Clamped
	}
	response.JSON(c, http.StatusOK, dto.AssignmentsResponse{TeacherID: teacherID, Assignments: result.Assignments}, meta)
}

// Submit godoc
// @Summary Save the built assignments for the selected teacher
// @Tags Forms
// @Produce json
// @Param id path string true "Form ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /forms/{id}/submit [post]
func (h *FormHandler) Submit(c *gin.Context) {
	result, err := h.service.Submit(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

type selectFunc func(ctx context.Context, id string, value int64) (*dto.FormResponse, error)

func (h *FormHandler) selectLevel(c *gin.Context, apply selectFunc) {
	var req dto.SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid selection payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, invalidPayload(err, "invalid selection payload"))
		return
	}
	view, err := apply(c.Request.Context(), c.Param("id"), *req.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if loadingAny(view.Loading) {
		response.Accepted(c, view)
		return
	}
	response.JSON(c, http.StatusOK, view)
}

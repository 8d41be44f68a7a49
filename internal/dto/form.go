package dto

import (
	"time"

	"github.com/noah-isme/sma-adp-console/internal/form"
	"github.com/noah-isme/sma-adp-console/internal/models"
)

// CreateFormRequest opens a form session. TeacherID preselects a teacher.
type CreateFormRequest struct {
	Mode      string `json:"mode" validate:"omitempty,oneof=create edit"`
	TeacherID int64  `json:"teacher_id" validate:"omitempty,gt=0"`
}

// SelectRequest sets one selection level; an id of 0 clears it.
type SelectRequest struct {
	ID *int64 `json:"id" validate:"required,gte=0"`
}

// UpdateRowRequest replaces a single field of an assignment row.
type UpdateRowRequest struct {
	Field string      `json:"field" validate:"required,oneof=classroom_id subject_id is_primary_teacher periods_per_week"`
	Value interface{} `json:"value"`
}

// FormResponse is the rendered state of a form session.
type FormResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	form.Snapshot
}

// SelectionResponse is the resolved selection with the derived section.
type SelectionResponse struct {
	models.Selection
	State   models.SelectionState `json:"state"`
	Section *models.Section       `json:"section,omitempty"`
}

// AssignmentsResponse is the payload a submit would send. Dropped and
// clamped row ids travel in the envelope meta.
type AssignmentsResponse struct {
	TeacherID   int64               `json:"teacher_id"`
	Assignments []models.Assignment `json:"assignments"`
}

// SubmitResponse reports a saved submission.
type SubmitResponse struct {
	TeacherID   int64               `json:"teacher_id"`
	Assignments []models.Assignment `json:"assignments"`
	Dropped     []form.DroppedRow   `json:"dropped_rows,omitempty"`
	Clamped     []string            `json:"clamped_rows,omitempty"`
}

package form

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/sma-adp-console/internal/models"
	appErrors "github.com/noah-isme/sma-adp-console/pkg/errors"
)

// RowField names an editable column of an assignment row.
type RowField string

const (
	FieldClassroom      RowField = "classroom_id"
	FieldSubject        RowField = "subject_id"
	FieldPrimaryTeacher RowField = "is_primary_teacher"
	FieldPeriodsPerWeek RowField = "periods_per_week"
)

// Drop reasons reported by BuildReport.
const (
	DropMissingClassroom = "missing_classroom"
	DropMissingSubject   = "missing_subject"
)

// DroppedRow names a row excluded from the payload and why.
type DroppedRow struct {
	RowID  string `json:"row_id"`
	Reason string `json:"reason"`
}

// BuildResult is the payload plus a record of what was left out or adjusted.
type BuildResult struct {
	Assignments []models.Assignment `json:"assignments"`
	Dropped     []DroppedRow        `json:"dropped_rows,omitempty"`
	Clamped     []string            `json:"clamped_rows,omitempty"`
}

// Builder keeps the editable list of assignment rows in insertion order.
type Builder struct {
	rows  []models.AssignmentRow
	newID func() string
}

// NewBuilder returns an empty builder. newID generates synthetic row ids and
// defaults to "new-<uuid>".
func NewBuilder(newID func() string) *Builder {
	if newID == nil {
		newID = func() string { return "new-" + uuid.NewString() }
	}
	return &Builder{newID: newID}
}

// Rows returns a copy of the working list.
func (b *Builder) Rows() []models.AssignmentRow {
	out := make([]models.AssignmentRow, len(b.rows))
	copy(out, b.rows)
	return out
}

// Add appends an empty row and returns it.
func (b *Builder) Add() models.AssignmentRow {
	row := models.AssignmentRow{
		ID:             b.newID(),
		PeriodsPerWeek: models.MinPeriodsPerWeek,
	}
	b.rows = append(b.rows, row)
	return row
}

// Remove deletes the row with rowID.
func (b *Builder) Remove(rowID string) error {
	idx := b.index(rowID)
	if idx < 0 {
		return appErrors.Clone(appErrors.ErrRowNotFound, fmt.Sprintf("row %s not found", rowID))
	}
	b.rows = append(b.rows[:idx], b.rows[idx+1:]...)
	return nil
}

// Update replaces a single field of the row. Values are coerced to the field
// type and ids must not be negative; periods are not range checked here.
func (b *Builder) Update(rowID string, field RowField, value interface{}) (models.AssignmentRow, error) {
	idx := b.index(rowID)
	if idx < 0 {
		return models.AssignmentRow{}, appErrors.Clone(appErrors.ErrRowNotFound, fmt.Sprintf("row %s not found", rowID))
	}
	row := b.rows[idx]
	switch field {
	case FieldClassroom, FieldSubject:
		id, err := coerceInt(value)
		if err != nil {
			return models.AssignmentRow{}, invalidValue(field, err)
		}
		if id < 0 {
			return models.AssignmentRow{}, invalidValue(field, fmt.Errorf("id %d is negative", id))
		}
		if field == FieldClassroom {
			row.ClassroomID = id
		} else {
			row.SubjectID = id
		}
	case FieldPrimaryTeacher:
		flag, err := coerceBool(value)
		if err != nil {
			return models.AssignmentRow{}, invalidValue(field, err)
		}
		row.IsPrimaryTeacher = flag
	case FieldPeriodsPerWeek:
		periods, err := coerceInt(value)
		if err != nil {
			return models.AssignmentRow{}, invalidValue(field, err)
		}
		if periods > math.MaxInt32 || periods < math.MinInt32 {
			return models.AssignmentRow{}, invalidValue(field, fmt.Errorf("%d out of int range", periods))
		}
		row.PeriodsPerWeek = int(periods)
	default:
		return models.AssignmentRow{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown field %q", field))
	}
	b.rows[idx] = row
	return row, nil
}

// Seed inserts rows, replacing any row with the same id in place.
func (b *Builder) Seed(rows []models.AssignmentRow) {
	for _, row := range rows {
		if idx := b.index(row.ID); idx >= 0 {
			b.rows[idx] = row
			continue
		}
		b.rows = append(b.rows, row)
	}
}

// Reset drops every row.
func (b *Builder) Reset() {
	b.rows = nil
}

// Build returns the submission payload: complete rows only, with periods
// clamped into range. Incomplete rows are skipped without error.
func (b *Builder) Build() []models.Assignment {
	return b.BuildReport().Assignments
}

// BuildReport is Build plus the ids of dropped and clamped rows.
func (b *Builder) BuildReport() BuildResult {
	result := BuildResult{Assignments: make([]models.Assignment, 0, len(b.rows))}
	for _, row := range b.rows {
		switch {
		case row.ClassroomID <= 0:
			result.Dropped = append(result.Dropped, DroppedRow{RowID: row.ID, Reason: DropMissingClassroom})
			continue
		case row.SubjectID <= 0:
			result.Dropped = append(result.Dropped, DroppedRow{RowID: row.ID, Reason: DropMissingSubject})
			continue
		}
		periods := clampPeriods(row.PeriodsPerWeek)
		if periods != row.PeriodsPerWeek {
			result.Clamped = append(result.Clamped, row.ID)
		}
		result.Assignments = append(result.Assignments, models.Assignment{
			ClassroomID:      row.ClassroomID,
			SubjectID:        row.SubjectID,
			IsPrimaryTeacher: row.IsPrimaryTeacher,
			PeriodsPerWeek:   periods,
		})
	}
	return result
}

func (b *Builder) index(rowID string) int {
	for i, row := range b.rows {
		if row.ID == rowID {
			return i
		}
	}
	return -1
}

func clampPeriods(periods int) int {
	if periods < models.MinPeriodsPerWeek {
		return models.MinPeriodsPerWeek
	}
	if periods > models.MaxPeriodsPerWeek {
		return models.MaxPeriodsPerWeek
	}
	return periods
}

func invalidValue(field RowField, err error) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("invalid value for %s", field))
}

// coerceInt accepts what select inputs and JSON decoders produce: numbers,
// numeric strings, and empty string or nil for "unselected".
func coerceInt(value interface{}) (int64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%v is not a whole number", v)
		}
		return int64(v), nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, nil
		}
		return strconv.ParseInt(trimmed, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", value)
	}
}

func coerceBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return false, nil
		}
		return strconv.ParseBool(strings.TrimSpace(v))
	default:
		return false, fmt.Errorf("unsupported type %T", value)
	}
}

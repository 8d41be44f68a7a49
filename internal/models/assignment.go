package models

// Assignment is a teaching duty ready for submission.
type Assignment struct {
	ClassroomID      int64 `json:"classroom_id" validate:"required,gt=0"`
	SubjectID        int64 `json:"subject_id" validate:"required,gt=0"`
	IsPrimaryTeacher bool  `json:"is_primary_teacher"`
	PeriodsPerWeek   int   `json:"periods_per_week" validate:"min=1,max=10"`
}

// Bounds for Assignment.PeriodsPerWeek.
const (
	MinPeriodsPerWeek = 1
	MaxPeriodsPerWeek = 10
)

// AssignmentRow is an in-progress, editable assignment. Ids of zero or below mean "not chosen".
type AssignmentRow struct {
	ID               string `json:"id"`
	ClassroomID      int64  `json:"classroom_id"`
	SubjectID        int64  `json:"subject_id"`
	IsPrimaryTeacher bool   `json:"is_primary_teacher"`
	PeriodsPerWeek   int    `json:"periods_per_week"`
}

// Complete reports whether both the classroom and the subject are chosen.
func (r AssignmentRow) Complete() bool {
	return r.ClassroomID > 0 && r.SubjectID > 0
}

// PersistedAssignment is an assignment previously saved for a teacher, with
// denormalized display names as returned by the catalog.
type PersistedAssignment struct {
	ID               int64  `db:"id" json:"id"`
	TeacherID        int64  `db:"teacher_id" json:"teacher_id"`
	ClassroomID      int64  `db:"classroom_id" json:"classroom_id"`
	ClassroomName    string `db:"classroom_name" json:"classroom_name,omitempty"`
	SectionID        int64  `db:"section_id" json:"section_id,omitempty"`
	SectionName      string `db:"section_name" json:"section_name,omitempty"`
	GradeLevelName   string `db:"grade_level_name" json:"grade_level_name,omitempty"`
	SubjectID        int64  `db:"subject_id" json:"subject_id"`
	SubjectName      string `db:"subject_name" json:"subject_name,omitempty"`
	IsPrimaryTeacher bool   `db:"is_primary_teacher" json:"is_primary_teacher"`
	PeriodsPerWeek   int    `db:"periods_per_week" json:"periods_per_week,omitempty"`
}

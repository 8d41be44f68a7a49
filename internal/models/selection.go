package models

// SelectionState names how far down the Teacher → Subject → Classroom chain a form is.
type SelectionState string

const (
	SelectionNone         SelectionState = "NONE"
	SelectionTeacherSet   SelectionState = "TEACHER_SET"
	SelectionSubjectSet   SelectionState = "SUBJECT_SET"
	SelectionClassroomSet SelectionState = "CLASSROOM_SET"
)

// Selection is the resolved teacher/subject/classroom choice. SectionID is
// derived from the classroom and is zero when no classroom is chosen.
type Selection struct {
	TeacherID   int64 `json:"teacher_id,omitempty"`
	SubjectID   int64 `json:"subject_id,omitempty"`
	ClassroomID int64 `json:"classroom_id,omitempty"`
	SectionID   int64 `json:"section_id,omitempty"`
}

// Package form holds the teaching-assignment form: the Teacher → Subject →
// Classroom selection chain, the candidate pools it drives, and the editable
// assignment rows. It performs no I/O. Every selection change returns the
// Refresh requests the caller must run; results come back through Apply and
// are dropped unless they carry the current generation for their target.
package form

import (
	"github.com/noah-isme/sma-adp-console/internal/models"
)

// Mode distinguishes the lesson-creation flow from the teacher-edit flow.
type Mode string

const (
	ModeCreate Mode = "create"
	ModeEdit   Mode = "edit"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeCreate || m == ModeEdit
}

// Target is a candidate pool (or persisted data set) that a Refresh fills.
type Target string

const (
	TargetSubjects   Target = "subjects"
	TargetClassrooms Target = "classrooms"
	TargetPersisted  Target = "persisted"
)

var targets = []Target{TargetSubjects, TargetClassrooms, TargetPersisted}

// Refresh asks the caller to fetch Target for Scope. Generation must be
// handed back to Apply unchanged.
type Refresh struct {
	Target     Target       `json:"target"`
	Scope      models.Scope `json:"scope"`
	Generation uint64       `json:"generation"`
}

// Result carries fetched data for a Refresh; only the field matching the target is read.
type Result struct {
	Subjects   []models.Subject
	Classrooms []models.Classroom
	Persisted  []models.PersistedAssignment
}

// Form is owned by a single session. It is not safe for concurrent use.
type Form struct {
	mode      Mode
	selection models.Selection
	section   *models.Section

	subjects   []models.Subject
	classrooms []models.Classroom

	generations map[Target]uint64
	loading     map[Target]bool

	persisted       []models.PersistedAssignment
	persistedLoaded bool
	subjectsLoaded  bool
	reconciled      bool

	rows *Builder
}

// New returns an empty form in state NONE. newRowID is passed to the row builder.
func New(mode Mode, newRowID func() string) *Form {
	if !mode.Valid() {
		mode = ModeCreate
	}
	return &Form{
		mode:        mode,
		generations: make(map[Target]uint64, len(targets)),
		loading:     make(map[Target]bool, len(targets)),
		rows:        NewBuilder(newRowID),
	}
}

// Mode returns the flow this form serves.
func (f *Form) Mode() Mode { return f.mode }

// Rows exposes the assignment row builder.
func (f *Form) Rows() *Builder { return f.rows }

// State derives the selection state from the most specific level set.
func (f *Form) State() models.SelectionState {
	switch {
	case f.selection.TeacherID == 0:
		return models.SelectionNone
	case f.selection.ClassroomID != 0:
		return models.SelectionClassroomSet
	case f.selection.SubjectID != 0:
		return models.SelectionSubjectSet
	default:
		return models.SelectionTeacherSet
	}
}

// Selection returns the current choice with the derived section id.
func (f *Form) Selection() models.Selection {
	return f.selection
}

// Section returns the section implied by the selected classroom.
func (f *Form) Section() (models.Section, bool) {
	if f.section == nil {
		return models.Section{}, false
	}
	return *f.section, true
}

// Subjects returns the current subject candidates.
func (f *Form) Subjects() []models.Subject { return f.subjects }

// Classrooms returns the current classroom candidates.
func (f *Form) Classrooms() []models.Classroom { return f.classrooms }

// Loading reports whether a refresh for target is outstanding.
func (f *Form) Loading(target Target) bool { return f.loading[target] }

// Generation returns the current generation for target.
func (f *Form) Generation(target Target) uint64 { return f.generations[target] }

// SetTeacher selects a teacher (0 clears it). Subject, classroom and section
// are cleared and both candidate pools emptied before anything is fetched.
func (f *Form) SetTeacher(teacherID int64) []Refresh {
	f.selection = models.Selection{TeacherID: teacherID}
	f.section = nil
	f.subjects = nil
	f.classrooms = nil
	f.subjectsLoaded = false
	if f.mode == ModeEdit {
		f.persisted = nil
		f.persistedLoaded = false
		f.reconciled = false
		f.rows.Reset()
	}

	if teacherID == 0 {
		for _, target := range targets {
			f.invalidate(target)
		}
		return nil
	}

	refreshes := []Refresh{
		f.schedule(TargetSubjects, models.Scope{TeacherID: teacherID}),
		f.schedule(TargetClassrooms, f.classroomScope()),
	}
	if f.mode == ModeEdit {
		refreshes = append(refreshes, f.schedule(TargetPersisted, models.Scope{TeacherID: teacherID}))
	}
	return refreshes
}

// SetSubject selects a subject (0 clears it) and clears classroom and
// section. Clearing the subject widens classroom candidates back to the
// teacher. It is ignored (ok=false) without a teacher, or when subject
// candidates are loaded and subjectID is not among them.
//
// In ModeEdit the classroom refresh always uses the empty scope (every
// classroom), so choosing a subject does not narrow classroom candidates.
func (f *Form) SetSubject(subjectID int64) ([]Refresh, bool) {
	if f.selection.TeacherID == 0 {
		return nil, false
	}
	if subjectID != 0 && f.subjectsLoaded {
		if _, ok := models.FindSubject(f.subjects, subjectID); !ok {
			return nil, false
		}
	}

	f.selection.SubjectID = subjectID
	f.selection.ClassroomID = 0
	f.selection.SectionID = 0
	f.section = nil
	f.classrooms = nil

	return []Refresh{f.schedule(TargetClassrooms, f.classroomScope())}, true
}

// SetClassroom selects a classroom from the current candidates (0 clears it)
// and derives the section from it. No fetch is needed.
func (f *Form) SetClassroom(classroomID int64) bool {
	if f.selection.TeacherID == 0 {
		return false
	}
	if classroomID == 0 {
		f.selection.ClassroomID = 0
		f.selection.SectionID = 0
		f.section = nil
		return true
	}
	classroom, ok := models.FindClassroom(f.classrooms, classroomID)
	if !ok {
		return false
	}
	section := classroom.Section
	f.selection.ClassroomID = classroom.ID
	f.selection.SectionID = section.ID
	f.section = &section
	return true
}

// Apply stores the result of a refresh. It returns false, leaving the form
// untouched, when the refresh was superseded by a later selection change.
func (f *Form) Apply(r Refresh, res Result) bool {
	if !f.current(r) {
		return false
	}
	f.loading[r.Target] = false

	switch r.Target {
	case TargetSubjects:
		f.subjects = nonNil(res.Subjects)
		f.subjectsLoaded = true
	case TargetClassrooms:
		f.classrooms = nonNil(res.Classrooms)
		if f.reconciled {
			f.classrooms = MergeClassrooms(f.classrooms, f.persisted)
		}
		f.reselectClassroom()
	case TargetPersisted:
		f.persisted = nonNil(res.Persisted)
		f.persistedLoaded = true
	}

	f.reconcile()
	return true
}

// Abandon ends a refresh that produced no result, e.g. after retries ran out.
func (f *Form) Abandon(r Refresh) bool {
	if !f.current(r) {
		return false
	}
	f.loading[r.Target] = false
	return true
}

// Reconciled reports whether persisted assignments were merged into the form.
func (f *Form) Reconciled() bool { return f.reconciled }

// reconcile merges persisted assignments once both they and the subject
// candidates are present, so seeded rows render against a loaded subject list.
func (f *Form) reconcile() {
	if f.mode != ModeEdit || f.reconciled || !f.persistedLoaded || !f.subjectsLoaded {
		return
	}
	f.classrooms = MergeClassrooms(f.classrooms, f.persisted)
	f.rows.Seed(SeedRows(f.persisted))
	f.reconciled = true
}

// reselectClassroom keeps the derived section consistent with a refreshed pool.
func (f *Form) reselectClassroom() {
	if f.selection.ClassroomID == 0 {
		return
	}
	if classroom, ok := models.FindClassroom(f.classrooms, f.selection.ClassroomID); ok {
		section := classroom.Section
		f.selection.SectionID = section.ID
		f.section = &section
		return
	}
	f.selection.ClassroomID = 0
	f.selection.SectionID = 0
	f.section = nil
}

// classroomScope is the broadest classroom scope allowed by the current
// selection. The edit flow offers every classroom so new rows are not limited
// to where the teacher already teaches.
func (f *Form) classroomScope() models.Scope {
	if f.mode == ModeEdit {
		return models.Scope{}
	}
	return models.Scope{TeacherID: f.selection.TeacherID, SubjectID: f.selection.SubjectID}
}

func (f *Form) schedule(target Target, scope models.Scope) Refresh {
	f.generations[target]++
	f.loading[target] = true
	return Refresh{Target: target, Scope: scope, Generation: f.generations[target]}
}

func (f *Form) invalidate(target Target) {
	f.generations[target]++
	f.loading[target] = false
}

func (f *Form) current(r Refresh) bool {
	return r.Generation != 0 && f.generations[r.Target] == r.Generation
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

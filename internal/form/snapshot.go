package form

import "github.com/noah-isme/sma-adp-console/internal/models"

// Placeholder texts shown by empty or pending selects.
const (
	PlaceholderSelectTeacher = "Select a teacher first"
	PlaceholderLoading       = "Loading..."
	PlaceholderNoSubjects    = "No subjects found for this teacher"
	PlaceholderNoClassrooms  = "No classrooms found for this selection"
)

// Snapshot is a read-only view of a form for rendering.
type Snapshot struct {
	Mode         Mode                   `json:"mode"`
	State        models.SelectionState  `json:"state"`
	Selection    models.Selection       `json:"selection"`
	Section      *models.Section        `json:"section,omitempty"`
	Subjects     []models.Subject       `json:"subjects"`
	Classrooms   []models.Classroom     `json:"classrooms"`
	Loading      map[Target]bool        `json:"loading"`
	Generations  map[Target]uint64      `json:"generations"`
	Placeholders map[Target]string      `json:"placeholders,omitempty"`
	Rows         []models.AssignmentRow `json:"rows"`
	Reconciled   bool                   `json:"reconciled"`
}

// Snapshot copies the form state.
func (f *Form) Snapshot() Snapshot {
	snap := Snapshot{
		Mode:         f.mode,
		State:        f.State(),
		Selection:    f.selection,
		Subjects:     append([]models.Subject{}, f.subjects...),
		Classrooms:   append([]models.Classroom{}, f.classrooms...),
		Loading:      make(map[Target]bool, len(targets)),
		Generations:  make(map[Target]uint64, len(targets)),
		Placeholders: make(map[Target]string, 2),
		Rows:         f.rows.Rows(),
		Reconciled:   f.reconciled,
	}
	if section, ok := f.Section(); ok {
		snap.Section = &section
	}
	for _, target := range targets {
		snap.Loading[target] = f.loading[target]
		snap.Generations[target] = f.generations[target]
	}
	if text := f.placeholder(TargetSubjects, len(f.subjects), PlaceholderNoSubjects); text != "" {
		snap.Placeholders[TargetSubjects] = text
	}
	if text := f.placeholder(TargetClassrooms, len(f.classrooms), PlaceholderNoClassrooms); text != "" {
		snap.Placeholders[TargetClassrooms] = text
	}
	return snap
}

func (f *Form) placeholder(target Target, count int, empty string) string {
	switch {
	case f.selection.TeacherID == 0:
		return PlaceholderSelectTeacher
	case f.loading[target]:
		return PlaceholderLoading
	case count == 0:
		return empty
	default:
		return ""
	}
}

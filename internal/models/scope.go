package models

import (
	"fmt"
	"strings"
)

// Scope narrows a candidate lookup. SubjectID is zero when no subject is chosen yet.
type Scope struct {
	TeacherID int64 `json:"teacher_id"`
	SubjectID int64 `json:"subject_id,omitempty"`
}

// Key identifies the scope for memoization.
func (s Scope) Key() string {
	if s.SubjectID == 0 {
		return fmt.Sprintf("t%d", s.TeacherID)
	}
	return fmt.Sprintf("t%d:s%d", s.TeacherID, s.SubjectID)
}

// QueryShape is one candidate layout for the "all sections of an education
// level" lookup. Template may contain a {level} placeholder.
type QueryShape struct {
	Name     string `json:"name"`
	Template string `json:"template"`
}

// Render substitutes the education level into the template.
func (q QueryShape) Render(level string) string {
	return strings.ReplaceAll(q.Template, "{level}", level)
}

// ShapesFromTemplates builds shapes named after their templates, preserving order.
func ShapesFromTemplates(templates []string) []QueryShape {
	shapes := make([]QueryShape, 0, len(templates))
	for _, tpl := range templates {
		shapes = append(shapes, QueryShape{Name: tpl, Template: tpl})
	}
	return shapes
}

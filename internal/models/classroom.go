package models

import (
	"fmt"
	"strings"
)

// GradeLevel groups sections, e.g. "JSS 1" at the secondary education level.
type GradeLevel struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	EducationLevel string `json:"education_level,omitempty"`
}

// Section is a subdivision of a grade level. It is never chosen directly; it
// always follows from the selected classroom.
type Section struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	GradeLevelName string `json:"grade_level_name,omitempty"`
}

// Stream is an academic track such as Science or Arts.
type Stream struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Classroom is a concrete teaching group. It belongs to exactly one section.
type Classroom struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Section    Section    `json:"section"`
	GradeLevel GradeLevel `json:"grade_level"`
	Stream     *Stream    `json:"stream,omitempty"`
}

// DisplayName returns the best label available for the classroom.
func (c Classroom) DisplayName() string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	parts := make([]string, 0, 3)
	for _, part := range []string{c.GradeLevel.Name, c.Section.GradeLevelName, c.Section.Name} {
		part = strings.TrimSpace(part)
		if part != "" && (len(parts) == 0 || parts[len(parts)-1] != part) {
			parts = append(parts, part)
		}
	}
	if c.Stream != nil && c.Stream.Name != "" {
		parts = append(parts, "("+c.Stream.Name+")")
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Classroom #%d", c.ID)
	}
	return strings.Join(parts, " ")
}

// FindClassroom returns the classroom with id from list.
func FindClassroom(list []Classroom, id int64) (Classroom, bool) {
	for _, classroom := range list {
		if classroom.ID == id {
			return classroom, true
		}
	}
	return Classroom{}, false
}

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-adp-console/internal/models"
)

const classroomColumns = `
SELECT c.id, c.name, c.stream_name, c.stream_type,
       s.id AS section_id, s.name AS section_name,
       g.id AS grade_level_id, g.name AS grade_level_name, g.education_level
FROM classrooms c
JOIN sections s ON s.id = c.section_id
JOIN grade_levels g ON g.id = s.grade_level_id`

// levelQueries are the named query shapes usable from RESOLVER_LEVEL_SHAPES
// when the catalog is Postgres. Each takes the education level as $1.
var levelQueries = map[string]string{
	"sections_by_level": classroomColumns + `
WHERE g.education_level = $1
ORDER BY g.name ASC, s.name ASC, c.name ASC`,
	"nursery_sections": classroomColumns + `
WHERE g.education_level IN ($1, 'pre_' || $1)
ORDER BY g.name ASC, c.name ASC`,
	"secondary_classrooms": classroomColumns + `
WHERE g.education_level LIKE '%' || $1
ORDER BY g.name ASC, c.name ASC`,
}

// classroomRow is the flat scan target for classroomColumns.
type classroomRow struct {
	ID             int64          `db:"id"`
	Name           string         `db:"name"`
	StreamName     sql.NullString `db:"stream_name"`
	StreamType     sql.NullString `db:"stream_type"`
	SectionID      int64          `db:"section_id"`
	SectionName    string         `db:"section_name"`
	GradeLevelID   int64          `db:"grade_level_id"`
	GradeLevelName string         `db:"grade_level_name"`
	EducationLevel string         `db:"education_level"`
}

func (r classroomRow) toModel() models.Classroom {
	classroom := models.Classroom{
		ID:   r.ID,
		Name: r.Name,
		Section: models.Section{
			ID:             r.SectionID,
			Name:           r.SectionName,
			GradeLevelName: r.GradeLevelName,
		},
		GradeLevel: models.GradeLevel{
			ID:             r.GradeLevelID,
			Name:           r.GradeLevelName,
			EducationLevel: r.EducationLevel,
		},
	}
	if r.StreamName.Valid && r.StreamName.String != "" {
		classroom.Stream = &models.Stream{Name: r.StreamName.String, Type: r.StreamType.String}
	}
	return classroom
}

// CatalogRepository serves the entity catalog straight from Postgres.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs the repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ListTeachers returns all teachers ordered by name.
func (r *CatalogRepository) ListTeachers(ctx context.Context) ([]models.Teacher, error) {
	const query = `SELECT id, full_name, email, active FROM teachers ORDER BY full_name ASC`
	var teachers []models.Teacher
	if err := r.db.SelectContext(ctx, &teachers, query); err != nil {
		return nil, fmt.Errorf("list teachers: %w", err)
	}
	return teachers, nil
}

// ListSubjects returns the subjects a teacher is qualified for.
func (r *CatalogRepository) ListSubjects(ctx context.Context, teacherID int64) ([]models.Subject, error) {
	const query = `
SELECT s.id, s.name, s.code, s.education_level
FROM teacher_subjects ts
JOIN subjects s ON s.id = ts.subject_id
WHERE ts.teacher_id = $1
ORDER BY s.name ASC`
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, teacherID); err != nil {
		return nil, fmt.Errorf("list subjects for teacher %d: %w", teacherID, err)
	}
	return subjects, nil
}

// ListClassrooms returns every classroom for an empty scope, otherwise the
// classrooms where the teacher holds an assignment (for the subject, when set).
func (r *CatalogRepository) ListClassrooms(ctx context.Context, scope models.Scope) ([]models.Classroom, error) {
	var (
		rows  []classroomRow
		query string
		args  []interface{}
	)
	switch {
	case scope.TeacherID == 0:
		query = classroomColumns + `
ORDER BY g.name ASC, s.name ASC, c.name ASC`
	case scope.SubjectID == 0:
		query = classroomColumns + `
WHERE c.id IN (SELECT classroom_id FROM teacher_assignments WHERE teacher_id = $1)
ORDER BY g.name ASC, s.name ASC, c.name ASC`
		args = []interface{}{scope.TeacherID}
	default:
		query = classroomColumns + `
WHERE c.id IN (SELECT classroom_id FROM teacher_assignments WHERE teacher_id = $1 AND subject_id = $2)
ORDER BY g.name ASC, s.name ASC, c.name ASC`
		args = []interface{}{scope.TeacherID, scope.SubjectID}
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list classrooms for %s: %w", scope.Key(), err)
	}
	return toClassrooms(rows), nil
}

// ListClassroomsByShape runs the named level query. Unknown names fail so the
// resolver moves on to its next shape.
func (r *CatalogRepository) ListClassroomsByShape(ctx context.Context, shape models.QueryShape, level string) ([]models.Classroom, error) {
	query, ok := levelQueries[shape.Template]
	if !ok {
		return nil, fmt.Errorf("unknown level query %q", shape.Template)
	}
	var rows []classroomRow
	if err := r.db.SelectContext(ctx, &rows, query, level); err != nil {
		return nil, fmt.Errorf("level query %s(%s): %w", shape.Name, level, err)
	}
	return toClassrooms(rows), nil
}

// ListPersistedAssignments returns a teacher's saved assignments with display names.
func (r *CatalogRepository) ListPersistedAssignments(ctx context.Context, teacherID int64) ([]models.PersistedAssignment, error) {
	const query = `
SELECT ta.id, ta.teacher_id, ta.classroom_id, c.name AS classroom_name,
       s.id AS section_id, s.name AS section_name, g.name AS grade_level_name,
       ta.subject_id, sub.name AS subject_name, ta.is_primary_teacher, ta.periods_per_week
FROM teacher_assignments ta
JOIN classrooms c ON c.id = ta.classroom_id
JOIN sections s ON s.id = c.section_id
JOIN grade_levels g ON g.id = s.grade_level_id
JOIN subjects sub ON sub.id = ta.subject_id
WHERE ta.teacher_id = $1
ORDER BY ta.id ASC`
	var records []models.PersistedAssignment
	if err := r.db.SelectContext(ctx, &records, query, teacherID); err != nil {
		return nil, fmt.Errorf("list assignments for teacher %d: %w", teacherID, err)
	}
	return records, nil
}

// SaveAssignments replaces the teacher's assignments within a transaction.
func (r *CatalogRepository) SaveAssignments(ctx context.Context, teacherID int64, assignments []models.Assignment) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace assignments: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM teacher_assignments WHERE teacher_id = $1`, teacherID); err != nil {
		return fmt.Errorf("clear teacher assignments: %w", err)
	}

	const insert = `
INSERT INTO teacher_assignments (teacher_id, classroom_id, subject_id, is_primary_teacher, periods_per_week)
VALUES ($1, $2, $3, $4, $5)`
	for _, assignment := range assignments {
		if _, err = tx.ExecContext(ctx, insert, teacherID, assignment.ClassroomID, assignment.SubjectID, assignment.IsPrimaryTeacher, assignment.PeriodsPerWeek); err != nil {
			return fmt.Errorf("insert teacher assignment: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit replace assignments: %w", err)
	}
	return nil
}

// Ping checks the connection for readiness probes.
func (r *CatalogRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func toClassrooms(rows []classroomRow) []models.Classroom {
	classrooms := make([]models.Classroom, 0, len(rows))
	for _, row := range rows {
		classrooms = append(classrooms, row.toModel())
	}
	return classrooms
}

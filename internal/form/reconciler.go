package form

import (
	"strconv"

	"github.com/noah-isme/sma-adp-console/internal/models"
)

// ExistingRowPrefix marks rows seeded from persisted assignments.
const ExistingRowPrefix = "existing-"

// MergeClassrooms adds a minimal classroom entry for every persisted
// assignment whose classroom is missing from pool. Entries are keyed by id, so
// merging the same records again changes nothing. pool is not modified.
func MergeClassrooms(pool []models.Classroom, persisted []models.PersistedAssignment) []models.Classroom {
	merged := make([]models.Classroom, len(pool), len(pool)+len(persisted))
	copy(merged, pool)

	seen := make(map[int64]struct{}, len(merged))
	for _, classroom := range merged {
		seen[classroom.ID] = struct{}{}
	}

	for _, record := range persisted {
		if record.ClassroomID == 0 {
			continue
		}
		if _, ok := seen[record.ClassroomID]; ok {
			continue
		}
		seen[record.ClassroomID] = struct{}{}
		merged = append(merged, classroomFromPersisted(record))
	}
	return merged
}

// SeedRows turns persisted assignments into editable rows with stable ids
// ("existing-<source id>", or the record index when the source has no id).
func SeedRows(persisted []models.PersistedAssignment) []models.AssignmentRow {
	rows := make([]models.AssignmentRow, 0, len(persisted))
	for i, record := range persisted {
		key := strconv.Itoa(i)
		if record.ID != 0 {
			key = strconv.FormatInt(record.ID, 10)
		}
		periods := record.PeriodsPerWeek
		if periods == 0 {
			periods = models.MinPeriodsPerWeek
		}
		rows = append(rows, models.AssignmentRow{
			ID:               ExistingRowPrefix + key,
			ClassroomID:      record.ClassroomID,
			SubjectID:        record.SubjectID,
			IsPrimaryTeacher: record.IsPrimaryTeacher,
			PeriodsPerWeek:   periods,
		})
	}
	return rows
}

func classroomFromPersisted(record models.PersistedAssignment) models.Classroom {
	classroom := models.Classroom{
		ID:   record.ClassroomID,
		Name: record.ClassroomName,
		Section: models.Section{
			ID:             record.SectionID,
			Name:           record.SectionName,
			GradeLevelName: record.GradeLevelName,
		},
		GradeLevel: models.GradeLevel{Name: record.GradeLevelName},
	}
	classroom.Name = classroom.DisplayName()
	return classroom
}

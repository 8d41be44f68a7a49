package form

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-adp-console/internal/models"
	appErrors "github.com/noah-isme/sma-adp-console/pkg/errors"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("new-%d", n)
	}
}

func TestBuilderAddDefaults(t *testing.T) {
	b := NewBuilder(sequentialIDs())

	row := b.Add()
	assert.Equal(t, models.AssignmentRow{ID: "new-1", PeriodsPerWeek: 1}, row)
	assert.Len(t, b.Rows(), 1)
}

func TestBuilderDefaultIDsAreUnique(t *testing.T) {
	b := NewBuilder(nil)
	first := b.Add()
	second := b.Add()

	assert.Contains(t, first.ID, "new-")
	assert.NotEqual(t, first.ID, second.ID)
}

func TestBuilderBuildFiltersIncompleteRows(t *testing.T) {
	b := NewBuilder(sequentialIDs())
	complete := b.Add()
	incomplete := b.Add()

	_, err := b.Update(complete.ID, FieldClassroom, float64(5))
	require.NoError(t, err)
	_, err = b.Update(complete.ID, FieldSubject, "9")
	require.NoError(t, err)
	_, err = b.Update(complete.ID, FieldPeriodsPerWeek, 3)
	require.NoError(t, err)
	_, err = b.Update(complete.ID, FieldPrimaryTeacher, true)
	require.NoError(t, err)

	_, err = b.Update(incomplete.ID, FieldClassroom, 0)
	require.NoError(t, err)
	_, err = b.Update(incomplete.ID, FieldSubject, 9)
	require.NoError(t, err)

	assert.Equal(t, []models.Assignment{
		{ClassroomID: 5, SubjectID: 9, IsPrimaryTeacher: true, PeriodsPerWeek: 3},
	}, b.Build())

	report := b.BuildReport()
	assert.Equal(t, []DroppedRow{{RowID: incomplete.ID, Reason: DropMissingClassroom}}, report.Dropped)
	assert.Empty(t, report.Clamped)
}

func TestBuilderBuildClampsPeriods(t *testing.T) {
	cases := []struct {
		name     string
		periods  int
		expected int
		clamped  bool
	}{
		{name: "below range", periods: 0, expected: 1, clamped: true},
		{name: "negative", periods: -4, expected: 1, clamped: true},
		{name: "lower bound", periods: 1, expected: 1},
		{name: "upper bound", periods: 10, expected: 10},
		{name: "above range", periods: 14, expected: 10, clamped: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBuilder(sequentialIDs())
			row := b.Add()
			b.Seed([]models.AssignmentRow{{ID: row.ID, ClassroomID: 2, SubjectID: 3, PeriodsPerWeek: tc.periods}})

			report := b.BuildReport()
			require.Len(t, report.Assignments, 1)
			assert.Equal(t, tc.expected, report.Assignments[0].PeriodsPerWeek)
			if tc.clamped {
				assert.Equal(t, []string{row.ID}, report.Clamped)
			} else {
				assert.Empty(t, report.Clamped)
			}
		})
	}
}

func TestBuilderUpdateDoesNotValidateRange(t *testing.T) {
	b := NewBuilder(sequentialIDs())
	row := b.Add()

	updated, err := b.Update(row.ID, FieldPeriodsPerWeek, "42")
	require.NoError(t, err)
	assert.Equal(t, 42, updated.PeriodsPerWeek)
}

func TestBuilderUpdateErrors(t *testing.T) {
	b := NewBuilder(sequentialIDs())
	row := b.Add()

	_, err := b.Update("missing", FieldSubject, 1)
	assert.ErrorIs(t, err, appErrors.ErrRowNotFound)

	_, err = b.Update(row.ID, RowField("teacher_id"), 1)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = b.Update(row.ID, FieldSubject, "maths")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = b.Update(row.ID, FieldPeriodsPerWeek, 2.5)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = b.Update(row.ID, FieldPrimaryTeacher, []string{"yes"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestBuilderUpdateEmptyValueClearsSelection(t *testing.T) {
	b := NewBuilder(sequentialIDs())
	row := b.Add()
	_, err := b.Update(row.ID, FieldClassroom, 7)
	require.NoError(t, err)

	updated, err := b.Update(row.ID, FieldClassroom, "")
	require.NoError(t, err)
	assert.Zero(t, updated.ClassroomID)
}

func TestBuilderRemove(t *testing.T) {
	b := NewBuilder(sequentialIDs())
	first := b.Add()
	second := b.Add()

	require.NoError(t, b.Remove(first.ID))
	rows := b.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, second.ID, rows[0].ID)

	assert.ErrorIs(t, b.Remove(first.ID), appErrors.ErrRowNotFound)
}

func TestBuilderSeedReplacesByID(t *testing.T) {
	b := NewBuilder(sequentialIDs())
	b.Seed([]models.AssignmentRow{{ID: "existing-1", ClassroomID: 1, SubjectID: 1, PeriodsPerWeek: 2}})
	b.Seed([]models.AssignmentRow{{ID: "existing-1", ClassroomID: 1, SubjectID: 1, PeriodsPerWeek: 4}})

	rows := b.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, 4, rows[0].PeriodsPerWeek)
}

func TestBuilderRejectsNegativeIDs(t *testing.T) {
	b := NewBuilder(sequentialIDs())
	row := b.Add()

	_, err := b.Update(row.ID, FieldClassroom, -5)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	_, err = b.Update(row.ID, FieldSubject, "-9")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	assert.Equal(t, models.AssignmentRow{ID: row.ID, PeriodsPerWeek: 1}, b.Rows()[0])
}

func TestBuilderBuildDropsNegativeIDs(t *testing.T) {
	b := NewBuilder(sequentialIDs())
	b.Seed([]models.AssignmentRow{
		{ID: "existing-1", ClassroomID: -5, SubjectID: 9, PeriodsPerWeek: 2},
		{ID: "existing-2", ClassroomID: 5, SubjectID: -9, PeriodsPerWeek: 2},
		{ID: "existing-3", ClassroomID: 5, SubjectID: 9, PeriodsPerWeek: 2},
	})

	report := b.BuildReport()
	assert.Equal(t, []models.Assignment{{ClassroomID: 5, SubjectID: 9, PeriodsPerWeek: 2}}, report.Assignments)
	assert.Equal(t, []DroppedRow{
		{RowID: "existing-1", Reason: DropMissingClassroom},
		{RowID: "existing-2", Reason: DropMissingSubject},
	}, report.Dropped)
}

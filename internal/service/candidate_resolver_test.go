package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/sma-adp-console/internal/models"
	appErrors "github.com/noah-isme/sma-adp-console/pkg/errors"
)

type catalogStub struct {
	mu sync.Mutex

	subjects   map[int64][]models.Subject
	classrooms map[string][]models.Classroom
	byShape    map[string][]models.Classroom
	persisted  map[int64][]models.PersistedAssignment

	subjectErr   error
	classroomErr error
	persistedErr error
	saveErr      error

	calls []string
	saved map[int64][]models.Assignment
}

func (c *catalogStub) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *catalogStub) callLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.calls...)
}

func (c *catalogStub) ListSubjects(ctx context.Context, teacherID int64) ([]models.Subject, error) {
	c.record("subjects:" + models.Scope{TeacherID: teacherID}.Key())
	if c.subjectErr != nil {
		return nil, c.subjectErr
	}
	return c.subjects[teacherID], nil
}

func (c *catalogStub) ListClassrooms(ctx context.Context, scope models.Scope) ([]models.Classroom, error) {
	c.record("classrooms:" + scope.Key())
	if c.classroomErr != nil {
		return nil, c.classroomErr
	}
	return c.classrooms[scope.Key()], nil
}

func (c *catalogStub) ListClassroomsByShape(ctx context.Context, shape models.QueryShape, level string) ([]models.Classroom, error) {
	c.record("shape:" + shape.Render(level))
	classrooms, ok := c.byShape[shape.Render(level)]
	if !ok {
		return nil, errors.New("404 not found")
	}
	return classrooms, nil
}

func (c *catalogStub) ListPersistedAssignments(ctx context.Context, teacherID int64) ([]models.PersistedAssignment, error) {
	c.record("persisted:" + models.Scope{TeacherID: teacherID}.Key())
	if c.persistedErr != nil {
		return nil, c.persistedErr
	}
	return c.persisted[teacherID], nil
}

func (c *catalogStub) SaveAssignments(ctx context.Context, teacherID int64, assignments []models.Assignment) error {
	c.record("save:" + models.Scope{TeacherID: teacherID}.Key())
	if c.saveErr != nil {
		return c.saveErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saved == nil {
		c.saved = make(map[int64][]models.Assignment)
	}
	c.saved[teacherID] = assignments
	return nil
}

func (c *catalogStub) ListTeachers(ctx context.Context) ([]models.Teacher, error) {
	c.record("teachers")
	return []models.Teacher{{ID: 3, FullName: "Ada Obi", Active: true}}, nil
}

func secondaryShapes() map[string][]models.QueryShape {
	return map[string][]models.QueryShape{
		"secondary": models.ShapesFromTemplates([]string{
			"/levels/{level}/sections",
			"/secondary/classrooms",
			"/sections?level={level}",
		}),
	}
}

func newTestResolver(catalog *catalogStub) (*CandidateResolver, *MetricsService) {
	metrics := NewMetricsService()
	resolver := NewCandidateResolver(catalog, ResolverConfig{LevelShapes: secondaryShapes(), MemoTTL: time.Minute, NegativeTTL: 10 * time.Second}, nil, metrics, nil)
	return resolver, metrics
}

func TestSectionsForLevelProbesInOrderAndStops(t *testing.T) {
	catalog := &catalogStub{byShape: map[string][]models.Classroom{
		"/secondary/classrooms":     {{ID: 5, Name: "SS 1 Science"}},
		"/sections?level=secondary": {{ID: 99, Name: "never asked"}},
	}}
	resolver, metrics := newTestResolver(catalog)

	classrooms, err := resolver.SectionsForLevel(context.Background(), "Secondary")
	require.NoError(t, err)
	assert.Equal(t, []models.Classroom{{ID: 5, Name: "SS 1 Science"}}, classrooms)
	assert.Equal(t, []string{"shape:/levels/secondary/sections", "shape:/secondary/classrooms"}, catalog.callLog())
	assert.Equal(t, uint64(2), metrics.Snapshot().ProbeAttempts)
}

func TestSectionsForLevelIsMemoized(t *testing.T) {
	catalog := &catalogStub{byShape: map[string][]models.Classroom{
		"/secondary/classrooms": {{ID: 5}},
	}}
	resolver, _ := newTestResolver(catalog)

	_, err := resolver.SectionsForLevel(context.Background(), "secondary")
	require.NoError(t, err)
	_, err = resolver.SectionsForLevel(context.Background(), "secondary")
	require.NoError(t, err)
	assert.Len(t, catalog.callLog(), 2)
}

func TestSectionsForLevelDegradesToEmpty(t *testing.T) {
	catalog := &catalogStub{byShape: map[string][]models.Classroom{}}
	resolver, metrics := newTestResolver(catalog)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	resolver.now = func() time.Time { return now }

	classrooms, err := resolver.SectionsForLevel(context.Background(), "secondary")
	require.NoError(t, err)
	assert.NotNil(t, classrooms)
	assert.Empty(t, classrooms)
	assert.Len(t, catalog.callLog(), 3)
	assert.Equal(t, uint64(1), metrics.Snapshot().ResolutionFailures)

	// The degraded result is reused until the negative TTL passes.
	_, err = resolver.SectionsForLevel(context.Background(), "secondary")
	require.NoError(t, err)
	assert.Len(t, catalog.callLog(), 3)

	now = now.Add(11 * time.Second)
	_, err = resolver.SectionsForLevel(context.Background(), "secondary")
	require.NoError(t, err)
	assert.Len(t, catalog.callLog(), 6)
}

func TestSectionsForUnknownLevelIsEmpty(t *testing.T) {
	catalog := &catalogStub{}
	resolver, _ := newTestResolver(catalog)

	classrooms, err := resolver.SectionsForLevel(context.Background(), "tertiary")
	require.NoError(t, err)
	assert.Empty(t, classrooms)
	assert.Empty(t, catalog.callLog())
}

func TestSubjectsFailureDegradesToEmpty(t *testing.T) {
	catalog := &catalogStub{subjectErr: appErrors.ErrUpstream}
	resolver, _ := newTestResolver(catalog)

	subjects, err := resolver.Subjects(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []models.Subject{}, subjects)
}

func TestSubjectsCancelledIsNotMemoized(t *testing.T) {
	catalog := &catalogStub{subjectErr: context.Canceled, subjects: map[int64][]models.Subject{3: {{ID: 9}}}}
	resolver, _ := newTestResolver(catalog)

	_, err := resolver.Subjects(context.Background(), 3)
	assert.Error(t, err)

	catalog.subjectErr = nil
	subjects, err := resolver.Subjects(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []models.Subject{{ID: 9}}, subjects)
}

func TestClassroomsNarrowedBySubjectLevel(t *testing.T) {
	catalog := &catalogStub{
		subjects: map[int64][]models.Subject{3: {{ID: 9, Name: "Physics", EducationLevel: "secondary"}}},
		classrooms: map[string][]models.Classroom{
			"t3:s9": {{ID: 5, Name: "SS 1 Science"}, {ID: 40, Name: "Primary 4"}},
		},
		byShape: map[string][]models.Classroom{
			"/levels/secondary/sections": {
				{ID: 5, Name: "SS 1 Science", Section: models.Section{ID: 51, Name: "A"}},
				{ID: 6, Name: "SS 1 Arts"},
			},
		},
	}
	resolver, _ := newTestResolver(catalog)

	classrooms, err := resolver.Classrooms(context.Background(), models.Scope{TeacherID: 3, SubjectID: 9})
	require.NoError(t, err)
	require.Len(t, classrooms, 1)
	assert.Equal(t, int64(51), classrooms[0].Section.ID)
}

func TestClassroomsWithoutSubjectUseTeacherScope(t *testing.T) {
	catalog := &catalogStub{classrooms: map[string][]models.Classroom{
		"t3": {{ID: 5}, {ID: 6}},
		"t0": {{ID: 5}, {ID: 6}, {ID: 7}},
	}}
	resolver, _ := newTestResolver(catalog)

	teacher, err := resolver.Classrooms(context.Background(), models.Scope{TeacherID: 3})
	require.NoError(t, err)
	assert.Len(t, teacher, 2)

	all, err := resolver.Classrooms(context.Background(), models.Scope{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, []string{"classrooms:t3", "classrooms:t0"}, catalog.callLog())
}

func TestResolverReturnsCopies(t *testing.T) {
	catalog := &catalogStub{classrooms: map[string][]models.Classroom{"t3": {{ID: 5, Name: "A"}}}}
	resolver, _ := newTestResolver(catalog)

	first, err := resolver.Classrooms(context.Background(), models.Scope{TeacherID: 3})
	require.NoError(t, err)
	first[0].Name = "mutated"

	second, err := resolver.Classrooms(context.Background(), models.Scope{TeacherID: 3})
	require.NoError(t, err)
	assert.Equal(t, "A", second[0].Name)
}

func TestForgetDropsTeacherScopedEntries(t *testing.T) {
	catalog := &catalogStub{classrooms: map[string][]models.Classroom{"t3": {{ID: 5}}, "t30": {{ID: 6}}}}
	resolver, _ := newTestResolver(catalog)
	ctx := context.Background()

	_, _ = resolver.Classrooms(ctx, models.Scope{TeacherID: 3})
	_, _ = resolver.Classrooms(ctx, models.Scope{TeacherID: 30})
	resolver.Forget(ctx, 3)
	_, _ = resolver.Classrooms(ctx, models.Scope{TeacherID: 3})
	_, _ = resolver.Classrooms(ctx, models.Scope{TeacherID: 30})

	assert.Equal(t, []string{"classrooms:t3", "classrooms:t30", "classrooms:t3"}, catalog.callLog())
}

func TestPersistedAssignmentsReportsFailure(t *testing.T) {
	catalog := &catalogStub{persistedErr: appErrors.ErrUpstream}
	resolver, _ := newTestResolver(catalog)

	_, err := resolver.PersistedAssignments(context.Background(), 3)
	assert.ErrorIs(t, err, appErrors.ErrUpstream)
}

func TestClassroomsLogsWhenNarrowingSkipped(t *testing.T) {
	cases := map[string]struct {
		catalog *catalogStub
		found   bool
	}{
		"subjects unavailable": {
			catalog: &catalogStub{subjectErr: errors.New("catalog down")},
		},
		"subject without level": {
			catalog: &catalogStub{subjects: map[int64][]models.Subject{3: {{ID: 9, Name: "Civic Education"}}}},
			found:   true,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			tc.catalog.classrooms = map[string][]models.Classroom{"t3:s9": {{ID: 5}, {ID: 6}}}
			core, logs := observer.New(zap.DebugLevel)
			resolver := NewCandidateResolver(tc.catalog, ResolverConfig{LevelShapes: secondaryShapes(), MemoTTL: time.Minute}, nil, NewMetricsService(), zap.New(core))

			classrooms, err := resolver.Classrooms(context.Background(), models.Scope{TeacherID: 3, SubjectID: 9})
			require.NoError(t, err)
			assert.Equal(t, []models.Classroom{{ID: 5}, {ID: 6}}, classrooms)
			assert.Equal(t, []string{"classrooms:t3:s9", "subjects:t3"}, tc.catalog.callLog())

			skipped := logs.FilterMessage("classroom narrowing skipped").All()
			require.Len(t, skipped, 1)
			assert.Equal(t, zap.DebugLevel, skipped[0].Level)
			fields := skipped[0].ContextMap()
			assert.Equal(t, int64(3), fields["teacher_id"])
			assert.Equal(t, int64(9), fields["subject_id"])
			assert.Equal(t, tc.found, fields["subject_found"])
		})
	}
}

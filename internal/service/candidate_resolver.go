package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/sma-adp-console/internal/models"
)

// Resolution kinds used for memo keys, cache keys and metrics.
const (
	kindSubjects   = "subjects"
	kindClassrooms = "classrooms"
	kindSections   = "sections"
)

// CatalogReader is the read side of the entity catalog.
type CatalogReader interface {
	ListSubjects(ctx context.Context, teacherID int64) ([]models.Subject, error)
	ListClassrooms(ctx context.Context, scope models.Scope) ([]models.Classroom, error)
	ListClassroomsByShape(ctx context.Context, shape models.QueryShape, level string) ([]models.Classroom, error)
	ListPersistedAssignments(ctx context.Context, teacherID int64) ([]models.PersistedAssignment, error)
}

// ResolverConfig tunes the candidate resolver.
type ResolverConfig struct {
	// LevelShapes lists, per education level, the query shapes to try in order.
	LevelShapes map[string][]models.QueryShape
	MemoTTL     time.Duration
	// NegativeTTL bounds how long a degraded (empty after failure) result is reused.
	NegativeTTL time.Duration
}

type memoEntry struct {
	value   interface{}
	expires time.Time
}

// CandidateResolver answers "what may be chosen next" for a partial selection.
// Catalog failures never escape it: they are logged, counted and turned into
// empty candidate sets. Only context cancellation is returned as an error.
type CandidateResolver struct {
	catalog CatalogReader
	cfg     ResolverConfig
	cache   *ResolverCache
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time

	flights singleflight.Group
	mu      sync.Mutex
	memo    map[string]memoEntry
}

// NewCandidateResolver constructs a resolver. cache and metrics may be nil.
func NewCandidateResolver(catalog CatalogReader, cfg ResolverConfig, resolverCache *ResolverCache, metrics *MetricsService, logger *zap.Logger) *CandidateResolver {
	if cfg.MemoTTL <= 0 {
		cfg.MemoTTL = 5 * time.Minute
	}
	if cfg.NegativeTTL <= 0 || cfg.NegativeTTL > cfg.MemoTTL {
		cfg.NegativeTTL = cfg.MemoTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CandidateResolver{
		catalog: catalog,
		cfg:     cfg,
		cache:   resolverCache,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		memo:    make(map[string]memoEntry),
	}
}

// Levels returns the education levels with configured shapes, sorted.
func (r *CandidateResolver) Levels() []string {
	levels := make([]string, 0, len(r.cfg.LevelShapes))
	for level := range r.cfg.LevelShapes {
		levels = append(levels, level)
	}
	sort.Strings(levels)
	return levels
}

// Shapes returns the ordered query shapes for level.
func (r *CandidateResolver) Shapes(level string) []models.QueryShape {
	return r.cfg.LevelShapes[normalizeLevel(level)]
}

// Subjects returns the subjects a teacher may be assigned.
func (r *CandidateResolver) Subjects(ctx context.Context, teacherID int64) ([]models.Subject, error) {
	if teacherID == 0 {
		return []models.Subject{}, nil
	}
	key := models.Scope{TeacherID: teacherID}.Key()
	return resolve(ctx, r, kindSubjects, key, func(ctx context.Context) ([]models.Subject, error) {
		return r.catalog.ListSubjects(ctx, teacherID)
	})
}

// Classrooms returns classroom candidates for scope. An empty scope lists
// every classroom. With a subject, the teacher's classrooms are narrowed to
// the sections of the subject's education level.
func (r *CandidateResolver) Classrooms(ctx context.Context, scope models.Scope) ([]models.Classroom, error) {
	teaching, err := resolve(ctx, r, kindClassrooms, scope.Key(), func(ctx context.Context) ([]models.Classroom, error) {
		return r.catalog.ListClassrooms(ctx, scope)
	})
	if err != nil || scope.TeacherID == 0 || scope.SubjectID == 0 || len(teaching) == 0 {
		return teaching, err
	}

	subjects, err := r.Subjects(ctx, scope.TeacherID)
	if err != nil {
		return nil, err
	}
	subject, ok := models.FindSubject(subjects, scope.SubjectID)
	if !ok || strings.TrimSpace(subject.EducationLevel) == "" {
		r.logger.Debug("classroom narrowing skipped",
			zap.Int64("teacher_id", scope.TeacherID),
			zap.Int64("subject_id", scope.SubjectID),
			zap.Bool("subject_found", ok),
		)
		return teaching, nil
	}

	pool, err := r.SectionsForLevel(ctx, subject.EducationLevel)
	if err != nil {
		return nil, err
	}
	return narrowToPool(teaching, pool), nil
}

// SectionsForLevel returns every classroom of an education level using the
// first configured query shape that answers.
func (r *CandidateResolver) SectionsForLevel(ctx context.Context, level string) ([]models.Classroom, error) {
	level = normalizeLevel(level)
	shapes := r.cfg.LevelShapes[level]
	if len(shapes) == 0 {
		r.logger.Warn("no query shape for education level", zap.String("level", level))
		r.metrics.RecordResolution(kindSections, outcomeFailed)
		return []models.Classroom{}, nil
	}

	return resolve(ctx, r, kindSections, "level:"+level, func(ctx context.Context) ([]models.Classroom, error) {
		strategies := make([]Strategy[[]models.Classroom], 0, len(shapes))
		for _, shape := range shapes {
			shape := shape
			strategies = append(strategies, Strategy[[]models.Classroom]{
				Name: shape.Name,
				Run: func(ctx context.Context) ([]models.Classroom, error) {
					return r.catalog.ListClassroomsByShape(ctx, shape, level)
				},
			})
		}
		classrooms, used, err := FirstSuccess(ctx, strategies, func(a Attempt) {
			r.metrics.RecordProbeAttempt(level, a.Name, a.Err == nil)
			if a.Err != nil {
				r.logger.Debug("query shape failed", zap.String("level", level), zap.String("shape", a.Name), zap.Error(a.Err))
			}
		})
		if err == nil {
			r.logger.Debug("query shape answered", zap.String("level", level), zap.String("shape", used))
		}
		return classrooms, err
	})
}

// PersistedAssignments loads a teacher's saved assignments. It is never
// memoized and, unlike the candidate lookups, reports failures so callers can retry.
func (r *CandidateResolver) PersistedAssignments(ctx context.Context, teacherID int64) ([]models.PersistedAssignment, error) {
	records, err := r.catalog.ListPersistedAssignments(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []models.PersistedAssignment{}
	}
	return records, nil
}

// Forget drops memoized results scoped to a teacher, e.g. after their assignments changed.
func (r *CandidateResolver) Forget(ctx context.Context, teacherID int64) {
	prefix := models.Scope{TeacherID: teacherID}.Key()
	r.mu.Lock()
	for key := range r.memo {
		if _, scoped, _ := strings.Cut(key, "|"); scoped == prefix || strings.HasPrefix(scoped, prefix+":") {
			delete(r.memo, key)
		}
	}
	r.mu.Unlock()
	_ = r.cache.ForgetTeacher(ctx, teacherID)
}

// resolve serves kind/key from the memo, then the shared cache, then fetch.
// Concurrent resolutions of the same key share one fetch. A failed fetch
// yields an empty result that is memoized for NegativeTTL.
func resolve[T any](ctx context.Context, r *CandidateResolver, kind, key string, fetch func(context.Context) ([]T, error)) ([]T, error) {
	memoKey := kind + "|" + key
	if value, ok := r.lookup(memoKey); ok {
		return cloneSlice(value.([]T)), nil
	}

	for attempt := 0; ; attempt++ {
		ch := r.flights.DoChan(memoKey, func() (interface{}, error) {
			return load(ctx, r, kind, key, fetch)
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err == nil {
				return cloneSlice(res.Val.([]T)), nil
			}
			// The shared fetch may have belonged to a caller that has since gone away.
			if isContextErr(res.Err) && ctx.Err() == nil && attempt == 0 {
				continue
			}
			return nil, res.Err
		}
	}
}

func load[T any](ctx context.Context, r *CandidateResolver, kind, key string, fetch func(context.Context) ([]T, error)) ([]T, error) {
	memoKey := kind + "|" + key
	var cached []T
	if r.cache.Load(ctx, kind, key, &cached) && cached != nil {
		r.store(memoKey, cached, r.cfg.MemoTTL)
		return cached, nil
	}

	value, err := fetch(ctx)
	if err != nil {
		if isContextErr(err) || ctx.Err() != nil {
			return nil, contextErr(ctx, err)
		}
		r.logger.Warn("candidate resolution failed",
			zap.String("kind", kind),
			zap.String("key", key),
			zap.Error(err),
		)
		r.metrics.RecordResolution(kind, outcomeFailed)
		empty := []T{}
		r.store(memoKey, empty, r.cfg.NegativeTTL)
		return empty, nil
	}

	if value == nil {
		value = []T{}
	}
	if len(value) == 0 {
		r.metrics.RecordResolution(kind, outcomeEmpty)
	} else {
		r.metrics.RecordResolution(kind, outcomeOK)
	}
	r.store(memoKey, value, r.cfg.MemoTTL)
	r.cache.Store(ctx, kind, key, value)
	return value, nil
}

func (r *CandidateResolver) lookup(key string) (interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.memo[key]
	if !ok {
		return nil, false
	}
	if !r.now().Before(entry.expires) {
		delete(r.memo, key)
		return nil, false
	}
	return entry.value, true
}

func (r *CandidateResolver) store(key string, value interface{}, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memo[key] = memoEntry{value: value, expires: r.now().Add(ttl)}
}

// narrowToPool keeps the teacher's classrooms that belong to the level pool,
// preferring the pool's richer entries.
func narrowToPool(teaching, pool []models.Classroom) []models.Classroom {
	byID := make(map[int64]models.Classroom, len(pool))
	for _, classroom := range pool {
		byID[classroom.ID] = classroom
	}
	narrowed := make([]models.Classroom, 0, len(teaching))
	for _, classroom := range teaching {
		if full, ok := byID[classroom.ID]; ok {
			narrowed = append(narrowed, full)
		}
	}
	return narrowed
}

func normalizeLevel(level string) string {
	return strings.ToLower(strings.TrimSpace(level))
}

func cloneSlice[T any](items []T) []T {
	return append(make([]T, 0, len(items)), items...)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("resolution interrupted: %w", err)
}

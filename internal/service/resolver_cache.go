package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-console/internal/models"
	"github.com/noah-isme/sma-adp-console/pkg/cache"
	appErrors "github.com/noah-isme/sma-adp-console/pkg/errors"
)

const resolverNamespace = "resolver"

// DefaultResolverCacheTTL applies when the resolver cache is built without a TTL.
const DefaultResolverCacheTTL = 5 * time.Minute

// CacheRepository stores JSON payloads by key.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// ResolverCache shares resolved candidate sets between console replicas.
// Entries live under console:resolver:<kind>:<scope key>. It is an
// optimisation only: every failure is logged and read as a miss. A nil
// *ResolverCache is valid and disabled.
type ResolverCache struct {
	repo    CacheRepository
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
}

// NewResolverCache returns a cache writing entries for ttl, or nil when repo is nil.
func NewResolverCache(repo CacheRepository, metrics *MetricsService, ttl time.Duration, logger *zap.Logger) *ResolverCache {
	if repo == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultResolverCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResolverCache{repo: repo, metrics: metrics, ttl: ttl, logger: logger.Named("resolver_cache")}
}

// Enabled reports whether lookups can reach Redis.
func (c *ResolverCache) Enabled() bool {
	return c != nil && c.repo != nil
}

// Load decodes the cached candidates for kind and key into dest.
func (c *ResolverCache) Load(ctx context.Context, kind, key string, dest interface{}) bool {
	if !c.Enabled() {
		return false
	}
	start := time.Now()
	err := c.repo.Get(ctx, resolverKey(kind, key), dest)
	c.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil && !errors.Is(err, appErrors.ErrCacheMiss) {
		c.logger.Warn("resolver cache read failed", zap.String("kind", kind), zap.String("key", key), zap.Error(err))
	}
	return err == nil
}

// Store writes candidates for kind and key. Degraded results are never stored.
func (c *ResolverCache) Store(ctx context.Context, kind, key string, value interface{}) {
	if !c.Enabled() {
		return
	}
	start := time.Now()
	err := c.repo.Set(ctx, resolverKey(kind, key), value, c.ttl)
	c.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		c.logger.Warn("resolver cache write failed", zap.String("kind", kind), zap.String("key", key), zap.Error(err))
	}
}

// ForgetTeacher removes every kind cached for the teacher, with or without a subject.
func (c *ResolverCache) ForgetTeacher(ctx context.Context, teacherID int64) error {
	if !c.Enabled() {
		return nil
	}
	var errs []error
	for _, pattern := range teacherPatterns(teacherID) {
		if err := c.repo.DeleteByPattern(ctx, pattern); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", pattern, err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		c.logger.Warn("resolver cache invalidation failed", zap.Int64("teacher_id", teacherID), zap.Error(err))
	}
	return err
}

func resolverKey(kind, key string) string {
	return cache.Key(resolverNamespace, kind, key)
}

func teacherPatterns(teacherID int64) []string {
	scoped := models.Scope{TeacherID: teacherID}.Key()
	return []string{
		cache.Key(resolverNamespace, "*", scoped),
		cache.Key(resolverNamespace, "*", scoped, "*"),
	}
}

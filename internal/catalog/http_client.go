// Package catalog talks to the school backend that owns teachers, subjects,
// classrooms and saved assignments.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-console/internal/models"
	"github.com/noah-isme/sma-adp-console/pkg/config"
	appErrors "github.com/noah-isme/sma-adp-console/pkg/errors"
	"github.com/noah-isme/sma-adp-console/pkg/middleware/requestid"
)

const (
	maxResponseBytes = 4 << 20
	tokenSubject     = "assignment-console"
)

// listPaths are tried in order to find the list inside a response body. The
// backend answers with bare arrays on some routes and envelopes on others.
var listPaths = []string{"data.items", "data", "results", "items", "@this"}

type requestObserver interface {
	ObserveCatalogRequest(operation string, status int, duration time.Duration)
}

// StatusError reports a non-2xx answer from the backend.
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog responded %d for %s", e.Status, e.URL)
}

// HTTPClient is the REST implementation of the entity catalog.
type HTTPClient struct {
	baseURL  string
	client   *http.Client
	secret   []byte
	tokenTTL time.Duration
	metrics  requestObserver
	logger   *zap.Logger
	now      func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewHTTPClient constructs a client for cfg.BaseURL. metrics may be nil.
func NewHTTPClient(cfg config.CatalogConfig, metrics requestObserver, logger *zap.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ttl := cfg.ServiceTokenTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		secret:   []byte(cfg.ServiceSecret),
		tokenTTL: ttl,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// ListTeachers returns every teacher known to the backend.
func (c *HTTPClient) ListTeachers(ctx context.Context) ([]models.Teacher, error) {
	var teachers []models.Teacher
	if err := c.getList(ctx, "list_teachers", "/teachers", &teachers); err != nil {
		return nil, err
	}
	return teachers, nil
}

// ListSubjects returns the subjects the backend offers for a teacher.
func (c *HTTPClient) ListSubjects(ctx context.Context, teacherID int64) ([]models.Subject, error) {
	var subjects []models.Subject
	path := fmt.Sprintf("/teachers/%d/subjects", teacherID)
	if err := c.getList(ctx, "list_subjects", path, &subjects); err != nil {
		return nil, err
	}
	return subjects, nil
}

// ListClassrooms returns classrooms for the scope: all classrooms when no
// teacher is given, otherwise those where the teacher teaches (the subject,
// when set).
func (c *HTTPClient) ListClassrooms(ctx context.Context, scope models.Scope) ([]models.Classroom, error) {
	path := "/classrooms"
	if scope.TeacherID != 0 {
		path = fmt.Sprintf("/teachers/%d/classrooms", scope.TeacherID)
		if scope.SubjectID != 0 {
			path += "?subject_id=" + strconv.FormatInt(scope.SubjectID, 10)
		}
	}
	var classrooms []models.Classroom
	if err := c.getList(ctx, "list_classrooms", path, &classrooms); err != nil {
		return nil, err
	}
	return classrooms, nil
}

// ListClassroomsByShape runs a single query shape for an education level.
func (c *HTTPClient) ListClassroomsByShape(ctx context.Context, shape models.QueryShape, level string) ([]models.Classroom, error) {
	var classrooms []models.Classroom
	path := shape.Render(url.PathEscape(level))
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if err := c.getList(ctx, "classrooms_by_level", path, &classrooms); err != nil {
		return nil, err
	}
	return classrooms, nil
}

// ListPersistedAssignments returns the teacher's saved assignments.
func (c *HTTPClient) ListPersistedAssignments(ctx context.Context, teacherID int64) ([]models.PersistedAssignment, error) {
	var records []models.PersistedAssignment
	path := fmt.Sprintf("/teachers/%d/assignments", teacherID)
	if err := c.getList(ctx, "list_persisted_assignments", path, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// SaveAssignments replaces the teacher's assignments with the given set.
func (c *HTTPClient) SaveAssignments(ctx context.Context, teacherID int64, assignments []models.Assignment) error {
	payload, err := json.Marshal(map[string]interface{}{"assignments": assignments})
	if err != nil {
		return fmt.Errorf("marshal assignments: %w", err)
	}
	path := fmt.Sprintf("/teachers/%d/assignments", teacherID)
	_, err = c.do(ctx, "save_assignments", http.MethodPut, path, payload)
	return err
}

func (c *HTTPClient) getList(ctx context.Context, operation, path string, dest interface{}) error {
	body, err := c.do(ctx, operation, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	raw, err := extractList(body)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%s: decode list: %w", operation, err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, operation, method, path string, payload []byte) ([]byte, error) {
	target := c.baseURL + path

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if reqID := requestid.FromContext(ctx); reqID != "" {
		req.Header.Set(requestid.HeaderKey, reqID)
	}
	if token, err := c.serviceToken(); err != nil {
		return nil, fmt.Errorf("%s: sign service token: %w", operation, err)
	} else if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.observe(operation, http.StatusServiceUnavailable, duration)
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, operation+" failed")
	}
	defer resp.Body.Close()
	c.observe(operation, resp.StatusCode, duration)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, operation+" failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Status: resp.StatusCode, URL: target}
		c.logger.Debug("catalog request rejected", zap.String("operation", operation), zap.Int("status", resp.StatusCode), zap.String("url", target))
		return nil, appErrors.Wrap(statusErr, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, operation+" failed")
	}
	return body, nil
}

// serviceToken returns a cached HS256 token, re-signing shortly before expiry.
// It returns "" when no secret is configured.
func (c *HTTPClient) serviceToken() (string, error) {
	if len(c.secret) == 0 {
		return "", nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && now.Add(30*time.Second).Before(c.tokenExpiry) {
		return c.token, nil
	}
	expiry := now.Add(c.tokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   tokenSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiry),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", err
	}
	c.token = signed
	c.tokenExpiry = expiry
	return signed, nil
}

func (c *HTTPClient) observe(operation string, status int, duration time.Duration) {
	if c.metrics != nil {
		c.metrics.ObserveCatalogRequest(operation, status, duration)
	}
}

func extractList(body []byte) ([]byte, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	for _, path := range listPaths {
		result := gjson.GetBytes(body, path)
		if result.IsArray() {
			return []byte(result.Raw), nil
		}
	}
	if data := gjson.GetBytes(body, "data"); data.Exists() && data.Type == gjson.Null {
		return []byte("[]"), nil
	}
	return nil, fmt.Errorf("response does not contain a list")
}

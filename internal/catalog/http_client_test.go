package catalog

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-adp-console/internal/models"
	"github.com/noah-isme/sma-adp-console/pkg/config"
	appErrors "github.com/noah-isme/sma-adp-console/pkg/errors"
	"github.com/noah-isme/sma-adp-console/pkg/middleware/requestid"
)

type observedCall struct {
	operation string
	status    int
}

type observerStub struct {
	mu    sync.Mutex
	calls []observedCall
}

func (o *observerStub) ObserveCatalogRequest(operation string, status int, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, observedCall{operation: operation, status: status})
}

func newTestClient(t *testing.T, handler http.HandlerFunc, secret string) (*HTTPClient, *observerStub) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	observer := &observerStub{}
	client := NewHTTPClient(config.CatalogConfig{BaseURL: server.URL + "/api/", Timeout: time.Second, ServiceSecret: secret}, observer, nil)
	return client, observer
}

func TestHTTPClientListSubjectsEnvelope(t *testing.T) {
	client, observer := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/teachers/3/subjects", r.URL.Path)
		assert.Equal(t, "req-1", r.Header.Get(requestid.HeaderKey))
		_, _ = io.WriteString(w, `{"data":[{"id":9,"name":"Mathematics","code":"MTH","education_level":"secondary"}]}`)
	}, "")

	ctx := requestid.WithValue(context.Background(), "req-1")
	subjects, err := client.ListSubjects(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []models.Subject{{ID: 9, Name: "Mathematics", Code: "MTH", EducationLevel: "secondary"}}, subjects)
	assert.Equal(t, []observedCall{{operation: "list_subjects", status: http.StatusOK}}, observer.calls)
}

func TestHTTPClientListClassroomsPaths(t *testing.T) {
	var seen []string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.RequestURI())
		_, _ = io.WriteString(w, `[{"id":5,"name":"SS 1 Science","section":{"id":51,"name":"A"},"grade_level":{"id":12,"name":"SS 1"},"stream":{"name":"Science","type":"science"}}]`)
	}, "")

	classrooms, err := client.ListClassrooms(context.Background(), models.Scope{TeacherID: 3, SubjectID: 9})
	require.NoError(t, err)
	require.Len(t, classrooms, 1)
	assert.Equal(t, int64(51), classrooms[0].Section.ID)
	require.NotNil(t, classrooms[0].Stream)
	assert.Equal(t, "Science", classrooms[0].Stream.Name)

	_, err = client.ListClassrooms(context.Background(), models.Scope{TeacherID: 3})
	require.NoError(t, err)
	_, err = client.ListClassrooms(context.Background(), models.Scope{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/api/teachers/3/classrooms?subject_id=9",
		"/api/teachers/3/classrooms",
		"/api/classrooms",
	}, seen)
}

func TestHTTPClientShapeRendering(t *testing.T) {
	var seen string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.RequestURI()
		_, _ = io.WriteString(w, `{"results":[]}`)
	}, "")

	classrooms, err := client.ListClassroomsByShape(context.Background(), models.QueryShape{Name: "by-level", Template: "levels/{level}/sections"}, "secondary")
	require.NoError(t, err)
	assert.Empty(t, classrooms)
	assert.Equal(t, "/api/levels/secondary/sections", seen)
}

func TestHTTPClientNon2xxIsUpstreamError(t *testing.T) {
	client, observer := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, "")

	_, err := client.ListClassroomsByShape(context.Background(), models.QueryShape{Template: "/nursery/sections"}, "nursery")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrUpstream)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Status)
	assert.Equal(t, http.StatusNotFound, observer.calls[0].status)
}

func TestHTTPClientRejectsNonListBodies(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":"ok"}`)
	}, "")

	_, err := client.ListTeachers(context.Background())
	assert.ErrorContains(t, err, "does not contain a list")
}

func TestHTTPClientNullDataIsEmpty(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":null}`)
	}, "")

	records, err := client.ListPersistedAssignments(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHTTPClientSaveAssignmentsSignsRequest(t *testing.T) {
	var (
		body   map[string][]models.Assignment
		bearer string
		method string
	)
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		bearer = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}, "shared-secret")

	err := client.SaveAssignments(context.Background(), 3, []models.Assignment{{ClassroomID: 5, SubjectID: 9, IsPrimaryTeacher: true, PeriodsPerWeek: 3}})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, []models.Assignment{{ClassroomID: 5, SubjectID: 9, IsPrimaryTeacher: true, PeriodsPerWeek: 3}}, body["assignments"])

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(bearer, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("shared-secret"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "assignment-console", claims.Subject)
}

func TestHTTPClientReusesServiceToken(t *testing.T) {
	client := NewHTTPClient(config.CatalogConfig{ServiceSecret: "s", ServiceTokenTTL: time.Minute}, nil, nil)
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return now }

	first, err := client.serviceToken()
	require.NoError(t, err)
	second, err := client.serviceToken()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	now = now.Add(45 * time.Second)
	third, err := client.serviceToken()
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-adp-console/internal/dto"
	"github.com/noah-isme/sma-adp-console/internal/form"
	"github.com/noah-isme/sma-adp-console/internal/models"
	appErrors "github.com/noah-isme/sma-adp-console/pkg/errors"
)

type formServiceMock struct {
	view      *dto.FormResponse
	err       error
	selection *dto.SelectionResponse
	row       *models.AssignmentRow
	teacherID int64
	built     form.BuildResult
	submitted *dto.SubmitResponse

	lastCreate dto.CreateFormRequest
	lastID     string
	lastRowID  string
	lastValue  int64
	lastUpdate dto.UpdateRowRequest
	calls      []string
}

func (m *formServiceMock) Create(ctx context.Context, req dto.CreateFormRequest) (*dto.FormResponse, error) {
	m.calls = append(m.calls, "create")
	m.lastCreate = req
	return m.view, m.err
}

func (m *formServiceMock) Get(ctx context.Context, id string) (*dto.FormResponse, error) {
	m.calls = append(m.calls, "get")
	m.lastID = id
	return m.view, m.err
}

func (m *formServiceMock) Delete(ctx context.Context, id string) error {
	m.calls = append(m.calls, "delete")
	m.lastID = id
	return m.err
}

func (m *formServiceMock) SetTeacher(ctx context.Context, id string, teacherID int64) (*dto.FormResponse, error) {
	m.calls = append(m.calls, "teacher")
	m.lastID, m.lastValue = id, teacherID
	return m.view, m.err
}

func (m *formServiceMock) SetSubject(ctx context.Context, id string, subjectID int64) (*dto.FormResponse, error) {
	m.calls = append(m.calls, "subject")
	m.lastID, m.lastValue = id, subjectID
	return m.view, m.err
}

func (m *formServiceMock) SetClassroom(ctx context.Context, id string, classroomID int64) (*dto.FormResponse, error) {
	m.calls = append(m.calls, "classroom")
	m.lastID, m.lastValue = id, classroomID
	return m.view, m.err
}

func (m *formServiceMock) Selection(ctx context.Context, id string) (*dto.SelectionResponse, error) {
	m.calls = append(m.calls, "selection")
	return m.selection, m.err
}

func (m *formServiceMock) AddRow(ctx context.Context, id string) (*models.AssignmentRow, error) {
	m.calls = append(m.calls, "add")
	return m.row, m.err
}

func (m *formServiceMock) UpdateRow(ctx context.Context, id, rowID string, req dto.UpdateRowRequest) (*models.AssignmentRow, error) {
	m.calls = append(m.calls, "update")
	m.lastID, m.lastRowID, m.lastUpdate = id, rowID, req
	return m.row, m.err
}

func (m *formServiceMock) RemoveRow(ctx context.Context, id, rowID string) error {
	m.calls = append(m.calls, "remove")
	m.lastID, m.lastRowID = id, rowID
	return m.err
}

func (m *formServiceMock) Assignments(ctx context.Context, id string) (int64, form.BuildResult, error) {
	m.calls = append(m.calls, "assignments")
	return m.teacherID, m.built, m.err
}

func (m *formServiceMock) Submit(ctx context.Context, id string) (*dto.SubmitResponse, error) {
	m.calls = append(m.calls, "submit")
	return m.submitted, m.err
}

func newFormRouter(svc *formServiceMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewFormHandler(svc)
	r := gin.New()
	forms := r.Group("/forms")
	forms.POST("", h.Create)
	forms.GET("/:id", h.Get)
	forms.DELETE("/:id", h.Delete)
	forms.GET("/:id/selection", h.Selection)
	forms.PUT("/:id/selection/teacher", h.SetTeacher)
	forms.PUT("/:id/selection/subject", h.SetSubject)
	forms.PUT("/:id/selection/classroom", h.SetClassroom)
	forms.POST("/:id/rows", h.AddRow)
	forms.PATCH("/:id/rows/:rowId", h.UpdateRow)
	forms.DELETE("/:id/rows/:rowId", h.RemoveRow)
	forms.GET("/:id/assignments", h.Assignments)
	forms.POST("/:id/submit", h.Submit)
	return r
}

func serve(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope
}

func TestFormHandlerCreate(t *testing.T) {
	svc := &formServiceMock{view: &dto.FormResponse{ID: "f-1"}}
	w := serve(newFormRouter(svc), http.MethodPost, "/forms", `{"mode":"edit","teacher_id":3}`)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, dto.CreateFormRequest{Mode: "edit", TeacherID: 3}, svc.lastCreate)
	assert.Contains(t, w.Body.String(), `"id":"f-1"`)
}

func TestFormHandlerCreateWithoutBody(t *testing.T) {
	svc := &formServiceMock{view: &dto.FormResponse{ID: "f-1"}}
	w := serve(newFormRouter(svc), http.MethodPost, "/forms", "")

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, dto.CreateFormRequest{}, svc.lastCreate)
}

func TestFormHandlerSelectTeacherAcceptedWhileLoading(t *testing.T) {
	svc := &formServiceMock{view: &dto.FormResponse{ID: "f-1", Snapshot: form.Snapshot{
		Loading: map[form.Target]bool{form.TargetSubjects: true, form.TargetClassrooms: true},
	}}}
	w := serve(newFormRouter(svc), http.MethodPut, "/forms/f-1/selection/teacher", `{"id":3}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "f-1", svc.lastID)
	assert.Equal(t, int64(3), svc.lastValue)
}

func TestFormHandlerSelectClassroomOK(t *testing.T) {
	svc := &formServiceMock{view: &dto.FormResponse{ID: "f-1", Snapshot: form.Snapshot{
		Loading: map[form.Target]bool{form.TargetSubjects: false},
	}}}
	w := serve(newFormRouter(svc), http.MethodPut, "/forms/f-1/selection/classroom", `{"id":0}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"classroom"}, svc.calls)
	assert.Equal(t, int64(0), svc.lastValue)
}

func TestFormHandlerSelectRejectsBadPayload(t *testing.T) {
	cases := map[string]string{
		"missing id":  `{}`,
		"negative id": `{"id":-4}`,
		"malformed":   `{"id":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &formServiceMock{}
			w := serve(newFormRouter(svc), http.MethodPut, "/forms/f-1/selection/subject", body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, svc.calls)
		})
	}
}

func TestFormHandlerServiceErrors(t *testing.T) {
	svc := &formServiceMock{err: appErrors.ErrSessionNotFound}
	w := serve(newFormRouter(svc), http.MethodGet, "/forms/missing", "")

	require.Equal(t, http.StatusNotFound, w.Code)
	envelope := decodeEnvelope(t, w)
	assert.Contains(t, string(envelope["error"]), "FORM_NOT_FOUND")

	svc = &formServiceMock{err: appErrors.Clone(appErrors.ErrUpstream, "failed to save assignments")}
	w = serve(newFormRouter(svc), http.MethodPost, "/forms/f-1/submit", "")
	require.Equal(t, http.StatusBadGateway, w.Code)
}

func TestFormHandlerRows(t *testing.T) {
	svc := &formServiceMock{row: &models.AssignmentRow{ID: "new-1", PeriodsPerWeek: 1}}
	r := newFormRouter(svc)

	w := serve(r, http.MethodPost, "/forms/f-1/rows", "")
	require.Equal(t, http.StatusCreated, w.Code)

	w = serve(r, http.MethodPatch, "/forms/f-1/rows/new-1", `{"field":"periods_per_week","value":4}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "new-1", svc.lastRowID)
	assert.Equal(t, "periods_per_week", svc.lastUpdate.Field)
	assert.Equal(t, float64(4), svc.lastUpdate.Value)

	w = serve(r, http.MethodDelete, "/forms/f-1/rows/new-1", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"add", "update", "remove"}, svc.calls)
}

func TestFormHandlerAssignmentsReportsDroppedRows(t *testing.T) {
	svc := &formServiceMock{
		teacherID: 3,
		built: form.BuildResult{
			Assignments: []models.Assignment{{ClassroomID: 5, SubjectID: 9, IsPrimaryTeacher: true, PeriodsPerWeek: 3}},
			Dropped:     []form.DroppedRow{{RowID: "new-2", Reason: form.DropMissingClassroom}},
		},
	}
	w := serve(newFormRouter(svc), http.MethodGet, "/forms/f-1/assignments", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data dto.AssignmentsResponse `json:"data"`
		Meta struct {
			Dropped []form.DroppedRow `json:"dropped_rows"`
			Clamped []string          `json:"clamped_rows"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(3), body.Data.TeacherID)
	assert.Equal(t, []models.Assignment{{ClassroomID: 5, SubjectID: 9, IsPrimaryTeacher: true, PeriodsPerWeek: 3}}, body.Data.Assignments)
	assert.Equal(t, []form.DroppedRow{{RowID: "new-2", Reason: form.DropMissingClassroom}}, body.Meta.Dropped)
	assert.Empty(t, body.Meta.Clamped)
}

func TestFormHandlerSelectionAndDelete(t *testing.T) {
	svc := &formServiceMock{selection: &dto.SelectionResponse{
		Selection: models.Selection{TeacherID: 3, SubjectID: 9, ClassroomID: 5, SectionID: 51},
		State:     models.SelectionClassroomSet,
	}}
	r := newFormRouter(svc)

	w := serve(r, http.MethodGet, "/forms/f-1/selection", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"section_id":51`)

	w = serve(r, http.MethodDelete, "/forms/f-1", "")
	require.Equal(t, http.StatusNoContent, w.Code)
}

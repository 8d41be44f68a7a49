package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-console/internal/dto"
	"github.com/noah-isme/sma-adp-console/internal/form"
	"github.com/noah-isme/sma-adp-console/internal/models"
	appErrors "github.com/noah-isme/sma-adp-console/pkg/errors"
	"github.com/noah-isme/sma-adp-console/pkg/jobs"
)

// JobTypeRefresh is the queue job type for candidate refreshes.
const JobTypeRefresh = "form.refresh"

type candidateSource interface {
	Subjects(ctx context.Context, teacherID int64) ([]models.Subject, error)
	Classrooms(ctx context.Context, scope models.Scope) ([]models.Classroom, error)
	PersistedAssignments(ctx context.Context, teacherID int64) ([]models.PersistedAssignment, error)
	Forget(ctx context.Context, teacherID int64)
}

type assignmentWriter interface {
	SaveAssignments(ctx context.Context, teacherID int64, assignments []models.Assignment) error
}

// Dispatcher schedules refresh jobs; *jobs.Queue satisfies it.
type Dispatcher interface {
	Enqueue(job jobs.Job) error
}

// RefreshTask is the payload of a JobTypeRefresh job.
type RefreshTask struct {
	SessionID string
	Refresh   form.Refresh
}

// FormServiceConfig tunes session lifetime and refresh retries.
type FormServiceConfig struct {
	SessionTTL time.Duration
	// PersistedRetries is how many times a failed persisted-assignment load is retried.
	PersistedRetries int
}

type formSession struct {
	mu      sync.Mutex
	id      string
	form    *form.Form
	created time.Time
	touched time.Time
	// inflight holds the cancel func of the running refresh per target.
	inflight map[form.Target]inflightRefresh
}

type inflightRefresh struct {
	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc
}

// FormService owns form sessions. Selection changes return at once with
// loading flags set; refreshes run on the dispatcher and their results are
// applied only if they still match the session's current generation.
type FormService struct {
	resolver   candidateSource
	writer     assignmentWriter
	dispatcher Dispatcher
	validator  *validator.Validate
	metrics    *MetricsService
	logger     *zap.Logger
	cfg        FormServiceConfig
	now        func() time.Time
	newID      func() string

	baseCtx context.Context
	stop    context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*formSession
}

// NewFormService builds a FormService. dispatcher may be set later with
// SetDispatcher when the queue itself needs the service as its handler.
func NewFormService(resolver candidateSource, writer assignmentWriter, dispatcher Dispatcher, cfg FormServiceConfig, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *FormService {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.PersistedRetries < 0 {
		cfg.PersistedRetries = 0
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &FormService{
		resolver:   resolver,
		writer:     writer,
		dispatcher: dispatcher,
		validator:  validate,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
		newID:      uuid.NewString,
		baseCtx:    ctx,
		stop:       stop,
		sessions:   make(map[string]*formSession),
	}
}

// SetDispatcher wires the dispatcher used for refresh jobs.
func (s *FormService) SetDispatcher(dispatcher Dispatcher) {
	s.dispatcher = dispatcher
}

// Create opens a session in the requested mode, optionally preselecting a teacher.
func (s *FormService) Create(ctx context.Context, req dto.CreateFormRequest) (*dto.FormResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid form payload")
	}
	mode := form.ModeCreate
	if req.Mode != "" {
		mode = form.Mode(req.Mode)
	}

	now := s.now()
	sess := &formSession{
		id:       s.newID(),
		form:     form.New(mode, nil),
		created:  now,
		touched:  now,
		inflight: make(map[form.Target]inflightRefresh),
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	count := len(s.sessions)
	s.mu.Unlock()
	s.metrics.SetActiveSessions(count)
	s.logger.Info("form session opened", zap.String("form_id", sess.id), zap.String("mode", string(mode)))

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if req.TeacherID != 0 {
		s.dispatch(sess, sess.form.SetTeacher(req.TeacherID))
	}
	return s.view(sess), nil
}

// Get returns the current state of a session.
func (s *FormService) Get(ctx context.Context, id string) (*dto.FormResponse, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.view(sess), nil
}

// Delete closes a session and cancels its refreshes.
func (s *FormService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	count := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return appErrors.ErrSessionNotFound
	}
	s.metrics.SetActiveSessions(count)

	sess.mu.Lock()
	cancelAll(sess)
	sess.mu.Unlock()
	s.logger.Info("form session closed", zap.String("form_id", id))
	return nil
}

// SetTeacher selects (or with 0 clears) the teacher.
func (s *FormService) SetTeacher(ctx context.Context, id string, teacherID int64) (*dto.FormResponse, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	refreshes := sess.form.SetTeacher(teacherID)
	if teacherID == 0 {
		cancelAll(sess)
	}
	s.dispatch(sess, refreshes)
	return s.view(sess), nil
}

// SetSubject selects (or with 0 clears) the subject.
func (s *FormService) SetSubject(ctx context.Context, id string, subjectID int64) (*dto.FormResponse, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	refreshes, ok := sess.form.SetSubject(subjectID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("subject %d is not available for the current selection", subjectID))
	}
	s.dispatch(sess, refreshes)
	return s.view(sess), nil
}

// SetClassroom selects (or with 0 clears) the classroom; the section follows from it.
func (s *FormService) SetClassroom(ctx context.Context, id string, classroomID int64) (*dto.FormResponse, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if !sess.form.SetClassroom(classroomID) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("classroom %d is not available for the current selection", classroomID))
	}
	return s.view(sess), nil
}

// Selection resolves the current selection, including the derived section.
func (s *FormService) Selection(ctx context.Context, id string) (*dto.SelectionResponse, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	resp := &dto.SelectionResponse{Selection: sess.form.Selection(), State: sess.form.State()}
	if section, ok := sess.form.Section(); ok {
		resp.Section = &section
	}
	return resp, nil
}

// AddRow appends an empty assignment row.
func (s *FormService) AddRow(ctx context.Context, id string) (*models.AssignmentRow, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	row := sess.form.Rows().Add()
	return &row, nil
}

// UpdateRow replaces one field of a row.
func (s *FormService) UpdateRow(ctx context.Context, id, rowID string, req dto.UpdateRowRequest) (*models.AssignmentRow, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid row update")
	}
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	row, err := sess.form.Rows().Update(rowID, form.RowField(req.Field), req.Value)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// RemoveRow deletes a row.
func (s *FormService) RemoveRow(ctx context.Context, id, rowID string) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.form.Rows().Remove(rowID)
}

// Assignments builds the submission payload without sending it.
func (s *FormService) Assignments(ctx context.Context, id string) (int64, form.BuildResult, error) {
	sess, err := s.session(id)
	if err != nil {
		return 0, form.BuildResult{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	result := sess.form.Rows().BuildReport()
	s.logBuild(id, result)
	return sess.form.Selection().TeacherID, result, nil
}

// Submit builds the payload and saves it as the teacher's assignments.
func (s *FormService) Submit(ctx context.Context, id string) (*dto.SubmitResponse, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	teacherID := sess.form.Selection().TeacherID
	result := sess.form.Rows().BuildReport()
	sess.mu.Unlock()

	if teacherID == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "select a teacher before submitting")
	}
	for i := range result.Assignments {
		if err := s.validator.Struct(result.Assignments[i]); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment")
		}
	}
	s.logBuild(id, result)

	if err := s.writer.SaveAssignments(ctx, teacherID, result.Assignments); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "failed to save assignments")
	}
	s.resolver.Forget(ctx, teacherID)
	s.logger.Info("assignments submitted",
		zap.String("form_id", id),
		zap.Int64("teacher_id", teacherID),
		zap.Int("assignments", len(result.Assignments)),
	)

	return &dto.SubmitResponse{
		TeacherID:   teacherID,
		Assignments: result.Assignments,
		Dropped:     result.Dropped,
		Clamped:     result.Clamped,
	}, nil
}

// HandleRefresh is the queue handler for JobTypeRefresh jobs. A refresh that
// was superseded before or while it ran is dropped without touching the form.
func (s *FormService) HandleRefresh(ctx context.Context, job jobs.Job) error {
	task, ok := job.Payload.(RefreshTask)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", job.Payload, job.Type)
	}
	r := task.Refresh

	s.mu.RLock()
	sess, ok := s.sessions[task.SessionID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	sess.mu.Lock()
	running, current := sess.inflight[r.Target]
	sess.mu.Unlock()
	if !current || running.generation != r.Generation {
		s.discard(task.SessionID, r)
		return nil
	}

	fetchCtx, stop := mergeCancel(running.ctx, ctx)
	defer stop()

	res, err := s.fetch(fetchCtx, r)
	if err != nil {
		if fetchCtx.Err() != nil {
			s.discard(task.SessionID, r)
			return nil
		}
		if r.Target == form.TargetPersisted && job.Attempt < s.cfg.PersistedRetries {
			s.metrics.RecordRefreshJob(string(r.Target), "retry")
			return err
		}
		sess.mu.Lock()
		if sess.form.Abandon(r) {
			delete(sess.inflight, r.Target)
		}
		sess.mu.Unlock()
		s.metrics.RecordRefreshJob(string(r.Target), outcomeFailed)
		s.logger.Warn("refresh abandoned",
			zap.String("form_id", task.SessionID),
			zap.String("target", string(r.Target)),
			zap.Int("attempt", job.Attempt),
			zap.Error(err),
		)
		return nil
	}

	sess.mu.Lock()
	applied := sess.form.Apply(r, res)
	if applied {
		if latest, ok := sess.inflight[r.Target]; ok && latest.generation == r.Generation {
			latest.cancel()
			delete(sess.inflight, r.Target)
		}
	}
	sess.mu.Unlock()

	if !applied {
		s.discard(task.SessionID, r)
		return nil
	}
	s.metrics.RecordRefreshJob(string(r.Target), outcomeOK)
	return nil
}

// Sweep closes sessions idle for longer than the session TTL.
func (s *FormService) Sweep(now time.Time) int {
	var expired []*formSession
	s.mu.Lock()
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := now.Sub(sess.touched) >= s.cfg.SessionTTL
		sess.mu.Unlock()
		if idle {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	count := len(s.sessions)
	s.mu.Unlock()

	for _, sess := range expired {
		sess.mu.Lock()
		cancelAll(sess)
		sess.mu.Unlock()
		s.logger.Debug("form session expired", zap.String("form_id", sess.id))
	}
	if len(expired) > 0 {
		s.metrics.SetActiveSessions(count)
	}
	return len(expired)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *FormService) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				s.logger.Info("expired form sessions swept", zap.Int("count", n))
			}
		}
	}
}

// Close cancels every in-flight refresh.
func (s *FormService) Close() {
	s.stop()
}

// SessionIDs lists open sessions, sorted.
func (s *FormService) SessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *FormService) session(id string) (*formSession, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, appErrors.ErrSessionNotFound
	}
	sess.mu.Lock()
	sess.touched = s.now()
	sess.mu.Unlock()
	return sess, nil
}

// dispatch cancels superseded refreshes and enqueues the new ones. Callers hold sess.mu.
func (s *FormService) dispatch(sess *formSession, refreshes []form.Refresh) {
	for _, r := range refreshes {
		if previous, ok := sess.inflight[r.Target]; ok {
			previous.cancel()
		}
		ctx, cancel := context.WithCancel(s.baseCtx)
		sess.inflight[r.Target] = inflightRefresh{generation: r.Generation, ctx: ctx, cancel: cancel}

		job := jobs.Job{
			ID:        fmt.Sprintf("%s/%s/%d", sess.id, r.Target, r.Generation),
			Type:      JobTypeRefresh,
			Payload:   RefreshTask{SessionID: sess.id, Refresh: r},
			Retryable: r.Target == form.TargetPersisted,
		}
		if s.dispatcher == nil {
			s.abandonUndispatched(sess, r, errors.New("no dispatcher configured"))
			continue
		}
		if err := s.dispatcher.Enqueue(job); err != nil {
			s.abandonUndispatched(sess, r, err)
		}
	}
}

func (s *FormService) abandonUndispatched(sess *formSession, r form.Refresh, err error) {
	if running, ok := sess.inflight[r.Target]; ok && running.generation == r.Generation {
		running.cancel()
		delete(sess.inflight, r.Target)
	}
	sess.form.Abandon(r)
	s.metrics.RecordRefreshJob(string(r.Target), outcomeFailed)
	s.logger.Error("refresh not dispatched",
		zap.String("form_id", sess.id),
		zap.String("target", string(r.Target)),
		zap.Error(err),
	)
}

func (s *FormService) fetch(ctx context.Context, r form.Refresh) (form.Result, error) {
	switch r.Target {
	case form.TargetSubjects:
		subjects, err := s.resolver.Subjects(ctx, r.Scope.TeacherID)
		return form.Result{Subjects: subjects}, err
	case form.TargetClassrooms:
		classrooms, err := s.resolver.Classrooms(ctx, r.Scope)
		return form.Result{Classrooms: classrooms}, err
	case form.TargetPersisted:
		persisted, err := s.resolver.PersistedAssignments(ctx, r.Scope.TeacherID)
		return form.Result{Persisted: persisted}, err
	}
	return form.Result{}, fmt.Errorf("unknown refresh target %q", r.Target)
}

func (s *FormService) discard(sessionID string, r form.Refresh) {
	s.metrics.RecordStaleResult(string(r.Target))
	s.logger.Debug("stale refresh discarded",
		zap.String("form_id", sessionID),
		zap.String("target", string(r.Target)),
		zap.Uint64("generation", r.Generation),
	)
}

func (s *FormService) logBuild(id string, result form.BuildResult) {
	if len(result.Dropped) == 0 && len(result.Clamped) == 0 {
		return
	}
	dropped := make([]string, 0, len(result.Dropped))
	for _, row := range result.Dropped {
		dropped = append(dropped, row.RowID)
	}
	s.logger.Info("incomplete or out-of-range rows adjusted",
		zap.String("form_id", id),
		zap.Strings("dropped_rows", dropped),
		zap.Strings("clamped_rows", result.Clamped),
	)
}

// view renders a session. Callers hold sess.mu.
func (s *FormService) view(sess *formSession) *dto.FormResponse {
	return &dto.FormResponse{
		ID:        sess.id,
		CreatedAt: sess.created,
		ExpiresAt: sess.touched.Add(s.cfg.SessionTTL),
		Snapshot:  sess.form.Snapshot(),
	}
}

func cancelAll(sess *formSession) {
	for target, running := range sess.inflight {
		running.cancel()
		delete(sess.inflight, target)
	}
}

// mergeCancel returns a context cancelled when either parent is done.
func mergeCancel(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

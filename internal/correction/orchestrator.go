package correction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/corrector/internal/i18n"
	"github.com/pavelanni/corrector/internal/model"
	"github.com/pavelanni/corrector/internal/store"
)

// Orchestrator runs AI correction batches on a fixed worker pool.
type Orchestrator struct {
	cfg      Config
	repo     Repository
	scorer   Scorer
	scores   ScoreStore
	recorder JobRecorder
	metrics  Metrics
	log      *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer

	queue   chan *task
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.RWMutex
	closed   bool
	batches  map[string]*batchState
	jobs     map[string]*batchState // job ID to owning batch
	inflight map[examKey]string     // queued or in-progress job per student exam
}

type examKey struct {
	studentID string
	examID    int64
}

type task struct {
	batch     *batchState
	job       *model.CorrectionJob
	exam      model.StudentExam
	modelName string
}

// batchState guards one batch. Jobs are written only by the worker that
// claimed them, always under mu.
type batchState struct {
	mu     sync.Mutex
	batch  model.CorrectionBatch
	jobs   []*model.CorrectionJob
	sealed bool // no more jobs will be added
	done   chan struct{}
}

func (b *batchState) snapshot() model.CorrectionBatch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *batchState) snapshotLocked() model.CorrectionBatch {
	out := b.batch
	out.Errors = append([]string(nil), b.batch.Errors...)
	out.RuntimeErrors = append([]string(nil), b.batch.RuntimeErrors...)
	out.Jobs = make([]model.CorrectionJob, len(b.jobs))
	for i, j := range b.jobs {
		out.Jobs[i] = *j
	}
	return out
}

// closeIfDoneLocked signals waiters once every queued job is terminal.
func (b *batchState) closeIfDoneLocked() {
	if !b.sealed || !b.batch.Done() {
		return
	}
	select {
	case <-b.done:
	default:
		close(b.done)
	}
}

// NewOrchestrator starts cfg.Workers workers reading from a queue of
// cfg.QueueCapacity jobs. recorder and metrics may be nil.
func NewOrchestrator(cfg Config, repo Repository, scorer Scorer, scores ScoreStore, recorder JobRecorder, metrics Metrics) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("correction config: %w", err)
	}
	if repo == nil || scorer == nil || scores == nil {
		return nil, errors.New("orchestrator needs a repository, a scorer and a score store")
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}

	validate, err := newValidator()
	if err != nil {
		return nil, fmt.Errorf("exam validator: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:      cfg,
		repo:     repo,
		scorer:   scorer,
		scores:   scores,
		recorder: recorder,
		metrics:  metrics,
		log:      cfg.logger(),
		validate: validate,
		tracer:   otel.Tracer(tracerName),
		queue:    make(chan *task, cfg.QueueCapacity),
		baseCtx:  ctx,
		cancel:   cancel,
		batches:  make(map[string]*batchState),
		jobs:     make(map[string]*batchState),
		inflight: make(map[examKey]string),
	}
	for i := 0; i < cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker(i)
	}
	o.log.Info("correction workers started", "workers", cfg.Workers, "queue_capacity", cfg.QueueCapacity)
	return o, nil
}

// TriggerCorrection queues AI correction of every student exam of classID
// that has open-ended questions, and returns without waiting for it.
// Exams that cannot be queued are reported in the response's Errors. Only
// an invalid request, an unknown class or a repository failure fail the call.
func (o *Orchestrator) TriggerCorrection(ctx context.Context, classID, modelName string) (model.TriggerResponse, error) {
	ctx, span := o.tracer.Start(ctx, "correction.TriggerCorrection")
	defer span.End()
	span.SetAttributes(attribute.String("class.id", classID), attribute.String("model", modelName))

	resp, err := o.trigger(ctx, classID, modelName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return model.TriggerResponse{}, err
	}
	span.SetAttributes(
		attribute.String("batch.id", resp.BatchID),
		attribute.Int("batch.queued", resp.QueuedMessages),
		attribute.Int("batch.rejected", len(resp.Errors)),
	)
	return resp, nil
}

func (o *Orchestrator) trigger(ctx context.Context, classID, modelName string) (model.TriggerResponse, error) {
	classID = strings.TrimSpace(classID)
	modelName = strings.TrimSpace(modelName)
	if classID == "" {
		return model.TriggerResponse{}, fmt.Errorf("%w: class id is required", ErrInvalidRequest)
	}
	if modelName == "" {
		return model.TriggerResponse{}, fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	if !o.cfg.KnownModel(modelName) {
		return model.TriggerResponse{}, fmt.Errorf("%w: unknown model %q", ErrInvalidRequest, modelName)
	}

	exams, err := o.repo.ListStudentExams(ctx, classID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, ErrClassNotFound) {
			return model.TriggerResponse{}, fmt.Errorf("class %q: %w", classID, ErrClassNotFound)
		}
		return model.TriggerResponse{}, fmt.Errorf("list student exams: %w", err)
	}

	now := time.Now().UTC()
	bs := &batchState{
		batch: model.CorrectionBatch{
			ID:                uuid.NewString(),
			ClassID:           classID,
			Model:             modelName,
			CreatedAt:         now,
			TotalStudentExams: len(exams),
		},
		done: make(chan struct{}),
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return model.TriggerResponse{}, fmt.Errorf("%w: orchestrator is shutting down", ErrEnqueueRejected)
	}
	o.batches[bs.batch.ID] = bs
	for _, se := range exams {
		open := se.OpenQuestions()
		if open == 0 {
			continue
		}
		bs.mu.Lock()
		bs.batch.TotalOpenQuestions += open
		bs.mu.Unlock()

		if reason, err := o.enqueueLocked(bs, se, open, now); err != nil {
			o.metrics.JobRejected(reason)
			msg := fmt.Sprintf("student %s exam %d: %v", se.StudentID, se.ExamID, err)
			bs.mu.Lock()
			bs.batch.Errors = append(bs.batch.Errors, msg)
			bs.mu.Unlock()
			o.log.Warn("correction job rejected", "batch", bs.batch.ID, "student", se.StudentID, "exam", se.ExamID, "reason", reason, "error", err)
		}
	}
	bs.mu.Lock()
	bs.sealed = true
	bs.closeIfDoneLocked()
	snap := bs.snapshotLocked()
	bs.mu.Unlock()
	o.mu.Unlock()
	o.metrics.QueueDepth(len(o.queue))

	if err := o.recorder.SaveBatch(ctx, snap); err != nil {
		o.log.Error("failed to record correction batch", "batch", snap.ID, "error", err)
	}

	estimate := time.Duration(snap.TotalOpenQuestions) * o.cfg.Rate(modelName)
	o.log.Info("correction triggered",
		"batch", snap.ID, "class", classID, "model", modelName,
		"exams", snap.TotalStudentExams, "open_questions", snap.TotalOpenQuestions,
		"queued", snap.QueuedMessages, "rejected", len(snap.Errors), "estimate", estimate)

	return model.TriggerResponse{
		BatchID:            snap.ID,
		Message:            i18n.TriggerMessage(ctx, snap.QueuedMessages, snap.TotalStudentExams),
		EstimatedTime:      i18n.Estimate(ctx, estimate),
		TotalStudentExams:  snap.TotalStudentExams,
		TotalOpenQuestions: snap.TotalOpenQuestions,
		QueuedMessages:     snap.QueuedMessages,
		Errors:             snap.Errors,
	}, nil
}

// enqueueLocked queues one exam of bs. It must be called with o.mu held.
// On rejection it returns a short reason for metrics and the error.
func (o *Orchestrator) enqueueLocked(bs *batchState, se model.StudentExam, open int, now time.Time) (string, error) {
	if err := o.validate.Struct(se); err != nil {
		return "invalid", fmt.Errorf("%w: %s", ErrEnqueueRejected, describeValidation(err))
	}
	key := examKey{se.StudentID, se.ExamID}
	if jobID, ok := o.inflight[key]; ok {
		return "duplicate", fmt.Errorf("%w: job %s is already queued or in progress", ErrEnqueueRejected, jobID)
	}

	job := &model.CorrectionJob{
		ID:            uuid.NewString(),
		BatchID:       bs.batch.ID,
		StudentID:     se.StudentID,
		ExamID:        se.ExamID,
		OpenQuestions: open,
		State:         model.JobQueued,
		UpdatedAt:     now,
	}
	select {
	case o.queue <- &task{batch: bs, job: job, exam: se, modelName: bs.batch.Model}:
	default:
		return "queue_full", fmt.Errorf("%w: queue is full", ErrEnqueueRejected)
	}

	o.inflight[key] = job.ID
	o.jobs[job.ID] = bs
	bs.mu.Lock()
	bs.jobs = append(bs.jobs, job)
	bs.batch.QueuedMessages++
	bs.mu.Unlock()
	o.metrics.JobQueued()
	return "", nil
}

func (o *Orchestrator) worker(id int) {
	defer o.wg.Done()
	log := o.log.With("worker", id)
	for t := range o.queue {
		o.metrics.QueueDepth(len(o.queue))
		o.process(log, t)
	}
	log.Debug("correction worker stopped")
}

func (o *Orchestrator) process(log *slog.Logger, t *task) {
	start := time.Now()
	ctx, span := o.tracer.Start(o.baseCtx, "correction.job", trace.WithAttributes(
		attribute.String("batch.id", t.job.BatchID),
		attribute.String("job.id", t.job.ID),
		attribute.String("student.id", t.job.StudentID),
		attribute.Int64("exam.id", t.job.ExamID),
	))
	defer span.End()

	if !o.transition(t, model.JobInProgress, 0, nil) {
		return
	}

	attempts, err := o.scoreJob(ctx, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("correction job failed", "batch", t.job.BatchID, "job", t.job.ID,
			"student", t.job.StudentID, "exam", t.job.ExamID, "error", err)
		o.transition(t, model.JobFailed, attempts, err)
		o.metrics.JobFinished(model.JobFailed, time.Since(start))
		return
	}
	log.Info("correction job completed", "batch", t.job.BatchID, "job", t.job.ID,
		"student", t.job.StudentID, "exam", t.job.ExamID, "attempts", attempts)
	o.transition(t, model.JobCompleted, attempts, nil)
	o.metrics.JobFinished(model.JobCompleted, time.Since(start))
}

// scoreJob scores every unresolved open-ended item of the job's exam and
// saves the scores. It returns the number of model calls made.
func (o *Orchestrator) scoreJob(ctx context.Context, t *task) (int, error) {
	se := t.exam
	existing, err := o.scores.Scores(ctx, se.StudentID, se.ExamID)
	if err != nil {
		o.log.Warn("could not load existing scores, rescoring all", "job", t.job.ID, "error", err)
		existing = nil
	}

	var items []model.ExamItem
	for _, it := range se.Items {
		if !it.Question.OpenEnded() {
			continue
		}
		if _, ok := existing[it.Question.ID]; ok {
			continue
		}
		items = append(items, it)
	}
	if len(items) == 0 {
		return 0, nil
	}

	var attempts atomic.Int64
	results := make([]model.QuestionScore, len(items))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.cfg.QuestionConcurrency)
	for i, it := range items {
		i, it := i, it
		eg.Go(func() error {
			res, n, err := scoreItem(egCtx, o.cfg, o.scorer, o.metrics, t.modelName, it)
			attempts.Add(int64(n))
			if err != nil {
				return fmt.Errorf("question %d: %w", it.Question.ID, err)
			}
			results[i] = model.QuestionScore{
				StudentID:  se.StudentID,
				QuestionID: it.Question.ID,
				Score:      res.Score,
				Feedback:   res.Feedback,
				Source:     model.SourceBatch,
				Model:      t.modelName,
				ScoredAt:   time.Now().UTC(),
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return int(attempts.Load()), err
	}
	if err := o.scores.SaveScores(ctx, results); err != nil {
		return int(attempts.Load()), fmt.Errorf("save scores: %w", err)
	}
	return int(attempts.Load()), nil
}

// transition moves the task's job to state and records it. It reports
// whether the job changed.
func (o *Orchestrator) transition(t *task, state model.JobState, attempts int, cause error) bool {
	if state.Terminal() {
		o.mu.Lock()
		key := examKey{t.job.StudentID, t.job.ExamID}
		if o.inflight[key] == t.job.ID {
			delete(o.inflight, key)
		}
		o.mu.Unlock()
	}

	bs := t.batch
	bs.mu.Lock()
	if !advance(t.job, state, time.Now().UTC()) {
		bs.mu.Unlock()
		return false
	}
	t.job.Attempts += attempts
	switch state {
	case model.JobCompleted:
		bs.batch.Completed++
	case model.JobFailed:
		bs.batch.Failed++
		t.job.Error = cause.Error()
		bs.batch.RuntimeErrors = append(bs.batch.RuntimeErrors,
			fmt.Sprintf("student %s exam %d: %v", t.job.StudentID, t.job.ExamID, cause))
	}
	snap := *t.job
	bs.closeIfDoneLocked()
	bs.mu.Unlock()

	if err := o.recorder.UpdateJob(o.baseCtx, snap); err != nil {
		o.log.Error("failed to record job transition", "job", snap.ID, "state", snap.State, "error", err)
	}
	return true
}

// advance applies a state change if it is allowed. Re-applying the current
// state is a no-op, and nothing leaves a terminal state.
func advance(job *model.CorrectionJob, to model.JobState, now time.Time) bool {
	ok := false
	switch job.State {
	case model.JobQueued:
		ok = to == model.JobInProgress
	case model.JobInProgress:
		ok = to == model.JobCompleted || to == model.JobFailed
	}
	if !ok {
		return false
	}
	job.State = to
	job.UpdatedAt = now
	return true
}

// Batch returns a snapshot of a batch.
func (o *Orchestrator) Batch(id string) (model.CorrectionBatch, bool) {
	o.mu.RLock()
	bs, ok := o.batches[id]
	o.mu.RUnlock()
	if !ok {
		return model.CorrectionBatch{}, false
	}
	return bs.snapshot(), true
}

// Job returns a snapshot of a job.
func (o *Orchestrator) Job(id string) (model.CorrectionJob, bool) {
	o.mu.RLock()
	bs, ok := o.jobs[id]
	o.mu.RUnlock()
	if !ok {
		return model.CorrectionJob{}, false
	}
	bs.mu.Lock()
	defer bs.mu.Unlock()
	for _, j := range bs.jobs {
		if j.ID == id {
			return *j, true
		}
	}
	return model.CorrectionJob{}, false
}

// WaitBatch blocks until every job of the batch is terminal or ctx ends.
func (o *Orchestrator) WaitBatch(ctx context.Context, id string) (model.CorrectionBatch, error) {
	o.mu.RLock()
	bs, ok := o.batches[id]
	o.mu.RUnlock()
	if !ok {
		return model.CorrectionBatch{}, fmt.Errorf("batch %s: %w", id, ErrBatchNotFound)
	}
	select {
	case <-bs.done:
		return bs.snapshot(), nil
	case <-ctx.Done():
		return bs.snapshot(), ctx.Err()
	}
}

// Shutdown stops accepting work and waits for queued jobs to finish. When
// ctx expires first, in-flight model calls are cancelled.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	close(o.queue)
	o.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		o.cancel()
		o.log.Info("correction workers drained")
		return nil
	case <-ctx.Done():
		o.cancel()
		<-drained
		o.log.Warn("correction shutdown deadline reached, in-flight jobs cancelled")
		return ctx.Err()
	}
}

package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/events"
	"github.com/baluhost/baluhost/pkg/log"
	"github.com/baluhost/baluhost/pkg/metrics"
	"github.com/baluhost/baluhost/pkg/store"
	"github.com/baluhost/baluhost/pkg/types"
)

// evaluationTick is the cadence of the fire-check loop.
const evaluationTick = time.Second

// keepExecutions bounds the per-job history; older rows are pruned after
// each run.
const keepExecutions = 100

// Consecutive-failure counts at which a failing notice goes to the bus.
var failingThresholds = []int{3, 10}

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

type job struct {
	name    string
	trigger Trigger
	fn      JobFunc
	retry   types.RetryPolicy

	enabled             bool
	nextFire            time.Time
	running             bool
	consecutiveFailures int

	currentExecID  string
	currentStarted time.Time
}

// Scheduler owns the job registry and the evaluation loop.
type Scheduler struct {
	store  store.Store
	broker *events.Broker
	logger zerolog.Logger
	grace  time.Duration

	mu   sync.Mutex
	jobs map[string]*job

	runCtx   context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	jobWg    sync.WaitGroup
}

// New builds a scheduler. grace bounds how long Stop waits for running
// jobs before marking them cancelled.
func New(st store.Store, broker *events.Broker, grace time.Duration) *Scheduler {
	return &Scheduler{
		store:  st,
		broker: broker,
		logger: log.WithComponent("scheduler"),
		grace:  grace,
		jobs:   make(map[string]*job),
		runCtx: context.Background(),
	}
}

// Register adds a named job. Enabled state and the failure streak survive
// restarts through the store; the trigger spec in the registry wins over
// a stale persisted one.
func (s *Scheduler) Register(ctx context.Context, name, spec string, retry types.RetryPolicy, fn JobFunc) error {
	const op = "scheduler.Register"

	trigger, err := ParseTrigger(spec)
	if err != nil {
		return err
	}
	if fn == nil {
		return errdefs.Errorf(errdefs.KindInvalidArg, "%s: job %s has no body", op, name)
	}

	j := &job{
		name:    name,
		trigger: trigger,
		fn:      fn,
		retry:   retry,
		enabled: true,
	}
	if existing, err := s.store.GetScheduledJob(ctx, name); err == nil {
		j.enabled = existing.Enabled
		j.consecutiveFailures = existing.ConsecutiveFailures
	} else if !errdefs.IsKind(err, errdefs.KindNotFound) {
		return err
	}

	record := &types.ScheduledJob{
		Name:                name,
		TriggerSpec:         spec,
		Enabled:             j.enabled,
		ConsecutiveFailures: j.consecutiveFailures,
	}
	if err := s.store.UpsertScheduledJob(ctx, record); err != nil {
		return err
	}

	j.nextFire = trigger.Next(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return errdefs.Errorf(errdefs.KindPreconditionFailed, "%s: job %s already registered", op, name)
	}
	s.jobs[name] = j
	return nil
}

// Start launches the evaluation loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.loopDone = make(chan struct{})
	runCtx, loopDone := s.runCtx, s.loopDone
	s.mu.Unlock()

	go func() {
		defer close(loopDone)
		ticker := time.NewTicker(evaluationTick)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case now := <-ticker.C:
				s.evaluate(runCtx, now)
			}
		}
	}()
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
}

// Stop cancels everything, waits for running jobs up to the grace period,
// and marks whatever is still running as cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, loopDone := s.cancel, s.loopDone
	s.cancel, s.loopDone = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-loopDone

	done := make(chan struct{})
	go func() {
		s.jobWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.grace):
		s.cancelLingering()
		<-done
	}
	s.logger.Info().Msg("scheduler stopped")
}

// cancelLingering force-finishes executions that outlived the grace
// period so history never shows an eternally running row.
func (s *Scheduler) cancelLingering() {
	now := time.Now()
	pctx, pcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pcancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if !j.running || j.currentExecID == "" {
			continue
		}
		err := s.store.FinishExecution(pctx, j.currentExecID, now,
			types.ExecutionCancelled, now.Sub(j.currentStarted).Milliseconds(), "shutdown")
		if err != nil {
			s.logger.Error().Err(err).Str("job", j.name).Msg("failed to mark execution cancelled")
		}
		j.currentExecID = ""
	}
}

// evaluate fires every due job once. A tick arriving late fires at most
// one catch-up run per job: the next fire time is recomputed from now,
// not from the missed schedule.
func (s *Scheduler) evaluate(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if !j.enabled || j.running || now.Before(j.nextFire) {
			continue
		}
		j.running = true
		j.nextFire = j.trigger.Next(now)
		due = append(due, j)
	}
	s.mu.Unlock()

	for _, j := range due {
		s.jobWg.Add(1)
		go s.execute(ctx, j, types.TriggeredBySchedule)
	}
}

// RunNow fires a job immediately. A job already running is not fired
// twice.
func (s *Scheduler) RunNow(name string) error {
	const op = "scheduler.RunNow"

	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return errdefs.Errorf(errdefs.KindNotFound, "%s: no job %s", op, name)
	}
	if j.running {
		s.mu.Unlock()
		return errdefs.Errorf(errdefs.KindPreconditionFailed, "%s: job %s is running", op, name)
	}
	j.running = true
	ctx := s.runCtx
	s.mu.Unlock()

	s.jobWg.Add(1)
	go s.execute(ctx, j, types.TriggeredByManual)
	return nil
}

// SetEnabled toggles future fires. An in-flight run is unaffected.
// Re-enabling re-anchors the next fire so the disabled stretch is not
// replayed.
func (s *Scheduler) SetEnabled(ctx context.Context, name string, enabled bool) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return errdefs.Errorf(errdefs.KindNotFound, "scheduler.SetEnabled: no job %s", name)
	}
	j.enabled = enabled
	if enabled {
		j.nextFire = j.trigger.Next(time.Now())
	}
	s.mu.Unlock()

	return s.store.SetJobEnabled(ctx, name, enabled)
}

// History returns a job's most recent executions, newest first.
func (s *Scheduler) History(ctx context.Context, name string, limit int) ([]*types.JobExecution, error) {
	s.mu.Lock()
	_, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, errdefs.Errorf(errdefs.KindNotFound, "scheduler.History: no job %s", name)
	}
	return s.store.ListExecutions(ctx, name, limit)
}

// Jobs returns the persisted registry state.
func (s *Scheduler) Jobs(ctx context.Context) ([]*types.ScheduledJob, error) {
	return s.store.ListScheduledJobs(ctx)
}

// Job returns one registry entry.
func (s *Scheduler) Job(ctx context.Context, name string) (*types.ScheduledJob, error) {
	return s.store.GetScheduledJob(ctx, name)
}

// execute runs one firing through the retry policy and releases the
// running flag at the end.
func (s *Scheduler) execute(ctx context.Context, j *job, trig types.TriggerSource) {
	defer s.jobWg.Done()
	defer func() {
		s.mu.Lock()
		j.running = false
		j.currentExecID = ""
		s.mu.Unlock()
	}()

	attempts := j.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		source := trig
		if attempt > 1 {
			source = types.TriggeredByRetry
		}

		status, err := s.runOnce(ctx, j, source)
		switch status {
		case types.ExecutionSuccess:
			s.onSuccess(j)
			return
		case types.ExecutionCancelled:
			return
		}

		lastErr = err
		if attempt < attempts && !sleepCtx(ctx, backoffFor(j.retry, attempt)) {
			return
		}
	}
	s.onExhausted(j, lastErr)
}

// runOnce performs a single attempt with its own history row.
func (s *Scheduler) runOnce(ctx context.Context, j *job, source types.TriggerSource) (types.ExecutionStatus, error) {
	started := time.Now()
	exec := &types.JobExecution{
		ID:          uuid.NewString(),
		JobName:     j.name,
		StartedAt:   started,
		Status:      types.ExecutionRunning,
		TriggeredBy: source,
	}
	if err := s.store.InsertExecution(ctx, exec); err != nil {
		s.logger.Error().Err(err).Str("job", j.name).Msg("failed to record execution")
	}
	s.mu.Lock()
	j.currentExecID = exec.ID
	j.currentStarted = started
	s.mu.Unlock()

	s.publish(events.EventJobStarted, map[string]string{"job": j.name, "triggeredBy": string(source)})
	s.logger.Debug().Str("job", j.name).Str("triggeredBy", string(source)).Msg("job started")

	err := j.fn(ctx)

	finished := time.Now()
	status := types.ExecutionSuccess
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		if ctx.Err() != nil {
			status = types.ExecutionCancelled
		} else {
			status = types.ExecutionFailure
		}
	}

	// Persist with a fresh context: the run context is cancelled during
	// shutdown exactly when this record matters most.
	pctx, pcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pcancel()
	if ferr := s.store.FinishExecution(pctx, exec.ID, finished, status,
		finished.Sub(started).Milliseconds(), errMsg); ferr != nil {
		s.logger.Error().Err(ferr).Str("job", j.name).Msg("failed to finish execution record")
	}

	metrics.JobRuns.WithLabelValues(j.name, string(status)).Inc()
	metrics.JobDuration.WithLabelValues(j.name).Observe(finished.Sub(started).Seconds())

	if status == types.ExecutionFailure {
		s.logger.Warn().Err(err).Str("job", j.name).Msg("job failed")
	}
	return status, err
}

func (s *Scheduler) onSuccess(j *job) {
	s.mu.Lock()
	j.consecutiveFailures = 0
	s.mu.Unlock()

	pctx, pcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pcancel()
	if err := s.store.UpdateJobRunState(pctx, j.name, time.Now(), types.ExecutionSuccess, "", 0); err != nil {
		s.logger.Error().Err(err).Str("job", j.name).Msg("failed to update job state")
	}
	s.prune(pctx, j.name)
	s.publish(events.EventJobSucceeded, map[string]string{"job": j.name})
}

func (s *Scheduler) onExhausted(j *job, lastErr error) {
	s.mu.Lock()
	j.consecutiveFailures++
	count := j.consecutiveFailures
	s.mu.Unlock()

	errMsg := ""
	if lastErr != nil {
		errMsg = lastErr.Error()
	}

	pctx, pcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pcancel()
	if err := s.store.UpdateJobRunState(pctx, j.name, time.Now(), types.ExecutionFailure, errMsg, count); err != nil {
		s.logger.Error().Err(err).Str("job", j.name).Msg("failed to update job state")
	}
	s.prune(pctx, j.name)

	s.publish(events.EventJobFailed, map[string]string{"job": j.name, "error": errMsg})
	for _, threshold := range failingThresholds {
		if count == threshold {
			s.publish(events.EventJobFailing, map[string]string{
				"job":   j.name,
				"count": strconv.Itoa(count),
			})
		}
	}
}

func (s *Scheduler) prune(ctx context.Context, name string) {
	if _, err := s.store.PruneExecutions(ctx, name, keepExecutions); err != nil {
		s.logger.Error().Err(err).Str("job", name).Msg("failed to prune execution history")
	}
}

func (s *Scheduler) publish(evType events.EventType, data map[string]string) {
	if s.broker != nil {
		s.broker.Publish(events.TopicSchedulerJob, evType, data)
	}
}

// backoffFor is base * 2^(attempt-1), capped.
func backoffFor(p types.RetryPolicy, attempt int) time.Duration {
	if p.BackoffSeconds <= 0 {
		return 0
	}
	secs := p.BackoffSeconds << (attempt - 1)
	if p.MaxBackoffSeconds > 0 && secs > p.MaxBackoffSeconds {
		secs = p.MaxBackoffSeconds
	}
	return time.Duration(secs) * time.Second
}

// sleepCtx sleeps unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

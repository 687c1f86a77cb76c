// Package scheduler owns the polling loop that turns due tasks into sent
// (or errored) emails and reschedules recurring ones.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"mailcron/internal/recurrence"
	"mailcron/internal/store"
	"mailcron/internal/task"
	"mailcron/pkg/backoff"
)

// Dispatcher sends a task's email. Transport failures come back as plain
// errors; the scheduler records them on the task and never re-throws them.
type Dispatcher interface {
	Send(ctx context.Context, t *task.Task) error
}

// Notifier reports a dispatch outcome to an external sink. May be nil.
type Notifier interface {
	NotifyResult(ctx context.Context, t *task.Task, sendErr error) error
}

// Config tunes the polling loop.
type Config struct {
	Interval    time.Duration // tick cadence, default 60s
	Grace       time.Duration // forward dueness window, default 5s
	SendTimeout time.Duration // per-dispatch bound, default 30s
	BackoffBase time.Duration // first retry delay for errored tasks, default 1m
	BackoffMax  time.Duration // retry delay ceiling, default 15m
}

func (c *Config) fillDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Grace <= 0 {
		c.Grace = 5 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Minute
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 15 * time.Minute
	}
}

// Scheduler drives the per-task state machine on a fixed interval.
type Scheduler struct {
	cfg        Config
	store      store.Store
	dispatcher Dispatcher
	notifier   Notifier
	log        zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	job     cron.Job
	running bool

	lmu   sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a scheduler. notifier may be nil.
func New(st store.Store, d Dispatcher, n Notifier, cfg Config, log zerolog.Logger) *Scheduler {
	cfg.fillDefaults()
	return &Scheduler{
		cfg:        cfg,
		store:      st,
		dispatcher: d,
		notifier:   n,
		log:        log,
		now:        time.Now,
		locks:      make(map[string]*sync.Mutex),
	}
}

// Start begins the interval timer and fires one immediate tick. It is
// idempotent. The SkipIfStillRunning chain is the single-flight guard: a
// tick that overruns the interval suppresses the next one instead of
// overlapping it.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	chain := cron.NewChain(cron.SkipIfStillRunning(cronLogger{s.log}))
	s.job = chain.Then(cron.FuncJob(s.Tick))
	s.cron = cron.New()
	s.cron.Schedule(cron.Every(s.cfg.Interval), s.job)
	s.cron.Start()
	s.running = true

	go s.job.Run()

	s.log.Info().Dur("interval", s.cfg.Interval).Msg("scheduler started")
}

// Stop cancels the timer. An in-flight tick (and its dispatches) completes
// and persists its outcome after Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cron.Stop()
	s.cron = nil
	s.running = false
	s.log.Info().Msg("scheduler stopped")
}

// Tick scans the store once and dispatches every due task. One task's
// failure never aborts the rest of the pass.
func (s *Scheduler) Tick() {
	ctx := context.Background()
	now := s.now().UTC()

	var dispatched, failed int
	for _, t := range s.store.List(ctx) {
		if !s.due(t, now) {
			continue
		}

		lock := s.lockFor(t.ID)
		if !lock.TryLock() {
			// A manual send for this task is in flight.
			continue
		}
		// The listing snapshot is stale by now; a manual send may have
		// completed while earlier tasks in this pass were dispatching.
		// Re-read under the lock and re-check before dispatching.
		fresh, err := s.store.Get(ctx, t.ID)
		if err != nil || !s.due(fresh, now) {
			lock.Unlock()
			continue
		}
		out, err := s.execute(ctx, fresh)
		lock.Unlock()

		if err != nil {
			s.log.Error().Err(err).Str("task", t.ID).Msg("failed to persist task transition")
			continue
		}
		if out.sendErr != nil {
			failed++
			s.log.Warn().Err(out.sendErr).Str("task", t.ID).Str("name", t.Name).Msg("dispatch failed")
		} else {
			dispatched++
		}
	}

	if dispatched > 0 || failed > 0 {
		s.log.Info().Int("sent", dispatched).Int("failed", failed).Msg("tick complete")
	}
}

// RunNow executes the manual send path for one task, serialized against the
// tick via the per-task lock and run regardless of dueness. The dispatch
// error is returned so the caller can surface it; the task record already
// reflects it.
func (s *Scheduler) RunNow(ctx context.Context, id string) (*task.Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	lock := s.lockFor(t.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; a racing tick may have advanced the record.
	t, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	out, err := s.execute(ctx, t)
	if err != nil {
		return nil, err
	}
	return out.task, out.sendErr
}

// due applies the dispatch eligibility rules from one instant.
func (s *Scheduler) due(t *task.Task, now time.Time) bool {
	if t.Terminal() {
		return false
	}
	if t.SMTP == nil {
		return false
	}
	at, ok := t.DueAt()
	if !ok {
		return false
	}
	if at.After(now.Add(s.cfg.Grace)) {
		return false
	}
	if t.Status == task.StatusError && t.LastAttemptAt != nil {
		wait := backoff.ExponentialJitter(s.cfg.BackoffBase, s.cfg.BackoffMax, t.Attempts)
		if now.Before(t.LastAttemptAt.Add(wait)) {
			return false
		}
	}
	return true
}

// outcome is the result of one state transition: the persisted task and the
// dispatch error recorded on it, if any.
type outcome struct {
	task    *task.Task
	sendErr error
}

// execute runs the state transition for one task: dispatch, compute the next
// state, persist. The returned error is a persistence failure only; dispatch
// failures live in the outcome. Callers hold the task's lock.
func (s *Scheduler) execute(ctx context.Context, t *task.Task) (outcome, error) {
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	sendErr := s.dispatcher.Send(sendCtx, t)
	cancel()

	now := s.now().UTC()
	var p store.Patch

	if sendErr != nil {
		status := task.StatusError
		msg := sendErr.Error()
		attempts := t.Attempts + 1
		// NextRunAt is deliberately untouched: the task stays due and is
		// retried until it succeeds or is deleted.
		p = store.Patch{
			Status:        &status,
			LastError:     &msg,
			Attempts:      &attempts,
			LastAttemptAt: &now,
		}
	} else {
		attempts := 0
		p = store.Patch{
			LastSentAt:     &now,
			ClearLastError: true,
			Attempts:       &attempts,
		}
		if t.IsRecurring && t.RecurrenceValue != nil && t.RecurrenceUnit != nil {
			status := task.StatusScheduled
			p.Status = &status
			if next, err := s.nextRun(t, now); err != nil {
				s.log.Warn().Err(err).Str("task", t.ID).Msg("recurrence rule unusable, task will not reschedule")
				p.ClearNextRun = true
			} else {
				p.NextRunAt = &next
			}
		} else {
			status := task.StatusSent
			p.Status = &status
			p.ClearNextRun = true
		}
	}

	updated, err := s.store.Update(ctx, t.ID, p)
	if err != nil {
		return outcome{}, err
	}
	s.notify(updated, sendErr)
	return outcome{task: updated, sendErr: sendErr}, nil
}

// nextRun advances the task's cadence anchor until strictly after now. The
// anchor is the prior NextRunAt (falling back to SendTime), which preserves
// the original cadence across manual sends and downtime instead of
// re-basing on the dispatch instant.
func (s *Scheduler) nextRun(t *task.Task, now time.Time) (time.Time, error) {
	anchor, _ := t.DueAt()
	next, err := recurrence.Next(anchor, *t.RecurrenceValue, *t.RecurrenceUnit)
	if err != nil {
		return time.Time{}, err
	}
	for !next.After(now) {
		next, err = recurrence.Next(next, *t.RecurrenceValue, *t.RecurrenceUnit)
		if err != nil {
			return time.Time{}, err
		}
	}
	return next, nil
}

func (s *Scheduler) notify(t *task.Task, sendErr error) {
	if s.notifier == nil || t == nil || t.WebhookURL == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.notifier.NotifyResult(ctx, t, sendErr); err != nil {
			s.log.Warn().Err(err).Str("task", t.ID).Msg("webhook notification failed")
		}
	}()
}

// lockFor returns the mutex guarding dispatches of one task id, creating it
// on first use. Entries are never evicted; the map grows with the number of
// distinct tasks ever dispatched, which is bounded by the store size.
func (s *Scheduler) lockFor(id string) *sync.Mutex {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

// cronLogger adapts zerolog to the cron.Logger interface so skipped
// overlapping ticks surface in our logs.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(fieldMap(keysAndValues)).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(fieldMap(keysAndValues)).Msg(msg)
}

func fieldMap(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}

// Package jobs runs long ingests outside the request that started them.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"po-ledger/internal/core"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

func (s Status) Finished() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Job is the externally visible state of one unit of work. It carries
// identifiers only; the payload lives behind Blob.
type Job struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	FileID    int64     `json:"file_id,omitempty"`
	Blob      string    `json:"-"`
	Status    Status    `json:"status"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	Result    any       `json:"result,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Task describes work to submit. Run may be called more than once; Finally
// is called exactly once with the terminal job.
type Task struct {
	Kind    string
	FileID  int64
	Blob    string
	Run     func(ctx context.Context, job Job) (any, error)
	Finally func(ctx context.Context, job Job)
}

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("job runner is shut down")

// Retention is how long a finished job stays visible to Get.
type Options struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Timeout     time.Duration
	Retention   time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 2 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Minute
	}
	if o.Retention <= 0 {
		o.Retention = time.Hour
	}
	return o
}

// Runner executes tasks on their own goroutines and keeps their status in memory.
type Runner struct {
	opts Options
	log  logrus.FieldLogger

	mu     sync.Mutex
	jobs   map[string]*Job
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewRunner(opts Options, log logrus.FieldLogger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		opts:   opts.withDefaults(),
		log:    log.WithField("module", "jobs"),
		jobs:   make(map[string]*Job),
		ctx:    ctx,
		cancel: cancel,
		sleep:  sleepCtx,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Backoff returns base × 2^(attempt−1), capped at ceiling.
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt <= 1 {
		return base
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if delay > ceiling || delay <= 0 {
		return ceiling
	}
	return delay
}

// Retryable reports whether another attempt could change the outcome.
// Bad input and rule violations fail the same way every time.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrInvariantViolation), errors.Is(err, core.ErrNotFound):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Submit registers the task and starts it. The returned Job is a copy.
func (r *Runner) Submit(t Task) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Job{}, ErrClosed
	}
	now := r.now()
	r.pruneLocked(now)
	job := &Job{
		ID:        uuid.NewString(),
		Kind:      t.Kind,
		FileID:    t.FileID,
		Blob:      t.Blob,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.jobs[job.ID] = job

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(job.ID, t)
	}()
	return *job, nil
}

// Get returns a copy of the job's current state. Jobs that finished more
// than Options.Retention ago are gone.
func (r *Runner) Get(id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(r.now())
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: job %s", core.ErrNotFound, id)
	}
	return *j, nil
}

func (r *Runner) pruneLocked(now time.Time) {
	cutoff := now.Add(-r.opts.Retention)
	for id, j := range r.jobs {
		if j.Status.Finished() && j.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
		}
	}
}

// Shutdown refuses new work, cancels running jobs and waits for them to
// finish, or for ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) run(id string, t Task) {
	log := r.log.WithFields(logrus.Fields{"job_id": id, "kind": t.Kind, "file_id": t.FileID})
	var (
		result any
		err    error
	)
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		job := r.update(id, func(j *Job) {
			j.Status = StatusRunning
			j.Attempts = attempt
		})
		result, err = r.attempt(job, t)
		if err == nil {
			break
		}
		if !Retryable(err) || attempt == r.opts.MaxAttempts {
			break
		}
		delay := Backoff(attempt, r.opts.BaseBackoff, r.opts.MaxBackoff)
		log.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "retry_in": delay.String()}).Warn("job attempt failed")
		if serr := r.sleep(r.ctx, delay); serr != nil {
			err = fmt.Errorf("%w (retry abandoned: %v)", err, serr)
			break
		}
	}

	final := r.update(id, func(j *Job) {
		if err != nil {
			j.Status = StatusFailed
			j.Error = err.Error()
			return
		}
		j.Status = StatusSucceeded
		j.Result = result
	})
	if err != nil {
		log.WithError(err).WithField("attempts", final.Attempts).Error("job failed")
	} else {
		log.WithField("attempts", final.Attempts).Info("job succeeded")
	}
	if t.Finally != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		t.Finally(ctx, final)
	}
}

// attempt runs one try under the job timeout. Panics become errors.
func (r *Runner) attempt(job Job, t Task) (result any, err error) {
	ctx := r.ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	defer func() {
		if rv := recover(); rv != nil {
			err = fmt.Errorf("job panicked: %v", rv)
		}
	}()
	result, err = t.Run(ctx, job)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", r.opts.Timeout, err)
	}
	return result, err
}

func (r *Runner) update(id string, fn func(*Job)) Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	fn(j)
	j.UpdatedAt = r.now()
	return *j
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"shopfloor/pkg/logger"
	"shopfloor/pkg/metrics"
	"shopfloor/pkg/models"
	"shopfloor/pkg/storage"
)

// Worker runs the claim/dispatch loop: poll the queue, claim the oldest
// due job, run its handler, record the outcome. One Worker processes one
// job at a time; scale by running more processes.
type Worker struct {
	ID       string
	jobs     storage.JobStore
	registry *Registry
	notifier storage.Notifier // optional, poll still runs without it
	interval time.Duration

	wg sync.WaitGroup
}

// Config holds worker construction parameters.
type Config struct {
	ID           string
	Jobs         storage.JobStore
	Registry     *Registry
	Notifier     storage.Notifier
	PollInterval time.Duration
}

func New(cfg Config) *Worker {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Worker{
		ID:       cfg.ID,
		jobs:     cfg.Jobs,
		registry: cfg.Registry,
		notifier: cfg.Notifier,
		interval: interval,
	}
}

// Run blocks until ctx is cancelled. An in-flight job finishes before Run
// returns; only then does the process exit cleanly.
func (w *Worker) Run(ctx context.Context) {
	log := logger.Get().With(zap.String("worker_id", w.ID))
	log.Info("worker starting", zap.Duration("poll_interval", w.interval))

	var wake <-chan struct{}
	if w.notifier != nil {
		ch, err := w.notifier.Wake(ctx)
		if err != nil {
			log.Warn("enqueue notifications unavailable, polling only", zap.Error(err))
		} else {
			wake = ch
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		// Drain everything due before sleeping again.
		for {
			if ctx.Err() != nil {
				w.wg.Wait()
				log.Info("worker stopped")
				return
			}
			claimed, err := w.runOne(ctx)
			if err != nil {
				log.Error("claim failed", zap.Error(err))
				break
			}
			if !claimed {
				break
			}
		}

		select {
		case <-ctx.Done():
			w.wg.Wait()
			log.Info("worker stopped")
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}

// runOne claims and dispatches a single job. Returns false when the queue
// had nothing due.
func (w *Worker) runOne(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextJob(ctx, w.ID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	metrics.JobsClaimed.WithLabelValues(w.ID).Inc()

	w.wg.Add(1)
	defer w.wg.Done()
	w.dispatch(ctx, job)
	return true, nil
}

// dispatch runs the handler and records the outcome. Outcome writes use a
// fresh context: a shutdown mid-job must not strand the row in running.
func (w *Worker) dispatch(ctx context.Context, job *models.Job) {
	log := logger.Get().With(
		zap.String("worker_id", w.ID),
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", string(job.Type)),
		zap.Int("attempt", job.Attempts),
	)
	log.Info("job claimed")
	start := time.Now()

	handler, err := w.registry.Resolve(job.Type)
	if err != nil {
		// No handler means no retry can ever help.
		w.recordFailure(job, err, true, log)
		metrics.RecordDispatch(string(job.Type), "dead_letter", time.Since(start).Seconds())
		return
	}

	handlerErr := runHandler(ctx, handler, job)
	elapsed := time.Since(start)

	recordCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if handlerErr == nil {
		if err := w.jobs.MarkJobSucceeded(recordCtx, job.ID); err != nil {
			log.Error("failed to finalize job", zap.Error(err))
			return
		}
		log.Info("job succeeded", zap.Duration("duration", elapsed))
		metrics.RecordDispatch(string(job.Type), "succeeded", elapsed.Seconds())
		return
	}

	d := Decide(job.Attempts, job.MaxAttempts)
	if d.Requeue {
		if err := w.jobs.RequeueJob(recordCtx, job.ID, handlerErr.Error(), d.Backoff); err != nil {
			log.Error("failed to requeue job", zap.Error(err))
			return
		}
		log.Warn("job failed, requeued",
			zap.Error(handlerErr),
			zap.Duration("backoff", d.Backoff))
		metrics.JobRetries.WithLabelValues(string(job.Type)).Inc()
		metrics.RecordDispatch(string(job.Type), "requeued", elapsed.Seconds())
		return
	}

	w.recordFailure(job, handlerErr, false, log)
	metrics.RecordDispatch(string(job.Type), "dead_letter", elapsed.Seconds())
}

func (w *Worker) recordFailure(job *models.Job, handlerErr error, unroutable bool, log *zap.Logger) {
	recordCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.jobs.DeadLetterJob(recordCtx, job.ID, handlerErr.Error()); err != nil {
		log.Error("failed to dead-letter job", zap.Error(err))
		return
	}
	if unroutable {
		log.Error("job dead-lettered, no handler", zap.Error(handlerErr))
	} else {
		log.Error("job dead-lettered, attempts exhausted", zap.Error(handlerErr))
	}
	metrics.JobsDeadLettered.WithLabelValues(string(job.Type)).Inc()
}

// runHandler isolates handler panics so one bad payload cannot take down
// the worker loop.
func runHandler(ctx context.Context, h Handler, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

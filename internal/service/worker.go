package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rryowa/cookie_auth/internal/metrics"
	"github.com/rryowa/cookie_auth/internal/models"
	redisstore "github.com/rryowa/cookie_auth/internal/storage/redis"
)

const failedDeliveryBackoff = time.Second

// Deliverer sends one email.
type Deliverer interface {
	Deliver(ctx context.Context, task models.EmailTask) error
}

// Worker drains the email queue and periodically sweeps expired refresh sessions.
type Worker struct {
	queue         *redisstore.TaskQueue
	deliverer     Deliverer
	sessions      *SessionService
	metrics       *metrics.Metrics
	log           *zap.SugaredLogger
	pollWait      time.Duration
	sweepInterval time.Duration
}

func NewWorker(
	queue *redisstore.TaskQueue,
	deliverer Deliverer,
	sessions *SessionService,
	m *metrics.Metrics,
	log *zap.SugaredLogger,
	pollWait, sweepInterval time.Duration,
) *Worker {
	return &Worker{
		queue:         queue,
		deliverer:     deliverer,
		sessions:      sessions,
		metrics:       m,
		log:           log,
		pollWait:      pollWait,
		sweepInterval: sweepInterval,
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if n, err := w.queue.RecoverProcessing(ctx); err != nil {
		return err
	} else if n > 0 {
		w.log.Infow("Recovered unacknowledged email tasks", "count", n)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.sweepLoop(ctx)
	}()

	for {
		if err := ctx.Err(); err != nil {
			<-done
			return nil
		}
		if _, err := w.ProcessOne(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Errorw("Email task failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(failedDeliveryBackoff):
			}
		}
	}
}

// ProcessOne handles at most one queued email. It reports whether a task was taken.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	d, err := w.queue.Dequeue(ctx, w.pollWait)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}

	if err := w.deliverer.Deliver(ctx, d.Task); err != nil {
		w.metrics.EmailTasks.WithLabelValues("failed").Inc()
		if rqErr := w.queue.Requeue(context.WithoutCancel(ctx), d); rqErr != nil {
			w.log.Errorw("Failed to requeue email task", "error", rqErr)
		}
		return true, err
	}

	w.metrics.EmailTasks.WithLabelValues("delivered").Inc()
	if err := w.queue.Ack(ctx, d); err != nil {
		return true, err
	}
	w.log.Debugw("Email delivered", "to", d.Task.To, "subject", d.Task.Subject)
	return true, nil
}

// Sweep removes refresh sessions whose expiry has passed.
func (w *Worker) Sweep(ctx context.Context) (int64, error) {
	n, err := w.sessions.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	w.metrics.SessionsSwept.Add(float64(n))
	return n, nil
}

func (w *Worker) sweepLoop(ctx context.Context) {
	if w.sweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.Sweep(ctx)
			if err != nil {
				w.log.Errorw("Session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				w.log.Infow("Expired sessions swept", "count", n)
			}
		}
	}
}

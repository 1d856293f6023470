// Package tasks runs the deferred-work queue: provider call creation and
// booking follow-ups execute here, off the synchronous request paths.
// Delivery is at-least-once; every handler must be idempotent.
package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadline-ai/leadline/internal/model"
	"github.com/leadline-ai/leadline/internal/store"
)

// Handler processes one task payload.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Options tunes the polling worker.
type Options struct {
	PollInterval time.Duration
	BatchSize    int
	RetryBackoff time.Duration // base; doubles per attempt
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 30 * time.Second
	}
	return o
}

// Worker polls for due tasks and dispatches them by kind.
type Worker struct {
	store    store.Store
	handlers map[model.TaskKind]Handler
	opts     Options
}

func NewWorker(st store.Store, opts Options) *Worker {
	return &Worker{
		store:    st,
		handlers: make(map[model.TaskKind]Handler),
		opts:     opts.withDefaults(),
	}
}

// Register binds a handler to a task kind. Not safe to call after Run.
func (w *Worker) Register(kind model.TaskKind, h Handler) {
	w.handlers[kind] = h
}

// Run polls until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	zap.L().Info("tasks: worker started",
		zap.Duration("poll_interval", w.opts.PollInterval))

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.Tick(ctx); err != nil {
			zap.L().Error("tasks: tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "tasks: worker stopped")
		case <-ticker.C:
		}
	}
}

// Tick claims and processes one batch of due tasks.
func (w *Worker) Tick(ctx context.Context) error {
	due, err := w.store.DueTasks(ctx, w.opts.BatchSize)
	if err != nil {
		return err
	}

	for _, task := range due {
		w.process(ctx, task)
	}
	return nil
}

func (w *Worker) process(ctx context.Context, task model.Task) {
	h, ok := w.handlers[task.Kind]
	if !ok {
		zap.L().Error("tasks: no handler for kind",
			zap.String("task_id", task.ID),
			zap.String("kind", string(task.Kind)))
		w.retry(ctx, task, eris.Errorf("no handler for kind %s", task.Kind))
		return
	}

	if err := h(ctx, task.Payload); err != nil {
		zap.L().Warn("tasks: handler failed",
			zap.String("task_id", task.ID),
			zap.String("kind", string(task.Kind)),
			zap.Int("retry_count", task.RetryCount),
			zap.Error(err))
		w.retry(ctx, task, err)
		return
	}

	if err := w.store.CompleteTask(ctx, task.ID); err != nil {
		zap.L().Error("tasks: complete failed",
			zap.String("task_id", task.ID), zap.Error(err))
	}
}

func (w *Worker) retry(ctx context.Context, task model.Task, cause error) {
	backoff := w.opts.RetryBackoff << task.RetryCount
	next := time.Now().UTC().Add(backoff)

	if task.RetryCount+1 >= task.MaxRetries {
		zap.L().Error("tasks: exhausted retries",
			zap.String("task_id", task.ID),
			zap.String("kind", string(task.Kind)),
			zap.Error(cause))
	}
	if err := w.store.RetryTask(ctx, task.ID, next, cause.Error()); err != nil {
		zap.L().Error("tasks: retry bookkeeping failed",
			zap.String("task_id", task.ID), zap.Error(err))
	}
}

// Package outbound drains the durable message queue. Delivery is
// at-least-once: rows survive crashes, success is recorded by deletion and
// the processing mark prevents a double send within one process.
package outbound

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hondutalent/bridge/internal/bus"
	"github.com/hondutalent/bridge/internal/registry"
	"github.com/hondutalent/bridge/internal/store"
)

// Sender delivers queue entries through a live session.
type Sender interface {
	ReadySession() (string, bool)
	SendText(ctx context.Context, sessionID, chatID, body string) (*registry.Receipt, error)
}

// StatusNotifier reports postulation delivery outcomes to the CRM.
type StatusNotifier interface {
	NotifyTaskStatus(ctx context.Context, postulationID int64, status string) error
}

// Worker polls the queue on a fixed interval and delivers due entries
// sequentially, oldest first.
type Worker struct {
	db       *store.DB
	sender   Sender
	notifier StatusNotifier
	bus      *bus.Bus
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewWorker creates a queue worker.
func NewWorker(db *store.DB, sender Sender, notifier StatusNotifier, b *bus.Bus, logger *zap.Logger) *Worker {
	return &Worker{
		db:       db,
		sender:   sender,
		notifier: notifier,
		bus:      b,
		logger:   logger,
	}
}

// Start begins the polling loop.
func (w *Worker) Start(ctx context.Context, interval time.Duration) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx, interval)
}

// Stop stops the loop.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Worker) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.ProcessDue(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessDue delivers every due pending entry through any ready session.
// Without one the whole tick is skipped and the entries stay pending.
func (w *Worker) ProcessDue(ctx context.Context) {
	sessionID, ok := w.sender.ReadySession()
	if !ok {
		return
	}

	due, err := w.db.DueTasks(time.Now().Unix())
	if err != nil {
		w.logger.Error("read outbound queue", zap.Error(err))
		return
	}

	for _, task := range due {
		claimed, err := w.db.MarkTaskProcessing(task.ID)
		if err != nil {
			w.logger.Error("claim queue entry", zap.Int64("task", task.ID), zap.Error(err))
			continue
		}
		if !claimed {
			// Another worker got it first.
			continue
		}
		w.deliver(ctx, sessionID, task)
	}
}

func (w *Worker) deliver(ctx context.Context, sessionID string, task store.Task) {
	if _, err := w.sender.SendText(ctx, sessionID, task.ChatID, task.MessageBody); err != nil {
		w.logger.Error("queue delivery failed",
			zap.Int64("task", task.ID),
			zap.String("chat", task.ChatID),
			zap.Error(err))
		if dbErr := w.db.MarkTaskFailed(task.ID); dbErr != nil {
			w.logger.Error("mark task failed", zap.Int64("task", task.ID), zap.Error(dbErr))
		}
		w.report(ctx, task, "failed")
		w.bus.Publish(bus.Event{
			Kind:      "queue.failed",
			SessionID: sessionID,
			Timestamp: time.Now(),
			Payload:   map[string]any{"task_id": task.ID, "chat_id": task.ChatID, "error": err.Error()},
		})
		return
	}

	// Deletion is the durable success record.
	if err := w.db.DeleteTask(task.ID); err != nil {
		w.logger.Error("delete delivered task", zap.Int64("task", task.ID), zap.Error(err))
	}
	w.report(ctx, task, "sent")

	w.logger.Info("queue entry delivered",
		zap.Int64("task", task.ID),
		zap.String("chat", task.ChatID))
	w.bus.Publish(bus.Event{
		Kind:      "queue.sent",
		SessionID: sessionID,
		Timestamp: time.Now(),
		Payload:   map[string]any{"task_id": task.ID, "chat_id": task.ChatID},
	})
}

// report tells the CRM about a postulation outcome. A failed callback only
// logs; the delivery outcome already stands.
func (w *Worker) report(ctx context.Context, task store.Task, status string) {
	if task.TaskType != store.TaskTypePostulation || w.notifier == nil {
		return
	}
	if err := w.notifier.NotifyTaskStatus(ctx, task.RelatedID, status); err != nil {
		w.logger.Warn("crm status callback failed",
			zap.Int64("postulation", task.RelatedID),
			zap.String("status", status),
			zap.Error(err))
	}
}

package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const batchLimit = 200

// RequestScanner は貸出側の定期処理。
type RequestScanner interface {
	ScanOverdue(ctx context.Context, limit int) (int, error)
	ScanDueSoon(ctx context.Context, days, limit int) (int, error)
}

// RestrictionSweeper は期限切れ制限の掃除。
type RestrictionSweeper interface {
	RemoveExpired(ctx context.Context, limit int) (int, error)
}

// NotificationPurger は古い既読通知の削除。
type NotificationPurger interface {
	PurgeOldRead(ctx context.Context, retention time.Duration) (int64, error)
}

type Worker struct {
	logger       *zap.Logger
	requests     RequestScanner
	restrictions RestrictionSweeper
	purger       NotificationPurger

	interval     time.Duration
	reminderDays int
	retention    time.Duration
}

func NewWorker(logger *zap.Logger, req RequestScanner, restr RestrictionSweeper, purger NotificationPurger, interval time.Duration, reminderDays int) *Worker {
	return &Worker{
		logger:       logger,
		requests:     req,
		restrictions: restr,
		purger:       purger,
		interval:     interval,
		reminderDays: reminderDays,
		retention:    7 * 24 * time.Hour,
	}
}

// Run は ctx がキャンセルされるまでティックごとに全スキャンを回す。
// 起動直後にも一度実行する。
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("scheduler started",
		zap.Duration("interval", w.interval),
		zap.Int("reminder_days", w.reminderDays))

	w.tick(ctx)

	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("scheduler stopped")
			return
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	start := time.Now()

	if n, err := w.requests.ScanOverdue(ctx, batchLimit); err != nil {
		w.logger.Error("overdue scan failed", zap.Error(err))
	} else if n > 0 {
		w.logger.Info("overdue requests flagged", zap.Int("count", n))
	}

	if n, err := w.requests.ScanDueSoon(ctx, w.reminderDays, batchLimit); err != nil {
		w.logger.Error("due-soon scan failed", zap.Error(err))
	} else if n > 0 {
		w.logger.Info("return reminders sent", zap.Int("count", n))
	}

	if n, err := w.restrictions.RemoveExpired(ctx, batchLimit); err != nil {
		w.logger.Error("restriction sweep failed", zap.Error(err))
	} else if n > 0 {
		w.logger.Info("expired restrictions removed", zap.Int("users", n))
	}

	if n, err := w.purger.PurgeOldRead(ctx, w.retention); err != nil {
		w.logger.Error("notification purge failed", zap.Error(err))
	} else if n > 0 {
		w.logger.Info("old notifications purged", zap.Int64("count", n))
	}

	w.logger.Debug("scheduler tick done", zap.Duration("took", time.Since(start)))
}

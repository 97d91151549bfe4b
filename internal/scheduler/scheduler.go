// Package scheduler запускает фоновое автоподтверждение отправленных заказов по расписанию cron.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mmeshcher/pi-marketplace/internal/metrics"
)

// Confirmer завершает заказы, которые покупатель не подтвердил вовремя.
type Confirmer interface {
	AutoConfirmShippedOrders(ctx context.Context) (int, error)
}

// AutoConfirm по расписанию вызывает Confirmer. Ошибка одного прохода не влияет на следующие.
type AutoConfirm struct {
	confirmer Confirmer
	schedule  cron.Schedule
	expr      string
	logger    *zap.Logger
	metrics   *metrics.Collector

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// New создаёт планировщик. expr задаётся стандартным cron-выражением из пяти полей или дескриптором вида "@every 1m".
func New(confirmer Confirmer, expr string, logger *zap.Logger, collector *metrics.Collector) (*AutoConfirm, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse auto-confirm schedule %q: %w", expr, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoConfirm{
		confirmer: confirmer,
		schedule:  schedule,
		expr:      expr,
		logger:    logger,
		metrics:   collector,
	}, nil
}

// Start запускает расписание. Повторный вызов ничего не делает.
func (a *AutoConfirm) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.cron = cron.New(cron.WithChain(
		cron.Recover(cronLogger{a.logger}),
		cron.SkipIfStillRunning(cronLogger{a.logger}),
	))
	a.cron.Schedule(a.schedule, cron.FuncJob(func() {
		a.RunOnce(runCtx)
	}))
	a.cron.Start()
	a.running = true

	a.logger.Info("auto-confirm scheduler started", zap.String("schedule", a.expr))
}

// Stop останавливает расписание и ждёт завершения текущего прохода, но не дольше, чем живёт ctx.
func (a *AutoConfirm) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	c, cancel := a.cron, a.cancel
	a.running = false
	a.cron, a.cancel = nil, nil
	a.mu.Unlock()

	done := c.Stop()
	cancel()

	select {
	case <-done.Done():
		a.logger.Info("auto-confirm scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce выполняет один проход автоподтверждения и возвращает число завершённых заказов.
func (a *AutoConfirm) RunOnce(ctx context.Context) int {
	start := time.Now()
	n, err := a.confirmer.AutoConfirmShippedOrders(ctx)
	a.metrics.AutoConfirmSweep(time.Since(start), n)
	if err != nil {
		a.logger.Error("auto-confirm sweep failed", zap.Int("confirmed", n), zap.Error(err))
		return n
	}
	a.logger.Debug("auto-confirm sweep finished", zap.Int("confirmed", n), zap.Duration("took", time.Since(start)))
	return n
}

// cronLogger передаёт сообщения cron в zap.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}

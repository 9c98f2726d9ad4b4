package scheduler

import (
	"context"
	"time"

	"github.com/ignatzorin/escrow-backend/internal/goroutine"
	"github.com/ignatzorin/escrow-backend/internal/logger"
)

// AutoApprover принимает вехи с истёкшим сроком реакции клиента.
type AutoApprover interface {
	AutoApproveDue(ctx context.Context, now time.Time)
}

// AutoApproveScheduler периодически запускает автоприёмку сданных вех.
type AutoApproveScheduler struct {
	service  AutoApprover
	interval time.Duration
}

// NewAutoApproveScheduler создаёт планировщик автоприёмки.
func NewAutoApproveScheduler(service AutoApprover, interval time.Duration) *AutoApproveScheduler {
	return &AutoApproveScheduler{service: service, interval: interval}
}

// Start запускает цикл до отмены контекста.
func (s *AutoApproveScheduler) Start(ctx context.Context) {
	goroutine.SafeGoWithContext(ctx, func(ctx context.Context) {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		logger.Log.WithField("interval", s.interval.String()).Info("scheduler: автоприёмка запущена")

		for {
			select {
			case <-ctx.Done():
				logger.Log.Info("scheduler: автоприёмка остановлена")
				return
			case now := <-ticker.C:
				s.service.AutoApproveDue(ctx, now)
			}
		}
	})
}

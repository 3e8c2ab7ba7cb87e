package main

import (
	"context"
	"time"

	"github.com/mcclellann/poolfund/pkg/models"
	"go.uber.org/zap"
)

// runMaintenance opens this month's contribution records, flags unpaid past
// months as overdue and refreshes every loan's interest snapshot.
func (s *Server) runMaintenance(ctx context.Context) {
	month := models.MonthOf(s.now())
	if s.monthlyAmount.IsPositive() {
		batch, err := s.contributions.CreateMonthlyContributions(ctx, month, s.monthlyAmount)
		if err != nil {
			s.logger.Error("monthly contribution run failed", zap.String("month", month), zap.Error(err))
		} else {
			s.logger.Info("monthly contributions ensured",
				zap.String("month", month),
				zap.Int("created", len(batch.Created)),
				zap.Int("failed", len(batch.Failures)))
		}
	}

	if _, err := s.contributions.MarkOverdue(ctx); err != nil {
		s.logger.Error("overdue run failed", zap.Error(err))
	}

	report, err := s.ledger.RecalculateAll(ctx, time.Time{})
	if err != nil {
		s.logger.Error("interest recalculation failed", zap.Error(err))
		return
	}
	s.logger.Info("interest recalculated",
		zap.Int("updated", len(report.Updated)),
		zap.Int("failed", len(report.Failures)))
}

// runScheduler runs maintenance once at startup and then every interval
// until ctx is done.
func (s *Server) runScheduler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runMaintenance(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runMaintenance(ctx)
		}
	}
}

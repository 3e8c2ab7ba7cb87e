package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/poolfund/pkg/accrual"
	"github.com/mcclellann/poolfund/pkg/apperr"
	"github.com/mcclellann/poolfund/pkg/models"
	"github.com/mcclellann/poolfund/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Recalculation is the outcome for one loan.
type Recalculation struct {
	LoanID      uuid.UUID       `json:"loan_id"`
	OldTotalDue decimal.Decimal `json:"old_total_due"`
	NewTotalDue decimal.Decimal `json:"new_total_due"`
	Delta       decimal.Decimal `json:"delta"`
}

type RecalculationFailure struct {
	LoanID uuid.UUID `json:"loan_id"`
	Error  string    `json:"error"`
}

type RecalculationReport struct {
	Updated  []Recalculation        `json:"updated"`
	Failures []RecalculationFailure `json:"failures"`
}

// RecalculateAll brings every approved and disbursed loan up to now and saves
// the ones whose snapshot moved. A zero now means the ledger's clock. One
// loan failing does not stop the rest.
func (l *Ledger) RecalculateAll(ctx context.Context, now time.Time) (*RecalculationReport, error) {
	clock := l.now()
	if now.IsZero() {
		now = clock
	}
	now = now.UTC()
	if now.After(clock) {
		return nil, apperr.Validation("recalculation time cannot be in the future")
	}

	loans, err := l.storage.ListLoans(ctx, store.LoanFilter{
		Statuses: []models.LoanStatus{models.LoanStatusApproved, models.LoanStatusDisbursed},
	})
	if err != nil {
		return nil, err
	}

	report := &RecalculationReport{Updated: []Recalculation{}, Failures: []RecalculationFailure{}}
	for _, listed := range loans {
		var result *Recalculation
		err := apperr.RetryOnConflict(ctx, l.maxRetries, func() error {
			result = nil
			loan, err := l.storage.GetLoan(ctx, listed.ID)
			if err != nil {
				return err
			}
			if !loan.Status.Accruing() {
				return nil
			}
			old := loan.TotalAmountDue
			if !accrual.Recompute(loan, now) {
				return nil
			}
			loan.UpdatedAt = l.now()
			if err := l.storage.UpdateLoan(ctx, loan); err != nil {
				return err
			}
			result = &Recalculation{
				LoanID:      loan.ID,
				OldTotalDue: old,
				NewTotalDue: loan.TotalAmountDue,
				Delta:       loan.TotalAmountDue.Sub(old),
			}
			return nil
		})
		if err != nil {
			l.logger.Error("interest recalculation failed", zap.String("loan_id", listed.ID.String()), zap.Error(err))
			report.Failures = append(report.Failures, RecalculationFailure{LoanID: listed.ID, Error: apperr.MessageOf(err)})
			continue
		}
		if result != nil {
			report.Updated = append(report.Updated, *result)
		}
	}
	l.logger.Info("interest recalculation finished",
		zap.Time("as_of", now),
		zap.Int("loans", len(loans)),
		zap.Int("updated", len(report.Updated)),
		zap.Int("failed", len(report.Failures)))
	return report, nil
}

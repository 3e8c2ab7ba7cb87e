package contributions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/poolfund/pkg/apperr"
	"github.com/mcclellann/poolfund/pkg/models"
	"github.com/mcclellann/poolfund/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ItemFailure struct {
	ID    uuid.UUID `json:"id"`
	Error string    `json:"error"`
}

// BatchResult enumerates per-item outcomes of a batch run.
type BatchResult struct {
	Month    string        `json:"month,omitempty"`
	Created  []uuid.UUID   `json:"created"`
	Skipped  []uuid.UUID   `json:"skipped"`
	Updated  []uuid.UUID   `json:"updated,omitempty"`
	Failures []ItemFailure `json:"failures"`
}

func newBatchResult(month string) *BatchResult {
	return &BatchResult{Month: month, Created: []uuid.UUID{}, Skipped: []uuid.UUID{}, Failures: []ItemFailure{}}
}

// CreateMonthlyContributions makes sure every active member has a record for
// month. Members that already have one are skipped.
func (l *Ledger) CreateMonthlyContributions(ctx context.Context, month string, amount decimal.Decimal) (*BatchResult, error) {
	month, _, err := parseMonth(month)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, apperr.Validation("amount must be greater than 0")
	}
	members, err := l.storage.ListMembers(ctx, true)
	if err != nil {
		return nil, err
	}

	result := newBatchResult(month)
	for _, m := range members {
		if err := ctx.Err(); err != nil {
			return result, apperr.Internal(err, "batch cancelled")
		}
		_, created, err := l.EnsureMonthlyRecord(ctx, m.ID, month, amount)
		switch {
		case err != nil:
			l.logger.Error("failed to create monthly contribution",
				zap.String("member_id", m.ID.String()), zap.String("month", month), zap.Error(err))
			result.Failures = append(result.Failures, ItemFailure{ID: m.ID, Error: apperr.MessageOf(err)})
		case created:
			result.Created = append(result.Created, m.ID)
		default:
			result.Skipped = append(result.Skipped, m.ID)
		}
	}
	l.logger.Info("monthly contributions ensured",
		zap.String("month", month),
		zap.Int("created", len(result.Created)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("failed", len(result.Failures)))
	return result, nil
}

// MarkOverdue flags pending records of months before now's month that no
// member has reported a payment for.
func (l *Ledger) MarkOverdue(ctx context.Context) (*BatchResult, error) {
	now := l.now()
	current := models.MonthOf(now)
	pending, err := l.storage.ListContributions(ctx, store.ContributionFilter{
		Statuses: []models.ContributionStatus{models.ContributionStatusPending},
	})
	if err != nil {
		return nil, err
	}

	result := newBatchResult("")
	result.Updated = []uuid.UUID{}
	for _, c := range pending {
		// YYYY-MM keys sort chronologically.
		if c.Month >= current || c.PaidDate != nil {
			result.Skipped = append(result.Skipped, c.ID)
			continue
		}
		_, err := l.mutate(ctx, c.ID, func(c *models.Contribution) error {
			if c.Status != models.ContributionStatusPending || c.PaidDate != nil {
				return errUnchanged
			}
			c.Status = models.ContributionStatusOverdue
			return nil
		})
		switch {
		case errors.Is(err, errUnchanged):
			result.Skipped = append(result.Skipped, c.ID)
		case err != nil:
			l.logger.Error("failed to mark contribution overdue", zap.String("contribution_id", c.ID.String()), zap.Error(err))
			result.Failures = append(result.Failures, ItemFailure{ID: c.ID, Error: apperr.MessageOf(err)})
		default:
			result.Updated = append(result.Updated, c.ID)
		}
	}
	l.logger.Info("overdue contributions marked",
		zap.Time("as_of", now),
		zap.Int("updated", len(result.Updated)),
		zap.Int("failed", len(result.Failures)))
	return result, nil
}

var errUnchanged = apperr.StateConflict("contribution no longer pending")

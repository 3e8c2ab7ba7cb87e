// Package contributions keeps the monthly contribution ledger: one record per
// member per month, reported by members and confirmed by administrators.
package contributions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/poolfund/pkg/apperr"
	"github.com/mcclellann/poolfund/pkg/models"
	"github.com/mcclellann/poolfund/pkg/store"
	"github.com/mcclellann/poolfund/pkg/validation"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultMaxRetries = 3

type Ledger struct {
	storage    store.Storage
	validate   *validation.Validator
	logger     *zap.Logger
	now        func() time.Time
	maxRetries int
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithMaxRetries(n int) Option {
	return func(l *Ledger) { l.maxRetries = n }
}

func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage:    s,
		validate:   validation.New(),
		logger:     zap.NewNop(),
		now:        func() time.Time { return time.Now().UTC() },
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func parseMonth(month string) (string, int, error) {
	m, year, err := models.ParseMonth(month)
	if err != nil {
		return "", 0, apperr.Validation("%v", err)
	}
	return m, year, nil
}

// EnsureMonthlyRecord returns the member's record for month, creating a
// pending one for amount when none exists. created reports which happened.
func (l *Ledger) EnsureMonthlyRecord(ctx context.Context, memberID uuid.UUID, month string, amount decimal.Decimal) (c *models.Contribution, created bool, err error) {
	month, year, err := parseMonth(month)
	if err != nil {
		return nil, false, err
	}
	if amount.IsNegative() {
		return nil, false, apperr.Validation("amount must not be negative")
	}
	existing, err := l.storage.FindContribution(ctx, memberID, month)
	if err == nil {
		return existing, false, nil
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return nil, false, err
	}

	now := l.now()
	c = &models.Contribution{
		ID:        uuid.New(),
		MemberID:  memberID,
		Month:     month,
		Year:      year,
		Amount:    amount,
		Status:    models.ContributionStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.storage.CreateContribution(ctx, c); err != nil {
		if apperr.Is(err, apperr.KindDuplicate) {
			// Someone else created it between the lookup and the insert.
			existing, findErr := l.storage.FindContribution(ctx, memberID, month)
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return c, true, nil
}

// CreateInput records a contribution directly, for administrative entry and
// backfilling history.
type CreateInput struct {
	MemberID      uuid.UUID                 `json:"member_id" validate:"required"`
	Month         string                    `json:"month" validate:"required"`
	Amount        decimal.Decimal           `json:"amount" validate:"gt=0"`
	Status        models.ContributionStatus `json:"status" validate:"omitempty,oneof=paid pending overdue"`
	PaidDate      *time.Time                `json:"paid_date"`
	PaymentMethod string                    `json:"payment_method" validate:"max=50"`
	Note          string                    `json:"note" validate:"max=500"`
}

// Create inserts a new contribution and fails with DuplicateError if the
// member already has one for the month.
func (l *Ledger) Create(ctx context.Context, in CreateInput, actorID uuid.UUID) (*models.Contribution, error) {
	if err := l.validate.Struct(in); err != nil {
		return nil, err
	}
	month, year, err := parseMonth(in.Month)
	if err != nil {
		return nil, err
	}
	if _, err := l.storage.GetMember(ctx, in.MemberID); err != nil {
		return nil, err
	}
	now := l.now()
	if in.PaidDate != nil && in.PaidDate.After(now) {
		return nil, apperr.Validation("paid_date cannot be in the future")
	}

	c := &models.Contribution{
		ID:            uuid.New(),
		MemberID:      in.MemberID,
		Month:         month,
		Year:          year,
		Amount:        in.Amount,
		Status:        in.Status,
		PaymentMethod: in.PaymentMethod,
		Note:          in.Note,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if c.Status == "" {
		c.Status = models.ContributionStatusPending
	}
	if c.Status == models.ContributionStatusPaid {
		paid := now
		if in.PaidDate != nil {
			paid = in.PaidDate.UTC()
		}
		c.PaidDate = &paid
		c.RecordedBy = uuid.NullUUID{UUID: actorID, Valid: true}
	}
	if err := l.storage.CreateContribution(ctx, c); err != nil {
		return nil, err
	}
	l.logger.Info("contribution created",
		zap.String("member_id", c.MemberID.String()),
		zap.String("month", c.Month),
		zap.String("status", string(c.Status)))
	return c, nil
}

type UpsertInput struct {
	MemberID uuid.UUID       `json:"member_id" validate:"required"`
	Month    string          `json:"month" validate:"required"`
	Amount   decimal.Decimal `json:"amount" validate:"gt=0"`
}

// UpsertMonthly creates the member's record for the month or changes the
// amount of an unpaid one. Paid records are final.
func (l *Ledger) UpsertMonthly(ctx context.Context, in UpsertInput) (*models.Contribution, error) {
	if err := l.validate.Struct(in); err != nil {
		return nil, err
	}
	if _, err := l.storage.GetMember(ctx, in.MemberID); err != nil {
		return nil, err
	}
	c, created, err := l.EnsureMonthlyRecord(ctx, in.MemberID, in.Month, in.Amount)
	if err != nil || created {
		return c, err
	}
	return l.mutate(ctx, c.ID, func(c *models.Contribution) error {
		if c.Status == models.ContributionStatusPaid {
			return apperr.StateConflict("contribution for %s is already paid", c.Month)
		}
		c.Amount = in.Amount
		return nil
	})
}

// PaymentInput carries what a member or administrator reports about a
// payment. A nil amount keeps the recorded amount.
type PaymentInput struct {
	Amount        *decimal.Decimal `json:"amount" validate:"omitempty,gt=0"`
	PaymentMethod string           `json:"payment_method" validate:"required,max=50"`
	Note          string           `json:"note" validate:"max=500"`
}

// SelfReport lets the owning member report a payment. The record stays
// pending until an administrator confirms it.
func (l *Ledger) SelfReport(ctx context.Context, id, memberID uuid.UUID, in PaymentInput) (*models.Contribution, error) {
	if err := l.validate.Struct(in); err != nil {
		return nil, err
	}
	c, err := l.mutate(ctx, id, func(c *models.Contribution) error {
		if c.MemberID != memberID {
			return apperr.Validation("contribution %s belongs to another member", c.ID)
		}
		if c.Status == models.ContributionStatusPaid {
			return apperr.StateConflict("contribution for %s is already paid", c.Month)
		}
		now := l.now()
		c.Status = models.ContributionStatusPending
		c.PaidDate = &now
		c.RecordedBy = uuid.NullUUID{}
		applyPayment(c, in)
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("contribution self-reported", zap.String("contribution_id", id.String()), zap.String("month", c.Month))
	return c, nil
}

// AdminConfirm marks a contribution paid on behalf of actorID.
func (l *Ledger) AdminConfirm(ctx context.Context, id, actorID uuid.UUID, in PaymentInput) (*models.Contribution, error) {
	if err := l.validate.Struct(in); err != nil {
		return nil, err
	}
	c, err := l.mutate(ctx, id, func(c *models.Contribution) error {
		if c.Status == models.ContributionStatusPaid {
			return apperr.StateConflict("contribution for %s is already paid", c.Month)
		}
		if c.PaidDate == nil {
			now := l.now()
			c.PaidDate = &now
		}
		c.Status = models.ContributionStatusPaid
		c.RecordedBy = uuid.NullUUID{UUID: actorID, Valid: true}
		applyPayment(c, in)
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("contribution confirmed",
		zap.String("contribution_id", id.String()),
		zap.String("month", c.Month),
		zap.String("confirmed_by", actorID.String()))
	return c, nil
}

func applyPayment(c *models.Contribution, in PaymentInput) {
	if in.Amount != nil {
		c.Amount = *in.Amount
	}
	c.PaymentMethod = in.PaymentMethod
	if in.Note != "" {
		c.Note = in.Note
	}
}

// mutate re-reads the contribution, applies fn and saves it, retrying when
// another writer saved first.
func (l *Ledger) mutate(ctx context.Context, id uuid.UUID, fn func(*models.Contribution) error) (*models.Contribution, error) {
	var c *models.Contribution
	err := apperr.RetryOnConflict(ctx, l.maxRetries, func() error {
		var err error
		c, err = l.storage.GetContribution(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
		c.UpdatedAt = l.now()
		return l.storage.UpdateContribution(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*models.Contribution, error) {
	return l.storage.GetContribution(ctx, id)
}

func (l *Ledger) List(ctx context.Context, filter store.ContributionFilter) ([]*models.Contribution, error) {
	if filter.Month != "" {
		month, _, err := parseMonth(filter.Month)
		if err != nil {
			return nil, err
		}
		filter.Month = month
	}
	return l.storage.ListContributions(ctx, filter)
}

// TotalSavings is the sum of the member's paid contributions.
func (l *Ledger) TotalSavings(ctx context.Context, memberID uuid.UUID) (decimal.Decimal, error) {
	paid, err := l.storage.ListContributions(ctx, store.ContributionFilter{
		MemberID: uuid.NullUUID{UUID: memberID, Valid: true},
		Statuses: []models.ContributionStatus{models.ContributionStatusPaid},
	})
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, c := range paid {
		total = total.Add(c.Amount)
	}
	return total, nil
}

// HasPaidContribution reports whether the member has paid at least once.
func (l *Ledger) HasPaidContribution(ctx context.Context, memberID uuid.UUID) (bool, error) {
	paid, err := l.storage.ListContributions(ctx, store.ContributionFilter{
		MemberID: uuid.NullUUID{UUID: memberID, Valid: true},
		Statuses: []models.ContributionStatus{models.ContributionStatusPaid},
	})
	if err != nil {
		return false, err
	}
	return len(paid) > 0, nil
}

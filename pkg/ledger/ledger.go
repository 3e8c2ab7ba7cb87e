// Package ledger owns the loan lifecycle: requests, decisions, disbursement,
// repayment allocation and interest recalculation.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/poolfund/pkg/accrual"
	"github.com/mcclellann/poolfund/pkg/apperr"
	"github.com/mcclellann/poolfund/pkg/models"
	"github.com/mcclellann/poolfund/pkg/notify"
	"github.com/mcclellann/poolfund/pkg/store"
	"github.com/mcclellann/poolfund/pkg/validation"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultMaxRetries = 3

var (
	defaultInterestRate = decimal.NewFromInt(16)
	splitTolerance      = decimal.RequireFromString("0.01")
)

// SavingsReader answers the contribution side of loan eligibility.
type SavingsReader interface {
	HasPaidContribution(ctx context.Context, memberID uuid.UUID) (bool, error)
}

// Ledger handles the business logic for loans and repayments.
type Ledger struct {
	storage     store.Storage
	validate    *validation.Validator
	logger      *zap.Logger
	notifier    notify.Notifier
	savings     SavingsReader
	now         func() time.Time
	maxRetries  int
	defaultRate decimal.Decimal
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithNotifier(n notify.Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

// WithSavings enables the paid-contribution check on loan requests.
func WithSavings(s SavingsReader) Option {
	return func(l *Ledger) { l.savings = s }
}

// WithMaxRetries bounds how often a write is retried after a version conflict.
func WithMaxRetries(n int) Option {
	return func(l *Ledger) { l.maxRetries = n }
}

// WithDefaultInterestRate sets the annual percent used when an approval
// does not name a rate.
func WithDefaultInterestRate(rate decimal.Decimal) Option {
	return func(l *Ledger) { l.defaultRate = rate }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage:     s,
		validate:    validation.New(),
		logger:      zap.NewNop(),
		notifier:    notify.Nop{},
		now:         func() time.Time { return time.Now().UTC() },
		maxRetries:  defaultMaxRetries,
		defaultRate: defaultInterestRate,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoanRequest is a member's application for a loan.
type LoanRequest struct {
	BorrowerID            uuid.UUID       `json:"borrower_id" validate:"required"`
	Amount                decimal.Decimal `json:"amount" validate:"gt=0"`
	Purpose               string          `json:"purpose" validate:"required,max=500"`
	ExpectedRepaymentDate time.Time       `json:"expected_repayment_date" validate:"required"`
}

// RequestLoan records a pending loan for an eligible member: active, with at
// least one paid contribution and no other open loan.
func (l *Ledger) RequestLoan(ctx context.Context, req LoanRequest) (*models.Loan, error) {
	if err := l.validate.Struct(req); err != nil {
		return nil, err
	}
	now := l.now()
	if !req.ExpectedRepaymentDate.After(now) {
		return nil, apperr.Validation("expected_repayment_date must be after the request date")
	}

	member, err := l.storage.GetMember(ctx, req.BorrowerID)
	if err != nil {
		return nil, err
	}
	if !member.Active {
		return nil, apperr.Validation("member %s is not active", member.ID)
	}
	if l.savings != nil {
		paid, err := l.savings.HasPaidContribution(ctx, member.ID)
		if err != nil {
			return nil, err
		}
		if !paid {
			return nil, apperr.Validation("member %s has no paid contributions", member.ID)
		}
	}
	open, err := l.storage.CountLoans(ctx, store.LoanFilter{
		BorrowerID: uuid.NullUUID{UUID: member.ID, Valid: true},
		Statuses:   []models.LoanStatus{models.LoanStatusPending, models.LoanStatusApproved, models.LoanStatusDisbursed},
	})
	if err != nil {
		return nil, err
	}
	if open > 0 {
		return nil, apperr.StateConflict("member %s already has an open loan", member.ID)
	}

	loan := &models.Loan{
		ID:                    uuid.New(),
		BorrowerID:            member.ID,
		RequestedAmount:       req.Amount,
		InterestRate:          l.defaultRate,
		Purpose:               req.Purpose,
		ExpectedRepaymentDate: req.ExpectedRepaymentDate.UTC(),
		Status:                models.LoanStatusPending,
		RequestDate:           now,
		TotalAmountDue:        decimal.Zero,
		AmountPaid:            decimal.Zero,
		RemainingBalance:      decimal.Zero,
		RepaymentIDs:          []uuid.UUID{},
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := l.storage.CreateLoan(ctx, loan); err != nil {
		return nil, err
	}
	l.logger.Info("loan requested",
		zap.String("loan_id", loan.ID.String()),
		zap.String("borrower_id", loan.BorrowerID.String()),
		zap.String("amount", loan.RequestedAmount.String()))
	return loan, nil
}

// ApproveInput names the terms of an approval. Nil amount and rate default to
// the requested amount and the configured rate.
type ApproveInput struct {
	LoanID         uuid.UUID        `json:"loan_id" validate:"required"`
	ApprovedAmount *decimal.Decimal `json:"approved_amount" validate:"omitempty,gt=0"`
	InterestRate   *decimal.Decimal `json:"interest_rate" validate:"omitempty,gte=0,lte=100"`
	ApproverID     uuid.UUID        `json:"approver_id" validate:"required"`
}

// Approve moves a pending loan to approved and prices it.
func (l *Ledger) Approve(ctx context.Context, in ApproveInput) (*models.Loan, error) {
	if err := l.validate.Struct(in); err != nil {
		return nil, err
	}
	var loan *models.Loan
	err := apperr.RetryOnConflict(ctx, l.maxRetries, func() error {
		var err error
		loan, err = l.storage.GetLoan(ctx, in.LoanID)
		if err != nil {
			return err
		}
		if !loan.Status.CanTransitionTo(models.LoanStatusApproved) {
			return apperr.StateConflict("cannot approve a loan that is %s", loan.Status)
		}

		amount := loan.RequestedAmount
		if in.ApprovedAmount != nil {
			amount = *in.ApprovedAmount
		}
		if amount.GreaterThan(loan.RequestedAmount) {
			return apperr.Validation("approved_amount %s exceeds requested amount %s", amount, loan.RequestedAmount)
		}
		rate := l.defaultRate
		if in.InterestRate != nil {
			rate = *in.InterestRate
		}

		// The store enforces this too; the count gives the early answer.
		active, err := l.storage.CountLoans(ctx, store.LoanFilter{
			BorrowerID: uuid.NullUUID{UUID: loan.BorrowerID, Valid: true},
			Statuses:   []models.LoanStatus{models.LoanStatusApproved, models.LoanStatusDisbursed},
		})
		if err != nil {
			return err
		}
		if active > 0 {
			return apperr.StateConflict("borrower %s already has an approved or disbursed loan", loan.BorrowerID)
		}

		now := l.now()
		loan.Status = models.LoanStatusApproved
		loan.ApprovedAmount = decimal.NewNullDecimal(amount)
		loan.InterestRate = rate
		if loan.ApprovalDate == nil {
			loan.ApprovalDate = &now
		}
		loan.ApprovedBy = uuid.NullUUID{UUID: in.ApproverID, Valid: true}
		loan.UpdatedAt = now
		accrual.Recompute(loan, now)
		return l.storage.UpdateLoan(ctx, loan)
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("loan approved",
		zap.String("loan_id", loan.ID.String()),
		zap.String("approved_amount", loan.ApprovedAmount.Decimal.String()),
		zap.String("interest_rate", loan.InterestRate.String()))
	l.notifyBorrower(ctx, loan)
	return loan, nil
}

// Reject moves a pending or approved loan to rejected. The financial
// snapshot is frozen from then on.
func (l *Ledger) Reject(ctx context.Context, loanID uuid.UUID, reason string) (*models.Loan, error) {
	if reason == "" {
		return nil, apperr.Validation("rejection reason is required")
	}
	var loan *models.Loan
	err := apperr.RetryOnConflict(ctx, l.maxRetries, func() error {
		var err error
		loan, err = l.storage.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if !loan.Status.CanTransitionTo(models.LoanStatusRejected) {
			return apperr.StateConflict("cannot reject a loan that is %s", loan.Status)
		}
		loan.Status = models.LoanStatusRejected
		loan.RejectionReason = reason
		loan.UpdatedAt = l.now()
		return l.storage.UpdateLoan(ctx, loan)
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("loan rejected", zap.String("loan_id", loan.ID.String()), zap.String("reason", reason))
	l.notifyBorrower(ctx, loan)
	return loan, nil
}

// Decision values accepted by DecideLoan.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

type DecisionInput struct {
	Decision       string           `json:"decision" validate:"required,oneof=approve reject"`
	ApprovedAmount *decimal.Decimal `json:"approved_amount"`
	InterestRate   *decimal.Decimal `json:"interest_rate"`
	Reason         string           `json:"reason" validate:"max=500"`
}

// DecideLoan approves or rejects a loan on behalf of actorID.
func (l *Ledger) DecideLoan(ctx context.Context, loanID, actorID uuid.UUID, in DecisionInput) (*models.Loan, error) {
	if err := l.validate.Struct(in); err != nil {
		return nil, err
	}
	if in.Decision == DecisionReject {
		return l.Reject(ctx, loanID, in.Reason)
	}
	return l.Approve(ctx, ApproveInput{
		LoanID:         loanID,
		ApprovedAmount: in.ApprovedAmount,
		InterestRate:   in.InterestRate,
		ApproverID:     actorID,
	})
}

// Disburse marks an approved loan's funds as released. A nil date means now.
func (l *Ledger) Disburse(ctx context.Context, loanID uuid.UUID, date *time.Time) (*models.Loan, error) {
	var loan *models.Loan
	err := apperr.RetryOnConflict(ctx, l.maxRetries, func() error {
		var err error
		loan, err = l.storage.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if !loan.Status.CanTransitionTo(models.LoanStatusDisbursed) {
			return apperr.StateConflict("cannot disburse a loan that is %s", loan.Status)
		}
		now := l.now()
		at := now
		if date != nil {
			at = date.UTC()
		}
		if at.After(now) {
			return apperr.Validation("disbursement_date cannot be in the future")
		}
		if loan.ApprovalDate != nil && at.Before(*loan.ApprovalDate) {
			return apperr.Validation("disbursement_date cannot precede the approval date")
		}
		loan.Status = models.LoanStatusDisbursed
		loan.DisbursementDate = &at
		loan.UpdatedAt = now
		accrual.Recompute(loan, now)
		return l.storage.UpdateLoan(ctx, loan)
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("loan disbursed", zap.String("loan_id", loan.ID.String()), zap.Time("disbursement_date", *loan.DisbursementDate))
	return loan, nil
}

// DeleteLoan removes a loan that is still pending. The delete is
// version-checked, so a loan approved meanwhile is re-read and refused.
func (l *Ledger) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	err := apperr.RetryOnConflict(ctx, l.maxRetries, func() error {
		loan, err := l.storage.GetLoan(ctx, id)
		if err != nil {
			return err
		}
		if loan.Status != models.LoanStatusPending {
			return apperr.StateConflict("only pending loans can be deleted; loan is %s", loan.Status)
		}
		return l.storage.DeleteLoan(ctx, loan)
	})
	if err != nil {
		return err
	}
	l.logger.Info("loan deleted", zap.String("loan_id", id.String()))
	return nil
}

// GetLoan retrieves a loan by its ID with its snapshot brought up to now.
// The refreshed snapshot is not saved.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	accrual.Recompute(loan, l.now())
	return loan, nil
}

// ListLoans retrieves loans matching filter, each refreshed like GetLoan.
func (l *Ledger) ListLoans(ctx context.Context, filter store.LoanFilter) ([]*models.Loan, error) {
	loans, err := l.storage.ListLoans(ctx, filter)
	if err != nil {
		return nil, err
	}
	now := l.now()
	for _, loan := range loans {
		accrual.Recompute(loan, now)
	}
	return loans, nil
}

func (l *Ledger) notifyBorrower(ctx context.Context, loan *models.Loan) {
	borrower, err := l.storage.GetMember(ctx, loan.BorrowerID)
	if err != nil {
		l.logger.Warn("could not load borrower for notification",
			zap.String("loan_id", loan.ID.String()), zap.Error(err))
		return
	}
	if err := l.notifier.LoanStatusChanged(ctx, borrower, loan); err != nil {
		l.logger.Warn("loan notification failed",
			zap.String("loan_id", loan.ID.String()),
			zap.String("status", string(loan.Status)),
			zap.Error(err))
	}
}

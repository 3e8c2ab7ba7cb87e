package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcclellann/poolfund/pkg/models"
)

// LoanFilter narrows ListLoans. Zero values match everything.
type LoanFilter struct {
	BorrowerID uuid.NullUUID
	Statuses   []models.LoanStatus
}

// RepaymentFilter narrows ListRepayments.
type RepaymentFilter struct {
	LoanID     uuid.NullUUID
	BorrowerID uuid.NullUUID
}

// ContributionFilter narrows ListContributions.
type ContributionFilter struct {
	MemberID uuid.NullUUID
	Month    string
	Statuses []models.ContributionStatus
}

// Storage defines the persistence operations for the pool fund.
//
// Loans and contributions carry a Version. Update methods succeed only if the
// stored version equals the record's version, then increment it; a mismatch
// returns an apperr ConcurrencyConflictError. Missing records return
// NotFoundError and unique-key violations return DuplicateError.
//
// A borrower holds at most one loan that is approved or disbursed. A loan
// write that would give a borrower a second one returns StateConflictError.
type Storage interface {
	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	UpdateLoan(ctx context.Context, loan *models.Loan) error
	// DeleteLoan removes loan and its repayments, version-checked like
	// UpdateLoan.
	DeleteLoan(ctx context.Context, loan *models.Loan) error
	ListLoans(ctx context.Context, filter LoanFilter) ([]*models.Loan, error)
	CountLoans(ctx context.Context, filter LoanFilter) (int, error)

	// RecordRepayment assigns the next receipt number to repayment, inserts
	// it and saves loan (version-checked) atomically.
	RecordRepayment(ctx context.Context, loan *models.Loan, repayment *models.Repayment) error
	ListRepayments(ctx context.Context, filter RepaymentFilter) ([]*models.Repayment, error)

	CreateContribution(ctx context.Context, c *models.Contribution) error
	GetContribution(ctx context.Context, id uuid.UUID) (*models.Contribution, error)
	FindContribution(ctx context.Context, memberID uuid.UUID, month string) (*models.Contribution, error)
	UpdateContribution(ctx context.Context, c *models.Contribution) error
	ListContributions(ctx context.Context, filter ContributionFilter) ([]*models.Contribution, error)

	CreateHistoricalInterest(ctx context.Context, h *models.HistoricalInterest) error
	GetHistoricalInterest(ctx context.Context, id uuid.UUID) (*models.HistoricalInterest, error)
	UpdateHistoricalInterest(ctx context.Context, h *models.HistoricalInterest) error
	DeleteHistoricalInterest(ctx context.Context, id uuid.UUID) error
	ListHistoricalInterest(ctx context.Context) ([]*models.HistoricalInterest, error)

	CreateMember(ctx context.Context, m *models.Member) error
	GetMember(ctx context.Context, id uuid.UUID) (*models.Member, error)
	ListMembers(ctx context.Context, activeOnly bool) ([]*models.Member, error)

	Close() error
}

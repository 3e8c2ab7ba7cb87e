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

// RepaymentInput describes a payment against a disbursed loan. For combined
// payments PrincipalAmount and InterestAmount must both be set and sum to
// Amount.
type RepaymentInput struct {
	LoanID          uuid.UUID          `json:"loan_id" validate:"required"`
	Amount          decimal.Decimal    `json:"amount" validate:"gt=0"`
	PaymentType     models.PaymentType `json:"payment_type" validate:"required,oneof=principal interest combined"`
	PrincipalAmount *decimal.Decimal   `json:"principal_amount" validate:"omitempty,gte=0"`
	InterestAmount  *decimal.Decimal   `json:"interest_amount" validate:"omitempty,gte=0"`
	PaymentMethod   string             `json:"payment_method" validate:"required,oneof=cash bank_transfer mobile_money cheque other"`
	PaymentDate     *time.Time         `json:"payment_date"`
	Note            string             `json:"note" validate:"max=500"`
	RecordedBy      uuid.UUID          `json:"recorded_by" validate:"required"`
}

// RepaymentResult is the saved repayment and the loan after it.
type RepaymentResult struct {
	Repayment *models.Repayment `json:"repayment"`
	Loan      *models.Loan      `json:"loan"`
}

// allocate splits the payment into its principal and interest portions.
func allocate(in RepaymentInput) (principal, interest decimal.Decimal, err error) {
	switch in.PaymentType {
	case models.PaymentTypePrincipal:
		return in.Amount, decimal.Zero, nil
	case models.PaymentTypeInterest:
		return decimal.Zero, in.Amount, nil
	case models.PaymentTypeCombined:
		if in.PrincipalAmount == nil || in.InterestAmount == nil {
			return decimal.Zero, decimal.Zero, apperr.Validation("combined payments need principal_amount and interest_amount")
		}
		principal, interest = *in.PrincipalAmount, *in.InterestAmount
		if principal.Add(interest).Sub(in.Amount).Abs().GreaterThan(splitTolerance) {
			return decimal.Zero, decimal.Zero, apperr.Validation(
				"principal_amount %s and interest_amount %s do not add up to amount %s", principal, interest, in.Amount)
		}
		return principal, interest, nil
	default:
		return decimal.Zero, decimal.Zero, apperr.Validation("unknown payment_type %q", in.PaymentType)
	}
}

// RecordRepayment allocates a payment against a disbursed loan. The loan is
// brought up to date before the principal is checked against what is owed,
// and it completes when nothing remains. Either everything is saved or
// nothing is.
func (l *Ledger) RecordRepayment(ctx context.Context, in RepaymentInput) (*RepaymentResult, error) {
	if err := l.validate.Struct(in); err != nil {
		return nil, err
	}
	principal, interest, err := allocate(in)
	if err != nil {
		return nil, err
	}
	paidAt := l.now()
	if in.PaymentDate != nil {
		if in.PaymentDate.After(paidAt) {
			return nil, apperr.Validation("payment_date cannot be in the future")
		}
		paidAt = in.PaymentDate.UTC()
	}

	repaymentID := uuid.New()
	var (
		loan      *models.Loan
		repayment *models.Repayment
	)
	err = apperr.RetryOnConflict(ctx, l.maxRetries, func() error {
		var err error
		loan, err = l.storage.GetLoan(ctx, in.LoanID)
		if err != nil {
			return err
		}
		if loan.Status != models.LoanStatusDisbursed {
			return apperr.StateConflict("repayments need a disbursed loan; loan is %s", loan.Status)
		}
		if loan.DisbursementDate != nil && paidAt.Before(*loan.DisbursementDate) {
			return apperr.Validation("payment_date cannot precede the disbursement date")
		}
		now := l.now()
		accrual.Recompute(loan, now)
		if !loan.RemainingBalance.IsPositive() {
			return apperr.StateConflict("loan %s has nothing left to repay", loan.ID)
		}
		if principal.GreaterThan(loan.RemainingBalance) {
			return apperr.Validation("principal %s exceeds remaining balance %s", principal, loan.RemainingBalance)
		}

		loan.AmountPaid = loan.AmountPaid.Add(principal)
		loan.RemainingBalance = accrual.Remaining(loan.TotalAmountDue, loan.AmountPaid)
		if !loan.RemainingBalance.IsPositive() {
			loan.Status = models.LoanStatusCompleted
			loan.ActualRepaymentDate = &paidAt
		}
		loan.RepaymentIDs = append(loan.RepaymentIDs, repaymentID)
		loan.UpdatedAt = now

		repayment = &models.Repayment{
			ID:               repaymentID,
			LoanID:           loan.ID,
			BorrowerID:       loan.BorrowerID,
			Amount:           in.Amount,
			PaymentType:      in.PaymentType,
			PaymentDate:      paidAt,
			PaymentMethod:    in.PaymentMethod,
			PrincipalAmount:  principal,
			InterestAmount:   interest,
			RemainingBalance: loan.RemainingBalance,
			RecordedBy:       in.RecordedBy,
			Note:             in.Note,
			CreatedAt:        now,
		}
		return l.storage.RecordRepayment(ctx, loan, repayment)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("repayment recorded",
		zap.String("loan_id", loan.ID.String()),
		zap.String("receipt", repayment.ReceiptNumber),
		zap.String("principal", principal.String()),
		zap.String("interest", interest.String()),
		zap.String("remaining", loan.RemainingBalance.String()))
	if loan.Status == models.LoanStatusCompleted {
		l.notifyBorrower(ctx, loan)
	}
	return &RepaymentResult{Repayment: repayment, Loan: loan}, nil
}

// ListRepayments returns a loan's repayments in receipt order.
func (l *Ledger) ListRepayments(ctx context.Context, loanID uuid.UUID) ([]*models.Repayment, error) {
	if _, err := l.storage.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return l.storage.ListRepayments(ctx, store.RepaymentFilter{LoanID: uuid.NullUUID{UUID: loanID, Valid: true}})
}

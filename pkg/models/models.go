package models

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusPending   LoanStatus = "pending"
	LoanStatusApproved  LoanStatus = "approved"
	LoanStatusRejected  LoanStatus = "rejected"
	LoanStatusDisbursed LoanStatus = "disbursed"
	LoanStatusCompleted LoanStatus = "completed"
)

var loanTransitions = map[LoanStatus][]LoanStatus{
	LoanStatusPending:   {LoanStatusApproved, LoanStatusRejected},
	LoanStatusApproved:  {LoanStatusDisbursed, LoanStatusRejected},
	LoanStatusDisbursed: {LoanStatusCompleted},
}

// CanTransitionTo reports whether next is a legal successor of s.
// Rejected and completed are terminal.
func (s LoanStatus) CanTransitionTo(next LoanStatus) bool {
	return slices.Contains(loanTransitions[s], next)
}

// Open reports whether the loan still counts against the borrower's single
// outstanding loan.
func (s LoanStatus) Open() bool {
	return s == LoanStatusPending || s == LoanStatusApproved || s == LoanStatusDisbursed
}

// Active reports whether the loan holds the borrower's single approved or
// disbursed slot.
func (s LoanStatus) Active() bool {
	return s == LoanStatusApproved || s == LoanStatusDisbursed
}

// Accruing reports whether interest accrues on a loan in this status.
func (s LoanStatus) Accruing() bool {
	return s == LoanStatusApproved || s == LoanStatusDisbursed
}

type Loan struct {
	ID                    uuid.UUID           `json:"id"`
	BorrowerID            uuid.UUID           `json:"borrower_id"`
	RequestedAmount       decimal.Decimal     `json:"requested_amount"`
	ApprovedAmount        decimal.NullDecimal `json:"approved_amount"`
	InterestRate          decimal.Decimal     `json:"interest_rate"` // annual, percent
	Purpose               string              `json:"purpose"`
	ExpectedRepaymentDate time.Time           `json:"expected_repayment_date"`
	Status                LoanStatus          `json:"status"`
	RequestDate           time.Time           `json:"request_date"`
	ApprovalDate          *time.Time          `json:"approval_date,omitempty"`
	ApprovedBy            uuid.NullUUID       `json:"approved_by"`
	DisbursementDate      *time.Time          `json:"disbursement_date,omitempty"`
	ActualRepaymentDate   *time.Time          `json:"actual_repayment_date,omitempty"`
	RejectionReason       string              `json:"rejection_reason,omitempty"`

	// Financial snapshot. RemainingBalance is always max(0, TotalAmountDue - AmountPaid).
	TotalAmountDue   decimal.Decimal `json:"total_amount_due"`
	AmountPaid       decimal.Decimal `json:"amount_paid"` // principal only
	RemainingBalance decimal.Decimal `json:"remaining_balance"`

	RepaymentIDs []uuid.UUID `json:"repayment_ids"`
	Version      int64       `json:"version"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Principal is the approved amount, or the requested amount before approval.
func (l *Loan) Principal() decimal.Decimal {
	if l.ApprovedAmount.Valid {
		return l.ApprovedAmount.Decimal
	}
	return l.RequestedAmount
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	c := *l
	c.ApprovalDate = cloneTime(l.ApprovalDate)
	c.DisbursementDate = cloneTime(l.DisbursementDate)
	c.ActualRepaymentDate = cloneTime(l.ActualRepaymentDate)
	c.RepaymentIDs = slices.Clone(l.RepaymentIDs)
	return &c
}

type PaymentType string

const (
	PaymentTypePrincipal PaymentType = "principal"
	PaymentTypeInterest  PaymentType = "interest"
	PaymentTypeCombined  PaymentType = "combined"
)

// Repayment is an immutable ledger entry for a single payment against a loan.
type Repayment struct {
	ID               uuid.UUID       `json:"id"`
	LoanID           uuid.UUID       `json:"loan_id"`
	BorrowerID       uuid.UUID       `json:"borrower_id"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentType      PaymentType     `json:"payment_type"`
	PaymentDate      time.Time       `json:"payment_date"`
	PaymentMethod    string          `json:"payment_method"`
	PrincipalAmount  decimal.Decimal `json:"principal_amount"`
	InterestAmount   decimal.Decimal `json:"interest_amount"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"` // after this payment
	RecordedBy       uuid.UUID       `json:"recorded_by"`
	Note             string          `json:"note,omitempty"`
	ReceiptNumber    string          `json:"receipt_number"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ReceiptNumber formats the receipt for the seq-th repayment.
func ReceiptNumber(seq int64) string {
	return fmt.Sprintf("RCP-%06d", seq)
}

type InterestSource string

const (
	InterestSourcePreSystem  InterestSource = "pre_system"
	InterestSourceSettlement InterestSource = "settlement"
	InterestSourcePenalty    InterestSource = "penalty"
	InterestSourceOther      InterestSource = "other"
)

// HistoricalInterest is interest income recorded outside the repayment flow.
type HistoricalInterest struct {
	ID           uuid.UUID       `json:"id"`
	Amount       decimal.Decimal `json:"amount"`
	InterestDate time.Time       `json:"interest_date"`
	Source       InterestSource  `json:"source"`
	Description  string          `json:"description"`
	BorrowerID   uuid.NullUUID   `json:"borrower_id"`
	RecordedBy   uuid.UUID       `json:"recorded_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

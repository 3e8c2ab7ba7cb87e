package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ContributionStatus string

const (
	ContributionStatusPaid    ContributionStatus = "paid"
	ContributionStatusPending ContributionStatus = "pending"
	ContributionStatusOverdue ContributionStatus = "overdue"
)

const monthLayout = "2006-01"

// Contribution is one member's payment into the pool for one calendar month.
// (MemberID, Month) is unique.
type Contribution struct {
	ID            uuid.UUID          `json:"id"`
	MemberID      uuid.UUID          `json:"member_id"`
	Month         string             `json:"month"` // YYYY-MM
	Year          int                `json:"year"`
	Amount        decimal.Decimal    `json:"amount"`
	Status        ContributionStatus `json:"status"`
	PaidDate      *time.Time         `json:"paid_date,omitempty"`
	PaymentMethod string             `json:"payment_method,omitempty"`
	RecordedBy    uuid.NullUUID      `json:"recorded_by"`
	Note          string             `json:"note,omitempty"`
	Version       int64              `json:"version"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Clone returns a deep copy of the contribution.
func (c *Contribution) Clone() *Contribution {
	out := *c
	out.PaidDate = cloneTime(c.PaidDate)
	return &out
}

// ParseMonth parses a YYYY-MM month key and returns its normalized form and year.
func ParseMonth(month string) (string, int, error) {
	t, err := time.Parse(monthLayout, month)
	if err != nil {
		return "", 0, fmt.Errorf("month %q is not in YYYY-MM form", month)
	}
	return t.Format(monthLayout), t.Year(), nil
}

// MonthOf returns the YYYY-MM key of t.
func MonthOf(t time.Time) string {
	return t.Format(monthLayout)
}

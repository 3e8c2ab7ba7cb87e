package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoanStatus_CanTransitionTo(t *testing.T) {
	all := []LoanStatus{LoanStatusPending, LoanStatusApproved, LoanStatusRejected, LoanStatusDisbursed, LoanStatusCompleted}
	legal := map[LoanStatus]map[LoanStatus]bool{
		LoanStatusPending:   {LoanStatusApproved: true, LoanStatusRejected: true},
		LoanStatusApproved:  {LoanStatusDisbursed: true, LoanStatusRejected: true},
		LoanStatusDisbursed: {LoanStatusCompleted: true},
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, legal[from][to], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestLoan_CloneIsDeep(t *testing.T) {
	now := time.Now()
	l := &Loan{ID: uuid.New(), ApprovalDate: &now, RepaymentIDs: []uuid.UUID{uuid.New()}}
	c := l.Clone()
	c.RepaymentIDs[0] = uuid.New()
	later := now.Add(time.Hour)
	*c.ApprovalDate = later

	assert.NotEqual(t, l.RepaymentIDs[0], c.RepaymentIDs[0])
	assert.True(t, l.ApprovalDate.Equal(now))
}

func TestParseMonth(t *testing.T) {
	month, year, err := ParseMonth("2024-03")
	require.NoError(t, err)
	assert.Equal(t, "2024-03", month)
	assert.Equal(t, 2024, year)

	_, _, err = ParseMonth("March 2024")
	assert.Error(t, err)

	assert.Equal(t, "2024-11", MonthOf(time.Date(2024, 11, 30, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "RCP-000042", ReceiptNumber(42))
}

func TestMember_Email(t *testing.T) {
	m := &Member{Access: LoginCapable{Email: "wanjiru@example.com"}}
	email, ok := m.Email()
	assert.True(t, ok)
	assert.Equal(t, "wanjiru@example.com", email)
	assert.Equal(t, "login", m.AccessKind())

	m = &Member{Access: RecordOnly{}}
	_, ok = m.Email()
	assert.False(t, ok)
	assert.Equal(t, "record_only", m.AccessKind())
}

package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/poolfund/pkg/apperr"
	"github.com/mcclellann/poolfund/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forEachStore runs fn against every Storage implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Storage)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "pool.db"), nil)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

var day0 = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func newLoan(borrower uuid.UUID) *models.Loan {
	amount := decimal.NewFromInt(10000)
	return &models.Loan{
		ID:                    uuid.New(),
		BorrowerID:            borrower,
		RequestedAmount:       amount,
		InterestRate:          decimal.NewFromInt(16),
		Purpose:               "school fees",
		ExpectedRepaymentDate: day0.AddDate(1, 0, 0),
		Status:                models.LoanStatusPending,
		RequestDate:           day0,
		TotalAmountDue:        amount,
		RemainingBalance:      amount,
		CreatedAt:             day0,
		UpdatedAt:             day0,
	}
}

func TestLoanRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		loan := newLoan(uuid.New())
		require.NoError(t, s.CreateLoan(ctx, loan))

		got, err := s.GetLoan(ctx, loan.ID)
		require.NoError(t, err)
		assert.Equal(t, loan.BorrowerID, got.BorrowerID)
		assert.True(t, loan.RequestedAmount.Equal(got.RequestedAmount))
		assert.False(t, got.ApprovedAmount.Valid)
		assert.False(t, got.ApprovedBy.Valid)
		assert.Nil(t, got.ApprovalDate)
		assert.Equal(t, models.LoanStatusPending, got.Status)
		assert.True(t, loan.ExpectedRepaymentDate.Equal(got.ExpectedRepaymentDate))
		assert.Empty(t, got.RepaymentIDs)

		approved := day0.AddDate(0, 0, 1)
		got.Status = models.LoanStatusApproved
		got.ApprovedAmount = decimal.NewNullDecimal(decimal.RequireFromString("7500.50"))
		got.ApprovedBy = uuid.NullUUID{UUID: uuid.New(), Valid: true}
		got.ApprovalDate = &approved
		require.NoError(t, s.UpdateLoan(ctx, got))
		assert.EqualValues(t, 1, got.Version)

		again, err := s.GetLoan(ctx, loan.ID)
		require.NoError(t, err)
		assert.Equal(t, "7500.5", again.ApprovedAmount.Decimal.String())
		assert.Equal(t, got.ApprovedBy, again.ApprovedBy)
		require.NotNil(t, again.ApprovalDate)
		assert.True(t, approved.Equal(*again.ApprovalDate))
		assert.EqualValues(t, 1, again.Version)
	})
}

func TestLoanNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		_, err := s.GetLoan(ctx, uuid.New())
		assert.True(t, apperr.Is(err, apperr.KindNotFound))

		err = s.UpdateLoan(ctx, newLoan(uuid.New()))
		assert.True(t, apperr.Is(err, apperr.KindNotFound))

		err = s.DeleteLoan(ctx, newLoan(uuid.New()))
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})
}

func TestUpdateLoanStaleVersion(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		loan := newLoan(uuid.New())
		require.NoError(t, s.CreateLoan(ctx, loan))

		first, _ := s.GetLoan(ctx, loan.ID)
		second, _ := s.GetLoan(ctx, loan.ID)

		first.Purpose = "roof"
		require.NoError(t, s.UpdateLoan(ctx, first))

		second.Purpose = "harvest"
		err := s.UpdateLoan(ctx, second)
		assert.True(t, apperr.Is(err, apperr.KindConcurrencyConflict))

		stored, _ := s.GetLoan(ctx, loan.ID)
		assert.Equal(t, "roof", stored.Purpose)
	})
}

func TestListAndCountLoans(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		alice, bob := uuid.New(), uuid.New()
		a1 := newLoan(alice)
		a2 := newLoan(alice)
		a2.Status = models.LoanStatusRejected
		b1 := newLoan(bob)
		for _, l := range []*models.Loan{a1, a2, b1} {
			require.NoError(t, s.CreateLoan(ctx, l))
		}

		all, err := s.ListLoans(ctx, LoanFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, a1.ID, all[0].ID)
		assert.Equal(t, b1.ID, all[2].ID)

		mine, err := s.ListLoans(ctx, LoanFilter{BorrowerID: uuid.NullUUID{UUID: alice, Valid: true}})
		require.NoError(t, err)
		assert.Len(t, mine, 2)

		n, err := s.CountLoans(ctx, LoanFilter{
			BorrowerID: uuid.NullUUID{UUID: alice, Valid: true},
			Statuses:   []models.LoanStatus{models.LoanStatusPending, models.LoanStatusApproved},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func repaymentFor(loan *models.Loan, amount int64) *models.Repayment {
	return &models.Repayment{
		ID:               uuid.New(),
		LoanID:           loan.ID,
		BorrowerID:       loan.BorrowerID,
		Amount:           decimal.NewFromInt(amount),
		PaymentType:      models.PaymentTypePrincipal,
		PaymentDate:      day0,
		PaymentMethod:    "cash",
		PrincipalAmount:  decimal.NewFromInt(amount),
		InterestAmount:   decimal.Zero,
		RemainingBalance: decimal.Zero,
		RecordedBy:       uuid.New(),
		CreatedAt:        day0,
	}
}

func TestRecordRepaymentAssignsReceipts(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		loan := newLoan(uuid.New())
		require.NoError(t, s.CreateLoan(ctx, loan))

		for i := 1; i <= 3; i++ {
			current, err := s.GetLoan(ctx, loan.ID)
			require.NoError(t, err)
			r := repaymentFor(current, 100)
			current.RepaymentIDs = append(current.RepaymentIDs, r.ID)
			current.AmountPaid = current.AmountPaid.Add(r.PrincipalAmount)
			require.NoError(t, s.RecordRepayment(ctx, current, r))
			assert.Equal(t, models.ReceiptNumber(int64(i)), r.ReceiptNumber)
		}

		list, err := s.ListRepayments(ctx, RepaymentFilter{LoanID: uuid.NullUUID{UUID: loan.ID, Valid: true}})
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "RCP-000001", list[0].ReceiptNumber)
		assert.Equal(t, "RCP-000003", list[2].ReceiptNumber)

		stored, _ := s.GetLoan(ctx, loan.ID)
		assert.Len(t, stored.RepaymentIDs, 3)
		assert.Equal(t, list[2].ID, stored.RepaymentIDs[2])
		assert.Equal(t, "300", stored.AmountPaid.String())
	})
}

func TestRecordRepaymentStaleLoanWritesNothing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		loan := newLoan(uuid.New())
		require.NoError(t, s.CreateLoan(ctx, loan))

		stale, _ := s.GetLoan(ctx, loan.ID)
		fresh, _ := s.GetLoan(ctx, loan.ID)
		require.NoError(t, s.UpdateLoan(ctx, fresh))

		err := s.RecordRepayment(ctx, stale, repaymentFor(stale, 50))
		assert.True(t, apperr.Is(err, apperr.KindConcurrencyConflict))

		list, err := s.ListRepayments(ctx, RepaymentFilter{})
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestConcurrentRepaymentsOnlyOneWins(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		loan := newLoan(uuid.New())
		require.NoError(t, s.CreateLoan(ctx, loan))

		const writers = 8
		snapshots := make([]*models.Loan, writers)
		for i := range snapshots {
			snapshots[i], _ = s.GetLoan(ctx, loan.ID)
		}

		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.RecordRepayment(ctx, snapshots[i], repaymentFor(snapshots[i], 10))
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.True(t, apperr.Is(err, apperr.KindConcurrencyConflict), "unexpected error: %v", err)
		}
		assert.Equal(t, 1, wins)
	})
}

func TestDeleteLoanRemovesRepayments(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		loan := newLoan(uuid.New())
		require.NoError(t, s.CreateLoan(ctx, loan))
		current, _ := s.GetLoan(ctx, loan.ID)
		require.NoError(t, s.RecordRepayment(ctx, current, repaymentFor(current, 10)))

		require.NoError(t, s.DeleteLoan(ctx, current))
		_, err := s.GetLoan(ctx, loan.ID)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
		list, _ := s.ListRepayments(ctx, RepaymentFilter{})
		assert.Empty(t, list)
	})
}

func TestDeleteLoanStaleVersion(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		loan := newLoan(uuid.New())
		require.NoError(t, s.CreateLoan(ctx, loan))

		stale, _ := s.GetLoan(ctx, loan.ID)
		fresh, _ := s.GetLoan(ctx, loan.ID)
		fresh.Status = models.LoanStatusApproved
		require.NoError(t, s.UpdateLoan(ctx, fresh))

		err := s.DeleteLoan(ctx, stale)
		assert.True(t, apperr.Is(err, apperr.KindConcurrencyConflict), "got %v", err)

		stored, err := s.GetLoan(ctx, loan.ID)
		require.NoError(t, err)
		assert.Equal(t, models.LoanStatusApproved, stored.Status)
	})
}

func TestOneActiveLoanPerBorrower(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		borrower := uuid.New()
		first, second := newLoan(borrower), newLoan(borrower)
		require.NoError(t, s.CreateLoan(ctx, first))
		require.NoError(t, s.CreateLoan(ctx, second))

		a, _ := s.GetLoan(ctx, first.ID)
		b, _ := s.GetLoan(ctx, second.ID)
		a.Status = models.LoanStatusApproved
		require.NoError(t, s.UpdateLoan(ctx, a))

		b.Status = models.LoanStatusApproved
		err := s.UpdateLoan(ctx, b)
		assert.True(t, apperr.Is(err, apperr.KindStateConflict), "got %v", err)

		// Inserting an already active loan is refused the same way.
		third := newLoan(borrower)
		third.Status = models.LoanStatusDisbursed
		err = s.CreateLoan(ctx, third)
		assert.True(t, apperr.Is(err, apperr.KindStateConflict), "got %v", err)

		// Once the first is completed the slot is free again.
		a.Status = models.LoanStatusCompleted
		require.NoError(t, s.UpdateLoan(ctx, a))
		b, _ = s.GetLoan(ctx, second.ID)
		b.Status = models.LoanStatusApproved
		require.NoError(t, s.UpdateLoan(ctx, b))

		// Other borrowers are unaffected.
		other := newLoan(uuid.New())
		other.Status = models.LoanStatusDisbursed
		require.NoError(t, s.CreateLoan(ctx, other))
	})
}

func newContribution(member uuid.UUID, month string) *models.Contribution {
	_, year, _ := models.ParseMonth(month)
	return &models.Contribution{
		ID:        uuid.New(),
		MemberID:  member,
		Month:     month,
		Year:      year,
		Amount:    decimal.NewFromInt(500),
		Status:    models.ContributionStatusPending,
		CreatedAt: day0,
		UpdatedAt: day0,
	}
}

func TestContributionUniquePerMemberMonth(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		member := uuid.New()
		require.NoError(t, s.CreateContribution(ctx, newContribution(member, "2024-03")))

		err := s.CreateContribution(ctx, newContribution(member, "2024-03"))
		assert.True(t, apperr.Is(err, apperr.KindDuplicate))

		require.NoError(t, s.CreateContribution(ctx, newContribution(member, "2024-04")))
		require.NoError(t, s.CreateContribution(ctx, newContribution(uuid.New(), "2024-03")))

		found, err := s.FindContribution(ctx, member, "2024-03")
		require.NoError(t, err)
		assert.Equal(t, 2024, found.Year)

		_, err = s.FindContribution(ctx, member, "2024-05")
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})
}

func TestUpdateContribution(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		member := uuid.New()
		c := newContribution(member, "2024-03")
		require.NoError(t, s.CreateContribution(ctx, c))

		got, err := s.GetContribution(ctx, c.ID)
		require.NoError(t, err)
		paid := day0.AddDate(0, 2, 0)
		got.Status = models.ContributionStatusPaid
		got.PaidDate = &paid
		got.RecordedBy = uuid.NullUUID{UUID: uuid.New(), Valid: true}
		require.NoError(t, s.UpdateContribution(ctx, got))

		stale, _ := s.GetContribution(ctx, c.ID)
		stale.Version = 0
		err = s.UpdateContribution(ctx, stale)
		assert.True(t, apperr.Is(err, apperr.KindConcurrencyConflict))

		paidOnly, err := s.ListContributions(ctx, ContributionFilter{
			MemberID: uuid.NullUUID{UUID: member, Valid: true},
			Statuses: []models.ContributionStatus{models.ContributionStatusPaid},
		})
		require.NoError(t, err)
		require.Len(t, paidOnly, 1)
		require.NotNil(t, paidOnly[0].PaidDate)
		assert.True(t, paid.Equal(*paidOnly[0].PaidDate))
	})
}

func TestHistoricalInterestCRUD(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		h := &models.HistoricalInterest{
			ID:           uuid.New(),
			Amount:       decimal.RequireFromString("1250.75"),
			InterestDate: day0,
			Source:       models.InterestSourcePreSystem,
			Description:  "ledger book 2019-2023",
			RecordedBy:   uuid.New(),
			CreatedAt:    day0,
			UpdatedAt:    day0,
		}
		require.NoError(t, s.CreateHistoricalInterest(ctx, h))

		h.Source = models.InterestSourceSettlement
		h.BorrowerID = uuid.NullUUID{UUID: uuid.New(), Valid: true}
		require.NoError(t, s.UpdateHistoricalInterest(ctx, h))

		got, err := s.GetHistoricalInterest(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, models.InterestSourceSettlement, got.Source)
		assert.Equal(t, h.BorrowerID, got.BorrowerID)
		assert.Equal(t, "1250.75", got.Amount.String())

		list, err := s.ListHistoricalInterest(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		require.NoError(t, s.DeleteHistoricalInterest(ctx, h.ID))
		_, err = s.GetHistoricalInterest(ctx, h.ID)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
		assert.True(t, apperr.Is(s.DeleteHistoricalInterest(ctx, h.ID), apperr.KindNotFound))
	})
}

func TestMembers(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		login := &models.Member{
			ID: uuid.New(), FullName: "Amina Otieno", Role: models.RoleAdmin, Active: true, JoinedAt: day0,
			Access: models.LoginCapable{Email: "amina@example.org", PasswordHash: "hash"},
		}
		record := &models.Member{
			ID: uuid.New(), FullName: "Joseph Mwangi", Role: models.RoleMember, Active: false, JoinedAt: day0,
			Access: models.RecordOnly{},
		}
		require.NoError(t, s.CreateMember(ctx, login))
		require.NoError(t, s.CreateMember(ctx, record))

		dup := &models.Member{
			ID: uuid.New(), FullName: "Someone Else", Role: models.RoleMember, Active: true, JoinedAt: day0,
			Access: models.LoginCapable{Email: "AMINA@example.org", PasswordHash: "x"},
		}
		assert.True(t, apperr.Is(s.CreateMember(ctx, dup), apperr.KindDuplicate))

		got, err := s.GetMember(ctx, login.ID)
		require.NoError(t, err)
		email, ok := got.Email()
		assert.True(t, ok)
		assert.Equal(t, "amina@example.org", email)

		got, err = s.GetMember(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, "record_only", got.AccessKind())

		active, err := s.ListMembers(ctx, true)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, login.ID, active[0].ID)

		all, err := s.ListMembers(ctx, false)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

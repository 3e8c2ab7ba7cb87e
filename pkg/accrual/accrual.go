// Package accrual implements simple (non-compounding) interest accrual on loans.
package accrual

import (
	"time"

	"github.com/mcclellann/poolfund/pkg/models"
	"github.com/shopspring/decimal"
)

const moneyPlaces = 2

var (
	hundred         = decimal.NewFromInt(100)
	monthsInYear    = decimal.NewFromInt(12)
	daysPerMonthApx = decimal.NewFromInt(30)
)

// ElapsedMonths returns the months between start and eval.
//
// Whole months come from the calendar year/month difference. When the
// evaluation day-of-month is past the start day-of-month, day(eval)/30 is
// added as a fractional month. This is a fixed policy, not a calendar-exact
// day count; outstanding loans depend on it. The result is never negative.
func ElapsedMonths(start, eval time.Time) decimal.Decimal {
	start, eval = start.UTC(), eval.UTC()
	whole := (eval.Year()-start.Year())*12 + int(eval.Month()) - int(start.Month())
	months := decimal.NewFromInt(int64(whole))
	if eval.Day() > start.Day() {
		months = months.Add(decimal.NewFromInt(int64(eval.Day())).Div(daysPerMonthApx))
	}
	if months.IsNegative() {
		return decimal.Zero
	}
	return months
}

// SimpleInterest returns principal * rate/100 * months/12, unrounded.
func SimpleInterest(principal, annualRatePercent, months decimal.Decimal) decimal.Decimal {
	return principal.Mul(annualRatePercent).Div(hundred).Mul(months).Div(monthsInYear)
}

// Round applies the money rounding policy: two places, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

// Remaining returns max(0, totalDue - paid).
func Remaining(totalDue, paid decimal.Decimal) decimal.Decimal {
	r := totalDue.Sub(paid)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Recompute refreshes the loan's financial snapshot as of now and reports
// whether anything changed. Calling it twice with the same now is a no-op the
// second time. Rejected and completed loans are frozen.
func Recompute(loan *models.Loan, now time.Time) bool {
	if loan.Status == models.LoanStatusRejected || loan.Status == models.LoanStatusCompleted {
		return false
	}

	total := loan.Principal()
	if loan.Status.Accruing() && loan.ApprovedAmount.Valid && loan.ApprovalDate != nil {
		months := ElapsedMonths(*loan.ApprovalDate, now)
		interest := SimpleInterest(loan.ApprovedAmount.Decimal, loan.InterestRate, months)
		total = loan.ApprovedAmount.Decimal.Add(interest)
	}
	total = Round(total)
	remaining := Remaining(total, loan.AmountPaid)

	changed := !total.Equal(loan.TotalAmountDue) || !remaining.Equal(loan.RemainingBalance)
	loan.TotalAmountDue = total
	loan.RemainingBalance = remaining
	return changed
}

// AccruedInterest is the interest component of the loan's current total due.
func AccruedInterest(loan *models.Loan) decimal.Decimal {
	if !loan.ApprovedAmount.Valid {
		return decimal.Zero
	}
	i := loan.TotalAmountDue.Sub(loan.ApprovedAmount.Decimal)
	if i.IsNegative() {
		return decimal.Zero
	}
	return i
}

// AnnualInterest is the yearly simple interest on the approved principal.
func AnnualInterest(loan *models.Loan) decimal.Decimal {
	if !loan.ApprovedAmount.Valid {
		return decimal.Zero
	}
	return loan.ApprovedAmount.Decimal.Mul(loan.InterestRate).Div(hundred)
}

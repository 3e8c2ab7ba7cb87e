// Package finance rolls the loan, repayment, contribution and historical
// interest ledgers up into community-wide figures.
package finance

import (
	"context"
	"time"

	"github.com/mcclellann/poolfund/pkg/accrual"
	"github.com/mcclellann/poolfund/pkg/models"
	"github.com/mcclellann/poolfund/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const historyMonths = 12

// MonthSummary is one month of the trailing history.
type MonthSummary struct {
	Month         string          `json:"month"`
	Contributions decimal.Decimal `json:"contributions"`
	LoansGiven    decimal.Decimal `json:"loans_given"`
	Interest      decimal.Decimal `json:"interest"`
	NetGrowth     decimal.Decimal `json:"net_growth"`
}

// CommunityFinances is a point-in-time snapshot of the pool.
type CommunityFinances struct {
	AsOf                   time.Time       `json:"as_of"`
	TotalContributions     decimal.Decimal `json:"total_contributions"`
	ActiveLoansPrincipal   decimal.Decimal `json:"active_loans_principal"`
	ActiveLoans            int             `json:"active_loans"`
	TotalInterestCollected decimal.Decimal `json:"total_interest_collected"`
	AvailableLiquidFunds   decimal.Decimal `json:"available_liquid_funds"`
	ExpectedAnnualInterest decimal.Decimal `json:"expected_annual_interest"`
	History                []MonthSummary  `json:"history"`
}

// Aggregator computes CommunityFinances fresh from storage on every call.
// It never writes.
type Aggregator struct {
	storage store.Storage
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Aggregator)

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *Aggregator) { a.logger = logger }
}

func NewAggregator(s store.Storage, opts ...Option) *Aggregator {
	a := &Aggregator{
		storage: s,
		logger:  zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// history accumulates per-month sums for the trailing window.
type history struct {
	months []MonthSummary
	index  map[string]int
}

func newHistory(asOf time.Time) *history {
	h := &history{index: make(map[string]int, historyMonths)}
	first := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(historyMonths - 1), 0)
	for i := 0; i < historyMonths; i++ {
		key := models.MonthOf(first.AddDate(0, i, 0))
		h.index[key] = i
		h.months = append(h.months, MonthSummary{
			Month:         key,
			Contributions: decimal.Zero,
			LoansGiven:    decimal.Zero,
			Interest:      decimal.Zero,
			NetGrowth:     decimal.Zero,
		})
	}
	return h
}

func (h *history) at(t time.Time) *MonthSummary {
	i, ok := h.index[models.MonthOf(t.UTC())]
	if !ok {
		return nil
	}
	return &h.months[i]
}

// contributionDate is when a paid contribution counts: its paid date, or the
// first of its month for backfilled records without one.
func contributionDate(c *models.Contribution) time.Time {
	if c.PaidDate != nil {
		return *c.PaidDate
	}
	t, err := time.Parse("2006-01", c.Month)
	if err != nil {
		return c.CreatedAt
	}
	return t
}

// fundedDate is when a loan's principal left the pool, or nil if it never did.
func fundedDate(l *models.Loan) *time.Time {
	switch l.Status {
	case models.LoanStatusApproved, models.LoanStatusDisbursed, models.LoanStatusCompleted:
	default:
		return nil
	}
	if l.DisbursementDate != nil {
		return l.DisbursementDate
	}
	return l.ApprovalDate
}

// GetCommunityFinances returns the pool's figures as of asOf. A zero asOf
// means now. Records dated after asOf are left out.
func (a *Aggregator) GetCommunityFinances(ctx context.Context, asOf time.Time) (*CommunityFinances, error) {
	if asOf.IsZero() {
		asOf = a.now()
	}
	asOf = asOf.UTC()
	hist := newHistory(asOf)
	out := &CommunityFinances{
		AsOf:                   asOf,
		TotalContributions:     decimal.Zero,
		ActiveLoansPrincipal:   decimal.Zero,
		TotalInterestCollected: decimal.Zero,
		ExpectedAnnualInterest: decimal.Zero,
	}

	paid, err := a.storage.ListContributions(ctx, store.ContributionFilter{
		Statuses: []models.ContributionStatus{models.ContributionStatusPaid},
	})
	if err != nil {
		return nil, err
	}
	for _, c := range paid {
		at := contributionDate(c)
		if at.After(asOf) {
			continue
		}
		out.TotalContributions = out.TotalContributions.Add(c.Amount)
		if m := hist.at(at); m != nil {
			m.Contributions = m.Contributions.Add(c.Amount)
		}
	}

	loans, err := a.storage.ListLoans(ctx, store.LoanFilter{})
	if err != nil {
		return nil, err
	}
	for _, l := range loans {
		if l.Status.Accruing() && l.ApprovalDate != nil && !l.ApprovalDate.After(asOf) {
			accrual.Recompute(l, asOf)
			out.ExpectedAnnualInterest = out.ExpectedAnnualInterest.Add(accrual.AnnualInterest(l))
			if l.RemainingBalance.IsPositive() {
				out.ActiveLoansPrincipal = out.ActiveLoansPrincipal.Add(l.Principal())
				out.ActiveLoans++
			}
		}
		if at := fundedDate(l); at != nil && !at.After(asOf) {
			if m := hist.at(*at); m != nil {
				m.LoansGiven = m.LoansGiven.Add(l.Principal())
			}
		}
	}

	repayments, err := a.storage.ListRepayments(ctx, store.RepaymentFilter{})
	if err != nil {
		return nil, err
	}
	for _, r := range repayments {
		if r.PaymentDate.After(asOf) || r.InterestAmount.IsZero() {
			continue
		}
		out.TotalInterestCollected = out.TotalInterestCollected.Add(r.InterestAmount)
		if m := hist.at(r.PaymentDate); m != nil {
			m.Interest = m.Interest.Add(r.InterestAmount)
		}
	}

	historical, err := a.storage.ListHistoricalInterest(ctx)
	if err != nil {
		return nil, err
	}
	for _, h := range historical {
		if h.InterestDate.After(asOf) {
			continue
		}
		out.TotalInterestCollected = out.TotalInterestCollected.Add(h.Amount)
		if m := hist.at(h.InterestDate); m != nil {
			m.Interest = m.Interest.Add(h.Amount)
		}
	}

	for i := range hist.months {
		m := &hist.months[i]
		m.NetGrowth = m.Contributions.Add(m.Interest).Sub(m.LoansGiven)
	}
	out.History = hist.months
	out.AvailableLiquidFunds = out.TotalContributions.Add(out.TotalInterestCollected).Sub(out.ActiveLoansPrincipal)
	out.ExpectedAnnualInterest = accrual.Round(out.ExpectedAnnualInterest)

	a.logger.Debug("community finances computed",
		zap.Time("as_of", asOf),
		zap.Int("loans", len(loans)),
		zap.Int("contributions", len(paid)),
		zap.Int("repayments", len(repayments)))
	return out, nil
}

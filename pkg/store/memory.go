package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mcclellann/poolfund/pkg/apperr"
	"github.com/mcclellann/poolfund/pkg/models"
)

// MemoryStore is an in-process Storage. Records are copied on the way in and
// out, so callers never share state with the store.
type MemoryStore struct {
	mu sync.RWMutex

	loans     map[uuid.UUID]*models.Loan
	loanOrder []uuid.UUID

	repayments  []*models.Repayment
	receiptSeq  int64
	contribs    map[uuid.UUID]*models.Contribution
	contribKeys map[string]uuid.UUID
	contribSeq  []uuid.UUID

	interest      map[uuid.UUID]*models.HistoricalInterest
	interestOrder []uuid.UUID

	members     map[uuid.UUID]*models.Member
	memberOrder []uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		loans:       make(map[uuid.UUID]*models.Loan),
		contribs:    make(map[uuid.UUID]*models.Contribution),
		contribKeys: make(map[string]uuid.UUID),
		interest:    make(map[uuid.UUID]*models.HistoricalInterest),
		members:     make(map[uuid.UUID]*models.Member),
	}
}

func contribKey(memberID uuid.UUID, month string) string {
	return memberID.String() + "|" + month
}

func (m *MemoryStore) CreateLoan(_ context.Context, loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loans[loan.ID]; ok {
		return apperr.Duplicate("loan %s already exists", loan.ID)
	}
	if err := m.checkActiveLocked(loan); err != nil {
		return err
	}
	m.loans[loan.ID] = loan.Clone()
	m.loanOrder = append(m.loanOrder, loan.ID)
	return nil
}

func (m *MemoryStore) GetLoan(_ context.Context, id uuid.UUID) (*models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loan, ok := m.loans[id]
	if !ok {
		return nil, apperr.NotFound("loan %s not found", id)
	}
	return loan.Clone(), nil
}

func (m *MemoryStore) UpdateLoan(_ context.Context, loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLoanLocked(loan)
}

func (m *MemoryStore) updateLoanLocked(loan *models.Loan) error {
	current, ok := m.loans[loan.ID]
	if !ok {
		return apperr.NotFound("loan %s not found", loan.ID)
	}
	if current.Version != loan.Version {
		return apperr.Conflict("loan %s was modified concurrently", loan.ID)
	}
	if err := m.checkActiveLocked(loan); err != nil {
		return err
	}
	loan.Version++
	m.loans[loan.ID] = loan.Clone()
	return nil
}

// checkActiveLocked refuses a second approved or disbursed loan for the
// borrower. Callers hold m.mu.
func (m *MemoryStore) checkActiveLocked(loan *models.Loan) error {
	if !loan.Status.Active() {
		return nil
	}
	for id, other := range m.loans {
		if id != loan.ID && other.BorrowerID == loan.BorrowerID && other.Status.Active() {
			return apperr.StateConflict("borrower %s already has an approved or disbursed loan", loan.BorrowerID)
		}
	}
	return nil
}

func (m *MemoryStore) DeleteLoan(_ context.Context, loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := loan.ID
	current, ok := m.loans[id]
	if !ok {
		return apperr.NotFound("loan %s not found", id)
	}
	if current.Version != loan.Version {
		return apperr.Conflict("loan %s was modified concurrently", id)
	}
	delete(m.loans, id)
	m.loanOrder = slices.DeleteFunc(m.loanOrder, func(x uuid.UUID) bool { return x == id })
	m.repayments = slices.DeleteFunc(m.repayments, func(r *models.Repayment) bool { return r.LoanID == id })
	return nil
}

func (m *MemoryStore) ListLoans(_ context.Context, filter LoanFilter) ([]*models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Loan
	for _, id := range m.loanOrder {
		loan := m.loans[id]
		if filter.BorrowerID.Valid && loan.BorrowerID != filter.BorrowerID.UUID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, loan.Status) {
			continue
		}
		out = append(out, loan.Clone())
	}
	return out, nil
}

func (m *MemoryStore) CountLoans(ctx context.Context, filter LoanFilter) (int, error) {
	loans, err := m.ListLoans(ctx, filter)
	return len(loans), err
}

func (m *MemoryStore) RecordRepayment(_ context.Context, loan *models.Loan, repayment *models.Repayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateLoanLocked(loan); err != nil {
		return err
	}
	m.receiptSeq++
	repayment.ReceiptNumber = models.ReceiptNumber(m.receiptSeq)
	r := *repayment
	m.repayments = append(m.repayments, &r)
	return nil
}

func (m *MemoryStore) ListRepayments(_ context.Context, filter RepaymentFilter) ([]*models.Repayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Repayment
	for _, r := range m.repayments {
		if filter.LoanID.Valid && r.LoanID != filter.LoanID.UUID {
			continue
		}
		if filter.BorrowerID.Valid && r.BorrowerID != filter.BorrowerID.UUID {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

func (m *MemoryStore) CreateContribution(_ context.Context, c *models.Contribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := contribKey(c.MemberID, c.Month)
	if _, ok := m.contribKeys[key]; ok {
		return apperr.Duplicate("contribution for member %s in %s already exists", c.MemberID, c.Month)
	}
	m.contribs[c.ID] = c.Clone()
	m.contribKeys[key] = c.ID
	m.contribSeq = append(m.contribSeq, c.ID)
	return nil
}

func (m *MemoryStore) GetContribution(_ context.Context, id uuid.UUID) (*models.Contribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contribs[id]
	if !ok {
		return nil, apperr.NotFound("contribution %s not found", id)
	}
	return c.Clone(), nil
}

func (m *MemoryStore) FindContribution(_ context.Context, memberID uuid.UUID, month string) (*models.Contribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.contribKeys[contribKey(memberID, month)]
	if !ok {
		return nil, apperr.NotFound("no contribution for member %s in %s", memberID, month)
	}
	return m.contribs[id].Clone(), nil
}

func (m *MemoryStore) UpdateContribution(_ context.Context, c *models.Contribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.contribs[c.ID]
	if !ok {
		return apperr.NotFound("contribution %s not found", c.ID)
	}
	if current.Version != c.Version {
		return apperr.Conflict("contribution %s was modified concurrently", c.ID)
	}
	if current.MemberID != c.MemberID || current.Month != c.Month {
		return apperr.Validation("contribution member and month cannot change")
	}
	c.Version++
	m.contribs[c.ID] = c.Clone()
	return nil
}

func (m *MemoryStore) ListContributions(_ context.Context, filter ContributionFilter) ([]*models.Contribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Contribution
	for _, id := range m.contribSeq {
		c := m.contribs[id]
		if filter.MemberID.Valid && c.MemberID != filter.MemberID.UUID {
			continue
		}
		if filter.Month != "" && c.Month != filter.Month {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, c.Status) {
			continue
		}
		out = append(out, c.Clone())
	}
	return out, nil
}

func (m *MemoryStore) CreateHistoricalInterest(_ context.Context, h *models.HistoricalInterest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.interest[h.ID]; ok {
		return apperr.Duplicate("historical interest %s already exists", h.ID)
	}
	c := *h
	m.interest[h.ID] = &c
	m.interestOrder = append(m.interestOrder, h.ID)
	return nil
}

func (m *MemoryStore) GetHistoricalInterest(_ context.Context, id uuid.UUID) (*models.HistoricalInterest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.interest[id]
	if !ok {
		return nil, apperr.NotFound("historical interest %s not found", id)
	}
	c := *h
	return &c, nil
}

func (m *MemoryStore) UpdateHistoricalInterest(_ context.Context, h *models.HistoricalInterest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.interest[h.ID]; !ok {
		return apperr.NotFound("historical interest %s not found", h.ID)
	}
	c := *h
	m.interest[h.ID] = &c
	return nil
}

func (m *MemoryStore) DeleteHistoricalInterest(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.interest[id]; !ok {
		return apperr.NotFound("historical interest %s not found", id)
	}
	delete(m.interest, id)
	m.interestOrder = slices.DeleteFunc(m.interestOrder, func(x uuid.UUID) bool { return x == id })
	return nil
}

func (m *MemoryStore) ListHistoricalInterest(_ context.Context) ([]*models.HistoricalInterest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.HistoricalInterest, 0, len(m.interestOrder))
	for _, id := range m.interestOrder {
		c := *m.interest[id]
		out = append(out, &c)
	}
	return out, nil
}

func (m *MemoryStore) CreateMember(_ context.Context, member *models.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[member.ID]; ok {
		return apperr.Duplicate("member %s already exists", member.ID)
	}
	if email, ok := member.Email(); ok {
		for _, existing := range m.members {
			if other, ok := existing.Email(); ok && strings.EqualFold(other, email) {
				return apperr.Duplicate("a member with email %s already exists", email)
			}
		}
	}
	c := *member
	m.members[member.ID] = &c
	m.memberOrder = append(m.memberOrder, member.ID)
	return nil
}

func (m *MemoryStore) GetMember(_ context.Context, id uuid.UUID) (*models.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	member, ok := m.members[id]
	if !ok {
		return nil, apperr.NotFound("member %s not found", id)
	}
	c := *member
	return &c, nil
}

func (m *MemoryStore) ListMembers(_ context.Context, activeOnly bool) ([]*models.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Member
	for _, id := range m.memberOrder {
		member := m.members[id]
		if activeOnly && !member.Active {
			continue
		}
		c := *member
		out = append(out, &c)
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/poolfund/pkg/contributions"
	"github.com/mcclellann/poolfund/pkg/finance"
	"github.com/mcclellann/poolfund/pkg/ledger"
	"github.com/mcclellann/poolfund/pkg/members"
	"github.com/mcclellann/poolfund/pkg/models"
	"github.com/mcclellann/poolfund/pkg/store"
	"github.com/shopspring/decimal"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ownLoan loads a loan the actor may see: admins see every loan, members
// only their own.
func (s *Server) ownLoan(r *http.Request, actor Actor) (*models.Loan, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	loan, err := s.ledger.GetLoan(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && loan.BorrowerID != actor.ID {
		return nil, errForbidden
	}
	return loan, nil
}

var errForbidden = errors.New("not allowed to access this record")

// fail writes err, answering 403 for ownership failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errForbidden) {
		writeStatus(w, http.StatusForbidden, "Forbidden", err.Error())
		return
	}
	s.writeError(w, r, err)
}

func (s *Server) requestLoanHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req struct {
		BorrowerID            *uuid.UUID      `json:"borrower_id"`
		Amount                decimal.Decimal `json:"amount"`
		Purpose               string          `json:"purpose"`
		ExpectedRepaymentDate time.Time       `json:"expected_repayment_date"`
	}
	if err := decode(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	borrower := actor.ID
	if req.BorrowerID != nil && *req.BorrowerID != actor.ID {
		if !actor.Admin {
			s.fail(w, r, errForbidden)
			return
		}
		borrower = *req.BorrowerID
	}

	loan, err := s.ledger.RequestLoan(r.Context(), ledger.LoanRequest{
		BorrowerID:            borrower,
		Amount:                req.Amount,
		Purpose:               req.Purpose,
		ExpectedRepaymentDate: req.ExpectedRepaymentDate,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	loan, err := s.ownLoan(r, actor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	borrower, err := queryID(r, "borrower_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !actor.Admin {
		borrower = uuid.NullUUID{UUID: actor.ID, Valid: true}
	}
	filter := store.LoanFilter{BorrowerID: borrower}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, status := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, models.LoanStatus(strings.TrimSpace(status)))
		}
	}

	loans, err := s.ledger.ListLoans(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if loans == nil {
		loans = []*models.Loan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	loan, err := s.ownLoan(r, actor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ledger.DeleteLoan(r.Context(), loan.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decideLoanHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var in ledger.DecisionInput
	if err := decode(r, &in, false); err != nil {
		s.fail(w, r, err)
		return
	}
	loan, err := s.ledger.DecideLoan(r.Context(), id, actor.ID, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) disburseLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req struct {
		DisbursementDate *time.Time `json:"disbursement_date"`
	}
	if err := decode(r, &req, true); err != nil {
		s.fail(w, r, err)
		return
	}
	loan, err := s.ledger.Disburse(r.Context(), id, req.DisbursementDate)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) recordRepaymentHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var in ledger.RepaymentInput
	if err := decode(r, &in, false); err != nil {
		s.fail(w, r, err)
		return
	}
	in.LoanID = id
	in.RecordedBy = actor.ID

	result, err := s.ledger.RecordRepayment(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) listRepaymentsHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	loan, err := s.ownLoan(r, actor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	repayments, err := s.ledger.ListRepayments(r.Context(), loan.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if repayments == nil {
		repayments = []*models.Repayment{}
	}
	writeJSON(w, http.StatusOK, repayments)
}

func (s *Server) recalculateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Now *time.Time `json:"now"`
	}
	if err := decode(r, &req, true); err != nil {
		s.fail(w, r, err)
		return
	}
	var now time.Time
	if req.Now != nil {
		now = *req.Now
	}
	report, err := s.ledger.RecalculateAll(r.Context(), now)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) listContributionsHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	member, err := queryID(r, "member_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !actor.Admin {
		member = uuid.NullUUID{UUID: actor.ID, Valid: true}
	}
	filter := store.ContributionFilter{MemberID: member, Month: r.URL.Query().Get("month")}
	if raw := r.URL.Query().Get("status"); raw != "" {
		filter.Statuses = []models.ContributionStatus{models.ContributionStatus(raw)}
	}

	list, err := s.contributions.List(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Contribution{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createContributionHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var in contributions.CreateInput
	if err := decode(r, &in, false); err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.contributions.Create(r.Context(), in, actor.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) upsertContributionHandler(w http.ResponseWriter, r *http.Request) {
	var in contributions.UpsertInput
	if err := decode(r, &in, false); err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.contributions.UpsertMonthly(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) batchContributionsHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Month  string           `json:"month"`
		Amount *decimal.Decimal `json:"amount"`
	}
	if err := decode(r, &req, true); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Month == "" {
		req.Month = models.MonthOf(s.now())
	}
	amount := s.monthlyAmount
	if req.Amount != nil {
		amount = *req.Amount
	}

	result, err := s.contributions.CreateMonthlyContributions(r.Context(), req.Month, amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) selfReportHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var in contributions.PaymentInput
	if err := decode(r, &in, false); err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.contributions.SelfReport(r.Context(), id, actor.ID, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) confirmContributionHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var in contributions.PaymentInput
	if err := decode(r, &in, false); err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.contributions.AdminConfirm(r.Context(), id, actor.ID, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// memberView exposes the access variant without the password hash.
type memberView struct {
	*models.Member
	Access string `json:"access"`
	Email  string `json:"email,omitempty"`
}

func viewOf(m *models.Member) memberView {
	email, _ := m.Email()
	return memberView{Member: m, Access: m.AccessKind(), Email: email}
}

func (s *Server) listMembersHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.members.List(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]memberView, 0, len(list))
	for _, m := range list {
		views = append(views, viewOf(m))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) registerMemberHandler(w http.ResponseWriter, r *http.Request) {
	var in members.RegisterInput
	if err := decode(r, &in, false); err != nil {
		s.fail(w, r, err)
		return
	}
	m, err := s.members.Register(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(m))
}

func (s *Server) memberSavingsHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !actor.Admin && id != actor.ID {
		s.fail(w, r, errForbidden)
		return
	}
	if _, err := s.members.Get(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	total, err := s.contributions.TotalSavings(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"member_id": id, "total_savings": total})
}

func (s *Server) listInterestHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.interest.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createInterestHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var in finance.InterestInput
	if err := decode(r, &in, false); err != nil {
		s.fail(w, r, err)
		return
	}
	h, err := s.interest.Create(r.Context(), in, actor.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

func (s *Server) getInterestHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	h, err := s.interest.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) updateInterestHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var in finance.InterestInput
	if err := decode(r, &in, false); err != nil {
		s.fail(w, r, err)
		return
	}
	h, err := s.interest.Update(r.Context(), id, in, actor.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) deleteInterestHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.interest.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) financesHandler(w http.ResponseWriter, r *http.Request) {
	var asOf time.Time
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		t, err := endOfDay(raw)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		asOf = t
	}
	summary, err := s.finances.GetCommunityFinances(r.Context(), asOf)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Package notify tells borrowers when their loan changes status.
package notify

import (
	"context"
	"fmt"

	"github.com/mcclellann/poolfund/pkg/models"
	"gopkg.in/gomail.v2"
)

// Notifier is told about loan status changes after they are saved.
type Notifier interface {
	LoanStatusChanged(ctx context.Context, borrower *models.Member, loan *models.Loan) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) LoanStatusChanged(context.Context, *models.Member, *models.Loan) error { return nil }

// Dialer sends prepared messages. *gomail.Dialer satisfies it.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer sends loan status mail to login-capable borrowers. Record-only
// members have no address and are skipped.
type Mailer struct {
	dialer Dialer
	from   string
}

// NewMailer returns a Mailer that delivers through an SMTP server.
func NewMailer(host string, port int, username, password, from string) *Mailer {
	return NewMailerWithDialer(gomail.NewDialer(host, port, username, password), from)
}

func NewMailerWithDialer(d Dialer, from string) *Mailer {
	return &Mailer{dialer: d, from: from}
}

func (m *Mailer) LoanStatusChanged(_ context.Context, borrower *models.Member, loan *models.Loan) error {
	to, ok := borrower.Email()
	if !ok {
		return nil
	}
	subject, body := render(borrower, loan)

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send %s notice for loan %s: %w", loan.Status, loan.ID, err)
	}
	return nil
}

func render(borrower *models.Member, loan *models.Loan) (string, string) {
	switch loan.Status {
	case models.LoanStatusApproved:
		return "Your loan has been approved", fmt.Sprintf(
			"Hello %s,\n\nYour loan request was approved for %s at %s%% annual interest.\nExpected repayment date: %s.\n",
			borrower.FullName, loan.Principal().StringFixed(2), loan.InterestRate.String(),
			loan.ExpectedRepaymentDate.Format("2006-01-02"))
	case models.LoanStatusRejected:
		return "Your loan request was not approved", fmt.Sprintf(
			"Hello %s,\n\nYour loan request for %s was rejected.\nReason: %s\n",
			borrower.FullName, loan.RequestedAmount.StringFixed(2), loan.RejectionReason)
	case models.LoanStatusCompleted:
		return "Your loan is fully repaid", fmt.Sprintf(
			"Hello %s,\n\nYour loan of %s is fully repaid. Total paid: %s.\n",
			borrower.FullName, loan.Principal().StringFixed(2), loan.AmountPaid.StringFixed(2))
	default:
		return "Loan status update", fmt.Sprintf("Hello %s,\n\nYour loan is now %s.\n", borrower.FullName, loan.Status)
	}
}

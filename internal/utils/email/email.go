package email

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/jordan-wright/email"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/sacco-service/internal/config"
	"github.com/Dan9191/sacco-service/internal/models"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	// send is swapped out in tests.
	send func(e *email.Email) error
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	s := &Sender{
		cfg:    cfg,
		logger: logger,
	}
	s.send = func(e *email.Email) error {
		addr := fmt.Sprintf("%s:%s", cfg.SMTPHost, cfg.SMTPPort)
		auth := smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
		return e.Send(addr, auth)
	}
	return s
}

func money(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(2) + " " + currency
}

// SendPaymentReminder sends a payment reminder email
func (s *Sender) SendPaymentReminder(to, name string, due time.Time, amount, penalty decimal.Decimal, currency string, overdue bool) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	if overdue {
		e.Subject = "Overdue Loan Installment"
	} else {
		e.Subject = "Upcoming Loan Installment Reminder"
	}

	body := fmt.Sprintf("Dear %s,\n\n", name)
	if overdue {
		body += fmt.Sprintf(
			"Your loan installment of %s was due on %s and is now overdue.\n"+
				"Accrued penalty so far: %s.\n"+
				"Please pay as soon as possible to avoid further penalties.\n",
			money(amount, currency), due.Format("2006-01-02"), money(penalty, currency),
		)
	} else {
		body += fmt.Sprintf(
			"This is a reminder that your loan installment of %s is due on %s.\n"+
				"Please make sure your savings account or royalty mandate covers it.\n",
			money(amount, currency), due.Format("2006-01-02"),
		)
	}
	body += "\nBest regards,\nSACCO"
	e.Text = []byte(body)

	return s.deliver(e, "payment reminder")
}

// SendLoanNotification tells the borrower about a loan decision or disbursement.
func (s *Sender) SendLoanNotification(to, name string, event models.LoanEvent, currency string) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}

	body := fmt.Sprintf("Dear %s,\n\n", name)
	switch event.Type {
	case models.EventLoanApproved:
		e.Subject = "Loan Application Approved"
		body += fmt.Sprintf("Your loan application %s for %s has been approved.\n"+
			"The funds will be credited to your savings account on disbursement.\n",
			event.LoanID, money(event.Amount, currency))
	case models.EventLoanRejected:
		e.Subject = "Loan Application Rejected"
		body += fmt.Sprintf("Your loan application %s for %s has been rejected.\n", event.LoanID, money(event.Amount, currency))
		if event.Reason != "" {
			body += fmt.Sprintf("Reason: %s\n", event.Reason)
		}
		body += "Your guarantors' pledges have been released.\n"
	case models.EventLoanDisbursed:
		e.Subject = "Loan Disbursed"
		body += fmt.Sprintf("Loan %s: %s has been credited to your savings account on %s.\n",
			event.LoanID, money(event.Amount, currency), event.At.Format("2006-01-02 15:04:05"))
	case models.EventLoanPaidOff:
		e.Subject = "Loan Paid Off"
		body += fmt.Sprintf("Loan %s is fully repaid. Thank you.\n", event.LoanID)
	default:
		return fmt.Errorf("no notification template for %s", event.Type)
	}
	body += "\nBest regards,\nSACCO"
	e.Text = []byte(body)

	return s.deliver(e, string(event.Type)+" notification")
}

func (s *Sender) deliver(e *email.Email, what string) error {
	if err := s.send(e); err != nil {
		s.logger.Errorf("Failed to send %s to %v: %v", what, e.To, err)
		return fmt.Errorf("failed to send %s: %w", what, err)
	}
	s.logger.Infof("Email sent to %v: %s", e.To, e.Subject)
	return nil
}

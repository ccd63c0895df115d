package events

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/repository"
)

// LoanMailer sends borrower-facing loan e-mails.
type LoanMailer interface {
	SendLoanNotification(to, name string, event models.LoanEvent, currency string) error
}

// EmailNotifier mails the borrower on approval, rejection, disbursement and
// payoff. Other events are ignored.
type EmailNotifier struct {
	members  repository.MemberRegistry
	mailer   LoanMailer
	currency func() string
	log      *logrus.Logger
}

func NewEmailNotifier(members repository.MemberRegistry, mailer LoanMailer, currency func() string, log *logrus.Logger) *EmailNotifier {
	return &EmailNotifier{members: members, mailer: mailer, currency: currency, log: log}
}

func notifies(t models.LoanEventType) bool {
	switch t {
	case models.EventLoanApproved, models.EventLoanRejected, models.EventLoanDisbursed, models.EventLoanPaidOff:
		return true
	}
	return false
}

func (n *EmailNotifier) Publish(ctx context.Context, event models.LoanEvent) error {
	if !notifies(event.Type) {
		return nil
	}
	member, err := n.members.Member(ctx, event.MemberID)
	if err != nil {
		return fmt.Errorf("failed to find member for %s: %w", event.Type, err)
	}
	if member.Email == "" {
		n.log.WithField("member", member.ID).Warn("Member has no e-mail address, skipping notification")
		return nil
	}
	return n.mailer.SendLoanNotification(member.Email, member.Name, event, n.currency())
}

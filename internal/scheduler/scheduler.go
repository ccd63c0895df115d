package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/service"
)

// LoanJobs is the part of the loan service driven by the clock.
type LoanJobs interface {
	EvaluateDelinquency(ctx context.Context, asOf time.Time) (service.DelinquencyReport, error)
	Remind(ctx context.Context, asOf time.Time, sender service.ReminderSender) (int, error)
}

// RoyaltyJobs runs automated royalty deductions.
type RoyaltyJobs interface {
	ProcessAll(ctx context.Context, periodName string) (service.ProcessSummary, error)
}

// Repricer moves a product's rate with the central bank reference rate.
type Repricer interface {
	RepriceFromReference(ctx context.Context, actor models.Actor, id string, margin decimal.Decimal) (models.LoanProduct, error)
}

// Schedules are cron specs; an empty spec disables the job.
type Schedules struct {
	Delinquency string
	Reminders   string
	Royalties   string
	Reprice     string
}

// Scheduler owns the cron runner for periodic loan jobs.
type Scheduler struct {
	cron     *cron.Cron
	loans    LoanJobs
	royalty  RoyaltyJobs
	repricer Repricer
	sender   service.ReminderSender
	log      *logrus.Logger
	now      func() time.Time
	timeout  time.Duration

	RepriceProduct string
	RepriceMargin  decimal.Decimal
}

func New(loans LoanJobs, royalty RoyaltyJobs, repricer Repricer, sender service.ReminderSender, loc *time.Location, log *logrus.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		loans:    loans,
		royalty:  royalty,
		repricer: repricer,
		sender:   sender,
		log:      log,
		now:      time.Now,
		timeout:  30 * time.Minute,
	}
}

// Register adds every job with a non-empty schedule. Reminders need a
// sender and repricing needs a product id.
func (s *Scheduler) Register(sch Schedules) error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
		skip bool
	}{
		{"delinquency", sch.Delinquency, s.RunDelinquency, false},
		{"reminders", sch.Reminders, s.RunReminders, s.sender == nil},
		{"royalties", sch.Royalties, s.RunRoyalties, s.royalty == nil},
		{"reprice", sch.Reprice, s.RunReprice, s.repricer == nil || s.RepriceProduct == ""},
	}
	for _, j := range jobs {
		if j.spec == "" || j.skip {
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, s.wrap(j.name, j.run)); err != nil {
			return fmt.Errorf("failed to schedule %s job: %w", j.name, err)
		}
		s.log.Infof("Scheduled %s job: %s", j.name, j.spec)
	}
	return nil
}

func (s *Scheduler) wrap(name string, run func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		start := time.Now()
		if err := run(ctx); err != nil {
			s.log.WithField("job", name).Errorf("Scheduled job failed: %v", err)
			return
		}
		s.log.WithFields(logrus.Fields{"job": name, "duration": time.Since(start).String()}).Info("Scheduled job finished")
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for running jobs or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("Scheduler stopped before running jobs finished")
	}
}

// RunDelinquency accrues penalties and updates loan states.
func (s *Scheduler) RunDelinquency(ctx context.Context) error {
	_, err := s.loans.EvaluateDelinquency(ctx, s.now())
	return err
}

// RunReminders e-mails members with installments due soon or overdue.
func (s *Scheduler) RunReminders(ctx context.Context) error {
	sent, err := s.loans.Remind(ctx, s.now(), s.sender)
	if err != nil {
		return err
	}
	s.log.Infof("Sent %d payment reminders", sent)
	return nil
}

// RunRoyalties processes every active mandate for the previous month.
func (s *Scheduler) RunRoyalties(ctx context.Context) error {
	_, err := s.royalty.ProcessAll(ctx, "")
	return err
}

// RunReprice reprices the configured product from the reference rate.
func (s *Scheduler) RunReprice(ctx context.Context) error {
	p, err := s.repricer.RepriceFromReference(ctx, models.SystemActor, s.RepriceProduct, s.RepriceMargin)
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"product_id": p.ID, "version": p.Version, "rate": p.InterestRate.String()}).Info("Product repriced")
	return nil
}

// Package events fans committed loan events out to the configured sinks.
package events

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/Dan9191/sacco-service/internal/models"
)

// Publisher is a single event sink.
type Publisher interface {
	Publish(ctx context.Context, event models.LoanEvent) error
}

// LogPublisher writes every event to the structured log.
type LogPublisher struct {
	log *logrus.Logger
}

func NewLogPublisher(log *logrus.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, event models.LoanEvent) error {
	p.log.WithFields(logrus.Fields{
		"event":    event.Type,
		"loan":     event.LoanID,
		"member":   event.MemberID,
		"amount":   event.Amount.String(),
		"status":   event.Status,
		"previous": event.Previous,
		"actor":    event.ActorID,
	}).Info("Loan event")
	return nil
}

// Multi delivers each event to every sink. A failing sink does not stop
// the others; their errors are joined.
type Multi struct {
	sinks []Publisher
}

func NewMulti(sinks ...Publisher) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Publish(ctx context.Context, event models.LoanEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

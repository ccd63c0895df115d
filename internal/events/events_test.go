package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/repository"
)

var event = models.LoanEvent{
	ID:       "e1",
	Type:     models.EventLoanApproved,
	LoanID:   "l1",
	MemberID: "m1",
	Amount:   decimal.NewFromInt(400000),
	Status:   models.LoanApproved,
	Previous: models.LoanPendingApproval,
	ActorID:  "admin",
	At:       time.Date(2026, time.January, 15, 10, 0, 0, 0, time.UTC),
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type sink struct {
	got []models.LoanEvent
	err error
}

func (s *sink) Publish(_ context.Context, e models.LoanEvent) error {
	s.got = append(s.got, e)
	return s.err
}

func TestMultiDeliversToEverySink(t *testing.T) {
	boom := errors.New("broker down")
	failing := &sink{err: boom}
	ok := &sink{}
	m := NewMulti(NewLogPublisher(quietLogger()), failing, ok)

	err := m.Publish(context.Background(), event)
	require.ErrorIs(t, err, boom)
	assert.Len(t, failing.got, 1)
	assert.Len(t, ok.got, 1, "a failing sink does not stop the rest")
	assert.Equal(t, 3, m.Len())
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherKeysByLoan(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{w: w}

	require.NoError(t, p.Publish(context.Background(), event))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "l1", string(w.msgs[0].Key))

	var decoded models.LoanEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, models.EventLoanApproved, decoded.Type)
	assert.True(t, decoded.Amount.Equal(event.Amount))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

type mailer struct {
	to    []string
	types []models.LoanEventType
}

func (m *mailer) SendLoanNotification(to, _ string, e models.LoanEvent, _ string) error {
	m.to = append(m.to, to)
	m.types = append(m.types, e.Type)
	return nil
}

func TestEmailNotifier(t *testing.T) {
	members := repository.NewMemoryMembers(
		models.Member{ID: "m1", Name: "Amina", Email: "amina@sacco.test", Status: models.MemberActive},
		models.Member{ID: "m2", Name: "Okello", Status: models.MemberActive},
	)
	m := &mailer{}
	n := NewEmailNotifier(members, m, func() string { return "UGX" }, quietLogger())
	ctx := context.Background()

	require.NoError(t, n.Publish(ctx, event))

	overdue := event
	overdue.Type = models.EventLoanOverdue
	require.NoError(t, n.Publish(ctx, overdue))

	noAddress := event
	noAddress.MemberID = "m2"
	require.NoError(t, n.Publish(ctx, noAddress))

	unknown := event
	unknown.MemberID = "ghost"
	require.ErrorIs(t, n.Publish(ctx, unknown), apperr.ErrNotFound)

	assert.Equal(t, []string{"amina@sacco.test"}, m.to)
	assert.Equal(t, []models.LoanEventType{models.EventLoanApproved}, m.types)
}

package activities

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/testsuite"

	"order-approval-service/internal/idempotency"
	"order-approval-service/internal/metrics"
	"order-approval-service/internal/notify"
	"order-approval-service/internal/store"
)

type fakePublisher struct {
	mu      sync.Mutex
	sent    []notify.Notification
	failing int
}

func (p *fakePublisher) Publish(_ context.Context, n notify.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing > 0 {
		p.failing--
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, n)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type ActivitiesSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite

	env   *testsuite.TestActivityEnvironment
	store *store.Store
	pub   *fakePublisher
	acts  *Activities
}

func TestActivitiesSuite(t *testing.T) {
	suite.Run(t, new(ActivitiesSuite))
}

func (s *ActivitiesSuite) SetupTest() {
	db, err := store.Open(filepath.Join(s.T().TempDir(), "orders.db"))
	s.Require().NoError(err)
	s.store = store.New(db)
	s.Require().NoError(s.store.Migrate(context.Background()))

	s.pub = &fakePublisher{}
	s.acts = &Activities{
		Ledger:    s.store,
		Claims:    idempotency.NewMemory(),
		Publisher: s.pub,
		Metrics:   metrics.New(prometheus.NewRegistry()),
	}
	s.env = s.NewTestActivityEnvironment()
	s.env.RegisterActivity(s.acts)
}

func (s *ActivitiesSuite) TearDownTest() {
	_ = s.store.Close()
}

func (s *ActivitiesSuite) TestProcessPaymentIsIdempotent() {
	_, err := s.env.ExecuteActivity(s.acts.ProcessPayment, "O1")
	s.Require().NoError(err)
	first, found, err := s.store.Payment(context.Background(), "O1")
	s.Require().NoError(err)
	s.Require().True(found)

	// A retry after a lost completion must not capture again.
	_, err = s.env.ExecuteActivity(s.acts.ProcessPayment, "O1")
	s.Require().NoError(err)
	again, _, err := s.store.Payment(context.Background(), "O1")
	s.Require().NoError(err)
	s.Equal(first.Reference, again.Reference)
}

func (s *ActivitiesSuite) TestPrepareShipmentIsIdempotent() {
	for i := 0; i < 3; i++ {
		_, err := s.env.ExecuteActivity(s.acts.PrepareShipment, "O1")
		s.Require().NoError(err)
	}
	sh, found, err := s.store.Shipment(context.Background(), "O1")
	s.Require().NoError(err)
	s.True(found)
	s.Contains(sh.TrackingRef, "trk-")
}

func (s *ActivitiesSuite) TestNotifyPublishesOnce() {
	_, err := s.env.ExecuteActivity(s.acts.Notify, "O1")
	s.Require().NoError(err)
	_, err = s.env.ExecuteActivity(s.acts.Notify, "O1")
	s.Require().NoError(err)

	s.Equal(1, s.pub.count())
	s.Equal("O1", s.pub.sent[0].OrderID)
	s.Equal(NotificationID("O1"), s.pub.sent[0].ID)
}

func (s *ActivitiesSuite) TestNotificationIDIsStablePerOrder() {
	s.Equal(NotificationID("O1"), NotificationID("O1"))
	s.NotEqual(NotificationID("O1"), NotificationID("O2"))
}

func (s *ActivitiesSuite) TestNotifyFailureReleasesClaim() {
	s.pub.failing = 1

	_, err := s.env.ExecuteActivity(s.acts.Notify, "O2")
	s.Require().Error(err)
	s.Contains(err.Error(), "broker unavailable")
	s.Equal(0, s.pub.count())

	_, err = s.env.ExecuteActivity(s.acts.Notify, "O2")
	s.Require().NoError(err)
	s.Equal(1, s.pub.count())
}

// stuckKeeper cannot give claims back or record marks.
type stuckKeeper struct {
	*idempotency.Memory
	markErr error
}

func (k *stuckKeeper) Release(context.Context, string) error { return errors.New("redis down") }

func (k *stuckKeeper) Mark(ctx context.Context, key string, ttl time.Duration) error {
	if k.markErr != nil {
		return k.markErr
	}
	return k.Memory.Mark(ctx, key, ttl)
}

func (s *ActivitiesSuite) TestNotifyIsNotLostWhenReleaseFails() {
	now := time.Now()
	s.acts.Claims = &stuckKeeper{Memory: idempotency.NewMemoryWithClock(func() time.Time { return now })}
	s.pub.failing = 1

	_, err := s.env.ExecuteActivity(s.acts.Notify, "O4")
	s.Require().Error(err)
	s.Contains(err.Error(), "broker unavailable")

	// The stale claim blocks the next attempt instead of reporting success.
	_, err = s.env.ExecuteActivity(s.acts.Notify, "O4")
	s.Require().Error(err)
	s.Equal(0, s.pub.count())

	now = now.Add(time.Hour)
	_, err = s.env.ExecuteActivity(s.acts.Notify, "O4")
	s.Require().NoError(err)
	s.Equal(1, s.pub.count())

	_, err = s.env.ExecuteActivity(s.acts.Notify, "O4")
	s.Require().NoError(err)
	s.Equal(1, s.pub.count())
}

func (s *ActivitiesSuite) TestNotifyRepublishesSameIDWhenMarkFails() {
	now := time.Now()
	s.acts.Claims = &stuckKeeper{
		Memory:  idempotency.NewMemoryWithClock(func() time.Time { return now }),
		markErr: errors.New("redis down"),
	}

	_, err := s.env.ExecuteActivity(s.acts.Notify, "O5")
	s.Require().NoError(err)

	now = now.Add(time.Hour)
	_, err = s.env.ExecuteActivity(s.acts.Notify, "O5")
	s.Require().NoError(err)

	s.Require().Equal(2, s.pub.count())
	s.Equal(s.pub.sent[0].ID, s.pub.sent[1].ID)
}

type brokenLedger struct{}

func (brokenLedger) RecordPayment(context.Context, string, string) (store.PaymentCapture, bool, error) {
	return store.PaymentCapture{}, false, errors.New("db down")
}

func (brokenLedger) RecordShipment(context.Context, string, string) (store.Shipment, bool, error) {
	return store.Shipment{}, false, errors.New("db down")
}

func (s *ActivitiesSuite) TestLedgerErrorSurfaces() {
	acts := &Activities{Ledger: brokenLedger{}, Claims: idempotency.NewMemory(), Publisher: s.pub}
	env := s.NewTestActivityEnvironment()
	env.RegisterActivity(acts)

	_, err := env.ExecuteActivity(acts.ProcessPayment, "O3")
	s.Require().Error(err)
	s.Contains(err.Error(), "db down")

	_, err = env.ExecuteActivity(acts.PrepareShipment, "O3")
	s.Require().Error(err)
	s.Contains(err.Error(), "db down")
}

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	s := New(db)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordPaymentOncePerOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.RecordPayment(ctx, "O1", "pay-1")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "pay-1", first.Reference)

	again, created, err := s.RecordPayment(ctx, "O1", "pay-2")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "pay-1", again.Reference)

	other, created, err := s.RecordPayment(ctx, "O2", "pay-3")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "O2", other.OrderID)

	var n int64
	require.NoError(t, s.db.Model(&PaymentCapture{}).Count(&n).Error)
	require.Equal(t, int64(2), n)
}

func TestRecordShipmentOncePerOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, found, err := s.Shipment(ctx, "O1")
	require.NoError(t, err)
	require.False(t, found)

	_, created, err := s.RecordShipment(ctx, "O1", "trk-1")
	require.NoError(t, err)
	require.True(t, created)

	got, created, err := s.RecordShipment(ctx, "O1", "trk-2")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "trk-1", got.TrackingRef)

	sh, found, err := s.Shipment(ctx, "O1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "trk-1", sh.TrackingRef)
}

func TestPaymentLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, found, err := s.Payment(ctx, "O9")
	require.NoError(t, err)
	require.False(t, found)

	_, _, err = s.RecordPayment(ctx, "O9", "pay-9")
	require.NoError(t, err)

	p, found, err := s.Payment(ctx, "O9")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "pay-9", p.Reference)
}

func TestOpenDefaultsToDataDir(t *testing.T) {
	t.Chdir(t.TempDir())

	db, err := Open("")
	require.NoError(t, err)
	s := New(db)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Close())

	_, err = os.Stat(filepath.Join("data", "order-approval.db"))
	require.NoError(t, err)
}

func TestOpenReportsUnusableDataDir(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile("data", []byte("not a dir"), 0o644))

	_, err := Open("")
	require.ErrorContains(t, err, "create sqlite data dir")
}

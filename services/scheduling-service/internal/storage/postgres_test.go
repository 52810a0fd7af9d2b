package storage_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/storefront/libs/db"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/storage"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/storetest"
)

// newPostgres connects to TEST_DATABASE_URL. Every test uses a fresh
// merchant id so runs against a shared database do not collide.
func newPostgres(t *testing.T) (*storage.Postgres, string) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.OpenWithOptions(ctx, url, db.PoolOptions{MaxConns: 20})
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)

	store := storage.NewPostgres(pool)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store, "m-" + uuid.NewString()
}

func TestPostgresClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	store, merchant := newPostgres(t)

	dc := &model.DateConfig{MerchantID: merchant, StoreSlug: "shop", Date: storetest.Date(t, "2026-03-02")}
	err := store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.InsertDateConfig(ctx, dc); err != nil {
			return err
		}
		return tx.InsertIntervals(ctx, dc.ID, []model.TimeRange{storetest.Range(t, "09:00", "09:30")})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ClaimSlot(ctx, dc.ID, storetest.Time(t, "09:00"))
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", wins.Load())
	}
}

func TestPostgresInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store, merchant := newPostgres(t)
	boom := errors.New("boom")
	date := storetest.Date(t, "2026-03-03")

	err := store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.InsertDateConfig(ctx, &model.DateConfig{MerchantID: merchant, StoreSlug: "shop", Date: date}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error returned unchanged, got %v", err)
	}
	if _, err := store.GetDateConfig(ctx, merchant, "shop", date); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after rollback, got %v", err)
	}
}

func TestPostgresBookingConflict(t *testing.T) {
	ctx := context.Background()
	store, merchant := newPostgres(t)
	b := func(intervalID string) *model.Booking {
		return &model.Booking{
			Date:         storetest.Date(t, "2026-03-04"),
			Time:         storetest.Time(t, "10:00"),
			CustomerID:   "c1",
			MerchantID:   merchant,
			StoreSlug:    "shop",
			DateConfigID: uuid.NewString(),
			IntervalID:   intervalID,
		}
	}
	first := b(uuid.NewString())
	if err := store.InTx(ctx, func(tx storage.Tx) error { return tx.InsertBooking(ctx, first) }); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := store.InTx(ctx, func(tx storage.Tx) error { return tx.InsertBooking(ctx, b(uuid.NewString())) })
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	found, err := store.FindBooking(ctx, first.Key())
	if err != nil || found.IntervalID != first.IntervalID {
		t.Fatalf("expected stored booking, got %+v err=%v", found, err)
	}
}

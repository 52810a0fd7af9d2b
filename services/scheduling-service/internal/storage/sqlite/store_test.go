package sqlite_test

import (
	"context"
	"errors"
	"testing"

	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/storage"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/storage/sqlite"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/storetest"
)

func seedConfig(t *testing.T, store *sqlite.Store, date string, ranges ...model.TimeRange) model.DateConfig {
	t.Helper()
	dc := &model.DateConfig{MerchantID: "m1", StoreSlug: "shop", Date: storetest.Date(t, date)}
	err := store.InTx(context.Background(), func(tx storage.Tx) error {
		if err := tx.InsertDateConfig(context.Background(), dc); err != nil {
			return err
		}
		return tx.InsertIntervals(context.Background(), dc.ID, ranges)
	})
	if err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return *dc
}

func TestClaimAndRelease(t *testing.T) {
	ctx := context.Background()
	store := storetest.NewSQLite(t)
	dc := seedConfig(t, store, "2026-03-02", storetest.Range(t, "09:00", "09:30"))

	ok, err := store.ClaimSlot(ctx, dc.ID, storetest.Time(t, "09:00"))
	if err != nil || !ok {
		t.Fatalf("expected first claim to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = store.ClaimSlot(ctx, dc.ID, storetest.Time(t, "09:00"))
	if err != nil || ok {
		t.Fatalf("expected second claim to fail, got ok=%v err=%v", ok, err)
	}
	ok, err = store.ClaimSlot(ctx, dc.ID, storetest.Time(t, "10:00"))
	if err != nil || ok {
		t.Fatalf("expected claim of missing slot to fail, got ok=%v err=%v", ok, err)
	}

	ivs, err := store.ListIntervals(ctx, dc.ID)
	if err != nil || len(ivs) != 1 || ivs[0].Available {
		t.Fatalf("expected one claimed interval, got %+v err=%v", ivs, err)
	}

	released, err := store.ReleaseSlot(ctx, ivs[0].ID)
	if err != nil || !released {
		t.Fatalf("expected release to succeed, got %v err=%v", released, err)
	}
	released, err = store.ReleaseSlot(ctx, ivs[0].ID)
	if err != nil || released {
		t.Fatalf("expected second release to be a no-op, got %v err=%v", released, err)
	}
}

func TestInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := storetest.NewSQLite(t)
	boom := errors.New("boom")

	err := store.InTx(ctx, func(tx storage.Tx) error {
		dc := &model.DateConfig{MerchantID: "m1", StoreSlug: "shop", Date: storetest.Date(t, "2026-03-02")}
		if err := tx.InsertDateConfig(ctx, dc); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error returned unchanged, got %v", err)
	}
	if _, err := store.GetDateConfig(ctx, "m1", "shop", storetest.Date(t, "2026-03-02")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected rolled back config to be absent, got %v", err)
	}
}

func TestInsertBookingConflict(t *testing.T) {
	ctx := context.Background()
	store := storetest.NewSQLite(t)
	dc := seedConfig(t, store, "2026-03-02", storetest.Range(t, "09:00", "09:30"))

	booking := func(intervalID string) *model.Booking {
		return &model.Booking{
			Date:         dc.Date,
			Time:         storetest.Time(t, "09:00"),
			CustomerID:   "c1",
			MerchantID:   "m1",
			StoreSlug:    "shop",
			DateConfigID: dc.ID,
			IntervalID:   intervalID,
		}
	}
	err := store.InTx(ctx, func(tx storage.Tx) error { return tx.InsertBooking(ctx, booking("iv-1")) })
	if err != nil {
		t.Fatalf("insert booking: %v", err)
	}
	err = store.InTx(ctx, func(tx storage.Tx) error { return tx.InsertBooking(ctx, booking("iv-2")) })
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	found, err := store.FindBooking(ctx, booking("").Key())
	if err != nil || found.IntervalID != "iv-1" {
		t.Fatalf("expected stored booking, got %+v err=%v", found, err)
	}
	if found.Date != dc.Date || found.Time != storetest.Time(t, "09:00") {
		t.Fatalf("unexpected booking key %+v", found.Key())
	}
}

func TestListDateConfigsOrderAndWindow(t *testing.T) {
	ctx := context.Background()
	store := storetest.NewSQLite(t)
	seedConfig(t, store, "2026-03-05", storetest.Range(t, "13:00", "14:00"), storetest.Range(t, "09:00", "10:00"))
	seedConfig(t, store, "2026-03-01")
	seedConfig(t, store, "2026-04-01")

	all, err := store.ListDateConfigs(ctx, "m1", "shop", model.DateRange{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].Date.String() != "2026-03-01" || all[2].Date.String() != "2026-04-01" {
		t.Fatalf("unexpected order: %+v", all)
	}
	if len(all[1].Intervals) != 2 || all[1].Intervals[0].Start != storetest.Time(t, "09:00") {
		t.Fatalf("expected intervals sorted by start, got %+v", all[1].Intervals)
	}

	march, err := store.ListDateConfigs(ctx, "m1", "shop", model.DateRange{
		From: storetest.Date(t, "2026-03-01"),
		To:   storetest.Date(t, "2026-03-31"),
	})
	if err != nil || len(march) != 2 {
		t.Fatalf("expected 2 configs in March, got %d err=%v", len(march), err)
	}

	other, err := store.ListDateConfigs(ctx, "m2", "shop", model.DateRange{})
	if err != nil || len(other) != 0 {
		t.Fatalf("expected tenant isolation, got %d err=%v", len(other), err)
	}
}

func TestDeleteDateConfigCascades(t *testing.T) {
	ctx := context.Background()
	store := storetest.NewSQLite(t)
	dc := seedConfig(t, store, "2026-03-02", storetest.Range(t, "09:00", "09:30"), storetest.Range(t, "09:30", "10:00"))

	if err := store.InTx(ctx, func(tx storage.Tx) error { return tx.DeleteDateConfig(ctx, dc.ID) }); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ivs, err := store.ListIntervals(ctx, dc.ID)
	if err != nil || len(ivs) != 0 {
		t.Fatalf("expected intervals removed, got %d err=%v", len(ivs), err)
	}
	err = store.InTx(ctx, func(tx storage.Tx) error { return tx.DeleteDateConfig(ctx, dc.ID) })
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestRecordInbox(t *testing.T) {
	ctx := context.Background()
	store := storetest.NewSQLite(t)

	first, err := store.RecordInbox(ctx, "evt-1", "catalog.storefront.upserted.v1")
	if err != nil || !first {
		t.Fatalf("expected first record, got %v err=%v", first, err)
	}
	again, err := store.RecordInbox(ctx, "evt-1", "catalog.storefront.upserted.v1")
	if err != nil || again {
		t.Fatalf("expected duplicate to be reported, got %v err=%v", again, err)
	}
}

func TestProcessOutbox(t *testing.T) {
	ctx := context.Background()
	store := storetest.NewSQLite(t)

	evt, err := outbox.NewEvent("booking", "b1", outbox.BookingCreated, map[string]string{"booking_id": "b1"})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if err := store.InTx(ctx, func(tx storage.Tx) error { return tx.InsertOutbox(ctx, evt) }); err != nil {
		t.Fatalf("insert outbox: %v", err)
	}

	failing := errors.New("broker down")
	err = store.ProcessOutbox(ctx, 10, func(context.Context, []outbox.Record) error { return failing })
	if !errors.Is(err, failing) {
		t.Fatalf("expected publish error, got %v", err)
	}

	var got []outbox.Record
	err = store.ProcessOutbox(ctx, 10, func(_ context.Context, records []outbox.Record) error {
		got = append(got, records...)
		return nil
	})
	if err != nil {
		t.Fatalf("process outbox: %v", err)
	}
	if len(got) != 1 || got[0].EventID != evt.EventID || got[0].EventType != outbox.BookingCreated {
		t.Fatalf("unexpected records %+v", got)
	}

	calls := 0
	err = store.ProcessOutbox(ctx, 10, func(context.Context, []outbox.Record) error {
		calls++
		return nil
	})
	if err != nil || calls != 0 {
		t.Fatalf("expected nothing left to publish, calls=%d err=%v", calls, err)
	}
}

func TestReleaseFreesBookedInterval(t *testing.T) {
	ctx := context.Background()
	store := storetest.NewSQLite(t)
	dc := seedConfig(t, store, "2026-03-02", storetest.Range(t, "09:00", "09:30"))

	book := func(customer string) (*model.Booking, error) {
		b := &model.Booking{
			Date:         dc.Date,
			Time:         storetest.Time(t, "09:00"),
			CustomerID:   customer,
			MerchantID:   "m1",
			StoreSlug:    "shop",
			DateConfigID: dc.ID,
		}
		err := store.InTx(ctx, func(tx storage.Tx) error {
			id, _, err := tx.ClaimSlot(ctx, dc.ID, b.Time)
			if err != nil {
				return err
			}
			if id == "" {
				ivs, err := tx.ListIntervals(ctx, dc.ID)
				if err != nil {
					return err
				}
				id = ivs[0].ID
			}
			b.IntervalID = id
			return tx.InsertBooking(ctx, b)
		})
		return b, err
	}

	first, err := book("c1")
	if err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if _, err := book("c2"); !errors.Is(err, storage.ErrSlotTaken) || !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}

	released, err := store.ReleaseSlot(ctx, first.IntervalID)
	if err != nil || !released {
		t.Fatalf("release: %v %v", released, err)
	}
	if _, err := store.FindBooking(ctx, first.Key()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected released booking to be inactive, got %v", err)
	}
	second, err := book("c2")
	if err != nil {
		t.Fatalf("booking after release: %v", err)
	}
	if second.IntervalID != first.IntervalID {
		t.Fatalf("expected same interval, got %s and %s", first.IntervalID, second.IntervalID)
	}
}

// Package storetest opens throwaway stores for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/md-rashed-zaman/storefront/libs/db"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/storage/sqlite"
)

// NewSQLite returns a migrated SQLite store in a temporary directory. It is
// closed when the test ends.
func NewSQLite(tb testing.TB) *sqlite.Store {
	tb.Helper()
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, filepath.Join(tb.TempDir(), "scheduling.db"))
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	tb.Cleanup(func() { _ = conn.Close() })

	store := sqlite.New(conn)
	if err := store.Migrate(ctx); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return store
}

// Storefront registers slug for merchantID with the given slot duration.
func Storefront(tb testing.TB, store interface {
	UpsertStorefront(context.Context, model.Storefront) error
}, merchantID, slug string, durationMinutes int) {
	tb.Helper()
	err := store.UpsertStorefront(context.Background(), model.Storefront{
		Slug:                slug,
		MerchantID:          merchantID,
		SlotDurationMinutes: durationMinutes,
		Timezone:            "UTC",
	})
	if err != nil {
		tb.Fatalf("upsert storefront: %v", err)
	}
}

// Date parses s or fails the test.
func Date(tb testing.TB, s string) model.Date {
	tb.Helper()
	d, err := model.ParseDate(s)
	if err != nil {
		tb.Fatalf("ParseDate(%q): %v", s, err)
	}
	return d
}

// Time parses s or fails the test.
func Time(tb testing.TB, s string) model.TimeOfDay {
	tb.Helper()
	t, err := model.ParseTimeOfDay(s)
	if err != nil {
		tb.Fatalf("ParseTimeOfDay(%q): %v", s, err)
	}
	return t
}

// Range builds a TimeRange from two "HH:MM" strings.
func Range(tb testing.TB, start, end string) model.TimeRange {
	tb.Helper()
	return model.TimeRange{Start: Time(tb, start), End: Time(tb, end)}
}

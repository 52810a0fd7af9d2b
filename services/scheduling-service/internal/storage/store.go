package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/outbox"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
	// ErrCommit wraps a failed commit. The transaction outcome is unknown.
	ErrCommit = errors.New("commit failed")
	// ErrSlotTaken is the ErrConflict raised when an interval already has an
	// active booking.
	ErrSlotTaken = fmt.Errorf("%w: interval already booked", ErrConflict)
)

// Store is the persistence surface of the scheduling service. Both the
// Postgres and the SQLite implementations satisfy it.
type Store interface {
	GetStorefront(ctx context.Context, slug string) (model.Storefront, error)
	UpsertStorefront(ctx context.Context, sf model.Storefront) error

	GetDateConfig(ctx context.Context, merchantID, slug string, date model.Date) (model.DateConfig, error)
	GetDateConfigByID(ctx context.Context, id string) (model.DateConfig, error)
	// ListDateConfigs returns configs ordered by date with their intervals
	// ordered by start.
	ListDateConfigs(ctx context.Context, merchantID, slug string, window model.DateRange) ([]model.DateConfig, error)

	GetInterval(ctx context.Context, id string) (model.Interval, error)
	ListIntervals(ctx context.Context, dateConfigID string) ([]model.Interval, error)
	DeleteInterval(ctx context.Context, id string) error
	// ClaimSlot atomically flips an available interval starting at start to
	// unavailable. It reports whether this call made the flip.
	ClaimSlot(ctx context.Context, dateConfigID string, start model.TimeOfDay) (bool, error)
	// ReleaseSlot is the administrative inverse of ClaimSlot. The booking
	// holding the interval is marked released in the same transaction.
	ReleaseSlot(ctx context.Context, intervalID string) (bool, error)

	// FindBooking returns the active booking for key.
	FindBooking(ctx context.Context, key model.BookingKey) (model.Booking, error)

	// RecordInbox stores a consumed event id. It returns false when the
	// event was already recorded.
	RecordInbox(ctx context.Context, eventID, eventType string) (bool, error)

	// ProcessOutbox locks up to limit unpublished events, hands them to
	// publish and marks them published when publish succeeds.
	ProcessOutbox(ctx context.Context, limit int, publish func(context.Context, []outbox.Record) error) error

	// InTx runs fn in one transaction. fn's error rolls back and is returned
	// unchanged. A failed commit is reported wrapping ErrCommit.
	InTx(ctx context.Context, fn func(Tx) error) error

	Ping(ctx context.Context) error
}

// Tx is the write surface available inside InTx.
type Tx interface {
	// LockDateConfig loads a config and locks it for the rest of the
	// transaction where the backend supports row locks.
	LockDateConfig(ctx context.Context, merchantID, slug string, date model.Date) (model.DateConfig, error)
	InsertDateConfig(ctx context.Context, dc *model.DateConfig) error
	UpdateDateConfigFlags(ctx context.Context, id string, closed, repeatWeekly bool) error
	DeleteDateConfig(ctx context.Context, id string) error

	ListIntervals(ctx context.Context, dateConfigID string) ([]model.Interval, error)
	InsertIntervals(ctx context.Context, dateConfigID string, ranges []model.TimeRange) error
	DeleteIntervals(ctx context.Context, ids []string) error
	DeleteAllIntervals(ctx context.Context, dateConfigID string) error

	// ClaimSlot is the in-transaction form of Store.ClaimSlot. It returns the
	// claimed interval id.
	ClaimSlot(ctx context.Context, dateConfigID string, start model.TimeOfDay) (string, bool, error)
	ReleaseSlot(ctx context.Context, intervalID string) (bool, error)
	// InsertBooking returns ErrConflict when an identical active booking
	// exists and ErrSlotTaken when the interval is held by another one.
	InsertBooking(ctx context.Context, b *model.Booking) error
	InsertOutbox(ctx context.Context, evt outbox.Event) error
}

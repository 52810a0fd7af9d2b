// Package sqlite is the embedded Store used for local development and in
// tests. All access goes through one connection, so transactions serialize.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/storefront/libs/otel"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/storage"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

const timeLayout = time.RFC3339Nano

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) stamp() string {
	return s.now().Format(timeLayout)
}

func (s *Store) GetStorefront(ctx context.Context, slug string) (model.Storefront, error) {
	var sf model.Storefront
	var updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT slug, merchant_id, slot_duration_minutes, timezone, updated_at
		FROM storefronts
		WHERE slug = ?
	`, slug).Scan(&sf.Slug, &sf.MerchantID, &sf.SlotDurationMinutes, &sf.Timezone, &updated)
	if err != nil {
		return model.Storefront{}, mapErr(err)
	}
	sf.UpdatedAt = parseTime(updated)
	return sf, nil
}

func (s *Store) UpsertStorefront(ctx context.Context, sf model.Storefront) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO storefronts (slug, merchant_id, slot_duration_minutes, timezone, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (slug) DO UPDATE
		SET merchant_id = excluded.merchant_id,
			slot_duration_minutes = excluded.slot_duration_minutes,
			timezone = excluded.timezone,
			updated_at = excluded.updated_at
	`, sf.Slug, sf.MerchantID, sf.SlotDurationMinutes, sf.Timezone, s.stamp())
	return mapErr(err)
}

const dateConfigColumns = `id, merchant_id, store_slug, config_date, closed, repeat_weekly, created_at, updated_at`

func scanDateConfig(row scanner) (model.DateConfig, error) {
	var dc model.DateConfig
	var date, created, updated string
	if err := row.Scan(&dc.ID, &dc.MerchantID, &dc.StoreSlug, &date, &dc.Closed, &dc.RepeatWeekly, &created, &updated); err != nil {
		return model.DateConfig{}, mapErr(err)
	}
	d, err := model.ParseDate(date)
	if err != nil {
		return model.DateConfig{}, err
	}
	dc.Date = d
	dc.CreatedAt, dc.UpdatedAt = parseTime(created), parseTime(updated)
	return dc, nil
}

func (s *Store) GetDateConfig(ctx context.Context, merchantID, slug string, date model.Date) (model.DateConfig, error) {
	return getDateConfig(ctx, s.db, merchantID, slug, date)
}

func getDateConfig(ctx context.Context, q querier, merchantID, slug string, date model.Date) (model.DateConfig, error) {
	return scanDateConfig(q.QueryRowContext(ctx, `
		SELECT `+dateConfigColumns+`
		FROM date_configs
		WHERE merchant_id = ? AND store_slug = ? AND config_date = ?
	`, merchantID, slug, date.String()))
}

func (s *Store) GetDateConfigByID(ctx context.Context, id string) (model.DateConfig, error) {
	return scanDateConfig(s.db.QueryRowContext(ctx, `
		SELECT `+dateConfigColumns+`
		FROM date_configs
		WHERE id = ?
	`, id))
}

func (s *Store) ListDateConfigs(ctx context.Context, merchantID, slug string, window model.DateRange) ([]model.DateConfig, error) {
	query := `
		SELECT ` + dateConfigColumns + `
		FROM date_configs
		WHERE merchant_id = ? AND store_slug = ?`
	args := []any{merchantID, slug}
	if !window.From.IsZero() {
		query += ` AND config_date >= ?`
		args = append(args, window.From.String())
	}
	if !window.To.IsZero() {
		query += ` AND config_date <= ?`
		args = append(args, window.To.String())
	}
	query += ` ORDER BY config_date ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var configs []model.DateConfig
	for rows.Next() {
		dc, err := scanDateConfig(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		configs = append(configs, dc)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range configs {
		ivs, err := listIntervals(ctx, s.db, configs[i].ID)
		if err != nil {
			return nil, err
		}
		configs[i].Intervals = ivs
	}
	return configs, nil
}

func scanInterval(row scanner) (model.Interval, error) {
	var iv model.Interval
	var start, end int
	if err := row.Scan(&iv.ID, &iv.DateConfigID, &start, &end, &iv.Available); err != nil {
		return model.Interval{}, mapErr(err)
	}
	iv.Start, iv.End = model.TimeOfDay(start), model.TimeOfDay(end)
	return iv, nil
}

func (s *Store) GetInterval(ctx context.Context, id string) (model.Interval, error) {
	return scanInterval(s.db.QueryRowContext(ctx, `
		SELECT id, date_config_id, start_minute, end_minute, available
		FROM intervals
		WHERE id = ?
	`, id))
}

func (s *Store) ListIntervals(ctx context.Context, dateConfigID string) ([]model.Interval, error) {
	return listIntervals(ctx, s.db, dateConfigID)
}

func listIntervals(ctx context.Context, q querier, dateConfigID string) ([]model.Interval, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, date_config_id, start_minute, end_minute, available
		FROM intervals
		WHERE date_config_id = ?
		ORDER BY start_minute ASC
	`, dateConfigID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	intervals := []model.Interval{}
	for rows.Next() {
		iv, err := scanInterval(rows)
		if err != nil {
			return nil, err
		}
		intervals = append(intervals, iv)
	}
	return intervals, rows.Err()
}

func (s *Store) DeleteInterval(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM intervals WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ClaimSlot(ctx context.Context, dateConfigID string, start model.TimeOfDay) (bool, error) {
	_, ok, err := claimSlot(ctx, s.db, dateConfigID, start)
	return ok, err
}

func claimSlot(ctx context.Context, q querier, dateConfigID string, start model.TimeOfDay) (string, bool, error) {
	var id string
	err := q.QueryRowContext(ctx, `
		UPDATE intervals
		SET available = 0
		WHERE date_config_id = ? AND start_minute = ? AND available = 1
		RETURNING id
	`, dateConfigID, int(start)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (s *Store) ReleaseSlot(ctx context.Context, intervalID string) (released bool, err error) {
	err = s.InTx(ctx, func(tx storage.Tx) error {
		released, err = tx.ReleaseSlot(ctx, intervalID)
		return err
	})
	return released, err
}

func releaseSlot(ctx context.Context, q querier, intervalID, now string) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE intervals
		SET available = 1
		WHERE id = ? AND available = 0
	`, intervalID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil || n != 1 {
		return false, err
	}
	_, err = q.ExecContext(ctx, `
		UPDATE bookings
		SET released_at = ?
		WHERE interval_id = ? AND released_at IS NULL
	`, now, intervalID)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) FindBooking(ctx context.Context, key model.BookingKey) (model.Booking, error) {
	var b model.Booking
	var date, created string
	var start int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, booking_date, start_minute, customer_id, merchant_id, store_slug, date_config_id, interval_id, created_at
		FROM bookings
		WHERE booking_date = ? AND start_minute = ? AND customer_id = ? AND merchant_id = ? AND store_slug = ?
			AND released_at IS NULL
	`, key.Date.String(), int(key.Time), key.CustomerID, key.MerchantID, key.StoreSlug).Scan(
		&b.ID, &date, &start, &b.CustomerID, &b.MerchantID, &b.StoreSlug, &b.DateConfigID, &b.IntervalID, &created,
	)
	if err != nil {
		return model.Booking{}, mapErr(err)
	}
	if b.Date, err = model.ParseDate(date); err != nil {
		return model.Booking{}, err
	}
	b.Time = model.TimeOfDay(start)
	b.CreatedAt = parseTime(created)
	return b, nil
}

func (s *Store) RecordInbox(ctx context.Context, eventID, eventType string) (bool, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inbox_events (event_id, event_type, received_at)
		VALUES (?, ?, ?)
	`, eventID, eventType, s.stamp())
	if err == nil {
		return true, nil
	}
	if isUniqueViolation(err) {
		return false, nil
	}
	return false, err
}

func (s *Store) ProcessOutbox(ctx context.Context, limit int, publish func(context.Context, []outbox.Record) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT ?
	`, limit)
	if err != nil {
		return err
	}
	var records []outbox.Record
	for rows.Next() {
		var rcd outbox.Record
		var created string
		if err := rows.Scan(&rcd.ID, &rcd.EventID, &rcd.AggregateType, &rcd.AggregateID, &rcd.EventType, &rcd.Payload, &rcd.Traceparent, &rcd.Tracestate, &created); err != nil {
			_ = rows.Close()
			return err
		}
		rcd.CreatedAt = parseTime(created)
		records = append(records, rcd)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return tx.Commit()
	}

	if err := publish(ctx, records); err != nil {
		return err
	}

	stamp := s.stamp()
	for _, r := range records {
		if _, err := tx.ExecContext(ctx, `UPDATE outbox_events SET published_at = ? WHERE id = ?`, stamp, r.ID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) InTx(ctx context.Context, fn func(storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteTx{tx: tx, stamp: s.stamp}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrCommit, err)
	}
	return nil
}

type sqliteTx struct {
	tx    *sql.Tx
	stamp func() string
}

func (t *sqliteTx) LockDateConfig(ctx context.Context, merchantID, slug string, date model.Date) (model.DateConfig, error) {
	return getDateConfig(ctx, t.tx, merchantID, slug, date)
}

func (t *sqliteTx) InsertDateConfig(ctx context.Context, dc *model.DateConfig) error {
	if dc.ID == "" {
		dc.ID = uuid.NewString()
	}
	now := t.stamp()
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO date_configs (id, merchant_id, store_slug, config_date, closed, repeat_weekly, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, dc.ID, dc.MerchantID, dc.StoreSlug, dc.Date.String(), dc.Closed, dc.RepeatWeekly, now, now)
	if err != nil {
		return mapErr(err)
	}
	dc.CreatedAt, dc.UpdatedAt = parseTime(now), parseTime(now)
	return nil
}

func (t *sqliteTx) UpdateDateConfigFlags(ctx context.Context, id string, closed, repeatWeekly bool) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE date_configs
		SET closed = ?, repeat_weekly = ?, updated_at = ?
		WHERE id = ?
	`, closed, repeatWeekly, t.stamp(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *sqliteTx) DeleteDateConfig(ctx context.Context, id string) error {
	if err := t.DeleteAllIntervals(ctx, id); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM date_configs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *sqliteTx) ListIntervals(ctx context.Context, dateConfigID string) ([]model.Interval, error) {
	return listIntervals(ctx, t.tx, dateConfigID)
}

func (t *sqliteTx) InsertIntervals(ctx context.Context, dateConfigID string, ranges []model.TimeRange) error {
	if len(ranges) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO intervals (id, date_config_id, start_minute, end_minute, available)
		VALUES (?, ?, ?, ?, 1)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range ranges {
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), dateConfigID, int(r.Start), int(r.End)); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (t *sqliteTx) DeleteIntervals(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := t.tx.ExecContext(ctx, `DELETE FROM intervals WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqliteTx) DeleteAllIntervals(ctx context.Context, dateConfigID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM intervals WHERE date_config_id = ?`, dateConfigID)
	return err
}

func (t *sqliteTx) ClaimSlot(ctx context.Context, dateConfigID string, start model.TimeOfDay) (string, bool, error) {
	return claimSlot(ctx, t.tx, dateConfigID, start)
}

func (t *sqliteTx) ReleaseSlot(ctx context.Context, intervalID string) (bool, error) {
	return releaseSlot(ctx, t.tx, intervalID, t.stamp())
}

func (t *sqliteTx) InsertBooking(ctx context.Context, b *model.Booking) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := t.stamp()
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO bookings (id, booking_date, start_minute, customer_id, merchant_id, store_slug, date_config_id, interval_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.Date.String(), int(b.Time), b.CustomerID, b.MerchantID, b.StoreSlug, b.DateConfigID, b.IntervalID, now)
	if err != nil {
		if isUniqueViolation(err) && strings.Contains(err.Error(), "bookings.interval_id") {
			return storage.ErrSlotTaken
		}
		return mapErr(err)
	}
	b.CreatedAt = parseTime(now)
	return nil
}

func (t *sqliteTx) InsertOutbox(ctx context.Context, evt outbox.Event) error {
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, evt.EventID, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, traceparent, tracestate, t.stamp())
	return err
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isUniqueViolation(err error) bool {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return storage.ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", storage.ErrConflict, err)
	default:
		return err
	}
}

package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/storefront/libs/db"
	otelx "github.com/md-rashed-zaman/storefront/libs/otel"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/outbox"
)

//go:embed schema.sql
var schema string

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the production Store backed by a pgx pool.
type Postgres struct {
	pool *db.Pool
}

var _ Store = (*Postgres)(nil)

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) GetStorefront(ctx context.Context, slug string) (model.Storefront, error) {
	var sf model.Storefront
	err := s.pool.QueryRow(ctx, `
		SELECT slug, merchant_id, slot_duration_minutes, timezone, updated_at
		FROM storefronts
		WHERE slug = $1
	`, slug).Scan(&sf.Slug, &sf.MerchantID, &sf.SlotDurationMinutes, &sf.Timezone, &sf.UpdatedAt)
	if err != nil {
		return model.Storefront{}, mapErr(err)
	}
	return sf, nil
}

func (s *Postgres) UpsertStorefront(ctx context.Context, sf model.Storefront) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO storefronts (slug, merchant_id, slot_duration_minutes, timezone, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (slug) DO UPDATE
		SET merchant_id = EXCLUDED.merchant_id,
			slot_duration_minutes = EXCLUDED.slot_duration_minutes,
			timezone = EXCLUDED.timezone,
			updated_at = now()
	`, sf.Slug, sf.MerchantID, sf.SlotDurationMinutes, sf.Timezone)
	return mapErr(err)
}

const dateConfigColumns = `id, merchant_id, store_slug, config_date, closed, repeat_weekly, created_at, updated_at`

func scanDateConfig(row pgx.Row) (model.DateConfig, error) {
	var dc model.DateConfig
	var date time.Time
	if err := row.Scan(&dc.ID, &dc.MerchantID, &dc.StoreSlug, &date, &dc.Closed, &dc.RepeatWeekly, &dc.CreatedAt, &dc.UpdatedAt); err != nil {
		return model.DateConfig{}, mapErr(err)
	}
	dc.Date = model.DateOf(date)
	return dc, nil
}

func (s *Postgres) GetDateConfig(ctx context.Context, merchantID, slug string, date model.Date) (model.DateConfig, error) {
	return scanDateConfig(s.pool.QueryRow(ctx, `
		SELECT `+dateConfigColumns+`
		FROM date_configs
		WHERE merchant_id = $1 AND store_slug = $2 AND config_date = $3
	`, merchantID, slug, date.Time()))
}

func (s *Postgres) GetDateConfigByID(ctx context.Context, id string) (model.DateConfig, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.DateConfig{}, ErrNotFound
	}
	return scanDateConfig(s.pool.QueryRow(ctx, `
		SELECT `+dateConfigColumns+`
		FROM date_configs
		WHERE id = $1
	`, id))
}

func (s *Postgres) ListDateConfigs(ctx context.Context, merchantID, slug string, window model.DateRange) ([]model.DateConfig, error) {
	var from, to *time.Time
	if !window.From.IsZero() {
		t := window.From.Time()
		from = &t
	}
	if !window.To.IsZero() {
		t := window.To.Time()
		to = &t
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+dateConfigColumns+`
		FROM date_configs
		WHERE merchant_id = $1 AND store_slug = $2
			AND ($3::date IS NULL OR config_date >= $3::date)
			AND ($4::date IS NULL OR config_date <= $4::date)
		ORDER BY config_date ASC
	`, merchantID, slug, from, to)
	if err != nil {
		return nil, err
	}
	var configs []model.DateConfig
	index := map[string]int{}
	for rows.Next() {
		dc, err := scanDateConfig(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		dc.Intervals = []model.Interval{}
		index[dc.ID] = len(configs)
		configs = append(configs, dc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return configs, nil
	}

	ids := make([]string, 0, len(configs))
	for _, dc := range configs {
		ids = append(ids, dc.ID)
	}
	ivRows, err := s.pool.Query(ctx, `
		SELECT id, date_config_id, start_minute, end_minute, available
		FROM intervals
		WHERE date_config_id = ANY($1::uuid[])
		ORDER BY start_minute ASC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer ivRows.Close()
	for ivRows.Next() {
		iv, err := scanInterval(ivRows)
		if err != nil {
			return nil, err
		}
		i := index[iv.DateConfigID]
		configs[i].Intervals = append(configs[i].Intervals, iv)
	}
	return configs, ivRows.Err()
}

func scanInterval(row pgx.Row) (model.Interval, error) {
	var iv model.Interval
	var start, end int
	if err := row.Scan(&iv.ID, &iv.DateConfigID, &start, &end, &iv.Available); err != nil {
		return model.Interval{}, mapErr(err)
	}
	iv.Start, iv.End = model.TimeOfDay(start), model.TimeOfDay(end)
	return iv, nil
}

func (s *Postgres) GetInterval(ctx context.Context, id string) (model.Interval, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Interval{}, ErrNotFound
	}
	return scanInterval(s.pool.QueryRow(ctx, `
		SELECT id, date_config_id, start_minute, end_minute, available
		FROM intervals
		WHERE id = $1
	`, id))
}

func (s *Postgres) ListIntervals(ctx context.Context, dateConfigID string) ([]model.Interval, error) {
	return listIntervals(ctx, s.pool, dateConfigID, false)
}

func listIntervals(ctx context.Context, q querier, dateConfigID string, lock bool) ([]model.Interval, error) {
	sql := `
		SELECT id, date_config_id, start_minute, end_minute, available
		FROM intervals
		WHERE date_config_id = $1
		ORDER BY start_minute ASC`
	if lock {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, dateConfigID)
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

func (s *Postgres) DeleteInterval(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM intervals WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ClaimSlot(ctx context.Context, dateConfigID string, start model.TimeOfDay) (bool, error) {
	_, ok, err := claimSlot(ctx, s.pool, dateConfigID, start)
	return ok, err
}

// claimSlot is a single conditional update; concurrent claimers serialize on
// the row lock and all but one observe available = false.
func claimSlot(ctx context.Context, q querier, dateConfigID string, start model.TimeOfDay) (string, bool, error) {
	var id string
	err := q.QueryRow(ctx, `
		UPDATE intervals
		SET available = false
		WHERE date_config_id = $1 AND start_minute = $2 AND available = true
		RETURNING id
	`, dateConfigID, int(start)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (s *Postgres) ReleaseSlot(ctx context.Context, intervalID string) (released bool, err error) {
	err = s.InTx(ctx, func(tx Tx) error {
		released, err = tx.ReleaseSlot(ctx, intervalID)
		return err
	})
	return released, err
}

func releaseSlot(ctx context.Context, q querier, intervalID string) (bool, error) {
	if _, err := uuid.Parse(intervalID); err != nil {
		return false, ErrNotFound
	}
	tag, err := q.Exec(ctx, `
		UPDATE intervals
		SET available = true
		WHERE id = $1 AND available = false
	`, intervalID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	_, err = q.Exec(ctx, `
		UPDATE bookings
		SET released_at = now()
		WHERE interval_id = $1 AND released_at IS NULL
	`, intervalID)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Postgres) FindBooking(ctx context.Context, key model.BookingKey) (model.Booking, error) {
	var b model.Booking
	var date time.Time
	var start int
	err := s.pool.QueryRow(ctx, `
		SELECT id, booking_date, start_minute, customer_id, merchant_id, store_slug, date_config_id, interval_id, created_at
		FROM bookings
		WHERE booking_date = $1 AND start_minute = $2 AND customer_id = $3 AND merchant_id = $4 AND store_slug = $5
			AND released_at IS NULL
	`, key.Date.Time(), int(key.Time), key.CustomerID, key.MerchantID, key.StoreSlug).Scan(
		&b.ID, &date, &start, &b.CustomerID, &b.MerchantID, &b.StoreSlug, &b.DateConfigID, &b.IntervalID, &b.CreatedAt,
	)
	if err != nil {
		return model.Booking{}, mapErr(err)
	}
	b.Date = model.DateOf(date)
	b.Time = model.TimeOfDay(start)
	return b, nil
}

func (s *Postgres) RecordInbox(ctx context.Context, eventID string, eventType string) (bool, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}
	if IsUniqueViolation(err) {
		return false, nil
	}
	return false, err
}

func (s *Postgres) ProcessOutbox(ctx context.Context, limit int, publish func(context.Context, []outbox.Record) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return err
	}
	var records []outbox.Record
	for rows.Next() {
		var rcd outbox.Record
		if err := rows.Scan(&rcd.ID, &rcd.EventID, &rcd.AggregateType, &rcd.AggregateID, &rcd.EventType, &rcd.Payload, &rcd.Traceparent, &rcd.Tracestate, &rcd.CreatedAt); err != nil {
			rows.Close()
			return err
		}
		records = append(records, rcd)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return tx.Commit(ctx)
	}

	if err := publish(ctx, records); err != nil {
		return err
	}

	ids := make([]int64, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = now()
		WHERE id = ANY($1)
	`, ids); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Postgres) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrCommit, err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockDateConfig(ctx context.Context, merchantID, slug string, date model.Date) (model.DateConfig, error) {
	return scanDateConfig(t.tx.QueryRow(ctx, `
		SELECT `+dateConfigColumns+`
		FROM date_configs
		WHERE merchant_id = $1 AND store_slug = $2 AND config_date = $3
		FOR UPDATE
	`, merchantID, slug, date.Time()))
}

func (t *pgTx) InsertDateConfig(ctx context.Context, dc *model.DateConfig) error {
	if dc.ID == "" {
		dc.ID = uuid.NewString()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO date_configs (id, merchant_id, store_slug, config_date, closed, repeat_weekly)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, dc.ID, dc.MerchantID, dc.StoreSlug, dc.Date.Time(), dc.Closed, dc.RepeatWeekly).Scan(&dc.CreatedAt, &dc.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) UpdateDateConfigFlags(ctx context.Context, id string, closed, repeatWeekly bool) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE date_configs
		SET closed = $2, repeat_weekly = $3, updated_at = now()
		WHERE id = $1
	`, id, closed, repeatWeekly)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteDateConfig(ctx context.Context, id string) error {
	if err := t.DeleteAllIntervals(ctx, id); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM date_configs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ListIntervals(ctx context.Context, dateConfigID string) ([]model.Interval, error) {
	return listIntervals(ctx, t.tx, dateConfigID, true)
}

func (t *pgTx) InsertIntervals(ctx context.Context, dateConfigID string, ranges []model.TimeRange) error {
	if len(ranges) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range ranges {
		batch.Queue(`
			INSERT INTO intervals (id, date_config_id, start_minute, end_minute, available)
			VALUES ($1, $2, $3, $4, true)
		`, uuid.NewString(), dateConfigID, int(r.Start), int(r.End))
	}
	br := t.tx.SendBatch(ctx, batch)
	for range ranges {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return mapErr(err)
		}
	}
	return br.Close()
}

func (t *pgTx) DeleteIntervals(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM intervals WHERE id = ANY($1::uuid[])`, ids)
	return err
}

func (t *pgTx) DeleteAllIntervals(ctx context.Context, dateConfigID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM intervals WHERE date_config_id = $1`, dateConfigID)
	return err
}

func (t *pgTx) ClaimSlot(ctx context.Context, dateConfigID string, start model.TimeOfDay) (string, bool, error) {
	return claimSlot(ctx, t.tx, dateConfigID, start)
}

func (t *pgTx) ReleaseSlot(ctx context.Context, intervalID string) (bool, error) {
	return releaseSlot(ctx, t.tx, intervalID)
}

func (t *pgTx) InsertBooking(ctx context.Context, b *model.Booking) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO bookings (id, booking_date, start_minute, customer_id, merchant_id, store_slug, date_config_id, interval_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, b.ID, b.Date.Time(), int(b.Time), b.CustomerID, b.MerchantID, b.StoreSlug, b.DateConfigID, b.IntervalID).Scan(&b.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "bookings_active_interval_idx" {
		return ErrSlotTaken
	}
	return mapErr(err)
}

func (t *pgTx) InsertOutbox(ctx context.Context, evt outbox.Event) error {
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, evt.EventID, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, traceparent, tracestate)
	return err
}

// IsUniqueViolation reports a Postgres unique_violation (23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}

// Package scheduling implements date configuration, availability and
// booking on top of a storage.Store.
package scheduling

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/slots"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AvailabilityCache stores merged availability views per store. Get also
// returns the store's generation; Set discards the view when Invalidate ran
// since that generation was read. Invalidate drops every cached window of a
// store.
type AvailabilityCache interface {
	Get(ctx context.Context, merchantID, slug string, window model.DateRange) ([]model.DateConfig, uint64, bool)
	Set(ctx context.Context, merchantID, slug string, window model.DateRange, gen uint64, configs []model.DateConfig)
	Invalidate(ctx context.Context, merchantID, slug string)
}

type noopCache struct{}

func (noopCache) Get(context.Context, string, string, model.DateRange) ([]model.DateConfig, uint64, bool) {
	return nil, 0, false
}
func (noopCache) Set(context.Context, string, string, model.DateRange, uint64, []model.DateConfig) {}
func (noopCache) Invalidate(context.Context, string, string)                                       {}

const defaultSlotDuration = 30

type Options struct {
	Cache AvailabilityCache
	// Timeout bounds every storage round of an operation. Zero means 5s.
	Timeout time.Duration
}

type Service struct {
	store   storage.Store
	cache   AvailabilityCache
	logger  *slog.Logger
	timeout time.Duration
	tracer  trace.Tracer
}

func NewService(store storage.Store, logger *slog.Logger, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = noopCache{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Service{
		store:   store,
		cache:   opts.Cache,
		logger:  logger,
		timeout: opts.Timeout,
		tracer:  otel.Tracer("scheduling"),
	}
}

func (s *Service) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span, context.CancelFunc) {
	ctx, span := s.tracer.Start(ctx, "scheduling."+op, trace.WithAttributes(attrs...))
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return ctx, span, cancel
}

func (s *Service) finish(span trace.Span, log *slog.Logger, op string, err error) {
	defer span.End()
	if err == nil {
		return
	}
	span.RecordError(err)
	kind := ErrorKind(err)
	switch kind {
	case "storage", "internal":
		span.SetStatus(codes.Error, err.Error())
		log.Error(op+" failed", "err", err, "error_kind", kind)
	case "consistency_fault":
		span.SetStatus(codes.Error, err.Error())
		log.Error(op+" failed", "err", err, "error_kind", kind, "alert", true)
	default:
		log.Info(op+" rejected", "err", err, "error_kind", kind)
	}
}

func storageErr(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return &StorageError{Op: op, Err: err}
}

// ownedStorefront resolves slug and checks that merchantID owns it.
func (s *Service) ownedStorefront(ctx context.Context, merchantID, slug string) (model.Storefront, error) {
	sf, err := s.store.GetStorefront(ctx, slug)
	if err != nil {
		return model.Storefront{}, storageErr("get storefront", err)
	}
	if sf.MerchantID != merchantID {
		return model.Storefront{}, ErrForbidden
	}
	return sf, nil
}

type dateConfigSavedPayload struct {
	MerchantID string   `json:"merchant_id"`
	StoreSlug  string   `json:"store_slug"`
	Dates      []string `json:"dates"`
}

// SaveConfigurations reconciles the stored configuration of a store with
// the desired batch. The whole batch is validated before anything is
// written and is applied in one transaction. Intervals present in both the
// stored and the desired state are left untouched, so claimed slots stay
// claimed across resubmissions. It returns the number of dates saved.
func (s *Service) SaveConfigurations(ctx context.Context, merchantID, slug string, window model.DateRange, configs []model.DesiredConfig) (n int, err error) {
	log := s.logger.With("operation", "save_configurations", "merchant_id", merchantID, "slug", slug)
	ctx, span, cancel := s.start(ctx, "SaveConfigurations",
		attribute.String("merchant_id", merchantID),
		attribute.String("store_slug", slug),
		attribute.Int("items", len(configs)),
	)
	defer cancel()
	defer func() { s.finish(span, log, "save configurations", err) }()

	sf, err := s.ownedStorefront(ctx, merchantID, slug)
	if err != nil {
		return 0, err
	}
	defaultDuration := sf.SlotDurationMinutes
	if defaultDuration <= 0 {
		defaultDuration = defaultSlotDuration
	}

	expanded, err := expandBatch(configs, window, defaultDuration)
	if err != nil {
		return 0, err
	}

	payload := dateConfigSavedPayload{MerchantID: merchantID, StoreSlug: slug}
	for _, dc := range configs {
		payload.Dates = append(payload.Dates, dc.Date.String())
	}
	evt, err := outbox.NewEvent("storefront", slug, outbox.DateConfigSaved, payload)
	if err != nil {
		return 0, err
	}

	// A concurrent first save of the same date wins the insert; the loser
	// rolls back and retries against the row it now finds.
	for attempt := 1; ; attempt++ {
		err = s.store.InTx(ctx, func(tx storage.Tx) error {
			for i, desired := range configs {
				if err := applyConfig(ctx, tx, merchantID, slug, desired, expanded[i]); err != nil {
					return err
				}
			}
			return tx.InsertOutbox(ctx, evt)
		})
		if !errors.Is(err, storage.ErrConflict) || attempt == saveAttempts {
			break
		}
		log.Debug("save conflicted with a concurrent writer, retrying", "attempt", attempt)
	}
	if err != nil {
		return 0, storageErr("save configurations", err)
	}
	s.cache.Invalidate(ctx, merchantID, slug)

	log.Info("configurations saved", "dates", len(configs))
	return len(configs), nil
}

const saveAttempts = 3

func applyConfig(ctx context.Context, tx storage.Tx, merchantID, slug string, desired model.DesiredConfig, want []model.TimeRange) error {
	current, err := tx.LockDateConfig(ctx, merchantID, slug, desired.Date)
	if errors.Is(err, storage.ErrNotFound) {
		dc := &model.DateConfig{
			MerchantID:   merchantID,
			StoreSlug:    slug,
			Date:         desired.Date,
			Closed:       desired.Closed,
			RepeatWeekly: desired.RepeatWeekly,
		}
		if err := tx.InsertDateConfig(ctx, dc); err != nil {
			return err
		}
		if desired.Closed {
			return nil
		}
		return tx.InsertIntervals(ctx, dc.ID, want)
	}
	if err != nil {
		return err
	}

	if current.Closed != desired.Closed || current.RepeatWeekly != desired.RepeatWeekly {
		if err := tx.UpdateDateConfigFlags(ctx, current.ID, desired.Closed, desired.RepeatWeekly); err != nil {
			return err
		}
	}
	if desired.Closed {
		return tx.DeleteAllIntervals(ctx, current.ID)
	}

	existing, err := tx.ListIntervals(ctx, current.ID)
	if err != nil {
		return err
	}
	insert, remove := slots.Diff(existing, want)
	if len(remove) > 0 {
		ids := make([]string, 0, len(remove))
		for _, iv := range remove {
			ids = append(ids, iv.ID)
		}
		// Stale rows go first so a resized slot can reuse its start time.
		if err := tx.DeleteIntervals(ctx, ids); err != nil {
			return err
		}
	}
	return tx.InsertIntervals(ctx, current.ID, insert)
}

// MerchantAvailability returns every configured date of a store in window,
// including claimed intervals.
func (s *Service) MerchantAvailability(ctx context.Context, merchantID, slug string, window model.DateRange) (configs []model.DateConfig, err error) {
	log := s.logger.With("operation", "merchant_availability", "merchant_id", merchantID, "slug", slug)
	ctx, span, cancel := s.start(ctx, "MerchantAvailability", attribute.String("store_slug", slug))
	defer cancel()
	defer func() { s.finish(span, log, "merchant availability", err) }()

	if _, err := s.ownedStorefront(ctx, merchantID, slug); err != nil {
		return nil, err
	}
	return s.availability(ctx, merchantID, slug, window)
}

// PublicAvailability returns the customer view of a store: configured dates
// in window with only their available intervals.
func (s *Service) PublicAvailability(ctx context.Context, slug string, window model.DateRange) (configs []model.DateConfig, err error) {
	log := s.logger.With("operation", "public_availability", "slug", slug)
	ctx, span, cancel := s.start(ctx, "PublicAvailability", attribute.String("store_slug", slug))
	defer cancel()
	defer func() { s.finish(span, log, "public availability", err) }()

	sf, err := s.store.GetStorefront(ctx, slug)
	if err != nil {
		return nil, storageErr("get storefront", err)
	}
	all, err := s.availability(ctx, sf.MerchantID, slug, window)
	if err != nil {
		return nil, err
	}

	out := make([]model.DateConfig, 0, len(all))
	for _, dc := range all {
		open := make([]model.Interval, 0, len(dc.Intervals))
		for _, iv := range dc.Intervals {
			if iv.Available {
				open = append(open, iv)
			}
		}
		dc.Intervals = open
		out = append(out, dc)
	}
	return out, nil
}

func (s *Service) availability(ctx context.Context, merchantID, slug string, window model.DateRange) ([]model.DateConfig, error) {
	cached, gen, ok := s.cache.Get(ctx, merchantID, slug, window)
	if ok {
		return cached, nil
	}
	configs, err := s.store.ListDateConfigs(ctx, merchantID, slug, window)
	if err != nil {
		return nil, storageErr("list date configs", err)
	}
	if configs == nil {
		configs = []model.DateConfig{}
	}
	s.cache.Set(ctx, merchantID, slug, window, gen, configs)
	return configs, nil
}

// DeleteDate removes a date configuration and all of its intervals.
func (s *Service) DeleteDate(ctx context.Context, merchantID, slug string, date model.Date) (err error) {
	log := s.logger.With("operation", "delete_date", "merchant_id", merchantID, "slug", slug, "date", date.String())
	ctx, span, cancel := s.start(ctx, "DeleteDate", attribute.String("store_slug", slug), attribute.String("date", date.String()))
	defer cancel()
	defer func() { s.finish(span, log, "delete date", err) }()

	if _, err := s.ownedStorefront(ctx, merchantID, slug); err != nil {
		return err
	}

	evt, err := outbox.NewEvent("storefront", slug, outbox.DateConfigDeleted, map[string]string{
		"merchant_id": merchantID,
		"store_slug":  slug,
		"date":        date.String(),
	})
	if err != nil {
		return err
	}
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		dc, err := tx.LockDateConfig(ctx, merchantID, slug, date)
		if err != nil {
			return err
		}
		if err := tx.DeleteDateConfig(ctx, dc.ID); err != nil {
			return err
		}
		return tx.InsertOutbox(ctx, evt)
	})
	if err != nil {
		return storageErr("delete date", err)
	}
	s.cache.Invalidate(ctx, merchantID, slug)
	log.Info("date config deleted")
	return nil
}

// BookingRequest is a customer's request for one slot.
type BookingRequest struct {
	Slug       string
	CustomerID string
	Date       model.Date
	Time       model.TimeOfDay
}

type bookingCreatedPayload struct {
	BookingID    string `json:"booking_id"`
	MerchantID   string `json:"merchant_id"`
	StoreSlug    string `json:"store_slug"`
	CustomerID   string `json:"customer_id"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	DateConfigID string `json:"date_config_id"`
	IntervalID   string `json:"interval_id"`
}

// CreateBooking claims the slot starting at req.Time on req.Date and records
// the booking. The claim and the booking row commit together: if recording
// fails the claim is rolled back with it and a ConsistencyFault is returned.
func (s *Service) CreateBooking(ctx context.Context, req BookingRequest) (booking model.Booking, err error) {
	log := s.logger.With("operation", "create_booking", "slug", req.Slug, "date", req.Date.String(), "time", req.Time.String())
	ctx, span, cancel := s.start(ctx, "CreateBooking",
		attribute.String("store_slug", req.Slug),
		attribute.String("date", req.Date.String()),
		attribute.String("time", req.Time.String()),
	)
	defer cancel()
	defer func() { s.finish(span, log, "create booking", err) }()

	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if verr := validateBookingRequest(req); verr != nil {
		return model.Booking{}, verr
	}

	sf, err := s.store.GetStorefront(ctx, req.Slug)
	if err != nil {
		return model.Booking{}, storageErr("get storefront", err)
	}
	log = log.With("merchant_id", sf.MerchantID)

	key := model.BookingKey{Date: req.Date, Time: req.Time, CustomerID: req.CustomerID, MerchantID: sf.MerchantID, StoreSlug: req.Slug}
	if _, err := s.store.FindBooking(ctx, key); err == nil {
		return model.Booking{}, ErrDuplicateBooking
	} else if !errors.Is(err, storage.ErrNotFound) {
		return model.Booking{}, storageErr("find booking", err)
	}

	dc, err := s.store.GetDateConfig(ctx, sf.MerchantID, req.Slug, req.Date)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Booking{}, ErrNotAvailable
	}
	if err != nil {
		return model.Booking{}, storageErr("get date config", err)
	}
	if dc.Closed {
		return model.Booking{}, ErrNotAvailable
	}

	booking = model.Booking{
		Date:         req.Date,
		Time:         req.Time,
		CustomerID:   req.CustomerID,
		MerchantID:   sf.MerchantID,
		StoreSlug:    req.Slug,
		DateConfigID: dc.ID,
	}
	claimed := false
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		intervalID, ok, err := tx.ClaimSlot(ctx, dc.ID, req.Time)
		if err != nil {
			log.Warn("slot claim failed", "err", err)
			return ErrSlotUnavailable
		}
		if !ok {
			return ErrSlotUnavailable
		}
		claimed = true
		booking.IntervalID = intervalID

		if err := tx.InsertBooking(ctx, &booking); err != nil {
			if errors.Is(err, storage.ErrSlotTaken) {
				return ErrSlotUnavailable
			}
			if errors.Is(err, storage.ErrConflict) {
				return ErrDuplicateBooking
			}
			return &ConsistencyFault{DateConfigID: dc.ID, Start: req.Time, Err: err}
		}

		evt, err := outbox.NewEvent("booking", booking.ID, outbox.BookingCreated, bookingCreatedPayload{
			BookingID:    booking.ID,
			MerchantID:   booking.MerchantID,
			StoreSlug:    booking.StoreSlug,
			CustomerID:   booking.CustomerID,
			Date:         booking.Date.String(),
			Time:         booking.Time.String(),
			DateConfigID: booking.DateConfigID,
			IntervalID:   booking.IntervalID,
		})
		if err != nil {
			return &ConsistencyFault{DateConfigID: dc.ID, Start: req.Time, Err: err}
		}
		if err := tx.InsertOutbox(ctx, evt); err != nil {
			return &ConsistencyFault{DateConfigID: dc.ID, Start: req.Time, Err: err}
		}
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrSlotUnavailable), errors.Is(err, ErrDuplicateBooking):
		return model.Booking{}, err
	case errors.Is(err, storage.ErrCommit) && claimed:
		return model.Booking{}, &ConsistencyFault{DateConfigID: dc.ID, Start: req.Time, Err: err}
	case !claimed:
		// Failing to even start the transaction is reported like a lost claim.
		log.Warn("slot claim failed", "err", err)
		return model.Booking{}, ErrSlotUnavailable
	default:
		var cf *ConsistencyFault
		if errors.As(err, &cf) {
			return model.Booking{}, err
		}
		return model.Booking{}, &ConsistencyFault{DateConfigID: dc.ID, Start: req.Time, Err: err}
	}

	s.cache.Invalidate(ctx, sf.MerchantID, req.Slug)
	log.Info("booking created", "booking_id", booking.ID, "interval_id", booking.IntervalID)
	return booking, nil
}

func validateBookingRequest(req BookingRequest) error {
	verr := &ValidationError{}
	if strings.TrimSpace(req.Slug) == "" {
		verr.add("slug", "is required")
	}
	if req.CustomerID == "" {
		verr.add("customer_id", "is required")
	}
	if req.Date.IsZero() {
		verr.add("date", "is required")
	}
	if req.Time < 0 || req.Time >= model.MinutesPerDay {
		verr.add("time", "out of range")
	}
	return verr.orNil()
}

// ReleaseSlot makes a claimed interval bookable again. The booking that held
// it stays on record, marked released, and no longer blocks a new booking.
func (s *Service) ReleaseSlot(ctx context.Context, merchantID, intervalID string) (err error) {
	log := s.logger.With("operation", "release_slot", "merchant_id", merchantID, "interval_id", intervalID)
	ctx, span, cancel := s.start(ctx, "ReleaseSlot", attribute.String("interval_id", intervalID))
	defer cancel()
	defer func() { s.finish(span, log, "release slot", err) }()

	iv, err := s.store.GetInterval(ctx, intervalID)
	if err != nil {
		return storageErr("get interval", err)
	}
	dc, err := s.store.GetDateConfigByID(ctx, iv.DateConfigID)
	if err != nil {
		return storageErr("get date config", err)
	}
	if dc.MerchantID != merchantID {
		return ErrForbidden
	}

	evt, err := outbox.NewEvent("interval", intervalID, outbox.SlotReleased, map[string]string{
		"merchant_id":    dc.MerchantID,
		"store_slug":     dc.StoreSlug,
		"date":           dc.Date.String(),
		"time":           iv.Start.String(),
		"date_config_id": dc.ID,
		"interval_id":    intervalID,
	})
	if err != nil {
		return err
	}
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		ok, err := tx.ReleaseSlot(ctx, intervalID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyAvailable
		}
		return tx.InsertOutbox(ctx, evt)
	})
	if errors.Is(err, ErrAlreadyAvailable) {
		return err
	}
	if err != nil {
		return storageErr("release slot", err)
	}
	s.cache.Invalidate(ctx, dc.MerchantID, dc.StoreSlug)
	log.Info("slot released")
	return nil
}

// StorefrontSettings are the merchant-editable scheduling settings.
type StorefrontSettings struct {
	SlotDurationMinutes int
	Timezone            string
}

// UpsertStorefront registers a store for merchantID or updates its
// settings. A slug registered to another merchant is rejected.
func (s *Service) UpsertStorefront(ctx context.Context, merchantID, slug string, settings StorefrontSettings) (err error) {
	log := s.logger.With("operation", "upsert_storefront", "merchant_id", merchantID, "slug", slug)
	ctx, span, cancel := s.start(ctx, "UpsertStorefront", attribute.String("store_slug", slug))
	defer cancel()
	defer func() { s.finish(span, log, "upsert storefront", err) }()

	sf, err := normalizeStorefront(model.Storefront{
		Slug:                slug,
		MerchantID:          merchantID,
		SlotDurationMinutes: settings.SlotDurationMinutes,
		Timezone:            settings.Timezone,
	})
	if err != nil {
		return err
	}

	existing, err := s.store.GetStorefront(ctx, sf.Slug)
	switch {
	case err == nil && existing.MerchantID != merchantID:
		return ErrForbidden
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return storageErr("get storefront", err)
	}
	if err := s.store.UpsertStorefront(ctx, sf); err != nil {
		return storageErr("upsert storefront", err)
	}
	s.cache.Invalidate(ctx, merchantID, sf.Slug)
	return nil
}

// SyncStorefront applies a storefront record published by the catalog. The
// catalog owns slugs, so ownership changes are accepted.
func (s *Service) SyncStorefront(ctx context.Context, sf model.Storefront) (err error) {
	log := s.logger.With("operation", "sync_storefront", "merchant_id", sf.MerchantID, "slug", sf.Slug)
	ctx, span, cancel := s.start(ctx, "SyncStorefront", attribute.String("store_slug", sf.Slug))
	defer cancel()
	defer func() { s.finish(span, log, "sync storefront", err) }()

	sf, err = normalizeStorefront(sf)
	if err != nil {
		return err
	}
	previous, err := s.store.GetStorefront(ctx, sf.Slug)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return storageErr("get storefront", err)
	}
	if err := s.store.UpsertStorefront(ctx, sf); err != nil {
		return storageErr("upsert storefront", err)
	}
	if previous.MerchantID != "" && previous.MerchantID != sf.MerchantID {
		s.cache.Invalidate(ctx, previous.MerchantID, sf.Slug)
	}
	s.cache.Invalidate(ctx, sf.MerchantID, sf.Slug)
	return nil
}

func normalizeStorefront(sf model.Storefront) (model.Storefront, error) {
	verr := &ValidationError{}
	sf.Slug = strings.TrimSpace(sf.Slug)
	sf.MerchantID = strings.TrimSpace(sf.MerchantID)
	sf.Timezone = strings.TrimSpace(sf.Timezone)
	if sf.Slug == "" {
		verr.add("slug", "is required")
	}
	if sf.MerchantID == "" {
		verr.add("merchant_id", "is required")
	}
	if sf.SlotDurationMinutes == 0 {
		sf.SlotDurationMinutes = defaultSlotDuration
	}
	if sf.SlotDurationMinutes < 0 || sf.SlotDurationMinutes > model.MinutesPerDay {
		verr.add("slot_duration_minutes", "must be between 1 and 1440")
	}
	if sf.Timezone == "" {
		sf.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(sf.Timezone); err != nil {
		verr.add("timezone", "unknown time zone")
	}
	if err := verr.orNil(); err != nil {
		return model.Storefront{}, err
	}
	return sf, nil
}

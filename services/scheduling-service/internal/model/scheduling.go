package model

import "time"

// ConfigType selects how submitted intervals are interpreted.
type ConfigType string

const (
	// ConfigSlots: every submitted interval is one bookable slot.
	ConfigSlots ConfigType = "slots"
	// ConfigRange: every submitted interval is an open range that is split
	// into slots of the configured duration.
	ConfigRange ConfigType = "range"
)

func (c ConfigType) Valid() bool {
	return c == ConfigSlots || c == ConfigRange
}

// Storefront is the scheduling view of a merchant's store.
type Storefront struct {
	Slug                string    `json:"slug"`
	MerchantID          string    `json:"merchant_id"`
	SlotDurationMinutes int       `json:"slot_duration_minutes"`
	Timezone            string    `json:"timezone"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// DateConfig is a merchant's declaration for one calendar date of one store.
type DateConfig struct {
	ID           string     `json:"id"`
	MerchantID   string     `json:"merchant_id"`
	StoreSlug    string     `json:"store_slug"`
	Date         Date       `json:"date"`
	Closed       bool       `json:"closed"`
	RepeatWeekly bool       `json:"repeat_weekly"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Intervals    []Interval `json:"intervals"`
}

// Interval is one bookable slot of a DateConfig.
type Interval struct {
	ID           string    `json:"id"`
	DateConfigID string    `json:"date_config_id"`
	Start        TimeOfDay `json:"start"`
	End          TimeOfDay `json:"end"`
	Available    bool      `json:"available"`
}

func (i Interval) Range() TimeRange {
	return TimeRange{Start: i.Start, End: i.End}
}

// DesiredConfig is the state a merchant wants for a date.
type DesiredConfig struct {
	Date            Date
	Type            ConfigType
	Closed          bool
	RepeatWeekly    bool
	DurationMinutes int
	Intervals       []TimeRange
}

type Booking struct {
	ID           string    `json:"id"`
	Date         Date      `json:"date"`
	Time         TimeOfDay `json:"time"`
	CustomerID   string    `json:"customer_id"`
	MerchantID   string    `json:"merchant_id"`
	StoreSlug    string    `json:"store_slug"`
	DateConfigID string    `json:"date_config_id"`
	IntervalID   string    `json:"interval_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// BookingKey identifies a booking for duplicate detection.
type BookingKey struct {
	Date       Date
	Time       TimeOfDay
	CustomerID string
	MerchantID string
	StoreSlug  string
}

func (b Booking) Key() BookingKey {
	return BookingKey{Date: b.Date, Time: b.Time, CustomerID: b.CustomerID, MerchantID: b.MerchantID, StoreSlug: b.StoreSlug}
}

package scheduling

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when a store slug belongs to another merchant.
	ErrForbidden = errors.New("forbidden")
	// ErrDuplicateBooking is returned when the customer already holds the
	// same booking.
	ErrDuplicateBooking = errors.New("duplicate booking")
	// ErrNotAvailable is returned when the date has no configuration or is
	// closed.
	ErrNotAvailable = errors.New("date not available")
	// ErrSlotUnavailable is returned when the slot could not be claimed.
	ErrSlotUnavailable = errors.New("slot unavailable")
	// ErrAlreadyAvailable is returned when releasing a slot that is not
	// claimed.
	ErrAlreadyAvailable = errors.New("slot already available")
)

// ValidationError carries per-field messages. Keys look like
// "items[2].intervals[1]".
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// ConsistencyFault means a slot was claimed but the booking could not be
// recorded, or the commit outcome is unknown.
type ConsistencyFault struct {
	DateConfigID string
	Start        model.TimeOfDay
	Err          error
}

func (e *ConsistencyFault) Error() string {
	return fmt.Sprintf("booking not recorded for date config %s at %s: %v", e.DateConfigID, e.Start, e.Err)
}

func (e *ConsistencyFault) Unwrap() error { return e.Err }

// StorageError wraps a storage failure that has no domain meaning.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ErrorKind returns a stable label for logs and metrics.
func ErrorKind(err error) string {
	var ve *ValidationError
	var cf *ConsistencyFault
	var se *StorageError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &cf):
		return "consistency_fault"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrDuplicateBooking):
		return "duplicate_booking"
	case errors.Is(err, ErrNotAvailable):
		return "not_available"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrAlreadyAvailable):
		return "already_available"
	case errors.As(err, &se):
		return "storage"
	default:
		return "internal"
	}
}

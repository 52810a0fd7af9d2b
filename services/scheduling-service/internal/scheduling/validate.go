package scheduling

import (
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/slots"
)

// ConfigInput is the wire form of one date configuration.
type ConfigInput struct {
	Date            string          `json:"date"`
	ConfigType      string          `json:"config_type"`
	Closed          bool            `json:"closed"`
	RepeatWeekly    bool            `json:"repeat_weekly"`
	DurationMinutes int             `json:"duration_minutes"`
	Intervals       []IntervalInput `json:"intervals"`
}

type IntervalInput struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ParseConfigs converts wire input into typed configurations. Every malformed
// field is reported; nothing is returned unless all items parse.
func ParseConfigs(in []ConfigInput) ([]model.DesiredConfig, error) {
	verr := &ValidationError{}
	if len(in) == 0 {
		verr.add("items", "at least one configuration is required")
		return nil, verr
	}

	out := make([]model.DesiredConfig, 0, len(in))
	for i, item := range in {
		prefix := fmt.Sprintf("items[%d]", i)
		dc := model.DesiredConfig{
			Closed:          item.Closed,
			RepeatWeekly:    item.RepeatWeekly,
			DurationMinutes: item.DurationMinutes,
			Type:            model.ConfigType(strings.ToLower(strings.TrimSpace(item.ConfigType))),
		}

		d, err := model.ParseDate(strings.TrimSpace(item.Date))
		if err != nil {
			verr.add(prefix+".date", err.Error())
		}
		dc.Date = d

		if dc.Type == "" {
			dc.Type = model.ConfigSlots
		}
		if !dc.Type.Valid() {
			verr.add(prefix+".config_type", fmt.Sprintf("must be %q or %q", model.ConfigSlots, model.ConfigRange))
		}

		for j, iv := range item.Intervals {
			field := fmt.Sprintf("%s.intervals[%d]", prefix, j)
			start, err := model.ParseTimeOfDay(strings.TrimSpace(iv.Start))
			if err != nil {
				verr.add(field+".start", err.Error())
				continue
			}
			end, err := model.ParseTimeOfDay(strings.TrimSpace(iv.End))
			if err != nil {
				verr.add(field+".end", err.Error())
				continue
			}
			dc.Intervals = append(dc.Intervals, model.TimeRange{Start: start, End: end})
		}
		out = append(out, dc)
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// expandBatch validates a batch and returns, per item, the slots that should
// exist for it. Closed items expand to nothing and their intervals are
// ignored.
func expandBatch(configs []model.DesiredConfig, window model.DateRange, defaultDuration int) ([][]model.TimeRange, error) {
	verr := &ValidationError{}
	if len(configs) == 0 {
		verr.add("items", "at least one configuration is required")
		return nil, verr
	}

	seen := map[model.Date]int{}
	expanded := make([][]model.TimeRange, len(configs))
	for i, dc := range configs {
		prefix := fmt.Sprintf("items[%d]", i)

		switch {
		case dc.Date.IsZero():
			verr.add(prefix+".date", "is required")
		case !window.Contains(dc.Date):
			verr.add(prefix+".date", fmt.Sprintf("%s is outside the requested range", dc.Date))
		default:
			if first, ok := seen[dc.Date]; ok {
				verr.add(prefix+".date", fmt.Sprintf("duplicates items[%d]", first))
			} else {
				seen[dc.Date] = i
			}
		}

		if dc.Closed {
			continue
		}

		valid := true
		for j, r := range dc.Intervals {
			if r.Start >= r.End {
				verr.add(fmt.Sprintf("%s.intervals[%d]", prefix, j), "start must be before end")
				valid = false
			}
		}
		if !valid {
			continue
		}
		if a, b, ok := slots.FirstOverlap(dc.Intervals); ok {
			verr.add(fmt.Sprintf("%s.intervals[%d]", prefix, b), fmt.Sprintf("overlaps intervals[%d]", a))
			continue
		}

		switch dc.Type {
		case model.ConfigRange:
			duration := dc.DurationMinutes
			if duration == 0 {
				duration = defaultDuration
			}
			if duration <= 0 || duration > model.MinutesPerDay {
				verr.add(prefix+".duration_minutes", "must be between 1 and 1440")
				continue
			}
			var out []model.TimeRange
			for j, r := range dc.Intervals {
				parts := slots.Split(r.Start, r.End, duration)
				if len(parts) == 0 {
					verr.add(fmt.Sprintf("%s.intervals[%d]", prefix, j), fmt.Sprintf("shorter than slot duration of %d minutes", duration))
					continue
				}
				out = append(out, parts...)
			}
			expanded[i] = out
		case model.ConfigSlots, "":
			expanded[i] = append([]model.TimeRange(nil), dc.Intervals...)
		default:
			verr.add(prefix+".config_type", fmt.Sprintf("unknown type %q", dc.Type))
		}
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return expanded, nil
}

package ics

import (
	"errors"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "cald/internal/log"
	"cald/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000

	// MaxRepeat caps how many events a single repeat rule may generate.
	MaxRepeat = 500
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// Location is the timezone in which timed occurrences are assigned to a
	// calendar day. If nil, time.Local is used.
	Location *time.Location

	// RangeStart / RangeEnd define the inclusive day window for occurrences.
	RangeStart model.Date
	RangeEnd   model.Date

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the expanded events and information about truncation.
type ExpandResult struct {
	Events []model.Event
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
	// Skipped counts occurrences whose summary produced no usable name.
	Skipped int
}

// ExpandOccurrences turns parsed VEVENTs into calendar events, one per
// occurrence day inside the configured window. It handles:
//
//   - Single non-recurring events
//   - RRULE-based recurrence
//   - EXDATE for exception removal
//   - RECURRENCE-ID overrides
//
// Occurrences keep the input order of their base events.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group overrides by UID; keep base events in input order.
	overridesByUID := make(map[string][]ParsedEvent)
	var bases []ParsedEvent
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			bases = append(bases, ev)
		}
	}

	for _, ev := range bases {
		starts, hitCap := occurrenceStarts(ev, cfg)
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.UID)
			appLog.Error("expand: truncated occurrences for UID due to cap",
				errors.New("max occurrences reached"),
				"uid", ev.UID,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}

		for _, start := range starts {
			occ := ev
			if o, ok := findOverrideForStart(overridesByUID[ev.UID], start); ok {
				occ = o
				start = o.Start
			}

			me, ok := toModelEvent(occ, start, cfg.Location)
			if !ok {
				result.Skipped++
				continue
			}
			if me.Date.Before(cfg.RangeStart) || me.Date.After(cfg.RangeEnd) {
				continue
			}
			result.Events = append(result.Events, me)
		}
	}

	return result, nil
}

// occurrenceStarts returns the start times of ev inside the window, and
// whether the cap was hit.
func occurrenceStarts(ev ParsedEvent, cfg ExpandConfig) ([]time.Time, bool) {
	if ev.RawRRule == "" {
		return []time.Time{ev.Start}, false
	}

	r, err := rrule.StrToRRule(trimRRulePrefix(ev.RawRRule))
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen by a day on each side; toModelEvent re-checks the exact window
	// after converting to the display zone.
	loc := ev.Start.Location()
	rangeStart := cfg.RangeStart.Time(loc).AddDate(0, 0, -1)
	rangeEnd := cfg.RangeEnd.Time(loc).AddDate(0, 0, 2)

	starts := set.Between(rangeStart, rangeEnd, true)
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		return starts[:cfg.MaxOccurrencesPerEvent], true
	}
	return starts, false
}

// findOverrideForStart finds an override whose RECURRENCE-ID equals start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// toModelEvent maps one occurrence to a stored event. All-day events keep
// their own calendar day; timed events take their day in loc.
func toModelEvent(ev ParsedEvent, start time.Time, loc *time.Location) (model.Event, bool) {
	name := model.SanitizeName(ev.Summary)
	if name == "" {
		return model.Event{}, false
	}
	day := start
	if !ev.AllDay {
		day = start.In(loc)
	}
	return model.Event{
		Date:        model.DateOf(day),
		Name:        name,
		Description: model.SanitizeDescription(ev.Description),
	}, true
}

// ExpandRepeat returns ev followed by its recurrences under rule (an RRULE
// value such as "FREQ=WEEKLY;COUNT=4"), capped at MaxRepeat events.
func ExpandRepeat(ev model.Event, rule string) ([]model.Event, error) {
	r, err := rrule.StrToRRule(trimRRulePrefix(rule))
	if err != nil {
		return nil, err
	}
	r.DTStart(ev.Date.Time(time.UTC))

	var out []model.Event
	next := r.Iterator()
	for len(out) < MaxRepeat {
		t, ok := next()
		if !ok {
			break
		}
		occ := ev
		occ.Date = model.DateOf(t)
		out = append(out, occ)
	}
	return out, nil
}

func trimRRulePrefix(rule string) string {
	rule = strings.TrimSpace(rule)
	if len(rule) >= 6 && strings.EqualFold(rule[:6], "RRULE:") {
		return rule[6:]
	}
	return rule
}

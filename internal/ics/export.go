package ics

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"cald/internal/model"
)

// ExportConfig controls iCalendar rendering.
type ExportConfig struct {
	ProductID string
	// Location anchors all-day dates. If nil, time.Local is used.
	Location *time.Location
	// Now stamps DTSTAMP. If zero, time.Now() is used.
	Now time.Time
}

// Export writes events as an iCalendar document of all-day VEVENTs. Each
// UID is derived from the event's identity key, so re-exporting the same
// calendar yields stable UIDs.
func Export(w io.Writer, events []model.Event, cfg ExportConfig) error {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now.IsZero() {
		cfg.Now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	if cfg.ProductID != "" {
		cal.SetProductId(cfg.ProductID)
	}

	for _, ev := range events {
		start := ev.Date.Time(cfg.Location)

		vev := cal.AddEvent(UID(ev))
		vev.SetDtStampTime(cfg.Now.UTC())
		vev.SetSummary(ev.Name)
		if ev.Description != "" {
			vev.SetDescription(ev.Description)
		}
		vev.SetAllDayStartAt(start)
		vev.SetAllDayEndAt(start.AddDate(0, 0, 1))
	}

	return cal.SerializeTo(w)
}

// UID returns the stable iCalendar UID for ev.
func UID(ev model.Event) string {
	sum := sha256.Sum256([]byte(ev.Key()))
	return hex.EncodeToString(sum[:12]) + "@cald"
}

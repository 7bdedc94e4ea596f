package ics

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cald/internal/model"
)

const sampleICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup@test\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240108T090000Z\r\n" +
	"RRULE:FREQ=WEEKLY;COUNT=4\r\n" +
	"EXDATE:20240115T090000Z\r\n" +
	"SUMMARY:Team standup\r\n" +
	"DESCRIPTION:Weekly  sync\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup@test\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"RECURRENCE-ID:20240122T090000Z\r\n" +
	"DTSTART:20240123T090000Z\r\n" +
	"SUMMARY:Moved standup\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:holiday@test\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20240101\r\n" +
	"SUMMARY:New Year\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20240102\r\n" +
	"SUMMARY:No uid\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func mustDate(t *testing.T, s string) model.Date {
	t.Helper()
	d, err := model.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestParseICS(t *testing.T) {
	events, err := ParseICS("sample.ics", []byte(sampleICS))
	require.NoError(t, err)
	require.Len(t, events, 3)

	base := events[0]
	assert.Equal(t, "standup@test", base.UID)
	assert.Equal(t, "FREQ=WEEKLY;COUNT=4", base.RawRRule)
	assert.False(t, base.AllDay)
	require.Len(t, base.ExDates, 1)
	assert.True(t, base.ExDates[0].Equal(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)))

	override := events[1]
	assert.True(t, override.IsOverride)
	require.NotNil(t, override.Recurrence)
	assert.True(t, override.Recurrence.Equal(time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC)))

	assert.True(t, events[2].AllDay)
	assert.Equal(t, "New Year", events[2].Summary)
}

func TestParseICSRejectsEmpty(t *testing.T) {
	_, err := ParseICS("empty", nil)
	assert.Error(t, err)
}

func TestExpandOccurrences(t *testing.T) {
	events, err := ParseICS("sample.ics", []byte(sampleICS))
	require.NoError(t, err)

	res, err := ExpandOccurrences(events, ExpandConfig{
		Location:   time.UTC,
		RangeStart: mustDate(t, "01-01-2024"),
		RangeEnd:   mustDate(t, "31-12-2024"),
	})
	require.NoError(t, err)

	var got []string
	for _, ev := range res.Events {
		got = append(got, ev.Date.String()+" "+ev.Name+" "+ev.Description)
	}
	assert.Equal(t, []string{
		"08-01-2024 Team_standup Weekly sync",
		"23-01-2024 Moved_standup ",
		"29-01-2024 Team_standup Weekly sync",
		"01-01-2024 New_Year ",
	}, got)
	assert.Empty(t, res.TruncatedEvents)
}

func TestExpandOccurrencesWindow(t *testing.T) {
	events, err := ParseICS("sample.ics", []byte(sampleICS))
	require.NoError(t, err)

	res, err := ExpandOccurrences(events, ExpandConfig{
		Location:   time.UTC,
		RangeStart: mustDate(t, "20-01-2024"),
		RangeEnd:   mustDate(t, "25-01-2024"),
	})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "Moved_standup", res.Events[0].Name)

	_, err = ExpandOccurrences(events, ExpandConfig{
		RangeStart: mustDate(t, "25-01-2024"),
		RangeEnd:   mustDate(t, "20-01-2024"),
	})
	assert.Error(t, err)
}

func TestExpandOccurrencesCap(t *testing.T) {
	events := []ParsedEvent{{
		UID:      "daily@test",
		Summary:  "Daily",
		Start:    time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
		RawRRule: "FREQ=DAILY",
	}}
	res, err := ExpandOccurrences(events, ExpandConfig{
		Location:               time.UTC,
		RangeStart:             mustDate(t, "01-01-2024"),
		RangeEnd:               mustDate(t, "31-12-2024"),
		MaxOccurrencesPerEvent: 10,
	})
	require.NoError(t, err)
	assert.Len(t, res.Events, 10)
	assert.Equal(t, []string{"daily@test"}, res.TruncatedEvents)
}

func TestExpandOccurrencesSkipsNamelessSummary(t *testing.T) {
	events := []ParsedEvent{{
		UID:     "blank@test",
		Summary: "   ",
		Start:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		AllDay:  true,
	}}
	res, err := ExpandOccurrences(events, ExpandConfig{
		RangeStart: mustDate(t, "01-01-2024"),
		RangeEnd:   mustDate(t, "31-12-2024"),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Events)
	assert.Equal(t, 1, res.Skipped)
}

func TestExpandRepeat(t *testing.T) {
	ev := model.Event{Date: mustDate(t, "31-01-2024"), Name: "Rent", Description: "pay"}

	out, err := ExpandRepeat(ev, "RRULE:FREQ=WEEKLY;COUNT=3")
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "31-01-2024", out[0].Date.String())
	assert.Equal(t, "07-02-2024", out[1].Date.String())
	assert.Equal(t, "14-02-2024", out[2].Date.String())
	for _, o := range out {
		assert.Equal(t, "Rent", o.Name)
		assert.Equal(t, "pay", o.Description)
	}

	out, err = ExpandRepeat(ev, "FREQ=DAILY")
	require.NoError(t, err)
	assert.Len(t, out, MaxRepeat)

	_, err = ExpandRepeat(ev, "FREQ=SOMETIMES")
	assert.Error(t, err)
}

func TestExportRoundTrip(t *testing.T) {
	events := []model.Event{
		{Date: mustDate(t, "01-01-2024"), Name: "NewYear", Description: "Party"},
		{Date: mustDate(t, "15-06-2024"), Name: "Meeting"},
	}

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, events, ExportConfig{
		ProductID: "-//cald//EN",
		Location:  time.UTC,
		Now:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	out := buf.String()
	assert.Contains(t, out, "PRODID:-//cald//EN")
	assert.Contains(t, out, "METHOD:PUBLISH")
	assert.Contains(t, out, "SUMMARY:NewYear")
	assert.Contains(t, out, "DTSTART;VALUE=DATE:20240101")
	assert.Contains(t, out, "DTEND;VALUE=DATE:20240102")
	assert.Contains(t, out, "UID:"+UID(events[0]))

	parsed, err := ParseICS("export", buf.Bytes())
	require.NoError(t, err)
	res, err := ExpandOccurrences(parsed, ExpandConfig{
		RangeStart: mustDate(t, "01-01-2024"),
		RangeEnd:   mustDate(t, "31-12-2024"),
	})
	require.NoError(t, err)
	assert.Equal(t, events, res.Events)
}

func TestUIDStable(t *testing.T) {
	ev := model.Event{Date: mustDate(t, "01-01-2024"), Name: "NewYear"}
	assert.Equal(t, UID(ev), UID(model.Event{Date: ev.Date, Name: ev.Name, Description: "changed"}))
	assert.NotEqual(t, UID(ev), UID(model.Event{Date: mustDate(t, "02-01-2024"), Name: ev.Name}))
	assert.True(t, strings.HasSuffix(UID(ev), "@cald"))
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cal.ics" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	f := NewFetcher()
	body, err := f.Fetch(context.Background(), srv.URL+"/cal.ics")
	require.NoError(t, err)
	assert.Equal(t, sampleICS, string(body))

	_, err = f.Fetch(context.Background(), srv.URL+"/missing.ics")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "cal.ics")
	require.NoError(t, os.WriteFile(path, []byte(sampleICS), 0o644))
	body, err = f.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, sampleICS, string(body))

	_, err = f.Fetch(context.Background(), "")
	assert.Error(t, err)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/...(redacted)", redactURL("https://example.com/private.ics?token=abc"))
	assert.Equal(t, "http://host:8080/...(redacted)", redactURL("http://host:8080?x=1"))
	assert.Equal(t, "/tmp/cal.ics", redactURL("/tmp/cal.ics"))
}

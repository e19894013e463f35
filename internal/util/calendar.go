package util

import (
	"fmt"
	"strings"
	"time"
)

// TradingCalendar answers whether a session is open at a point in time. A
// session runs from open to close (offsets from local midnight) on each
// enabled weekday. Exchange holidays are not modelled.
type TradingCalendar struct {
	loc   *time.Location
	open  time.Duration
	close time.Duration
	days  [7]bool
}

// NewTradingCalendar creates a TradingCalendar in loc. open == close means
// the whole day; no days means every day.
func NewTradingCalendar(loc *time.Location, open, close time.Duration, days []time.Weekday) *TradingCalendar {
	if loc == nil {
		loc = time.UTC
	}
	tc := &TradingCalendar{loc: loc, open: open, close: close}
	if len(days) == 0 {
		for i := range tc.days {
			tc.days[i] = true
		}
	}
	for _, d := range days {
		tc.days[d] = true
	}
	return tc
}

// USEquities is the regular NYSE session, 09:30-16:00 America/New_York on
// weekdays.
func USEquities() (*TradingCalendar, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("loading market time zone: %w", err)
	}
	weekdays := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	return NewTradingCalendar(loc, 9*time.Hour+30*time.Minute, 16*time.Hour, weekdays), nil
}

// Location returns the calendar's time zone.
func (tc *TradingCalendar) Location() *time.Location { return tc.loc }

func (tc *TradingCalendar) allDay() bool { return tc.open == tc.close }

// IsTradingDay reports whether t falls on an enabled weekday.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	return tc.days[t.In(tc.loc).Weekday()]
}

// IsMarketOpen returns whether the session is open at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	if !tc.IsTradingDay(t) {
		return false
	}
	if tc.allDay() {
		return true
	}
	tod := sinceMidnight(t.In(tc.loc))
	return tod >= tc.open && tod < tc.close
}

// NextOpen returns the next session open at or after t. It returns the zero
// time when no weekday is enabled.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	if tc.IsMarketOpen(t) {
		return t
	}
	local := t.In(tc.loc)
	day := midnight(local)
	for i := 0; i < 8; i++ {
		if tc.days[day.Weekday()] {
			open := day.Add(tc.open)
			if !open.Before(local) {
				return open
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}
}

// NextClose returns the next session close at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	open := tc.NextOpen(t)
	if open.IsZero() {
		return open
	}
	day := midnight(open.In(tc.loc))
	if tc.allDay() {
		return day.AddDate(0, 0, 1)
	}
	return day.Add(tc.close)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func sinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second + time.Duration(t.Nanosecond())
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parsing clock %q: want HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) >= 3 {
		if d, ok := weekdayNames[s[:3]]; ok && strings.HasPrefix(strings.ToLower(d.String()), s) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

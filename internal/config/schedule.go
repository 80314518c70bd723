package config

import (
	"fmt"
	"time"
)

// clockWindow holds minutes after midnight, start inclusive, end exclusive.
type clockWindow struct {
	start int
	end   int
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse %q as HH:MM: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func parseWindow(start, end string) (clockWindow, error) {
	s, err := parseClock(start)
	if err != nil {
		return clockWindow{}, err
	}
	e, err := parseClock(end)
	if err != nil {
		return clockWindow{}, err
	}
	if s >= e {
		return clockWindow{}, fmt.Errorf("start %s must be before end %s", start, end)
	}
	return clockWindow{start: s, end: e}, nil
}

// Location returns the market timezone, falling back to a fixed ET offset
// on minimal containers without tzdata.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.timezone())
	if err != nil {
		if fallbackLoc, err2 := time.LoadLocation(defaultTimezone); err2 == nil {
			return fallbackLoc
		}
		return time.FixedZone("ET", -5*60*60)
	}
	return loc
}

// InEntryWindow reports whether new positions may be opened at now.
func (c *Config) InEntryWindow(now time.Time) bool {
	return c.inWindow(now, c.Schedule.EntryStart, c.Schedule.EntryEnd)
}

// InManagementWindow reports whether open positions are managed at now.
func (c *Config) InManagementWindow(now time.Time) bool {
	return c.inWindow(now, c.Schedule.ManageStart, c.Schedule.ManageEnd)
}

func (c *Config) inWindow(now time.Time, start, end string) bool {
	w, err := parseWindow(start, end)
	if err != nil {
		return false
	}
	local := now.In(c.Location())

	// Only allow Monday–Friday trading
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= w.start && minutes < w.end
}

// NextManagementOpen returns the next time the management window opens after now.
// If now is inside the window it returns now.
func (c *Config) NextManagementOpen(now time.Time) time.Time {
	if c.InManagementWindow(now) {
		return now
	}
	w, err := parseWindow(c.Schedule.ManageStart, c.Schedule.ManageEnd)
	if err != nil {
		return now.Add(c.Schedule.CheckInterval)
	}
	loc := c.Location()
	local := now.In(loc)
	for i := 0; i < 8; i++ {
		day := local.AddDate(0, 0, i)
		open := time.Date(day.Year(), day.Month(), day.Day(), w.start/60, w.start%60, 0, 0, loc)
		if open.Weekday() == time.Saturday || open.Weekday() == time.Sunday {
			continue
		}
		if open.After(local) {
			return open
		}
	}
	return now.Add(c.Schedule.CheckInterval)
}

// ManagementClosedFor reports whether the management window of now's trading day has ended.
func (c *Config) ManagementClosedFor(now time.Time) bool {
	w, err := parseWindow(c.Schedule.ManageStart, c.Schedule.ManageEnd)
	if err != nil {
		return false
	}
	local := now.In(c.Location())
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	return local.Hour()*60+local.Minute() >= w.end
}

// TradingDate returns now's calendar date in the market timezone.
func (c *Config) TradingDate(now time.Time) string {
	return now.In(c.Location()).Format("2006-01-02")
}

/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultTimezone is the zone every date comparison is normalized to.
	DefaultTimezone = "America/Los_Angeles"

	// DateLayout is the layout of persisted date keys.
	DateLayout = "2006-01-02"
)

// Calendar answers "is this day chargeable" questions for late-fee purposes.
// All inputs are normalized to the calendar's location at start of day, so two
// timestamps on the same local day always produce the same answer.
type Calendar struct {
	loc           *time.Location
	nonChargeable time.Weekday
	holidays      map[string]Holiday
	lastKnownYear int
}

// Option customises a Calendar at construction time.
type Option func(*Calendar)

// WithLocation overrides the timezone used to normalize dates.
func WithLocation(loc *time.Location) Option {
	return func(c *Calendar) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithNonChargeableWeekday overrides the weekday that never accrues a fee.
func WithNonChargeableWeekday(day time.Weekday) Option {
	return func(c *Calendar) {
		c.nonChargeable = day
	}
}

// New builds a Calendar from the holidays returned by source.
//
// Parameters:
// - ctx: The context for loading holiday data.
// - source: The holiday data source. A nil source yields a calendar with no holidays.
// - opts: Optional overrides for timezone and non-chargeable weekday.
//
// Returns:
// - *Calendar: The ready-to-use calendar.
// - error: An error if the default timezone cannot be loaded or the source fails.
func New(ctx context.Context, source HolidaySource, opts ...Option) (*Calendar, error) {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", DefaultTimezone, err)
	}

	c := &Calendar{
		loc:           loc,
		nonChargeable: time.Sunday,
		holidays:      make(map[string]Holiday),
	}
	for _, opt := range opts {
		opt(c)
	}

	if source == nil {
		return c, nil
	}

	holidays, err := source.Holidays(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load holidays: %w", err)
	}
	for _, h := range holidays {
		key := c.DateKey(h.Date)
		c.holidays[key] = h
		if y := h.Date.Year(); y > c.lastKnownYear {
			c.lastKnownYear = y
		}
	}

	return c, nil
}

// Location returns the timezone dates are normalized to.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// StartOfDay returns midnight of t's local day in the calendar timezone.
func (c *Calendar) StartOfDay(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
}

// EndOfDay returns the last instant of t's local day in the calendar timezone.
func (c *Calendar) EndOfDay(t time.Time) time.Time {
	return c.StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// DateKey formats t as YYYY-MM-DD in the calendar timezone.
func (c *Calendar) DateKey(t time.Time) string {
	return t.In(c.loc).Format(DateLayout)
}

// ParseDate parses a persisted date. Bare dates (YYYY-MM-DD) are read as
// local dates in the calendar timezone; RFC3339 timestamps keep their instant.
func (c *Calendar) ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := time.ParseInLocation(DateLayout, value, c.loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return t, nil
}

// DaysBetween returns the number of local calendar days from a to b.
// It is negative when b falls on an earlier local day than a.
func (c *Calendar) DaysBetween(a, b time.Time) int {
	start := c.StartOfDay(a)
	end := c.StartOfDay(b)
	days := 0
	if end.Before(start) {
		for d := end; d.Before(start); d = d.AddDate(0, 0, 1) {
			days--
		}
		return days
	}
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		days++
	}
	return days
}

// IsHoliday reports whether t's local day is a configured holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	_, ok := c.holidays[c.DateKey(t)]
	return ok
}

// IsNonChargeableDate reports whether t's local day falls on the
// non-chargeable weekday or on a configured holiday.
func (c *Calendar) IsNonChargeableDate(t time.Time) bool {
	day := c.StartOfDay(t)
	if day.Weekday() == c.nonChargeable {
		return true
	}
	return c.IsHoliday(day)
}

// ChargeableLateDays counts chargeable days after dueDate up to and including
// refDate. It returns 0 when refDate's local day is before dueDate's.
//
// Parameters:
// - refDate: The reference date (scan date or current date).
// - dueDate: The return due date.
//
// Returns:
// - int: The number of chargeable days in (dueDate, refDate].
func (c *Calendar) ChargeableLateDays(refDate, dueDate time.Time) int {
	ref := c.StartOfDay(refDate)
	due := c.StartOfDay(dueDate)
	if ref.Before(due) {
		return 0
	}

	days := 0
	for d := due.AddDate(0, 0, 1); !d.After(ref); d = d.AddDate(0, 0, 1) {
		if !c.IsNonChargeableDate(d) {
			days++
		}
	}
	return days
}

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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Holiday is a single explicitly dated non-chargeable day.
type Holiday struct {
	Date time.Time `json:"date"`
	Name string    `json:"name"`
}

// HolidaySource supplies the finite set of holidays a Calendar knows about.
type HolidaySource interface {
	Holidays(ctx context.Context) ([]Holiday, error)
}

// StaticSource is an in-memory holiday list.
type StaticSource []Holiday

// Holidays returns the static list.
func (s StaticSource) Holidays(_ context.Context) ([]Holiday, error) {
	return s, nil
}

func day(year int, month time.Month, d int, name string) Holiday {
	return Holiday{Date: time.Date(year, month, d, 12, 0, 0, 0, time.UTC), Name: name}
}

// DefaultHolidays is the built-in US federal holiday set. It is hand
// maintained and stops at the last listed year; Calendar.CheckCoverage
// reports when the current date approaches that edge.
var DefaultHolidays = StaticSource{
	day(2025, time.January, 1, "New Year's Day"),
	day(2025, time.January, 20, "Martin Luther King Jr. Day"),
	day(2025, time.February, 17, "Presidents' Day"),
	day(2025, time.May, 26, "Memorial Day"),
	day(2025, time.June, 19, "Juneteenth"),
	day(2025, time.July, 4, "Independence Day"),
	day(2025, time.September, 1, "Labor Day"),
	day(2025, time.October, 13, "Columbus Day"),
	day(2025, time.November, 11, "Veterans Day"),
	day(2025, time.November, 27, "Thanksgiving"),
	day(2025, time.December, 25, "Christmas Day"),

	day(2026, time.January, 1, "New Year's Day"),
	day(2026, time.January, 19, "Martin Luther King Jr. Day"),
	day(2026, time.February, 16, "Presidents' Day"),
	day(2026, time.May, 25, "Memorial Day"),
	day(2026, time.June, 19, "Juneteenth"),
	day(2026, time.July, 3, "Independence Day (observed)"),
	day(2026, time.September, 7, "Labor Day"),
	day(2026, time.October, 12, "Columbus Day"),
	day(2026, time.November, 11, "Veterans Day"),
	day(2026, time.November, 26, "Thanksgiving"),
	day(2026, time.December, 25, "Christmas Day"),

	day(2027, time.January, 1, "New Year's Day"),
	day(2027, time.January, 18, "Martin Luther King Jr. Day"),
	day(2027, time.February, 15, "Presidents' Day"),
	day(2027, time.May, 31, "Memorial Day"),
	day(2027, time.June, 18, "Juneteenth (observed)"),
	day(2027, time.July, 5, "Independence Day (observed)"),
	day(2027, time.September, 6, "Labor Day"),
	day(2027, time.October, 11, "Columbus Day"),
	day(2027, time.November, 11, "Veterans Day"),
	day(2027, time.November, 25, "Thanksgiving"),
	day(2027, time.December, 24, "Christmas Day (observed)"),
}

// FileSource loads holidays from a JSON file of the form
// [{"date": "2025-11-27", "name": "Thanksgiving"}, ...].
type FileSource struct {
	Path string
}

type fileHoliday struct {
	Date string `json:"date"`
	Name string `json:"name"`
}

// Holidays reads and parses the holiday file.
func (f FileSource) Holidays(_ context.Context) ([]Holiday, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read holiday file %s: %w", f.Path, err)
	}

	var raw []fileHoliday
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse holiday file %s: %w", f.Path, err)
	}

	holidays := make([]Holiday, 0, len(raw))
	for _, r := range raw {
		d, err := time.Parse(DateLayout, r.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid holiday date %q: %w", r.Date, err)
		}
		// Noon UTC keeps the date stable when normalized to any US zone.
		holidays = append(holidays, Holiday{Date: d.Add(12 * time.Hour), Name: r.Name})
	}
	return holidays, nil
}

// ErrCoverageExhausted is returned when the current date is past the last
// year for which holiday data exists.
var ErrCoverageExhausted = errors.New("holiday data does not cover the current date")

// CoverageWarning is returned when the current date is within the warning
// horizon of the last known holiday year.
type CoverageWarning struct {
	LastKnownYear int
	DaysLeft      int
}

func (w CoverageWarning) Error() string {
	return fmt.Sprintf("holiday data ends with %d, %d days left; extend the holiday set", w.LastKnownYear, w.DaysLeft)
}

// CheckCoverage verifies that holiday data covers now.
//
// Returns nil when coverage is comfortable, a CoverageWarning when fewer than
// horizon days of data remain, and ErrCoverageExhausted when now is past the
// last known year (or no holidays are loaded at all).
func (c *Calendar) CheckCoverage(now time.Time, horizon time.Duration) error {
	if c.lastKnownYear == 0 {
		return ErrCoverageExhausted
	}

	edge := time.Date(c.lastKnownYear+1, time.January, 1, 0, 0, 0, 0, c.loc)
	local := now.In(c.loc)
	if !local.Before(edge) {
		return fmt.Errorf("%w: last known year %d", ErrCoverageExhausted, c.lastKnownYear)
	}

	left := edge.Sub(local)
	if left < horizon {
		return CoverageWarning{LastKnownYear: c.lastKnownYear, DaysLeft: int(left.Hours() / 24)}
	}
	return nil
}

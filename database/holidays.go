package database

import (
	"context"
	"time"

	"github.com/jerry-enebeli/rentcycle/calendar"
	"github.com/jerry-enebeli/rentcycle/internal/apierror"
)

var _ calendar.HolidaySource = Datasource{}

// Holidays loads the holiday table. Dates are anchored at noon UTC so they
// land on the same calendar day in any US zone.
func (d Datasource) Holidays(ctx context.Context) ([]calendar.Holiday, error) {
	rows, err := d.Conn.QueryContext(ctx, `SELECT day, name FROM rentcycle.holidays ORDER BY day`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrTransient, "Failed to retrieve holidays", err)
	}
	defer func() { _ = rows.Close() }()

	var out []calendar.Holiday
	for rows.Next() {
		var (
			day  time.Time
			name string
		)
		if err := rows.Scan(&day, &name); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan holiday", err)
		}
		out = append(out, calendar.Holiday{
			Date: time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, time.UTC),
			Name: name,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over holidays", err)
	}
	return out, nil
}

// AddHoliday inserts or renames a holiday.
func (d Datasource) AddHoliday(ctx context.Context, h calendar.Holiday) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO rentcycle.holidays (day, name) VALUES ($1, $2)
		ON CONFLICT (day) DO UPDATE SET name = EXCLUDED.name`,
		h.Date.Format(calendar.DateLayout), h.Name)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrTransient, "Failed to save holiday", err)
	}
	return nil
}

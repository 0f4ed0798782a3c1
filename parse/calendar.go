package parse

import (
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"
)

// Calendar is one base weekly service record. Weekday is a bitmask indexed
// by time.Weekday.
type Calendar struct {
	ServiceID string
	StartDate string
	EndDate   string
	Weekday   int8
}

// ActiveOn reports whether the weekly record covers a civil date.
func (c Calendar) ActiveOn(date string, weekday time.Weekday) bool {
	return c.Weekday&(1<<weekday) != 0 && c.StartDate <= date && date <= c.EndDate
}

type calendarCSV struct {
	ServiceID string `csv:"service_id"`
	StartDate string `csv:"start_date"`
	EndDate   string `csv:"end_date"`
	Monday    int8   `csv:"monday"`
	Tuesday   int8   `csv:"tuesday"`
	Wednesday int8   `csv:"wednesday"`
	Thursday  int8   `csv:"thursday"`
	Friday    int8   `csv:"friday"`
	Saturday  int8   `csv:"saturday"`
	Sunday    int8   `csv:"sunday"`
}

func CalendarRecords(data io.Reader) ([]Calendar, error) {
	setupReader()

	rows := []*calendarCSV{}
	if err := gocsv.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshaling calendar csv: %w", err)
	}

	seen := map[string]bool{}
	records := make([]Calendar, 0, len(rows))
	for _, c := range rows {
		if c.ServiceID == "" {
			return nil, fmt.Errorf("empty service_id")
		}
		if seen[c.ServiceID] {
			return nil, fmt.Errorf("repeated service_id '%s'", c.ServiceID)
		}
		seen[c.ServiceID] = true

		var weekday int8
		for _, day := range []struct {
			val int8
			day time.Weekday
		}{
			{c.Monday, time.Monday},
			{c.Tuesday, time.Tuesday},
			{c.Wednesday, time.Wednesday},
			{c.Thursday, time.Thursday},
			{c.Friday, time.Friday},
			{c.Saturday, time.Saturday},
			{c.Sunday, time.Sunday},
		} {
			if day.val == 1 {
				weekday |= 1 << day.day
			} else if day.val != 0 {
				return nil, fmt.Errorf("service '%s' has invalid %s value '%d'", c.ServiceID, day.day, day.val)
			}
		}

		if _, err := time.ParseInLocation("20060102", c.StartDate, time.UTC); err != nil {
			return nil, fmt.Errorf("service '%s' start_date: %w", c.ServiceID, err)
		}
		if _, err := time.ParseInLocation("20060102", c.EndDate, time.UTC); err != nil {
			return nil, fmt.Errorf("service '%s' end_date: %w", c.ServiceID, err)
		}

		records = append(records, Calendar{
			ServiceID: c.ServiceID,
			StartDate: c.StartDate,
			EndDate:   c.EndDate,
			Weekday:   weekday,
		})
	}

	return records, nil
}

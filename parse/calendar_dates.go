package parse

import (
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"
)

const (
	ExceptionAdded   = 1
	ExceptionRemoved = 2
)

// CalendarDate is a per-date service exception.
type CalendarDate struct {
	ServiceID     string
	Date          string
	ExceptionType int
}

type calendarDateCSV struct {
	ServiceID     string `csv:"service_id"`
	Date          string `csv:"date"`
	ExceptionType int    `csv:"exception_type"`
}

func CalendarDates(data io.Reader) ([]CalendarDate, error) {
	setupReader()

	rows := []*calendarDateCSV{}
	if err := gocsv.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshaling calendar_dates csv: %w", err)
	}

	seen := map[string]bool{}
	dates := make([]CalendarDate, 0, len(rows))
	for _, cd := range rows {
		if cd.ExceptionType != ExceptionAdded && cd.ExceptionType != ExceptionRemoved {
			return nil, fmt.Errorf("illegal exception_type: '%d'", cd.ExceptionType)
		}

		if _, err := time.ParseInLocation("20060102", cd.Date, time.UTC); err != nil {
			return nil, fmt.Errorf("parsing date '%s': %w", cd.Date, err)
		}

		serviceDate := fmt.Sprintf("%s-%s", cd.Date, cd.ServiceID)
		if seen[serviceDate] {
			return nil, fmt.Errorf("duplicate service/date: '%s'", serviceDate)
		}
		seen[serviceDate] = true

		dates = append(dates, CalendarDate{
			ServiceID:     cd.ServiceID,
			Date:          cd.Date,
			ExceptionType: cd.ExceptionType,
		})
	}

	return dates, nil
}

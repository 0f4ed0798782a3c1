package index

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mtarail/railboard/parse"
	"github.com/mtarail/railboard/system"
)

type systemCalendar struct {
	system system.System
	record parse.Calendar
}

type systemCalendarDate struct {
	system system.System
	record parse.CalendarDate
}

// ServiceCalendar computes the set of service keys (SYSTEM-serviceID) active
// on a civil date. Results are cached per date; the first computation of a
// day runs behind a single-flight guard so concurrent callers cannot corrupt
// the cache.
type ServiceCalendar struct {
	records []systemCalendar
	dates   []systemCalendarDate

	mu    sync.RWMutex
	cache map[string]map[string]bool
	group singleflight.Group
}

func newServiceCalendar() *ServiceCalendar {
	return &ServiceCalendar{
		cache: map[string]map[string]bool{},
	}
}

func (c *ServiceCalendar) add(sys system.System, records []parse.Calendar, dates []parse.CalendarDate) {
	for _, r := range records {
		c.records = append(c.records, systemCalendar{system: sys, record: r})
	}
	for _, d := range dates {
		c.dates = append(c.dates, systemCalendarDate{system: sys, record: d})
	}
}

// ActiveServices returns the service keys active at the given local time's
// civil date. The returned map must not be mutated.
func (c *ServiceCalendar) ActiveServices(now time.Time) map[string]bool {
	date := now.Format("20060102")

	c.mu.RLock()
	cached, ok := c.cache[date]
	c.mu.RUnlock()
	if ok {
		return cached
	}

	v, _, _ := c.group.Do(date, func() (interface{}, error) {
		active := c.compute(date, now.Weekday())
		c.mu.Lock()
		c.cache[date] = active
		c.mu.Unlock()
		return active, nil
	})

	return v.(map[string]bool)
}

func (c *ServiceCalendar) compute(date string, weekday time.Weekday) map[string]bool {
	active := map[string]bool{}

	for _, sc := range c.records {
		if sc.record.ActiveOn(date, weekday) {
			active[system.Key(sc.system, sc.record.ServiceID)] = true
		}
	}

	// Per-date exceptions: type 1 adds, type 2 removes.
	for _, sd := range c.dates {
		if sd.record.Date != date {
			continue
		}
		key := system.Key(sd.system, sd.record.ServiceID)
		switch sd.record.ExceptionType {
		case parse.ExceptionAdded:
			active[key] = true
		case parse.ExceptionRemoved:
			delete(active, key)
		}
	}

	return active
}

// Active reports whether a trip's service runs at the given time.
func (ix *Index) Active(trip *TripInfo, now time.Time) bool {
	if trip == nil {
		return false
	}
	return ix.Calendar.ActiveServices(now)[system.Key(trip.System, trip.ServiceID)]
}

package index_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtarail/railboard/system"
	"github.com/mtarail/railboard/testutil"
)

func calendarBundles() map[system.System]map[string][]string {
	bundles := fixtureBundles()
	bundles[system.Subway]["calendar_dates.txt"] = []string{
		"service_id,date,exception_type",
		// A holiday Monday: weekday service removed, special added.
		"WKD,20260518,2",
		"HOL,20260518,1",
	}
	return bundles
}

func TestActiveServices(t *testing.T) {
	ix := testutil.BuildIndex(t, calendarBundles(), nil)

	monday := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	active := ix.Calendar.ActiveServices(monday)
	assert.True(t, active["SUBWAY-WKD"])
	assert.True(t, active["LIRR-WKD"])
	assert.True(t, active["MNR-WKD"])

	saturday := time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC)
	assert.Empty(t, ix.Calendar.ActiveServices(saturday))

	// Outside the validity range.
	past := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	assert.Empty(t, ix.Calendar.ActiveServices(past))
}

func TestCalendarDateExceptions(t *testing.T) {
	ix := testutil.BuildIndex(t, calendarBundles(), nil)

	holiday := time.Date(2026, 5, 18, 9, 0, 0, 0, time.UTC)
	require.Equal(t, time.Monday, holiday.Weekday())

	active := ix.Calendar.ActiveServices(holiday)
	assert.False(t, active["SUBWAY-WKD"], "removed by exception type 2")
	assert.True(t, active["SUBWAY-HOL"], "added by exception type 1")
	assert.True(t, active["LIRR-WKD"], "exceptions are per system")
}

func TestActiveServicesIdempotent(t *testing.T) {
	ix := testutil.BuildIndex(t, calendarBundles(), nil)

	monday := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	first := ix.Calendar.ActiveServices(monday)
	second := ix.Calendar.ActiveServices(monday.Add(5 * time.Hour))
	assert.Equal(t, first, second)
}

func TestTripActive(t *testing.T) {
	ix := testutil.BuildIndex(t, calendarBundles(), nil)

	monday := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	saturday := time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC)

	trip := ix.Trip("AM_6500")
	require.NotNil(t, trip)
	assert.True(t, ix.Active(trip, monday))
	assert.False(t, ix.Active(trip, saturday))
	assert.False(t, ix.Active(nil, monday))
}

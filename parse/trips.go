package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
)

type Trip struct {
	ID          string
	RouteID     string
	ServiceID   string
	Headsign    string
	ShortName   string
	DirectionID *int
	PeakOffpeak string
}

type tripCSV struct {
	ID          string `csv:"trip_id"`
	RouteID     string `csv:"route_id"`
	ServiceID   string `csv:"service_id"`
	Headsign    string `csv:"trip_headsign"`
	ShortName   string `csv:"trip_short_name"`
	DirectionID string `csv:"direction_id"`
	// MTA commuter rail extension column carrying the fare class.
	PeakOffpeak string `csv:"peak_offpeak"`
}

func Trips(data io.Reader) ([]Trip, error) {
	setupReader()

	rows := []*tripCSV{}
	if err := gocsv.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshaling trips csv: %w", err)
	}

	seen := map[string]bool{}
	trips := make([]Trip, 0, len(rows))
	for _, t := range rows {
		if t.ID == "" {
			return nil, fmt.Errorf("empty trip_id")
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("repeated trip_id '%s'", t.ID)
		}
		seen[t.ID] = true

		if t.RouteID == "" {
			return nil, fmt.Errorf("trip '%s' has empty route_id", t.ID)
		}

		directionID, err := optionalInt(t.DirectionID)
		if err != nil {
			return nil, fmt.Errorf("trip '%s' direction_id: %w", t.ID, err)
		}
		if directionID != nil && *directionID != 0 && *directionID != 1 {
			return nil, fmt.Errorf("trip '%s' has invalid direction_id '%d'", t.ID, *directionID)
		}

		trips = append(trips, Trip{
			ID:          t.ID,
			RouteID:     t.RouteID,
			ServiceID:   t.ServiceID,
			Headsign:    t.Headsign,
			ShortName:   t.ShortName,
			DirectionID: directionID,
			PeakOffpeak: t.PeakOffpeak,
		})
	}

	return trips, nil
}

package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
)

type Stop struct {
	ID                 string
	Name               string
	Lat                float64
	Lon                float64
	LocationType       *int
	ParentStation      string
	WheelchairBoarding *int
}

type stopCSV struct {
	ID                 string  `csv:"stop_id"`
	Name               string  `csv:"stop_name"`
	Lat                float64 `csv:"stop_lat"`
	Lon                float64 `csv:"stop_lon"`
	LocationType       string  `csv:"location_type"`
	ParentStation      string  `csv:"parent_station"`
	WheelchairBoarding string  `csv:"wheelchair_boarding"`
}

func Stops(data io.Reader) ([]Stop, error) {
	setupReader()

	rows := []*stopCSV{}
	if err := gocsv.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshaling stops csv: %w", err)
	}

	seen := map[string]bool{}
	parentRef := map[string]string{}
	stops := make([]Stop, 0, len(rows))
	for _, st := range rows {
		if st.ID == "" {
			return nil, fmt.Errorf("empty stop_id")
		}
		if seen[st.ID] {
			return nil, fmt.Errorf("repeated stop_id '%s'", st.ID)
		}
		seen[st.ID] = true

		locationType, err := optionalInt(st.LocationType)
		if err != nil {
			return nil, fmt.Errorf("stop '%s' location_type: %w", st.ID, err)
		}
		wheelchair, err := optionalInt(st.WheelchairBoarding)
		if err != nil {
			return nil, fmt.Errorf("stop '%s' wheelchair_boarding: %w", st.ID, err)
		}

		if st.ParentStation != "" {
			parentRef[st.ID] = st.ParentStation
		}

		stops = append(stops, Stop{
			ID:                 st.ID,
			Name:               st.Name,
			Lat:                st.Lat,
			Lon:                st.Lon,
			LocationType:       locationType,
			ParentStation:      st.ParentStation,
			WheelchairBoarding: wheelchair,
		})
	}

	// verify stops referenced by parent_station exist
	for stopID, parentID := range parentRef {
		if !seen[parentID] {
			return nil, fmt.Errorf("stop '%s' references unknown parent_station '%s'", stopID, parentID)
		}
	}

	return stops, nil
}

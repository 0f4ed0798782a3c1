package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
)

// StationDetail is one row of the curated subway station CSV. It enriches
// stops.txt records with borough, direction labels and accessibility data.
type StationDetail struct {
	StopID     string
	Borough    string
	NorthLabel string
	SouthLabel string
	ADA        *int
	ADANotes   string
}

type stationCSV struct {
	StopID     string `csv:"GTFS Stop ID"`
	Borough    string `csv:"Borough"`
	NorthLabel string `csv:"North Direction Label"`
	SouthLabel string `csv:"South Direction Label"`
	ADA        string `csv:"ADA"`
	ADANotes   string `csv:"ADA Notes"`
}

// Stations returns details keyed by original stop id. Rows may be missing
// for some stops; lookups simply miss.
func Stations(data io.Reader) (map[string]StationDetail, error) {
	setupReader()

	rows := []*stationCSV{}
	if err := gocsv.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshaling stations csv: %w", err)
	}

	details := make(map[string]StationDetail, len(rows))
	for _, s := range rows {
		if s.StopID == "" {
			continue
		}
		ada, err := optionalInt(s.ADA)
		if err != nil {
			return nil, fmt.Errorf("station '%s' ADA: %w", s.StopID, err)
		}
		details[s.StopID] = StationDetail{
			StopID:     s.StopID,
			Borough:    s.Borough,
			NorthLabel: s.NorthLabel,
			SouthLabel: s.SouthLabel,
			ADA:        ada,
			ADANotes:   s.ADANotes,
		}
	}

	return details, nil
}

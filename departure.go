// Package railboard resolves upcoming departures for a station by merging
// realtime trip updates with the compiled static timetable.
package railboard

import (
	"sort"
	"time"

	"github.com/mtarail/railboard/system"
)

// Departure sources.
const (
	SourceRealtime  = "realtime"
	SourceScheduled = "scheduled"
)

// Direction sort ranks: north/uptown first, then south/downtown, then the
// commuter-rail directions, unknowns last.
const (
	rankNorth = iota
	rankSouth
	rankInbound
	rankOutbound
	rankUnknown
	rankOther
)

// Departure is one upcoming train at a station.
type Departure struct {
	TripID         string `json:"tripId"`
	RouteID        string `json:"routeId,omitempty"`
	RouteShortName string `json:"routeShortName,omitempty"`
	RouteLongName  string `json:"routeLongName,omitempty"`
	RouteColor     string `json:"routeColor,omitempty"`

	Destination        string `json:"destination"`
	DestinationBorough string `json:"destinationBorough,omitempty"`
	Direction          string `json:"direction"`

	// DepartureTime is the scheduled time; EstimatedDepartureTime adds the
	// realtime delay, rounded to whole minutes.
	DepartureTime          *time.Time `json:"departureTime"`
	EstimatedDepartureTime *time.Time `json:"estimatedDepartureTime"`
	DelayMinutes           *int       `json:"delayMinutes"`

	Track      string `json:"track,omitempty"`
	Status     string `json:"status"`
	PeakStatus string `json:"peakStatus,omitempty"`

	System            system.System `json:"system"`
	IsTerminalArrival bool          `json:"isTerminalArrival"`
	Source            string        `json:"source"`

	// TrainStatus is the commuter-rail extension's free-text status.
	TrainStatus string `json:"trainStatus,omitempty"`

	PickupType  int    `json:"pickupType"`
	DropOffType int    `json:"dropOffType"`
	NoteID      string `json:"noteId,omitempty"`
	NoteText    string `json:"noteText,omitempty"`

	rank int
}

// sortDepartures orders by direction rank, then departure time ascending with
// nil times last, then trip id to keep the output deterministic.
func sortDepartures(deps []Departure) {
	sort.SliceStable(deps, func(i, j int) bool {
		a, b := deps[i], deps[j]
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		switch {
		case a.DepartureTime == nil && b.DepartureTime == nil:
			return a.TripID < b.TripID
		case a.DepartureTime == nil:
			return false
		case b.DepartureTime == nil:
			return true
		}
		if !a.DepartureTime.Equal(*b.DepartureTime) {
			return a.DepartureTime.Before(*b.DepartureTime)
		}
		return a.TripID < b.TripID
	})
}

func filterSource(deps []Departure, source string) []Departure {
	if source != SourceRealtime && source != SourceScheduled {
		return deps
	}
	filtered := deps[:0]
	for _, d := range deps {
		if d.Source == source {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

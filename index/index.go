// Package index compiles the three static feed bundles into one immutable
// in-memory graph keyed on the cross-system unique key space.
//
// A successful rebuild produces a fresh Index and publishes it with a single
// atomic pointer swap; readers holding the previous Index keep using it.
// After publication nothing mutates the graph, so reads need no locking.
package index

import (
	"time"

	"github.com/mtarail/railboard/system"
)

// StopInfo describes one stop or station, keyed by unique stop key.
type StopInfo struct {
	Key            string
	OriginalStopID string
	Name           string
	Lat            float64
	Lon            float64
	System         system.System

	// ParentStationKey is the parent's unique key, or "" for top-level
	// stops. Children are exposed through ChildOriginalStopIDs on the
	// parent rather than a back-pointer.
	ParentStationKey string
	LocationType     *int

	ChildOriginalStopIDs     map[string]bool
	ServedByOriginalRouteIDs map[string]bool
	RealtimeFeedURLs         map[string]bool

	Borough    string
	IsTerminal bool

	// Direction labels exist for subway stations only, from the curated
	// station CSV ("Uptown", "Downtown & Brooklyn", ...).
	NorthLabel string
	SouthLabel string

	ADAStatus          *int
	ADANotes           string
	WheelchairBoarding *int
}

// RouteInfo is keyed by unique route key.
type RouteInfo struct {
	Key             string
	OriginalRouteID string
	ShortName       string
	LongName        string
	Color           string
	TextColor       string
	RouteType       int
	System          system.System
}

// TripInfo is keyed by raw trip id. Raw trip ids are globally unique across
// the three bundles in practice; System makes a collision detectable.
type TripInfo struct {
	ID          string
	RouteID     string
	ServiceID   string
	DirectionID *int
	Headsign    string

	// ShortName is the train number for commuter rail.
	ShortName string

	// PeakOffpeak is "1" (peak), "0" (off-peak) or "".
	PeakOffpeak string

	// DestinationOriginalStopID is the stop with the maximal stop_sequence
	// on the trip, resolved during the first stop_times pass.
	DestinationOriginalStopID string

	System system.System
}

// StopTime is one scheduled (stop, trip) event. Times are HH:MM:SS strings;
// hours of 24 or more denote the next civil day.
type StopTime struct {
	TripID        string
	ArrivalTime   string
	DepartureTime string
	StopSequence  int
	Track         string
	PickupType    int
	DropOffType   int
	NoteID        string
}

// Note is a commuter-rail timetable footnote.
type Note struct {
	Mark        string
	Title       string
	Description string
}

// Index is the compiled static graph. Immutable after Build returns it.
type Index struct {
	Stops  map[string]*StopInfo  // unique stop key
	Routes map[string]*RouteInfo // unique route key
	Trips  map[string]*TripInfo  // raw trip id

	// StopTimes is the per-stop inverted timetable:
	// StopTimes[originalStopID][tripID].
	StopTimes map[string]map[string]*StopTime

	Notes map[string]Note

	// TripsByShortName maps train number to raw trip id, populated for
	// commuter rail systems that publish trip_short_name.
	TripsByShortName map[string]string

	// VehicleTrips maps a realtime vehicle label to a raw trip id. On
	// Metro-North the vehicle label is the same token as the train number.
	VehicleTrips map[string]string

	Calendar *ServiceCalendar

	LastRefreshed time.Time
}

// Stop returns the StopInfo for a unique key, or nil.
func (ix *Index) Stop(key string) *StopInfo {
	return ix.Stops[key]
}

// Route returns the RouteInfo for a system and original route id, or nil.
func (ix *Index) Route(sys system.System, originalRouteID string) *RouteInfo {
	return ix.Routes[system.Key(sys, originalRouteID)]
}

// Trip returns the TripInfo for a raw trip id, or nil.
func (ix *Index) Trip(id string) *TripInfo {
	return ix.Trips[id]
}

// TripByShortName resolves a train number to its TripInfo, or nil.
func (ix *Index) TripByShortName(shortName string) *TripInfo {
	if id, ok := ix.TripsByShortName[shortName]; ok {
		return ix.Trips[id]
	}
	return nil
}

// TripByVehicleLabel resolves a realtime vehicle label to its TripInfo, or nil.
func (ix *Index) TripByVehicleLabel(label string) *TripInfo {
	if id, ok := ix.VehicleTrips[label]; ok {
		return ix.Trips[id]
	}
	return nil
}

// StopTimeFor returns the scheduled record for a (stop, trip) pair, or nil.
func (ix *Index) StopTimeFor(originalStopID, tripID string) *StopTime {
	if byTrip, ok := ix.StopTimes[originalStopID]; ok {
		return byTrip[tripID]
	}
	return nil
}

// NoteText dereferences a note id to its description, or "".
func (ix *Index) NoteText(noteID string) string {
	if noteID == "" {
		return ""
	}
	return ix.Notes[noteID].Description
}

// CandidateStopIDs returns the original stop ids the resolver should match
// realtime stop-time updates against: the stop's children, or the stop
// itself when it has none (typical for commuter rail).
func (s *StopInfo) CandidateStopIDs() map[string]bool {
	if len(s.ChildOriginalStopIDs) > 0 {
		return s.ChildOriginalStopIDs
	}
	return map[string]bool{s.OriginalStopID: true}
}

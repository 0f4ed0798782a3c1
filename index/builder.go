package index

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mtarail/railboard/geo"
	"github.com/mtarail/railboard/parse"
	"github.com/mtarail/railboard/system"
)

// Config describes the inputs of a static rebuild.
type Config struct {
	Profiles *system.Profiles

	// BundleDirs maps each sub-system to the directory holding its
	// unpacked feed bundle (routes.txt, stops.txt, ...).
	BundleDirs map[system.System]string

	// StationCSVPath is the curated subway station CSV. Optional.
	StationCSVPath string

	// Locator resolves stop coordinates to boroughs. Optional.
	Locator *geo.Locator

	Logger *zap.Logger
}

// Compiler owns the live Index. Rebuild compiles a fresh index from the
// on-disk bundles; any failure leaves the previously published index in
// place.
type Compiler struct {
	cfg  Config
	live atomic.Pointer[Index]
}

func NewCompiler(cfg Config) *Compiler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Compiler{cfg: cfg}
}

// Live returns the published index, or nil before the first successful
// rebuild. The returned index is immutable; callers keep the reference for
// the duration of one request.
func (c *Compiler) Live() *Index {
	return c.live.Load()
}

// Rebuild compiles and publishes a new index.
func (c *Compiler) Rebuild() error {
	b := &build{
		cfg: c.cfg,
		log: c.cfg.Logger,
		ix: &Index{
			Stops:            map[string]*StopInfo{},
			Routes:           map[string]*RouteInfo{},
			Trips:            map[string]*TripInfo{},
			StopTimes:        map[string]map[string]*StopTime{},
			Notes:            map[string]Note{},
			TripsByShortName: map[string]string{},
			VehicleTrips:     map[string]string{},
			Calendar:         newServiceCalendar(),
		},
	}

	if err := b.run(); err != nil {
		return err
	}

	b.ix.LastRefreshed = time.Now()
	c.live.Store(b.ix)
	return nil
}

type build struct {
	cfg Config
	log *zap.Logger
	ix  *Index

	stationDetails map[string]parse.StationDetail

	// Per-trip destination bookkeeping from the first stop_times pass,
	// consumed when trips.txt loads. Reset between systems.
	maxSeqByTrip map[string]int
	destByTrip   map[string]string
}

func (b *build) run() error {
	// Phase 0: curated station details.
	if err := b.loadStationDetails(); err != nil {
		return err
	}

	// Phase 1: per-system ingest, sequential to bound memory.
	for _, sys := range system.All {
		if err := b.ingestSystem(sys); err != nil {
			return fmt.Errorf("ingesting %s: %w", sys, err)
		}
	}

	// Phase 2: parent/child linkage.
	links := b.linkParents()
	b.log.Info("linked stops to parents", zap.Int("links", links))

	// Phase 3: route and feed linkage, plus commuter-rail secondary
	// lookups. A second streaming pass over stop_times per system.
	for _, sys := range system.All {
		if err := b.linkRoutesAndFeeds(sys); err != nil {
			return fmt.Errorf("linking routes for %s: %w", sys, err)
		}
	}

	// Phase 4: commuter-rail notes.
	for _, sys := range []system.System{system.LIRR, system.MNR} {
		if err := b.loadNotes(sys); err != nil {
			return fmt.Errorf("loading notes for %s: %w", sys, err)
		}
	}

	// Phase 5: invariant checks. Publication happens in Rebuild once this
	// returns clean.
	return b.validate()
}

func (b *build) open(sys system.System, name string) (io.ReadCloser, error) {
	dir, ok := b.cfg.BundleDirs[sys]
	if !ok {
		return nil, fmt.Errorf("no bundle directory for %s", sys)
	}
	return os.Open(filepath.Join(dir, name))
}

func (b *build) loadStationDetails() error {
	b.stationDetails = map[string]parse.StationDetail{}
	if b.cfg.StationCSVPath == "" {
		return nil
	}

	f, err := os.Open(b.cfg.StationCSVPath)
	if err != nil {
		b.log.Warn("station details unavailable", zap.Error(err))
		return nil
	}
	defer f.Close()

	details, err := parse.Stations(f)
	if err != nil {
		return fmt.Errorf("parsing station details: %w", err)
	}
	b.stationDetails = details
	return nil
}

func (b *build) ingestSystem(sys system.System) error {
	prof := b.cfg.Profiles.Profile(sys)

	// 1. routes.txt
	f, err := b.open(sys, "routes.txt")
	if err != nil {
		return fmt.Errorf("opening routes.txt: %w", err)
	}
	routes, err := parse.Routes(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("parsing routes.txt: %w", err)
	}
	for _, r := range routes {
		key := system.Key(sys, r.ID)
		b.ix.Routes[key] = &RouteInfo{
			Key:             key,
			OriginalRouteID: r.ID,
			ShortName:       r.ShortName,
			LongName:        r.LongName,
			Color:           r.Color,
			TextColor:       r.TextColor,
			RouteType:       r.Type,
			System:          sys,
		}
	}

	// 2. stops.txt
	f, err = b.open(sys, "stops.txt")
	if err != nil {
		return fmt.Errorf("opening stops.txt: %w", err)
	}
	stops, err := parse.Stops(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("parsing stops.txt: %w", err)
	}
	for _, st := range stops {
		info := &StopInfo{
			Key:                      system.Key(sys, st.ID),
			OriginalStopID:           st.ID,
			Name:                     st.Name,
			Lat:                      st.Lat,
			Lon:                      st.Lon,
			System:                   sys,
			LocationType:             st.LocationType,
			ChildOriginalStopIDs:     map[string]bool{},
			ServedByOriginalRouteIDs: map[string]bool{},
			RealtimeFeedURLs:         map[string]bool{},
			WheelchairBoarding:       st.WheelchairBoarding,
			IsTerminal:               prof.IsTerminalStop(st.ID, st.Name),
		}
		if st.ParentStation != "" {
			info.ParentStationKey = system.Key(sys, st.ParentStation)
		}
		if sys == system.Subway {
			if d, ok := b.stationDetails[st.ID]; ok {
				info.Borough = d.Borough
				info.NorthLabel = d.NorthLabel
				info.SouthLabel = d.SouthLabel
				info.ADAStatus = d.ADA
				info.ADANotes = d.ADANotes
			}
		}
		if info.Borough == "" && b.cfg.Locator != nil {
			info.Borough = b.cfg.Locator.Borough(st.Lat, st.Lon)
		}
		b.ix.Stops[info.Key] = info
	}

	// Calendar tables, consumed by the service calendar.
	if err := b.loadCalendar(sys); err != nil {
		return err
	}

	// 3. First streaming pass over stop_times.txt: per-stop timetable plus
	// per-trip destination (the row with maximal stop_sequence).
	b.maxSeqByTrip = map[string]int{}
	b.destByTrip = map[string]string{}

	f, err = b.open(sys, "stop_times.txt")
	if err != nil {
		return fmt.Errorf("opening stop_times.txt: %w", err)
	}
	err = parse.StopTimes(f, func(st parse.StopTime) error {
		if seq, ok := b.maxSeqByTrip[st.TripID]; !ok || st.StopSequence > seq {
			b.maxSeqByTrip[st.TripID] = st.StopSequence
			b.destByTrip[st.TripID] = st.StopID
		}

		byTrip, ok := b.ix.StopTimes[st.StopID]
		if !ok {
			byTrip = map[string]*StopTime{}
			b.ix.StopTimes[st.StopID] = byTrip
		}
		byTrip[st.TripID] = &StopTime{
			TripID:        st.TripID,
			ArrivalTime:   st.ArrivalTime,
			DepartureTime: st.DepartureTime,
			StopSequence:  st.StopSequence,
			Track:         st.Track,
			PickupType:    st.PickupType,
			DropOffType:   st.DropOffType,
			NoteID:        st.NoteID,
		}
		return nil
	})
	f.Close()
	if err != nil {
		return fmt.Errorf("first stop_times pass: %w", err)
	}

	// 4. trips.txt, enriched with destinations from the pass above.
	f, err = b.open(sys, "trips.txt")
	if err != nil {
		return fmt.Errorf("opening trips.txt: %w", err)
	}
	trips, err := parse.Trips(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("parsing trips.txt: %w", err)
	}
	for _, t := range trips {
		if prev, ok := b.ix.Trips[t.ID]; ok && prev.System != sys {
			b.log.Warn("trip id collision across systems",
				zap.String("trip_id", t.ID),
				zap.String("first", string(prev.System)),
				zap.String("second", string(sys)))
		}
		b.ix.Trips[t.ID] = &TripInfo{
			ID:                        t.ID,
			RouteID:                   t.RouteID,
			ServiceID:                 t.ServiceID,
			DirectionID:               t.DirectionID,
			Headsign:                  t.Headsign,
			ShortName:                 t.ShortName,
			PeakOffpeak:               t.PeakOffpeak,
			DestinationOriginalStopID: b.destByTrip[t.ID],
			System:                    sys,
		}
	}

	b.maxSeqByTrip = nil
	b.destByTrip = nil

	return nil
}

func (b *build) loadCalendar(sys system.System) error {
	f, err := b.open(sys, "calendar.txt")
	if err != nil {
		return fmt.Errorf("opening calendar.txt: %w", err)
	}
	records, err := parse.CalendarRecords(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("parsing calendar.txt: %w", err)
	}

	var dates []parse.CalendarDate
	f, err = b.open(sys, "calendar_dates.txt")
	if err != nil {
		b.log.Warn("calendar_dates.txt unavailable", zap.String("system", string(sys)), zap.Error(err))
	} else {
		dates, err = parse.CalendarDates(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("parsing calendar_dates.txt: %w", err)
		}
	}

	b.ix.Calendar.add(sys, records, dates)
	return nil
}

func (b *build) linkParents() int {
	links := 0
	for _, stop := range b.ix.Stops {
		if stop.ParentStationKey == "" {
			continue
		}
		parent, ok := b.ix.Stops[stop.ParentStationKey]
		if !ok {
			b.log.Warn("stop references missing parent",
				zap.String("stop", stop.Key),
				zap.String("parent", stop.ParentStationKey))
			continue
		}
		parent.ChildOriginalStopIDs[stop.OriginalStopID] = true
		links++
	}
	return links
}

// linkRoutesAndFeeds is the second, read-only streaming pass over
// stop_times. It attaches serving routes and realtime feed URLs to each stop
// (and its parent), and registers the commuter-rail train-number lookups.
func (b *build) linkRoutesAndFeeds(sys system.System) error {
	prof := b.cfg.Profiles.Profile(sys)

	f, err := b.open(sys, "stop_times.txt")
	if err != nil {
		return fmt.Errorf("opening stop_times.txt: %w", err)
	}
	defer f.Close()

	return parse.StopTimes(f, func(st parse.StopTime) error {
		trip, ok := b.ix.Trips[st.TripID]
		if !ok || trip.System != sys {
			return nil
		}

		feedURL := b.cfg.Profiles.FeedURL(sys, trip.RouteID)

		stop := b.ix.Stops[system.Key(sys, st.StopID)]
		if stop == nil {
			return nil
		}
		stop.ServedByOriginalRouteIDs[trip.RouteID] = true
		if feedURL != "" {
			stop.RealtimeFeedURLs[feedURL] = true
		}
		if stop.ParentStationKey != "" {
			if parent := b.ix.Stops[stop.ParentStationKey]; parent != nil {
				parent.ServedByOriginalRouteIDs[trip.RouteID] = true
				if feedURL != "" {
					parent.RealtimeFeedURLs[feedURL] = true
				}
			}
		}

		if prof.UsesTripShortName && trip.ShortName != "" {
			b.ix.TripsByShortName[trip.ShortName] = trip.ID
			if prof.Lookup == system.LookupTrainNumber {
				b.ix.VehicleTrips[trip.ShortName] = trip.ID
			}
		}

		return nil
	})
}

func (b *build) loadNotes(sys system.System) error {
	f, err := b.open(sys, "notes.txt")
	if err != nil {
		b.log.Warn("notes.txt unavailable", zap.String("system", string(sys)), zap.Error(err))
		return nil
	}
	defer f.Close()

	notes, err := parse.Notes(f)
	if err != nil {
		return fmt.Errorf("parsing notes.txt: %w", err)
	}
	for _, n := range notes {
		b.ix.Notes[n.ID] = Note{Mark: n.Mark, Title: n.Title, Description: n.Description}
	}
	return nil
}

// validate checks the invariants the compiler must establish before the
// index may be published.
func (b *build) validate() error {
	declared := b.cfg.Profiles.FeedURLs()
	for _, stop := range b.ix.Stops {
		for url := range stop.RealtimeFeedURLs {
			if !declared[url] {
				return fmt.Errorf("stop %s linked to undeclared feed %s", stop.Key, url)
			}
		}
	}

	for _, trip := range b.ix.Trips {
		if trip.DestinationOriginalStopID == "" {
			continue
		}
		dest := b.ix.Stops[system.Key(trip.System, trip.DestinationOriginalStopID)]
		if dest == nil {
			return fmt.Errorf("trip %s destination %s not in %s",
				trip.ID, trip.DestinationOriginalStopID, trip.System)
		}
	}

	for _, parent := range b.ix.Stops {
		for childID := range parent.ChildOriginalStopIDs {
			child := b.ix.Stops[system.Key(parent.System, childID)]
			if child == nil || child.ParentStationKey != parent.Key {
				return fmt.Errorf("stop %s lists child %s that does not point back",
					parent.Key, childID)
			}
		}
	}

	return nil
}

package railboard

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/proto"

	gtfsrt "github.com/jamespfennell/gtfs/proto"

	"github.com/mtarail/railboard/feed"
	"github.com/mtarail/railboard/index"
	"github.com/mtarail/railboard/mtarr"
	"github.com/mtarail/railboard/system"
)

// FeedSource supplies decoded realtime feeds. A nil result means the feed is
// unavailable this round.
type FeedSource interface {
	Fetch(ctx context.Context, url string) *feed.Result
}

// IndexSource supplies the live static index.
type IndexSource interface {
	Live() *index.Index
}

// LookupTracker receives one event per station lookup.
type LookupTracker interface {
	TrackStationLookup(sys system.System, stationKey, stationName string)
}

// Options narrow a departure request.
type Options struct {
	// LimitMinutes caps how far into the future departures may be; zero
	// means no cap.
	LimitMinutes int

	// Source keeps only "realtime" or "scheduled" departures when set.
	Source string
}

// Resolver merges realtime predictions with the static timetable for one
// station at a time. Safe for concurrent use; all fields must be set before
// the first call.
type Resolver struct {
	Profiles *system.Profiles
	Index    IndexSource
	Feeds    FeedSource
	Tracker  LookupTracker
	Log      *zap.Logger

	// TimeNow and Location exist for tests; both default sensibly.
	TimeNow  func() time.Time
	Location *time.Location
}

func (r *Resolver) log() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

func (r *Resolver) now() time.Time {
	if r.TimeNow != nil {
		return r.TimeNow().In(r.loc())
	}
	return time.Now().In(r.loc())
}

func (r *Resolver) loc() *time.Location {
	if r.Location != nil {
		return r.Location
	}
	return time.Local
}

// DeparturesForStation resolves upcoming departures for a unique station key.
// An unknown station yields an empty list, not an error; upstream feed
// failures degrade to the scheduled timetable.
func (r *Resolver) DeparturesForStation(ctx context.Context, stationKey string, opts Options) ([]Departure, error) {
	ix := r.Index.Live()
	if ix == nil {
		return nil, fmt.Errorf("no index published")
	}

	sys, originalID, err := system.SplitKey(stationKey)
	if err != nil {
		return nil, err
	}
	prof := r.Profiles.Profile(sys)
	if prof == nil {
		return nil, fmt.Errorf("no profile for system '%s'", sys)
	}

	// Stations on the inverted-platform list are queried under the id the
	// realtime feed reports, so the key itself is rewritten first.
	if prof.PlatformDirections {
		if rewritten := prof.RewritePlatform(originalID); rewritten != originalID {
			stationKey = system.Key(sys, rewritten)
		}
	}

	stop := ix.Stop(stationKey)
	if stop == nil {
		r.log().Warn("station not found", zap.String("station", stationKey))
		return []Departure{}, nil
	}
	if r.Tracker != nil {
		r.Tracker.TrackStationLookup(stop.System, stop.Key, stop.Name)
	}

	now := r.now()
	candidates := stop.CandidateStopIDs()

	urls := make([]string, 0, len(stop.RealtimeFeedURLs))
	for u := range stop.RealtimeFeedURLs {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	results := make([]*feed.Result, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			results[i] = r.Feeds.Fetch(gctx, u)
			return nil
		})
	}
	g.Wait()

	processed := map[string]bool{}
	var departures []Departure
	for i, res := range results {
		if res == nil || res.Message == nil {
			continue
		}
		feedSys, ok := r.Profiles.SystemForFeedURL(urls[i])
		if !ok || feedSys != stop.System {
			continue
		}
		departures = append(departures, r.processFeed(ix, stop, prof, candidates, res.Message, now, opts.LimitMinutes, processed)...)
	}

	// Commuter rail always backfills from the timetable; the subway only
	// when realtime produced nothing.
	if stop.System != system.Subway || len(departures) == 0 {
		if ctx.Err() == nil {
			departures = append(departures, r.scheduledDepartures(ix, stop, prof, candidates, now, opts.LimitMinutes, processed)...)
		}
	}

	departures = filterSource(departures, opts.Source)
	sortDepartures(departures)
	return departures, nil
}

func (r *Resolver) processFeed(
	ix *index.Index,
	stop *index.StopInfo,
	prof *system.Profile,
	candidates map[string]bool,
	msg *gtfsrt.FeedMessage,
	now time.Time,
	limitMinutes int,
	processed map[string]bool,
) []Departure {

	var out []Departure
	for _, entity := range msg.GetEntity() {
		tu := entity.GetTripUpdate()
		if tu == nil || len(tu.GetStopTimeUpdate()) == 0 {
			continue
		}
		out = append(out, r.processTripUpdate(ix, stop, prof, candidates, tu, now, limitMinutes, processed)...)
	}
	return out
}

func (r *Resolver) processTripUpdate(
	ix *index.Index,
	stop *index.StopInfo,
	prof *system.Profile,
	candidates map[string]bool,
	tu *gtfsrt.TripUpdate,
	now time.Time,
	limitMinutes int,
	processed map[string]bool,
) []Departure {

	stus := tu.GetStopTimeUpdate()

	tripID := tu.GetTrip().GetTripId()
	if prof.StripLeadingZeros {
		tripID = system.StripLeadingZerosFromTripID(tripID)
	}
	if tripID != "" {
		processed[tripID] = true
	}

	vehicleLabel := tu.GetVehicle().GetLabel()

	var trip *index.TripInfo
	switch prof.Lookup {
	case system.LookupTrainNumber:
		if vehicleLabel != "" {
			processed[vehicleLabel] = true
			trip = ix.TripByVehicleLabel(vehicleLabel)
		}
		if trip == nil {
			trip = ix.TripByShortName(tripID)
		}
		if trip == nil {
			trip = ix.Trip(tripID)
		}
	default:
		trip = ix.Trip(tripID)
	}
	if trip != nil && trip.System != stop.System {
		trip = nil
	}
	if trip != nil {
		processed[trip.ID] = true
		if trip.ShortName != "" {
			processed[trip.ShortName] = true
		}
	}

	var route *index.RouteInfo
	if trip != nil {
		route = ix.Route(stop.System, trip.RouteID)
	}
	if route == nil {
		if rid := tu.GetTrip().GetRouteId(); rid != "" {
			route = ix.Route(stop.System, rid)
		}
	}

	// Platform rewrite applies to every stop id in the update before any
	// lookup against the static index.
	effStopID := func(id string) string {
		if prof.PlatformDirections {
			return prof.RewritePlatform(id)
		}
		return id
	}

	destName, destBorough := r.destination(ix, stop.System, prof, trip, route, stus, effStopID)

	var out []Departure
	for i, stu := range stus {
		platformID := effStopID(stu.GetStopId())
		if !candidates[platformID] {
			continue
		}
		dep := r.buildRealtimeDeparture(realtimeInput{
			ix:           ix,
			stop:         stop,
			prof:         prof,
			trip:         trip,
			route:        route,
			tripID:       tripID,
			tu:           tu,
			stu:          stu,
			stus:         stus,
			lastInUpdate: i == len(stus)-1,
			platformID:   platformID,
			destName:     destName,
			destBorough:  destBorough,
			now:          now,
			limitMinutes: limitMinutes,
			effStopID:    effStopID,
		})
		if dep != nil {
			out = append(out, *dep)
		}
	}
	return out
}

type realtimeInput struct {
	ix           *index.Index
	stop         *index.StopInfo
	prof         *system.Profile
	trip         *index.TripInfo
	route        *index.RouteInfo
	tripID       string
	tu           *gtfsrt.TripUpdate
	stu          *gtfsrt.TripUpdate_StopTimeUpdate
	stus         []*gtfsrt.TripUpdate_StopTimeUpdate
	lastInUpdate bool
	platformID   string
	destName     string
	destBorough  string
	now          time.Time
	limitMinutes int
	effStopID    func(string) string
}

func (r *Resolver) buildRealtimeDeparture(in realtimeInput) *Departure {
	predicted, delaySec, hasDelay, usedArrival, ok := pickTime(in.prof, in.stu, r.loc())
	if !ok {
		return nil
	}

	scheduled := predicted
	estimated := predicted
	var delayMinutes *int
	if hasDelay {
		scheduled = predicted.Add(-time.Duration(delaySec) * time.Second)
		m := int(math.Round(float64(delaySec) / 60))
		delayMinutes = &m
		estimated = scheduled.Add(time.Duration(m) * time.Minute)
	}

	if !inWindow(scheduled, in.now, in.limitMinutes) {
		return nil
	}

	direction, rank := r.direction(in.ix, in.stop, in.prof, in.trip, in.tu, in.stus, in.platformID, in.effStopID)

	track, trainStatus := extractTrack(in.prof, in.stu)

	var st *index.StopTime
	if in.trip != nil {
		st = in.ix.StopTimeFor(in.platformID, in.trip.ID)
	}
	if st == nil {
		st = in.ix.StopTimeFor(in.platformID, in.tripID)
	}
	pickupType, dropOffType, noteID := 0, 0, ""
	if st != nil {
		pickupType, dropOffType, noteID = st.PickupType, st.DropOffType, st.NoteID
		if track == "" && !in.prof.TrackFromExtensionOnly {
			track = st.Track
		}
	}

	d := &Departure{
		TripID:                 in.tripID,
		Destination:            in.destName,
		DestinationBorough:     in.destBorough,
		Direction:              direction,
		DepartureTime:          &scheduled,
		EstimatedDepartureTime: &estimated,
		DelayMinutes:           delayMinutes,
		Track:                  track,
		Status:                 statusFor(delayMinutes, predicted, in.now),
		System:                 in.stop.System,
		IsTerminalArrival:      (usedArrival && in.lastInUpdate) || in.stop.IsTerminal,
		Source:                 SourceRealtime,
		TrainStatus:            trainStatus,
		PickupType:             pickupType,
		DropOffType:            dropOffType,
		NoteID:                 noteID,
		NoteText:               in.ix.NoteText(noteID),
		rank:                   rank,
	}
	if in.trip != nil {
		d.PeakStatus = peakStatus(in.trip.PeakOffpeak)
	}
	if in.route != nil {
		d.RouteID = in.route.OriginalRouteID
		d.RouteShortName = in.route.ShortName
		d.RouteLongName = in.route.LongName
		d.RouteColor = in.route.Color
	} else if rid := in.tu.GetTrip().GetRouteId(); rid != "" {
		d.RouteID = rid
	}
	return d
}

// pickTime selects the prediction to use: departure, or arrival where the
// profile permits the substitution. Reports whether arrival was used.
func pickTime(prof *system.Profile, stu *gtfsrt.TripUpdate_StopTimeUpdate, loc *time.Location) (t time.Time, delaySec int32, hasDelay, usedArrival, ok bool) {
	ev := stu.GetDeparture()
	if ev.GetTime() <= 0 {
		ev = nil
	}
	if ev == nil && prof.ArrivalFallback {
		if arr := stu.GetArrival(); arr.GetTime() > 0 {
			ev = arr
			usedArrival = true
		}
	}
	if ev == nil {
		return time.Time{}, 0, false, false, false
	}
	return time.Unix(ev.GetTime(), 0).In(loc), ev.GetDelay(), ev.Delay != nil, usedArrival, true
}

func inWindow(t, now time.Time, limitMinutes int) bool {
	if t.Before(now.Add(-time.Minute)) {
		return false
	}
	if limitMinutes > 0 && t.After(now.Add(time.Duration(limitMinutes)*time.Minute)) {
		return false
	}
	return true
}

func statusFor(delayMinutes *int, predicted, now time.Time) string {
	if delayMinutes != nil {
		m := *delayMinutes
		switch {
		case m > 1:
			return fmt.Sprintf("Delayed %d min", m)
		case m < -1:
			return fmt.Sprintf("Early %d min", -m)
		default:
			return "On Time"
		}
	}
	until := predicted.Sub(now)
	switch {
	case until >= -30*time.Second && until <= 30*time.Second:
		return "Due"
	case until > 30*time.Second && until <= 120*time.Second:
		return "Approaching"
	default:
		return "Scheduled"
	}
}

func peakStatus(peakOffpeak string) string {
	switch peakOffpeak {
	case "1":
		return "Peak"
	case "0":
		return "Off-Peak"
	}
	return ""
}

// extractTrack pulls track and train status from the realtime extensions:
// NYCT for the subway, MTARR for the railroads.
func extractTrack(prof *system.Profile, stu *gtfsrt.TripUpdate_StopTimeUpdate) (track, trainStatus string) {
	if prof.RailroadExtension {
		if ext := mtarr.FromMessage(stu); ext != nil {
			return ext.Track, ext.TrainStatus
		}
		return "", ""
	}
	if ext := nyctStopExt(stu); ext != nil {
		track = ext.GetActualTrack()
		if track == "" {
			track = ext.GetScheduledTrack()
		}
	}
	return track, ""
}

func nyctStopExt(stu *gtfsrt.TripUpdate_StopTimeUpdate) *gtfsrt.NyctStopTimeUpdate {
	if !proto.HasExtension(stu, gtfsrt.E_NyctStopTimeUpdate) {
		return nil
	}
	ext, _ := proto.GetExtension(stu, gtfsrt.E_NyctStopTimeUpdate).(*gtfsrt.NyctStopTimeUpdate)
	return ext
}

func nyctTripExt(trip *gtfsrt.TripDescriptor) *gtfsrt.NyctTripDescriptor {
	if trip == nil || !proto.HasExtension(trip, gtfsrt.E_NyctTripDescriptor) {
		return nil
	}
	ext, _ := proto.GetExtension(trip, gtfsrt.E_NyctTripDescriptor).(*gtfsrt.NyctTripDescriptor)
	return ext
}

// destination resolves the trip's destination name and borough. Each system
// has its own fallback chain; the subway deliberately trusts the position of
// the last element in the update list over stop sequences.
func (r *Resolver) destination(
	ix *index.Index,
	sys system.System,
	prof *system.Profile,
	trip *index.TripInfo,
	route *index.RouteInfo,
	stus []*gtfsrt.TripUpdate_StopTimeUpdate,
	effStopID func(string) string,
) (string, string) {

	fromStopID := func(originalID string) (string, string, bool) {
		if originalID == "" {
			return "", "", false
		}
		info := ix.Stop(system.Key(sys, originalID))
		if info == nil {
			return "", "", false
		}
		if info.ParentStationKey != "" {
			if parent := ix.Stop(info.ParentStationKey); parent != nil {
				info = parent
			}
		}
		return info.Name, info.Borough, true
	}

	lastByPosition := func() string {
		if len(stus) == 0 {
			return ""
		}
		return effStopID(stus[len(stus)-1].GetStopId())
	}

	lastBySequence := func() string {
		id, best := "", uint32(0)
		for _, stu := range stus {
			if stu.GetStopSequence() >= best {
				best = stu.GetStopSequence()
				id = effStopID(stu.GetStopId())
			}
		}
		return id
	}

	var chain []func() (string, string, bool)
	switch {
	case sys == system.Subway:
		chain = []func() (string, string, bool){
			func() (string, string, bool) { return fromStopID(lastByPosition()) },
			func() (string, string, bool) {
				if trip != nil && trip.Headsign != "" {
					return trip.Headsign, "", true
				}
				return "", "", false
			},
			func() (string, string, bool) {
				if trip != nil {
					return fromStopID(trip.DestinationOriginalStopID)
				}
				return "", "", false
			},
		}
	case prof.Lookup == system.LookupTrainNumber:
		chain = []func() (string, string, bool){
			func() (string, string, bool) {
				if trip != nil && trip.Headsign != "" {
					return trip.Headsign, "", true
				}
				return "", "", false
			},
			func() (string, string, bool) {
				if trip != nil {
					return fromStopID(trip.DestinationOriginalStopID)
				}
				return "", "", false
			},
			func() (string, string, bool) { return fromStopID(lastBySequence()) },
		}
	default:
		chain = []func() (string, string, bool){
			func() (string, string, bool) { return fromStopID(lastBySequence()) },
			func() (string, string, bool) {
				if trip != nil {
					return fromStopID(trip.DestinationOriginalStopID)
				}
				return "", "", false
			},
			func() (string, string, bool) {
				if trip != nil && trip.Headsign != "" {
					return trip.Headsign, "", true
				}
				return "", "", false
			},
		}
	}

	for _, next := range chain {
		if name, borough, ok := next(); ok && name != "" {
			return name, borough
		}
	}
	if route != nil {
		return route.LongName, ""
	}
	return "", ""
}

// direction resolves the user-facing direction label and its sort rank.
func (r *Resolver) direction(
	ix *index.Index,
	stop *index.StopInfo,
	prof *system.Profile,
	trip *index.TripInfo,
	tu *gtfsrt.TripUpdate,
	stus []*gtfsrt.TripUpdate_StopTimeUpdate,
	platformID string,
	effStopID func(string) string,
) (string, int) {

	if prof.PlatformDirections {
		letter := platformSuffix(platformID)
		if letter == 0 {
			if ext := nyctTripExt(tu.GetTrip()); ext != nil {
				switch ext.GetDirection() {
				case gtfsrt.NyctTripDescriptor_NORTH:
					letter = 'N'
				case gtfsrt.NyctTripDescriptor_SOUTH:
					letter = 'S'
				}
			}
		}
		return r.subwayDirectionLabel(ix, stop, letter)
	}

	if trip != nil && trip.DirectionID != nil {
		return directionFromID(*trip.DirectionID, false, prof)
	}
	if tu.GetTrip() != nil && tu.GetTrip().DirectionId != nil {
		return directionFromID(int(tu.GetTrip().GetDirectionId()), true, prof)
	}

	// Infer from the shape of the update: a trip starting at a terminal
	// heads out, a trip ending at one heads in.
	if prof.Lookup == system.LookupTrainNumber && len(stus) > 0 {
		if r.isTerminal(ix, stop.System, prof, effStopID(stus[0].GetStopId())) {
			return "Outbound", rankOutbound
		}
		if r.isTerminal(ix, stop.System, prof, effStopID(stus[len(stus)-1].GetStopId())) {
			return "Inbound", rankInbound
		}
	}
	return "Unknown", rankUnknown
}

// subwayDirectionLabel maps a platform letter to the parent station's friendly
// label, falling back to the literal letter.
func (r *Resolver) subwayDirectionLabel(ix *index.Index, stop *index.StopInfo, letter byte) (string, int) {
	labels := stop
	if labels.NorthLabel == "" && labels.SouthLabel == "" && stop.ParentStationKey != "" {
		if parent := ix.Stop(stop.ParentStationKey); parent != nil {
			labels = parent
		}
	}
	switch letter {
	case 'N':
		if labels.NorthLabel != "" {
			return labels.NorthLabel, rankNorth
		}
		return "N", rankNorth
	case 'S':
		if labels.SouthLabel != "" {
			return labels.SouthLabel, rankSouth
		}
		return "S", rankSouth
	}
	return "Unknown", rankUnknown
}

// directionFromID maps a direction_id to Outbound/Inbound. Feed-sourced ids
// are flipped for systems whose realtime sense is inverted.
func directionFromID(id int, fromFeed bool, prof *system.Profile) (string, int) {
	if fromFeed && prof.InvertedDirectionID {
		id = 1 - id
	}
	if id == 1 {
		return "Inbound", rankInbound
	}
	return "Outbound", rankOutbound
}

func (r *Resolver) isTerminal(ix *index.Index, sys system.System, prof *system.Profile, originalID string) bool {
	if originalID == "" {
		return false
	}
	name := ""
	if info := ix.Stop(system.Key(sys, originalID)); info != nil {
		name = info.Name
	}
	return prof.IsTerminalStop(originalID, name)
}

func platformSuffix(stopID string) byte {
	if stopID == "" {
		return 0
	}
	switch c := stopID[len(stopID)-1]; c {
	case 'N', 'S':
		return c
	}
	return 0
}

// scheduledDepartures backfills from the static timetable, skipping trips
// already covered by realtime output.
func (r *Resolver) scheduledDepartures(
	ix *index.Index,
	stop *index.StopInfo,
	prof *system.Profile,
	candidates map[string]bool,
	now time.Time,
	limitMinutes int,
	processed map[string]bool,
) []Departure {

	active := ix.Calendar.ActiveServices(now)
	commuter := stop.System != system.Subway

	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Departure
	for _, id := range ids {
		for tripID, st := range ix.StopTimes[id] {
			if processed[tripID] {
				continue
			}
			trip := ix.Trip(tripID)
			if trip == nil || trip.System != stop.System {
				continue
			}
			if trip.ShortName != "" && processed[trip.ShortName] {
				continue
			}
			if !active[system.Key(trip.System, trip.ServiceID)] {
				continue
			}
			if st.PickupType == 1 {
				continue
			}

			when, err := civilTime(now, st.DepartureTime, r.loc())
			if err != nil {
				r.log().Debug("unparseable scheduled time",
					zap.String("trip", tripID), zap.String("time", st.DepartureTime))
				continue
			}
			if !inWindow(when, now, limitMinutes) {
				continue
			}

			var direction string
			var rank int
			if prof.PlatformDirections {
				direction, rank = r.subwayDirectionLabel(ix, stop, platformSuffix(id))
			} else if trip.DirectionID != nil {
				direction, rank = directionFromID(*trip.DirectionID, false, prof)
			} else {
				direction, rank = "Unknown", rankUnknown
			}

			destName, destBorough := r.scheduledDestination(ix, stop.System, trip)
			route := ix.Route(stop.System, trip.RouteID)

			d := Departure{
				TripID:                 tripID,
				Destination:            destName,
				DestinationBorough:     destBorough,
				Direction:              direction,
				DepartureTime:          &when,
				EstimatedDepartureTime: &when,
				Track:                  st.Track,
				Status:                 "Scheduled",
				PeakStatus:             peakStatus(trip.PeakOffpeak),
				System:                 stop.System,
				IsTerminalArrival:      stop.IsTerminal || (commuter && trip.DirectionID != nil && *trip.DirectionID == 1),
				Source:                 SourceScheduled,
				PickupType:             st.PickupType,
				DropOffType:            st.DropOffType,
				NoteID:                 st.NoteID,
				NoteText:               ix.NoteText(st.NoteID),
				rank:                   rank,
			}
			if route != nil {
				d.RouteID = route.OriginalRouteID
				d.RouteShortName = route.ShortName
				d.RouteLongName = route.LongName
				d.RouteColor = route.Color
			} else {
				d.RouteID = trip.RouteID
			}
			out = append(out, d)
		}
	}
	return out
}

func (r *Resolver) scheduledDestination(ix *index.Index, sys system.System, trip *index.TripInfo) (string, string) {
	if trip.DestinationOriginalStopID != "" {
		if info := ix.Stop(system.Key(sys, trip.DestinationOriginalStopID)); info != nil {
			name, borough := info.Name, info.Borough
			if info.ParentStationKey != "" {
				if parent := ix.Stop(info.ParentStationKey); parent != nil {
					name, borough = parent.Name, parent.Borough
				}
			}
			return name, borough
		}
	}
	if trip.Headsign != "" {
		return trip.Headsign, ""
	}
	if route := ix.Route(sys, trip.RouteID); route != nil {
		return route.LongName, ""
	}
	return "", ""
}

// civilTime combines today's civil date with an HH:MM:SS timetable string.
// Hours of 24 or more roll into the next day.
func civilTime(now time.Time, hhmmss string, loc *time.Location) (time.Time, error) {
	parts := strings.Split(hhmmss, ":")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("malformed time '%s'", hhmmss)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed time '%s'", hhmmss)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed time '%s'", hhmmss)
	}
	s, err := strconv.Atoi(parts[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed time '%s'", hhmmss)
	}

	days := 0
	if h >= 24 {
		h -= 24
		days = 1
	}
	t := time.Date(now.Year(), now.Month(), now.Day(), h, m, s, 0, loc)
	return t.AddDate(0, 0, days), nil
}

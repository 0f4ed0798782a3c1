package railboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	gtfsrt "github.com/jamespfennell/gtfs/proto"

	"github.com/mtarail/railboard/feed"
	"github.com/mtarail/railboard/index"
	"github.com/mtarail/railboard/system"
	"github.com/mtarail/railboard/testutil"
)

type fakeFeeds struct {
	byURL map[string][]byte
}

func (f fakeFeeds) Fetch(_ context.Context, url string) *feed.Result {
	raw, ok := f.byURL[url]
	if !ok {
		return nil
	}
	msg := &gtfsrt.FeedMessage{}
	if err := proto.Unmarshal(raw, msg); err != nil {
		return nil
	}
	return &feed.Result{Raw: raw, Message: msg}
}

type liveIndex struct{ ix *index.Index }

func (l liveIndex) Live() *index.Index { return l.ix }

type recordingTracker struct {
	keys []string
}

func (rt *recordingTracker) TrackStationLookup(_ system.System, stationKey, _ string) {
	rt.keys = append(rt.keys, stationKey)
}

// testNow is a Monday at noon.
var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestResolver(ix *index.Index, feeds map[string][]byte) *Resolver {
	return &Resolver{
		Profiles: system.Defaults(),
		Index:    liveIndex{ix},
		Feeds:    fakeFeeds{feeds},
		TimeNow:  func() time.Time { return testNow },
		Location: time.UTC,
	}
}

func at(d time.Duration) int64 {
	return testNow.Add(d).Unix()
}

const weekdayCalendar = "WKD,1,1,1,1,1,0,0,20260101,20261231"

func subwayIndex(t *testing.T) *index.Index {
	return testutil.BuildIndex(t, map[system.System]map[string][]string{
		system.Subway: {
			"routes.txt": {
				"route_id,route_short_name,route_long_name,route_type",
				"L,L,14 St-Canarsie Local,1",
				"M,M,QNS Blvd-6th Av/Myrtle Av Local,1",
			},
			"stops.txt": {
				"stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station",
				"L11,Graham Av,40.714,-73.944,1,",
				"L11N,Graham Av,40.714,-73.944,0,L11",
				"L11S,Graham Av,40.714,-73.944,0,L11",
				"L01,8 Av,40.739,-74.002,1,",
				"L01N,8 Av,40.739,-74.002,0,L01",
				"M13,Myrtle Av,40.697,-73.935,1,",
				"M13N,Myrtle Av,40.697,-73.935,0,M13",
				"M13S,Myrtle Av,40.697,-73.935,0,M13",
				"M11,Central Av,40.697,-73.927,1,",
				"M11N,Central Av,40.697,-73.927,0,M11",
				"M11S,Central Av,40.697,-73.927,0,M11",
			},
			"trips.txt": {
				"trip_id,route_id,service_id,trip_headsign,trip_short_name,direction_id,peak_offpeak",
				"L-N-1200,L,WKD,8 Av,,0,",
				"L-S-1200,L,WKD,Canarsie,,1,",
				"M-S-1200,M,WKD,Middle Village,,1,",
			},
			"stop_times.txt": {
				"trip_id,stop_id,stop_sequence,arrival_time,departure_time,track,pickup_type,drop_off_type,note_id",
				"L-N-1200,L11N,5,12:10:00,12:10:00,,,,",
				"L-S-1200,L11S,5,12:05:00,12:05:00,,,,",
				"M-S-1200,M13S,3,12:15:00,12:15:00,,,,",
			},
			"calendar.txt": {
				"service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date",
				weekdayCalendar,
			},
		},
	}, []string{
		"GTFS Stop ID,Borough,North Direction Label,South Direction Label,ADA,ADA Notes",
		"L11,Brooklyn,Uptown,Canarsie,1,",
		"L01,Manhattan,,,1,",
		"M13,Brooklyn,Williamsburg & Manhattan,Middle Village,0,",
		"M11,Brooklyn,,,0,",
	})
}

func lirrIndex(t *testing.T) *index.Index {
	return testutil.BuildIndex(t, map[system.System]map[string][]string{
		system.LIRR: {
			"routes.txt": {
				"route_id,route_short_name,route_long_name,route_type",
				"1,,Babylon Branch,2",
			},
			"stops.txt": {
				"stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station",
				"237,Grand Central Madison,40.752,-73.977,,",
				"100,Babylon,40.700,-73.324,,",
			},
			"trips.txt": {
				"trip_id,route_id,service_id,trip_headsign,trip_short_name,direction_id,peak_offpeak",
				"AM_8412_GCT,1,WKD,Grand Central,8412,1,1",
			},
			"stop_times.txt": {
				"trip_id,stop_id,stop_sequence,arrival_time,departure_time,track,pickup_type,drop_off_type,note_id",
				"AM_8412_GCT,237,10,12:20:00,12:20:00,15,0,0,",
			},
			"calendar.txt": {
				"service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date",
				weekdayCalendar,
			},
		},
	}, nil)
}

func mnrIndex(t *testing.T) *index.Index {
	return testutil.BuildIndex(t, map[system.System]map[string][]string{
		system.MNR: {
			"routes.txt": {
				"route_id,route_short_name,route_long_name,route_type",
				"1,,Hudson,2",
			},
			"stops.txt": {
				"stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station",
				"1,Grand Central Terminal,40.752,-73.977,,",
				"56,Poughkeepsie,41.707,-73.938,,",
			},
			"trips.txt": {
				"trip_id,route_id,service_id,trip_headsign,trip_short_name,direction_id,peak_offpeak",
				"AM_6500,1,WKD,Grand Central,6500,1,0",
			},
			"stop_times.txt": {
				"trip_id,stop_id,stop_sequence,arrival_time,departure_time,track,pickup_type,drop_off_type,note_id",
				"AM_6500,1,20,12:25:00,12:25:00,,,,",
			},
			"calendar.txt": {
				"service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date",
				weekdayCalendar,
			},
		},
	}, nil)
}

func TestSubwayRealtimeDepartures(t *testing.T) {
	ix := subwayIndex(t)
	profiles := system.Defaults()
	lFeed := profiles.FeedURL(system.Subway, "L")

	payload := testutil.BuildFeed(t, []testutil.TripSpec{
		{TripID: "rt-l-1", RouteID: "L", Stops: []testutil.StopSpec{
			{StopID: "L11N", DepartureTime: at(2 * time.Minute)},
			{StopID: "L01N", ArrivalTime: at(22 * time.Minute)},
		}},
		{TripID: "rt-l-2", RouteID: "L", Stops: []testutil.StopSpec{
			{StopID: "L11N", DepartureTime: at(12 * time.Minute)},
			{StopID: "L01N", ArrivalTime: at(32 * time.Minute)},
		}},
		{TripID: "rt-l-3", RouteID: "L", Stops: []testutil.StopSpec{
			{StopID: "L11N", DepartureTime: at(40 * time.Minute)},
			{StopID: "L01N", ArrivalTime: at(60 * time.Minute)},
		}},
	})

	r := newTestResolver(ix, map[string][]byte{lFeed: payload})
	tracker := &recordingTracker{}
	r.Tracker = tracker

	deps, err := r.DeparturesForStation(context.Background(), "SUBWAY-L11", Options{LimitMinutes: 30})
	require.NoError(t, err)
	require.Len(t, deps, 2, "the +40 min trip is outside the window")

	assert.Equal(t, []string{"SUBWAY-L11"}, tracker.keys)

	assert.Equal(t, "rt-l-1", deps[0].TripID)
	assert.Equal(t, "rt-l-2", deps[1].TripID)
	assert.True(t, deps[0].DepartureTime.Before(*deps[1].DepartureTime))
	for _, d := range deps {
		assert.Equal(t, "Uptown", d.Direction)
		assert.Equal(t, SourceRealtime, d.Source)
		assert.Equal(t, "8 Av", d.Destination)
		assert.Equal(t, "Manhattan", d.DestinationBorough)
		assert.Equal(t, "L", d.RouteID)
		assert.Equal(t, system.Subway, d.System)
	}
	assert.Equal(t, "Approaching", deps[0].Status)
	assert.Equal(t, "Scheduled", deps[1].Status)
}

func TestLIRRTerminalArrival(t *testing.T) {
	ix := lirrIndex(t)
	profiles := system.Defaults()
	lirrFeed := profiles.FeedURL(system.LIRR, "1")

	payload := testutil.BuildFeed(t, []testutil.TripSpec{
		{TripID: "0077", RouteID: "1", Stops: []testutil.StopSpec{
			{StopID: "100", DepartureTime: at(10 * time.Minute)},
			{StopID: "237", ArrivalTime: at(30 * time.Minute), RailroadTrack: "19"},
		}},
	})

	r := newTestResolver(ix, map[string][]byte{lirrFeed: payload})
	deps, err := r.DeparturesForStation(context.Background(), "LIRR-237",
		Options{LimitMinutes: 60, Source: SourceRealtime})
	require.NoError(t, err)
	require.Len(t, deps, 1)

	d := deps[0]
	assert.True(t, d.IsTerminalArrival)
	assert.Equal(t, testNow.Add(30*time.Minute), d.DepartureTime.UTC())
	assert.Equal(t, "19", d.Track)
	assert.Equal(t, SourceRealtime, d.Source)
	assert.Equal(t, "77", d.TripID, "leading zeros are stripped")
}

func TestMNRDirectionResolution(t *testing.T) {
	ix := mnrIndex(t)
	profiles := system.Defaults()
	mnrFeed := profiles.FeedURL(system.MNR, "1")

	payload := testutil.BuildFeed(t, []testutil.TripSpec{
		// Trip A matches the static schedule through its vehicle label and
		// takes direction from the static direction_id.
		{TripID: "06500", RouteID: "1", VehicleLabel: "6500", Stops: []testutil.StopSpec{
			{StopID: "1", ArrivalTime: at(25 * time.Minute), RailroadTrack: "42", RailroadStatus: "On Time"},
		}},
		// Trip B has no static match; its last stop is the terminal, so the
		// direction is inferred as inbound.
		{TripID: "ghost-99", RouteID: "1", Stops: []testutil.StopSpec{
			{StopID: "56", DepartureTime: at(10 * time.Minute)},
			{StopID: "1", ArrivalTime: at(35 * time.Minute)},
		}},
	})

	r := newTestResolver(ix, map[string][]byte{mnrFeed: payload})
	deps, err := r.DeparturesForStation(context.Background(), "MNR-1", Options{})
	require.NoError(t, err)
	require.Len(t, deps, 2, "the static trip is suppressed by its realtime twin")

	assert.Equal(t, "Inbound", deps[0].Direction)
	assert.Equal(t, "Inbound", deps[1].Direction)
	assert.Equal(t, "6500", deps[0].TripID)
	assert.Equal(t, "Grand Central", deps[0].Destination)
	assert.Equal(t, "42", deps[0].Track)
	assert.Equal(t, "On Time", deps[0].TrainStatus)
	assert.Equal(t, "Off-Peak", deps[0].PeakStatus)
	assert.Equal(t, "ghost-99", deps[1].TripID)
	assert.Equal(t, "Grand Central Terminal", deps[1].Destination)
}

func TestSubwayScheduledFallback(t *testing.T) {
	ix := subwayIndex(t)

	// No feed responds.
	r := newTestResolver(ix, map[string][]byte{})
	deps, err := r.DeparturesForStation(context.Background(), "SUBWAY-L11", Options{LimitMinutes: 60})
	require.NoError(t, err)
	require.Len(t, deps, 2)

	for _, d := range deps {
		assert.Equal(t, SourceScheduled, d.Source)
		assert.Equal(t, "Scheduled", d.Status)
		assert.Nil(t, d.DelayMinutes)
		assert.Equal(t, d.DepartureTime, d.EstimatedDepartureTime)
	}

	// North sorts before south even though its departure is later.
	assert.Equal(t, "Uptown", deps[0].Direction)
	assert.Equal(t, "L-N-1200", deps[0].TripID)
	assert.Equal(t, "Canarsie", deps[1].Direction)
	assert.Equal(t, "L-S-1200", deps[1].TripID)
	assert.True(t, deps[0].DepartureTime.After(*deps[1].DepartureTime))
}

func TestLIRRShortNameSuppression(t *testing.T) {
	ix := lirrIndex(t)
	profiles := system.Defaults()
	lirrFeed := profiles.FeedURL(system.LIRR, "1")

	payload := testutil.BuildFeed(t, []testutil.TripSpec{
		{TripID: "8412", RouteID: "1", Stops: []testutil.StopSpec{
			{StopID: "237", ArrivalTime: at(20 * time.Minute), RailroadTrack: "19"},
		}},
	})

	r := newTestResolver(ix, map[string][]byte{lirrFeed: payload})
	deps, err := r.DeparturesForStation(context.Background(), "LIRR-237", Options{LimitMinutes: 60})
	require.NoError(t, err)
	require.Len(t, deps, 1, "the static trip sharing the short name is suppressed")

	assert.Equal(t, "8412", deps[0].TripID)
	assert.Equal(t, SourceRealtime, deps[0].Source)
	assert.Equal(t, "Grand Central Madison", deps[0].Destination)
}

func TestSubwayInvertedPlatformRewrite(t *testing.T) {
	ix := subwayIndex(t)
	profiles := system.Defaults()
	mFeed := profiles.FeedURL(system.Subway, "M")

	// The feed reports northern platforms for a train actually running on
	// the southern ones.
	payload := testutil.BuildFeed(t, []testutil.TripSpec{
		{TripID: "rt-m-1", RouteID: "M", Stops: []testutil.StopSpec{
			{StopID: "M13N", DepartureTime: at(5 * time.Minute)},
			{StopID: "M11N", ArrivalTime: at(15 * time.Minute)},
		}},
	})

	r := newTestResolver(ix, map[string][]byte{mFeed: payload})
	deps, err := r.DeparturesForStation(context.Background(), "SUBWAY-M13N", Options{LimitMinutes: 30})
	require.NoError(t, err)
	require.Len(t, deps, 1)

	d := deps[0]
	assert.Equal(t, "Middle Village", d.Direction, "southern platform label after the rewrite")
	assert.Equal(t, "Central Av", d.Destination, "destination from the rewritten last update entry")
	assert.Equal(t, "Brooklyn", d.DestinationBorough)
}

func TestRealtimeDelayMath(t *testing.T) {
	ix := lirrIndex(t)
	profiles := system.Defaults()
	lirrFeed := profiles.FeedURL(system.LIRR, "1")

	payload := testutil.BuildFeed(t, []testutil.TripSpec{
		{TripID: "0042", RouteID: "1", Stops: []testutil.StopSpec{
			{StopID: "237", DepartureTime: at(10 * time.Minute), DepartureDelay: 300},
		}},
	})

	r := newTestResolver(ix, map[string][]byte{lirrFeed: payload})
	deps, err := r.DeparturesForStation(context.Background(), "LIRR-237",
		Options{LimitMinutes: 60, Source: SourceRealtime})
	require.NoError(t, err)
	require.Len(t, deps, 1)

	d := deps[0]
	require.NotNil(t, d.DelayMinutes)
	assert.Equal(t, 5, *d.DelayMinutes)
	assert.Equal(t, "Delayed 5 min", d.Status)
	assert.Equal(t, testNow.Add(5*time.Minute), d.DepartureTime.UTC(), "scheduled is predicted minus delay")
	assert.Equal(t, testNow.Add(10*time.Minute), d.EstimatedDepartureTime.UTC())
}

func TestUnknownStationReturnsEmpty(t *testing.T) {
	ix := subwayIndex(t)
	r := newTestResolver(ix, map[string][]byte{})

	deps, err := r.DeparturesForStation(context.Background(), "SUBWAY-XX99", Options{})
	require.NoError(t, err)
	assert.Empty(t, deps)

	_, err = r.DeparturesForStation(context.Background(), "no-prefix", Options{})
	assert.Error(t, err)
}

func TestCivilTime(t *testing.T) {
	now := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)

	same, err := civilTime(now, "23:30:00", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC), same)

	next, err := civilTime(now, "25:15:00", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 3, 1, 15, 0, 0, time.UTC), next)

	_, err = civilTime(now, "banana", time.UTC)
	assert.Error(t, err)
}

package testutil

// Helpers and fixtures for tests: on-disk feed bundles, a compiled index,
// and realtime protobuf feeds.

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	gtfsrt "github.com/jamespfennell/gtfs/proto"

	"github.com/mtarail/railboard/index"
	"github.com/mtarail/railboard/mtarr"
	"github.com/mtarail/railboard/system"
)

// WriteBundle writes a feed bundle into dir, filling in blank required
// tables for anything the caller omits.
func WriteBundle(t testing.TB, dir string, files map[string][]string) {
	if files["routes.txt"] == nil {
		files["routes.txt"] = []string{"route_id,route_short_name,route_long_name,route_type"}
	}
	if files["stops.txt"] == nil {
		files["stops.txt"] = []string{"stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station"}
	}
	if files["trips.txt"] == nil {
		files["trips.txt"] = []string{"trip_id,route_id,service_id,trip_headsign,trip_short_name,direction_id,peak_offpeak"}
	}
	if files["stop_times.txt"] == nil {
		files["stop_times.txt"] = []string{"trip_id,stop_id,stop_sequence,arrival_time,departure_time,track,pickup_type,drop_off_type,note_id"}
	}
	if files["calendar.txt"] == nil {
		files["calendar.txt"] = []string{"service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date"}
	}

	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, lines := range files {
		err := os.WriteFile(filepath.Join(dir, name), []byte(strings.Join(lines, "\n")), 0o644)
		require.NoError(t, err)
	}
}

// BuildZip packs files into an in-memory zip, for refresh tests.
func BuildZip(t testing.TB, files map[string][]string) []byte {
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for filename, content := range files {
		f, err := w.Create(filename)
		require.NoError(t, err)
		_, err = f.Write([]byte(strings.Join(content, "\n")))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return buf.Bytes()
}

// BuildIndex compiles bundles (one file map per system) into a published
// index. Systems without a file map get an empty bundle.
func BuildIndex(
	t testing.TB,
	bundles map[system.System]map[string][]string,
	stationCSV []string,
) *index.Index {

	root := t.TempDir()
	dirs := map[system.System]string{}
	for _, sys := range system.All {
		dir := filepath.Join(root, strings.ToLower(string(sys)))
		files := bundles[sys]
		if files == nil {
			files = map[string][]string{}
		}
		WriteBundle(t, dir, files)
		dirs[sys] = dir
	}

	cfg := index.Config{
		Profiles:   system.Defaults(),
		BundleDirs: dirs,
	}
	if stationCSV != nil {
		path := filepath.Join(root, "stations.csv")
		err := os.WriteFile(path, []byte(strings.Join(stationCSV, "\n")), 0o644)
		require.NoError(t, err)
		cfg.StationCSVPath = path
	}

	compiler := index.NewCompiler(cfg)
	require.NoError(t, compiler.Rebuild())
	return compiler.Live()
}

// TripSpec describes one realtime trip update for BuildFeed.
type TripSpec struct {
	TripID       string
	RouteID      string
	VehicleLabel string

	// NyctDirection, when nonzero, attaches an NYCT trip descriptor with
	// the given direction enum (1 north, 3 south).
	NyctDirection int32

	Stops []StopSpec
}

// StopSpec is one stop-time update within a TripSpec.
type StopSpec struct {
	StopID         string
	StopSequence   uint32
	ArrivalTime    int64
	DepartureTime  int64
	DepartureDelay int32

	// NyctTrack attaches the NYCT stop-time extension's actual track.
	NyctTrack string
	// RailroadTrack / RailroadStatus attach the MTA railroad extension.
	RailroadTrack  string
	RailroadStatus string
}

// BuildFeed marshals trip specs into a realtime protobuf feed.
func BuildFeed(t testing.TB, trips []TripSpec) []byte {
	msg := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfsrt.FeedHeader_FULL_DATASET.Enum(),
		},
	}

	for i, spec := range trips {
		tu := &gtfsrt.TripUpdate{
			Trip: &gtfsrt.TripDescriptor{TripId: proto.String(spec.TripID)},
		}
		if spec.RouteID != "" {
			tu.Trip.RouteId = proto.String(spec.RouteID)
		}
		if spec.VehicleLabel != "" {
			tu.Vehicle = &gtfsrt.VehicleDescriptor{Label: proto.String(spec.VehicleLabel)}
		}
		if spec.NyctDirection != 0 {
			dir := gtfsrt.NyctTripDescriptor_Direction(spec.NyctDirection)
			proto.SetExtension(tu.Trip, gtfsrt.E_NyctTripDescriptor, &gtfsrt.NyctTripDescriptor{
				Direction: &dir,
			})
		}

		for _, stop := range spec.Stops {
			stu := &gtfsrt.TripUpdate_StopTimeUpdate{
				StopId: proto.String(stop.StopID),
			}
			if stop.StopSequence != 0 {
				stu.StopSequence = proto.Uint32(stop.StopSequence)
			}
			if stop.ArrivalTime != 0 {
				stu.Arrival = &gtfsrt.TripUpdate_StopTimeEvent{Time: proto.Int64(stop.ArrivalTime)}
			}
			if stop.DepartureTime != 0 {
				stu.Departure = &gtfsrt.TripUpdate_StopTimeEvent{Time: proto.Int64(stop.DepartureTime)}
				if stop.DepartureDelay != 0 {
					stu.Departure.Delay = proto.Int32(stop.DepartureDelay)
				}
			}
			if stop.NyctTrack != "" {
				proto.SetExtension(stu, gtfsrt.E_NyctStopTimeUpdate, &gtfsrt.NyctStopTimeUpdate{
					ActualTrack: proto.String(stop.NyctTrack),
				})
			}
			if stop.RailroadTrack != "" || stop.RailroadStatus != "" {
				mtarr.Attach(stu, mtarr.StopTimeUpdate{
					Track:       stop.RailroadTrack,
					TrainStatus: stop.RailroadStatus,
				})
			}
			tu.StopTimeUpdate = append(tu.StopTimeUpdate, stu)
		}

		id := spec.TripID
		if id == "" {
			id = string(rune('A' + i))
		}
		msg.Entity = append(msg.Entity, &gtfsrt.FeedEntity{
			Id:         proto.String(id),
			TripUpdate: tu,
		})
	}

	data, err := proto.Marshal(msg)
	require.NoError(t, err)
	return data
}

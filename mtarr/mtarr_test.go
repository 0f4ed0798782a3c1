package mtarr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"

	gtfsrt "github.com/jamespfennell/gtfs/proto"

	"github.com/mtarail/railboard/mtarr"
)

func TestSurvivesDecode(t *testing.T) {
	stu := &gtfsrt.TripUpdate_StopTimeUpdate{StopId: proto.String("237")}
	mtarr.Attach(stu, mtarr.StopTimeUpdate{Track: "19", TrainStatus: "On Time"})

	raw, err := proto.Marshal(stu)
	require.NoError(t, err)

	decoded := &gtfsrt.TripUpdate_StopTimeUpdate{}
	require.NoError(t, proto.Unmarshal(raw, decoded))

	ext := mtarr.FromMessage(decoded)
	require.NotNil(t, ext)
	assert.Equal(t, "19", ext.Track)
	assert.Equal(t, "On Time", ext.TrainStatus)
}

func TestSurvivesFeedDecode(t *testing.T) {
	stu := &gtfsrt.TripUpdate_StopTimeUpdate{StopId: proto.String("1")}
	mtarr.Attach(stu, mtarr.StopTimeUpdate{Track: "42"})
	msg := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfsrt.FeedEntity{{
			Id: proto.String("e1"),
			TripUpdate: &gtfsrt.TripUpdate{
				Trip:           &gtfsrt.TripDescriptor{TripId: proto.String("AM_6500")},
				StopTimeUpdate: []*gtfsrt.TripUpdate_StopTimeUpdate{stu},
			},
		}},
	}

	raw, err := proto.Marshal(msg)
	require.NoError(t, err)
	decoded := &gtfsrt.FeedMessage{}
	require.NoError(t, proto.Unmarshal(raw, decoded))

	ext := mtarr.FromMessage(decoded.GetEntity()[0].GetTripUpdate().GetStopTimeUpdate()[0])
	require.NotNil(t, ext)
	assert.Equal(t, "42", ext.Track)
	assert.Equal(t, "", ext.TrainStatus)
}

func TestAbsent(t *testing.T) {
	assert.Nil(t, mtarr.FromMessage(nil))
	assert.Nil(t, mtarr.FromMessage(&gtfsrt.TripUpdate_StopTimeUpdate{StopId: proto.String("100")}))
}

func TestOtherUnknownFieldsIgnored(t *testing.T) {
	stu := &gtfsrt.TripUpdate_StopTimeUpdate{}
	var b []byte
	b = protowire.AppendTag(b, 999, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)
	stu.ProtoReflect().SetUnknown(b)
	assert.Nil(t, mtarr.FromMessage(stu))

	mtarr.Attach(stu, mtarr.StopTimeUpdate{TrainStatus: "Delayed"})
	ext := mtarr.FromMessage(stu)
	require.NotNil(t, ext)
	assert.Equal(t, "", ext.Track)
	assert.Equal(t, "Delayed", ext.TrainStatus)
}

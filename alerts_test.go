package railboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	gtfsrt "github.com/jamespfennell/gtfs/proto"
)

func alertEntity(id, route, headerEN, headerES string) *gtfsrt.FeedEntity {
	header := &gtfsrt.TranslatedString{}
	if headerES != "" {
		header.Translation = append(header.Translation, &gtfsrt.TranslatedString_Translation{
			Text:     proto.String(headerES),
			Language: proto.String("es"),
		})
	}
	if headerEN != "" {
		header.Translation = append(header.Translation, &gtfsrt.TranslatedString_Translation{
			Text:     proto.String(headerEN),
			Language: proto.String("en"),
		})
	}
	return &gtfsrt.FeedEntity{
		Id: proto.String(id),
		Alert: &gtfsrt.Alert{
			InformedEntity: []*gtfsrt.EntitySelector{
				{RouteId: proto.String(route)},
			},
			HeaderText: header,
		},
	}
}

func TestAlertsFromFeed(t *testing.T) {
	msg := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfsrt.FeedEntity{
			alertEntity("a1", "L", "L trains delayed", "Trenes L demorados"),
			alertEntity("a2", "G", "G trains rerouted", ""),
			{Id: proto.String("not-an-alert")},
		},
	}

	all := AlertsFromFeed(msg, "")
	require.Len(t, all, 2)
	assert.Equal(t, "L trains delayed", all[0].Header, "the English translation wins")
	assert.Equal(t, []string{"L"}, all[0].RouteIDs)

	filtered := AlertsFromFeed(msg, "G")
	require.Len(t, filtered, 1)
	assert.Equal(t, "a2", filtered[0].ID)

	assert.Empty(t, AlertsFromFeed(msg, "Q"))
}

// Package mtarr reads the MTA railroad GTFS-realtime extension that the
// LIRR and Metro-North feeds attach to stop-time updates.
//
// The extension descriptor is not registered with the protobuf runtime the
// realtime bindings use, so a decoded feed carries it in the unknown-field
// section of each StopTimeUpdate. This package walks those bytes with
// protowire instead of relying on generated code.
package mtarr

import (
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
)

// Field numbers from gtfs-realtime-MTARR.proto.
const (
	extensionNumber   protowire.Number = 1005
	trackNumber       protowire.Number = 1
	trainStatusNumber protowire.Number = 2
)

// StopTimeUpdate is the railroad payload on one stop-time update: the
// boarding track and a free-text train status.
type StopTimeUpdate struct {
	Track       string
	TrainStatus string
}

// FromMessage returns the railroad extension carried by m, or nil when the
// extension is absent or malformed.
func FromMessage(m proto.Message) *StopTimeUpdate {
	if m == nil {
		return nil
	}
	payload, ok := extensionPayload(m.ProtoReflect().GetUnknown())
	if !ok {
		return nil
	}

	u := &StopTimeUpdate{}
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return nil
		}
		payload = payload[n:]

		if typ == protowire.BytesType && (num == trackNumber || num == trainStatusNumber) {
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return nil
			}
			if num == trackNumber {
				u.Track = string(v)
			} else {
				u.TrainStatus = string(v)
			}
			payload = payload[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, payload)
		if n < 0 {
			return nil
		}
		payload = payload[n:]
	}
	return u
}

// extensionPayload concatenates every occurrence of the extension field,
// the same merge the runtime applies to split message bytes.
func extensionPayload(b []byte) ([]byte, bool) {
	var payload []byte
	found := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, false
		}
		b = b[n:]

		if num == extensionNumber && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, false
			}
			payload = append(payload, v...)
			found = true
			b = b[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil, false
		}
		b = b[n:]
	}
	return payload, found
}

// Attach appends u to m's unknown fields, producing the same bytes a feed
// carrying the extension decodes to.
func Attach(m proto.Message, u StopTimeUpdate) {
	var payload []byte
	if u.Track != "" {
		payload = protowire.AppendTag(payload, trackNumber, protowire.BytesType)
		payload = protowire.AppendString(payload, u.Track)
	}
	if u.TrainStatus != "" {
		payload = protowire.AppendTag(payload, trainStatusNumber, protowire.BytesType)
		payload = protowire.AppendString(payload, u.TrainStatus)
	}

	var field []byte
	field = protowire.AppendTag(field, extensionNumber, protowire.BytesType)
	field = protowire.AppendBytes(field, payload)

	ref := m.ProtoReflect()
	ref.SetUnknown(append(ref.GetUnknown(), field...))
}

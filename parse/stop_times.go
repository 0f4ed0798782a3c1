package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
)

type StopTime struct {
	TripID        string
	StopID        string
	StopSequence  int
	ArrivalTime   string
	DepartureTime string
	Track         string
	PickupType    int
	DropOffType   int
	NoteID        string
}

type stopTimeCSV struct {
	TripID        string `csv:"trip_id"`
	StopID        string `csv:"stop_id"`
	StopSequence  int    `csv:"stop_sequence"`
	ArrivalTime   string `csv:"arrival_time"`
	DepartureTime string `csv:"departure_time"`
	Track         string `csv:"track"`
	PickupType    int    `csv:"pickup_type"`
	DropOffType   int    `csv:"drop_off_type"`
	NoteID        string `csv:"note_id"`
}

// StopTimes streams stop_times rows to fn without materializing the table.
// The subway bundle alone runs to hundreds of thousands of rows, and the
// compiler passes over this file twice.
func StopTimes(data io.Reader, fn func(StopTime) error) error {
	setupReader()

	i := -1
	err := gocsv.UnmarshalToCallbackWithError(data, func(st *stopTimeCSV) error {
		i += 1
		if st.TripID == "" {
			return fmt.Errorf("missing trip_id (row %d)", i+1)
		}
		if st.StopID == "" {
			return fmt.Errorf("missing stop_id (row %d)", i+1)
		}

		arrivalTime, err := normalizeTime(st.ArrivalTime)
		if err != nil {
			return errors.Wrapf(err, "parsing arrival_time (row %d)", i+1)
		}

		departureTime, err := normalizeTime(st.DepartureTime)
		if err != nil {
			return errors.Wrapf(err, "parsing departure_time (row %d)", i+1)
		}

		return fn(StopTime{
			TripID:        st.TripID,
			StopID:        st.StopID,
			StopSequence:  st.StopSequence,
			ArrivalTime:   arrivalTime,
			DepartureTime: departureTime,
			Track:         st.Track,
			PickupType:    st.PickupType,
			DropOffType:   st.DropOffType,
			NoteID:        st.NoteID,
		})
	})
	if err != nil {
		return errors.Wrap(err, "unmarshaling stop_times csv")
	}

	return nil
}

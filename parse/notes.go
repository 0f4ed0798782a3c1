package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
)

// Note is a commuter-rail timetable footnote referenced from stop_times.
type Note struct {
	ID          string
	Mark        string
	Title       string
	Description string
}

type noteCSV struct {
	ID          string `csv:"note_id"`
	Mark        string `csv:"note_mark"`
	Title       string `csv:"note_title"`
	Description string `csv:"note_desc"`
}

func Notes(data io.Reader) ([]Note, error) {
	setupReader()

	rows := []*noteCSV{}
	if err := gocsv.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshaling notes csv: %w", err)
	}

	notes := make([]Note, 0, len(rows))
	for _, n := range rows {
		if n.ID == "" {
			return nil, fmt.Errorf("empty note_id")
		}
		notes = append(notes, Note{
			ID:          n.ID,
			Mark:        n.Mark,
			Title:       n.Title,
			Description: n.Description,
		})
	}

	return notes, nil
}

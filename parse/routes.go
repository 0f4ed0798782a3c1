package parse

import (
	"fmt"
	"io"
	"strconv"

	"github.com/gocarina/gocsv"
)

type Route struct {
	ID        string
	ShortName string
	LongName  string
	Type      int
	Color     string
	TextColor string
}

type routeCSV struct {
	ID        string `csv:"route_id"`
	AgencyID  string `csv:"agency_id"`
	ShortName string `csv:"route_short_name"`
	LongName  string `csv:"route_long_name"`
	Type      string `csv:"route_type"`
	Color     string `csv:"route_color"`
	TextColor string `csv:"route_text_color"`
}

func Routes(data io.Reader) ([]Route, error) {
	setupReader()

	rows := []*routeCSV{}
	if err := gocsv.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshaling routes csv: %w", err)
	}

	seen := map[string]bool{}
	routes := make([]Route, 0, len(rows))
	for _, r := range rows {
		if r.ID == "" {
			return nil, fmt.Errorf("route has no route_id")
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("repeated route_id: '%s'", r.ID)
		}
		seen[r.ID] = true

		if r.ShortName == "" && r.LongName == "" {
			return nil, fmt.Errorf("route_id '%s' has no short_name or long_name", r.ID)
		}

		routeType := 0
		if r.Type != "" {
			var err error
			routeType, err = strconv.Atoi(r.Type)
			if err != nil {
				return nil, fmt.Errorf("route_id '%s' has invalid route_type: %w", r.ID, err)
			}
		}

		routes = append(routes, Route{
			ID:        r.ID,
			ShortName: r.ShortName,
			LongName:  r.LongName,
			Type:      routeType,
			Color:     r.Color,
			TextColor: r.TextColor,
		})
	}

	return routes, nil
}

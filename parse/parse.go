// Package parse reads the CSV tables of a transit-feed-spec bundle into
// typed records. Bulk readers return slices; stop_times, the one table large
// enough to matter, streams rows through a callback so peak memory stays
// bounded.
package parse

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/gocarina/gocsv"
	"github.com/spkg/bom"
)

var readerSetup sync.Once

// LazyCSVReader required (at least) to survive sloppy use of quotes. The BOM
// reader strips unicode BOMs if present.
func setupReader() {
	readerSetup.Do(func() {
		gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
			return gocsv.LazyCSVReader(bom.NewReader(in))
		})
	})
}

// normalizeTime validates an HH:MM:SS stop time and zero-pads the hour.
// Hours may exceed 23 to denote service past midnight.
func normalizeTime(s string) (string, error) {
	split := strings.Split(s, ":")
	if len(split) != 3 {
		return "", fmt.Errorf("found %d parts in '%s'", len(split), s)
	}

	hms := [3]int{}
	for i, str := range split {
		j, err := strconv.Atoi(strings.TrimSpace(str))
		if err != nil {
			return "", fmt.Errorf("non-integer in '%s' pos %d", s, i)
		}
		hms[i] = j
	}

	if hms[0] < 0 || hms[0] > 99 {
		return "", fmt.Errorf("invalid hour in '%s'", s)
	}
	if hms[1] < 0 || hms[1] > 59 {
		return "", fmt.Errorf("invalid minute in '%s'", s)
	}
	if hms[2] < 0 || hms[2] > 59 {
		return "", fmt.Errorf("invalid second in '%s'", s)
	}

	return fmt.Sprintf("%02d:%02d:%02d", hms[0], hms[1], hms[2]), nil
}

// optionalInt parses a CSV cell that may be blank into a nullable integer.
func optionalInt(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("parsing '%s': %w", s, err)
	}
	return &v, nil
}

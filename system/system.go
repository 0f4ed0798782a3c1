// Package system holds the static per-operator configuration for the three
// sub-systems served by railboard: the NYC subway and the two commuter
// railroads (LIRR and Metro-North).
//
// Rather than a type hierarchy, each sub-system is described by a Profile of
// capability flags that a single resolver pipeline consumes. Adding a
// sub-system means appending a Profile to the table.
package system

import (
	"fmt"
	"strings"
)

// System identifies one of the indexed operators.
type System string

const (
	Subway System = "SUBWAY"
	LIRR   System = "LIRR"
	MNR    System = "MNR"
)

// All lists every known system, in build order.
var All = []System{Subway, LIRR, MNR}

// Key composes the cross-system unique key for an original identifier.
// Raw stop/route ids are not unique across operators; every index map is
// keyed on this form.
func Key(sys System, originalID string) string {
	return fmt.Sprintf("%s-%s", sys, originalID)
}

// SplitKey splits a unique key back into system and original id. The original
// id may itself contain dashes, so only the first dash is significant.
func SplitKey(key string) (System, string, error) {
	i := strings.Index(key, "-")
	if i < 0 {
		return "", "", fmt.Errorf("key '%s' has no system prefix", key)
	}
	sys := System(key[:i])
	switch sys {
	case Subway, LIRR, MNR:
		return sys, key[i+1:], nil
	}
	return "", "", fmt.Errorf("unknown system in key '%s'", key)
}

// TripLookup selects how realtime trip ids are matched against static trips.
type TripLookup int

const (
	// LookupDirect matches the realtime trip id against static trip ids.
	LookupDirect TripLookup = iota
	// LookupTrainNumber tries the vehicle label, then the train number
	// (trip_short_name), then the raw trip id. Used by Metro-North, whose
	// realtime trip ids don't line up with the static schedule.
	LookupTrainNumber
)

// Profile is the behavioral flag record for one sub-system.
type Profile struct {
	System System

	// PlatformDirections is set for the subway, where the trailing N/S
	// letter of a platform stop id carries the direction and parent
	// stations carry friendly labels for each.
	PlatformDirections bool

	// Lookup strategy for reconciling realtime trips with static trips.
	Lookup TripLookup

	// StripLeadingZeros normalizes commuter-rail realtime trip ids, which
	// are sometimes zero-padded train numbers.
	StripLeadingZeros bool

	// InvertedDirectionID flips the inbound/outbound sense of direction_id.
	// Metro-North's feed uses the opposite convention from the LIRR.
	InvertedDirectionID bool

	// UsesTripShortName registers trips in the train-number and
	// vehicle-label secondary indexes during the static build.
	UsesTripShortName bool

	// ArrivalFallback permits substituting arrival time when a stop-time
	// update has no departure (terminal arrivals, and commuter-rail stops
	// where the feed simply omits departure). The subway rejects updates
	// without a departure time instead.
	ArrivalFallback bool

	// RailroadExtension selects the MTARR stop-time-update extension for
	// track and train status. The subway uses the NYCT extension.
	RailroadExtension bool

	// TrackFromExtensionOnly refuses per-update track fallbacks; the LIRR
	// publishes track only through the MTARR extension, and an empty value
	// there means no track.
	TrackFromExtensionOnly bool

	// TerminalStopIDs and TerminalNameParts drive StopInfo.IsTerminal: a
	// stop is terminal if its original id is in the set or its name
	// contains any of the substrings.
	TerminalStopIDs   map[string]bool
	TerminalNameParts []string

	// FeedURLByRoute links each original route id to the realtime feed
	// that carries it.
	FeedURLByRoute map[string]string

	// PlatformRewrites remaps platform stop ids whose direction letters
	// are inverted in the upstream feed. Keyed on the station base (stop
	// id minus the direction letter). Emptying the set turns the rewrite
	// into a no-op; no code change is needed once upstream fixes the bug.
	PlatformRewrites map[string]bool
}

const (
	subwayFeedBase = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs"
	lirrFeedURL    = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/lirr%2Fgtfs-lirr"
	mnrFeedURL     = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/mnr%2Fgtfs-mnr"
)

var subwayFeedURLs = map[string]string{
	"1234567": subwayFeedBase,
	"ace":     subwayFeedBase + "-ace",
	"bdfm":    subwayFeedBase + "-bdfm",
	"g":       subwayFeedBase + "-g",
	"jz":      subwayFeedBase + "-jz",
	"nqrw":    subwayFeedBase + "-nqrw",
	"l":       subwayFeedBase + "-l",
	"si":      subwayFeedBase + "-si",
}

// subwayRouteFeeds maps each subway route to its line-group feed.
var subwayRouteFeeds = map[string]string{
	"1": "1234567", "2": "1234567", "3": "1234567", "4": "1234567",
	"5": "1234567", "6": "1234567", "6X": "1234567", "7": "1234567",
	"7X": "1234567", "S": "1234567", "GS": "1234567",
	"A": "ace", "C": "ace", "E": "ace", "H": "ace", "FS": "ace", "SF": "ace", "SR": "ace",
	"B": "bdfm", "D": "bdfm", "F": "bdfm", "FX": "bdfm", "M": "bdfm",
	"G": "g",
	"J": "jz", "Z": "jz",
	"N": "nqrw", "Q": "nqrw", "R": "nqrw", "W": "nqrw",
	"L":  "l",
	"SI": "si",
}

func subwayFeedMap() map[string]string {
	m := make(map[string]string, len(subwayRouteFeeds))
	for route, group := range subwayRouteFeeds {
		m[route] = subwayFeedURLs[group]
	}
	return m
}

// The M train reports inverted platform letters at the stations it shares
// with the J in Williamsburg and Bushwick. M trains toward the bridge are
// reported at M11N but actually stop at M11S.
var mTrainRewrites = map[string]bool{
	"M11": true,
	"M12": true,
	"M13": true,
	"M14": true,
	"M16": true,
	"M18": true,
}

// Profiles is the system behavior table consumed by the static compiler and
// the departure resolver.
type Profiles struct {
	bySystem  map[System]*Profile
	byFeedURL map[string]System
}

// Defaults builds the production profile table.
func Defaults() *Profiles {
	subway := &Profile{
		System:             Subway,
		PlatformDirections: true,
		Lookup:             LookupDirect,
		FeedURLByRoute:     subwayFeedMap(),
		PlatformRewrites:   copySet(mTrainRewrites),
		TerminalNameParts:  []string{},
		TerminalStopIDs:    map[string]bool{},
	}

	lirr := &Profile{
		System:                 LIRR,
		Lookup:                 LookupDirect,
		StripLeadingZeros:      true,
		UsesTripShortName:      true,
		ArrivalFallback:        true,
		RailroadExtension:      true,
		TrackFromExtensionOnly: true,
		TerminalStopIDs: map[string]bool{
			"8":   true, // Penn Station
			"12":  true, // Atlantic Terminal
			"237": true, // Grand Central Madison
			"102": true, // Jamaica
		},
		TerminalNameParts: []string{"Penn Station", "Atlantic Terminal", "Grand Central"},
		FeedURLByRoute:    map[string]string{},
	}

	mnr := &Profile{
		System:              MNR,
		Lookup:              LookupTrainNumber,
		StripLeadingZeros:   true,
		InvertedDirectionID: true,
		UsesTripShortName:   true,
		ArrivalFallback:     true,
		RailroadExtension:   true,
		TerminalStopIDs: map[string]bool{
			"1": true, // Grand Central Terminal
		},
		TerminalNameParts: []string{"Grand Central"},
		FeedURLByRoute:    map[string]string{},
	}

	// The commuter railroads publish a single feed covering all routes, so
	// route links are added lazily as routes are ingested.
	lirr.FeedURLByRoute = singleFeed(lirrFeedURL)
	mnr.FeedURLByRoute = singleFeed(mnrFeedURL)

	p := &Profiles{
		bySystem:  map[System]*Profile{},
		byFeedURL: map[string]System{},
	}
	for _, prof := range []*Profile{subway, lirr, mnr} {
		p.bySystem[prof.System] = prof
	}
	for _, url := range subwayFeedURLs {
		p.byFeedURL[url] = Subway
	}
	p.byFeedURL[lirrFeedURL] = LIRR
	p.byFeedURL[mnrFeedURL] = MNR

	return p
}

// singleFeed marks a profile as one-feed-for-all-routes. FeedURL falls back
// to this entry for any route id.
const anyRoute = "*"

func singleFeed(url string) map[string]string {
	return map[string]string{anyRoute: url}
}

// Profile returns the flag record for a system, or nil if unknown.
func (p *Profiles) Profile(sys System) *Profile {
	return p.bySystem[sys]
}

// FeedURL resolves the realtime feed URL carrying a route, or "" when the
// route is not linked to any feed.
func (p *Profiles) FeedURL(sys System, originalRouteID string) string {
	prof := p.bySystem[sys]
	if prof == nil {
		return ""
	}
	if url, ok := prof.FeedURLByRoute[originalRouteID]; ok {
		return url
	}
	return prof.FeedURLByRoute[anyRoute]
}

// SystemForFeedURL derives the sub-system from a realtime feed URL. Feeds
// emit original ids; the resolver re-prefixes them using this.
func (p *Profiles) SystemForFeedURL(url string) (System, bool) {
	sys, ok := p.byFeedURL[url]
	return sys, ok
}

// FeedURLs returns every realtime feed URL declared across all profiles.
func (p *Profiles) FeedURLs() map[string]bool {
	urls := map[string]bool{}
	for url := range p.byFeedURL {
		urls[url] = true
	}
	return urls
}

// SetPlatformRewrites replaces the subway platform rewrite set, e.g. from
// configuration once the upstream data is fixed.
func (p *Profiles) SetPlatformRewrites(bases []string) {
	set := map[string]bool{}
	for _, b := range bases {
		if b != "" {
			set[b] = true
		}
	}
	p.bySystem[Subway].PlatformRewrites = set
}

// RewritePlatform applies the inverted-platform fix to a single stop id.
// Returns the id unchanged when no rewrite applies.
func (prof *Profile) RewritePlatform(stopID string) string {
	if len(prof.PlatformRewrites) == 0 || len(stopID) < 2 {
		return stopID
	}
	base, dir := stopID[:len(stopID)-1], stopID[len(stopID)-1]
	if !prof.PlatformRewrites[base] {
		return stopID
	}
	switch dir {
	case 'N':
		return base + "S"
	case 'S':
		return base + "N"
	}
	return stopID
}

// IsTerminalStop applies the per-system terminal rule to a stop.
func (prof *Profile) IsTerminalStop(originalID, name string) bool {
	if prof.TerminalStopIDs[originalID] {
		return true
	}
	for _, part := range prof.TerminalNameParts {
		if part != "" && strings.Contains(name, part) {
			return true
		}
	}
	return false
}

// StripLeadingZerosFromTripID normalizes a commuter-rail realtime trip id.
func StripLeadingZerosFromTripID(id string) string {
	trimmed := strings.TrimLeft(id, "0")
	if trimmed == "" && id != "" {
		return "0"
	}
	return trimmed
}

func copySet(src map[string]bool) map[string]bool {
	dst := make(map[string]bool, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

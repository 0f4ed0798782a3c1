package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		sys System
		id  string
	}{
		{Subway, "L11"},
		{Subway, "M13N"},
		{LIRR, "237"},
		{MNR, "1"},
		{MNR, "AM_8412_GCT"},
	} {
		key := Key(tc.sys, tc.id)
		sys, id, err := SplitKey(key)
		require.NoError(t, err)
		assert.Equal(t, tc.sys, sys)
		assert.Equal(t, tc.id, id)
	}

	_, _, err := SplitKey("L11")
	assert.Error(t, err)

	_, _, err = SplitKey("PATH-123")
	assert.Error(t, err)
}

func TestFeedURLResolution(t *testing.T) {
	p := Defaults()

	lURL := p.Profile(Subway).FeedURLByRoute["L"]
	require.NotEmpty(t, lURL)
	sys, ok := p.SystemForFeedURL(lURL)
	require.True(t, ok)
	assert.Equal(t, Subway, sys)

	// Commuter rail uses one feed for every route.
	assert.Equal(t, p.FeedURL(LIRR, "1"), p.FeedURL(LIRR, "anything"))
	assert.NotEmpty(t, p.FeedURL(MNR, "Hudson"))

	// Every route-linked URL is declared in the feed URL set.
	urls := p.FeedURLs()
	for route, url := range p.Profile(Subway).FeedURLByRoute {
		assert.Truef(t, urls[url], "route %s links unknown feed %s", route, url)
	}
}

func TestRewritePlatform(t *testing.T) {
	p := Defaults()
	subway := p.Profile(Subway)

	assert.Equal(t, "M13S", subway.RewritePlatform("M13N"))
	assert.Equal(t, "M13N", subway.RewritePlatform("M13S"))
	assert.Equal(t, "M13", subway.RewritePlatform("M13"))
	assert.Equal(t, "L11N", subway.RewritePlatform("L11N"))

	// Emptying the set disables the workaround entirely.
	p.SetPlatformRewrites(nil)
	assert.Equal(t, "M13N", subway.RewritePlatform("M13N"))
}

func TestIsTerminalStop(t *testing.T) {
	p := Defaults()

	assert.True(t, p.Profile(MNR).IsTerminalStop("1", "Grand Central"))
	assert.True(t, p.Profile(MNR).IsTerminalStop("999", "Grand Central Terminal"))
	assert.False(t, p.Profile(MNR).IsTerminalStop("56", "Harlem-125th St"))
	assert.True(t, p.Profile(LIRR).IsTerminalStop("237", "Grand Central Madison"))
}

func TestStripLeadingZeros(t *testing.T) {
	assert.Equal(t, "8412", StripLeadingZerosFromTripID("008412"))
	assert.Equal(t, "8412", StripLeadingZerosFromTripID("8412"))
	assert.Equal(t, "0", StripLeadingZerosFromTripID("000"))
	assert.Equal(t, "", StripLeadingZerosFromTripID(""))
}

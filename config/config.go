// Package config loads process configuration from a .env file and the
// environment. Nothing is mutable at runtime; changes require a restart or a
// bundle refresh.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mtarail/railboard/system"
)

const envPrefix = "RAILBOARD_"

// Defaults for the MTA's public endpoints.
const (
	defaultSubwayZipURL = "http://web.mta.info/developers/data/nyct/subway/google_transit.zip"
	defaultLIRRZipURL   = "http://web.mta.info/developers/data/lirr/google_transit.zip"
	defaultMNRZipURL    = "http://web.mta.info/developers/data/mnr/google_transit.zip"

	defaultAlertsURL = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/camsys%2Fsubway-alerts"
)

// Config is the full process configuration.
type Config struct {
	ListenAddr string
	LogLevel   string

	// APIKey is sent as x-api-key on realtime feed requests.
	APIKey string

	DataDir        string
	StationCSVPath string
	GeoJSONPath    string

	// GeoNameProperty is the GeoJSON feature property holding the borough
	// name.
	GeoNameProperty string

	StaticZipURLs map[system.System]string
	RefreshCron   string

	// AlertsURL is the subway service alerts feed.
	AlertsURL string

	FeedTTL time.Duration

	// PlatformRewrites overrides the subway inverted-platform station list
	// when the variable is present, even if empty. nil means keep the
	// built-in list.
	PlatformRewrites    []string
	HasPlatformRewrites bool

	Timezone string
}

// Load reads .env (when present) and then the environment.
func Load() (*Config, error) {
	// A missing .env is fine; the environment may carry everything.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:      getenv("LISTEN_ADDR", ":8080"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		APIKey:          os.Getenv("MTA_API_KEY"),
		DataDir:         getenv("DATA_DIR", "data"),
		GeoNameProperty: getenv("GEO_NAME_PROPERTY", "boro_name"),
		RefreshCron:     getenv("REFRESH_CRON", "0 4 * * *"),
		AlertsURL:       getenv("ALERTS_URL", defaultAlertsURL),
		Timezone:        getenv("TIMEZONE", "America/New_York"),
		StaticZipURLs: map[system.System]string{
			system.Subway: getenv("SUBWAY_ZIP_URL", defaultSubwayZipURL),
			system.LIRR:   getenv("LIRR_ZIP_URL", defaultLIRRZipURL),
			system.MNR:    getenv("MNR_ZIP_URL", defaultMNRZipURL),
		},
	}
	cfg.StationCSVPath = getenv("STATION_CSV", filepath.Join(cfg.DataDir, "stations.csv"))
	cfg.GeoJSONPath = getenv("GEOJSON", filepath.Join(cfg.DataDir, "boroughs.geojson"))

	ttlSeconds, err := intenv("FEED_TTL_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	cfg.FeedTTL = time.Duration(ttlSeconds) * time.Second

	if raw, ok := os.LookupEnv(envPrefix + "PLATFORM_REWRITES"); ok {
		cfg.HasPlatformRewrites = true
		for _, base := range strings.Split(raw, ",") {
			if base = strings.TrimSpace(base); base != "" {
				cfg.PlatformRewrites = append(cfg.PlatformRewrites, base)
			}
		}
	}

	return cfg, nil
}

// BundleDir returns the directory holding one sub-system's unpacked bundle.
func (c *Config) BundleDir(sys system.System) string {
	return filepath.Join(c.DataDir, strings.ToLower(string(sys)))
}

// BundleDirs returns the per-system bundle directories.
func (c *Config) BundleDirs() map[system.System]string {
	dirs := make(map[system.System]string, len(system.All))
	for _, sys := range system.All {
		dirs[sys] = c.BundleDir(sys)
	}
	return dirs
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone '%s': %w", c.Timezone, err)
	}
	return loc, nil
}

// FeedHeaders returns the headers attached to realtime feed requests.
func (c *Config) FeedHeaders() map[string]string {
	if c.APIKey == "" {
		return nil
	}
	return map[string]string{"x-api-key": c.APIKey}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return fallback
}

func intenv(key string, fallback int) (int, error) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s '%s': %w", envPrefix, key, v, err)
	}
	return n, nil
}

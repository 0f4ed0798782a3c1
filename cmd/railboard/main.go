package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mtarail/railboard"
	"github.com/mtarail/railboard/analytics"
	"github.com/mtarail/railboard/config"
	"github.com/mtarail/railboard/feed"
	"github.com/mtarail/railboard/geo"
	"github.com/mtarail/railboard/index"
	"github.com/mtarail/railboard/refresh"
	"github.com/mtarail/railboard/system"
)

var rootCmd = &cobra.Command{
	Use:          "railboard",
	Short:        "MTA departures service",
	Long:         "Serves upcoming subway, LIRR and Metro-North departures by merging realtime feeds with static timetables",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(departuresCmd)
	rootCmd.AddCommand(rebuildCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level '%s': %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// app is the assembled service: configuration, compiler, fetcher, resolver.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	profiles *system.Profiles
	compiler *index.Compiler
	fetcher  *feed.Fetcher
	resolver *railboard.Resolver
	metrics  *analytics.Metrics
	refresh  *refresh.Orchestrator
}

func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	profiles := system.Defaults()
	if cfg.HasPlatformRewrites {
		profiles.SetPlatformRewrites(cfg.PlatformRewrites)
	}

	var locator *geo.Locator
	if _, statErr := os.Stat(cfg.GeoJSONPath); statErr == nil {
		locator, err = geo.Load(cfg.GeoJSONPath, cfg.GeoNameProperty)
		if err != nil {
			return nil, fmt.Errorf("loading geodata: %w", err)
		}
	} else {
		log.Warn("geodata file missing, borough lookup disabled",
			zap.String("path", cfg.GeoJSONPath))
	}

	compiler := index.NewCompiler(index.Config{
		Profiles:       profiles,
		BundleDirs:     cfg.BundleDirs(),
		StationCSVPath: cfg.StationCSVPath,
		Locator:        locator,
		Logger:         log,
	})

	fetcher := feed.NewFetcher(log)
	fetcher.TTL = cfg.FeedTTL
	fetcher.Headers = cfg.FeedHeaders()

	metrics := analytics.New()

	resolver := &railboard.Resolver{
		Profiles: profiles,
		Index:    compiler,
		Feeds:    fetcher,
		Tracker:  metrics,
		Log:      log,
		Location: loc,
	}

	sources := make([]refresh.Source, 0, len(system.All))
	for _, sys := range system.All {
		sources = append(sources, refresh.Source{
			System: sys,
			ZipURL: cfg.StaticZipURLs[sys],
			Dir:    cfg.BundleDir(sys),
			Cron:   cfg.RefreshCron,
		})
	}

	return &app{
		cfg:      cfg,
		log:      log,
		profiles: profiles,
		compiler: compiler,
		fetcher:  fetcher,
		resolver: resolver,
		metrics:  metrics,
		refresh: &refresh.Orchestrator{
			Sources: sources,
			Index:   compiler,
			Log:     log,
		},
	}, nil
}

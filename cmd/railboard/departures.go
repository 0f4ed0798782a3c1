package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mtarail/railboard"
)

var departuresCmd = &cobra.Command{
	Use:   "departures <station-key>",
	Short: "Print upcoming departures for a station (e.g. SUBWAY-L11)",
	Args:  cobra.ExactArgs(1),
	RunE:  departures,
}

var (
	limitMinutes int
	source       string
)

func init() {
	departuresCmd.Flags().IntVarP(&limitMinutes, "limit", "l", 60, "Window in minutes (0 for no limit)")
	departuresCmd.Flags().StringVarP(&source, "source", "s", "", "Restrict to 'realtime' or 'scheduled'")
}

func departures(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	if err := a.compiler.Rebuild(); err != nil {
		return fmt.Errorf("building index from '%s': %w", a.cfg.DataDir, err)
	}

	deps, err := a.resolver.DeparturesForStation(cmd.Context(), args[0],
		railboard.Options{LimitMinutes: limitMinutes, Source: source})
	if err != nil {
		return err
	}

	for _, d := range deps {
		when := "-"
		if d.EstimatedDepartureTime != nil {
			when = d.EstimatedDepartureTime.Format("15:04:05")
		}
		track := d.Track
		if track == "" {
			track = "-"
		}
		fmt.Printf("%-8s %-4s %-24s %-20s %-4s %s\n",
			when, d.RouteID, d.Destination, d.Direction, track, d.Status)
	}
	return nil
}

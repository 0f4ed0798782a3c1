package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Download fresh static bundles and compile the index once",
	RunE:  rebuild,
}

var fromDisk bool

func init() {
	rebuildCmd.Flags().BoolVar(&fromDisk, "from-disk", false, "Compile from the bundles already on disk without downloading")
}

func rebuild(cmd *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	if fromDisk {
		if err := a.compiler.Rebuild(); err != nil {
			return err
		}
	} else if err := a.refresh.Run(cmd.Context()); err != nil {
		return err
	}

	ix := a.compiler.Live()
	a.log.Info("index compiled",
		zap.Int("stops", len(ix.Stops)),
		zap.Int("routes", len(ix.Routes)),
		zap.Int("trips", len(ix.Trips)))
	return nil
}

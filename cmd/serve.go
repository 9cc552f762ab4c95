package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/avian-media/hlsorigin"
	"github.com/avian-media/hlsorigin/internal/config"
)

func init() {
	command := &cobra.Command{
		Use:   "serve",
		Short: "serve the HLS origin",
		Long:  `serve the HLS origin`,
		Run:   hlsorigin.Service.ServeCommand,
	}

	configs := []config.Config{
		hlsorigin.Service.ServerConfig,
	}

	cobra.OnInitialize(func() {
		for _, cfg := range configs {
			cfg.Set()
		}
		hlsorigin.Service.Preflight()
	})

	for _, cfg := range configs {
		if err := cfg.Init(command); err != nil {
			log.Panic().Err(err).Msg("unable to run serve command")
		}
	}

	rootCmd.AddCommand(command)
}

package hlsorigin

import (
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/avian-media/hlsorigin/internal/api"
	"github.com/avian-media/hlsorigin/internal/config"
	"github.com/avian-media/hlsorigin/internal/server"
)

var Service *Main

func init() {
	Service = &Main{
		ServerConfig: &config.Server{},
	}
}

type Main struct {
	ServerConfig *config.Server

	logger     zerolog.Logger
	apiManager *api.ManagerCtx
	server     *server.ServerManagerCtx
}

func (main *Main) Preflight() {
	main.logger = log.With().Str("service", "main").Logger()
}

func (main *Main) Start() {
	main.apiManager = api.New(main.ServerConfig)

	main.server = server.New(&server.Config{
		Bind:    main.ServerConfig.Bind,
		Static:  main.ServerConfig.Static,
		SSLCert: main.ServerConfig.Cert,
		SSLKey:  main.ServerConfig.Key,
		Proxy:   main.ServerConfig.Proxy,
		PProf:   main.ServerConfig.PProf,
	})

	main.server.Mount(main.apiManager.Routes)
	main.server.MountMetrics()

	main.server.Start()
}

func (main *Main) Shutdown() {
	main.apiManager.Shutdown()

	if err := main.server.Shutdown(); err != nil {
		main.logger.Err(err).Msg("server shutdown with an error")
	} else {
		main.logger.Debug().Msg("server shutdown")
	}
}

func (main *Main) ServeCommand(cmd *cobra.Command, args []string) {
	main.logger.Info().Msg("starting main server")
	main.Start()
	main.logger.Info().Msg("main ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	sig := <-quit

	main.logger.Warn().Msgf("received %s, attempting graceful shutdown", sig)
	main.Shutdown()
	main.logger.Info().Msg("shutdown complete")
}

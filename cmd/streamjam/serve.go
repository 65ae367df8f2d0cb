package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/streamjam/streamjam/examples/chat"
	"github.com/streamjam/streamjam/internal/config"
	"github.com/streamjam/streamjam/pkg/middleware"
	"github.com/streamjam/streamjam/pkg/pubsub"
	"github.com/streamjam/streamjam/pkg/server"
	"github.com/streamjam/streamjam/pkg/service"
)

func serveCmd() *cobra.Command {
	var (
		address    string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the built-in chat demo server",
		Long: `Run a StreamJam server hosting the chat demo application: a Counter
component and a Chat service broadcasting to the lobby room.

Configuration is read from streamjam.json in the working directory;
flags override it.

Examples:
  streamjam serve
  streamjam serve --address=0.0.0.0:9000
  streamjam serve --config=deploy/streamjam.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(address, configPath)
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "Listen address (default from streamjam.json)")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to streamjam.json")

	return cmd
}

func runServe(address, configPath string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load(".")
	}
	if err != nil {
		return err
	}
	if address != "" {
		cfg.Address = address
	}

	logger := cfg.Logger()

	serverConfig := cfg.ServerConfig()
	serverConfig.RPCMiddleware = []server.RPCMiddleware{
		middleware.OpenTelemetry(),
		middleware.Prometheus(),
	}

	broker := pubsub.New(&pubsub.Options{Logger: logger})
	services := service.NewRegistry(broker, &service.RegistryOptions{
		Logger:      logger,
		CallTimeout: serverConfig.ServiceCallTimeout,
	})
	chat.AddServices(services)

	srv := server.New(broker, services, chat.Types(), serverConfig, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting chat demo", "address", serverConfig.Address)
	return srv.Serve(ctx)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	libsimconnect_bridge "github.com/atframework/libsimconnect-go/bridge"
	error_code "github.com/atframework/libsimconnect-go/error_code"
)

type bridgeFlags struct {
	subscriptionFlags

	redisAddress string
	redisChannel string
	listen       string
	path         string
	stdout       bool
}

func newBridgeCommand(app *appContext) *cobra.Command {
	flags := &bridgeFlags{}

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Forward updates to Redis pub/sub and websocket clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(app)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			var sinks []libsimconnect_bridge.Sink
			closeSinks := func() {
				for _, sink := range sinks {
					sink.Close()
				}
			}

			redisOpts, useRedis := app.conf.ToRedisSinkOptions()
			if flags.redisAddress != "" {
				redisOpts.Address = flags.redisAddress
				useRedis = true
			}
			if flags.redisChannel != "" {
				redisOpts.Channel = flags.redisChannel
			}
			if useRedis {
				sink, err := libsimconnect_bridge.NewRedisSink(ctx, redisOpts, app.logger)
				if err != nil {
					return err
				}
				sinks = append(sinks, sink)
			}

			listen := app.conf.Bridge.WebSocketListen
			if flags.listen != "" {
				listen = flags.listen
			}
			if listen != "" {
				path := app.conf.Bridge.WebSocketPath
				if flags.path != "" {
					path = flags.path
				}
				hub := libsimconnect_bridge.NewWebSocketHub(&libsimconnect_bridge.WebSocketHubOptions{Path: path}, app.logger)
				if err := hub.Listen(listen); err != nil {
					closeSinks()
					return err
				}
				app.logger.Info("websocket hub listening", "address", hub.Address(), "path", path)
				sinks = append(sinks, hub)
			}

			if flags.stdout {
				sinks = append(sinks, &writerSink{out: cmd.OutOrStdout()})
			}
			if len(sinks) == 0 {
				return fmt.Errorf("no redis address, websocket listen address or --stdout: %w", error_code.EN_SIMCONNECT_ERR_PARAMS)
			}

			c, err := app.connect(ctx)
			if err != nil {
				closeSinks()
				return err
			}
			defer c.Close()

			b := libsimconnect_bridge.NewBridge(c, opts, sinks...)
			defer b.Close()
			err = b.Run(ctx)
			stats := b.Stats()
			app.logger.Info("bridge stopped", "published", stats.Published, "failed", stats.Failed, "dropped", stats.Dropped)
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&flags.redisAddress, "redis", "", "redis address, overrides bridge.redis_address")
	cmd.Flags().StringVar(&flags.redisChannel, "redis-channel", "", "redis pub/sub channel")
	cmd.Flags().StringVar(&flags.listen, "listen", "", "websocket listen address, overrides bridge.websocket_listen")
	cmd.Flags().StringVar(&flags.path, "path", "", "websocket path")
	cmd.Flags().BoolVar(&flags.stdout, "stdout", false, "also print updates")
	return cmd
}

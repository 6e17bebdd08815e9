package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	libsimconnect_config "github.com/atframework/libsimconnect-go/config"
	impl "github.com/atframework/libsimconnect-go/impl"
	types "github.com/atframework/libsimconnect-go/types"
)

type appContext struct {
	configPath string
	address    string
	appName    string

	conf     *libsimconnect_config.Configure
	logger   *slog.Logger
	closeLog func()
}

func (app *appContext) load() error {
	conf, err := libsimconnect_config.Load(app.configPath)
	if err != nil {
		return err
	}
	logger, closeLog, err := conf.BuildLogger()
	if err != nil {
		return err
	}

	app.conf = conf
	app.logger = logger
	app.closeLog = closeLog
	slog.SetDefault(logger)
	return nil
}

func (app *appContext) close() {
	if app.closeLog != nil {
		app.closeLog()
		app.closeLog = nil
	}
}

func (app *appContext) clientConfigure() (*types.ClientConfigure, error) {
	conf := &types.ClientConfigure{}
	if err := app.conf.ToClientConfigure(conf); err != nil {
		return nil, err
	}
	if app.address != "" {
		conf.Address = app.address
	}
	if app.appName != "" {
		conf.AppName = app.appName
	}
	return conf, nil
}

// connect creates a client from the configuration and performs the handshake.
func (app *appContext) connect(ctx context.Context) (*impl.Client, error) {
	conf, err := app.clientConfigure()
	if err != nil {
		return nil, err
	}

	c := impl.NewClient(conf, app.logger)
	if err := c.Connect(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("connect %s: %w", conf.Address, err)
	}

	info := c.GetHostInfo()
	if info != nil {
		app.logger.Info("connected", "address", conf.Address, "application", info.ApplicationName,
			"protocol_version", info.ProtocolVersion)
	}
	return c, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRootCommand() *cobra.Command {
	app := &appContext{}

	root := &cobra.Command{
		Use:           "simconnect",
		Short:         "Flight simulator SimConnect client, simulated host and update bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.close()
		},
	}
	root.PersistentFlags().StringVarP(&app.configPath, "config", "c", "", "configuration file, .yaml, .yml or .toml")
	root.PersistentFlags().StringVar(&app.address, "address", "", "host address, overrides client.address")
	root.PersistentFlags().StringVar(&app.appName, "app-name", "", "application name sent in the handshake")

	root.AddCommand(
		newShellCommand(app),
		newHostCommand(app),
		newWatchCommand(app),
		newBridgeCommand(app),
	)
	return root
}

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "simconnect:", err)
		os.Exit(1)
	}
}

// Package main is the polip application entrypoint.
package main

import (
	"context"
	"fmt"

	"polip/internal"
	"polip/internal/app/apps"
	"polip/internal/app/cfg"
	"polip/internal/pkg/log"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// CLI command definitions.
var (
	logger logrus.FieldLogger = logrus.StandardLogger()

	rootCmd = &cobra.Command{
		RunE: func(*cobra.Command, []string) error {
			return nil
		},
	}

	deviceCmd = &cobra.Command{
		Use:   "device",
		Short: "Runs the device sync loop against an ingest server.",
		RunE:  runCmd,
	}

	serverCmd = &cobra.Command{
		Use:   "server",
		Short: "Serves the in-memory ingest server.",
		RunE:  runCmd,
	}
)

func newApp(_ context.Context, cmd *cobra.Command, args []string) (apps.App, []string, error) {
	var err error
	var app apps.App
	switch cmd.Name() {
	case "device":
		app, err = apps.NewDeviceApp(
			cfg.ServerURLFromEnv(),
			cfg.DeviceFileFromEnv(),
			cfg.LoopFromEnv(),
		)
		if err != nil {
			return nil, nil, errors.Wrap(err, "new device app failed")
		}
		return app, args, nil
	case "server":
		app, err = apps.NewServerApp(
			cfg.PortFromEnv(),
			cfg.DeviceFileFromEnv(),
		)
		if err != nil {
			return nil, nil, errors.Wrap(err, "new server app failed")
		}
		return app, args, nil
	default:
		return nil, nil, fmt.Errorf("unknown command: %s", cmd.Name())
	}
}

func runCmd(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if err := envCheck(ctx); err != nil {
		return errors.Wrap(err, "env check failed")
	}
	app, args, err := newApp(ctx, cmd, args)
	if err != nil {
		return errors.Wrapf(err, "new %s app failed", cmd.Name())
	}
	return errors.Wrap(app.Run(ctx, args), "run app failed")
}

func envCheck(_ context.Context) error {
	if err := internal.ValidateEnv(); err != nil {
		return errors.Wrap(err, "validate env failed")
	}
	log.SetLogger(internal.LogLevel)
	return nil
}

func init() {
	err := internal.RegisterCommandFlags(rootCmd, []*internal.Flag{
		&internal.EnvFlag,
		&internal.LogLevelFlag,
		&internal.DeviceFileFlag,
	})
	if err != nil {
		logger.Fatalln(err)
	}

	err = internal.RegisterCommandFlags(deviceCmd, []*internal.Flag{
		&internal.ServerURLFlag,
		&internal.TickMSFlag,
		&internal.RPCCapacityFlag,
	})
	if err != nil {
		logger.Fatalln(err)
	}

	err = internal.RegisterCommandFlags(serverCmd, []*internal.Flag{
		&internal.PortFlag,
	})
	if err != nil {
		logger.Fatalln(err)
	}

	rootCmd.AddCommand(
		deviceCmd,
		serverCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal(errors.Wrap(err, "execute root command failed"))
	}
}

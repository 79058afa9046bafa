package internal

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Flag declares one CLI flag bound to a configuration value. The
// environment variable, when set, supplies the default.
type Flag struct {
	Name   string
	Usage  string
	EnvVar string
	Target interface{}
}

// Flag definitions shared across commands.
var (
	EnvFlag = Flag{
		Name:   "env",
		Usage:  "deployment environment (development, staging, production)",
		EnvVar: "POLIP_ENV",
		Target: &Env,
	}
	LogLevelFlag = Flag{
		Name:   "log-level",
		Usage:  "log level (trace, debug, info, warn, error)",
		EnvVar: "POLIP_LOG_LEVEL",
		Target: &LogLevel,
	}
	PortFlag = Flag{
		Name:   "port",
		Usage:  "ingest server listen port",
		EnvVar: "POLIP_PORT",
		Target: &Port,
	}
	ServerURLFlag = Flag{
		Name:   "server-url",
		Usage:  "ingest server base URL",
		EnvVar: "POLIP_SERVER_URL",
		Target: &ServerURL,
	}
	DeviceFileFlag = Flag{
		Name:   "device-file",
		Usage:  "path to the YAML device profile",
		EnvVar: "POLIP_DEVICE_FILE",
		Target: &DeviceFile,
	}
	TickMSFlag = Flag{
		Name:   "tick-ms",
		Usage:  "sync loop tick interval in milliseconds",
		EnvVar: "POLIP_TICK_MS",
		Target: &TickMS,
	}
	RPCCapacityFlag = Flag{
		Name:   "rpc-capacity",
		Usage:  "fixed capacity of the RPC arena",
		EnvVar: "POLIP_RPC_CAPACITY",
		Target: &RPCCapacity,
	}
)

// RegisterCommandFlags registers the given flags on the command,
// resolving environment defaults first.
func RegisterCommandFlags(cmd *cobra.Command, flags []*Flag) error {
	for _, f := range flags {
		if err := f.register(cmd); err != nil {
			return errors.Wrapf(err, "register flag %s failed", f.Name)
		}
	}
	return nil
}

func (f *Flag) register(cmd *cobra.Command) error {
	raw, fromEnv := os.LookupEnv(f.EnvVar)
	switch target := f.Target.(type) {
	case *string:
		if fromEnv {
			*target = raw
		}
		cmd.PersistentFlags().StringVar(target, f.Name, *target, f.Usage)
	case *int:
		if fromEnv {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				return errors.Wrapf(err, "parse %s failed", f.EnvVar)
			}
			*target = parsed
		}
		cmd.PersistentFlags().IntVar(target, f.Name, *target, f.Usage)
	case *uint16:
		if fromEnv {
			parsed, err := strconv.ParseUint(raw, 10, 16)
			if err != nil {
				return errors.Wrapf(err, "parse %s failed", f.EnvVar)
			}
			*target = uint16(parsed)
		}
		cmd.PersistentFlags().Uint16Var(target, f.Name, *target, f.Usage)
	case *bool:
		if fromEnv {
			parsed, err := strconv.ParseBool(raw)
			if err != nil {
				return errors.Wrapf(err, "parse %s failed", f.EnvVar)
			}
			*target = parsed
		}
		cmd.PersistentFlags().BoolVar(target, f.Name, *target, f.Usage)
	default:
		return fmt.Errorf("unsupported flag target type %T", f.Target)
	}
	return nil
}

// Package internal holds process-wide configuration sourced from flags
// and the environment.
package internal

import (
	"polip/internal/pkg/validate"

	"github.com/pkg/errors"
)

// Configuration values bound to flags at registration time. Environment
// variables provide the defaults; flags override.
var (
	Env         = "development"
	LogLevel    = "info"
	Port        uint16 = 3021
	ServerURL          = "http://localhost:3021"
	DeviceFile         = "device.yaml"
	TickMS             = 1000
	RPCCapacity        = 4
)

// env mirrors the package vars for struct-tag validation.
type env struct {
	Env         string `validate:"required,oneof=development staging production"`
	LogLevel    string `validate:"required,oneof=trace debug info warn error"`
	Port        uint16 `validate:"required"`
	ServerURL   string `validate:"required,url"`
	DeviceFile  string `validate:"required"`
	TickMS      int    `validate:"required,gt=0"`
	RPCCapacity int    `validate:"required,gt=0"`
}

// ValidateEnv checks the current configuration values.
func ValidateEnv() error {
	e := env{
		Env:         Env,
		LogLevel:    LogLevel,
		Port:        Port,
		ServerURL:   ServerURL,
		DeviceFile:  DeviceFile,
		TickMS:      TickMS,
		RPCCapacity: RPCCapacity,
	}
	if err := validate.Validate().Struct(e); err != nil {
		return errors.Wrap(err, "validate env failed")
	}
	return nil
}

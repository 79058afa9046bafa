// Package cfg implements functionality to configure an app.
//
// The configuration objects defined here need only be implemented once,
// but can be applied to multiple types. In order to add support for a
// new type, the configuration need only implement an ApplyX method.
package cfg

import (
	"polip/internal"
	"polip/internal/app/apps"
)

// ServerURLCfg is configuration for the ingest server base URL.
type ServerURLCfg struct {
	url string
}

// NewServerURLCfg creates a new ServerURLCfg from the given URL.
func NewServerURLCfg(url string) *ServerURLCfg {
	return &ServerURLCfg{url: url}
}

// ServerURLFromEnv creates a new ServerURLCfg from the current
// environment.
func ServerURLFromEnv() *ServerURLCfg {
	return &ServerURLCfg{url: internal.ServerURL}
}

// ApplyDeviceApp applies the ServerURLCfg to a DeviceApp.
func (cfg ServerURLCfg) ApplyDeviceApp(app *apps.DeviceApp) error {
	app.ServerURL = cfg.url
	return nil
}

// PortCfg is configuration for the ingest server listen port.
type PortCfg struct {
	port uint16
}

// NewPortCfg creates a new PortCfg from the given port.
func NewPortCfg(port uint16) *PortCfg {
	return &PortCfg{port: port}
}

// PortFromEnv creates a new PortCfg from the current environment.
func PortFromEnv() *PortCfg {
	return &PortCfg{port: internal.Port}
}

// ApplyServerApp applies the PortCfg to a ServerApp.
func (cfg PortCfg) ApplyServerApp(app *apps.ServerApp) error {
	app.Port = cfg.port
	return nil
}

// DeviceFileCfg is configuration for the YAML device profile path.
type DeviceFileCfg struct {
	path string
}

// NewDeviceFileCfg creates a new DeviceFileCfg from the given path.
func NewDeviceFileCfg(path string) *DeviceFileCfg {
	return &DeviceFileCfg{path: path}
}

// DeviceFileFromEnv creates a new DeviceFileCfg from the current
// environment.
func DeviceFileFromEnv() *DeviceFileCfg {
	return &DeviceFileCfg{path: internal.DeviceFile}
}

// ApplyDeviceApp applies the DeviceFileCfg to a DeviceApp.
func (cfg DeviceFileCfg) ApplyDeviceApp(app *apps.DeviceApp) error {
	app.DeviceFile = cfg.path
	return nil
}

// ApplyServerApp applies the DeviceFileCfg to a ServerApp.
func (cfg DeviceFileCfg) ApplyServerApp(app *apps.ServerApp) error {
	app.DeviceFile = cfg.path
	return nil
}

// LoopCfg is configuration for the sync loop cadence and RPC capacity.
type LoopCfg struct {
	tickMS      int
	rpcCapacity int
}

// NewLoopCfg creates a new LoopCfg from the given values.
func NewLoopCfg(tickMS, rpcCapacity int) *LoopCfg {
	return &LoopCfg{tickMS: tickMS, rpcCapacity: rpcCapacity}
}

// LoopFromEnv creates a new LoopCfg from the current environment.
func LoopFromEnv() *LoopCfg {
	return &LoopCfg{tickMS: internal.TickMS, rpcCapacity: internal.RPCCapacity}
}

// ApplyDeviceApp applies the LoopCfg to a DeviceApp.
func (cfg LoopCfg) ApplyDeviceApp(app *apps.DeviceApp) error {
	app.TickMS = cfg.tickMS
	app.RPCCapacity = cfg.rpcCapacity
	return nil
}

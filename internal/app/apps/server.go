package apps

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"polip/internal/pkg/ingest"
	"polip/internal/pkg/validate"

	"github.com/pkg/errors"
)

// ServerAppCfg configures a ServerApp.
type ServerAppCfg interface {
	ApplyServerApp(*ServerApp) error
}

// ServerApp serves the in-memory ingest server for local development.
// Devices listed in the profile file are pre-registered.
type ServerApp struct {
	Port       uint16 `validate:"required"`
	DeviceFile string `validate:"required"`
}

// NewServerApp creates a new ServerApp.
func NewServerApp(cfgs ...ServerAppCfg) (*ServerApp, error) {
	app := &ServerApp{}
	for _, cfg := range cfgs {
		if err := cfg.ApplyServerApp(app); err != nil {
			return nil, errors.Wrap(err, "apply ServerApp cfg failed")
		}
	}
	if err := validate.Validate().Struct(app); err != nil {
		return nil, errors.Wrap(err, "validate ServerApp failed")
	}
	return app, nil
}

// Run serves the ingest API until the context is canceled.
func (app *ServerApp) Run(ctx context.Context, _ []string) error {
	profile, err := LoadProfile(app.DeviceFile)
	if err != nil {
		return errors.Wrap(err, "load device profile failed")
	}

	srv := ingest.NewServer()
	srv.Register(profile.Serial, []byte(profile.Key), profile.SkipTagCheck)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.Port),
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	logger.WithField("port", app.Port).Info("ingest server started")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown ingest server failed")
		}
		return nil
	case err := <-errCh:
		return errors.Wrap(err, "serve ingest failed")
	}
}

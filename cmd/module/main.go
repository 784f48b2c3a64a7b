// Command module hosts a cartesianmotion controller: it loads the
// configuration file, builds the controller through the registry, wires
// the configured hardware adapter and MQTT transport, and runs the
// control loop until interrupted.
package main

import (
	"context"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"

	"cartesianmotion"
)

func main() {
	logger := logging.NewLogger("cartesianmotion")
	goutils.ContextualMain(mainWithArgs, logger)
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	configPath := "config.json"
	if len(args) > 1 {
		configPath = args[1]
	}

	cfg, err := cartesianmotion.LoadConfig(configPath, logger)
	if err != nil {
		return err
	}

	deps, cleanup, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctrl, err := cartesianmotion.DefaultRegistry.Build(cfg, deps, logger)
	if err != nil {
		return err
	}
	defer func() {
		goutils.UncheckedError(ctrl.Close(context.Background()))
	}()

	if cfg.MQTT != nil {
		transport, err := cartesianmotion.NewMQTTTransport(*cfg.MQTT, ctrl, logger)
		if err != nil {
			return err
		}
		defer transport.Close()
		ctrl.SetStatusPublisher(transport)
	}

	if err := ctrl.Activate(ctx); err != nil {
		return err
	}
	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// buildDeps assembles the hardware adapter from the config. Exactly one
// of serial or can must be configured; the MQTT transport doubles as
// the status publisher when present.
func buildDeps(ctx context.Context, cfg *cartesianmotion.Config, logger logging.Logger) (cartesianmotion.Deps, func(), error) {
	var deps cartesianmotion.Deps
	cleanup := func() {}

	switch {
	case cfg.Serial != nil && cfg.CAN != nil:
		return deps, cleanup, errors.New("configure either a serial or a can adapter, not both")
	case cfg.Serial != nil:
		bus, err := cartesianmotion.NewSerialBus(*cfg.Serial, cfg.DOF(), logger)
		if err != nil {
			return deps, cleanup, err
		}
		deps.Command = bus
		deps.State = bus
		cleanup = func() { goutils.UncheckedError(bus.Close()) }
	case cfg.CAN != nil:
		adapter, err := cartesianmotion.NewCANCommand(ctx, *cfg.CAN, cfg.DOF(), logger)
		if err != nil {
			return deps, cleanup, err
		}
		deps.Command = adapter
		cleanup = func() { goutils.UncheckedError(adapter.Close()) }
	default:
		return deps, cleanup, errors.New("no hardware adapter configured")
	}

	deps.Sampler = cartesianmotion.NewLinearSampler()
	return deps, cleanup, nil
}

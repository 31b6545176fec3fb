package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/skyrelay/cmd/skyrelay-controller/app/options"
	"github.com/autopeer-io/skyrelay/pkg/app"
)

const (
	commandName = "skyrelay-controller"
	commandDesc = `The skyrelay controller flies one mission: it checks the battery,
takes off, sends the configured command sequence through the broker to the
relay agent and lands, printing a report of every command.`
)

func NewApp() *app.App {
	opts := options.NewControllerOptions()
	application := app.NewApp(
		commandName,
		"Fly a command sequence through the skyrelay broker",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.ControllerOptions) app.RunFunc {
	return func() error {
		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		ctrl, err := cfg.NewController()
		if err != nil {
			return fmt.Errorf("failed to create controller: %w", err)
		}

		return ctrl.Run(ctx)
	}
}

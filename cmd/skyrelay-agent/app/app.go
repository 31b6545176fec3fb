package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/skyrelay/cmd/skyrelay-agent/app/options"
	"github.com/autopeer-io/skyrelay/pkg/app"
)

const (
	commandName = "skyrelay-agent"
	commandDesc = `The skyrelay agent runs next to the vehicle. It consumes commands
from the broker, forwards each one to the vehicle over UDP and publishes the
vehicle's reply back to the controller.`
)

func NewApp() *app.App {
	opts := options.NewAgentOptions()
	application := app.NewApp(
		commandName,
		"Relay broker commands to the vehicle",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.AgentOptions) app.RunFunc {
	return func() error {
		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		return agent.Run(ctx)
	}
}

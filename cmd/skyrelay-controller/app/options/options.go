package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/skyrelay/internal/flightcontroller"
	"github.com/autopeer-io/skyrelay/pkg/app"
	"github.com/autopeer-io/skyrelay/pkg/log"
	"github.com/autopeer-io/skyrelay/pkg/options"
)

type ControllerOptions struct {
	BrokerOptions *options.BrokerOptions `json:"broker" mapstructure:"broker"`
	FlightOptions *options.FlightOptions `json:"flight" mapstructure:"flight"`
	HttpOptions   *options.HttpOptions   `json:"http" mapstructure:"http"`
	Log           *log.Options           `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*ControllerOptions)(nil)

func NewControllerOptions() *ControllerOptions {
	return &ControllerOptions{
		BrokerOptions: options.NewBrokerOptions(),
		FlightOptions: options.NewFlightOptions(),
		HttpOptions:   options.NewHttpOptions(":9090"),
		Log:           log.NewOptions(),
	}
}

func (o *ControllerOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.BrokerOptions.AddFlags(fss.FlagSet("broker"))
	o.FlightOptions.AddFlags(fss.FlagSet("flight"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *ControllerOptions) Complete() error {
	return nil
}

func (o *ControllerOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.BrokerOptions.Validate()...)
	errs = append(errs, o.FlightOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *ControllerOptions) LogOptions() *log.Options {
	return o.Log
}

func (o *ControllerOptions) Config() (*flightcontroller.Config, error) {
	return &flightcontroller.Config{
		BrokerOptions: o.BrokerOptions,
		FlightOptions: o.FlightOptions,
		HttpOptions:   o.HttpOptions,
	}, nil
}

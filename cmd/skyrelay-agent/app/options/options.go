package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/skyrelay/internal/relayagent"
	"github.com/autopeer-io/skyrelay/pkg/app"
	"github.com/autopeer-io/skyrelay/pkg/log"
	"github.com/autopeer-io/skyrelay/pkg/options"
)

type AgentOptions struct {
	BrokerOptions *options.BrokerOptions `json:"broker" mapstructure:"broker"`
	DeviceOptions *options.DeviceOptions `json:"device" mapstructure:"device"`
	HttpOptions   *options.HttpOptions   `json:"http" mapstructure:"http"`
	Log           *log.Options           `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*AgentOptions)(nil)

func NewAgentOptions() *AgentOptions {
	return &AgentOptions{
		BrokerOptions: options.NewBrokerOptions(),
		DeviceOptions: options.NewDeviceOptions(),
		HttpOptions:   options.NewHttpOptions(":9091"),
		Log:           log.NewOptions(),
	}
}

func (o *AgentOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.BrokerOptions.AddFlags(fss.FlagSet("broker"))
	o.DeviceOptions.AddFlags(fss.FlagSet("device"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *AgentOptions) Complete() error {
	return nil
}

func (o *AgentOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.BrokerOptions.Validate()...)
	errs = append(errs, o.DeviceOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *AgentOptions) LogOptions() *log.Options {
	return o.Log
}

func (o *AgentOptions) Config() (*relayagent.Config, error) {
	return &relayagent.Config{
		BrokerOptions: o.BrokerOptions,
		DeviceOptions: o.DeviceOptions,
		HttpOptions:   o.HttpOptions,
	}, nil
}

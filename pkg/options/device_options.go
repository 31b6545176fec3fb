package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/skyrelay/pkg/device"
)

var _ IOptions = (*DeviceOptions)(nil)

// DeviceOptions describes the vehicle's UDP endpoint.
type DeviceOptions struct {
	Address   string `json:"address" mapstructure:"address"`
	LocalAddr string `json:"local-addr" mapstructure:"local-addr"`

	// ReplyPort is the only source port replies are accepted from.
	// Zero means the port of Address.
	ReplyPort int `json:"reply-port" mapstructure:"reply-port"`

	// Timeout bounds each relayed exchange.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// NewDeviceOptions creates a new DeviceOptions with default values.
func NewDeviceOptions() *DeviceOptions {
	return &DeviceOptions{
		Address:   "192.168.10.1:8889",
		LocalAddr: "0.0.0.0:8889",
		Timeout:   5 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *DeviceOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if err := ValidateAddress(o.Address); err != nil {
		errors = append(errors, fmt.Errorf("--device.address: %w", err))
	}
	if err := ValidateAddress(o.LocalAddr); err != nil {
		errors = append(errors, fmt.Errorf("--device.local-addr: %w", err))
	}
	if o.ReplyPort < 0 || o.ReplyPort > 65535 {
		errors = append(errors, fmt.Errorf("--device.reply-port %d is not a valid port", o.ReplyPort))
	}
	if o.Timeout <= 0 {
		errors = append(errors, fmt.Errorf("--device.timeout must be positive"))
	}

	return errors
}

// AddFlags adds flags for DeviceOptions to the specified FlagSet.
func (o *DeviceOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Address, flagName("device.address", prefixes...), o.Address, "UDP command address of the vehicle.")
	fs.StringVar(&o.LocalAddr, flagName("device.local-addr", prefixes...), o.LocalAddr, "Local address the control port binds to.")
	fs.IntVar(&o.ReplyPort, flagName("device.reply-port", prefixes...), o.ReplyPort, "Source port replies must come from. 0 means the vehicle command port.")
	fs.DurationVar(&o.Timeout, flagName("device.timeout", prefixes...), o.Timeout, "How long to wait for the vehicle to answer a relayed command.")
}

// ToConfig returns the device link configuration.
func (o *DeviceOptions) ToConfig() device.Config {
	return device.Config{
		Address:   o.Address,
		LocalAddr: o.LocalAddr,
		ReplyPort: o.ReplyPort,
	}
}

package options

import (
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HttpOptions)(nil)

// HttpOptions configures the health and metrics endpoint.
type HttpOptions struct {
	// Addr is the bind address. An empty address disables the server.
	Addr string `json:"addr" mapstructure:"addr"`

	// ShutdownTimeout bounds the graceful shutdown of the server.
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewHttpOptions creates a HttpOptions object listening on addr.
func NewHttpOptions(addr string) *HttpOptions {
	return &HttpOptions{
		Addr:            addr,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *HttpOptions) Validate() []error {
	if o == nil || o.Addr == "" {
		return nil
	}

	errors := []error{}

	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, err)
	}

	return errors
}

// AddFlags adds flags for the health and metrics server to the specified FlagSet.
func (o *HttpOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, flagName("http.addr", prefixes...), o.Addr, "Bind address for /healthz, /readyz and /metrics. Empty disables the server.")
	fs.DurationVar(&o.ShutdownTimeout, flagName("http.shutdown-timeout", prefixes...), o.ShutdownTimeout, "Grace period for in-flight HTTP requests on shutdown.")
}

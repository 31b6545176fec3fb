package options

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/pflag"
)

// IOptions is implemented by every option group in this package.
type IOptions interface {
	// Validate returns every problem found, not only the first one.
	Validate() []error

	// AddFlags registers the group's flags on fs.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// ValidateAddress checks that addr is a host:port pair with a usable port.
// An empty host is accepted and means all interfaces.
func ValidateAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%q is not a valid address: %w", addr, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("%q has an invalid port", addr)
	}
	return nil
}

func flagName(name string, prefixes ...string) string {
	if len(prefixes) > 0 && prefixes[0] != "" {
		return prefixes[0] + "." + name
	}
	return name
}

package mqtt

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds the configuration for dialing an MQTT broker.
type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// TopicRoot is the namespace both queues live under.
	TopicRoot string

	// KeepAlive in seconds. Default is 60.
	KeepAlive uint16

	// SessionExpiry in seconds. The broker keeps QoS 1 messages for an
	// offline client for this long. Default is one day.
	SessionExpiry uint32

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
}

// setDefaultConfig applies safe default values to the configuration.
func setDefaultConfig(cfg *Config) {
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60
	}
	if cfg.SessionExpiry == 0 {
		cfg.SessionExpiry = uint32((24 * time.Hour).Seconds())
	}
	if cfg.TopicRoot == "" {
		cfg.TopicRoot = "skyrelay"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	if c.ClientID == "" {
		return errors.New("client id is required for a persistent session")
	}
	u, err := url.Parse(c.BrokerURL)
	if err != nil {
		return err
	}
	if !IsScheme(u.Scheme) {
		return fmt.Errorf("unsupported mqtt scheme %q", u.Scheme)
	}
	return nil
}

// IsScheme reports whether scheme names an MQTT transport.
func IsScheme(scheme string) bool {
	switch scheme {
	case "tcp", "mqtt", "ssl", "tls", "mqtts":
		return true
	}
	return false
}

func isTLS(scheme string) bool {
	return scheme == "ssl" || scheme == "tls" || scheme == "mqtts"
}

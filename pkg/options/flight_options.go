package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/skyrelay/internal/command"
)

var _ IOptions = (*FlightOptions)(nil)

// FlightOptions tunes the flight orchestrator.
type FlightOptions struct {
	MinBatteryLevel       int `json:"min-battery-level" mapstructure:"min-battery-level"`
	MinHeightAfterTakeoff int `json:"min-height-after-takeoff" mapstructure:"min-height-after-takeoff"`

	MinDistance int `json:"min-distance" mapstructure:"min-distance"`
	MaxDistance int `json:"max-distance" mapstructure:"max-distance"`
	MinAngle    int `json:"min-angle" mapstructure:"min-angle"`
	MaxAngle    int `json:"max-angle" mapstructure:"max-angle"`

	DefaultTimeout time.Duration `json:"default-timeout" mapstructure:"default-timeout"`
	TakeoffTimeout time.Duration `json:"takeoff-timeout" mapstructure:"takeoff-timeout"`
	LandingTimeout time.Duration `json:"landing-timeout" mapstructure:"landing-timeout"`

	MaxCommandRetries  int `json:"max-command-retries" mapstructure:"max-command-retries"`
	MaxTakeoffAttempts int `json:"max-takeoff-attempts" mapstructure:"max-takeoff-attempts"`

	CommandInterval    time.Duration `json:"command-interval" mapstructure:"command-interval"`
	RetryInterval      time.Duration `json:"retry-interval" mapstructure:"retry-interval"`
	StabilizationDelay time.Duration `json:"stabilization-delay" mapstructure:"stabilization-delay"`
	ReadyTimeout       time.Duration `json:"ready-timeout" mapstructure:"ready-timeout"`

	// Sequence is flown between takeoff and landing.
	Sequence []string `json:"sequence" mapstructure:"sequence"`
}

// DefaultSequence flies a square.
var DefaultSequence = []string{
	"forward 50", "cw 90",
	"forward 50", "cw 90",
	"forward 50", "cw 90",
	"forward 50", "cw 90",
}

// NewFlightOptions creates a new FlightOptions with default values.
func NewFlightOptions() *FlightOptions {
	return &FlightOptions{
		MinBatteryLevel:       20,
		MinHeightAfterTakeoff: 20,
		MinDistance:           20,
		MaxDistance:           500,
		MinAngle:              1,
		MaxAngle:              360,
		DefaultTimeout:        7 * time.Second,
		TakeoffTimeout:        20 * time.Second,
		LandingTimeout:        15 * time.Second,
		MaxCommandRetries:     3,
		MaxTakeoffAttempts:    3,
		CommandInterval:       2 * time.Second,
		RetryInterval:         time.Second,
		StabilizationDelay:    3 * time.Second,
		ReadyTimeout:          30 * time.Second,
		Sequence:              append([]string(nil), DefaultSequence...),
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *FlightOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.MinBatteryLevel < 0 || o.MinBatteryLevel > 100 {
		errors = append(errors, fmt.Errorf("--flight.min-battery-level must be within [0, 100]"))
	}
	if o.MinHeightAfterTakeoff < 0 {
		errors = append(errors, fmt.Errorf("--flight.min-height-after-takeoff must not be negative"))
	}
	if o.MinDistance > o.MaxDistance {
		errors = append(errors, fmt.Errorf("--flight.min-distance %d exceeds --flight.max-distance %d", o.MinDistance, o.MaxDistance))
	}
	if o.MinAngle > o.MaxAngle {
		errors = append(errors, fmt.Errorf("--flight.min-angle %d exceeds --flight.max-angle %d", o.MinAngle, o.MaxAngle))
	}
	if o.MaxCommandRetries < 1 {
		errors = append(errors, fmt.Errorf("--flight.max-command-retries must be at least 1"))
	}
	if o.MaxTakeoffAttempts < 1 {
		errors = append(errors, fmt.Errorf("--flight.max-takeoff-attempts must be at least 1"))
	}
	for name, d := range map[string]time.Duration{
		"default-timeout": o.DefaultTimeout,
		"takeoff-timeout": o.TakeoffTimeout,
		"landing-timeout": o.LandingTimeout,
		"ready-timeout":   o.ReadyTimeout,
	} {
		if d <= 0 {
			errors = append(errors, fmt.Errorf("--flight.%s must be positive", name))
		}
	}

	if _, err := o.ParseSequence(); err != nil {
		errors = append(errors, err)
	}

	return errors
}

// AddFlags adds flags for FlightOptions to the specified FlagSet.
func (o *FlightOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.MinBatteryLevel, flagName("flight.min-battery-level", prefixes...), o.MinBatteryLevel, "Minimum battery percentage required to take off.")
	fs.IntVar(&o.MinHeightAfterTakeoff, flagName("flight.min-height-after-takeoff", prefixes...), o.MinHeightAfterTakeoff, "Minimum height in cm confirming a takeoff.")
	fs.IntVar(&o.MinDistance, flagName("flight.min-distance", prefixes...), o.MinDistance, "Smallest movement distance in cm.")
	fs.IntVar(&o.MaxDistance, flagName("flight.max-distance", prefixes...), o.MaxDistance, "Largest movement distance in cm.")
	fs.IntVar(&o.MinAngle, flagName("flight.min-angle", prefixes...), o.MinAngle, "Smallest rotation in degrees.")
	fs.IntVar(&o.MaxAngle, flagName("flight.max-angle", prefixes...), o.MaxAngle, "Largest rotation in degrees.")

	fs.DurationVar(&o.DefaultTimeout, flagName("flight.default-timeout", prefixes...), o.DefaultTimeout, "Reply timeout for ordinary commands.")
	fs.DurationVar(&o.TakeoffTimeout, flagName("flight.takeoff-timeout", prefixes...), o.TakeoffTimeout, "Reply timeout for takeoff.")
	fs.DurationVar(&o.LandingTimeout, flagName("flight.landing-timeout", prefixes...), o.LandingTimeout, "Reply timeout for land.")
	fs.IntVar(&o.MaxCommandRetries, flagName("flight.max-command-retries", prefixes...), o.MaxCommandRetries, "Attempts per command before the flight is aborted.")
	fs.IntVar(&o.MaxTakeoffAttempts, flagName("flight.max-takeoff-attempts", prefixes...), o.MaxTakeoffAttempts, "Takeoff attempts before the flight is aborted.")

	fs.DurationVar(&o.CommandInterval, flagName("flight.command-interval", prefixes...), o.CommandInterval, "Pause after each successful command.")
	fs.DurationVar(&o.RetryInterval, flagName("flight.retry-interval", prefixes...), o.RetryInterval, "Pause before resending a failed command.")
	fs.DurationVar(&o.StabilizationDelay, flagName("flight.stabilization-delay", prefixes...), o.StabilizationDelay, "Pause after takeoff before checking the height.")
	fs.DurationVar(&o.ReadyTimeout, flagName("flight.ready-timeout", prefixes...), o.ReadyTimeout, "How long to wait for the first broker connection.")

	fs.StringSliceVar(&o.Sequence, flagName("flight.sequence", prefixes...), o.Sequence, "Commands flown between takeoff and landing, e.g. 'forward 50,cw 90'.")
}

// ToLimits returns the command argument limits.
func (o *FlightOptions) ToLimits() command.Limits {
	return command.Limits{
		MinDistance: o.MinDistance,
		MaxDistance: o.MaxDistance,
		MinAngle:    o.MinAngle,
		MaxAngle:    o.MaxAngle,
	}
}

// ParseSequence parses Sequence. Range checks happen at flight time so an
// out-of-range command aborts the flight the way a rejected one would.
func (o *FlightOptions) ParseSequence() ([]command.Command, error) {
	seq := make([]command.Command, 0, len(o.Sequence))
	for i, s := range o.Sequence {
		c, err := command.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("--flight.sequence[%d]: %w", i, err)
		}
		seq = append(seq, c)
	}
	return seq, nil
}

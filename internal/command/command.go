// Package command defines the textual vehicle command vocabulary: parsing,
// local range validation and classification of vehicle replies.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Verbs understood by the vehicle.
const (
	VerbSDK     = "command"
	VerbTakeoff = "takeoff"
	VerbLand    = "land"
	VerbBattery = "battery?"
	VerbHeight  = "height?"

	VerbForward = "forward"
	VerbBack    = "back"
	VerbLeft    = "left"
	VerbRight   = "right"
	VerbUp      = "up"
	VerbDown    = "down"

	VerbClockwise        = "cw"
	VerbCounterClockwise = "ccw"
)

var (
	// ErrMalformed is returned for text that is not "verb" or "verb <integer>".
	ErrMalformed = errors.New("malformed command")

	// ErrOutOfRange is returned when an argument falls outside configured limits.
	ErrOutOfRange = errors.New("argument out of range")
)

var (
	movementVerbs = map[string]struct{}{
		VerbForward: {}, VerbBack: {}, VerbLeft: {}, VerbRight: {}, VerbUp: {}, VerbDown: {},
	}
	rotationVerbs = map[string]struct{}{
		VerbClockwise: {}, VerbCounterClockwise: {},
	}
)

// Command is an immutable vehicle command. It has no identity beyond its
// position in a sequence.
type Command struct {
	verb     string
	argument *int
	raw      string
}

// New returns a command without an argument.
func New(verb string) Command {
	return Command{verb: verb}
}

// WithArgument returns a command carrying an integer argument.
func WithArgument(verb string, arg int) Command {
	return Command{verb: verb, argument: &arg}
}

var (
	Takeoff = New(VerbTakeoff)
	Land    = New(VerbLand)
	Battery = New(VerbBattery)
	Height  = New(VerbHeight)
	SDK     = New(VerbSDK)
)

// Parse decodes "verb" or "verb <argument>". A second token that is not an
// integer is kept on the returned command so validation can report it; Parse
// itself only rejects empty input and more than two tokens.
func Parse(s string) (Command, error) {
	fields := strings.Fields(strings.ToLower(s))
	switch len(fields) {
	case 1:
		return Command{verb: fields[0]}, nil
	case 2:
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return Command{verb: fields[0], raw: fields[1]}, nil
		}
		return Command{verb: fields[0], argument: &n}, nil
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
}

// MustParse is Parse for literals known to be well formed.
func MustParse(s string) Command {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Verb returns the command verb.
func (c Command) Verb() string { return c.verb }

// Argument returns the integer argument, if any.
func (c Command) Argument() (int, bool) {
	if c.argument == nil {
		return 0, false
	}
	return *c.argument, true
}

// HasArgument reports whether any argument text was supplied, numeric or not.
func (c Command) HasArgument() bool { return c.argument != nil || c.raw != "" }

// IsMovement reports whether the verb takes a distance in centimetres.
func (c Command) IsMovement() bool {
	_, ok := movementVerbs[c.verb]
	return ok
}

// IsRotation reports whether the verb takes an angle in degrees.
func (c Command) IsRotation() bool {
	_, ok := rotationVerbs[c.verb]
	return ok
}

// IsLand reports whether this is the landing command.
func (c Command) IsLand() bool { return c.verb == VerbLand }

// String renders the wire form, "verb" or "verb argument".
func (c Command) String() string {
	switch {
	case c.argument != nil:
		return c.verb + " " + strconv.Itoa(*c.argument)
	case c.raw != "":
		return c.verb + " " + c.raw
	default:
		return c.verb
	}
}

// Bytes returns the ASCII payload sent over the wire.
func (c Command) Bytes() []byte { return []byte(c.String()) }

// WellFormed reports ErrMalformed for a non-numeric argument.
func (c Command) WellFormed() error {
	if c.raw != "" {
		return fmt.Errorf("%w: %q has a non-numeric argument", ErrMalformed, c.String())
	}
	return nil
}

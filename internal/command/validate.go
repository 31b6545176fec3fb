package command

import "fmt"

// Limits bounds the arguments of movement and rotation commands. Bounds are
// inclusive.
type Limits struct {
	MinDistance int
	MaxDistance int
	MinAngle    int
	MaxAngle    int
}

// Validator performs local syntactic and range checks before a command
// reaches the wire.
type Validator struct {
	limits Limits
}

// NewValidator returns a Validator enforcing l.
func NewValidator(l Limits) *Validator {
	return &Validator{limits: l}
}

// Validate returns nil when c may be sent. Commands without an argument pass
// unconditionally unless their verb requires one.
func (v *Validator) Validate(c Command) error {
	switch {
	case c.IsMovement():
		return checkRange(c, v.limits.MinDistance, v.limits.MaxDistance, "cm")
	case c.IsRotation():
		return checkRange(c, v.limits.MinAngle, v.limits.MaxAngle, "degrees")
	case c.HasArgument():
		if _, ok := c.Argument(); !ok {
			return fmt.Errorf("%w: %q has a non-numeric argument", ErrMalformed, c.String())
		}
		return nil
	default:
		return nil
	}
}

func checkRange(c Command, lo, hi int, unit string) error {
	n, ok := c.Argument()
	if !ok {
		return fmt.Errorf("%w: %q needs a numeric argument", ErrMalformed, c.String())
	}
	if n < lo || n > hi {
		return fmt.Errorf("%w: %s %d %s not in [%d, %d]", ErrOutOfRange, c.Verb(), n, unit, lo, hi)
	}
	return nil
}

package app

import (
	cliflag "k8s.io/component-base/cli/flag"
)

// NamedFlagSetOptions is implemented by the option struct of every command.
type NamedFlagSetOptions interface {
	// Flags returns the flags grouped by section.
	Flags() cliflag.NamedFlagSets

	// Complete fills in defaults derived from other options.
	Complete() error

	// Validate aggregates every invalid option into one error.
	Validate() error
}

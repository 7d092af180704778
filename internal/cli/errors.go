package cli

import (
	"errors"
	"fmt"
)

// ErrVersionRequested is returned when the version flag was given. It is not
// a failure: Report prints the version and yields exit code 0.
var ErrVersionRequested = errors.New("version requested")

// MissingArgumentError is returned when a required positional argument is
// absent.
type MissingArgumentError struct {
	Name string
}

func (e *MissingArgumentError) Error() string {
	return fmt.Sprintf("missing required argument `%s'", e.Name)
}

// OptionArgumentMissingError is returned when an option that takes a value
// was given none. Got holds the flag found in the value position, if any.
type OptionArgumentMissingError struct {
	Option Option
	Got    string
}

func (e *OptionArgumentMissingError) Error() string {
	if e.Got != "" {
		return fmt.Sprintf("option `%s' argument missing, got `%s'", e.Option.Flags, e.Got)
	}
	return fmt.Sprintf("option `%s' argument missing", e.Option.Flags)
}

// UnknownOptionError is returned for a flag the command does not declare.
type UnknownOptionError struct {
	Flag string
}

func (e *UnknownOptionError) Error() string {
	return fmt.Sprintf("unknown option `%s'", e.Flag)
}

// VariadicNotLastError is returned when a variadic argument is declared
// before another argument.
type VariadicNotLastError struct {
	Name string
}

func (e *VariadicNotLastError) Error() string {
	return fmt.Sprintf("variadic arguments must be last `%s'", e.Name)
}

// ExitCode maps an Execute result to a process exit code.
func ExitCode(err error) int {
	if err == nil || errors.Is(err, ErrVersionRequested) {
		return 0
	}
	return 1
}

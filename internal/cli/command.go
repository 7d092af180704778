package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Argument is a positional argument declared in a command's usage line.
type Argument struct {
	Name     string
	Required bool
	Variadic bool
}

// Option is a flag as shown in help output, e.g. "-p, --port <int>".
type Option struct {
	Flags       string
	Description string
}

// Command describes a command for formatting purposes. It is never mutated by
// the formatter.
type Command struct {
	Name             string
	Alias            string
	Usage            string
	Description      string
	Hidden           bool
	Args             []Argument
	Options          []Option
	InheritedOptions []Option
	Commands         []Command
}

// HumanReadableArgName renders an argument as <name>, [name], <name...> or
// [name...].
func HumanReadableArgName(arg Argument) string {
	name := arg.Name
	if arg.Variadic {
		name += "..."
	}
	if arg.Required {
		return "<" + name + ">"
	}
	return "[" + name + "]"
}

// ParseArguments extracts the positional arguments from a cobra style usage
// line such as "render <url> [locals...]". The leading command name and
// placeholders like [flags] are skipped.
func ParseArguments(use string) []Argument {
	fields := strings.Fields(use)
	if len(fields) < 2 {
		return nil
	}

	var args []Argument
	for _, field := range fields[1:] {
		var arg Argument
		switch {
		case strings.HasPrefix(field, "<") && strings.HasSuffix(field, ">"):
			arg.Required = true
		case strings.HasPrefix(field, "[") && strings.HasSuffix(field, "]"):
		default:
			continue
		}

		name := field[1 : len(field)-1]
		if strings.HasSuffix(name, "...") {
			arg.Variadic = true
			name = strings.TrimSuffix(name, "...")
		}
		switch name {
		case "", "flags", "options", "command":
			continue
		}
		arg.Name = name
		args = append(args, arg)
	}
	return args
}

// ValidateArguments reports a variadic argument that is not declared last.
func ValidateArguments(args []Argument) error {
	for i, arg := range args {
		if arg.Variadic && i != len(args)-1 {
			return &VariadicNotLastError{Name: arg.Name}
		}
	}
	return nil
}

// FromCobra builds a Command descriptor from a cobra command and its
// available sub-commands.
func FromCobra(c *cobra.Command) Command {
	cmd := Command{
		Name:        c.Name(),
		Description: c.Short,
		Hidden:      c.Hidden,
		Args:        ParseArguments(c.Use),
	}
	if cmd.Description == "" {
		cmd.Description = strings.TrimSpace(c.Long)
	}
	if len(c.Aliases) > 0 {
		cmd.Alias = c.Aliases[0]
	}

	cmd.Options = collectOptions(c.NonInheritedFlags())
	cmd.InheritedOptions = collectOptions(c.InheritedFlags())

	for _, sub := range c.Commands() {
		// skips cobra's own help command and deprecated commands
		if !sub.IsAvailableCommand() && !sub.Hidden {
			continue
		}
		cmd.Commands = append(cmd.Commands, FromCobra(sub))
	}
	return cmd
}

func collectOptions(flags *pflag.FlagSet) []Option {
	var options []Option
	flags.VisitAll(func(fl *pflag.Flag) {
		if fl.Name == "help" || fl.Hidden {
			return
		}
		options = append(options, optionFromFlag(fl))
	})
	return options
}

func optionFromFlag(fl *pflag.Flag) Option {
	flags := "--" + fl.Name
	if fl.Shorthand != "" {
		flags = "-" + fl.Shorthand + ", " + flags
	}
	name, usage := pflag.UnquoteUsage(fl)
	if name != "" {
		flags += " <" + name + ">"
	}
	return Option{Flags: flags, Description: usage}
}

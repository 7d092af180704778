package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Install composes f with the command tree rooted at root: help and usage
// output, flag errors, positional argument checks and the version flag all go
// through the formatter. cobra's own error printing is silenced; pass the
// error returned by Execute to Report.
func Install(root *cobra.Command, f *Formatter) error {
	root.SilenceErrors = true
	root.SilenceUsage = true

	root.SetHelpFunc(func(c *cobra.Command, _ []string) {
		fmt.Fprint(c.OutOrStdout(), f.RenderHelpText(FromCobra(c)))
	})
	root.SetUsageFunc(func(c *cobra.Command) error {
		fmt.Fprint(c.OutOrStderr(), f.RenderHelpText(FromCobra(c)))
		return nil
	})
	root.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return translateFlagError(c, err)
	})

	if f.hasVersion {
		short, long := parseFlagSpec(f.versionFlags)
		if long == "" {
			return fmt.Errorf("invalid version flags %q", f.versionFlags)
		}
		root.PersistentFlags().BoolP(long, short, false, "output the version number")
	}

	if root.Run == nil && root.RunE == nil {
		root.RunE = func(c *cobra.Command, _ []string) error {
			return c.Help()
		}
	}

	prev := root.PersistentPreRunE
	root.PersistentPreRunE = func(c *cobra.Command, args []string) error {
		if f.versionRequested(c) {
			return ErrVersionRequested
		}
		if err := checkOptionValues(c); err != nil {
			return err
		}
		if prev != nil {
			return prev(c, args)
		}
		return nil
	}

	return installArgs(root, f)
}

func installArgs(c *cobra.Command, f *Formatter) error {
	if f.allowUnknownOption {
		c.FParseErrWhitelist.UnknownFlags = true
	}

	args := ParseArguments(c.Use)
	if err := ValidateArguments(args); err != nil {
		return err
	}
	if c.Args == nil && len(args) > 0 {
		c.Args = f.positionalArgs(args)
	}

	for _, sub := range c.Commands() {
		if err := installArgs(sub, f); err != nil {
			return err
		}
	}
	return nil
}

// positionalArgs checks required arguments in declaration order. Extra
// arguments are left to the command.
func (f *Formatter) positionalArgs(declared []Argument) cobra.PositionalArgs {
	return func(c *cobra.Command, args []string) error {
		// argument validation runs before the pre-run hooks
		if f.versionRequested(c) {
			return ErrVersionRequested
		}
		if err := checkOptionValues(c); err != nil {
			return err
		}
		for i, arg := range declared {
			if arg.Required && i >= len(args) {
				return &MissingArgumentError{Name: arg.Name}
			}
		}
		return nil
	}
}

func (f *Formatter) versionRequested(c *cobra.Command) bool {
	if !f.hasVersion {
		return false
	}
	_, long := parseFlagSpec(f.versionFlags)
	requested, err := c.Flags().GetBool(long)
	return err == nil && requested
}

// translateFlagError turns pflag parse errors into the formatter's error
// types. Unrecognized errors pass through.
func translateFlagError(c *cobra.Command, err error) error {
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "unknown flag: "):
		return &UnknownOptionError{Flag: strings.TrimPrefix(msg, "unknown flag: ")}

	case strings.HasPrefix(msg, "unknown shorthand flag: "):
		return &UnknownOptionError{Flag: shorthandFromMessage(strings.TrimPrefix(msg, "unknown shorthand flag: "))}

	case strings.HasPrefix(msg, "flag needs an argument: "):
		rest := strings.TrimPrefix(msg, "flag needs an argument: ")
		var fl *pflag.Flag
		if strings.HasPrefix(rest, "--") {
			fl = c.Flags().Lookup(strings.TrimPrefix(rest, "--"))
		} else {
			fl = c.Flags().ShorthandLookup(strings.TrimPrefix(shorthandFromMessage(rest), "-"))
		}
		if fl == nil {
			return &OptionArgumentMissingError{Option: Option{Flags: rest}}
		}
		return &OptionArgumentMissingError{Option: optionFromFlag(fl)}

	case strings.HasPrefix(msg, `invalid argument "`):
		// invalid argument "--verbose" for "-p, --port" flag: ...
		value, rest, ok := strings.Cut(strings.TrimPrefix(msg, `invalid argument "`), `" for "`)
		if !ok || !isDeclaredFlag(c.Flags(), value) {
			return err
		}
		spec, _, _ := strings.Cut(rest, `" flag`)
		_, long := parseFlagSpec(spec)
		if fl := c.Flags().Lookup(long); fl != nil {
			return &OptionArgumentMissingError{Option: optionFromFlag(fl), Got: value}
		}
	}
	return err
}

// shorthandFromMessage converts "'x' in -xyz" to "-x".
func shorthandFromMessage(s string) string {
	if i := strings.Index(s, " in "); i >= 0 {
		s = s[:i]
	}
	return "-" + strings.Trim(s, `'"`)
}

// checkOptionValues rejects a value-taking option whose value is another
// declared flag, e.g. "--port --verbose".
func checkOptionValues(c *cobra.Command) error {
	var found error
	c.Flags().Visit(func(fl *pflag.Flag) {
		if found != nil || fl.Value.Type() == "bool" {
			return
		}
		value := fl.Value.String()
		if !strings.HasPrefix(value, "-") || !isDeclaredFlag(c.Flags(), value) {
			return
		}
		found = &OptionArgumentMissingError{Option: optionFromFlag(fl), Got: value}
	})
	return found
}

func isDeclaredFlag(flags *pflag.FlagSet, s string) bool {
	name, _, _ := strings.Cut(s, "=")
	if strings.HasPrefix(name, "--") {
		return flags.Lookup(strings.TrimPrefix(name, "--")) != nil
	}
	short := strings.TrimPrefix(name, "-")
	return len(short) == 1 && flags.ShorthandLookup(short) != nil
}

// parseFlagSpec splits "-v, --version" into its short and long names.
func parseFlagSpec(spec string) (short, long string) {
	for _, part := range strings.FieldsFunc(spec, func(r rune) bool { return r == ',' || r == ' ' || r == '|' }) {
		switch {
		case strings.HasPrefix(part, "--"):
			long = strings.TrimPrefix(part, "--")
		case strings.HasPrefix(part, "-"):
			short = strings.TrimPrefix(part, "-")
		}
	}
	return short, long
}

// Package cli renders help, usage, version and error output for the sugar
// command line.
//
// A Formatter is a plain value composed with cobra through Install. It never
// terminates the process: parse failures surface as typed errors from
// Execute, and Report prints them and returns the exit code for main to use.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/text/width"
)

const (
	defaultVersionFlags = "-v, --version"
	helpFlags           = "-h, --help"
	helpDescription     = "output usage information"
)

// FormatterOptions configures a Formatter.
type FormatterOptions struct {
	Out                io.Writer
	Err                io.Writer
	NoColor            bool
	AllowUnknownOption bool
}

// Formatter produces colored, column aligned CLI output.
type Formatter struct {
	out                io.Writer
	err                io.Writer
	allowUnknownOption bool

	version      string
	versionFlags string
	hasVersion   bool

	green *color.Color
	grey  *color.Color
	alert *color.Color
}

// NewFormatter creates a formatter writing to the given streams, defaulting to
// stdout and stderr.
func NewFormatter(opts FormatterOptions) *Formatter {
	f := &Formatter{
		out:                opts.Out,
		err:                opts.Err,
		allowUnknownOption: opts.AllowUnknownOption,
		green:              color.New(color.FgGreen),
		grey:               color.New(color.FgHiBlack),
		alert:              color.New(color.FgRed, color.Bold),
	}
	if f.out == nil {
		f.out = os.Stdout
	}
	if f.err == nil {
		f.err = os.Stderr
	}
	if opts.NoColor {
		f.green.DisableColor()
		f.grey.DisableColor()
		f.alert.DisableColor()
	}
	return f
}

// AllowUnknownOption makes unknown flags a no-op instead of a fatal error.
func (f *Formatter) AllowUnknownOption(allow bool) {
	f.allowUnknownOption = allow
}

// SetVersion stores the version string and the flags that request it. Empty
// flags default to "-v, --version".
func (f *Formatter) SetVersion(version, flags string) {
	if flags == "" {
		flags = defaultVersionFlags
	}
	f.version = version
	f.versionFlags = flags
	f.hasVersion = true
}

// Version returns the version string set with SetVersion.
func (f *Formatter) Version() (string, bool) {
	return f.version, f.hasVersion
}

// RenderVersion returns the version banner written on a version request.
func (f *Formatter) RenderVersion() string {
	return "  " + f.green.Sprint(f.version) + "\n"
}

// RenderMissingArgumentError formats a missing required argument.
func (f *Formatter) RenderMissingArgumentError(name string) string {
	return f.errorBlock(fmt.Sprintf("  error: missing required argument `%s'", name))
}

// RenderOptionArgumentMissing formats an option given without its value. got
// is the flag found where the value was expected and may be empty.
func (f *Formatter) RenderOptionArgumentMissing(option Option, got string) string {
	if got != "" {
		return f.errorBlock(fmt.Sprintf("  error: option `%s' argument missing, got `%s'", option.Flags, got))
	}
	return f.errorBlock(fmt.Sprintf("  error: option `%s' argument missing", option.Flags))
}

// RenderUnknownOption formats an unknown flag. ok is false when unknown
// options are allowed, in which case nothing should be printed.
func (f *Formatter) RenderUnknownOption(flag string) (msg string, ok bool) {
	if f.allowUnknownOption {
		return "", false
	}
	return f.errorBlock(fmt.Sprintf("  error: unknown option `%s'", flag)), true
}

// RenderVariadicNotLast formats a variadic argument declared before others.
func (f *Formatter) RenderVariadicNotLast(name string) string {
	return f.errorBlock(fmt.Sprintf("  error: variadic arguments must be last `%s'", name))
}

func (f *Formatter) errorBlock(msg string) string {
	return "\n" + f.alert.Sprint(msg) + "\n\n"
}

// RenderCommandHelp lists the visible sub-commands of cmd with aligned
// descriptions. It returns "" when there is nothing to list.
func (f *Formatter) RenderCommandHelp(cmd Command) string {
	var rows [][2]string
	for _, sub := range cmd.Commands {
		if sub.Hidden {
			continue
		}
		rows = append(rows, [2]string{commandTerm(sub), sub.Description})
	}
	if len(rows) == 0 {
		return ""
	}

	w := 0
	for _, row := range rows {
		w = max(w, displayWidth(row[0]))
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		line := f.green.Sprint(row[0]) + padding(row[0], w)
		if row[1] != "" {
			line += "  " + f.grey.Sprint(row[1])
		}
		lines = append(lines, line)
	}

	return strings.Join([]string{
		"",
		f.green.Sprint("  Commands:"),
		"",
		indent(strings.Join(lines, "\n"), "    "),
		"",
	}, "\n")
}

// RenderOptionHelp lists the options of cmd, always starting with the help
// flag.
func (f *Formatter) RenderOptionHelp(cmd Command) string {
	options := make([]Option, 0, len(cmd.Options)+len(cmd.InheritedOptions)+1)
	options = append(options, Option{Flags: helpFlags, Description: helpDescription})
	options = append(options, cmd.Options...)
	options = append(options, cmd.InheritedOptions...)

	w := 0
	for _, opt := range options {
		w = max(w, displayWidth(opt.Flags))
	}

	lines := make([]string, 0, len(options))
	for _, opt := range options {
		lines = append(lines, f.green.Sprint(opt.Flags+padding(opt.Flags, w))+"  "+f.grey.Sprint(opt.Description))
	}
	return strings.Join(lines, "\n")
}

// RenderHelpText assembles the full help page: usage, commands, description
// and options, in that order.
func (f *Formatter) RenderHelpText(cmd Command) string {
	name := cmd.Name
	if cmd.Alias != "" {
		name += "|" + cmd.Alias
	}

	parts := []string{"", f.green.Sprint("  Usage: " + name + " " + Usage(cmd)), ""}

	if commands := f.RenderCommandHelp(cmd); commands != "" {
		parts = append(parts, commands)
	}

	if cmd.Description != "" {
		parts = append(parts, f.grey.Sprint("  "+cmd.Description), "")
	}

	parts = append(parts,
		f.green.Sprint("  Options:"),
		"",
		indent(f.RenderOptionHelp(cmd), "    "),
		"",
		"",
	)
	return strings.Join(parts, "\n")
}

// Report prints the output belonging to an Execute result and returns the
// process exit code.
func (f *Formatter) Report(err error) int {
	if err == nil {
		return ExitCode(nil)
	}

	var (
		missing  *MissingArgumentError
		noValue  *OptionArgumentMissingError
		unknown  *UnknownOptionError
		variadic *VariadicNotLastError
	)
	switch {
	case errors.Is(err, ErrVersionRequested):
		fmt.Fprint(f.out, f.RenderVersion())
	case errors.As(err, &missing):
		fmt.Fprint(f.err, f.RenderMissingArgumentError(missing.Name))
	case errors.As(err, &noValue):
		fmt.Fprint(f.err, f.RenderOptionArgumentMissing(noValue.Option, noValue.Got))
	case errors.As(err, &unknown):
		msg, ok := f.RenderUnknownOption(unknown.Flag)
		if !ok {
			return 0
		}
		fmt.Fprint(f.err, msg)
	case errors.As(err, &variadic):
		fmt.Fprint(f.err, f.RenderVariadicNotLast(variadic.Name))
	default:
		fmt.Fprint(f.err, f.errorBlock("  error: "+err.Error()))
	}
	return ExitCode(err)
}

// Usage returns the usage string of cmd, deriving "[options] [command] args"
// when none was set explicitly.
func Usage(cmd Command) string {
	if cmd.Usage != "" {
		return cmd.Usage
	}
	usage := "[options]"
	if len(cmd.Commands) > 0 {
		usage += " [command]"
	}
	if len(cmd.Args) > 0 {
		usage += " " + joinArgs(cmd.Args)
	}
	return usage
}

func commandTerm(cmd Command) string {
	term := cmd.Name
	if cmd.Alias != "" {
		term += "|" + cmd.Alias
	}
	if len(cmd.Options) > 0 {
		term += " [options]"
	}
	if len(cmd.Args) > 0 {
		term += " " + joinArgs(cmd.Args)
	}
	return term
}

func joinArgs(args []Argument) string {
	names := make([]string, len(args))
	for i, arg := range args {
		names[i] = HumanReadableArgName(arg)
	}
	return strings.Join(names, " ")
}

// displayWidth counts terminal cells; wide and fullwidth runes take two.
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}

func padding(s string, w int) string {
	if d := w - displayWidth(s); d > 0 {
		return strings.Repeat(" ", d)
	}
	return ""
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

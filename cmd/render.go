package cmd

import (
	"fmt"
	"strings"

	"github.com/conneroisu/sugar/internal/datasource"
	"github.com/conneroisu/sugar/internal/renderer"
	"github.com/conneroisu/sugar/internal/server"
	"github.com/conneroisu/sugar/internal/view"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newRenderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "render <url> [locals...]",
		Aliases: []string{"r"},
		Short:   "Render a URL to stdout",
		Long: `Render the template a URL resolves to, exactly as the server would.

Locals are given as key=value pairs. Values are read as YAML scalars, so
count=3 is a number and draft=true a boolean.

Examples:
  sugar render /docs/intro
  sugar render /docs/intro title="Getting started" draft=true
  sugar render /components/docs/alert -o alert.html`,
		RunE: runRender,
	}
	cmd.Flags().StringP("output", "o", "", "write the result to a file instead of stdout")
	return cmd
}

func runRender(cmd *cobra.Command, args []string) error {
	locals, err := parseLocals(args[1:])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	fsys := afero.NewOsFs()
	templates := renderer.New(fsys, logger)
	templates.SetLocals(cfg.Template.Locals)
	views := view.NewRenderer(server.ViewOptions(cfg), datasource.New(fsys, logger), templates, logger)

	ctx := cmd.Context()
	perf := logger.StartOperation("render")
	html, err := views.Render(ctx, args[0], locals)
	if err != nil {
		perf.EndWithError(ctx, err)
		return err
	}
	perf.End(ctx)

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		_, err = fmt.Fprint(cmd.OutOrStdout(), html)
		return err
	}
	if err := afero.WriteFile(fsys, output, []byte(html), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	return nil
}

// parseLocals turns key=value arguments into template locals.
func parseLocals(args []string) (map[string]interface{}, error) {
	locals := make(map[string]interface{}, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid local %q: want key=value", arg)
		}
		locals[key] = scalar(value)
	}
	return locals, nil
}

// scalar decodes value as a YAML scalar, keeping anything else as a string.
func scalar(value string) interface{} {
	var v interface{}
	if err := yaml.Unmarshal([]byte(value), &v); err != nil {
		return value
	}
	switch v.(type) {
	case bool, int, float64:
		return v
	default:
		return value
	}
}

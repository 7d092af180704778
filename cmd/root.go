// Package cmd provides the command-line interface for sugar.
//
// Configuration System:
//
//	Settings are resolved with the following precedence:
//	1. Command-line flags (--root, --port, etc.) - highest priority
//	2. SUGAR_ prefixed environment variables (SUGAR_SERVER_PORT, ...),
//	   including those loaded from a .env file in the working directory
//	3. The config file: --config, else SUGAR_CONFIG_FILE, else .sugar.yml
//	4. Built-in defaults - lowest priority
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/conneroisu/sugar/internal/cli"
	"github.com/conneroisu/sugar/internal/config"
	"github.com/conneroisu/sugar/internal/logging"
	"github.com/conneroisu/sugar/internal/version"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "SUGAR"

// Execute runs the command line against os.Args and returns the process exit
// code.
func Execute() int {
	f := cli.NewFormatter(cli.FormatterOptions{NoColor: os.Getenv("NO_COLOR") != ""})
	return run(context.Background(), os.Args[1:], f, os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, f *cli.Formatter, out, errOut io.Writer) int {
	root, err := NewRootCommand(f)
	if err != nil {
		return f.Report(err)
	}
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	return f.Report(root.ExecuteContext(ctx))
}

// NewRootCommand builds the sugar command tree with its output going through
// f.
func NewRootCommand(f *cli.Formatter) (*cobra.Command, error) {
	var cfgFile string

	root := &cobra.Command{
		Use:   "sugar",
		Short: "Serve and render html/template sites resolved from request paths",
		Long: `Sugar maps request URLs onto template files under a root directory,
loads each project's config file and renders the result with shared locals.

Quick Start:
  sugar serve --live-reload       Serve ./src with live reload
  sugar render /docs/intro        Render one page to stdout
  sugar render /components/docs/alert
                                  Render one component in isolation`,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return initConfig(cfgFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .sugar.yml, can also use SUGAR_CONFIG_FILE)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.StringP("root", "r", "src", "directory holding the templates")
	flags.Bool("project-group", false, "projects are two directory levels deep")
	flags.String("ext", ".html", "template file extension")
	flags.String("config-filename", "config", "base name of per-project config files")

	bindings := map[string]string{
		"log.level":                "log-level",
		"log.format":               "log-format",
		"template.root":            "root",
		"template.project_group":   "project-group",
		"template.ext":             "ext",
		"template.config_filename": "config-filename",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}

	serveCmd, err := newServeCommand()
	if err != nil {
		return nil, err
	}
	root.AddCommand(serveCmd, newRenderCommand(), newVersionCommand())

	f.SetVersion(version.GetShortVersion(), "")
	if err := cli.Install(root, f); err != nil {
		return nil, err
	}
	return root, nil
}

// initConfig loads .env and points viper at the config file.
//
// An explicitly named config file must exist; the default .sugar.yml is
// optional.
func initConfig(cfgFile string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	explicit := true
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(envPrefix + "_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		explicit = false
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".sugar")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !explicit && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// loadConfig is config.Load with the CLI's error wording.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer) (*logging.SugarLogger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Log.Format,
		Output:    out,
		Component: "sugar",
	}), nil
}

package cmd

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/conneroisu/sugar/internal/server"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCommand() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Start the development server",
		Long: `Start the development server.

Every request that is not a plain file under the root is resolved to a
template, rendered with the project's config and served as HTML. With
--live-reload, browsers reload whenever a file under the root changes.

Examples:
  sugar serve                              # Serve ./src on localhost:3000
  sugar serve -p 8080 --live-reload        # Reload browsers on change
  sugar serve -r site --project-group      # Projects are site/<group>/<name>`,
		RunE: runServe,
	}

	flags := cmd.Flags()
	flags.IntP("port", "p", 3000, "port to serve on")
	flags.String("host", "localhost", "host to bind to")
	flags.Bool("live-reload", false, "reload browsers when files change")
	flags.Bool("watch", false, "invalidate caches when files change")
	flags.StringSlice("allowed-origins", nil, "origins allowed by CORS and the reload socket")

	bindings := map[string]string{
		"server.port":            "port",
		"server.host":            "host",
		"server.live_reload":     "live-reload",
		"server.allowed_origins": "allowed-origins",
		"watch.enabled":          "watch",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return cmd, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, afero.NewOsFs(), logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s at http://%s\n", cfg.Template.Root, addr)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/conneroisu/sugar/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display version information for sugar.

Examples:
  sugar version               # Show version and commit
  sugar version --detailed    # Include build time, Go version and platform
  sugar version --format json # Output as JSON`,
		RunE: runVersionCommand,
	}

	cmd.Flags().StringP("format", "f", "text", "output format (text, json)")
	cmd.Flags().Bool("short", false, "show the version number only")
	cmd.Flags().Bool("detailed", false, "show detailed version information")
	return cmd
}

func runVersionCommand(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	short, _ := cmd.Flags().GetBool("short")
	detailed, _ := cmd.Flags().GetBool("detailed")
	out := cmd.OutOrStdout()

	switch format {
	case "json":
		data, err := json.MarshalIndent(version.GetBuildInfo(), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal version info: %w", err)
		}
		fmt.Fprintln(out, string(data))
	case "text":
		switch {
		case short:
			fmt.Fprintln(out, version.GetVersion())
		case detailed:
			fmt.Fprintln(out, version.GetDetailedVersion())
		default:
			fmt.Fprintln(out, "sugar "+version.GetShortVersion())
		}
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", format)
	}
	return nil
}

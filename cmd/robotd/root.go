package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

// Version is overridden at link time.
var Version = "dev"

type globalFlags struct {
	configPath string
	logFormat  string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "robotd",
		Short: "Swerve drivetrain and command scheduler for a competition robot",
		Long: `robotd runs the robot's fixed-period control loop: swerve odometry fused
with vision, the command scheduler and the operator API.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "configuration file (YAML or JSON); ROBOTD_* variables override it")
	pf.StringVar(&flags.logFormat, "log-format", "text", "log format: text or json")
	pf.StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn or error")

	root.AddCommand(newRunCmd(flags), newConfigCmd(flags), newVersionCmd())
	return root
}

// newLogger builds the process logger from the --log-format and
// --log-level flags.
func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q: want text or json", format)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the robotd version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "robotd %s\n", Version)
		},
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matt-riley/cerebro/internal/logging"
)

type rootOptions struct {
	logLevel  string
	logFormat string
	logger    *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "cerebro",
		Short: "Resolve, validate and administer cerebro settings",
		Long: `cerebro resolves ordered setting entries against a context.

Local commands work on a YAML or JSON settings file. The settings
commands and resolve --server use a server's HTTP API. The admin commands
talk to the server's PostgreSQL database through DATABASE_URL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			opts.logger = logging.NewWithFormat(opts.logLevel, opts.logFormat, cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format: text, json")

	cmd.AddCommand(
		newResolveCmd(opts),
		newValidateCmd(opts),
		newSettingsCmd(opts),
		newAdminCmd(opts, connectAdminStore),
	)

	return cmd
}

// parseAssignments turns k=v pairs into a map. Values that decode as JSON
// keep their decoded type; anything else is kept as a string.
func parseAssignments(pairs []string) (map[string]any, error) {
	values := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q: want key=value", pair)
		}

		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err == nil && decoded != nil {
			values[key] = decoded
			continue
		}
		values[key] = raw
	}

	return values, nil
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func (o *rootOptions) log() *slog.Logger {
	if o.logger == nil {
		return slog.Default()
	}
	return o.logger
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/matt-riley/cerebro/internal/core"
	"github.com/matt-riley/cerebro/internal/engine"
	"github.com/matt-riley/cerebro/internal/loader"
	"github.com/matt-riley/cerebro/internal/poller"
	"github.com/matt-riley/cerebro/internal/settings"
)

type resolveOptions struct {
	file      string
	remote    remoteOptions
	context   []string
	overrides []string
	env       bool
	label     string
	watch     bool
	interval  time.Duration
	schedule  string
}

func newResolveCmd(root *rootOptions) *cobra.Command {
	opts := &resolveOptions{}

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a settings file against a context",
		Long: `Resolve every setting in a file and print the dehydrated snapshot.

Context and override values are given as key=value. Values that parse as
JSON keep their type, so --context farm=3 is a number and
--context env=prod is a string.

Examples:
  cerebro resolve -f settings.yaml --context env=prod
  cerebro resolve -f settings.yaml --env --label database
  cerebro resolve -f settings.yaml --watch --interval 10s
  cerebro resolve --server http://localhost:8080 --context env=prod --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.remote.server != "" {
				if opts.env {
					return errors.New("--env needs a local settings file")
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return runRemoteResolve(ctx, root, opts, cmd.OutOrStdout())
			}
			if opts.watch {
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return watchResolve(ctx, root, opts, cmd.OutOrStdout())
			}
			return runResolve(root, opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.file, "file", "f", "", "settings file (YAML or JSON)")
	flags.StringArrayVar(&opts.context, "context", nil, "context dimension as key=value (repeatable)")
	flags.StringArrayVar(&opts.overrides, "override", nil, "override a setting as key=value (repeatable)")
	flags.BoolVar(&opts.env, "env", false, "override settings from environment variables of the same name")
	flags.StringVar(&opts.label, "label", "", "print only the settings carrying this label")
	flags.BoolVar(&opts.watch, "watch", false, "re-resolve and print whenever the file changes")
	flags.DurationVar(&opts.interval, "interval", 30*time.Second, "poll interval while watching")
	flags.StringVar(&opts.schedule, "schedule", "", "cron schedule for polling while watching (replaces --interval)")
	opts.remote.register(flags.StringVar)
	cmd.MarkFlagsOneRequired("file", "server")
	cmd.MarkFlagsMutuallyExclusive("file", "server")

	return cmd
}

func runResolve(root *rootOptions, opts *resolveOptions, out io.Writer) error {
	entries, err := loader.LoadFile(opts.file)
	if err != nil {
		return err
	}

	e, err := engine.New(entries, engine.WithLogger(root.log()))
	if err != nil {
		return err
	}

	return printResolution(e, entries, opts, out)
}

func printResolution(e *engine.Engine, entries []core.Entry, opts *resolveOptions, out io.Writer) error {
	ctx, overrides, err := opts.inputs(entries)
	if err != nil {
		return err
	}

	config, err := e.ResolveConfig(ctx, overrides)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	return writeConfig(out, config, opts.label)
}

func (o *resolveOptions) inputs(entries []core.Entry) (core.Context, core.Overrides, error) {
	ctx, err := parseAssignments(o.context)
	if err != nil {
		return nil, nil, fmt.Errorf("--context: %w", err)
	}

	overrides := core.Overrides{}
	if o.env {
		overrides = loader.OverridesFromEnv(entries, nil)
	}

	explicit, err := parseAssignments(o.overrides)
	if err != nil {
		return nil, nil, fmt.Errorf("--override: %w", err)
	}
	for key, value := range explicit {
		overrides[key] = value
	}

	return core.Context(ctx), overrides, nil
}

func writeConfig(out io.Writer, config *settings.Config, label string) error {
	if label != "" {
		return writeJSON(out, config.ForLabel(label))
	}

	data, err := config.Dehydrate()
	if err != nil {
		return fmt.Errorf("dehydrate: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

// watchResolve polls the file on a schedule and on every write, printing a
// fresh resolution each time the entries change. Invalid revisions are
// logged and the previous entries stay active.
func watchResolve(ctx context.Context, root *rootOptions, opts *resolveOptions, out io.Writer) error {
	log := root.log()

	validator, err := loader.NewValidator(nil)
	if err != nil {
		return err
	}

	pollerOpts := []poller.Option{poller.WithValidator(validator), poller.WithLogger(log)}
	if opts.schedule != "" {
		pollerOpts = append(pollerOpts, poller.WithSchedule(opts.schedule))
	} else {
		pollerOpts = append(pollerOpts, poller.WithInterval(opts.interval))
	}

	p, err := poller.New(poller.FileSource(opts.file), pollerOpts...)
	if err != nil {
		return err
	}

	watcher, err := poller.NewFileWatcher(opts.file, 0, log)
	if err != nil {
		return err
	}

	go func() {
		if err := watcher.Watch(ctx, p.Trigger); err != nil {
			log.Error("file watcher stopped", "error", err)
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-p.Errors():
				log.Warn("settings file rejected", "path", opts.file, "error", err)
			}
		}
	}()
	go func() {
		if err := p.Run(ctx); err != nil {
			log.Error("poller stopped", "error", err)
		}
	}()
	p.Trigger()

	var e *engine.Engine
	for entries := range p.Updates() {
		if e == nil {
			e, err = engine.New(entries, engine.WithLogger(log))
			if err != nil {
				return err
			}
		} else {
			e.Update(entries)
		}

		if err := printResolution(e, entries, opts, out); err != nil {
			log.Warn("resolve failed", "path", opts.file, "error", err)
		}
	}

	return nil
}

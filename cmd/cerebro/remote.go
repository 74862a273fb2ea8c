package main

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/matt-riley/cerebro/internal/client"
)

const apiKeyEnv = "CEREBRO_API_KEY"

type remoteOptions struct {
	server    string
	namespace string
	token     string
}

// register binds the connection flags through a flag set's StringVar.
func (o *remoteOptions) register(stringVar func(p *string, name, value, usage string)) {
	stringVar(&o.server, "server", "", "cerebro server URL, e.g. http://localhost:8080")
	stringVar(&o.namespace, "namespace", "", "namespace name, for listeners without API keys")
	stringVar(&o.token, "token", "", "API key as KEY_ID.SECRET (defaults to $"+apiKeyEnv+")")
}

func (o *remoteOptions) client() (*client.Client, error) {
	if o.server == "" {
		return nil, errors.New("--server is required")
	}

	token := o.token
	if token == "" {
		token = os.Getenv(apiKeyEnv)
	}
	if token == "" && o.namespace == "" {
		return nil, errors.New("an API key (--token or $" + apiKeyEnv + ") or --namespace is required")
	}

	return client.New(client.Config{
		BaseURL:   o.server,
		APIKey:    token,
		Namespace: o.namespace,
	}), nil
}

// runRemoteResolve resolves on the server. With --watch it re-resolves after
// each burst of change events until ctx is done or the stream ends.
func runRemoteResolve(ctx context.Context, root *rootOptions, opts *resolveOptions, out io.Writer) error {
	c, err := opts.remote.client()
	if err != nil {
		return err
	}

	evalContext, overrides, err := opts.inputs(nil)
	if err != nil {
		return err
	}

	resolve := func() error {
		config, err := c.Resolve(ctx, evalContext, overrides)
		if err != nil {
			return err
		}
		return writeConfig(out, config, opts.label)
	}

	if !opts.watch {
		return resolve()
	}

	events, err := c.Stream(ctx, 0, "")
	if err != nil {
		return err
	}
	if err := resolve(); err != nil {
		return err
	}

	log := root.log()
	for event := range events {
		last := event
		for drained := false; !drained; {
			select {
			case next, ok := <-events:
				if !ok {
					drained = true
					break
				}
				last = next
			default:
				drained = true
			}
		}

		log.Debug("settings changed", "event_id", last.ID, "type", last.Type, "setting", last.Setting)
		if err := resolve(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("resolve failed", "error", err)
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	return errors.New("event stream closed by server")
}

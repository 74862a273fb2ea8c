package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/matt-riley/cerebro/internal/client"
	"github.com/matt-riley/cerebro/internal/loader"
	"github.com/matt-riley/cerebro/internal/repository"
	"github.com/matt-riley/cerebro/internal/service"
)

type settingsCmd struct {
	root   *rootOptions
	remote remoteOptions
}

func newSettingsCmd(root *rootOptions) *cobra.Command {
	s := &settingsCmd{root: root}

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and change settings on a cerebro server",
		Long: `Manage the settings of a namespace through the server's HTTP API.

Examples:
  cerebro settings list --server http://localhost:8080
  cerebro settings put timeoutMs --value 4500 --label checkout
  cerebro settings push -f settings.yaml
  cerebro settings pull > settings.yaml`,
	}
	s.remote.register(cmd.PersistentFlags().StringVar)

	cmd.AddCommand(s.listCmd(), s.getCmd(), s.putCmd(), s.deleteCmd(), s.pushCmd(), s.pullCmd())
	return cmd
}

func (s *settingsCmd) run(fn func(c *client.Client) error) error {
	c, err := s.remote.client()
	if err != nil {
		return err
	}
	return fn(c)
}

func (s *settingsCmd) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List settings in resolution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.run(func(c *client.Client) error {
				list, err := c.ListSettings(cmd.Context())
				if err != nil {
					return err
				}
				return writeTable(cmd.OutOrStdout(), []string{"POSITION", "SETTING", "LABELS", "EXCEPTIONS", "VALUE"}, len(list), func(i int) []string {
					setting := list[i]
					return []string{
						strconv.Itoa(setting.Position),
						setting.Setting,
						strings.Join(setting.Labels, ","),
						strconv.Itoa(countClauses(setting.Except)),
						string(setting.Value),
					}
				})
			})
		},
	}
}

func (s *settingsCmd) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get SETTING",
		Short: "Print one stored setting as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.run(func(c *client.Client) error {
				setting, err := c.GetSetting(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), setting)
			})
		},
	}
}

func (s *settingsCmd) putCmd() *cobra.Command {
	var (
		value       string
		except      string
		labels      []string
		description string
	)

	cmd := &cobra.Command{
		Use:   "put SETTING",
		Short: "Create or update one setting",
		Long: `Create or update one setting. --value and --except take JSON; a value
that is not valid JSON is stored as a string.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setting := repository.Setting{
				Setting:     args[0],
				Value:       jsonOrString(value),
				Labels:      labels,
				Description: description,
			}
			if except != "" {
				if !json.Valid([]byte(except)) {
					return fmt.Errorf("--except must be a JSON array")
				}
				setting.Except = json.RawMessage(except)
			}

			return s.run(func(c *client.Client) error {
				saved, err := c.PutSetting(cmd.Context(), setting)
				if err != nil {
					return err
				}
				s.root.log().Info("setting saved", "setting", saved.Setting, "position", saved.Position)
				return writeJSON(cmd.OutOrStdout(), saved)
			})
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "default value as JSON")
	cmd.Flags().StringVar(&except, "except", "", "exception clauses as a JSON array")
	cmd.Flags().StringArrayVar(&labels, "label", nil, "label (repeatable)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	_ = cmd.MarkFlagRequired("value")

	return cmd
}

func (s *settingsCmd) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete SETTING",
		Short: "Delete one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.run(func(c *client.Client) error {
				if err := c.DeleteSetting(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return err
			})
		},
	}
}

func (s *settingsCmd) pushCmd() *cobra.Command {
	var (
		file   string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Replace every setting of the namespace with a local file",
		Long: `Replace the namespace's whole ordered list with the entries of a local
file. The server validates the list first; nothing is stored when it
reports problems.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := loader.LoadFile(file)
			if err != nil {
				return err
			}
			list, err := service.SettingsFromEntries("", entries)
			if err != nil {
				return err
			}

			return s.run(func(c *client.Client) error {
				return pushSettings(cmd.Context(), c, list, dryRun, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "settings file (YAML or JSON)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate on the server without storing")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func pushSettings(ctx context.Context, c *client.Client, list []repository.Setting, dryRun bool, out io.Writer) error {
	report, err := c.Validate(ctx, list)
	if err != nil {
		return err
	}
	if !report.Valid {
		for _, problem := range report.Errors {
			fmt.Fprintln(out, problem.Error())
		}
		return report.Err()
	}

	if dryRun {
		_, err := fmt.Fprintf(out, "%d settings valid\n", len(list))
		return err
	}

	saved, err := c.ReplaceSettings(ctx, list)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "replaced %d settings\n", len(saved))
	return err
}

// fileEntry is the YAML form read by the loader.
type fileEntry struct {
	Setting string   `yaml:"setting"`
	Value   any      `yaml:"value"`
	Labels  []string `yaml:"labels,omitempty"`
	Except  []any    `yaml:"except,omitempty"`
}

func (s *settingsCmd) pullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Print the namespace's settings as a YAML settings file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.run(func(c *client.Client) error {
				list, err := c.ListSettings(cmd.Context())
				if err != nil {
					return err
				}

				entries := make([]fileEntry, 0, len(list))
				for _, setting := range list {
					entry := fileEntry{Setting: setting.Setting, Labels: setting.Labels}
					if err := decodeRaw(setting.Value, &entry.Value); err != nil {
						return fmt.Errorf("setting %q value: %w", setting.Setting, err)
					}
					if err := decodeRaw(setting.Except, &entry.Except); err != nil {
						return fmt.Errorf("setting %q except: %w", setting.Setting, err)
					}
					entries = append(entries, entry)
				}

				encoder := yaml.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent(2)
				if err := encoder.Encode(entries); err != nil {
					return fmt.Errorf("encode yaml: %w", err)
				}
				return encoder.Close()
			})
		},
	}
}

func decodeRaw(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, target)
}

func jsonOrString(raw string) json.RawMessage {
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	encoded, _ := json.Marshal(raw)
	return encoded
}

func countClauses(raw json.RawMessage) int {
	var clauses []json.RawMessage
	if err := json.Unmarshal(raw, &clauses); err != nil {
		return 0
	}
	return len(clauses)
}

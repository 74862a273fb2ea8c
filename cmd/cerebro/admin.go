package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/matt-riley/cerebro/internal/repository"
)

// adminStore is the slice of the repository the admin commands use.
type adminStore interface {
	CreateNamespace(ctx context.Context, name, description string) (repository.Namespace, error)
	ListNamespaces(ctx context.Context) ([]repository.Namespace, error)
	GetNamespaceByName(ctx context.Context, name string) (repository.Namespace, error)
	CreateAPIKey(ctx context.Context, namespaceID, name string) (string, string, error)
	ListAPIKeys(ctx context.Context, namespaceID string) ([]repository.APIKeyMeta, error)
	RevokeAPIKey(ctx context.Context, namespaceID, keyID string) error
	InsertAuditLog(ctx context.Context, entry repository.AuditLogEntry) error
	ListAuditLog(ctx context.Context, namespaceID string, limit, offset int) ([]repository.AuditLogEntry, error)
}

var _ adminStore = (*repository.PostgresRepository)(nil)

// storeConnector opens an adminStore. The returned func releases it.
type storeConnector func(ctx context.Context, log *slog.Logger) (adminStore, func(), error)

func connectAdminStore(ctx context.Context, log *slog.Logger) (adminStore, func(), error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is required")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	log.Debug("connected to database")
	return repository.NewPostgresRepository(pool), pool.Close, nil
}

type adminCmd struct {
	root    *rootOptions
	connect storeConnector
	timeout time.Duration
}

func newAdminCmd(root *rootOptions, connect storeConnector) *cobra.Command {
	a := &adminCmd{root: root, connect: connect}

	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage namespaces, API keys and the audit log",
		Long: `Administer a cerebro server through its database.

The database is read from DATABASE_URL.`,
	}
	cmd.PersistentFlags().DurationVar(&a.timeout, "timeout", 10*time.Second, "timeout for database operations")

	cmd.AddCommand(a.namespaceCmd(), a.keyCmd(), a.auditCmd())
	return cmd
}

// run opens the store and calls fn with a bounded context.
func (a *adminCmd) run(cmd *cobra.Command, fn func(ctx context.Context, store adminStore) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	store, release, err := a.connect(ctx, a.root.log())
	if err != nil {
		return err
	}
	defer release()

	return fn(ctx, store)
}

func (a *adminCmd) namespaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "namespace",
		Aliases: []string{"ns"},
		Short:   "Manage namespaces",
	}

	var description string
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, store adminStore) error {
				ns, err := store.CreateNamespace(ctx, args[0], description)
				if err != nil {
					return err
				}
				a.root.log().Info("namespace created", "namespace", ns.Name, "id", ns.ID)
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ns.ID, ns.Name)
				return err
			})
		},
	}
	create.Flags().StringVar(&description, "description", "", "namespace description")

	list := &cobra.Command{
		Use:   "list",
		Short: "List namespaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context, store adminStore) error {
				namespaces, err := store.ListNamespaces(ctx)
				if err != nil {
					return err
				}
				return writeTable(cmd.OutOrStdout(), []string{"ID", "NAME", "DESCRIPTION"}, len(namespaces), func(i int) []string {
					return []string{namespaces[i].ID, namespaces[i].Name, namespaces[i].Description}
				})
			})
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

func (a *adminCmd) keyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage API keys",
	}

	var name string
	create := &cobra.Command{
		Use:   "create NAMESPACE",
		Short: "Create an API key and print its bearer token",
		Long: `Create an API key for a namespace.

The token is printed once as KEY_ID.SECRET. Only a bcrypt hash of the
secret is stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, store adminStore) error {
				ns, err := lookupNamespace(ctx, store, args[0])
				if err != nil {
					return err
				}

				keyID, secret, err := store.CreateAPIKey(ctx, ns.ID, name)
				if err != nil {
					return err
				}
				a.audit(ctx, store, ns.ID, keyID, "api_key.create", map[string]string{"name": name})

				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s.%s\n", keyID, secret)
				return err
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key name (generated when empty)")

	list := &cobra.Command{
		Use:   "list NAMESPACE",
		Short: "List active API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, store adminStore) error {
				ns, err := lookupNamespace(ctx, store, args[0])
				if err != nil {
					return err
				}

				keys, err := store.ListAPIKeys(ctx, ns.ID)
				if err != nil {
					return err
				}
				return writeTable(cmd.OutOrStdout(), []string{"ID", "NAME", "CREATED"}, len(keys), func(i int) []string {
					return []string{keys[i].ID, keys[i].Name, keys[i].CreatedAt.UTC().Format(time.RFC3339)}
				})
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke NAMESPACE KEY_ID",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, store adminStore) error {
				ns, err := lookupNamespace(ctx, store, args[0])
				if err != nil {
					return err
				}

				if err := store.RevokeAPIKey(ctx, ns.ID, args[1]); err != nil {
					if errors.Is(err, pgx.ErrNoRows) {
						return fmt.Errorf("api key %q not found in namespace %q", args[1], ns.Name)
					}
					return err
				}
				a.audit(ctx, store, ns.ID, args[1], "api_key.revoke", nil)

				_, err = fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[1])
				return err
			})
		},
	}

	cmd.AddCommand(create, list, revoke)
	return cmd
}

func (a *adminCmd) auditCmd() *cobra.Command {
	var limit, offset int

	list := &cobra.Command{
		Use:   "list NAMESPACE",
		Short: "List audit entries, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}
			if offset < 0 {
				return fmt.Errorf("--offset must not be negative, got %d", offset)
			}

			return a.run(cmd, func(ctx context.Context, store adminStore) error {
				ns, err := lookupNamespace(ctx, store, args[0])
				if err != nil {
					return err
				}

				entries, err := store.ListAuditLog(ctx, ns.ID, limit, offset)
				if err != nil {
					return err
				}
				return writeTable(cmd.OutOrStdout(), []string{"ID", "TIME", "ACTION", "SETTING", "KEY"}, len(entries), func(i int) []string {
					e := entries[i]
					return []string{fmt.Sprint(e.ID), e.CreatedAt.UTC().Format(time.RFC3339), e.Action, e.Setting, e.APIKeyID}
				})
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")
	list.Flags().IntVar(&offset, "offset", 0, "entries to skip")

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}
	cmd.AddCommand(list)
	return cmd
}

func lookupNamespace(ctx context.Context, store adminStore, name string) (repository.Namespace, error) {
	ns, err := store.GetNamespaceByName(ctx, name)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.Namespace{}, fmt.Errorf("namespace %q not found", name)
	}
	return ns, err
}

// audit records an admin action. Failures are logged, not returned.
func (a *adminCmd) audit(ctx context.Context, store adminStore, namespaceID, keyID, action string, details any) {
	entry := repository.AuditLogEntry{
		NamespaceID: namespaceID,
		APIKeyID:    keyID,
		Action:      action,
	}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			entry.Details = raw
		}
	}

	if err := store.InsertAuditLog(ctx, entry); err != nil {
		a.root.log().Warn("failed to write audit log", "action", action, "error", err)
	}
}

func writeTable(out io.Writer, header []string, rows int, row func(int) []string) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for i := range rows {
		fmt.Fprintln(w, strings.Join(row(i), "\t"))
	}
	return w.Flush()
}

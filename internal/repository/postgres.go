// Package repository provides PostgreSQL-backed persistence for namespaces,
// ordered setting entries, setting events, API keys and the audit log. It
// also relays LISTEN/NOTIFY signals so the service layer can swap engine
// snapshots without polling.
package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultNotifyChannel  = "setting_events"
	defaultEventBatchSize = 1000
)

// Event types recorded in setting_events.
const (
	EventUpdated  = "updated"
	EventDeleted  = "deleted"
	EventReplaced = "replaced"
)

// Namespace groups an ordered list of settings resolved together.
type Namespace struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Setting is one stored entry. Position fixes its place in the resolution
// order within the namespace.
type Setting struct {
	NamespaceID string          `json:"-"`
	Setting     string          `json:"setting"`
	Position    int             `json:"position"`
	Value       json.RawMessage `json:"value"`
	Except      json.RawMessage `json:"except,omitempty"`
	Labels      []string        `json:"labels,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// APIKeyMeta contains non-sensitive metadata for an API key.
type APIKeyMeta struct {
	ID          string    `json:"id"`
	NamespaceID string    `json:"namespace_id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
}

// SettingEvent is a change to a namespace, used to drive streaming and cache
// invalidation. Setting is empty for namespace-wide replacements.
type SettingEvent struct {
	EventID     int64           `json:"event_id"`
	NamespaceID string          `json:"namespace_id"`
	Setting     string          `json:"setting"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AuditLogEntry records a mutation performed on a namespace.
type AuditLogEntry struct {
	ID          int64           `json:"id"`
	NamespaceID string          `json:"namespace_id"`
	APIKeyID    string          `json:"api_key_id,omitempty"`
	Action      string          `json:"action"`
	Setting     string          `json:"setting"`
	Details     json.RawMessage `json:"details,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// PostgresRepository persists settings in PostgreSQL and relays change
// notifications.
type PostgresRepository struct {
	pool           *pgxpool.Pool
	notifyChannel  string
	eventBatchSize int
}

// Option configures a [PostgresRepository].
type Option func(*PostgresRepository)

// WithNotifyChannel sets the LISTEN/NOTIFY channel. Blank names keep the
// default "setting_events".
func WithNotifyChannel(channel string) Option {
	return func(r *PostgresRepository) {
		r.notifyChannel = normalizeNotifyChannel(channel)
	}
}

// WithEventBatchSize caps the number of events returned per page.
func WithEventBatchSize(size int) Option {
	return func(r *PostgresRepository) {
		if size > 0 {
			r.eventBatchSize = size
		}
	}
}

// NewPostgresRepository creates a repository over pool.
func NewPostgresRepository(pool *pgxpool.Pool, opts ...Option) *PostgresRepository {
	r := &PostgresRepository{
		pool:           pool,
		notifyChannel:  defaultNotifyChannel,
		eventBatchSize: defaultEventBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateNamespace inserts a namespace with a fresh UUID.
func (r *PostgresRepository) CreateNamespace(ctx context.Context, name, description string) (Namespace, error) {
	var ns Namespace
	err := r.pool.QueryRow(ctx, `
		INSERT INTO namespaces (id, name, description)
		VALUES ($1, $2, $3)
		RETURNING id, name, description, created_at, updated_at
	`, uuid.NewString(), name, description).Scan(&ns.ID, &ns.Name, &ns.Description, &ns.CreatedAt, &ns.UpdatedAt)
	if err != nil {
		return Namespace{}, fmt.Errorf("create namespace: %w", err)
	}
	return ns, nil
}

// GetNamespace returns the namespace with the given ID.
func (r *PostgresRepository) GetNamespace(ctx context.Context, id string) (Namespace, error) {
	var ns Namespace
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM namespaces
		WHERE id = $1
	`, id).Scan(&ns.ID, &ns.Name, &ns.Description, &ns.CreatedAt, &ns.UpdatedAt)
	if err != nil {
		return Namespace{}, fmt.Errorf("get namespace: %w", err)
	}
	return ns, nil
}

// GetNamespaceByName returns the namespace with the given name.
func (r *PostgresRepository) GetNamespaceByName(ctx context.Context, name string) (Namespace, error) {
	var ns Namespace
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM namespaces
		WHERE name = $1
	`, name).Scan(&ns.ID, &ns.Name, &ns.Description, &ns.CreatedAt, &ns.UpdatedAt)
	if err != nil {
		return Namespace{}, fmt.Errorf("get namespace by name: %w", err)
	}
	return ns, nil
}

// ListNamespaces returns every namespace ordered by name.
func (r *PostgresRepository) ListNamespaces(ctx context.Context) ([]Namespace, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM namespaces
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	defer rows.Close()

	namespaces := make([]Namespace, 0)
	for rows.Next() {
		var ns Namespace
		if err := rows.Scan(&ns.ID, &ns.Name, &ns.Description, &ns.CreatedAt, &ns.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan namespace: %w", err)
		}
		namespaces = append(namespaces, ns)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list namespaces rows: %w", err)
	}

	return namespaces, nil
}

const settingColumns = `namespace_id, setting, position, value, exceptions, labels, description, created_at, updated_at`

func scanSetting(row pgx.Row) (Setting, error) {
	var s Setting
	err := row.Scan(
		&s.NamespaceID,
		&s.Setting,
		&s.Position,
		&s.Value,
		&s.Except,
		&s.Labels,
		&s.Description,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	return s, err
}

// ListSettings returns the settings of a namespace in resolution order.
func (r *PostgresRepository) ListSettings(ctx context.Context, namespaceID string) ([]Setting, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+settingColumns+`
		FROM settings
		WHERE namespace_id = $1
		ORDER BY position, setting
	`, namespaceID)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return collectSettings(rows)
}

// ListAllSettings returns the settings of every namespace, grouped by
// namespace and in resolution order within each.
func (r *PostgresRepository) ListAllSettings(ctx context.Context) ([]Setting, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+settingColumns+`
		FROM settings
		ORDER BY namespace_id, position, setting
	`)
	if err != nil {
		return nil, fmt.Errorf("list all settings: %w", err)
	}
	return collectSettings(rows)
}

func collectSettings(rows pgx.Rows) ([]Setting, error) {
	defer rows.Close()

	settings := make([]Setting, 0)
	for rows.Next() {
		s, err := scanSetting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings = append(settings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list settings rows: %w", err)
	}

	return settings, nil
}

// GetSetting returns a single setting.
func (r *PostgresRepository) GetSetting(ctx context.Context, namespaceID, name string) (Setting, error) {
	s, err := scanSetting(r.pool.QueryRow(ctx, `
		SELECT `+settingColumns+`
		FROM settings
		WHERE namespace_id = $1 AND setting = $2
	`, namespaceID, name))
	if err != nil {
		return Setting{}, fmt.Errorf("get setting: %w", err)
	}
	return s, nil
}

// UpsertSetting inserts a setting at the end of the namespace order, or
// updates it in place when it already exists.
func (r *PostgresRepository) UpsertSetting(ctx context.Context, setting Setting) (Setting, error) {
	s, err := scanSetting(r.pool.QueryRow(ctx, `
		INSERT INTO settings (namespace_id, setting, position, value, exceptions, labels, description)
		VALUES (
			$1, $2,
			(SELECT COALESCE(MAX(position), -1) + 1 FROM settings WHERE namespace_id = $1),
			$3, $4, $5, $6
		)
		ON CONFLICT (namespace_id, setting) DO UPDATE
		SET value = EXCLUDED.value,
		    exceptions = EXCLUDED.exceptions,
		    labels = EXCLUDED.labels,
		    description = EXCLUDED.description,
		    updated_at = NOW()
		RETURNING `+settingColumns,
		setting.NamespaceID,
		setting.Setting,
		ensureJSON(setting.Value, "null"),
		ensureJSON(setting.Except, "[]"),
		ensureLabels(setting.Labels),
		setting.Description,
	))
	if err != nil {
		return Setting{}, fmt.Errorf("upsert setting: %w", err)
	}
	return s, nil
}

// DeleteSetting removes a setting. Returns pgx.ErrNoRows (wrapped) when it
// does not exist.
func (r *PostgresRepository) DeleteSetting(ctx context.Context, namespaceID, name string) error {
	commandTag, err := r.pool.Exec(ctx, `
		DELETE FROM settings
		WHERE namespace_id = $1 AND setting = $2
	`, namespaceID, name)
	if err != nil {
		return fmt.Errorf("delete setting: %w", err)
	}

	return deleteSettingNoRows(commandTag)
}

// ReplaceSettings swaps the whole ordered list of a namespace and records a
// replacement event in one transaction.
func (r *PostgresRepository) ReplaceSettings(ctx context.Context, namespaceID string, settings []Setting) (SettingEvent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return SettingEvent{}, fmt.Errorf("begin replace settings tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM settings WHERE namespace_id = $1`, namespaceID); err != nil {
		return SettingEvent{}, fmt.Errorf("clear settings: %w", err)
	}

	batch := &pgx.Batch{}
	for position, s := range settings {
		batch.Queue(`
			INSERT INTO settings (namespace_id, setting, position, value, exceptions, labels, description)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			namespaceID,
			s.Setting,
			position,
			ensureJSON(s.Value, "null"),
			ensureJSON(s.Except, "[]"),
			ensureLabels(s.Labels),
			s.Description,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return SettingEvent{}, fmt.Errorf("insert settings: %w", err)
	}

	payload, err := json.Marshal(map[string]int{"count": len(settings)})
	if err != nil {
		return SettingEvent{}, fmt.Errorf("marshal replace payload: %w", err)
	}

	event, err := r.publish(ctx, tx, SettingEvent{
		NamespaceID: namespaceID,
		EventType:   EventReplaced,
		Payload:     payload,
	})
	if err != nil {
		return SettingEvent{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return SettingEvent{}, fmt.Errorf("commit replace settings tx: %w", err)
	}

	return event, nil
}

// ValidateAPIKey returns the stored hash and namespace ID for a non-revoked
// key ID.
func (r *PostgresRepository) ValidateAPIKey(ctx context.Context, id string) (string, string, error) {
	var keyHash, namespaceID string
	if err := r.pool.QueryRow(ctx, `
		SELECT key_hash, namespace_id
		FROM api_keys
		WHERE id = $1
		  AND revoked_at IS NULL
	`, id).Scan(&keyHash, &namespaceID); err != nil {
		return "", "", fmt.Errorf("validate api key: %w", err)
	}

	return keyHash, namespaceID, nil
}

// CreateAPIKey generates a key for the namespace and stores a bcrypt hash of
// its secret. The secret is returned exactly once.
func (r *PostgresRepository) CreateAPIKey(ctx context.Context, namespaceID, name string) (string, string, error) {
	keyID, err := generateRandomHex(16)
	if err != nil {
		return "", "", fmt.Errorf("generate key id: %w", err)
	}

	secret, err := generateRandomHex(32)
	if err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash api key: %w", err)
	}

	if strings.TrimSpace(name) == "" {
		name = "api-key-" + keyID[:8]
	}

	if _, err := r.pool.Exec(ctx, `
		INSERT INTO api_keys (id, namespace_id, name, key_hash)
		VALUES ($1, $2, $3, $4)
	`, keyID, namespaceID, name, string(hash)); err != nil {
		return "", "", fmt.Errorf("create api key: %w", err)
	}

	return keyID, secret, nil
}

// ListAPIKeys returns metadata for the non-revoked keys of a namespace.
func (r *PostgresRepository) ListAPIKeys(ctx context.Context, namespaceID string) ([]APIKeyMeta, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, namespace_id, name, created_at
		FROM api_keys
		WHERE namespace_id = $1 AND revoked_at IS NULL
		ORDER BY created_at
	`, namespaceID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]APIKeyMeta, 0)
	for rows.Next() {
		var k APIKeyMeta
		if err := rows.Scan(&k.ID, &k.NamespaceID, &k.Name, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list api keys rows: %w", err)
	}

	return keys, nil
}

// RevokeAPIKey marks a key revoked. Returns pgx.ErrNoRows (wrapped) when the
// key does not exist or is already revoked.
func (r *PostgresRepository) RevokeAPIKey(ctx context.Context, namespaceID, keyID string) error {
	commandTag, err := r.pool.Exec(ctx, `
		UPDATE api_keys SET revoked_at = NOW()
		WHERE id = $1 AND namespace_id = $2 AND revoked_at IS NULL
	`, keyID, namespaceID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return fmt.Errorf("revoke api key: %w", pgx.ErrNoRows)
	}
	return nil
}

// ListEventsSince returns up to one batch of events of a namespace with IDs
// greater than eventID.
func (r *PostgresRepository) ListEventsSince(ctx context.Context, namespaceID string, eventID int64) ([]SettingEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, namespace_id, setting, event_type, payload, created_at
		FROM setting_events
		WHERE event_id > $1 AND namespace_id = $2
		ORDER BY event_id
		LIMIT $3
	`, eventID, namespaceID, r.eventBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list events since: %w", err)
	}
	return collectEvents(rows)
}

// ListEventsSinceForSetting is ListEventsSince restricted to one setting.
// Namespace-wide replacements are included because they may change it.
func (r *PostgresRepository) ListEventsSinceForSetting(ctx context.Context, namespaceID string, eventID int64, name string) ([]SettingEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, namespace_id, setting, event_type, payload, created_at
		FROM setting_events
		WHERE event_id > $1
		  AND namespace_id = $2 AND (setting = $3 OR event_type = $4)
		ORDER BY event_id
		LIMIT $5
	`, eventID, namespaceID, name, EventReplaced, r.eventBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list events since for setting: %w", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]SettingEvent, error) {
	defer rows.Close()

	events := make([]SettingEvent, 0)
	for rows.Next() {
		var event SettingEvent
		if err := rows.Scan(
			&event.EventID,
			&event.NamespaceID,
			&event.Setting,
			&event.EventType,
			&event.Payload,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events rows: %w", err)
	}

	return events, nil
}

// PublishSettingEvent inserts an event and sends a NOTIFY on the configured
// channel within a single transaction.
func (r *PostgresRepository) PublishSettingEvent(ctx context.Context, event SettingEvent) (SettingEvent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return SettingEvent{}, fmt.Errorf("begin publish event tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := r.publish(ctx, tx, event)
	if err != nil {
		return SettingEvent{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return SettingEvent{}, fmt.Errorf("commit publish event tx: %w", err)
	}

	return created, nil
}

func (r *PostgresRepository) publish(ctx context.Context, tx pgx.Tx, event SettingEvent) (SettingEvent, error) {
	var created SettingEvent
	if err := tx.QueryRow(ctx, `
		INSERT INTO setting_events (namespace_id, setting, event_type, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING event_id, namespace_id, setting, event_type, payload, created_at
	`,
		event.NamespaceID,
		event.Setting,
		event.EventType,
		ensureJSON(event.Payload, "{}"),
	).Scan(
		&created.EventID,
		&created.NamespaceID,
		&created.Setting,
		&created.EventType,
		&created.Payload,
		&created.CreatedAt,
	); err != nil {
		return SettingEvent{}, fmt.Errorf("insert setting event: %w", err)
	}

	notifyPayload, err := marshalNotifyPayload(created)
	if err != nil {
		return SettingEvent{}, fmt.Errorf("marshal notify payload: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, r.notifyChannel, notifyPayload); err != nil {
		return SettingEvent{}, fmt.Errorf("notify setting event: %w", err)
	}

	return created, nil
}

// SubscribeSettingInvalidation returns a channel that receives a signal for
// every notification on the LISTEN channel. Lost connections are retried
// every second; the channel is closed when ctx is done.
func (r *PostgresRepository) SubscribeSettingInvalidation(ctx context.Context) (<-chan struct{}, error) {
	invalidations := make(chan struct{}, 1)

	go r.runInvalidationListener(ctx, invalidations)

	return invalidations, nil
}

func (r *PostgresRepository) runInvalidationListener(ctx context.Context, invalidations chan<- struct{}) {
	defer close(invalidations)

	for {
		err := r.listenForInvalidation(ctx, invalidations)
		if err == nil || ctx.Err() != nil {
			return
		}

		retryTimer := time.NewTimer(time.Second)
		select {
		case <-ctx.Done():
			retryTimer.Stop()
			return
		case <-retryTimer.C:
		}
	}
}

func (r *PostgresRepository) listenForInvalidation(ctx context.Context, invalidations chan<- struct{}) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, listenStatement(r.notifyChannel)); err != nil {
		return fmt.Errorf("listen on %q: %w", r.notifyChannel, err)
	}

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return fmt.Errorf("wait for setting event notification: %w", err)
		}

		select {
		case invalidations <- struct{}{}:
		default:
		}
	}
}

// InsertAuditLog writes a single audit log entry.
func (r *PostgresRepository) InsertAuditLog(ctx context.Context, entry AuditLogEntry) error {
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (namespace_id, api_key_id, action, setting, details)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.NamespaceID, entry.APIKeyID, entry.Action, entry.Setting, ensureJSON(entry.Details, "{}")); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListAuditLog returns audit entries for a namespace, newest first.
func (r *PostgresRepository) ListAuditLog(ctx context.Context, namespaceID string, limit, offset int) ([]AuditLogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, namespace_id, api_key_id, action, setting, details, created_at
		FROM audit_log
		WHERE namespace_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, namespaceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()

	entries := make([]AuditLogEntry, 0)
	for rows.Next() {
		var e AuditLogEntry
		if err := rows.Scan(&e.ID, &e.NamespaceID, &e.APIKeyID, &e.Action, &e.Setting, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit log rows: %w", err)
	}
	return entries, nil
}

func deleteSettingNoRows(commandTag pgconn.CommandTag) error {
	if commandTag.RowsAffected() == 0 {
		return fmt.Errorf("delete setting: %w", pgx.ErrNoRows)
	}

	return nil
}

func normalizeNotifyChannel(channel string) string {
	if trimmed := strings.TrimSpace(channel); trimmed != "" {
		return trimmed
	}

	return defaultNotifyChannel
}

func ensureJSON(input json.RawMessage, fallback string) json.RawMessage {
	if len(input) == 0 {
		return json.RawMessage(fallback)
	}

	return input
}

func ensureLabels(labels []string) []string {
	if labels == nil {
		return []string{}
	}
	return labels
}

func listenStatement(channel string) string {
	return fmt.Sprintf("LISTEN %s", pgx.Identifier{channel}.Sanitize())
}

func generateRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func marshalNotifyPayload(event SettingEvent) (string, error) {
	serialized, err := json.Marshal(struct {
		NamespaceID string `json:"namespace_id"`
		Setting     string `json:"setting"`
		EventType   string `json:"event_type"`
	}{
		NamespaceID: event.NamespaceID,
		Setting:     event.Setting,
		EventType:   event.EventType,
	})
	if err != nil {
		return "", err
	}

	return string(serialized), nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matt-riley/cerebro/internal/core"
	"github.com/matt-riley/cerebro/internal/engine"
	"github.com/matt-riley/cerebro/internal/loader"
	"github.com/matt-riley/cerebro/internal/repository"
	"github.com/matt-riley/cerebro/internal/settings"
)

const (
	bestEffortTimeout          = 2 * time.Second
	defaultCacheResyncInterval = time.Minute
	cacheReloadTimeout         = 5 * time.Second
	tracerName                 = "github.com/matt-riley/cerebro/internal/service"
)

var (
	ErrNamespaceRequired = errors.New("namespace is required")
	ErrNamespaceNotFound = errors.New("namespace not found")
	ErrSettingRequired   = errors.New("setting name is required")
	ErrSettingNotFound   = errors.New("setting not found")
	ErrInvalidEntry      = errors.New("invalid setting entry")
)

type Repository interface {
	GetNamespace(ctx context.Context, id string) (repository.Namespace, error)
	GetNamespaceByName(ctx context.Context, name string) (repository.Namespace, error)
	ListNamespaces(ctx context.Context) ([]repository.Namespace, error)
	ListAllSettings(ctx context.Context) ([]repository.Setting, error)
	ListSettings(ctx context.Context, namespaceID string) ([]repository.Setting, error)
	UpsertSetting(ctx context.Context, setting repository.Setting) (repository.Setting, error)
	DeleteSetting(ctx context.Context, namespaceID, name string) error
	ReplaceSettings(ctx context.Context, namespaceID string, settings []repository.Setting) (repository.SettingEvent, error)
	ListEventsSince(ctx context.Context, namespaceID string, eventID int64) ([]repository.SettingEvent, error)
	ListEventsSinceForSetting(ctx context.Context, namespaceID string, eventID int64, name string) ([]repository.SettingEvent, error)
	PublishSettingEvent(ctx context.Context, event repository.SettingEvent) (repository.SettingEvent, error)
}

type cacheInvalidationSubscriber interface {
	SubscribeSettingInvalidation(ctx context.Context) (<-chan struct{}, error)
}

type auditLogWriter interface {
	InsertAuditLog(ctx context.Context, entry repository.AuditLogEntry) error
}

// namespaceState is the cached view of one namespace. The engine swaps its
// snapshot atomically, so resolutions never need the service lock.
type namespaceState struct {
	settings []repository.Setting
	engine   *engine.Engine
}

type Service struct {
	repo       Repository
	logger     *slog.Logger
	validator  *loader.Validator
	evaluators core.Evaluators
	tracer     trace.Tracer
	actor      func(context.Context) string

	resyncInterval time.Duration

	onCacheLoad         func()
	onCacheInvalidation func()
	onCacheReset        func()
	onCacheUpdate       func(namespaceID string, size float64)
	onResolve           func(namespaceID string, elapsed time.Duration, err error)

	mu         sync.RWMutex
	namespaces map[string]*namespaceState
}

// Option configures a [Service].
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithValidator replaces the validator used for writes. The default checks
// templates and the embedded entry schema.
func WithValidator(validator *loader.Validator) Option {
	return func(s *Service) {
		if validator != nil {
			s.validator = validator
		}
	}
}

// WithEvaluators registers custom evaluators in addition to the built-in
// ones. A custom evaluator with a built-in name replaces it.
func WithEvaluators(evaluators core.Evaluators) Option {
	return func(s *Service) {
		for name, fn := range evaluators {
			s.evaluators[name] = fn
		}
	}
}

// WithActor extracts the caller identity recorded in the audit log.
func WithActor(actor func(context.Context) string) Option {
	return func(s *Service) {
		s.actor = actor
	}
}

// WithCacheResyncInterval sets how often the cache is reloaded in the
// absence of invalidations.
func WithCacheResyncInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.resyncInterval = interval
		}
	}
}

// WithCacheMetrics sets callbacks for cache instrumentation.
// onCacheReset is called once before the per-namespace onCacheUpdate calls of
// every reload so stale namespaces can be dropped from gauges.
func WithCacheMetrics(onCacheLoad, onCacheInvalidation, onCacheReset func(), onCacheUpdate func(namespaceID string, size float64)) Option {
	return func(s *Service) {
		s.onCacheLoad = onCacheLoad
		s.onCacheInvalidation = onCacheInvalidation
		s.onCacheReset = onCacheReset
		s.onCacheUpdate = onCacheUpdate
	}
}

// WithResolveObserver is called after every resolution.
func WithResolveObserver(fn func(namespaceID string, elapsed time.Duration, err error)) Option {
	return func(s *Service) {
		s.onResolve = fn
	}
}

func New(ctx context.Context, repo Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is nil")
	}

	svc := &Service{
		repo:           repo,
		logger:         slog.Default(),
		evaluators:     BuiltinEvaluators(),
		tracer:         otel.Tracer(tracerName),
		resyncInterval: defaultCacheResyncInterval,
		namespaces:     make(map[string]*namespaceState),
	}
	for _, opt := range opts {
		opt(svc)
	}

	if err := core.ValidateEvaluators(svc.evaluators); err != nil {
		return nil, err
	}
	if svc.validator == nil {
		validator, err := loader.NewValidator(nil)
		if err != nil {
			return nil, fmt.Errorf("build default validator: %w", err)
		}
		svc.validator = validator
	}

	if err := svc.LoadCache(ctx); err != nil {
		return nil, err
	}
	if subscriber, ok := repo.(cacheInvalidationSubscriber); ok {
		if err := svc.startCacheInvalidationListener(ctx, subscriber); err != nil {
			return nil, err
		}
	}

	return svc, nil
}

// LoadCache reloads every namespace from the repository. Existing engines
// keep serving and swap to the new entries atomically.
func (s *Service) LoadCache(ctx context.Context) error {
	if s.onCacheLoad != nil {
		s.onCacheLoad()
	}

	namespaces, err := s.repo.ListNamespaces(ctx)
	if err != nil {
		return fmt.Errorf("load namespaces: %w", err)
	}

	rows, err := s.repo.ListAllSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	grouped := make(map[string][]repository.Setting, len(namespaces))
	for _, ns := range namespaces {
		grouped[ns.ID] = nil
	}
	for _, row := range rows {
		grouped[row.NamespaceID] = append(grouped[row.NamespaceID], row)
	}

	prepared := make(map[string][]core.Entry, len(grouped))
	for namespaceID, list := range grouped {
		sortSettings(list)
		entries, err := entriesFromSettings(list)
		if err != nil {
			return fmt.Errorf("load namespace %s: %w", namespaceID, err)
		}
		prepared[namespaceID] = entries
	}

	s.mu.Lock()
	next := make(map[string]*namespaceState, len(grouped))
	for namespaceID, list := range grouped {
		state, err := s.stateFor(namespaceID, prepared[namespaceID])
		if err != nil {
			s.mu.Unlock()
			return err
		}
		state.settings = list
		next[namespaceID] = state
	}
	s.namespaces = next
	s.mu.Unlock()

	if s.onCacheReset != nil {
		s.onCacheReset()
	}
	if s.onCacheUpdate != nil {
		for namespaceID, list := range grouped {
			s.onCacheUpdate(namespaceID, float64(len(list)))
		}
	}

	return nil
}

// stateFor reuses the cached engine for namespaceID or builds one. Callers
// hold s.mu.
func (s *Service) stateFor(namespaceID string, entries []core.Entry) (*namespaceState, error) {
	if existing, ok := s.namespaces[namespaceID]; ok {
		existing.engine.Update(entries)
		return &namespaceState{settings: existing.settings, engine: existing.engine}, nil
	}

	eng, err := engine.New(entries, engine.WithEvaluators(s.evaluators), engine.WithLogger(s.logger))
	if err != nil {
		return nil, fmt.Errorf("build engine for namespace %s: %w", namespaceID, err)
	}

	return &namespaceState{engine: eng}, nil
}

// NamespaceByName looks up a namespace by its name.
func (s *Service) NamespaceByName(ctx context.Context, name string) (repository.Namespace, error) {
	if strings.TrimSpace(name) == "" {
		return repository.Namespace{}, ErrNamespaceRequired
	}

	ns, err := s.repo.GetNamespaceByName(ctx, name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Namespace{}, ErrNamespaceNotFound
		}
		return repository.Namespace{}, fmt.Errorf("get namespace %q: %w", name, err)
	}

	return ns, nil
}

// ListSettings returns the cached settings of a namespace in resolution
// order.
func (s *Service) ListSettings(ctx context.Context, namespaceID string) ([]repository.Setting, error) {
	state, err := s.namespace(ctx, namespaceID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	list := append([]repository.Setting(nil), state.settings...)
	s.mu.RUnlock()

	return list, nil
}

// GetSetting returns a single cached setting.
func (s *Service) GetSetting(ctx context.Context, namespaceID, name string) (repository.Setting, error) {
	if strings.TrimSpace(name) == "" {
		return repository.Setting{}, ErrSettingRequired
	}

	list, err := s.ListSettings(ctx, namespaceID)
	if err != nil {
		return repository.Setting{}, err
	}

	for _, setting := range list {
		if setting.Setting == name {
			return setting, nil
		}
	}

	return repository.Setting{}, ErrSettingNotFound
}

// PutSetting creates or updates one setting. The namespace's whole entry
// list, with the change applied, must pass validation.
func (s *Service) PutSetting(ctx context.Context, setting repository.Setting) (repository.Setting, error) {
	if strings.TrimSpace(setting.Setting) == "" {
		return repository.Setting{}, ErrSettingRequired
	}

	current, err := s.ListSettings(ctx, setting.NamespaceID)
	if err != nil {
		return repository.Setting{}, err
	}

	candidate := make([]repository.Setting, 0, len(current)+1)
	replaced := false
	for _, existing := range current {
		if existing.Setting == setting.Setting {
			candidate = append(candidate, setting)
			replaced = true
			continue
		}
		candidate = append(candidate, existing)
	}
	if !replaced {
		candidate = append(candidate, setting)
	}

	if err := s.validate(candidate); err != nil {
		return repository.Setting{}, err
	}

	saved, err := s.repo.UpsertSetting(ctx, setting)
	if err != nil {
		return repository.Setting{}, fmt.Errorf("upsert setting: %w", err)
	}

	s.reloadNamespaceBestEffort(ctx, setting.NamespaceID)
	s.publishSettingEventBestEffort(ctx, repository.EventUpdated, saved)
	s.auditBestEffort(ctx, "setting.put", saved.NamespaceID, saved.Setting, saved)

	return saved, nil
}

// DeleteSetting removes a setting.
func (s *Service) DeleteSetting(ctx context.Context, namespaceID, name string) error {
	existing, err := s.GetSetting(ctx, namespaceID, name)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteSetting(ctx, namespaceID, name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.reloadNamespaceBestEffort(ctx, namespaceID)
			return ErrSettingNotFound
		}
		return fmt.Errorf("delete setting: %w", err)
	}

	s.reloadNamespaceBestEffort(ctx, namespaceID)
	s.publishSettingEventBestEffort(ctx, repository.EventDeleted, existing)
	s.auditBestEffort(ctx, "setting.delete", namespaceID, name, existing)

	return nil
}

// ReplaceSettings swaps the complete ordered list of a namespace. The list
// order becomes the resolution order.
func (s *Service) ReplaceSettings(ctx context.Context, namespaceID string, list []repository.Setting) ([]repository.Setting, error) {
	if _, err := s.namespace(ctx, namespaceID); err != nil {
		return nil, err
	}

	if err := s.validate(list); err != nil {
		return nil, err
	}

	for idx := range list {
		list[idx].NamespaceID = namespaceID
	}

	if _, err := s.repo.ReplaceSettings(ctx, namespaceID, list); err != nil {
		return nil, fmt.Errorf("replace settings: %w", err)
	}

	s.reloadNamespaceBestEffort(ctx, namespaceID)
	s.auditBestEffort(ctx, "settings.replace", namespaceID, "", map[string]int{"count": len(list)})

	return s.ListSettings(ctx, namespaceID)
}

// ValidateSettings checks a candidate list without storing it.
func (s *Service) ValidateSettings(list []repository.Setting) loader.Report {
	entries, err := entriesFromSettings(list)
	if err != nil {
		return loader.Report{Errors: []loader.Problem{{Path: "/", Message: err.Error()}}}
	}

	report := s.validator.ValidateEntries(entries)
	for _, problem := range duplicateSettings(list) {
		report.Valid = false
		report.Errors = append(report.Errors, problem)
	}

	return report
}

// Resolve runs a resolution pass over the cached entries of a namespace.
func (s *Service) Resolve(ctx context.Context, namespaceID string, evalContext core.Context, overrides core.Overrides) (*settings.Config, error) {
	ctx, span := s.tracer.Start(ctx, "service.Resolve", trace.WithAttributes(
		attribute.String("cerebro.namespace_id", namespaceID),
		attribute.Int("cerebro.context_size", len(evalContext)),
		attribute.Int("cerebro.override_count", len(overrides)),
	))
	defer span.End()

	start := time.Now()
	cfg, err := s.resolve(ctx, namespaceID, evalContext, overrides)
	if s.onResolve != nil {
		s.onResolve(namespaceID, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("cerebro.resolved_count", len(cfg.Raw())))
	return cfg, nil
}

func (s *Service) resolve(ctx context.Context, namespaceID string, evalContext core.Context, overrides core.Overrides) (*settings.Config, error) {
	state, err := s.namespace(ctx, namespaceID)
	if err != nil {
		return nil, err
	}

	return state.engine.ResolveConfig(evalContext, overrides)
}

func (s *Service) ListEventsSince(ctx context.Context, namespaceID string, eventID int64) ([]repository.SettingEvent, error) {
	if strings.TrimSpace(namespaceID) == "" {
		return nil, ErrNamespaceRequired
	}

	events, err := s.repo.ListEventsSince(ctx, namespaceID, eventID)
	if err != nil {
		return nil, fmt.Errorf("list events since %d: %w", eventID, err)
	}

	return events, nil
}

func (s *Service) ListEventsSinceForSetting(ctx context.Context, namespaceID string, eventID int64, name string) ([]repository.SettingEvent, error) {
	if strings.TrimSpace(namespaceID) == "" {
		return nil, ErrNamespaceRequired
	}
	if strings.TrimSpace(name) == "" {
		return nil, ErrSettingRequired
	}

	events, err := s.repo.ListEventsSinceForSetting(ctx, namespaceID, eventID, name)
	if err != nil {
		return nil, fmt.Errorf("list events since %d for setting %q: %w", eventID, name, err)
	}

	return events, nil
}

// namespace returns the cached state, falling back to the repository for
// namespaces created after the last reload.
func (s *Service) namespace(ctx context.Context, namespaceID string) (*namespaceState, error) {
	if strings.TrimSpace(namespaceID) == "" {
		return nil, ErrNamespaceRequired
	}

	s.mu.RLock()
	state, ok := s.namespaces[namespaceID]
	s.mu.RUnlock()
	if ok {
		return state, nil
	}

	if _, err := s.repo.GetNamespace(ctx, namespaceID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNamespaceNotFound
		}
		return nil, fmt.Errorf("get namespace: %w", err)
	}

	if err := s.reloadNamespace(ctx, namespaceID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	state, ok = s.namespaces[namespaceID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNamespaceNotFound
	}

	return state, nil
}

func (s *Service) reloadNamespace(ctx context.Context, namespaceID string) error {
	list, err := s.repo.ListSettings(ctx, namespaceID)
	if err != nil {
		return fmt.Errorf("load namespace %s: %w", namespaceID, err)
	}
	sortSettings(list)

	entries, err := entriesFromSettings(list)
	if err != nil {
		return fmt.Errorf("load namespace %s: %w", namespaceID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.stateFor(namespaceID, entries)
	if err != nil {
		return err
	}
	state.settings = list
	s.namespaces[namespaceID] = state

	if s.onCacheUpdate != nil {
		s.onCacheUpdate(namespaceID, float64(len(list)))
	}

	return nil
}

func (s *Service) validate(list []repository.Setting) error {
	if err := s.ValidateSettings(list).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return nil
}

func (s *Service) startCacheInvalidationListener(ctx context.Context, subscriber cacheInvalidationSubscriber) error {
	invalidations, err := subscriber.SubscribeSettingInvalidation(ctx)
	if err != nil {
		return fmt.Errorf("subscribe cache invalidation: %w", err)
	}

	go func() {
		resyncTicker := time.NewTicker(s.resyncInterval)
		defer resyncTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-resyncTicker.C:
				if invalidations == nil {
					next, err := subscriber.SubscribeSettingInvalidation(ctx)
					if err == nil {
						invalidations = next
					}
				}
				s.reloadCache(ctx)
			case _, ok := <-invalidations:
				if !ok {
					next, err := subscriber.SubscribeSettingInvalidation(ctx)
					if err != nil {
						invalidations = nil
						continue
					}
					invalidations = next
					continue
				}
				if s.onCacheInvalidation != nil {
					s.onCacheInvalidation()
				}
				s.reloadCache(ctx)
			}
		}
	}()

	return nil
}

func (s *Service) reloadCache(ctx context.Context) {
	reloadCtx, cancel := context.WithTimeout(ctx, cacheReloadTimeout)
	defer cancel()
	if err := s.LoadCache(reloadCtx); err != nil {
		s.logger.Warn("settings cache reload failed", "error", err)
	}
}

func (s *Service) reloadNamespaceBestEffort(ctx context.Context, namespaceID string) {
	// The write has already committed; the resync ticker repairs a failed reload.
	reloadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheReloadTimeout)
	defer cancel()
	if err := s.reloadNamespace(reloadCtx, namespaceID); err != nil {
		s.logger.Warn("namespace reload failed", "namespace_id", namespaceID, "error", err)
	}
}

func (s *Service) publishSettingEventBestEffort(ctx context.Context, eventType string, setting repository.Setting) {
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bestEffortTimeout)
	defer cancel()
	if err := s.publishSettingEvent(publishCtx, eventType, setting); err != nil {
		s.logger.Warn("publish setting event failed", "setting", setting.Setting, "error", err)
	}
}

func (s *Service) publishSettingEvent(ctx context.Context, eventType string, setting repository.Setting) error {
	payload, err := json.Marshal(setting)
	if err != nil {
		return fmt.Errorf("marshal %s event payload: %w", eventType, err)
	}

	_, err = s.repo.PublishSettingEvent(ctx, repository.SettingEvent{
		NamespaceID: setting.NamespaceID,
		Setting:     setting.Setting,
		EventType:   eventType,
		Payload:     payload,
	})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	return nil
}

func (s *Service) auditBestEffort(ctx context.Context, action, namespaceID, name string, details any) {
	writer, ok := s.repo.(auditLogWriter)
	if !ok {
		return
	}

	payload, err := json.Marshal(details)
	if err != nil {
		s.logger.Warn("marshal audit details failed", "action", action, "error", err)
		return
	}

	entry := repository.AuditLogEntry{
		NamespaceID: namespaceID,
		Action:      action,
		Setting:     name,
		Details:     payload,
	}
	if s.actor != nil {
		entry.APIKeyID = s.actor(ctx)
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bestEffortTimeout)
	defer cancel()
	if err := writer.InsertAuditLog(auditCtx, entry); err != nil {
		s.logger.Warn("write audit log failed", "action", action, "error", err)
	}
}

func sortSettings(list []repository.Setting) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Position < list[j].Position
	})
}

func duplicateSettings(list []repository.Setting) []loader.Problem {
	var problems []loader.Problem
	seen := make(map[string]int, len(list))
	for idx, setting := range list {
		if first, ok := seen[setting.Setting]; ok {
			problems = append(problems, loader.Problem{
				Setting: setting.Setting,
				Path:    fmt.Sprintf("/%d/setting", idx),
				Message: fmt.Sprintf("duplicate of entry %d", first),
			})
			continue
		}
		seen[setting.Setting] = idx
	}
	return problems
}

package server

import (
	"context"

	"github.com/matt-riley/cerebro/internal/core"
	"github.com/matt-riley/cerebro/internal/loader"
	"github.com/matt-riley/cerebro/internal/repository"
	"github.com/matt-riley/cerebro/internal/service"
	"github.com/matt-riley/cerebro/internal/settings"
)

// Service is the part of [service.Service] the transports depend on.
type Service interface {
	NamespaceByName(ctx context.Context, name string) (repository.Namespace, error)
	ListSettings(ctx context.Context, namespaceID string) ([]repository.Setting, error)
	GetSetting(ctx context.Context, namespaceID, name string) (repository.Setting, error)
	PutSetting(ctx context.Context, setting repository.Setting) (repository.Setting, error)
	DeleteSetting(ctx context.Context, namespaceID, name string) error
	ReplaceSettings(ctx context.Context, namespaceID string, list []repository.Setting) ([]repository.Setting, error)
	ValidateSettings(list []repository.Setting) loader.Report
	Resolve(ctx context.Context, namespaceID string, evalContext core.Context, overrides core.Overrides) (*settings.Config, error)
	ListEventsSince(ctx context.Context, namespaceID string, eventID int64) ([]repository.SettingEvent, error)
	ListEventsSinceForSetting(ctx context.Context, namespaceID string, eventID int64, name string) ([]repository.SettingEvent, error)
}

var _ Service = (*service.Service)(nil)

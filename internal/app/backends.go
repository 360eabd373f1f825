package app

import (
	"context"
	"fmt"
	"log/slog"

	"rollcall/internal/archive"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/remote"
	"rollcall/internal/remote/docstore"
	"rollcall/internal/remote/local"
	"rollcall/internal/remote/realtime"
	"rollcall/internal/search"
)

// OpenBackend connects the remote store selected by cfg.Backend.
func OpenBackend(ctx context.Context, cfg config.Config) (remote.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return remote.NewMemory(), nil
	case config.BackendSQLite:
		return local.New(cfg.SQLitePath)
	case config.BackendRedis:
		return realtime.New(cfg.RedisURL)
	case config.BackendPostgres:
		return docstore.New(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// OpenDeps builds every collaborator cfg enables. Search and archive
// failures are logged and leave the feature off; a backend failure is
// returned.
func OpenDeps(ctx context.Context, cfg config.Config, log *slog.Logger) (Deps, error) {
	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return Deps{}, fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	gate, err := auth.NewRoleGate(cfg.APIKeyHash, cfg.AdminKeyHash)
	if err != nil {
		_ = backend.Close()
		return Deps{}, err
	}
	deps := Deps{Backend: backend, Gate: gate, Logger: log}

	if cfg.SearchEnabled() {
		deps.Search = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
	}
	if cfg.ArchiveEnabled() {
		store, err := archive.New(ctx, archive.Options{
			Endpoint:   cfg.MinioEndpoint,
			AccessKey:  cfg.MinioAccessKey,
			SecretKey:  cfg.MinioSecretKey,
			Bucket:     cfg.MinioBucket,
			UseSSL:     cfg.MinioUseSSL,
			PresignTTL: cfg.PresignTTL,
		})
		if err != nil {
			log.Warn("snapshot archive disabled", "error", err)
		} else {
			deps.Archive = store
		}
	}
	return deps, nil
}

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"user-stream-ingestor/internal/checkpoint"
	"user-stream-ingestor/internal/config"
	"user-stream-ingestor/internal/db"
	"user-stream-ingestor/internal/db/migrate"
	"user-stream-ingestor/internal/pipeline"
	"user-stream-ingestor/internal/user/domain"
	"user-stream-ingestor/internal/user/repository"
)

// app holds the destination-side dependencies shared by every command.
type app struct {
	cfg         *config.Config
	pool        *pgxpool.Pool
	dest        repository.Destination
	repo        *repository.PostgresRepository
	provisioner *repository.Provisioner
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	dest := repository.Destination{
		Namespace: cfg.DestNamespace,
		Table:     cfg.DestTable,
		Schema:    domain.UserSchema(cfg.SchemaStrict),
	}
	pool, err := db.Open(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return nil, fmt.Errorf("destination %s unreachable: %w", dest, err)
	}
	repo, err := repository.NewPostgresRepository(pool, dest, cfg.WriteTimeout)
	if err != nil {
		pool.Close()
		return nil, err
	}
	prov, err := repository.NewProvisioner(pool, dest)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &app{cfg: cfg, pool: pool, dest: dest, repo: repo, provisioner: prov}, nil
}

func (a *app) Close() {
	a.pool.Close()
}

// checkpoints returns the configured store and the provisioning step it needs before use.
func (a *app) checkpoints() (checkpoint.Store, pipeline.Provisioner) {
	if a.cfg.CheckpointBackend == config.CheckpointMemory {
		return checkpoint.NewMemoryStore(), pipeline.ProvisionFunc(func(context.Context) error { return nil })
	}
	dsn := a.cfg.DatabaseURL
	return checkpoint.NewPostgresStore(a.pool), pipeline.ProvisionFunc(func(context.Context) error {
		if err := migrate.Up(dsn); err != nil {
			return fmt.Errorf("checkpoint store migrations: %w", err)
		}
		return nil
	})
}

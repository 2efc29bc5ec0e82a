package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/spf13/cobra"

	"github.com/essaygrader/hub/internal/bootstrap"
	"github.com/essaygrader/hub/internal/config"
	"github.com/essaygrader/hub/internal/observability"
	"github.com/essaygrader/hub/pkg/database"
)

// cli holds the state shared by all commands. Services are built on first use so that
// commands that only touch the database do not need provider credentials.
type cli struct {
	out         io.Writer
	logLevel    string
	skipMigrate bool

	cfg      *config.Config
	db       *pgxpool.Pool
	services *bootstrap.Services
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "gradectl",
		Short:         "Index answer keys and student answers, and grade answers from the command line",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.open(cmd.Context(), !c.skipMigrate && cmd.Name() != "migrate")
		},
	}

	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to LOG_LEVEL")
	root.PersistentFlags().BoolVar(&c.skipMigrate, "skip-migrate", false, "do not apply database migrations before running")

	root.AddCommand(newMigrateCmd(c), newIndexCmd(c), newReindexCmd(c), newAssessCmd(c))

	return root
}

func (c *cli) open(ctx context.Context, migrate bool) error {
	cfg, err := config.LoadWithoutAPIKey()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	level := cfg.LogLevel
	if c.logLevel != "" {
		level = c.logLevel
	}

	slog.SetDefault(observability.NewLogger(os.Stderr, level))

	db, err := database.NewPostgresPool(ctx, cfg.DatabaseURL,
		database.WithVectorTypes(), database.WithMaxConns(cfg.DatabaseMaxConns))
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	c.cfg = cfg
	c.db = db

	if !migrate {
		return nil
	}

	return database.Migrate(ctx, db)
}

func (c *cli) close() {
	if c.db != nil {
		c.db.Close()
	}
}

// servicesFor builds providers and services. With async, indexing jobs go to River through
// an insert-only client; the API process runs the workers.
func (c *cli) servicesFor(ctx context.Context, async bool) (*bootstrap.Services, error) {
	if c.services == nil {
		embedding, err := bootstrap.NewEmbeddingProvider(ctx, c.cfg)
		if err != nil {
			return nil, err
		}

		chat, err := bootstrap.NewChatProvider(ctx, c.cfg)
		if err != nil {
			return nil, err
		}

		index, err := bootstrap.NewVectorIndex(c.cfg, c.db)
		if err != nil {
			return nil, err
		}

		services, err := bootstrap.NewServices(bootstrap.Params{
			Config:    c.cfg,
			DB:        c.db,
			Embedding: embedding,
			Chat:      chat,
			Index:     index,
			Logger:    slog.Default(),
		})
		if err != nil {
			return nil, err
		}

		c.services = services
	}

	if async {
		client, err := river.NewClient[pgx.Tx](riverpgxv5.New(c.db), &river.Config{
			MaxAttempts: c.cfg.IndexingMaxAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("create River client: %w", err)
		}

		c.services.Indexing.SetInserter(client)
	}

	return c.services, nil
}

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and River migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := database.Migrate(cmd.Context(), c.db); err != nil {
				return err
			}

			_, err := fmt.Fprintln(c.out, "schema up to date")

			return err
		},
	}
}

package cmd

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/arkantrust/geocrud-api/config"
	"github.com/arkantrust/geocrud-api/handlers"
	"github.com/arkantrust/geocrud-api/ingest"
	"github.com/arkantrust/geocrud-api/server"
	"github.com/arkantrust/geocrud-api/service"
	"github.com/arkantrust/geocrud-api/store"
)

func newServeCommand(_ io.Reader, stdout, _ io.Writer) *cobra.Command {
	cfg := config.New()
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API.",
		Long: `geocrud serve opens the configured store and serves the record API
under /api/geo together with /health/live, /health/ready and /metrics.

With --store postgres the embedded migrations are applied first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := config.SetupLogger(cfg, stdout)
			logger.Info("starting geocrud",
				slog.String("version", config.Version),
				slog.String("store", cfg.Store),
				slog.Int("port", cfg.Port),
			)
			return serve(cmd.Context(), cfg, logger)
		},
	}
	flags := serveCmd.Flags()
	cfg.ServerFlags(flags)
	cfg.StoreFlags(flags)
	return serveCmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Store == config.StorePostgres {
		if err := store.Migrate(cfg, logger); err != nil {
			return err
		}
	}

	s, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	pipeline := ingest.NewPipeline(s, ingest.NewDuplicateChecker(s), logger)
	records := service.NewRecordService(s, service.NewRecordCache(cfg.CacheSize, cfg.CacheTTL), logger)

	router := server.NewRouter(cfg, logger,
		handlers.New(pipeline, records, logger),
		handlers.NewHealthHandler(store.NewReadinessChecker(s)),
	)
	return server.New(cfg, logger, router).Run()
}

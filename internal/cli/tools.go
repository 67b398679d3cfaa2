package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"panel-quiz-service/internal/infra/memory"
	pgloader "panel-quiz-service/internal/infra/postgres"
	"panel-quiz-service/internal/logger"
	transport "panel-quiz-service/internal/transport/http"
)

// NewImportBankCmd loads YAML question banks into postgres.
func NewImportBankCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import-bank FILE...",
		Short: "Import YAML question banks into postgres",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger.Init(cfg.Log.Level)
			if cfg.Postgres.URL == "" {
				return errNoPostgres
			}
			ctx := cmd.Context()
			if err := runMigrationsWithConfig(ctx, cfg); err != nil {
				return err
			}
			pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			loader := pgloader.NewBankLoader(pool)
			for _, path := range args {
				raw, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				bank, err := memory.ParseBank(id, raw)
				if err != nil {
					return err
				}
				if err := loader.SaveBank(ctx, bank); err != nil {
					return err
				}
				log.Info().Str("bank", bank.ID).Int("questions", len(bank.Questions)).Msg("bank imported")
			}
			return nil
		},
	}
}

// NewTokenCmd mints a bearer token for local testing.
func NewTokenCmd(configPath *string) *cobra.Command {
	var (
		name string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token ID",
		Short: "Issue a signed bearer token for a user id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwtSecret (JWT_SECRET) is required")
			}
			if name == "" {
				name = args[0]
			}
			tok, err := transport.IssueToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, args[0], name, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

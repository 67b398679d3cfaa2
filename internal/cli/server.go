package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"panel-quiz-service/internal/app"
	"panel-quiz-service/internal/config"
	"panel-quiz-service/internal/domain"
	"panel-quiz-service/internal/infra/llm"
	"panel-quiz-service/internal/infra/memory"
	mongostore "panel-quiz-service/internal/infra/mongo"
	pgloader "panel-quiz-service/internal/infra/postgres"
	redisstore "panel-quiz-service/internal/infra/redis"
	"panel-quiz-service/internal/logger"
	"panel-quiz-service/internal/metrics"
	transport "panel-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	metrics.InitPrometheus()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
	}

	banks := newBankRepository(cfg, redisClient, pool)
	games, closeGames, err := newGameStore(ctx, cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeGames()

	dispatcher, recommender, err := newDispatcher(cfg)
	if err != nil {
		return err
	}
	reports := app.NewReportBuilder(recommender)

	service := app.NewGameService(games, banks, dispatcher, reports,
		app.WithTimer(app.NewAfterFuncTimer()),
		app.WithDefaultBank(cfg.Questions.DefaultBank),
		app.WithRoundDuration(config.TTLDuration(cfg.Round.Duration, 5*time.Minute)),
	)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := transport.NewRouter(service, transport.RouterConfig{
		JWTSecret: cfg.Auth.JWTSecret,
		RateRPS:   cfg.RateLimit.RPS,
		RateBurst: cfg.RateLimit.Burst,
	})

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	srv := transport.StartServer(router, finalPort)
	log.Info().
		Str("store", cfg.Store.Backend).
		Int("judges", dispatcher.Panel().Size()).
		Bool("generator", cfg.Judges.APIKey != "").
		Msg("quiz service started")

	<-ctx.Done()
	log.Info().Msg("shutting down")
	return transport.ShutdownServer(srv, config.TTLDuration(cfg.Server.ShutdownTimeout, 10*time.Second))
}

// newBankRepository prefers postgres, then a YAML directory, then the
// built-in sample bank. Redis, when configured, caches in front of the loader.
func newBankRepository(cfg config.Config, redisClient *redis.Client, pool *pgxpool.Pool) app.BankRepository {
	var loader memory.BankLoader = memory.NewStaticBankLoader(sampleBank())
	switch {
	case pool != nil:
		loader = pgloader.NewBankLoader(pool)
	case cfg.Questions.Dir != "":
		loader = memory.NewFileBankLoader(cfg.Questions.Dir)
	}

	ttl := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)
	if redisClient != nil {
		return redisstore.NewBankRepository(redisClient, loader, ttl)
	}
	return memory.NewBankRepository(loader, ttl)
}

func newGameStore(ctx context.Context, cfg config.Config, redisClient *redis.Client) (app.GameStore, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		ttl := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)
		return redisstore.NewGameStore(redisClient, ttl), func() {}, nil
	case config.BackendMongo:
		client, err := mongostore.NewClient(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		store := mongostore.NewGameStore(client)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Close(context.Background())
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}
		closeFn := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Close(closeCtx); err != nil {
				log.Warn().Err(err).Msg("close mongo")
			}
		}
		return store, closeFn, nil
	default:
		return memory.NewGameStore(), func() {}, nil
	}
}

// newDispatcher builds the judge panel. Without an API key every judge call
// fails fast and the panel scores with fallback verdicts.
func newDispatcher(cfg config.Config) (*app.Dispatcher, app.Recommender, error) {
	judges := cfg.Judges.Panel
	if len(judges) == 0 {
		judges = app.DefaultJudges()
	}
	panel, err := app.NewPanel(judges)
	if err != nil {
		return nil, nil, fmt.Errorf("judge panel: %w", err)
	}

	timeout := config.TTLDuration(cfg.Judges.Timeout, 30*time.Second)
	client := llm.NewClient(cfg.Judges.APIKey, llm.Options{
		BaseURL:           cfg.Judges.BaseURL,
		Model:             cfg.Judges.Model,
		RequestsPerSecond: cfg.Judges.RequestsPerSecond,
		Burst:             panel.Size(),
		Timeout:           timeout,
	})
	if cfg.Judges.APIKey == "" {
		log.Warn().Msg("JUDGE_API_KEY not set, answers will receive fallback scores")
		return app.NewDispatcher(panel, client, timeout), nil, nil
	}
	return app.NewDispatcher(panel, client, timeout), client, nil
}

// sampleBank keeps the service usable without postgres or a bank directory.
func sampleBank() domain.QuestionBank {
	return domain.QuestionBank{
		ID:    "default",
		Title: "Growth and Inequality",
		Questions: []domain.Question{
			{
				ID:               1,
				Category:         "Creative Destruction and Innovation",
				Theme:            "A",
				Text:             "Explain how creative destruction drives economic growth.",
				ReferenceAnswer:  "New firms and technologies displace incumbents, raising productivity; competition and the prospect of innovation rents sustain growth.",
				ExpectedConcepts: []string{"innovation", "competition", "productivity", "schumpeter", "growth"},
			},
			{
				ID:               2,
				Category:         "Creative Destruction and Innovation",
				Theme:            "A",
				Text:             "Why can incumbent firms slow down innovation? Give an example.",
				ReferenceAnswer:  "Incumbents protect rents through entry barriers, lobbying and acquisitions of challengers, which weakens incentives to innovate.",
				ExpectedConcepts: []string{"incumbents", "barriers", "competition", "incentives", "regulation"},
			},
			{
				ID:               3,
				Category:         "Inequality and Social Mobility",
				Theme:            "B",
				Text:             "Why distinguish between overall inequality and top-end inequality?",
				ReferenceAnswer:  "Top income shares can rise while broad measures move little; they reflect different mechanisms such as capital income and executive pay.",
				ExpectedConcepts: []string{"inequality", "top 1%", "distribution", "wealth", "income"},
			},
		},
	}
}

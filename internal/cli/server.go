package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/infra/file"
	"quiz-attempt-service/internal/infra/memory"
	pgstore "quiz-attempt-service/internal/infra/postgres"
	redisstore "quiz-attempt-service/internal/infra/redis"
	"quiz-attempt-service/internal/logger"
	transport "quiz-attempt-service/internal/transport/http"
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
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
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
			return err
		}
		defer pool.Close()
	}

	bank := newQuestionBank(cfg, pool, redisClient, log)
	// Load the bank before accepting connections so a bad bank fails startup.
	questions, err := bank.Questions(ctx)
	if err != nil {
		return err
	}

	var store app.SessionStore = memory.NewSessionStore()
	if pool != nil {
		store = pgstore.NewSessionStore(pool)
	} else {
		log.Warn().Msg("postgres not configured, sessions are kept in memory")
	}

	var markers app.MarkerProvider = memory.NewMarkerStore()
	if redisClient != nil {
		markers = redisstore.NewMarkerStore(redisClient)
	} else {
		log.Warn().Msg("redis not configured, completion markers are kept in memory")
	}

	roster := app.DefaultRoster()
	if len(cfg.Quiz.Roster) > 0 {
		roster = app.NewRoster(app.ParseRoster(cfg.Quiz.Roster))
	}

	service := app.NewQuizService(bank, store, markers, roster, log,
		app.WithDuration(config.TTLDuration(cfg.Quiz.Duration, app.DefaultDuration)),
	)
	wsHandler := transport.NewWSHandler(service, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().
			Str("port", finalPort).
			Int("questions", len(questions)).
			Int("roster", roster.Len()).
			Msg("starting quiz service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server...")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = server.Shutdown(shutdownCtx)
	service.Shutdown()
	return err
}

// newQuestionBank picks the bank source (Postgres row or JSON file), optionally
// fronted by a Redis cache, and wraps it so the bank is loaded once.
func newQuestionBank(cfg config.Config, pool *pgxpool.Pool, client *redis.Client, log zerolog.Logger) *memory.QuestionBank {
	var loader memory.QuestionLoader
	bankID := cfg.Quiz.BankID
	if pool != nil && bankID != "" {
		loader = pgstore.NewQuestionLoader(pool, bankID)
	} else {
		path := cfg.Quiz.BankPath
		if path == "" {
			path = "config/quiz.json"
		}
		loader = file.NewQuestionLoader(path)
		if bankID == "" {
			bankID = path
		}
	}
	if client != nil {
		loader = redisstore.NewQuestionCache(client, loader, bankID, config.TTLDuration(cfg.Quiz.BankTTL, 10*time.Minute), log)
	}
	return memory.NewQuestionBank(loader)
}

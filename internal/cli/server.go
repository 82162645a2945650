package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quiz-orchestrator/internal/app"
	"quiz-orchestrator/internal/config"
	"quiz-orchestrator/internal/domain"
	"quiz-orchestrator/internal/infra/memory"
	"quiz-orchestrator/internal/infra/postgres"
	redisinfra "quiz-orchestrator/internal/infra/redis"
	"quiz-orchestrator/internal/logger"
	"quiz-orchestrator/internal/monitor"
	transport "quiz-orchestrator/internal/transport/http"
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

func newLogger(cfg config.Config) (*zap.Logger, error) {
	return logger.New(cfg.Log.Level, cfg.Log.Development)
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, log); err != nil {
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
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var loader memory.DeckLoader = memory.NewStaticDeckLoader(sampleDecks())
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = postgres.NewDeckLoader(pool)
	}

	deckTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var source app.QuestionSource
	if redisClient != nil {
		source = redisinfra.NewDeckRepository(redisClient, loader, deckTTL)
	} else {
		source = memory.NewDeckRepository(loader, deckTTL)
	}

	var store app.RoomRepository
	if redisClient != nil {
		store = redisinfra.NewRoomStore(redisClient, redisTTL)
	} else {
		store = memory.NewRoomStore()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitor.NewMetrics("quiz", reg)

	rooms := app.NewRegistry(store, app.RoomDeps{
		Rules:   cfg.Quiz.Rules(),
		Source:  source,
		Logger:  log,
		Metrics: metrics,
		Buffer:  cfg.Quiz.SubscriberBuffer,
	})
	service := app.NewQuizService(rooms)
	wsHandler := transport.NewWSHandler(service, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	servers := []*http.Server{{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}}
	if cfg.Server.MetricsPort != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", monitor.Handler(reg))
		servers = append(servers, &http.Server{
			Addr:        ":" + cfg.Server.MetricsPort,
			Handler:     metricsMux,
			ReadTimeout: 15 * time.Second,
		})
	} else {
		mux.Handle("/metrics", monitor.Handler(reg))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			log.Info("listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		return rooms.Run(gctx, config.TTLDuration(cfg.Quiz.SweepInterval, 5*time.Second))
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped", zap.Error(err))
		return err
	}
	return nil
}

// sampleDecks is served when no Postgres is configured.
func sampleDecks() map[string]domain.Deck {
	return map[string]domain.Deck{
		"demo": {
			ID:    "demo",
			Title: "Warm-up",
			Questions: []domain.Question{
				{ID: "demo-1", Prompt: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectOption: "4"},
				{ID: "demo-2", Prompt: "Which planet is known as the Red Planet?", Options: []string{"Venus", "Mars", "Jupiter", "Saturn"}, CorrectOption: "Mars"},
				{ID: "demo-3", Prompt: "How many days are in a leap year?", Options: []string{"364", "365", "366"}, CorrectOption: "366"},
			},
		},
		"capitals": {
			ID:    "capitals",
			Title: "World capitals",
			Questions: []domain.Question{
				{ID: "cap-1", Prompt: "Capital of France?", Options: []string{"Paris", "Lyon", "Marseille"}, CorrectOption: "Paris"},
				{ID: "cap-2", Prompt: "Capital of Japan?", Options: []string{"Osaka", "Kyoto", "Tokyo"}, CorrectOption: "Tokyo", TimeBudgetSeconds: 15},
				{ID: "cap-3", Prompt: "Capital of Canada?", Options: []string{"Toronto", "Ottawa", "Vancouver"}, CorrectOption: "Ottawa"},
				{ID: "cap-4", Prompt: "Capital of Australia?", Options: []string{"Sydney", "Canberra", "Melbourne"}, CorrectOption: "Canberra"},
			},
		},
	}
}

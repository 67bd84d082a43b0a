package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	"live-quiz-service/internal/infra/postgres"
	rediscache "live-quiz-service/internal/infra/redis"
	"live-quiz-service/internal/infra/webhook"
	transport "live-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live quiz server",
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
	if cfg.Server.JWTSecret == "" {
		return errMissingSecret
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	logger := log.Default()
	deps, closeDeps, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDeps()

	core := app.New(deps)
	router := transport.NewRouter(core, transport.RouterOptions{
		Auth:        transport.NewAuthenticator(cfg.Server.JWTSecret),
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting live quiz service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildDeps picks Postgres and Redis adapters when configured and the in-memory ones otherwise.
func buildDeps(ctx context.Context, cfg config.Config, logger *log.Logger) (app.Deps, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = redisClient.Close() })
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 12*time.Hour)
	cacheTTL := config.TTLDuration(cfg.Quiz.CacheTTL, 10*time.Minute)
	statusTTL := config.TTLDuration(cfg.Quiz.StatusTTL, 6*time.Hour)

	deps := app.Deps{
		Engine: memory.NewEngine(),
		Groups: newDirectory(cfg),
		Logger: logger,
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuestions())
	if cfg.Postgres.URL != "" {
		db, err := openDB(cfg)
		if err != nil {
			closeAll()
			return app.Deps{}, nil, err
		}
		closers = append(closers, func() { _ = db.Close() })
		if err := migrateDB(ctx, db); err != nil {
			closeAll()
			return app.Deps{}, nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			closeAll()
			return app.Deps{}, nil, err
		}
		closers = append(closers, pool.Close)

		loader = postgres.NewQuestionLoader(pool)
		deps.Repo = postgres.NewRepository(db)
		deps.Events = postgres.NewEventLog(db)
		deps.Engine = memory.NewEngineWithStore(postgres.NewUsageStore(db))
	} else {
		deps.Repo = memory.NewStore()
		deps.Events = memory.NewEventRecorder(logger)
	}

	if redisClient != nil {
		deps.Bank = rediscache.NewQuestionCache(redisClient, loader, cacheTTL)
		deps.Status = rediscache.NewStatusCache(redisClient, statusTTL)
		deps.AnonIDs = rediscache.NewAnonymousIDs(redisClient, redisTTL)
	} else {
		deps.Bank = memory.NewQuestionBank(loader, cacheTTL)
		deps.Status = memory.NewStatusCache()
		deps.AnonIDs = memory.NewAnonymousIDs()
	}

	if cfg.Export.WebhookURL != "" {
		deps.Exporter = webhook.NewGradeExporter(cfg.Export.WebhookURL, nil)
	}
	return deps, closeAll, nil
}

func newDirectory(cfg config.Config) *memory.StaticDirectory {
	groups := make([]memory.Group, 0, len(cfg.Directory.Groups))
	for _, g := range cfg.Directory.Groups {
		groups = append(groups, memory.Group{ID: g.ID, GroupingID: g.GroupingID, Name: g.Name, Members: g.Members})
	}
	return memory.NewStaticDirectory(groups, cfg.Directory.Users)
}

// sampleQuestions seeds the in-memory question bank when no database is configured.
func sampleQuestions() map[string]domain.QuestionDef {
	return map[string]domain.QuestionDef{
		"arith-1": {
			Ref: "arith-1", Name: "Addition", Type: "multichoice", Text: "What is 2 + 2?",
			Choices: []domain.Choice{
				{ID: "a", Text: "3", Fraction: 0},
				{ID: "b", Text: "4", Fraction: 1},
				{ID: "c", Text: "5", Fraction: 0},
			},
		},
		"geo-1": {Ref: "geo-1", Name: "Capital", Type: "shortanswer", Text: "What is the capital of France?", Answer: "Paris"},
		"const-1": {
			Ref: "const-1", Name: "Pi", Type: "numerical", Text: "Pi to two decimal places?",
			Answer: "3.14", Tolerance: 0.005,
		},
		"tf-1": {
			Ref: "tf-1", Name: "Boiling point", Type: "truefalse", Text: "Water boils at 100C at sea level.",
			Choices: []domain.Choice{
				{ID: "true", Text: "True", Fraction: 1},
				{ID: "false", Text: "False", Fraction: 0},
			},
		},
	}
}

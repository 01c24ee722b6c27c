package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
	"quiz-attempt-service/internal/infra/postgres"
	"quiz-attempt-service/internal/infra/rabbit"
	redisstore "quiz-attempt-service/internal/infra/redis"
	"quiz-attempt-service/internal/logging"
	transport "quiz-attempt-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the attempt service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

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
	sessionTTL := config.TTLDuration(cfg.Sessions.TTL, 90*24*time.Hour)
	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)

	var (
		quizStore   memory.QuizStore = memory.NewStaticQuizStore(sampleQuizzes())
		submissions app.SubmissionRepository
	)
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		quizStore = postgres.NewQuizStore(pool)

		db := openBun(cfg.Postgres.URL)
		defer db.Close()
		submissions = postgres.NewSubmissionStore(db)
	} else {
		log.Warn("postgres not configured; using in-memory quizzes and submissions")
		submissions = memory.NewSubmissionStore()
	}

	var (
		quizzes  app.QuizRepository
		sessions app.SessionRepository
	)
	if redisClient != nil {
		quizzes = redisstore.NewQuizRepository(redisClient, quizStore, quizTTL)
		sessions = redisstore.NewSessionStore(redisClient, sessionTTL)
	} else {
		quizzes = memory.NewQuizRepository(quizStore, quizTTL)
		sessions = memory.NewSessionStore()
	}

	var events app.EventPublisher = memory.NewEventLog()
	if cfg.Rabbit.URL != "" {
		publisher, err := rabbit.Dial(cfg.Rabbit.URL)
		if err != nil {
			return err
		}
		defer publisher.Close()
		events = publisher
	}

	reconciler := app.NewSubmissionReconciler(submissions, sessions, quizzes, events, log)
	manager := app.NewSessionManager(sessions, quizzes, app.NewAttemptTracker(submissions),
		app.NewRandomizer(time.Now().UnixNano()), reconciler, log)

	if cfg.Auth.JWTSecret == "" {
		log.Warn("auth.jwt_secret is empty; tokens signed with an empty key will be accepted")
	}
	router := transport.NewRouter(
		transport.NewHandler(manager, reconciler, log),
		transport.NewWSHandler(manager, log),
		transport.NewAuthenticator(cfg.Auth.JWTSecret),
		log,
	)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.WithField("port", finalPort).Info("starting attempt service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes seeds the in-memory store when no database is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:           "quiz-1",
			InstructorID: "instructor-1",
			Title:        "Warm-up",
			IsPublished:  true,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Type:   domain.QuestionMultipleChoice,
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", IsCorrect: true},
						{ID: "o3", Text: "5"},
					},
					CorrectAnswer: "4",
					Points:        1,
					Order:         1,
				},
				{
					ID:            "q2",
					Type:          domain.QuestionTrueFalse,
					Prompt:        "The sky is blue.",
					CorrectAnswer: true,
					Points:        1,
					Order:         2,
				},
			},
			Settings:    domain.Settings{TimeLimit: 15, AllowRetakes: true},
			Assignments: []domain.Assignment{{LearnerID: "learner-1"}},
		},
	}
}

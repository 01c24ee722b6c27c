package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
	"quiz-attempt-service/internal/infra/postgres"
	pgmigrations "quiz-attempt-service/internal/infra/postgres/migrations"
	infraredis "quiz-attempt-service/internal/infra/redis"
)

func TestAttemptLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := openDB(pgURL)
	defer db.Close()
	migrateDB(t, ctx, db)

	pool, err := pgxpool.Connect(ctx, pgURL)
	require.NoError(t, err)
	defer pool.Close()

	quizStore := postgres.NewQuizStore(pool)
	require.NoError(t, quizStore.SaveQuiz(ctx, sampleQuiz()))

	redisClient, err := redisClientFromURL(redisURL)
	require.NoError(t, err)
	defer redisClient.Close()

	log, _ := test.NewNullLogger()
	quizzes := infraredis.NewQuizRepository(redisClient, quizStore, 5*time.Minute)
	sessions := infraredis.NewSessionStore(redisClient, time.Hour)
	submissions := postgres.NewSubmissionStore(db)
	events := memory.NewEventLog()

	reconciler := app.NewSubmissionReconciler(submissions, sessions, quizzes, events, log)
	manager := app.NewSessionManager(sessions, quizzes, app.NewAttemptTracker(submissions), app.NewRandomizer(1), reconciler, log)

	learner := domain.Principal{ID: "learner-1", Role: domain.RoleLearner}
	started, err := manager.Start(ctx, "quiz-1", learner)
	require.NoError(t, err)
	require.Len(t, started.Questions, 2)

	require.NoError(t, manager.UpsertAnswer(ctx, started.SessionID, learner, "q1", "4"))
	res, err := manager.Submit(ctx, started.SessionID, learner, []app.AnswerInput{{QuestionID: "q2", Value: "Lyon"}})
	require.NoError(t, err)
	require.Equal(t, 2, res.Score)
	require.Equal(t, 3, res.MaxScore)
	require.Equal(t, 67, res.Percentage)
	require.Equal(t, 1, res.AttemptNumber)
	require.True(t, res.IsCompleted)

	stored, err := submissions.GetBySession(ctx, started.SessionID)
	require.NoError(t, err)
	require.Equal(t, res.SubmissionID, stored.ID)
	require.Len(t, stored.Answers, 2)

	quiz, err := quizStore.LoadQuiz(ctx, "quiz-1")
	require.NoError(t, err)
	require.NotNil(t, quiz.Assignments[0].SubmittedAt)
	require.Len(t, events.Events(), 1)

	_, err = manager.Start(ctx, "quiz-1", learner)
	require.ErrorIs(t, err, domain.ErrAttemptLimitExceeded)

	instructor := domain.Principal{ID: "instructor-1", Role: domain.RoleInstructor}
	require.NoError(t, reconciler.ReopenAttempt(ctx, stored.ID, instructor))

	retake, err := manager.Start(ctx, "quiz-1", learner)
	require.NoError(t, err)
	second, err := manager.Submit(ctx, retake.SessionID, learner, nil)
	require.NoError(t, err)
	require.Equal(t, 1, second.AttemptNumber)
	require.Equal(t, 0, second.Score)
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container := startContainer(t, ctx, req)
	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() { _ = container.Terminate(ctx) }
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container := startContainer(t, ctx, req)
	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s:%s", host, port.Port()), func() { _ = container.Terminate(ctx) }
}

func startContainer(t *testing.T, ctx context.Context, req tc.ContainerRequest) tc.Container {
	t.Helper()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start %s: %v", req.Image, err)
	}
	return container
}

func openDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func migrateDB(t *testing.T, ctx context.Context, db *bun.DB) {
	t.Helper()
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err := migrator.Migrate(ctx)
	require.NoError(t, err)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:           "quiz-1",
		InstructorID: "instructor-1",
		Title:        "Capitals",
		IsPublished:  true,
		Questions: []domain.Question{
			{
				ID:     "q1",
				Type:   domain.QuestionMultipleChoice,
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4", IsCorrect: true},
				},
				CorrectAnswer: "4",
				Points:        2,
				Order:         1,
			},
			{
				ID:            "q2",
				Type:          domain.QuestionShortAnswer,
				Prompt:        "Capital of France?",
				CorrectAnswer: "Paris",
				Points:        1,
				Order:         2,
			},
		},
		Assignments: []domain.Assignment{{LearnerID: "learner-1", AssignedAt: time.Now().UTC()}},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}

package cli

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"quizarena/internal/app"
	"quizarena/internal/config"
	"quizarena/internal/domain"
	"quizarena/internal/infra/memory"
	pgstore "quizarena/internal/infra/postgres"
	redisinfra "quizarena/internal/infra/redis"
	transport "quizarena/internal/transport/http"
)

// NewServeCmd builds the CLI subcommand to start the server.
func NewServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the quiz and tournament server",
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

	var store app.Store
	if cfg.Postgres.URL != "" {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		db := bun.NewDB(sqldb, pgdialect.New())
		defer db.Close()

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		store = pgstore.NewStore(db, pool)
	} else {
		mem := memory.NewStore()
		seedSampleData(mem)
		store = mem
	}

	var cache *redisinfra.LeaderboardCache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ttl := config.TTLDuration(cfg.Leaderboard.TTL, 2*time.Minute)
		cache = redisinfra.NewLeaderboardCache(client, ttl)
	}

	identity := app.NewIdentityService(store)
	var invalidator app.CacheInvalidator
	if cache != nil {
		invalidator = cache
	}
	tournaments := app.NewTournamentService(store, invalidator, cfg.Attempt.EnforceDuration)
	quizzes := app.NewQuizService(store)

	var leaderboards transport.LeaderboardSource = tournaments
	if cache != nil {
		leaderboards = &cachedLeaderboards{svc: tournaments, cache: cache}
	}

	handler := transport.NewHandler(identity, tournaments, quizzes, leaderboards)
	mux := http.NewServeMux()
	handler.Routes(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quizarena on :%s", finalPort)
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

// cachedLeaderboards serves tournament views through Redis, recomputing on
// miss.
type cachedLeaderboards struct {
	svc   *app.TournamentService
	cache *redisinfra.LeaderboardCache
}

func (c *cachedLeaderboards) Leaderboard(ctx context.Context, tournamentID uuid.UUID, mode app.RankMode) ([]domain.RankedEntry, error) {
	return c.cache.Get(ctx, tournamentID, mode.String(), func(ctx context.Context, id uuid.UUID) ([]domain.RankedEntry, error) {
		return c.svc.Leaderboard(ctx, id, mode)
	})
}

// seedSampleData fills the in-memory store so the server is usable without a
// database; swap in Postgres for real deployments.
func seedSampleData(store *memory.Store) {
	now := time.Now()

	questions := make([]*domain.Question, 0, 12)
	for i, text := range []string{
		"What is the capital of France?",
		"Which planet is known as the Red Planet?",
		"What is 7 x 8?",
		"Who wrote Hamlet?",
		"What is the chemical symbol for gold?",
		"Which ocean is the largest?",
		"How many continents are there?",
		"What year did the first moon landing happen?",
		"What is the largest mammal?",
		"Which language has the most native speakers?",
		"What is the square root of 144?",
		"Who painted the Mona Lisa?",
	} {
		q := &domain.Question{ID: uuid.New(), Text: text}
		for j := 0; j < 4; j++ {
			q.Options = append(q.Options, &domain.Option{
				ID:         uuid.New(),
				QuestionID: q.ID,
				Text:       "Option " + string(rune('A'+j)),
				Correct:    j == i%4,
			})
		}
		questions = append(questions, q)
	}

	tournament := &domain.Tournament{
		ID:                     uuid.New(),
		Title:                  "Weekly Knowledge Cup",
		Subtitle:               "General knowledge, five questions a round",
		StartDate:              now.Add(-24 * time.Hour),
		EndDate:                now.Add(6 * 24 * time.Hour),
		MaxQuestionsPerAttempt: 5,
		MaxAttemptsPerDay:      3,
		NegativeMarking:        0.25,
		DurationMinutes:        10,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	store.AddTournament(tournament)
	_ = store.ImportQuestions(context.Background(), tournament.ID, questions)

	item := &domain.Item{
		ID:         uuid.New(),
		Title:      "Warm-up Round",
		AccessMode: "free",
		Questions:  questions[:4],
	}
	category := &domain.Category{
		ID:         uuid.New(),
		Title:      "General Knowledge",
		AccessMode: "free",
		Items:      []*domain.Item{item},
	}
	quiz := &domain.Quiz{
		ID:              uuid.New(),
		Title:           "Practice Quiz",
		NegativeMarking: 0,
		CreatedAt:       now,
		UpdatedAt:       now,
		Categories:      []*domain.Category{category},
	}
	category.QuizID = quiz.ID
	item.CategoryID = category.ID
	store.AddQuiz(quiz)

	log.Printf("seeded sample data: tournament %s, quiz %s", tournament.ID, quiz.ID)
}

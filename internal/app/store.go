package app

import (
	"context"
	"time"

	"github.com/google/uuid"

	"quizarena/internal/domain"
)

// IdentityStore abstracts how accounts and guest identities are persisted.
type IdentityStore interface {
	UserByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	UserByEmail(ctx context.Context, email string) (*domain.User, error)
	CreateUser(ctx context.Context, u *domain.User) error
	GuestByID(ctx context.Context, id uuid.UUID) (*domain.GuestAccount, error)
	CreateGuest(ctx context.Context, g *domain.GuestAccount) error
	SaveGuest(ctx context.Context, g *domain.GuestAccount) error
	AppendActivity(ctx context.Context, entry *domain.ActivityLog) error

	// MergeGuests links every unlinked guest account sharing addr to userID
	// and re-points the guests' attempts and activity rows to the account,
	// all in one transaction. It returns the number of guests merged.
	MergeGuests(ctx context.Context, addr string, userID uuid.UUID) (int, error)
}

// TournamentStore abstracts tournament content, attempts and leaderboard rows.
type TournamentStore interface {
	TournamentByID(ctx context.Context, id uuid.UUID) (*domain.Tournament, error)
	// InsertTournament persists a new tournament; a duplicate id surfaces
	// domain.ErrStorageConflict.
	InsertTournament(ctx context.Context, t *domain.Tournament) error
	Tournaments(ctx context.Context) ([]*domain.Tournament, error)
	PoolQuestionIDs(ctx context.Context, tournamentID uuid.UUID) ([]uuid.UUID, error)
	QuestionsByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Question, error)

	// SeenQuestionIDs is the union of frozen sets over the participant's
	// completed attempts for the tournament.
	SeenQuestionIDs(ctx context.Context, tournamentID uuid.UUID, p domain.Participant) (map[uuid.UUID]bool, error)
	// CountCompletedAttempts counts completed attempts whose attempt date
	// falls in [from, to); nil bounds mean unbounded.
	CountCompletedAttempts(ctx context.Context, tournamentID uuid.UUID, p domain.Participant, from, to *time.Time) (int, error)
	// CreateAttempt persists the attempt and its frozen question set atomically.
	CreateAttempt(ctx context.Context, a *domain.TournamentAttempt) error
	AttemptByID(ctx context.Context, id uuid.UUID) (*domain.TournamentAttempt, error)
	// FinalizeAttempt saves the scored attempt and upserts its leaderboard
	// row in one serializable transaction; a uniqueness race is retried once
	// before surfacing domain.ErrStorageConflict.
	FinalizeAttempt(ctx context.Context, a *domain.TournamentAttempt) (*domain.LeaderboardEntry, error)
	// TournamentScoreRows flattens completed attempts for ranking.
	TournamentScoreRows(ctx context.Context, tournamentID uuid.UUID) ([]domain.ScoreRow, error)

	// ImportQuestions creates questions+options and links them into the
	// tournament pool: one transaction, all-or-nothing.
	ImportQuestions(ctx context.Context, tournamentID uuid.UUID, questions []*domain.Question) error

	Prizes(ctx context.Context, tournamentID uuid.UUID) ([]*domain.TournamentPrize, error)
	Winners(ctx context.Context, tournamentID uuid.UUID) ([]*domain.TournamentWinner, error)
	// RecordWinners inserts winner rows in one transaction, skipping ones
	// already awarded; it returns how many were newly recorded.
	RecordWinners(ctx context.Context, winners []*domain.TournamentWinner) (int, error)
}

// QuizStore abstracts the quiz catalog and its attempts.
type QuizStore interface {
	Quizzes(ctx context.Context) ([]*domain.Quiz, error)
	// ItemWithQuiz loads the item (questions and options included) together
	// with the owning quiz, which carries the negative-marking rule.
	ItemWithQuiz(ctx context.Context, itemID uuid.UUID) (*domain.Item, *domain.Quiz, error)
	LatestQuizAttempt(ctx context.Context, itemID uuid.UUID, p domain.Participant) (*domain.QuizAttempt, error)
	CreateQuizAttempt(ctx context.Context, a *domain.QuizAttempt) error
	SaveQuizAttempt(ctx context.Context, a *domain.QuizAttempt) error
	// ItemScoreRows flattens every historical attempt for the item's
	// sum-aggregated leaderboard.
	ItemScoreRows(ctx context.Context, itemID uuid.UUID) ([]domain.ScoreRow, error)
}

// Store is the full persistence surface, implemented by the postgres and
// memory backends.
type Store interface {
	IdentityStore
	TournamentStore
	QuizStore
}

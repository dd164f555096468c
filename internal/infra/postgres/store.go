package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"quizarena/internal/domain"
)

// Store is the Postgres implementation of the app's storage interfaces.
// Writes go through bun; the hot leaderboard reads bypass the ORM and run as
// flat pgx queries.
type Store struct {
	db   *bun.DB
	pool *pgxpool.Pool
}

// NewStore wires the bun handle and the pgx read pool. The m2m join models
// must be registered before any relation query touches them.
func NewStore(db *bun.DB, pool *pgxpool.Pool) *Store {
	db.RegisterModel(
		(*domain.ItemQuestion)(nil),
		(*domain.TournamentQuestion)(nil),
	)
	return &Store{db: db, pool: pool}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func isIntegrityViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.IntegrityViolation()
}

// isSerializationFailure matches SQLSTATE 40001 (serialization failure) and
// 40P01 (deadlock detected), the errors SERIALIZABLE transactions abort with
// when they lose a row race.
func isSerializationFailure(err error) bool {
	var pgErr pgdriver.Error
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Field('C') {
	case "40001", "40P01":
		return true
	}
	return false
}

func isWriteConflict(err error) bool {
	return isIntegrityViolation(err) || isSerializationFailure(err)
}

// --- IdentityStore ---

func (s *Store) UserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	u := new(domain.User)
	if err := s.db.NewSelect().Model(u).Where("u.id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	u := new(domain.User)
	if err := s.db.NewSelect().Model(u).Where("lower(u.email) = lower(?)", email).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	if _, err := s.db.NewInsert().Model(u).Exec(ctx); err != nil {
		if isIntegrityViolation(err) {
			return domain.ErrStorageConflict
		}
		return err
	}
	return nil
}

func (s *Store) GuestByID(ctx context.Context, id uuid.UUID) (*domain.GuestAccount, error) {
	g := new(domain.GuestAccount)
	if err := s.db.NewSelect().Model(g).Where("g.id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return g, nil
}

func (s *Store) CreateGuest(ctx context.Context, g *domain.GuestAccount) error {
	if _, err := s.db.NewInsert().Model(g).Exec(ctx); err != nil {
		if isIntegrityViolation(err) {
			return domain.ErrStorageConflict
		}
		return err
	}
	return nil
}

func (s *Store) SaveGuest(ctx context.Context, g *domain.GuestAccount) error {
	res, err := s.db.NewUpdate().Model(g).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) AppendActivity(ctx context.Context, entry *domain.ActivityLog) error {
	_, err := s.db.NewInsert().Model(entry).Exec(ctx)
	return err
}

// MergeGuests links every active unlinked guest seen from addr to the user
// and re-attributes attempts and leaderboard rows inside one transaction.
// Returns the number of re-attributed attempts.
func (s *Store) MergeGuests(ctx context.Context, addr string, userID uuid.UUID) (int, error) {
	moved := 0
	err := s.db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(ctx context.Context, tx bun.Tx) error {
		var guestIDs []uuid.UUID
		err := tx.NewUpdate().Model((*domain.GuestAccount)(nil)).
			Set("user_id = ?", userID).
			Where("remote_addr = ?", addr).
			Where("status = ?", domain.GuestActive).
			Where("user_id IS NULL").
			Returning("id").
			Scan(ctx, &guestIDs)
		if err != nil {
			return err
		}
		if len(guestIDs) == 0 {
			return nil
		}

		res, err := tx.NewUpdate().Model((*domain.TournamentAttempt)(nil)).
			Set("user_id = ?", userID).
			Set("guest_id = NULL").
			Where("guest_id IN (?)", bun.In(guestIDs)).
			Exec(ctx)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		moved += int(n)

		res, err = tx.NewUpdate().Model((*domain.QuizAttempt)(nil)).
			Set("user_id = ?", userID).
			Set("guest_id = NULL").
			Where("guest_id IN (?)", bun.In(guestIDs)).
			Exec(ctx)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		moved += int(n)

		// Guest leaderboard rows move to the user; where the user already has
		// a row for the tournament, the better total wins and the guest row
		// is dropped.
		var guestEntries []*domain.LeaderboardEntry
		err = tx.NewSelect().Model(&guestEntries).
			Where("le.guest_id IN (?)", bun.In(guestIDs)).
			Scan(ctx)
		if err != nil {
			return err
		}
		for _, ge := range guestEntries {
			existing := new(domain.LeaderboardEntry)
			err := tx.NewSelect().Model(existing).
				Where("le.tournament_id = ?", ge.TournamentID).
				Where("le.user_id = ?", userID).
				Scan(ctx)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				uid := userID
				ge.UserID = &uid
				ge.GuestID = nil
				if _, err := tx.NewUpdate().Model(ge).WherePK().Exec(ctx); err != nil {
					return err
				}
			case err != nil:
				return err
			default:
				if ge.TotalScore > existing.TotalScore {
					existing.TotalScore = ge.TotalScore
					if _, err := tx.NewUpdate().Model(existing).WherePK().Exec(ctx); err != nil {
						return err
					}
				}
				if _, err := tx.NewDelete().Model(ge).WherePK().Exec(ctx); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

// --- TournamentStore ---

func (s *Store) TournamentByID(ctx context.Context, id uuid.UUID) (*domain.Tournament, error) {
	t := new(domain.Tournament)
	if err := s.db.NewSelect().Model(t).Where("t.id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// InsertTournament is the admin/seed write path.
func (s *Store) InsertTournament(ctx context.Context, t *domain.Tournament) error {
	_, err := s.db.NewInsert().Model(t).Exec(ctx)
	if err != nil && isIntegrityViolation(err) {
		return domain.ErrStorageConflict
	}
	return err
}

func (s *Store) Tournaments(ctx context.Context) ([]*domain.Tournament, error) {
	var ts []*domain.Tournament
	err := s.db.NewSelect().Model(&ts).Order("start_date ASC").Scan(ctx)
	return ts, err
}

func (s *Store) PoolQuestionIDs(ctx context.Context, tournamentID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.NewSelect().Model((*domain.TournamentQuestion)(nil)).
		Column("question_id").
		Where("tournament_id = ?", tournamentID).
		Scan(ctx, &ids)
	return ids, err
}

func (s *Store) QuestionsByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var qs []*domain.Question
	err := s.db.NewSelect().Model(&qs).
		Relation("Options").
		Where("q.id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	if len(qs) != len(ids) {
		return nil, domain.ErrNotFound
	}
	// Preserve the caller's order; IN does not.
	byID := make(map[uuid.UUID]*domain.Question, len(qs))
	for _, q := range qs {
		byID[q.ID] = q
	}
	ordered := make([]*domain.Question, 0, len(ids))
	for _, id := range ids {
		ordered = append(ordered, byID[id])
	}
	return ordered, nil
}

func participantWhere(q *bun.SelectQuery, p domain.Participant) *bun.SelectQuery {
	if p.User != nil {
		return q.Where("user_id = ?", p.User.ID)
	}
	return q.Where("guest_id = ?", p.Guest.ID)
}

func (s *Store) SeenQuestionIDs(ctx context.Context, tournamentID uuid.UUID, p domain.Participant) (map[uuid.UUID]bool, error) {
	var ids []uuid.UUID
	q := s.db.NewSelect().Model((*domain.TournamentAttemptQuestion)(nil)).
		ColumnExpr("DISTINCT taq.question_id").
		Join("JOIN tournament_attempts AS ta ON ta.id = taq.attempt_id").
		Where("ta.tournament_id = ?", tournamentID).
		Where("ta.completed")
	if p.User != nil {
		q = q.Where("ta.user_id = ?", p.User.ID)
	} else {
		q = q.Where("ta.guest_id = ?", p.Guest.ID)
	}
	if err := q.Scan(ctx, &ids); err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	return seen, nil
}

func (s *Store) CountCompletedAttempts(ctx context.Context, tournamentID uuid.UUID, p domain.Participant, from, to *time.Time) (int, error) {
	q := s.db.NewSelect().Model((*domain.TournamentAttempt)(nil)).
		Where("tournament_id = ?", tournamentID).
		Where("completed")
	q = participantWhere(q, p)
	if from != nil {
		q = q.Where("attempt_date >= ?", *from)
	}
	if to != nil {
		q = q.Where("attempt_date < ?", *to)
	}
	return q.Count(ctx)
}

func (s *Store) CreateAttempt(ctx context.Context, a *domain.TournamentAttempt) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(a).Exec(ctx); err != nil {
			return err
		}
		rows := make([]*domain.TournamentAttemptQuestion, 0, len(a.QuestionIDs))
		for _, qid := range a.QuestionIDs {
			rows = append(rows, &domain.TournamentAttemptQuestion{
				AttemptID:  a.ID,
				QuestionID: qid,
			})
		}
		if len(rows) == 0 {
			return nil
		}
		_, err := tx.NewInsert().Model(&rows).Exec(ctx)
		return err
	})
}

func (s *Store) AttemptByID(ctx context.Context, id uuid.UUID) (*domain.TournamentAttempt, error) {
	a := new(domain.TournamentAttempt)
	if err := s.db.NewSelect().Model(a).Where("ta.id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	err := s.db.NewSelect().Model((*domain.TournamentAttemptQuestion)(nil)).
		Column("question_id").
		Where("attempt_id = ?", id).
		Scan(ctx, &a.QuestionIDs)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// FinalizeAttempt closes the attempt and folds its score into the
// participant's leaderboard row in one serializable transaction. Concurrent
// submissions collide two ways: first submissions race the unique index on
// (tournament, participant), later ones abort with a serialization failure
// when both lock the same leaderboard row. Either way the fold is retried
// once against the row the winner left behind.
func (s *Store) FinalizeAttempt(ctx context.Context, a *domain.TournamentAttempt) (*domain.LeaderboardEntry, error) {
	entry, err := s.finalizeOnce(ctx, a)
	if err != nil && isWriteConflict(err) {
		entry, err = s.finalizeOnce(ctx, a)
	}
	if err != nil {
		if isWriteConflict(err) {
			return nil, domain.ErrStorageConflict
		}
		return nil, err
	}
	return entry, nil
}

func (s *Store) finalizeOnce(ctx context.Context, a *domain.TournamentAttempt) (*domain.LeaderboardEntry, error) {
	var entry *domain.LeaderboardEntry
	err := s.db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().Model(a).
			WherePK().
			Where("NOT completed").
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrAlreadySubmitted
		}

		at := a.AttemptDate
		if a.EndTime != nil {
			at = *a.EndTime
		}
		p := domain.Participant{}
		if a.UserID != nil {
			p.User = &domain.User{ID: *a.UserID}
		} else {
			p.Guest = &domain.GuestAccount{ID: *a.GuestID}
		}

		existing := new(domain.LeaderboardEntry)
		q := tx.NewSelect().Model(existing).
			Where("le.tournament_id = ?", a.TournamentID).
			For("UPDATE")
		if a.UserID != nil {
			q = q.Where("le.user_id = ?", *a.UserID)
		} else {
			q = q.Where("le.guest_id = ?", *a.GuestID)
		}
		err = q.Scan(ctx)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			fresh := domain.NewLeaderboardEntry(p, a.TournamentID, a.Score, at)
			if _, err := tx.NewInsert().Model(fresh).Exec(ctx); err != nil {
				return err
			}
			entry = fresh
		case err != nil:
			return err
		default:
			existing.Apply(a.Score, at)
			if _, err := tx.NewUpdate().Model(existing).WherePK().Exec(ctx); err != nil {
				return err
			}
			entry = existing
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) TournamentScoreRows(ctx context.Context, tournamentID uuid.UUID) ([]domain.ScoreRow, error) {
	const q = `
SELECT COALESCE('user:' || ta.user_id::text, 'guest:' || ta.guest_id::text),
       COALESCE(u.email, 'Anonymous'),
       ta.score,
       ta.attempt_date
FROM tournament_attempts ta
LEFT JOIN users u ON u.id = ta.user_id
WHERE ta.tournament_id = $1 AND ta.completed`
	return s.scanScoreRows(ctx, q, tournamentID)
}

func (s *Store) scanScoreRows(ctx context.Context, query string, args ...interface{}) ([]domain.ScoreRow, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query score rows: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ScoreRow, 0)
	for rows.Next() {
		var r domain.ScoreRow
		if err := rows.Scan(&r.ParticipantKey, &r.DisplayName, &r.Score, &r.AttemptDate); err != nil {
			return nil, fmt.Errorf("scan score row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ImportQuestions(ctx context.Context, tournamentID uuid.UUID, questions []*domain.Question) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().Model((*domain.Tournament)(nil)).
			Where("id = ?", tournamentID).
			Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		for _, q := range questions {
			if _, err := tx.NewInsert().Model(q).Exec(ctx); err != nil {
				return err
			}
			if len(q.Options) > 0 {
				if _, err := tx.NewInsert().Model(&q.Options).Exec(ctx); err != nil {
					return err
				}
			}
			join := &domain.TournamentQuestion{TournamentID: tournamentID, QuestionID: q.ID}
			_, err := tx.NewInsert().Model(join).
				On("CONFLICT (tournament_id, question_id) DO NOTHING").
				Exec(ctx)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Prizes(ctx context.Context, tournamentID uuid.UUID) ([]*domain.TournamentPrize, error) {
	var prizes []*domain.TournamentPrize
	err := s.db.NewSelect().Model(&prizes).
		Where("tournament_id = ?", tournamentID).
		Order("rank ASC").
		Scan(ctx)
	return prizes, err
}

func (s *Store) Winners(ctx context.Context, tournamentID uuid.UUID) ([]*domain.TournamentWinner, error) {
	var winners []*domain.TournamentWinner
	err := s.db.NewSelect().Model(&winners).
		Where("tournament_id = ?", tournamentID).
		Order("winning_rank ASC").
		Scan(ctx)
	return winners, err
}

func (s *Store) RecordWinners(ctx context.Context, winners []*domain.TournamentWinner) (int, error) {
	if len(winners) == 0 {
		return 0, nil
	}
	res, err := s.db.NewInsert().Model(&winners).
		On("CONFLICT (tournament_id, prize_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- QuizStore ---

func (s *Store) Quizzes(ctx context.Context) ([]*domain.Quiz, error) {
	var quizzes []*domain.Quiz
	err := s.db.NewSelect().Model(&quizzes).
		Relation("Categories").
		Relation("Categories.Items").
		Relation("Categories.Items.Questions").
		Relation("Categories.Items.Questions.Options").
		Order("title ASC").
		Scan(ctx)
	return quizzes, err
}

func (s *Store) ItemWithQuiz(ctx context.Context, itemID uuid.UUID) (*domain.Item, *domain.Quiz, error) {
	item := new(domain.Item)
	err := s.db.NewSelect().Model(item).
		Relation("Questions").
		Relation("Questions.Options").
		Where("i.id = ?", itemID).
		Scan(ctx)
	if err != nil {
		return nil, nil, notFound(err)
	}
	quiz := new(domain.Quiz)
	err = s.db.NewSelect().Model(quiz).
		Join("JOIN categories AS c ON c.quiz_id = qz.id").
		Where("c.id = ?", item.CategoryID).
		Scan(ctx)
	if err != nil {
		return nil, nil, notFound(err)
	}
	return item, quiz, nil
}

func (s *Store) LatestQuizAttempt(ctx context.Context, itemID uuid.UUID, p domain.Participant) (*domain.QuizAttempt, error) {
	a := new(domain.QuizAttempt)
	q := s.db.NewSelect().Model(a).
		Where("item_id = ?", itemID).
		Order("attempt_date DESC").
		Limit(1)
	q = participantWhere(q, p)
	if err := q.Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (s *Store) CreateQuizAttempt(ctx context.Context, a *domain.QuizAttempt) error {
	_, err := s.db.NewInsert().Model(a).Exec(ctx)
	if err != nil && isIntegrityViolation(err) {
		return domain.ErrStorageConflict
	}
	return err
}

func (s *Store) SaveQuizAttempt(ctx context.Context, a *domain.QuizAttempt) error {
	res, err := s.db.NewUpdate().Model(a).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ItemScoreRows(ctx context.Context, itemID uuid.UUID) ([]domain.ScoreRow, error) {
	const q = `
SELECT COALESCE('user:' || qa.user_id::text, 'guest:' || qa.guest_id::text),
       COALESCE(u.email, 'Anonymous'),
       qa.score,
       qa.attempt_date
FROM quiz_attempts qa
LEFT JOIN users u ON u.id = qa.user_id
WHERE qa.item_id = $1`
	return s.scanScoreRows(ctx, q, itemID)
}

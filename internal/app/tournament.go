package app

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"quizarena/internal/domain"
)

// CacheInvalidator drops cached leaderboard views for a tournament after a
// completed submission. A nil invalidator is a no-op.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, tournamentID uuid.UUID) error
}

// Answer is one question's submitted selection. An empty Selected slice is a
// skip only when the question is omitted entirely; an Answer that is present
// must select at least one option.
type Answer struct {
	QuestionID uuid.UUID   `json:"questionId"`
	OptionIDs  []uuid.UUID `json:"optionIds"`
}

// AnswerResult echoes how one answer was graded.
type AnswerResult struct {
	QuestionID uuid.UUID `json:"questionId"`
	Correct    bool      `json:"correct"`
	Delta      float64   `json:"delta"`
}

// SubmitResult is the outcome of a completed tournament attempt.
type SubmitResult struct {
	AttemptID        uuid.UUID      `json:"attemptId"`
	Score            float64        `json:"score"`
	CorrectAnswers   int            `json:"correctAnswers"`
	WrongAnswers     int            `json:"wrongAnswers"`
	SkippedQuestions int            `json:"skippedQuestions"`
	TimeTakenSeconds int            `json:"timeTakenSeconds"`
	DurationExceeded bool           `json:"durationExceeded"`
	LeaderboardScore float64        `json:"leaderboardScore"`
	Answers          []AnswerResult `json:"answers"`
}

// StartedAttempt is what a caller receives when an attempt opens: the frozen
// question set with options, correctness stripped.
type StartedAttempt struct {
	AttemptID       uuid.UUID         `json:"attemptId"`
	TournamentID    uuid.UUID         `json:"tournamentId"`
	DurationMinutes int               `json:"durationMinutes"`
	NegativeMarking float64           `json:"negativeMarking"`
	Questions       []AttemptQuestion `json:"questions"`
}

// AttemptQuestion is a question as presented to the taker.
type AttemptQuestion struct {
	ID      uuid.UUID       `json:"id"`
	Text    string          `json:"text"`
	Options []AttemptOption `json:"options"`
}

// AttemptOption never carries the correct flag.
type AttemptOption struct {
	ID   uuid.UUID `json:"id"`
	Text string    `json:"text"`
}

// TournamentService runs the attempt lifecycle: start, submit, rank, award.
type TournamentService struct {
	store           TournamentStore
	cache           CacheInvalidator
	now             func() time.Time
	rnd             *rand.Rand
	enforceDuration bool
}

// NewTournamentService builds a service on the wall clock and a time-seeded
// shuffle source.
func NewTournamentService(store TournamentStore, cache CacheInvalidator, enforceDuration bool) *TournamentService {
	return NewTournamentServiceWithClock(store, cache, enforceDuration,
		time.Now, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewTournamentServiceWithClock is the test constructor.
func NewTournamentServiceWithClock(store TournamentStore, cache CacheInvalidator, enforceDuration bool, now func() time.Time, rnd *rand.Rand) *TournamentService {
	return &TournamentService{
		store:           store,
		cache:           cache,
		now:             now,
		rnd:             rnd,
		enforceDuration: enforceDuration,
	}
}

// Tournaments lists non-archived tournaments whose window has not closed,
// status stamped as of now.
func (s *TournamentService) Tournaments(ctx context.Context) ([]*domain.Tournament, error) {
	all, err := s.store.Tournaments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tournaments: %w", err)
	}
	now := s.now()
	out := make([]*domain.Tournament, 0, len(all))
	for _, t := range all {
		if t.Archived || now.After(t.EndDate) {
			continue
		}
		t.Status = t.EffectiveStatus(now)
		out = append(out, t)
	}
	return out, nil
}

// Tournament loads a single tournament with its status stamped.
func (s *TournamentService) Tournament(ctx context.Context, id uuid.UUID) (*domain.Tournament, error) {
	t, err := s.store.TournamentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Status = t.EffectiveStatus(s.now())
	return t, nil
}

// StartAttempt opens a new attempt for the participant: checks the window and
// the attempt limits, draws a fresh frozen question set and persists it.
// Precondition checks run in a fixed order so a caller failing several always
// sees the same error.
func (s *TournamentService) StartAttempt(ctx context.Context, p domain.Participant, tournamentID uuid.UUID) (*StartedAttempt, error) {
	t, err := s.store.TournamentByID(ctx, tournamentID)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: tournament not found", domain.ErrValidation)
		}
		return nil, fmt.Errorf("load tournament: %w", err)
	}

	if !p.Valid() {
		return nil, domain.ErrAuthenticationRequired
	}

	now := s.now()
	if !t.ActiveAt(now) {
		return nil, domain.ErrTournamentNotActive
	}

	if t.MaxTotalAttempts != nil {
		total, err := s.store.CountCompletedAttempts(ctx, t.ID, p, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("count attempts: %w", err)
		}
		if total >= *t.MaxTotalAttempts {
			return nil, domain.ErrAttemptLimitReached
		}
	}

	if t.MaxAttemptsPerDay > 0 {
		dayStart := domain.DateOf(now)
		dayEnd := dayStart.Add(24 * time.Hour)
		today, err := s.store.CountCompletedAttempts(ctx, t.ID, p, &dayStart, &dayEnd)
		if err != nil {
			return nil, fmt.Errorf("count daily attempts: %w", err)
		}
		if today >= t.MaxAttemptsPerDay {
			return nil, domain.ErrDailyLimitReached
		}
	}

	drawn, err := s.selectQuestions(ctx, t, p)
	if err != nil {
		return nil, err
	}

	attempt := &domain.TournamentAttempt{
		ID:           uuid.New(),
		TournamentID: t.ID,
		AttemptDate:  now,
		QuestionIDs:  make([]uuid.UUID, 0, len(drawn)),
	}
	if p.User != nil {
		id := p.User.ID
		attempt.UserID = &id
	} else {
		id := p.Guest.ID
		attempt.GuestID = &id
	}
	for _, q := range drawn {
		attempt.QuestionIDs = append(attempt.QuestionIDs, q.ID)
	}
	if err := s.store.CreateAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	started := &StartedAttempt{
		AttemptID:       attempt.ID,
		TournamentID:    t.ID,
		DurationMinutes: t.DurationMinutes,
		NegativeMarking: t.NegativeMarking,
		Questions:       make([]AttemptQuestion, 0, len(drawn)),
	}
	for _, q := range drawn {
		aq := AttemptQuestion{ID: q.ID, Text: q.Text}
		for _, opt := range q.Options {
			aq.Options = append(aq.Options, AttemptOption{ID: opt.ID, Text: opt.Text})
		}
		started.Questions = append(started.Questions, aq)
	}
	return started, nil
}

// selectQuestions draws up to MaxQuestionsPerAttempt unseen questions from
// the pool. Seen means present in the frozen set of any of the participant's
// completed attempts. When nothing remains the pool is exhausted; when fewer
// than the cap remain the whole remainder is drawn.
func (s *TournamentService) selectQuestions(ctx context.Context, t *domain.Tournament, p domain.Participant) ([]*domain.Question, error) {
	pool, err := s.store.PoolQuestionIDs(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("load pool: %w", err)
	}
	seen, err := s.store.SeenQuestionIDs(ctx, t.ID, p)
	if err != nil {
		return nil, fmt.Errorf("load seen questions: %w", err)
	}

	available := make([]uuid.UUID, 0, len(pool))
	for _, id := range pool {
		if !seen[id] {
			available = append(available, id)
		}
	}
	if len(available) == 0 {
		return nil, domain.ErrQuestionPoolExhausted
	}

	if len(available) > t.MaxQuestionsPerAttempt {
		s.rnd.Shuffle(len(available), func(i, j int) {
			available[i], available[j] = available[j], available[i]
		})
		available = available[:t.MaxQuestionsPerAttempt]
	}

	questions, err := s.store.QuestionsByIDs(ctx, available)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	return questions, nil
}

// SubmitAttempt grades the answers against the attempt's frozen set, closes
// the attempt and folds the score into the leaderboard. Submissions are
// all-or-nothing: any invalid answer rejects the whole batch before a single
// point is tallied.
func (s *TournamentService) SubmitAttempt(ctx context.Context, p domain.Participant, attemptID uuid.UUID, answers []Answer) (*SubmitResult, error) {
	attempt, err := s.store.AttemptByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if !attempt.OwnedBy(p) {
		return nil, domain.ErrPermissionDenied
	}
	if attempt.Completed {
		return nil, domain.ErrAlreadySubmitted
	}

	t, err := s.store.TournamentByID(ctx, attempt.TournamentID)
	if err != nil {
		return nil, fmt.Errorf("load tournament: %w", err)
	}
	now := s.now()
	if !t.ActiveAt(now) {
		return nil, domain.ErrTournamentNotActive
	}

	elapsed := now.Sub(attempt.AttemptDate)
	durationExceeded := t.DurationMinutes > 0 &&
		elapsed > time.Duration(t.DurationMinutes)*time.Minute
	if durationExceeded && s.enforceDuration {
		return nil, domain.ErrAttemptExpired
	}

	questions, err := s.store.QuestionsByIDs(ctx, attempt.QuestionIDs)
	if err != nil {
		return nil, fmt.Errorf("load attempt questions: %w", err)
	}
	byID := make(map[uuid.UUID]*domain.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	answered := make(map[uuid.UUID]bool, len(answers))
	for _, a := range answers {
		if !attempt.InFrozenSet(a.QuestionID) {
			return nil, fmt.Errorf("%w: %s", domain.ErrQuestionNotInAttempt, a.QuestionID)
		}
		if answered[a.QuestionID] {
			return nil, fmt.Errorf("%w: question %s answered twice", domain.ErrValidation, a.QuestionID)
		}
		answered[a.QuestionID] = true
		if len(a.OptionIDs) == 0 {
			return nil, fmt.Errorf("%w: question %s has no selected option", domain.ErrValidation, a.QuestionID)
		}
		q := byID[a.QuestionID]
		for _, optID := range a.OptionIDs {
			if q.OptionByID(optID) == nil {
				return nil, fmt.Errorf("%w: option %s does not belong to question %s", domain.ErrInvalidOption, optID, a.QuestionID)
			}
		}
	}

	result := &SubmitResult{
		AttemptID:        attempt.ID,
		DurationExceeded: durationExceeded,
		Answers:          make([]AnswerResult, 0, len(answers)),
	}
	for _, a := range answers {
		q := byID[a.QuestionID]
		var delta float64
		correct := answerCorrect(q, a.OptionIDs)
		if correct {
			delta = 1
			result.CorrectAnswers++
		} else {
			delta = -t.NegativeMarking
			result.WrongAnswers++
		}
		result.Score += delta
		result.Answers = append(result.Answers, AnswerResult{
			QuestionID: a.QuestionID,
			Correct:    correct,
			Delta:      delta,
		})
	}
	result.SkippedQuestions = len(attempt.QuestionIDs) - len(answers)
	result.TimeTakenSeconds = int(elapsed / time.Second)

	attempt.Score = result.Score
	attempt.CorrectAnswers = result.CorrectAnswers
	attempt.WrongAnswers = result.WrongAnswers
	attempt.SkippedQuestions = result.SkippedQuestions
	attempt.EndTime = &now
	attempt.TimeTakenSeconds = result.TimeTakenSeconds
	attempt.Completed = true

	entry, err := s.store.FinalizeAttempt(ctx, attempt)
	if err != nil {
		return nil, fmt.Errorf("finalize attempt: %w", err)
	}
	result.LeaderboardScore = entry.TotalScore

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, t.ID); err != nil {
			log.Printf("leaderboard cache invalidate failed for tournament %s: %v", t.ID, err)
		}
	}
	return result, nil
}

// answerCorrect grades one selection. Single-correct questions accept any one
// selected option flagged correct; multi-correct questions require the
// selection to equal the correct set exactly.
func answerCorrect(q *domain.Question, selected []uuid.UUID) bool {
	correct := q.CorrectOptionIDs()
	if len(correct) <= 1 {
		return len(selected) == 1 && correct[selected[0]]
	}
	if len(selected) != len(correct) {
		return false
	}
	seen := make(map[uuid.UUID]bool, len(selected))
	for _, id := range selected {
		if !correct[id] || seen[id] {
			return false
		}
		seen[id] = true
	}
	return true
}

// Leaderboard computes the ranked view for one tournament.
func (s *TournamentService) Leaderboard(ctx context.Context, tournamentID uuid.UUID, mode RankMode) ([]domain.RankedEntry, error) {
	if _, err := s.store.TournamentByID(ctx, tournamentID); err != nil {
		return nil, err
	}
	rows, err := s.store.TournamentScoreRows(ctx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("load score rows: %w", err)
	}
	return Rank(rows, mode), nil
}

// ActiveLeaderboard is one tournament's ranked view in the all-active
// overview.
type ActiveLeaderboard struct {
	TournamentID uuid.UUID            `json:"tournamentId"`
	Title        string               `json:"title"`
	Entries      []domain.RankedEntry `json:"entries"`
}

// ActiveLeaderboards computes the ranked view of every currently active
// tournament.
func (s *TournamentService) ActiveLeaderboards(ctx context.Context, mode RankMode) ([]ActiveLeaderboard, error) {
	all, err := s.store.Tournaments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tournaments: %w", err)
	}
	now := s.now()
	boards := make([]ActiveLeaderboard, 0)
	for _, t := range all {
		if !t.ActiveAt(now) {
			continue
		}
		rows, err := s.store.TournamentScoreRows(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("load score rows for %s: %w", t.ID, err)
		}
		boards = append(boards, ActiveLeaderboard{
			TournamentID: t.ID,
			Title:        t.Title,
			Entries:      Rank(rows, mode),
		})
	}
	return boards, nil
}

// CreateTournament validates and persists a new tournament.
func (s *TournamentService) CreateTournament(ctx context.Context, t *domain.Tournament) (*domain.Tournament, error) {
	if strings.TrimSpace(t.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if !t.StartDate.Before(t.EndDate) {
		return nil, fmt.Errorf("%w: start date must precede end date", domain.ErrValidation)
	}
	if t.MaxQuestionsPerAttempt <= 0 {
		return nil, fmt.Errorf("%w: questions per attempt must be positive", domain.ErrValidation)
	}
	if t.NegativeMarking < 0 {
		return nil, fmt.Errorf("%w: negative marking cannot be negative", domain.ErrValidation)
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := s.now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if err := s.store.InsertTournament(ctx, t); err != nil {
		return nil, fmt.Errorf("insert tournament: %w", err)
	}
	t.Status = t.EffectiveStatus(now)
	return t, nil
}

// ImportQuestions validates and attaches a batch of questions to a
// tournament's pool in one transaction; a single bad question rejects the
// whole batch.
func (s *TournamentService) ImportQuestions(ctx context.Context, tournamentID uuid.UUID, questions []*domain.Question) (int, error) {
	if _, err := s.store.TournamentByID(ctx, tournamentID); err != nil {
		return 0, err
	}
	if len(questions) == 0 {
		return 0, fmt.Errorf("%w: no questions to import", domain.ErrValidation)
	}
	for i, q := range questions {
		if strings.TrimSpace(q.Text) == "" {
			return 0, fmt.Errorf("%w: question %d has empty text", domain.ErrValidation, i+1)
		}
		if len(q.Options) < 2 {
			return 0, fmt.Errorf("%w: question %d needs at least two options", domain.ErrValidation, i+1)
		}
		if !q.HasCorrectOption() {
			return 0, fmt.Errorf("%w: question %d has no correct option", domain.ErrValidation, i+1)
		}
		if q.ID == uuid.Nil {
			q.ID = uuid.New()
		}
		for _, opt := range q.Options {
			if strings.TrimSpace(opt.Text) == "" {
				return 0, fmt.Errorf("%w: question %d has an empty option", domain.ErrValidation, i+1)
			}
			if opt.ID == uuid.Nil {
				opt.ID = uuid.New()
			}
			opt.QuestionID = q.ID
		}
	}
	if err := s.store.ImportQuestions(ctx, tournamentID, questions); err != nil {
		return 0, fmt.Errorf("import questions: %w", err)
	}
	return len(questions), nil
}

// Prizes lists the awardable prizes of a tournament.
func (s *TournamentService) Prizes(ctx context.Context, tournamentID uuid.UUID) ([]*domain.TournamentPrize, error) {
	if _, err := s.store.TournamentByID(ctx, tournamentID); err != nil {
		return nil, err
	}
	return s.store.Prizes(ctx, tournamentID)
}

// Winners lists the recorded winners of a tournament.
func (s *TournamentService) Winners(ctx context.Context, tournamentID uuid.UUID) ([]*domain.TournamentWinner, error) {
	if _, err := s.store.TournamentByID(ctx, tournamentID); err != nil {
		return nil, err
	}
	return s.store.Winners(ctx, tournamentID)
}

// AwardPrizes assigns each prize of the given type to the participant holding
// its rank on the best-score leaderboard. Already-awarded prizes are skipped,
// so the operation is safe to re-run. Returns the number of winners recorded.
func (s *TournamentService) AwardPrizes(ctx context.Context, tournamentID uuid.UUID, prizeType domain.PrizeType) (int, error) {
	if _, err := s.store.TournamentByID(ctx, tournamentID); err != nil {
		return 0, err
	}
	prizes, err := s.store.Prizes(ctx, tournamentID)
	if err != nil {
		return 0, fmt.Errorf("load prizes: %w", err)
	}
	rows, err := s.store.TournamentScoreRows(ctx, tournamentID)
	if err != nil {
		return 0, fmt.Errorf("load score rows: %w", err)
	}
	ranked := Rank(rows, BestScore)
	byRank := make(map[int]domain.RankedEntry, len(ranked))
	for _, entry := range ranked {
		if _, ok := byRank[entry.Rank]; !ok {
			byRank[entry.Rank] = entry
		}
	}

	now := s.now()
	winners := make([]*domain.TournamentWinner, 0, len(prizes))
	for _, prize := range prizes {
		if prize.PrizeType != prizeType {
			continue
		}
		entry, ok := byRank[prize.Rank]
		if !ok {
			continue
		}
		userID, guestID := domain.ParseParticipantKey(entry.ParticipantKey)
		prizeID := prize.ID
		winners = append(winners, &domain.TournamentWinner{
			ID:           uuid.New(),
			TournamentID: tournamentID,
			PrizeID:      &prizeID,
			UserID:       userID,
			GuestID:      guestID,
			WinningScore: entry.TotalScore,
			WinningRank:  entry.Rank,
			AwardDate:    now,
			ClaimStatus:  domain.ClaimPending,
		})
	}
	if len(winners) == 0 {
		return 0, nil
	}
	recorded, err := s.store.RecordWinners(ctx, winners)
	if err != nil {
		return 0, fmt.Errorf("record winners: %w", err)
	}
	return recorded, nil
}

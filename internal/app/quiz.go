package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quizarena/internal/domain"
)

// QuizService runs the practice-quiz flow: incremental attempts over an
// item's question set, with per-quiz negative marking.
type QuizService struct {
	store QuizStore
	now   func() time.Time
}

// NewQuizService builds a service on the wall clock.
func NewQuizService(store QuizStore) *QuizService {
	return NewQuizServiceWithClock(store, time.Now)
}

// NewQuizServiceWithClock is the test constructor.
func NewQuizServiceWithClock(store QuizStore, now func() time.Time) *QuizService {
	return &QuizService{store: store, now: now}
}

// Catalog lists every quiz with its categories and items.
func (s *QuizService) Catalog(ctx context.Context) ([]*domain.Quiz, error) {
	quizzes, err := s.store.Quizzes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	return quizzes, nil
}

// QuestionView is one question presented to the taker, with its position.
type QuestionView struct {
	Question  AttemptQuestion `json:"question"`
	Index     int             `json:"index"`
	Total     int             `json:"total"`
	IsLast    bool            `json:"isLast"`
	NextIndex int             `json:"nextIndex"`
}

// Question returns the item's question at the given zero-based index,
// correctness stripped.
func (s *QuizService) Question(ctx context.Context, itemID uuid.UUID, index int) (*QuestionView, error) {
	item, _, err := s.store.ItemWithQuiz(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(item.Questions) {
		return nil, fmt.Errorf("%w: question index %d out of range", domain.ErrValidation, index)
	}
	q := item.Questions[index]
	view := &QuestionView{
		Question: AttemptQuestion{ID: q.ID, Text: q.Text},
		Index:    index,
		Total:    len(item.Questions),
	}
	for _, opt := range q.Options {
		view.Question.Options = append(view.Question.Options, AttemptOption{ID: opt.ID, Text: opt.Text})
	}
	view.IsLast = index == len(item.Questions)-1
	if !view.IsLast {
		view.NextIndex = index + 1
	} else {
		view.NextIndex = -1
	}
	return view, nil
}

// QuizSubmitResult is the outcome of grading a batch of quiz answers against
// the participant's running attempt.
type QuizSubmitResult struct {
	AttemptID      uuid.UUID      `json:"attemptId"`
	Score          float64        `json:"score"`
	CorrectAnswers int            `json:"correctAnswers"`
	WrongAnswers   int            `json:"wrongAnswers"`
	TotalQuestions int            `json:"totalQuestions"`
	Completed      bool           `json:"completed"`
	Answers        []AnswerResult `json:"answers"`
}

// SubmitAnswers grades a batch of answers for an item, folding them into the
// participant's latest open attempt, or a fresh one when none is open, the
// last is exhausted, or startFresh is set. Answers for questions outside the
// item are ignored rather than rejected; duplicate questions in one batch are
// rejected.
func (s *QuizService) SubmitAnswers(ctx context.Context, p domain.Participant, itemID uuid.UUID, answers []Answer, startFresh bool) (*QuizSubmitResult, error) {
	if !p.Valid() {
		return nil, domain.ErrAuthenticationRequired
	}
	item, quiz, err := s.store.ItemWithQuiz(ctx, itemID)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*domain.Question, len(item.Questions))
	for _, q := range item.Questions {
		byID[q.ID] = q
	}

	attempt, fresh, err := s.openAttempt(ctx, item, p, startFresh)
	if err != nil {
		return nil, err
	}

	answered := make(map[uuid.UUID]bool, len(answers))
	result := &QuizSubmitResult{
		AttemptID:      attempt.ID,
		TotalQuestions: attempt.TotalQuestions,
		Answers:        make([]AnswerResult, 0, len(answers)),
	}
	for _, a := range answers {
		q, ok := byID[a.QuestionID]
		if !ok {
			continue
		}
		if answered[a.QuestionID] {
			return nil, fmt.Errorf("%w: question %s answered twice", domain.ErrValidation, a.QuestionID)
		}
		answered[a.QuestionID] = true
		if len(a.OptionIDs) == 0 {
			return nil, fmt.Errorf("%w: question %s has no selected option", domain.ErrValidation, a.QuestionID)
		}
		for _, optID := range a.OptionIDs {
			if q.OptionByID(optID) == nil {
				return nil, fmt.Errorf("%w: option %s does not belong to question %s", domain.ErrInvalidOption, optID, a.QuestionID)
			}
		}

		var delta float64
		correct := answerCorrect(q, a.OptionIDs)
		if correct {
			delta = 1
			attempt.CorrectAnswers++
			result.CorrectAnswers++
		} else {
			delta = -quiz.NegativeMarking
			attempt.WrongAnswers++
			result.WrongAnswers++
		}
		attempt.Score += delta
		result.Answers = append(result.Answers, AnswerResult{
			QuestionID: a.QuestionID,
			Correct:    correct,
			Delta:      delta,
		})
	}
	result.Score = attempt.Score
	result.Completed = attempt.Exhausted()

	if fresh {
		err = s.store.CreateQuizAttempt(ctx, attempt)
	} else {
		err = s.store.SaveQuizAttempt(ctx, attempt)
	}
	if err != nil {
		return nil, fmt.Errorf("save quiz attempt: %w", err)
	}
	return result, nil
}

// openAttempt reuses the latest open attempt or starts a new one.
func (s *QuizService) openAttempt(ctx context.Context, item *domain.Item, p domain.Participant, startFresh bool) (*domain.QuizAttempt, bool, error) {
	if !startFresh {
		latest, err := s.store.LatestQuizAttempt(ctx, item.ID, p)
		if err != nil && !isNotFound(err) {
			return nil, false, fmt.Errorf("load latest attempt: %w", err)
		}
		if latest != nil && !latest.Exhausted() {
			return latest, false, nil
		}
	}
	attempt := &domain.QuizAttempt{
		ID:             uuid.New(),
		ItemID:         item.ID,
		TotalQuestions: len(item.Questions),
		AttemptDate:    s.now(),
	}
	if p.User != nil {
		id := p.User.ID
		attempt.UserID = &id
	} else {
		id := p.Guest.ID
		attempt.GuestID = &id
	}
	return attempt, true, nil
}

// ItemLeaderboard ranks cumulative scores over an item's attempts.
func (s *QuizService) ItemLeaderboard(ctx context.Context, itemID uuid.UUID) ([]domain.RankedEntry, error) {
	if _, _, err := s.store.ItemWithQuiz(ctx, itemID); err != nil {
		return nil, err
	}
	rows, err := s.store.ItemScoreRows(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("load score rows: %w", err)
	}
	return Rank(rows, SumScores), nil
}

package app

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"

	"quizarena/internal/domain"
	"quizarena/internal/infra/memory"
)

type tournamentFixture struct {
	store      *memory.Store
	svc        *TournamentService
	clock      time.Time
	tournament *domain.Tournament
	correct    map[uuid.UUID]uuid.UUID
	wrong      map[uuid.UUID]uuid.UUID
}

func newTournamentFixture(t *testing.T, poolSize, perAttempt int, negative float64) *tournamentFixture {
	t.Helper()
	f := &tournamentFixture{
		store:   memory.NewStore(),
		clock:   time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		correct: make(map[uuid.UUID]uuid.UUID),
		wrong:   make(map[uuid.UUID]uuid.UUID),
	}
	f.svc = NewTournamentServiceWithClock(f.store, nil, false,
		func() time.Time { return f.clock }, rand.New(rand.NewSource(1)))

	f.tournament = &domain.Tournament{
		ID:                     uuid.New(),
		Title:                  "Test Cup",
		StartDate:              f.clock.Add(-time.Hour),
		EndDate:                f.clock.Add(7 * 24 * time.Hour),
		MaxQuestionsPerAttempt: perAttempt,
		NegativeMarking:        negative,
		DurationMinutes:        10,
	}
	f.store.AddTournament(f.tournament)

	questions := make([]*domain.Question, 0, poolSize)
	for i := 0; i < poolSize; i++ {
		q := &domain.Question{ID: uuid.New(), Text: "question"}
		right := &domain.Option{ID: uuid.New(), QuestionID: q.ID, Text: "right", Correct: true}
		bad := &domain.Option{ID: uuid.New(), QuestionID: q.ID, Text: "wrong"}
		q.Options = []*domain.Option{right, bad}
		f.correct[q.ID] = right.ID
		f.wrong[q.ID] = bad.ID
		questions = append(questions, q)
	}
	if err := f.store.ImportQuestions(context.Background(), f.tournament.ID, questions); err != nil {
		t.Fatalf("seed questions: %v", err)
	}
	return f
}

func (f *tournamentFixture) guest() domain.Participant {
	g := &domain.GuestAccount{ID: uuid.New(), Status: domain.GuestActive}
	_ = f.store.CreateGuest(context.Background(), g)
	return domain.Participant{Guest: g}
}

// answers builds a full submission: nCorrect right answers, nWrong wrong
// ones, the rest skipped.
func (f *tournamentFixture) answers(started *StartedAttempt, nCorrect, nWrong int) []Answer {
	out := make([]Answer, 0, nCorrect+nWrong)
	for _, q := range started.Questions {
		switch {
		case nCorrect > 0:
			out = append(out, Answer{QuestionID: q.ID, OptionIDs: []uuid.UUID{f.correct[q.ID]}})
			nCorrect--
		case nWrong > 0:
			out = append(out, Answer{QuestionID: q.ID, OptionIDs: []uuid.UUID{f.wrong[q.ID]}})
			nWrong--
		}
	}
	return out
}

func TestStartAttemptDrawsWithoutLeakingAnswers(t *testing.T) {
	f := newTournamentFixture(t, 12, 5, 0)
	p := f.guest()

	started, err := f.svc.StartAttempt(context.Background(), p, f.tournament.ID)
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	if len(started.Questions) != 5 {
		t.Fatalf("drew %d questions, want 5", len(started.Questions))
	}
	seen := make(map[uuid.UUID]bool)
	for _, q := range started.Questions {
		if seen[q.ID] {
			t.Fatalf("question %s drawn twice", q.ID)
		}
		seen[q.ID] = true
		if len(q.Options) != 2 {
			t.Fatalf("question %s has %d options", q.ID, len(q.Options))
		}
	}
}

func TestStartAttemptPreconditions(t *testing.T) {
	f := newTournamentFixture(t, 4, 2, 0)

	if _, err := f.svc.StartAttempt(context.Background(), f.guest(), uuid.New()); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("missing tournament: %v", err)
	}
	if _, err := f.svc.StartAttempt(context.Background(), domain.Participant{}, f.tournament.ID); !errors.Is(err, domain.ErrAuthenticationRequired) {
		t.Fatalf("anonymous participant: %v", err)
	}

	f.clock = f.tournament.StartDate.Add(-time.Hour)
	if _, err := f.svc.StartAttempt(context.Background(), f.guest(), f.tournament.ID); !errors.Is(err, domain.ErrTournamentNotActive) {
		t.Fatalf("before window: %v", err)
	}
	f.clock = f.tournament.EndDate.Add(time.Hour)
	if _, err := f.svc.StartAttempt(context.Background(), f.guest(), f.tournament.ID); !errors.Is(err, domain.ErrTournamentNotActive) {
		t.Fatalf("after window: %v", err)
	}
}

func TestPoolNeverRepeatsUntilExhausted(t *testing.T) {
	f := newTournamentFixture(t, 4, 2, 0)
	p := f.guest()
	drawn := make(map[uuid.UUID]bool)

	for round := 0; round < 2; round++ {
		started, err := f.svc.StartAttempt(context.Background(), p, f.tournament.ID)
		if err != nil {
			t.Fatalf("round %d start: %v", round, err)
		}
		for _, q := range started.Questions {
			if drawn[q.ID] {
				t.Fatalf("round %d repeated question %s", round, q.ID)
			}
			drawn[q.ID] = true
		}
		if _, err := f.svc.SubmitAttempt(context.Background(), p, started.AttemptID, f.answers(started, 2, 0)); err != nil {
			t.Fatalf("round %d submit: %v", round, err)
		}
	}
	if len(drawn) != 4 {
		t.Fatalf("drew %d distinct questions, want 4", len(drawn))
	}

	if _, err := f.svc.StartAttempt(context.Background(), p, f.tournament.ID); !errors.Is(err, domain.ErrQuestionPoolExhausted) {
		t.Fatalf("expected pool exhausted, got %v", err)
	}
}

func TestAbandonedAttemptDoesNotBurnQuestions(t *testing.T) {
	f := newTournamentFixture(t, 4, 4, 0)
	p := f.guest()

	// Started but never submitted.
	if _, err := f.svc.StartAttempt(context.Background(), p, f.tournament.ID); err != nil {
		t.Fatalf("first start: %v", err)
	}
	started, err := f.svc.StartAttempt(context.Background(), p, f.tournament.ID)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if len(started.Questions) != 4 {
		t.Fatalf("abandoned attempt consumed the pool: drew %d", len(started.Questions))
	}
}

func TestSubmitScoring(t *testing.T) {
	f := newTournamentFixture(t, 5, 5, 0.5)
	p := f.guest()
	started, err := f.svc.StartAttempt(context.Background(), p, f.tournament.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	f.clock = f.clock.Add(3 * time.Minute)
	result, err := f.svc.SubmitAttempt(context.Background(), p, started.AttemptID, f.answers(started, 3, 2))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Score != 2.0 {
		t.Fatalf("score = %v, want 2.0 (3 correct, 2 wrong at 0.5)", result.Score)
	}
	if result.CorrectAnswers != 3 || result.WrongAnswers != 2 || result.SkippedQuestions != 0 {
		t.Fatalf("tallies = %d/%d/%d", result.CorrectAnswers, result.WrongAnswers, result.SkippedQuestions)
	}
	if result.TimeTakenSeconds != 180 {
		t.Fatalf("time taken = %d, want 180", result.TimeTakenSeconds)
	}
	if result.LeaderboardScore != 2.0 {
		t.Fatalf("leaderboard score = %v", result.LeaderboardScore)
	}
}

func TestSubmitPartialCountsSkips(t *testing.T) {
	f := newTournamentFixture(t, 6, 6, 0)
	p := f.guest()
	started, _ := f.svc.StartAttempt(context.Background(), p, f.tournament.ID)

	result, err := f.svc.SubmitAttempt(context.Background(), p, started.AttemptID, f.answers(started, 2, 1))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	total := result.CorrectAnswers + result.WrongAnswers + result.SkippedQuestions
	if total != len(started.Questions) {
		t.Fatalf("tallies cover %d of %d questions", total, len(started.Questions))
	}
	if result.SkippedQuestions != 3 {
		t.Fatalf("skipped = %d, want 3", result.SkippedQuestions)
	}
	if result.Score != 2.0 {
		t.Fatalf("skips changed the score: %v", result.Score)
	}
}

func TestSubmitRejections(t *testing.T) {
	f := newTournamentFixture(t, 4, 2, 0)
	p := f.guest()
	started, _ := f.svc.StartAttempt(context.Background(), p, f.tournament.ID)
	qid := started.Questions[0].ID

	// Question outside the frozen set.
	foreign := []Answer{{QuestionID: uuid.New(), OptionIDs: []uuid.UUID{uuid.New()}}}
	if _, err := f.svc.SubmitAttempt(context.Background(), p, started.AttemptID, foreign); !errors.Is(err, domain.ErrQuestionNotInAttempt) {
		t.Fatalf("foreign question: %v", err)
	}

	// Option from another question.
	other := started.Questions[1]
	bad := []Answer{{QuestionID: qid, OptionIDs: []uuid.UUID{other.Options[0].ID}}}
	if _, err := f.svc.SubmitAttempt(context.Background(), p, started.AttemptID, bad); !errors.Is(err, domain.ErrInvalidOption) {
		t.Fatalf("foreign option: %v", err)
	}

	// Empty selection.
	empty := []Answer{{QuestionID: qid}}
	if _, err := f.svc.SubmitAttempt(context.Background(), p, started.AttemptID, empty); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("empty selection: %v", err)
	}

	// Duplicate question in one batch.
	dup := []Answer{
		{QuestionID: qid, OptionIDs: []uuid.UUID{f.correct[qid]}},
		{QuestionID: qid, OptionIDs: []uuid.UUID{f.correct[qid]}},
	}
	if _, err := f.svc.SubmitAttempt(context.Background(), p, started.AttemptID, dup); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("duplicate question: %v", err)
	}

	// A rejected batch must not have closed the attempt.
	if _, err := f.svc.SubmitAttempt(context.Background(), p, started.AttemptID, f.answers(started, 2, 0)); err != nil {
		t.Fatalf("valid submit after rejections: %v", err)
	}
}

func TestSubmitOwnershipAndIdempotence(t *testing.T) {
	f := newTournamentFixture(t, 4, 2, 0)
	owner := f.guest()
	started, _ := f.svc.StartAttempt(context.Background(), owner, f.tournament.ID)

	if _, err := f.svc.SubmitAttempt(context.Background(), f.guest(), started.AttemptID, nil); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("stranger submit: %v", err)
	}

	if _, err := f.svc.SubmitAttempt(context.Background(), owner, started.AttemptID, f.answers(started, 2, 0)); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := f.svc.SubmitAttempt(context.Background(), owner, started.AttemptID, nil); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("second submit: %v", err)
	}
}

func TestAttemptLimits(t *testing.T) {
	f := newTournamentFixture(t, 20, 2, 0)
	two := 2
	f.tournament.MaxTotalAttempts = &two
	f.tournament.MaxAttemptsPerDay = 1
	f.store.AddTournament(f.tournament)
	p := f.guest()

	started, _ := f.svc.StartAttempt(context.Background(), p, f.tournament.ID)
	if _, err := f.svc.SubmitAttempt(context.Background(), p, started.AttemptID, f.answers(started, 2, 0)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := f.svc.StartAttempt(context.Background(), p, f.tournament.ID); !errors.Is(err, domain.ErrDailyLimitReached) {
		t.Fatalf("daily limit: %v", err)
	}

	// Next day the daily window resets, but the total cap still applies.
	f.clock = f.clock.Add(24 * time.Hour)
	started, err := f.svc.StartAttempt(context.Background(), p, f.tournament.ID)
	if err != nil {
		t.Fatalf("start on day two: %v", err)
	}
	if _, err := f.svc.SubmitAttempt(context.Background(), p, started.AttemptID, f.answers(started, 2, 0)); err != nil {
		t.Fatalf("submit day two: %v", err)
	}

	f.clock = f.clock.Add(24 * time.Hour)
	if _, err := f.svc.StartAttempt(context.Background(), p, f.tournament.ID); !errors.Is(err, domain.ErrAttemptLimitReached) {
		t.Fatalf("total limit: %v", err)
	}
}

func TestDurationEnforcementToggle(t *testing.T) {
	f := newTournamentFixture(t, 4, 2, 0)
	p := f.guest()
	started, _ := f.svc.StartAttempt(context.Background(), p, f.tournament.ID)

	f.clock = f.clock.Add(11 * time.Minute)
	result, err := f.svc.SubmitAttempt(context.Background(), p, started.AttemptID, f.answers(started, 2, 0))
	if err != nil {
		t.Fatalf("lenient submit: %v", err)
	}
	if !result.DurationExceeded {
		t.Fatal("expected DurationExceeded flag")
	}

	// Same scenario with enforcement on.
	strict := newTournamentFixture(t, 4, 2, 0)
	strict.svc = NewTournamentServiceWithClock(strict.store, nil, true,
		func() time.Time { return strict.clock }, rand.New(rand.NewSource(1)))
	p = strict.guest()
	started, _ = strict.svc.StartAttempt(context.Background(), p, strict.tournament.ID)
	strict.clock = strict.clock.Add(11 * time.Minute)
	if _, err := strict.svc.SubmitAttempt(context.Background(), p, started.AttemptID, strict.answers(started, 2, 0)); !errors.Is(err, domain.ErrAttemptExpired) {
		t.Fatalf("strict submit: %v", err)
	}
}

func TestLeaderboardBestScoreAcrossAttempts(t *testing.T) {
	f := newTournamentFixture(t, 20, 4, 0)
	p := f.guest()

	var last *SubmitResult
	for _, correct := range []int{2, 4, 1} {
		started, err := f.svc.StartAttempt(context.Background(), p, f.tournament.ID)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		last, err = f.svc.SubmitAttempt(context.Background(), p, started.AttemptID, f.answers(started, correct, 0))
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		f.clock = f.clock.Add(time.Minute)
	}
	if last.LeaderboardScore != 4 {
		t.Fatalf("leaderboard score = %v, want best-ever 4", last.LeaderboardScore)
	}

	entries, err := f.svc.Leaderboard(context.Background(), f.tournament.ID, BestScore)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(entries) != 1 || entries[0].TotalScore != 4 || entries[0].Attempts != 3 {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestMultiSelectExactMatch(t *testing.T) {
	q := &domain.Question{ID: uuid.New(), Text: "pick both"}
	a := &domain.Option{ID: uuid.New(), QuestionID: q.ID, Text: "a", Correct: true}
	b := &domain.Option{ID: uuid.New(), QuestionID: q.ID, Text: "b", Correct: true}
	c := &domain.Option{ID: uuid.New(), QuestionID: q.ID, Text: "c"}
	q.Options = []*domain.Option{a, b, c}

	if !answerCorrect(q, []uuid.UUID{a.ID, b.ID}) {
		t.Fatal("exact set rejected")
	}
	if answerCorrect(q, []uuid.UUID{a.ID}) {
		t.Fatal("subset accepted")
	}
	if answerCorrect(q, []uuid.UUID{a.ID, b.ID, c.ID}) {
		t.Fatal("superset accepted")
	}
	if answerCorrect(q, []uuid.UUID{a.ID, a.ID}) {
		t.Fatal("duplicate selection accepted")
	}
}

func TestImportQuestionsValidation(t *testing.T) {
	f := newTournamentFixture(t, 0, 2, 0)

	bad := []*domain.Question{{
		Text: "no correct option",
		Options: []*domain.Option{
			{Text: "a"}, {Text: "b"},
		},
	}}
	if _, err := f.svc.ImportQuestions(context.Background(), f.tournament.ID, bad); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("uncorrectable question imported: %v", err)
	}

	good := []*domain.Question{{
		Text: "fine",
		Options: []*domain.Option{
			{Text: "a", Correct: true}, {Text: "b"},
		},
	}}
	n, err := f.svc.ImportQuestions(context.Background(), f.tournament.ID, good)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 1 {
		t.Fatalf("imported %d, want 1", n)
	}
}

func TestAwardPrizesIdempotent(t *testing.T) {
	f := newTournamentFixture(t, 8, 4, 0)

	first := f.guest()
	second := f.guest()
	for p, correct := range map[*domain.Participant]int{&first: 4, &second: 2} {
		started, err := f.svc.StartAttempt(context.Background(), *p, f.tournament.ID)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		if _, err := f.svc.SubmitAttempt(context.Background(), *p, started.AttemptID, f.answers(started, correct, 0)); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	f.store.AddPrize(&domain.TournamentPrize{
		ID:           uuid.New(),
		TournamentID: f.tournament.ID,
		PrizeType:    domain.PrizeOverall,
		Rank:         1,
		Title:        "Champion",
	})

	awarded, err := f.svc.AwardPrizes(context.Background(), f.tournament.ID, domain.PrizeOverall)
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if awarded != 1 {
		t.Fatalf("awarded %d, want 1", awarded)
	}

	winners, err := f.svc.Winners(context.Background(), f.tournament.ID)
	if err != nil {
		t.Fatalf("winners: %v", err)
	}
	if len(winners) != 1 || winners[0].GuestID == nil || *winners[0].GuestID != first.Guest.ID {
		t.Fatalf("winners = %+v", winners)
	}
	if winners[0].WinningScore != 4 {
		t.Fatalf("winning score = %v", winners[0].WinningScore)
	}

	// A second run records nothing new.
	awarded, err = f.svc.AwardPrizes(context.Background(), f.tournament.ID, domain.PrizeOverall)
	if err != nil {
		t.Fatalf("re-award: %v", err)
	}
	if awarded != 0 {
		t.Fatalf("re-award recorded %d winners", awarded)
	}
}

func TestCreateTournament(t *testing.T) {
	f := newTournamentFixture(t, 0, 2, 0)

	draft := func() *domain.Tournament {
		return &domain.Tournament{
			Title:                  "Spring Cup",
			StartDate:              f.clock.Add(-time.Hour),
			EndDate:                f.clock.Add(time.Hour),
			MaxQuestionsPerAttempt: 5,
		}
	}

	bad := draft()
	bad.Title = "  "
	if _, err := f.svc.CreateTournament(context.Background(), bad); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("blank title: %v", err)
	}
	bad = draft()
	bad.EndDate = bad.StartDate
	if _, err := f.svc.CreateTournament(context.Background(), bad); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("empty window: %v", err)
	}
	bad = draft()
	bad.MaxQuestionsPerAttempt = 0
	if _, err := f.svc.CreateTournament(context.Background(), bad); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("zero questions per attempt: %v", err)
	}

	created, err := f.svc.CreateTournament(context.Background(), draft())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == uuid.Nil {
		t.Fatal("id not assigned")
	}
	if created.Status != domain.StatusActive {
		t.Fatalf("status = %s", created.Status)
	}
	if !created.CreatedAt.Equal(f.clock) {
		t.Fatalf("created at = %v", created.CreatedAt)
	}
	loaded, err := f.svc.Tournament(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Title != "Spring Cup" {
		t.Fatalf("loaded %+v", loaded)
	}

	dupe := draft()
	dupe.ID = created.ID
	if _, err := f.svc.CreateTournament(context.Background(), dupe); !errors.Is(err, domain.ErrStorageConflict) {
		t.Fatalf("duplicate id: %v", err)
	}
}

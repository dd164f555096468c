package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quizarena/internal/domain"
)

// Store is the in-memory implementation of the app's storage interfaces,
// used in tests and when the service runs without a database. All methods
// are safe for concurrent use; FinalizeAttempt is atomic under the write
// lock, which is what makes concurrent submissions converge on the best
// score.
type Store struct {
	mu sync.RWMutex

	users        map[uuid.UUID]*domain.User
	usersByEmail map[string]uuid.UUID
	guests       map[uuid.UUID]*domain.GuestAccount
	activity     []*domain.ActivityLog

	questions   map[uuid.UUID]*domain.Question
	tournaments map[uuid.UUID]*domain.Tournament
	pools       map[uuid.UUID][]uuid.UUID
	attempts    map[uuid.UUID]*domain.TournamentAttempt
	entries     map[string]*domain.LeaderboardEntry
	prizes      map[uuid.UUID][]*domain.TournamentPrize
	winners     map[uuid.UUID][]*domain.TournamentWinner

	quizzes      map[uuid.UUID]*domain.Quiz
	items        map[uuid.UUID]*domain.Item
	itemQuiz     map[uuid.UUID]uuid.UUID
	quizAttempts map[uuid.UUID]*domain.QuizAttempt
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:        make(map[uuid.UUID]*domain.User),
		usersByEmail: make(map[string]uuid.UUID),
		guests:       make(map[uuid.UUID]*domain.GuestAccount),
		questions:    make(map[uuid.UUID]*domain.Question),
		tournaments:  make(map[uuid.UUID]*domain.Tournament),
		pools:        make(map[uuid.UUID][]uuid.UUID),
		attempts:     make(map[uuid.UUID]*domain.TournamentAttempt),
		entries:      make(map[string]*domain.LeaderboardEntry),
		prizes:       make(map[uuid.UUID][]*domain.TournamentPrize),
		winners:      make(map[uuid.UUID][]*domain.TournamentWinner),
		quizzes:      make(map[uuid.UUID]*domain.Quiz),
		items:        make(map[uuid.UUID]*domain.Item),
		itemQuiz:     make(map[uuid.UUID]uuid.UUID),
		quizAttempts: make(map[uuid.UUID]*domain.QuizAttempt),
	}
}

func entryKey(tournamentID uuid.UUID, p domain.Participant) string {
	return tournamentID.String() + "|" + p.Key()
}

func attemptParticipant(userID, guestID *uuid.UUID) string {
	return domain.ParticipantKeyFor(userID, guestID)
}

// --- IdentityStore ---

func (s *Store) UserByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByEmail[strings.ToLower(email)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Store) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(u.Email)
	if _, ok := s.usersByEmail[email]; ok {
		return domain.ErrStorageConflict
	}
	cp := *u
	s.users[u.ID] = &cp
	s.usersByEmail[email] = u.ID
	return nil
}

func (s *Store) GuestByID(_ context.Context, id uuid.UUID) (*domain.GuestAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.guests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *Store) CreateGuest(_ context.Context, g *domain.GuestAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.guests[g.ID]; ok {
		return domain.ErrStorageConflict
	}
	cp := *g
	s.guests[g.ID] = &cp
	return nil
}

func (s *Store) SaveGuest(_ context.Context, g *domain.GuestAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.guests[g.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *g
	s.guests[g.ID] = &cp
	return nil
}

func (s *Store) AppendActivity(_ context.Context, entry *domain.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	cp.ID = int64(len(s.activity) + 1)
	s.activity = append(s.activity, &cp)
	return nil
}

// MergeGuests links every active unlinked guest seen from addr to the user
// and re-attributes their attempts and leaderboard entries. Returns the
// number of re-attributed attempts.
func (s *Store) MergeGuests(_ context.Context, addr string, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make(map[uuid.UUID]bool)
	for _, g := range s.guests {
		if g.RemoteAddr == addr && g.Status == domain.GuestActive && g.UserID == nil {
			uid := userID
			g.UserID = &uid
			merged[g.ID] = true
		}
	}
	if len(merged) == 0 {
		return 0, nil
	}

	moved := 0
	for _, a := range s.attempts {
		if a.GuestID != nil && merged[*a.GuestID] {
			uid := userID
			a.UserID = &uid
			a.GuestID = nil
			moved++
		}
	}
	for _, a := range s.quizAttempts {
		if a.GuestID != nil && merged[*a.GuestID] {
			uid := userID
			a.UserID = &uid
			a.GuestID = nil
			moved++
		}
	}

	// Leaderboard rows move with the attempts. When the user already holds a
	// row for the tournament, keep the better of the two totals.
	user := s.users[userID]
	for key, e := range s.entries {
		if e.GuestID == nil || !merged[*e.GuestID] {
			continue
		}
		delete(s.entries, key)
		uid := userID
		e.UserID = &uid
		e.GuestID = nil
		p := domain.Participant{User: user}
		target := entryKey(e.TournamentID, p)
		if existing, ok := s.entries[target]; ok {
			if e.TotalScore > existing.TotalScore {
				existing.TotalScore = e.TotalScore
			}
			continue
		}
		s.entries[target] = e
	}
	return moved, nil
}

// --- TournamentStore ---

func (s *Store) TournamentByID(_ context.Context, id uuid.UUID) (*domain.Tournament, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tournaments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) InsertTournament(_ context.Context, t *domain.Tournament) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tournaments[t.ID]; ok {
		return domain.ErrStorageConflict
	}
	cp := *t
	s.tournaments[t.ID] = &cp
	return nil
}

func (s *Store) Tournaments(_ context.Context) ([]*domain.Tournament, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Tournament, 0, len(s.tournaments))
	for _, t := range s.tournaments {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (s *Store) PoolQuestionIDs(_ context.Context, tournamentID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pool := s.pools[tournamentID]
	out := make([]uuid.UUID, len(pool))
	copy(out, pool)
	return out, nil
}

func (s *Store) QuestionsByIDs(_ context.Context, ids []uuid.UUID) ([]*domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Question, 0, len(ids))
	for _, id := range ids {
		q, ok := s.questions[id]
		if !ok {
			return nil, domain.ErrNotFound
		}
		out = append(out, q)
	}
	return out, nil
}

func (s *Store) SeenQuestionIDs(_ context.Context, tournamentID uuid.UUID, p domain.Participant) (map[uuid.UUID]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := p.Key()
	seen := make(map[uuid.UUID]bool)
	for _, a := range s.attempts {
		if a.TournamentID != tournamentID || !a.Completed {
			continue
		}
		if attemptParticipant(a.UserID, a.GuestID) != key {
			continue
		}
		for _, qid := range a.QuestionIDs {
			seen[qid] = true
		}
	}
	return seen, nil
}

func (s *Store) CountCompletedAttempts(_ context.Context, tournamentID uuid.UUID, p domain.Participant, from, to *time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := p.Key()
	count := 0
	for _, a := range s.attempts {
		if a.TournamentID != tournamentID || !a.Completed {
			continue
		}
		if attemptParticipant(a.UserID, a.GuestID) != key {
			continue
		}
		if from != nil && a.AttemptDate.Before(*from) {
			continue
		}
		if to != nil && !a.AttemptDate.Before(*to) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *Store) CreateAttempt(_ context.Context, a *domain.TournamentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[a.ID]; ok {
		return domain.ErrStorageConflict
	}
	s.attempts[a.ID] = copyAttempt(a)
	return nil
}

func (s *Store) AttemptByID(_ context.Context, id uuid.UUID) (*domain.TournamentAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyAttempt(a), nil
}

// FinalizeAttempt persists the graded attempt and folds its score into the
// participant's leaderboard row in one atomic step.
func (s *Store) FinalizeAttempt(_ context.Context, a *domain.TournamentAttempt) (*domain.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.attempts[a.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if stored.Completed {
		return nil, domain.ErrAlreadySubmitted
	}
	s.attempts[a.ID] = copyAttempt(a)

	at := a.AttemptDate
	if a.EndTime != nil {
		at = *a.EndTime
	}
	p := s.participantOf(a.UserID, a.GuestID)
	key := entryKey(a.TournamentID, p)
	entry, ok := s.entries[key]
	if !ok {
		entry = domain.NewLeaderboardEntry(p, a.TournamentID, a.Score, at)
		s.entries[key] = entry
	} else {
		entry.Apply(a.Score, at)
	}
	cp := *entry
	return &cp, nil
}

func (s *Store) TournamentScoreRows(_ context.Context, tournamentID uuid.UUID) ([]domain.ScoreRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]domain.ScoreRow, 0)
	for _, a := range s.attempts {
		if a.TournamentID != tournamentID || !a.Completed {
			continue
		}
		rows = append(rows, s.scoreRow(a.UserID, a.GuestID, a.Score, a.AttemptDate))
	}
	return rows, nil
}

func (s *Store) ImportQuestions(_ context.Context, tournamentID uuid.UUID, questions []*domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tournaments[tournamentID]; !ok {
		return domain.ErrNotFound
	}
	pooled := make(map[uuid.UUID]bool, len(s.pools[tournamentID]))
	for _, id := range s.pools[tournamentID] {
		pooled[id] = true
	}
	for _, q := range questions {
		s.questions[q.ID] = q
		if !pooled[q.ID] {
			s.pools[tournamentID] = append(s.pools[tournamentID], q.ID)
			pooled[q.ID] = true
		}
	}
	return nil
}

func (s *Store) Prizes(_ context.Context, tournamentID uuid.UUID) ([]*domain.TournamentPrize, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.TournamentPrize, 0, len(s.prizes[tournamentID]))
	for _, p := range s.prizes[tournamentID] {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

func (s *Store) Winners(_ context.Context, tournamentID uuid.UUID) ([]*domain.TournamentWinner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.TournamentWinner, 0, len(s.winners[tournamentID]))
	for _, w := range s.winners[tournamentID] {
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WinningRank < out[j].WinningRank })
	return out, nil
}

// RecordWinners skips prizes that already have a recorded winner, so award
// runs are idempotent.
func (s *Store) RecordWinners(_ context.Context, winners []*domain.TournamentWinner) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recorded := 0
	for _, w := range winners {
		if w.PrizeID != nil && s.prizeAwarded(w.TournamentID, *w.PrizeID) {
			continue
		}
		cp := *w
		s.winners[w.TournamentID] = append(s.winners[w.TournamentID], &cp)
		recorded++
	}
	return recorded, nil
}

func (s *Store) prizeAwarded(tournamentID, prizeID uuid.UUID) bool {
	for _, w := range s.winners[tournamentID] {
		if w.PrizeID != nil && *w.PrizeID == prizeID {
			return true
		}
	}
	return false
}

// --- QuizStore ---

func (s *Store) Quizzes(_ context.Context) ([]*domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Quiz, 0, len(s.quizzes))
	for _, q := range s.quizzes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (s *Store) ItemWithQuiz(_ context.Context, itemID uuid.UUID) (*domain.Item, *domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	quiz, ok := s.quizzes[s.itemQuiz[itemID]]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	return item, quiz, nil
}

func (s *Store) LatestQuizAttempt(_ context.Context, itemID uuid.UUID, p domain.Participant) (*domain.QuizAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := p.Key()
	var latest *domain.QuizAttempt
	for _, a := range s.quizAttempts {
		if a.ItemID != itemID || attemptParticipant(a.UserID, a.GuestID) != key {
			continue
		}
		if latest == nil || a.AttemptDate.After(latest.AttemptDate) {
			latest = a
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) CreateQuizAttempt(_ context.Context, a *domain.QuizAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizAttempts[a.ID]; ok {
		return domain.ErrStorageConflict
	}
	cp := *a
	s.quizAttempts[a.ID] = &cp
	return nil
}

func (s *Store) SaveQuizAttempt(_ context.Context, a *domain.QuizAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizAttempts[a.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *a
	s.quizAttempts[a.ID] = &cp
	return nil
}

func (s *Store) ItemScoreRows(_ context.Context, itemID uuid.UUID) ([]domain.ScoreRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]domain.ScoreRow, 0)
	for _, a := range s.quizAttempts {
		if a.ItemID != itemID {
			continue
		}
		rows = append(rows, s.scoreRow(a.UserID, a.GuestID, a.Score, a.AttemptDate))
	}
	return rows, nil
}

// --- seeding, used by tests and the no-database serve mode ---

// AddTournament registers a tournament.
func (s *Store) AddTournament(t *domain.Tournament) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tournaments[t.ID] = &cp
}

// AddPrize registers a prize for its tournament.
func (s *Store) AddPrize(p *domain.TournamentPrize) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.prizes[p.TournamentID] = append(s.prizes[p.TournamentID], &cp)
}

// AddQuiz registers a quiz with its full category/item/question tree.
func (s *Store) AddQuiz(q *domain.Quiz) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes[q.ID] = q
	for _, cat := range q.Categories {
		for _, item := range cat.Items {
			s.items[item.ID] = item
			s.itemQuiz[item.ID] = q.ID
			for _, question := range item.Questions {
				s.questions[question.ID] = question
			}
		}
	}
}

// --- internals ---

func (s *Store) participantOf(userID, guestID *uuid.UUID) domain.Participant {
	if userID != nil {
		if u, ok := s.users[*userID]; ok {
			return domain.Participant{User: u}
		}
		return domain.Participant{User: &domain.User{ID: *userID}}
	}
	if g, ok := s.guests[*guestID]; ok {
		return domain.Participant{Guest: g}
	}
	return domain.Participant{Guest: &domain.GuestAccount{ID: *guestID}}
}

func (s *Store) scoreRow(userID, guestID *uuid.UUID, score float64, date time.Time) domain.ScoreRow {
	p := s.participantOf(userID, guestID)
	return domain.ScoreRow{
		ParticipantKey: p.Key(),
		DisplayName:    p.DisplayName(),
		Score:          score,
		AttemptDate:    date,
	}
}

func copyAttempt(a *domain.TournamentAttempt) *domain.TournamentAttempt {
	cp := *a
	cp.QuestionIDs = make([]uuid.UUID, len(a.QuestionIDs))
	copy(cp.QuestionIDs, a.QuestionIDs)
	return &cp
}

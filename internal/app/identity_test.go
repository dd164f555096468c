package app

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"quizarena/internal/domain"
	"quizarena/internal/infra/memory"
)

func newIdentityFixture() (*memory.Store, *IdentityService) {
	store := memory.NewStore()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return store, NewIdentityServiceWithClock(store, func() time.Time { return now })
}

func TestResolvePrefersVerifiedUser(t *testing.T) {
	store, svc := newIdentityFixture()
	user := &domain.User{ID: uuid.New(), Email: "alice@example.com"}
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	guest := &domain.GuestAccount{ID: uuid.New(), Status: domain.GuestActive}
	if err := store.CreateGuest(context.Background(), guest); err != nil {
		t.Fatalf("create guest: %v", err)
	}

	cred := Credential{UserID: &user.ID, GuestID: &guest.ID, RemoteAddr: "10.0.0.1:4000"}
	p, err := svc.Resolve(context.Background(), cred, true)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.User == nil || p.User.ID != user.ID {
		t.Fatalf("resolved %+v, want user", p)
	}

	// An unknown user id falls through to the guest token.
	bogus := uuid.New()
	cred.UserID = &bogus
	p, err = svc.Resolve(context.Background(), cred, true)
	if err != nil {
		t.Fatalf("resolve fallback: %v", err)
	}
	if p.Guest == nil || p.Guest.ID != guest.ID {
		t.Fatalf("resolved %+v, want guest", p)
	}
}

func TestResolveProvisionsDeterministicGuest(t *testing.T) {
	_, svc := newIdentityFixture()
	cred := Credential{RemoteAddr: "203.0.113.7:51234", UserAgent: "test"}

	first, err := svc.Resolve(context.Background(), cred, true)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if first.Guest == nil {
		t.Fatalf("expected guest, got %+v", first)
	}

	// Same address, different port: the same guest account.
	cred.RemoteAddr = "203.0.113.7:60000"
	second, err := svc.Resolve(context.Background(), cred, true)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if second.Guest.ID != first.Guest.ID {
		t.Fatalf("guest ids diverge: %s vs %s", first.Guest.ID, second.Guest.ID)
	}
	if first.Guest.ID != GuestIDFromAddr("203.0.113.7") {
		t.Fatal("guest id is not derived from the address")
	}
}

func TestResolveBlockedGuest(t *testing.T) {
	store, svc := newIdentityFixture()
	addr := "198.51.100.9"
	blocked := &domain.GuestAccount{
		ID:         GuestIDFromAddr(addr),
		RemoteAddr: addr,
		Status:     domain.GuestBlocked,
	}
	if err := store.CreateGuest(context.Background(), blocked); err != nil {
		t.Fatalf("create guest: %v", err)
	}

	cred := Credential{RemoteAddr: addr + ":1234"}
	if _, err := svc.Resolve(context.Background(), cred, true); !errors.Is(err, domain.ErrAuthenticationRequired) {
		t.Fatalf("required resolve of blocked guest: %v", err)
	}

	p, err := svc.Resolve(context.Background(), cred, false)
	if err != nil {
		t.Fatalf("optional resolve: %v", err)
	}
	if p.Valid() {
		t.Fatalf("blocked guest resolved to %+v", p)
	}
}

func TestRegisterValidatesAndHashes(t *testing.T) {
	_, svc := newIdentityFixture()

	if _, _, err := svc.Register(context.Background(), "not-an-email", "secret1", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bad email: %v", err)
	}
	if _, _, err := svc.Register(context.Background(), "a@b.com", "short", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("short password: %v", err)
	}

	user, _, err := svc.Register(context.Background(), "Alice@Example.COM", "secret1", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %s", user.Email)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret1")); err != nil {
		t.Fatalf("password hash does not verify: %v", err)
	}
}

func TestLoginVerifiesPassword(t *testing.T) {
	_, svc := newIdentityFixture()
	if _, _, err := svc.Register(context.Background(), "alice@example.com", "secret1", ""); err != nil {
		t.Fatalf("register: %v", err)
	}

	user, err := svc.Login(context.Background(), " Alice@Example.COM ", "secret1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("logged in as %s", user.Email)
	}

	// Wrong password and unknown email fail with the same error.
	_, wrongErr := svc.Login(context.Background(), "alice@example.com", "wrong-pass")
	if !errors.Is(wrongErr, domain.ErrAuthenticationRequired) {
		t.Fatalf("wrong password: %v", wrongErr)
	}
	_, unknownErr := svc.Login(context.Background(), "nobody@example.com", "secret1")
	if !errors.Is(unknownErr, domain.ErrAuthenticationRequired) {
		t.Fatalf("unknown email: %v", unknownErr)
	}
	if wrongErr.Error() != unknownErr.Error() {
		t.Fatalf("error messages differ: %q vs %q", wrongErr, unknownErr)
	}
}

type failingActivityStore struct {
	IdentityStore
}

func (failingActivityStore) AppendActivity(context.Context, *domain.ActivityLog) error {
	return errors.New("activity store down")
}

func TestResolveSurvivesActivityLogFailure(t *testing.T) {
	store := memory.NewStore()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	svc := NewIdentityServiceWithClock(failingActivityStore{store}, func() time.Time { return now })

	cred := Credential{RemoteAddr: "203.0.113.11:4000", Path: "/api/dashboard"}
	p, err := svc.Resolve(context.Background(), cred, true)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Guest == nil {
		t.Fatalf("resolved %+v, want guest", p)
	}
}

func TestRegisterMergesGuestHistory(t *testing.T) {
	store, svc := newIdentityFixture()
	addr := "192.0.2.15"

	// A guest plays two tournament attempts before registering.
	guest, err := svc.Resolve(context.Background(), Credential{RemoteAddr: addr + ":4000"}, true)
	if err != nil {
		t.Fatalf("resolve guest: %v", err)
	}

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	tournaments := NewTournamentServiceWithClock(store, nil, false,
		func() time.Time { return now }, rand.New(rand.NewSource(1)))
	tournament := &domain.Tournament{
		ID:                     uuid.New(),
		Title:                  "Merge Cup",
		StartDate:              now.Add(-time.Hour),
		EndDate:                now.Add(time.Hour),
		MaxQuestionsPerAttempt: 1,
	}
	store.AddTournament(tournament)
	questions := []*domain.Question{}
	for i := 0; i < 2; i++ {
		q := &domain.Question{ID: uuid.New(), Text: "q", Options: []*domain.Option{
			{ID: uuid.New(), Text: "a", Correct: true},
			{ID: uuid.New(), Text: "b"},
		}}
		q.Options[0].QuestionID = q.ID
		q.Options[1].QuestionID = q.ID
		questions = append(questions, q)
	}
	if err := store.ImportQuestions(context.Background(), tournament.ID, questions); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for i := 0; i < 2; i++ {
		started, err := tournaments.StartAttempt(context.Background(), guest, tournament.ID)
		if err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		answers := []Answer{{QuestionID: started.Questions[0].ID, OptionIDs: []uuid.UUID{started.Questions[0].Options[0].ID}}}
		if _, err := tournaments.SubmitAttempt(context.Background(), guest, started.AttemptID, answers); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	user, merged, err := svc.Register(context.Background(), "alice@example.com", "secret1", addr+":4000")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if merged != 2 {
		t.Fatalf("merged %d attempts, want 2", merged)
	}

	// The leaderboard row now belongs to the account.
	rows, err := store.TournamentScoreRows(context.Background(), tournament.ID)
	if err != nil {
		t.Fatalf("score rows: %v", err)
	}
	for _, r := range rows {
		if r.ParticipantKey != "user:"+user.ID.String() {
			t.Fatalf("row still owned by %s", r.ParticipantKey)
		}
	}

	// The guest row stays behind, linked to the account.
	linked, err := store.GuestByID(context.Background(), guest.Guest.ID)
	if err != nil {
		t.Fatalf("guest lookup: %v", err)
	}
	if linked.UserID == nil || *linked.UserID != user.ID {
		t.Fatalf("guest not linked: %+v", linked)
	}
}

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is a registered account.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	Email        string    `bun:"email,notnull,unique" json:"email"`
	PasswordHash string    `bun:"password_hash,notnull" json:"-"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"createdAt"`
}

// GuestStatus is the moderation state of an anonymous visitor account.
type GuestStatus string

const (
	GuestActive  GuestStatus = "active"
	GuestLimited GuestStatus = "limited"
	GuestBlocked GuestStatus = "blocked"
	GuestDeleted GuestStatus = "deleted"
	GuestRemoved GuestStatus = "removed"
)

// GuestAccount identifies an anonymous visitor. Its ID is derived
// deterministically from the originating network address at first contact, so
// repeat visits without a token map back to the same account. Once the visitor
// registers, UserID links the guest's history to the account; the guest row is
// kept for audit.
type GuestAccount struct {
	bun.BaseModel `bun:"table:guest_accounts,alias:g"`

	ID          uuid.UUID   `bun:"id,pk,type:uuid" json:"id"`
	UserID      *uuid.UUID  `bun:"user_id,type:uuid" json:"userId,omitempty"`
	RemoteAddr  string      `bun:"remote_addr" json:"-"`
	UserAgent   string      `bun:"user_agent" json:"-"`
	Status      GuestStatus `bun:"status,notnull" json:"status"`
	FirstSeenAt time.Time   `bun:"first_seen_at,notnull" json:"firstSeenAt"`
	LastSeenAt  time.Time   `bun:"last_seen_at,notnull" json:"lastSeenAt"`
}

// Participant is the owner of attempts and leaderboard rows: a registered
// user or a guest account, never both, never neither (except the zero value,
// which represents an unresolved/anonymous caller).
type Participant struct {
	User  *User
	Guest *GuestAccount
}

// Valid reports whether exactly one identity variant is set.
func (p Participant) Valid() bool {
	return (p.User != nil) != (p.Guest != nil)
}

// IsGuest reports whether the participant is an anonymous visitor.
func (p Participant) IsGuest() bool {
	return p.Guest != nil && p.User == nil
}

// Key is a stable identifier usable as a map key and leaderboard grouping key.
func (p Participant) Key() string {
	switch {
	case p.User != nil:
		return "user:" + p.User.ID.String()
	case p.Guest != nil:
		return "guest:" + p.Guest.ID.String()
	default:
		return ""
	}
}

// DisplayName is what leaderboards show for this participant.
func (p Participant) DisplayName() string {
	if p.User != nil {
		return p.User.Email
	}
	return "Anonymous"
}

// ActivityLog records a single resolved request for a guest or user, used for
// audit and for re-attributing history on guest merge.
type ActivityLog struct {
	bun.BaseModel `bun:"table:activity_log,alias:al"`

	ID        int64      `bun:"id,pk,autoincrement" json:"id"`
	GuestID   *uuid.UUID `bun:"guest_id,type:uuid" json:"guestId,omitempty"`
	UserID    *uuid.UUID `bun:"user_id,type:uuid" json:"userId,omitempty"`
	Path      string     `bun:"path" json:"path"`
	Timestamp time.Time  `bun:"ts,notnull" json:"timestamp"`
}

// Option is one answer choice of a question.
type Option struct {
	bun.BaseModel `bun:"table:options,alias:o"`

	ID         uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	QuestionID uuid.UUID `bun:"question_id,notnull,type:uuid" json:"questionId"`
	Text       string    `bun:"text,notnull" json:"text"`
	Correct    bool      `bun:"correct,notnull" json:"correct"`
}

// Question is immutable MCQ text with its options. A question is usable in
// attempts only if at least one option is flagged correct; imports enforce
// this.
type Question struct {
	bun.BaseModel `bun:"table:questions,alias:q"`

	ID      uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	Text    string    `bun:"text,notnull" json:"text"`
	Options []*Option `bun:"rel:has-many,join:id=question_id" json:"options"`
}

// CorrectOptionIDs returns the set of options flagged correct.
func (q *Question) CorrectOptionIDs() map[uuid.UUID]bool {
	ids := make(map[uuid.UUID]bool)
	for _, opt := range q.Options {
		if opt.Correct {
			ids[opt.ID] = true
		}
	}
	return ids
}

// OptionByID returns the option with the given id, or nil.
func (q *Question) OptionByID(id uuid.UUID) *Option {
	for _, opt := range q.Options {
		if opt.ID == id {
			return opt
		}
	}
	return nil
}

// HasCorrectOption reports whether the question is usable in attempts.
func (q *Question) HasCorrectOption() bool {
	for _, opt := range q.Options {
		if opt.Correct {
			return true
		}
	}
	return false
}

// Quiz is the top-level container for the quiz domain. Negative marking for
// quiz attempts is configured here and inherited by every item underneath.
type Quiz struct {
	bun.BaseModel `bun:"table:quizzes,alias:qz"`

	ID              uuid.UUID   `bun:"id,pk,type:uuid" json:"id"`
	Title           string      `bun:"title,notnull" json:"title"`
	Description     string      `bun:"description" json:"description"`
	NegativeMarking float64     `bun:"negative_marking,notnull" json:"negativeMarking"`
	CreatedAt       time.Time   `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt       time.Time   `bun:"updated_at,notnull" json:"updatedAt"`
	Categories      []*Category `bun:"rel:has-many,join:id=quiz_id" json:"categories,omitempty"`
}

// Category groups items inside a quiz.
type Category struct {
	bun.BaseModel `bun:"table:categories,alias:c"`

	ID           uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	QuizID       uuid.UUID `bun:"quiz_id,notnull,type:uuid" json:"quizId"`
	Title        string    `bun:"title,notnull" json:"title"`
	CategoryType string    `bun:"category_type" json:"categoryType"`
	AccessMode   string    `bun:"access_mode,notnull" json:"accessMode"`
	Items        []*Item   `bun:"rel:has-many,join:id=category_id" json:"items,omitempty"`
}

// Item is a playable unit inside a category; its questions are attached
// many-to-many.
type Item struct {
	bun.BaseModel `bun:"table:items,alias:i"`

	ID          uuid.UUID   `bun:"id,pk,type:uuid" json:"id"`
	CategoryID  uuid.UUID   `bun:"category_id,notnull,type:uuid" json:"categoryId"`
	Title       string      `bun:"title,notnull" json:"title"`
	Subtitle    string      `bun:"subtitle" json:"subtitle"`
	ButtonLabel string      `bun:"button_label" json:"buttonLabel"`
	AccessMode  string      `bun:"access_mode,notnull" json:"accessMode"`
	ItemType    string      `bun:"item_type" json:"itemType"`
	Questions   []*Question `bun:"m2m:item_questions,join:Item=Question" json:"questions,omitempty"`
}

// ItemQuestion is the item↔question join row.
type ItemQuestion struct {
	bun.BaseModel `bun:"table:item_questions,alias:iq"`

	ItemID     uuid.UUID `bun:"item_id,pk,type:uuid"`
	Item       *Item     `bun:"rel:belongs-to,join:item_id=id"`
	QuestionID uuid.UUID `bun:"question_id,pk,type:uuid"`
	Question   *Question `bun:"rel:belongs-to,join:question_id=id"`
}

// Tournament is a timed competition over a flat question pool.
type Tournament struct {
	bun.BaseModel `bun:"table:tournaments,alias:t"`

	ID                     uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	Title                  string    `bun:"title,notnull" json:"title"`
	Subtitle               string    `bun:"subtitle" json:"subtitle"`
	Description            string    `bun:"description" json:"description"`
	StartDate              time.Time `bun:"start_date,notnull" json:"startDate"`
	EndDate                time.Time `bun:"end_date,notnull" json:"endDate"`
	MaxQuestionsPerAttempt int       `bun:"max_questions_per_attempt,notnull" json:"maxQuestionsPerAttempt"`
	MaxAttemptsPerDay      int       `bun:"max_attempts_per_day,notnull" json:"maxAttemptsPerDay"`
	MaxTotalAttempts       *int      `bun:"max_total_attempts" json:"maxTotalAttempts,omitempty"`
	NegativeMarking        float64   `bun:"negative_marking,notnull" json:"negativeMarking"`
	DurationMinutes        int       `bun:"duration_minutes,notnull" json:"durationMinutes"`
	Archived               bool      `bun:"archived,notnull" json:"archived"`
	CreatedAt              time.Time `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt              time.Time `bun:"updated_at,notnull" json:"updatedAt"`

	// Status is never stored; it is derived on every read. See EffectiveStatus.
	Status TournamentStatus `bun:"-" json:"status"`
}

// TournamentQuestion is the tournament↔question pool join row.
type TournamentQuestion struct {
	bun.BaseModel `bun:"table:tournament_questions,alias:tq"`

	TournamentID uuid.UUID   `bun:"tournament_id,pk,type:uuid"`
	Tournament   *Tournament `bun:"rel:belongs-to,join:tournament_id=id"`
	QuestionID   uuid.UUID   `bun:"question_id,pk,type:uuid"`
	Question     *Question   `bun:"rel:belongs-to,join:question_id=id"`
}

// QuizAttempt is one pass (possibly incremental across requests) through an
// item's questions. Attempts are never deleted.
type QuizAttempt struct {
	bun.BaseModel `bun:"table:quiz_attempts,alias:qa"`

	ID             uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	UserID         *uuid.UUID `bun:"user_id,type:uuid" json:"userId,omitempty"`
	GuestID        *uuid.UUID `bun:"guest_id,type:uuid" json:"guestId,omitempty"`
	ItemID         uuid.UUID  `bun:"item_id,notnull,type:uuid" json:"itemId"`
	TotalQuestions int        `bun:"total_questions,notnull" json:"totalQuestions"`
	CorrectAnswers int        `bun:"correct_answers,notnull" json:"correctAnswers"`
	WrongAnswers   int        `bun:"wrong_answers,notnull" json:"wrongAnswers"`
	Score          float64    `bun:"score,notnull" json:"score"`
	AttemptDate    time.Time  `bun:"attempt_date,notnull" json:"attemptDate"`
}

// Exhausted reports whether every question of the item has been answered.
func (a *QuizAttempt) Exhausted() bool {
	return a.CorrectAnswers+a.WrongAnswers >= a.TotalQuestions
}

// TournamentAttempt is one scored pass through a frozen question set.
// The frozen set is fixed at creation and is the authority for membership
// checks at submit time. Attempts are never deleted.
type TournamentAttempt struct {
	bun.BaseModel `bun:"table:tournament_attempts,alias:ta"`

	ID               uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	UserID           *uuid.UUID `bun:"user_id,type:uuid" json:"userId,omitempty"`
	GuestID          *uuid.UUID `bun:"guest_id,type:uuid" json:"guestId,omitempty"`
	TournamentID     uuid.UUID  `bun:"tournament_id,notnull,type:uuid" json:"tournamentId"`
	Score            float64    `bun:"score,notnull" json:"score"`
	CorrectAnswers   int        `bun:"correct_answers,notnull" json:"correctAnswers"`
	WrongAnswers     int        `bun:"wrong_answers,notnull" json:"wrongAnswers"`
	SkippedQuestions int        `bun:"skipped_questions,notnull" json:"skippedQuestions"`
	AttemptDate      time.Time  `bun:"attempt_date,notnull" json:"attemptDate"`
	EndTime          *time.Time `bun:"end_time" json:"endTime,omitempty"`
	TimeTakenSeconds int        `bun:"time_taken_seconds,notnull" json:"timeTakenSeconds"`
	Completed        bool       `bun:"completed,notnull" json:"completed"`

	// QuestionIDs is the frozen set, loaded from the join table.
	QuestionIDs []uuid.UUID `bun:"-" json:"questionIds,omitempty"`
}

// OwnedBy reports whether the attempt belongs to the given participant.
func (a *TournamentAttempt) OwnedBy(p Participant) bool {
	switch {
	case p.User != nil:
		return a.UserID != nil && *a.UserID == p.User.ID
	case p.Guest != nil:
		return a.GuestID != nil && *a.GuestID == p.Guest.ID
	default:
		return false
	}
}

// InFrozenSet reports whether the question was drawn for this attempt.
func (a *TournamentAttempt) InFrozenSet(questionID uuid.UUID) bool {
	for _, id := range a.QuestionIDs {
		if id == questionID {
			return true
		}
	}
	return false
}

// TournamentAttemptQuestion is the frozen-set join row.
type TournamentAttemptQuestion struct {
	bun.BaseModel `bun:"table:tournament_attempt_questions,alias:taq"`

	AttemptID  uuid.UUID `bun:"attempt_id,pk,type:uuid"`
	QuestionID uuid.UUID `bun:"question_id,pk,type:uuid"`
}

// LeaderboardEntry is the best-score summary row, unique per
// (participant, tournament). It is written only inside the submit
// transaction, never by a client request.
type LeaderboardEntry struct {
	bun.BaseModel `bun:"table:leaderboard_entries,alias:le"`

	ID                  uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	UserID              *uuid.UUID `bun:"user_id,type:uuid" json:"userId,omitempty"`
	GuestID             *uuid.UUID `bun:"guest_id,type:uuid" json:"guestId,omitempty"`
	TournamentID        uuid.UUID  `bun:"tournament_id,notnull,type:uuid" json:"tournamentId"`
	TotalScore          float64    `bun:"total_score,notnull" json:"totalScore"`
	LastDailyScore      float64    `bun:"last_daily_score,notnull" json:"lastDailyScore"`
	LastDailyUpdate     *time.Time `bun:"last_daily_update,type:date" json:"lastDailyUpdate,omitempty"`
	LastAttemptDatetime *time.Time `bun:"last_attempt_datetime" json:"lastAttemptDatetime,omitempty"`
}

// PrizeType classifies a tournament prize.
type PrizeType string

const (
	PrizeDaily   PrizeType = "daily"
	PrizeWeekly  PrizeType = "weekly"
	PrizeOverall PrizeType = "overall"
)

// TournamentPrize describes one awardable prize, unique per
// (tournament, type, rank).
type TournamentPrize struct {
	bun.BaseModel `bun:"table:tournament_prizes,alias:tp"`

	ID           uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	TournamentID uuid.UUID `bun:"tournament_id,notnull,type:uuid" json:"tournamentId"`
	PrizeType    PrizeType `bun:"prize_type,notnull" json:"prizeType"`
	Rank         int       `bun:"rank,notnull" json:"rank"`
	Title        string    `bun:"title,notnull" json:"title"`
	Description  string    `bun:"description" json:"description"`
	Value        *float64  `bun:"value" json:"value,omitempty"`
}

// ClaimStatus tracks prize distribution.
type ClaimStatus string

const (
	ClaimPending     ClaimStatus = "pending"
	ClaimClaimed     ClaimStatus = "claimed"
	ClaimDistributed ClaimStatus = "distributed"
	ClaimUnclaimed   ClaimStatus = "unclaimed"
)

// TournamentWinner records one awarded prize.
type TournamentWinner struct {
	bun.BaseModel `bun:"table:tournament_winners,alias:tw"`

	ID           uuid.UUID   `bun:"id,pk,type:uuid" json:"id"`
	TournamentID uuid.UUID   `bun:"tournament_id,notnull,type:uuid" json:"tournamentId"`
	PrizeID      *uuid.UUID  `bun:"prize_id,type:uuid" json:"prizeId,omitempty"`
	UserID       *uuid.UUID  `bun:"user_id,type:uuid" json:"userId,omitempty"`
	GuestID      *uuid.UUID  `bun:"guest_id,type:uuid" json:"guestId,omitempty"`
	WinningScore float64     `bun:"winning_score,notnull" json:"winningScore"`
	WinningRank  int         `bun:"winning_rank,notnull" json:"winningRank"`
	AwardDate    time.Time   `bun:"award_date,notnull" json:"awardDate"`
	ClaimStatus  ClaimStatus `bun:"claim_status,notnull" json:"claimStatus"`
}

// ScoreRow is one completed attempt flattened for ranking: the shared shape
// every leaderboard call site aggregates from.
type ScoreRow struct {
	ParticipantKey string    `json:"participantId"`
	DisplayName    string    `json:"displayName"`
	Score          float64   `json:"score"`
	AttemptDate    time.Time `json:"attemptDate"`
}

// RankedEntry is one row of a computed leaderboard view.
type RankedEntry struct {
	ParticipantKey   string    `json:"participantId"`
	DisplayName      string    `json:"displayName"`
	Rank             int       `json:"rank"`
	TotalScore       float64   `json:"totalScore"`
	Attempts         int       `json:"attempts"`
	FirstAttemptDate time.Time `json:"firstAttemptDate"`
}

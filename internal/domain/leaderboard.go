package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewLeaderboardEntry seeds the summary row for a participant's first
// completed attempt in a tournament.
func NewLeaderboardEntry(p Participant, tournamentID uuid.UUID, score float64, now time.Time) *LeaderboardEntry {
	day := DateOf(now)
	e := &LeaderboardEntry{
		ID:                  uuid.New(),
		TournamentID:        tournamentID,
		TotalScore:          score,
		LastDailyScore:      score,
		LastDailyUpdate:     &day,
		LastAttemptDatetime: &now,
	}
	if p.User != nil {
		id := p.User.ID
		e.UserID = &id
	} else if p.Guest != nil {
		id := p.Guest.ID
		e.GuestID = &id
	}
	return e
}

// Apply folds one newly completed attempt score into an existing entry:
// TotalScore is best-ever (LastAttemptDatetime advances only when it
// improves), LastDailyScore is best-of-day and resets on a new day.
func (e *LeaderboardEntry) Apply(score float64, now time.Time) {
	if score > e.TotalScore {
		e.TotalScore = score
		t := now
		e.LastAttemptDatetime = &t
	}
	if e.LastDailyUpdate != nil && SameDay(*e.LastDailyUpdate, now) {
		if score > e.LastDailyScore {
			e.LastDailyScore = score
		}
	} else {
		day := DateOf(now)
		e.LastDailyScore = score
		e.LastDailyUpdate = &day
	}
}

// DateOf truncates a timestamp to its calendar date.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SameDay reports whether two timestamps fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// ParticipantKeyFor builds the grouping key from raw owner columns.
func ParticipantKeyFor(userID, guestID *uuid.UUID) string {
	switch {
	case userID != nil:
		return "user:" + userID.String()
	case guestID != nil:
		return "guest:" + guestID.String()
	default:
		return ""
	}
}

// ParseParticipantKey is the inverse of Participant.Key. It returns at most
// one non-nil id; both nil means the key was malformed.
func ParseParticipantKey(key string) (userID, guestID *uuid.UUID) {
	kind, raw, ok := strings.Cut(key, ":")
	if !ok {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, nil
	}
	switch kind {
	case "user":
		return &id, nil
	case "guest":
		return nil, &id
	default:
		return nil, nil
	}
}

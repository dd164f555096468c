package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func guestParticipant() Participant {
	return Participant{Guest: &GuestAccount{ID: uuid.New(), Status: GuestActive}}
}

func TestNewLeaderboardEntryKeepsNegativeScore(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e := NewLeaderboardEntry(guestParticipant(), uuid.New(), -1.5, now)

	if e.TotalScore != -1.5 {
		t.Fatalf("TotalScore = %v, want -1.5", e.TotalScore)
	}
	if e.LastDailyScore != -1.5 {
		t.Fatalf("LastDailyScore = %v, want -1.5", e.LastDailyScore)
	}
	if e.LastAttemptDatetime == nil || !e.LastAttemptDatetime.Equal(now) {
		t.Fatalf("LastAttemptDatetime = %v, want %v", e.LastAttemptDatetime, now)
	}
}

func TestApplyBestEverAndDailyReset(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e := NewLeaderboardEntry(guestParticipant(), uuid.New(), 5, day1)

	// Worse score the same day changes nothing.
	e.Apply(3, day1.Add(time.Hour))
	if e.TotalScore != 5 || e.LastDailyScore != 5 {
		t.Fatalf("after worse score: total=%v daily=%v", e.TotalScore, e.LastDailyScore)
	}
	if !e.LastAttemptDatetime.Equal(day1) {
		t.Fatal("LastAttemptDatetime advanced without an improvement")
	}

	// Better score the same day raises both.
	improved := day1.Add(2 * time.Hour)
	e.Apply(8, improved)
	if e.TotalScore != 8 || e.LastDailyScore != 8 {
		t.Fatalf("after improvement: total=%v daily=%v", e.TotalScore, e.LastDailyScore)
	}
	if !e.LastAttemptDatetime.Equal(improved) {
		t.Fatal("LastAttemptDatetime did not advance on improvement")
	}

	// A new day resets the daily score even when worse than the total.
	day2 := day1.Add(24 * time.Hour)
	e.Apply(2, day2)
	if e.TotalScore != 8 {
		t.Fatalf("total regressed to %v", e.TotalScore)
	}
	if e.LastDailyScore != 2 {
		t.Fatalf("LastDailyScore = %v, want 2 after day rollover", e.LastDailyScore)
	}
	if !SameDay(*e.LastDailyUpdate, day2) {
		t.Fatalf("LastDailyUpdate = %v, want day of %v", e.LastDailyUpdate, day2)
	}
}

func TestParticipantKeyRoundTrip(t *testing.T) {
	userID := uuid.New()
	key := ParticipantKeyFor(&userID, nil)
	gotUser, gotGuest := ParseParticipantKey(key)
	if gotUser == nil || *gotUser != userID || gotGuest != nil {
		t.Fatalf("round trip user key failed: %v %v", gotUser, gotGuest)
	}

	guestID := uuid.New()
	key = ParticipantKeyFor(nil, &guestID)
	gotUser, gotGuest = ParseParticipantKey(key)
	if gotGuest == nil || *gotGuest != guestID || gotUser != nil {
		t.Fatalf("round trip guest key failed: %v %v", gotUser, gotGuest)
	}

	if u, g := ParseParticipantKey("garbage"); u != nil || g != nil {
		t.Fatal("malformed key parsed")
	}
}

func TestParticipantValid(t *testing.T) {
	if (Participant{}).Valid() {
		t.Fatal("zero participant is valid")
	}
	if !(Participant{User: &User{ID: uuid.New()}}).Valid() {
		t.Fatal("user participant is invalid")
	}
	both := Participant{User: &User{ID: uuid.New()}, Guest: &GuestAccount{ID: uuid.New()}}
	if both.Valid() {
		t.Fatal("participant with both identities is valid")
	}
}

package domain

import "time"

// TournamentStatus is the lifecycle phase of a tournament.
type TournamentStatus string

const (
	StatusUpcoming TournamentStatus = "upcoming"
	StatusActive   TournamentStatus = "active"
	StatusFinished TournamentStatus = "finished"
	StatusArchived TournamentStatus = "archived"
)

// DeriveStatus computes the schedule-driven status from the clock alone.
// Status is never stored as independently settable truth; callers re-derive
// it at every read/write boundary.
func DeriveStatus(now, start, end time.Time) TournamentStatus {
	switch {
	case now.Before(start):
		return StatusUpcoming
	case now.Before(end):
		return StatusActive
	default:
		return StatusFinished
	}
}

// EffectiveStatus is the derived status with the admin archive flag applied.
func (t *Tournament) EffectiveStatus(now time.Time) TournamentStatus {
	if t.Archived {
		return StatusArchived
	}
	return DeriveStatus(now, t.StartDate, t.EndDate)
}

// ActiveAt reports whether attempts may be started or submitted at now.
func (t *Tournament) ActiveAt(now time.Time) bool {
	return t.EffectiveStatus(now) == StatusActive
}

package app

import (
	"sort"

	"quizarena/internal/domain"
)

// RankMode selects how per-participant scores are aggregated before ranking.
type RankMode int

const (
	// SumScores totals every attempt, the "all attempts" view used by
	// per-item quiz leaderboards and the active-tournaments overview.
	SumScores RankMode = iota
	// BestScore keeps the single best attempt, matching the tournament
	// summary row semantics.
	BestScore
)

// ParseRankMode maps the wire value to a mode, defaulting to SumScores.
func ParseRankMode(raw string) RankMode {
	if raw == "best" {
		return BestScore
	}
	return SumScores
}

func (m RankMode) String() string {
	if m == BestScore {
		return "best"
	}
	return "sum"
}

// Rank aggregates attempt rows per participant and assigns dense ranks.
// Every call site ranks through here so tie-breaking can never diverge:
// score descending, then fewer attempts, then earlier first attempt, then
// participant key as a total-order fallback. Ranks are 1..N with no gaps and
// no sharing.
func Rank(rows []domain.ScoreRow, mode RankMode) []domain.RankedEntry {
	byKey := make(map[string]*domain.RankedEntry)
	order := make([]string, 0)

	for _, row := range rows {
		if row.ParticipantKey == "" {
			continue
		}
		entry, ok := byKey[row.ParticipantKey]
		if !ok {
			entry = &domain.RankedEntry{
				ParticipantKey:   row.ParticipantKey,
				DisplayName:      row.DisplayName,
				TotalScore:       row.Score,
				Attempts:         1,
				FirstAttemptDate: row.AttemptDate,
			}
			byKey[row.ParticipantKey] = entry
			order = append(order, row.ParticipantKey)
			continue
		}
		entry.Attempts++
		switch mode {
		case BestScore:
			if row.Score > entry.TotalScore {
				entry.TotalScore = row.Score
			}
		default:
			entry.TotalScore += row.Score
		}
		if row.AttemptDate.Before(entry.FirstAttemptDate) {
			entry.FirstAttemptDate = row.AttemptDate
		}
	}

	ranked := make([]domain.RankedEntry, 0, len(order))
	for _, key := range order {
		ranked = append(ranked, *byKey[key])
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		if a.Attempts != b.Attempts {
			return a.Attempts < b.Attempts
		}
		if !a.FirstAttemptDate.Equal(b.FirstAttemptDate) {
			return a.FirstAttemptDate.Before(b.FirstAttemptDate)
		}
		return a.ParticipantKey < b.ParticipantKey
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

package app

import (
	"sort"

	"panel-quiz-service/internal/domain"
)

// Rank orders active non-admin players by cumulative average after
// `completed` scored rounds. It is pure: the same players and round count
// always yield the same entries. Ties keep input order.
func Rank(players []domain.Player, completed int) []domain.LeaderboardEntry {
	field := make([]domain.Player, 0, len(players))
	for _, p := range players {
		if p.IsActive && !p.IsAdmin {
			field = append(field, p)
		}
	}

	current := positions(field, completed)
	var previous, twoAgo map[string]int
	if completed >= 2 {
		previous = positions(field, completed-1)
	}
	if completed >= 3 {
		twoAgo = positions(field, completed-2)
	}

	entries := make([]domain.LeaderboardEntry, len(field))
	for _, p := range field {
		rank := current[p.ID]
		entry := domain.LeaderboardEntry{
			PlayerID:     p.ID,
			Name:         p.Name,
			Rank:         rank,
			RoundScore:   p.ScoreAt(completed),
			AverageScore: averageAsOf(p, completed),
			TotalScore:   p.TotalScore,
		}
		if previous != nil {
			entry.RankChange = previous[p.ID] - rank
		}
		if twoAgo != nil {
			priorChange := twoAgo[p.ID] - previous[p.ID]
			entry.IsOnFire = entry.RankChange > 0 && priorChange > 0
		}
		entries[rank-1] = entry
	}
	return entries
}

// positions returns 1-based ranks keyed by player id, as of round k.
func positions(players []domain.Player, k int) map[string]int {
	order := make([]int, len(players))
	averages := make([]float64, len(players))
	for i, p := range players {
		order[i] = i
		averages[i] = averageAsOf(p, k)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return averages[order[a]] > averages[order[b]]
	})
	ranks := make(map[string]int, len(players))
	for pos, idx := range order {
		ranks[players[idx].ID] = pos + 1
	}
	return ranks
}

// averageAsOf replays the score history for rounds 1..k.
func averageAsOf(p domain.Player, k int) float64 {
	if k <= 0 {
		return 0
	}
	var sum float64
	for r := 1; r <= k; r++ {
		sum += p.ScoreAt(r)
	}
	return sum / float64(k)
}

// CompletedRounds is the number of rounds whose scores are final.
func CompletedRounds(g domain.Game) int {
	switch g.State {
	case domain.StateResults:
		return g.CurrentRound
	case domain.StateCompleted:
		if r, ok := g.Round(g.CurrentRound); ok && r.ClosedAt == nil {
			return g.CurrentRound - 1
		}
		return g.CurrentRound
	case domain.StatePlaying:
		return g.CurrentRound - 1
	default:
		return 0
	}
}

// OrderedPlayers returns every player ordered by join time, then id, which is
// the stable input order used for ranking.
func OrderedPlayers(g domain.Game) []domain.Player {
	players := make([]domain.Player, 0, len(g.Players))
	for _, p := range g.Players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if !players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].JoinedAt.Before(players[j].JoinedAt)
		}
		return players[i].ID < players[j].ID
	})
	return players
}

// LeaderboardFor ranks a game snapshot.
func LeaderboardFor(g domain.Game) domain.Leaderboard {
	completed := CompletedRounds(g)
	return domain.Leaderboard{
		GameCode:  g.Code,
		Round:     completed,
		Entries:   Rank(OrderedPlayers(g), completed),
		UpdatedAt: g.UpdatedAt,
	}
}

package strategystore

import "strconv"

// Tuning holds the learning-loop constants. Zero values are replaced with
// the documented defaults by normalize.
type Tuning struct {
	// ScoreStep is added to the winner's score and subtracted from each
	// distinct loser's score per recorded outcome.
	ScoreStep float64
	// AttemptsPerSession approximates how many variations one session
	// generates; total attempts divided by it estimates the session count.
	AttemptsPerSession int
	// EvolveEverySessions is how many approximate sessions pass between
	// evolution cycles.
	EvolveEverySessions int
	// RetirePerCycle is how many low scorers are deactivated (and how many
	// replacements are activated) per evolution cycle.
	RetirePerCycle int
}

func (t Tuning) normalize() Tuning {
	if t.ScoreStep <= 0 {
		t.ScoreStep = 0.05
	}
	if t.AttemptsPerSession <= 0 {
		t.AttemptsPerSession = 4
	}
	if t.EvolveEverySessions <= 0 {
		t.EvolveEverySessions = 5
	}
	if t.RetirePerCycle <= 0 {
		t.RetirePerCycle = 2
	}
	return t
}

// EvolutionResult reports what an evolution check did.
type EvolutionResult struct {
	Evolved        bool   `json:"evolved"`
	RetiredCount   int    `json:"retired_count,omitempty"`
	ActivatedCount int    `json:"activated_count,omitempty"`
	TotalAttempts  int    `json:"total_attempts"`
	Reason         string `json:"reason,omitempty"`
}

// StrategyStat is one row of the read-only status report.
type StrategyStat struct {
	Name    string  `json:"name"`
	Score   float64 `json:"score"`
	Active  bool    `json:"active"`
	Uses    int     `json:"uses"`
	Wins    int     `json:"wins"`
	WinRate string  `json:"win_rate"`
}

// Status is the full read-only engine report.
type Status struct {
	Configured          bool           `json:"configured"`
	TotalAttempts       int            `json:"total_attempts"`
	ApproximateSessions int            `json:"approximate_sessions"`
	NextEvolution       int            `json:"next_evolution"`
	ActiveStrategies    int            `json:"active_strategies"`
	Strategies          []StrategyStat `json:"strategies"`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func winRate(wins, uses int) string {
	if uses <= 0 {
		return "n/a"
	}
	return strconv.FormatFloat(float64(wins)/float64(uses)*100, 'f', 1, 64) + "%"
}

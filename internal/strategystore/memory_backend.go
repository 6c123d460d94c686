package strategystore

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"hairlab/internal/strategy"
)

// memoryState is the fallback backend used when no Postgres DSN is
// configured. Same semantics as the DB backend, guarded by one mutex; the
// per-session outcome update is atomic under it.
type memoryState struct {
	mu             sync.Mutex
	order          []string
	strategies     map[string]*strategy.Strategy
	attempts       []*strategy.Attempt
	attemptByID    map[string]*strategy.Attempt
	lastThreshold  int
	evolutionCount int
}

func newMemoryState() *memoryState {
	m := &memoryState{
		strategies:  make(map[string]*strategy.Strategy),
		attemptByID: make(map[string]*strategy.Attempt),
	}
	for _, st := range strategy.Defaults() {
		cp := st
		m.strategies[cp.ID] = &cp
		m.order = append(m.order, cp.ID)
	}
	return m
}

func (m *memoryState) active() []strategy.Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []strategy.Strategy
	for _, id := range m.order {
		if st := m.strategies[id]; st != nil && st.IsActive {
			out = append(out, *st)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func (m *memoryState) byIDs(ids []string) ([]strategy.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]strategy.Strategy, 0, len(ids))
	for _, id := range ids {
		st, ok := m.strategies[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
		}
		out = append(out, *st)
	}
	return out, nil
}

func (m *memoryState) createBatch(list []strategy.Strategy) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(list))
	for _, st := range list {
		cp := st
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		m.strategies[cp.ID] = &cp
		m.order = append(m.order, cp.ID)
		ids = append(ids, cp.ID)
	}
	return ids
}

func (m *memoryState) appendAttempt(a strategy.Attempt) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := a
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.attempts = append(m.attempts, &cp)
	m.attemptByID[cp.ID] = &cp
	return cp.ID
}

func (m *memoryState) attemptsBySession(sessionID string) []strategy.Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []strategy.Attempt
	for _, a := range m.attempts {
		if a.SessionID == sessionID {
			out = append(out, *a)
		}
	}
	return out
}

func (m *memoryState) totalAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attempts)
}

func (m *memoryState) recordOutcome(sessionID, winningAttemptID string, t Tuning) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var session []*strategy.Attempt
	var winner *strategy.Attempt
	for _, a := range m.attempts {
		if a.SessionID != sessionID {
			continue
		}
		session = append(session, a)
		if a.ID == winningAttemptID {
			winner = a
		}
	}
	if winner == nil {
		return ErrNoWinner
	}

	// Last write wins on a concurrent duplicate selection: flipping every
	// sibling off keeps the at-most-one-winner invariant either way.
	for _, a := range session {
		a.UserSelected = a.ID == winningAttemptID
	}

	losers := make(map[string]bool)
	for _, a := range session {
		if a.StrategyID != winner.StrategyID {
			losers[a.StrategyID] = true
		}
	}

	if st := m.strategies[winner.StrategyID]; st != nil {
		st.Score += t.ScoreStep
		st.WinCount++
		st.UsageCount++
	} else {
		log.Printf("strategystore: winner strategy %s not in registry", winner.StrategyID)
	}
	for id := range losers {
		if st := m.strategies[id]; st != nil {
			st.Score -= t.ScoreStep
			st.UsageCount++
		} else {
			log.Printf("strategystore: loser strategy %s not in registry", id)
		}
	}
	return nil
}

func (m *memoryState) maybeEvolve(t Tuning) EvolutionResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := len(m.attempts)
	approx := total / t.AttemptsPerSession
	threshold := approx / t.EvolveEverySessions
	if threshold <= m.lastThreshold {
		return EvolutionResult{
			Evolved:       false,
			TotalAttempts: total,
			Reason: fmt.Sprintf("next evolution at approximate session %d (currently %d)",
				(m.lastThreshold+1)*t.EvolveEverySessions, approx),
		}
	}

	var actives []*strategy.Strategy
	for _, id := range m.order {
		if st := m.strategies[id]; st != nil && st.IsActive {
			actives = append(actives, st)
		}
	}
	if len(actives) == 0 {
		return EvolutionResult{Evolved: false, TotalAttempts: total, Reason: "no active strategies to evolve"}
	}
	sort.SliceStable(actives, func(i, j int) bool { return actives[i].Score < actives[j].Score })

	retire := t.RetirePerCycle
	if retire > len(actives) {
		retire = len(actives)
	}
	for _, st := range actives[:retire] {
		st.IsActive = false
	}
	m.evolutionCount++
	for _, st := range strategy.SynthesizeReplacements(retire, m.evolutionCount) {
		cp := st
		cp.ID = uuid.NewString()
		m.strategies[cp.ID] = &cp
		m.order = append(m.order, cp.ID)
	}
	m.lastThreshold = threshold

	return EvolutionResult{
		Evolved:        true,
		RetiredCount:   retire,
		ActivatedCount: retire,
		TotalAttempts:  total,
	}
}

func (m *memoryState) status(t Tuning) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Configured:          false,
		TotalAttempts:       len(m.attempts),
		ApproximateSessions: len(m.attempts) / t.AttemptsPerSession,
		NextEvolution:       (m.lastThreshold + 1) * t.EvolveEverySessions,
	}
	var all []strategy.Strategy
	for _, id := range m.order {
		if s := m.strategies[id]; s != nil {
			all = append(all, *s)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	for _, s := range all {
		if s.IsActive {
			st.ActiveStrategies++
		}
		st.Strategies = append(st.Strategies, StrategyStat{
			Name:    s.Name,
			Score:   s.Score,
			Active:  s.IsActive,
			Uses:    s.UsageCount,
			Wins:    s.WinCount,
			WinRate: winRate(s.WinCount, s.UsageCount),
		})
	}
	return st
}

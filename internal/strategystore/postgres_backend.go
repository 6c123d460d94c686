package strategystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"hairlab/internal/strategy"
)

func (s *Store) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS generation_strategies (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  model TEXT NOT NULL DEFAULT '',
  prompt_template TEXT NOT NULL,
  score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
  win_count INTEGER NOT NULL DEFAULT 0,
  usage_count INTEGER NOT NULL DEFAULT 0,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  created_for_session TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS generation_attempts (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  strategy_id TEXT NOT NULL,
  strategy_name TEXT NOT NULL DEFAULT '',
  reference_image_ref TEXT NOT NULL DEFAULT '',
  output_image_ref TEXT NOT NULL DEFAULT '',
  evaluation_passed BOOLEAN,
  evaluation_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
  evaluation_details JSONB,
  user_selected BOOLEAN NOT NULL DEFAULT FALSE,
  generation_time_ms BIGINT NOT NULL DEFAULT 0,
  error_message TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_generation_attempts_session_id ON generation_attempts (session_id);

CREATE TABLE IF NOT EXISTS evolution_state (
  id SMALLINT PRIMARY KEY CHECK (id = 1),
  last_threshold INTEGER NOT NULL DEFAULT 0,
  evolution_count INTEGER NOT NULL DEFAULT 0
);
INSERT INTO evolution_state (id) VALUES (1) ON CONFLICT DO NOTHING;
`)
	})
	return s.schemaErr
}

const strategyColumns = `id, name, model, prompt_template, score, win_count, usage_count, is_active, created_for_session`

func scanStrategy(row rowScanner) (strategy.Strategy, error) {
	var st strategy.Strategy
	err := row.Scan(&st.ID, &st.Name, &st.Model, &st.PromptTemplate,
		&st.Score, &st.WinCount, &st.UsageCount, &st.IsActive, &st.CreatedForSession)
	return st, err
}

func (s *Store) activeDB(ctx context.Context) ([]strategy.Strategy, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+strategyColumns+` FROM generation_strategies WHERE is_active ORDER BY score DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []strategy.Strategy
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// bootstrapDB seeds an empty registry with the default set so the engine is
// never left with zero strategies.
func (s *Store) bootstrapDB(ctx context.Context) []strategy.Strategy {
	defaults := strategy.Defaults()
	for _, st := range defaults {
		if _, err := s.db.ExecContext(ctx, `
INSERT INTO generation_strategies (`+strategyColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING`,
			st.ID, st.Name, st.Model, st.PromptTemplate,
			st.Score, st.WinCount, st.UsageCount, st.IsActive, st.CreatedForSession); err != nil {
			log.Printf("strategystore: bootstrap insert failed for %s: %v", st.Name, err)
		}
	}
	return defaults
}

func (s *Store) byIDsDB(ctx context.Context, ids []string) ([]strategy.Strategy, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	out := make([]strategy.Strategy, 0, len(ids))
	for _, id := range ids {
		st, err := scanStrategy(s.db.QueryRowContext(ctx,
			`SELECT `+strategyColumns+` FROM generation_strategies WHERE id = $1`, id))
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *Store) createBatchDB(ctx context.Context, list []strategy.Strategy) ([]string, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(list))
	for _, st := range list {
		if st.ID == "" {
			st.ID = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO generation_strategies (`+strategyColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			st.ID, st.Name, st.Model, st.PromptTemplate,
			st.Score, st.WinCount, st.UsageCount, st.IsActive, st.CreatedForSession); err != nil {
			return nil, err
		}
		ids = append(ids, st.ID)
	}
	return ids, tx.Commit()
}

func (s *Store) appendAttemptDB(ctx context.Context, a strategy.Attempt) (string, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return "", err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	var details any
	if a.EvaluationDetails != nil {
		b, err := json.Marshal(a.EvaluationDetails)
		if err != nil {
			return "", err
		}
		details = b
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO generation_attempts
  (id, session_id, strategy_id, strategy_name, reference_image_ref, output_image_ref,
   evaluation_passed, evaluation_confidence, evaluation_details, user_selected,
   generation_time_ms, error_message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.SessionID, a.StrategyID, a.StrategyName, a.ReferenceImageRef, a.OutputImageRef,
		a.EvaluationPassed, a.EvaluationConfidence, details, a.UserSelected,
		a.GenerationTimeMs, a.ErrorMessage, a.CreatedAt)
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

func (s *Store) attemptsBySessionDB(ctx context.Context, sessionID string) ([]strategy.Attempt, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, strategy_id, strategy_name, reference_image_ref, output_image_ref,
       evaluation_passed, evaluation_confidence, evaluation_details, user_selected,
       generation_time_ms, error_message, created_at
FROM generation_attempts WHERE session_id = $1 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []strategy.Attempt
	for rows.Next() {
		var a strategy.Attempt
		var passed sql.NullBool
		var details []byte
		if err := rows.Scan(&a.ID, &a.SessionID, &a.StrategyID, &a.StrategyName,
			&a.ReferenceImageRef, &a.OutputImageRef, &passed, &a.EvaluationConfidence,
			&details, &a.UserSelected, &a.GenerationTimeMs, &a.ErrorMessage, &a.CreatedAt); err != nil {
			return nil, err
		}
		if passed.Valid {
			v := passed.Bool
			a.EvaluationPassed = &v
		}
		if len(details) > 0 {
			var d strategy.EvaluationDetails
			if err := json.Unmarshal(details, &d); err == nil {
				a.EvaluationDetails = &d
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) totalAttemptsDB(ctx context.Context) (int, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM generation_attempts`).Scan(&n)
	return n, err
}

func (s *Store) recordOutcomeDB(ctx context.Context, sessionID, winningAttemptID string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, strategy_id FROM generation_attempts WHERE session_id = $1 FOR UPDATE`, sessionID)
	if err != nil {
		return err
	}
	var winnerStrategy string
	losers := make(map[string]bool)
	var all []struct{ id, strategyID string }
	for rows.Next() {
		var id, strategyID string
		if err := rows.Scan(&id, &strategyID); err != nil {
			rows.Close()
			return err
		}
		all = append(all, struct{ id, strategyID string }{id, strategyID})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, a := range all {
		if a.id == winningAttemptID {
			winnerStrategy = a.strategyID
		}
	}
	if winnerStrategy == "" {
		return ErrNoWinner
	}
	for _, a := range all {
		if a.strategyID != winnerStrategy {
			losers[a.strategyID] = true
		}
	}

	// One statement keeps the at-most-one-winner invariant even when a
	// concurrent duplicate selection races this one (last write wins).
	if _, err := tx.ExecContext(ctx,
		`UPDATE generation_attempts SET user_selected = (id = $2) WHERE session_id = $1`,
		sessionID, winningAttemptID); err != nil {
		return err
	}

	step := s.tuning.ScoreStep
	if _, err := tx.ExecContext(ctx, `
UPDATE generation_strategies
SET score = score + $1, win_count = win_count + 1, usage_count = usage_count + 1
WHERE id = $2`, step, winnerStrategy); err != nil {
		return err
	}
	for id := range losers {
		if _, err := tx.ExecContext(ctx, `
UPDATE generation_strategies
SET score = score - $1, usage_count = usage_count + 1
WHERE id = $2`, step, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) maybeEvolveDB(ctx context.Context) (EvolutionResult, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return EvolutionResult{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return EvolutionResult{}, err
	}
	defer tx.Rollback()

	var lastThreshold, evolutionCount int
	if err := tx.QueryRowContext(ctx,
		`SELECT last_threshold, evolution_count FROM evolution_state WHERE id = 1 FOR UPDATE`).
		Scan(&lastThreshold, &evolutionCount); err != nil {
		return EvolutionResult{}, err
	}
	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM generation_attempts`).Scan(&total); err != nil {
		return EvolutionResult{}, err
	}

	t := s.tuning
	approx := total / t.AttemptsPerSession
	threshold := approx / t.EvolveEverySessions
	if threshold <= lastThreshold {
		return EvolutionResult{
			Evolved:       false,
			TotalAttempts: total,
			Reason: fmt.Sprintf("next evolution at approximate session %d (currently %d)",
				(lastThreshold+1)*t.EvolveEverySessions, approx),
		}, nil
	}

	rows, err := tx.QueryContext(ctx, `
SELECT id FROM generation_strategies WHERE is_active
ORDER BY score ASC, id LIMIT $1 FOR UPDATE`, t.RetirePerCycle)
	if err != nil {
		return EvolutionResult{}, err
	}
	var retired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return EvolutionResult{}, err
		}
		retired = append(retired, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return EvolutionResult{}, err
	}
	rows.Close()

	if len(retired) == 0 {
		return EvolutionResult{Evolved: false, TotalAttempts: total, Reason: "no active strategies to evolve"}, nil
	}
	for _, id := range retired {
		if _, err := tx.ExecContext(ctx,
			`UPDATE generation_strategies SET is_active = FALSE WHERE id = $1`, id); err != nil {
			return EvolutionResult{}, err
		}
	}
	for _, st := range strategy.SynthesizeReplacements(len(retired), evolutionCount+1) {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO generation_strategies (`+strategyColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			uuid.NewString(), st.Name, st.Model, st.PromptTemplate,
			st.Score, st.WinCount, st.UsageCount, st.IsActive, st.CreatedForSession); err != nil {
			return EvolutionResult{}, err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE evolution_state SET last_threshold = $1, evolution_count = $2 WHERE id = 1`,
		threshold, evolutionCount+1); err != nil {
		return EvolutionResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return EvolutionResult{}, err
	}
	return EvolutionResult{
		Evolved:        true,
		RetiredCount:   len(retired),
		ActivatedCount: len(retired),
		TotalAttempts:  total,
	}, nil
}

func (s *Store) statusDB(ctx context.Context) (Status, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return Status{}, err
	}
	st := Status{Configured: true}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM generation_attempts`).Scan(&st.TotalAttempts); err != nil {
		return Status{}, err
	}
	var lastThreshold int
	if err := s.db.QueryRowContext(ctx,
		`SELECT last_threshold FROM evolution_state WHERE id = 1`).Scan(&lastThreshold); err != nil {
		return Status{}, err
	}
	t := s.tuning
	st.ApproximateSessions = st.TotalAttempts / t.AttemptsPerSession
	st.NextEvolution = (lastThreshold + 1) * t.EvolveEverySessions

	rows, err := s.db.QueryContext(ctx, `
SELECT name, score, is_active, usage_count, win_count
FROM generation_strategies ORDER BY score DESC, id`)
	if err != nil {
		return Status{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var row StrategyStat
		if err := rows.Scan(&row.Name, &row.Score, &row.Active, &row.Uses, &row.Wins); err != nil {
			return Status{}, err
		}
		row.WinRate = winRate(row.Wins, row.Uses)
		if row.Active {
			st.ActiveStrategies++
		}
		st.Strategies = append(st.Strategies, row)
	}
	return st, rows.Err()
}

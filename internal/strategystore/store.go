package strategystore

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"hairlab/internal/strategy"
)

// Store is the durable strategy registry and attempt ledger. With a DSN it
// speaks Postgres; without one it falls back to an in-memory backend so the
// product keeps generating previews when persistence is down — only the
// durability of learning degrades.
type Store struct {
	db     *sql.DB
	tuning Tuning

	schemaOnce sync.Once
	schemaErr  error

	mem *memoryState
}

// New returns an in-memory store seeded with the default strategy set.
func New(tuning Tuning) *Store {
	return &Store{
		tuning: tuning.normalize(),
		mem:    newMemoryState(),
	}
}

// NewPostgres opens a Postgres-backed store.
func NewPostgres(dsn string, tuning Tuning) (*Store, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, tuning: tuning.normalize()}, nil
}

// Open connects to Postgres when dsn is set; when it is empty or the
// database is unreachable it degrades to the in-memory store.
func Open(dsn string, tuning Tuning) *Store {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return New(tuning)
	}
	s, err := NewPostgres(dsn, tuning)
	if err != nil {
		log.Printf("strategystore: postgres unavailable, using in-memory store: %v", err)
		return New(tuning)
	}
	return s
}

// Durable reports whether the store is backed by Postgres.
func (s *Store) Durable() bool { return s != nil && s.db != nil }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Active returns the active strategy set ordered by descending score. Any
// read failure degrades to the fixed default set rather than propagating.
func (s *Store) Active(ctx context.Context) []strategy.Strategy {
	if s == nil {
		return strategy.Defaults()
	}
	if s.db != nil {
		list, err := s.activeDB(ctx)
		if err != nil {
			log.Printf("strategystore: active read failed, using defaults: %v", err)
			return strategy.Defaults()
		}
		if len(list) == 0 {
			return s.bootstrapDB(ctx)
		}
		return list
	}
	return s.mem.active()
}

// ByIDs returns the strategies with the given ids. Unknown ids are an
// error: explicit ids are caller input and fail fast.
func (s *Store) ByIDs(ctx context.Context, ids []string) ([]strategy.Strategy, error) {
	if s == nil || len(ids) == 0 {
		return nil, errEmptyIDs
	}
	if s.db != nil {
		return s.byIDsDB(ctx, ids)
	}
	return s.mem.byIDs(ids)
}

// CreateBatch inserts freshly synthesized strategies, assigning ids where
// missing, and returns the ids in input order.
func (s *Store) CreateBatch(ctx context.Context, list []strategy.Strategy) ([]string, error) {
	if s == nil || len(list) == 0 {
		return nil, nil
	}
	if s.db != nil {
		return s.createBatchDB(ctx, list)
	}
	return s.mem.createBatch(list), nil
}

// AppendAttempt writes one ledger row and returns its id. Fail-soft: on
// persistence failure it logs and returns "" so the generation flow is
// never blocked by history.
func (s *Store) AppendAttempt(ctx context.Context, a strategy.Attempt) string {
	if s == nil {
		return ""
	}
	if s.db != nil {
		id, err := s.appendAttemptDB(ctx, a)
		if err != nil {
			log.Printf("strategystore: append attempt failed: %v", err)
			return ""
		}
		return id
	}
	return s.mem.appendAttempt(a)
}

// AttemptsBySession lists the ledger rows for one session.
func (s *Store) AttemptsBySession(ctx context.Context, sessionID string) ([]strategy.Attempt, error) {
	if s == nil {
		return nil, errStoreNil
	}
	if s.db != nil {
		return s.attemptsBySessionDB(ctx, sessionID)
	}
	return s.mem.attemptsBySession(sessionID), nil
}

// TotalAttempts counts every ledger row ever written.
func (s *Store) TotalAttempts(ctx context.Context) (int, error) {
	if s == nil {
		return 0, errStoreNil
	}
	if s.db != nil {
		return s.totalAttemptsDB(ctx)
	}
	return s.mem.totalAttempts(), nil
}

// RecordOutcome marks the winning attempt selected and applies the score
// update as one atomic step per session: winner strategy +step/+win/+usage,
// each distinct loser strategy -step/+usage. If the winning attempt is not
// in the session, nothing is mutated.
func (s *Store) RecordOutcome(ctx context.Context, sessionID, winningAttemptID string) error {
	if s == nil {
		return errStoreNil
	}
	sessionID = strings.TrimSpace(sessionID)
	winningAttemptID = strings.TrimSpace(winningAttemptID)
	if sessionID == "" || winningAttemptID == "" {
		return errBadOutcomeInput
	}
	if s.db != nil {
		return s.recordOutcomeDB(ctx, sessionID, winningAttemptID)
	}
	return s.mem.recordOutcome(sessionID, winningAttemptID, s.tuning)
}

// MaybeEvolve runs the periodic pool-replacement check. It is safe to call
// after every selection: inside an evolution window it is a no-op.
func (s *Store) MaybeEvolve(ctx context.Context) EvolutionResult {
	if s == nil {
		return EvolutionResult{Evolved: false, Reason: "evolution disabled: store unavailable"}
	}
	if s.db != nil {
		res, err := s.maybeEvolveDB(ctx)
		if err != nil {
			log.Printf("strategystore: evolution check failed: %v", err)
			return EvolutionResult{Evolved: false, Reason: "evolution disabled: " + err.Error()}
		}
		return res
	}
	return s.mem.maybeEvolve(s.tuning)
}

// Status returns the read-only report of scores, win rates, and the next
// evolution threshold. Read failures degrade to an unconfigured report.
func (s *Store) Status(ctx context.Context) Status {
	if s == nil {
		return Status{}
	}
	if s.db != nil {
		st, err := s.statusDB(ctx)
		if err != nil {
			log.Printf("strategystore: status read failed: %v", err)
			return Status{}
		}
		return st
	}
	return s.mem.status(s.tuning)
}

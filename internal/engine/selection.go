package engine

import (
	"context"
	"log"
	"time"

	"hairlab/internal/strategystore"
)

// RecordSelection records the user's winning attempt for a session and
// applies the score update. The evolution check runs afterwards in its own
// goroutine; its failure is logged and never propagated into the selection
// result.
func (e *Engine) RecordSelection(ctx context.Context, sessionID, attemptID string) error {
	if err := e.store.RecordOutcome(ctx, sessionID, attemptID); err != nil {
		return err
	}
	log.Printf("engine: selection recorded (session=%s attempt=%s)", sessionID, attemptID)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("engine: evolution check panicked: %v", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		res := e.store.MaybeEvolve(ctx)
		if res.Evolved {
			log.Printf("engine: evolution occurred (retired=%d activated=%d total_attempts=%d)",
				res.RetiredCount, res.ActivatedCount, res.TotalAttempts)
		} else if res.Reason != "" {
			log.Printf("engine: no evolution: %s", res.Reason)
		}
		e.broadcast(ctx)
	}()
	return nil
}

// Evolve runs the evolution check synchronously; the evolution endpoint's
// POST path uses it for explicit triggering.
func (e *Engine) Evolve(ctx context.Context) strategystore.EvolutionResult {
	res := e.store.MaybeEvolve(ctx)
	if res.Evolved {
		e.broadcast(ctx)
	}
	return res
}

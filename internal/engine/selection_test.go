package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"hairlab/internal/genimg"
	"hairlab/internal/strategy"
	"hairlab/internal/strategystore"
)

func TestRecordSelectionUpdatesScores(t *testing.T) {
	eng, store := newTestEngine(genimg.NewFakeClient(), &stubEvaluator{ev: passingEval()}, nil)
	ctx := context.Background()

	res, err := eng.GenerateBatch(ctx, batchRequest())
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	winner := res.Variations[0]
	if err := eng.RecordSelection(ctx, res.SessionID, winner.AttemptID); err != nil {
		t.Fatalf("record selection: %v", err)
	}

	list, err := store.ByIDs(ctx, []string{winner.StrategyID})
	if err != nil {
		t.Fatalf("by ids: %v", err)
	}
	if list[0].WinCount != 1 || list[0].Score <= 0.5 {
		t.Fatalf("winner not rewarded: %+v", list[0])
	}
}

func TestRecordSelectionUnknownAttempt(t *testing.T) {
	eng, _ := newTestEngine(genimg.NewFakeClient(), &stubEvaluator{ev: passingEval()}, nil)

	err := eng.RecordSelection(context.Background(), "no-such-session", "no-such-attempt")
	if !errors.Is(err, strategystore.ErrNoWinner) {
		t.Fatalf("expected ErrNoWinner, got %v", err)
	}
}

func TestWatchReceivesSnapshotAfterSelection(t *testing.T) {
	eng, _ := newTestEngine(genimg.NewFakeClient(), &stubEvaluator{ev: passingEval()}, nil)
	ctx := context.Background()

	res, err := eng.GenerateBatch(ctx, batchRequest())
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	ch, cancel := eng.Watch()
	defer cancel()

	if err := eng.RecordSelection(ctx, res.SessionID, res.Variations[0].AttemptID); err != nil {
		t.Fatalf("record selection: %v", err)
	}

	select {
	case st := <-ch:
		if st.TotalAttempts != 4 {
			t.Fatalf("snapshot attempts = %d, want 4", st.TotalAttempts)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no status snapshot after selection")
	}
}

func TestWatchCancelUnsubscribes(t *testing.T) {
	eng, _ := newTestEngine(genimg.NewFakeClient(), &stubEvaluator{ev: passingEval()}, nil)

	_, cancel := eng.Watch()
	cancel()
	eng.mu.Lock()
	n := len(eng.watchers)
	eng.mu.Unlock()
	if n != 0 {
		t.Fatalf("watchers = %d after cancel, want 0", n)
	}
}

func TestEvolveBroadcastsWhenPoolChanges(t *testing.T) {
	store := strategystore.New(strategystore.Tuning{AttemptsPerSession: 1, EvolveEverySessions: 1})
	eng := New(genimg.NewExecutor(genimg.NewFakeClient()), &stubEvaluator{ev: passingEval()}, store, nil)
	ctx := context.Background()

	store.AppendAttempt(ctx, strategy.Attempt{
		SessionID: "s", StrategyID: "default-1", OutputImageRef: "inline",
	})

	ch, cancel := eng.Watch()
	defer cancel()

	res := eng.Evolve(ctx)
	if !res.Evolved {
		t.Fatalf("expected evolution, got %+v", res)
	}
	select {
	case st := <-ch:
		if st.ActiveStrategies != 4 {
			t.Fatalf("active strategies = %d, want 4 after replacement", st.ActiveStrategies)
		}
	case <-time.After(time.Second):
		t.Fatalf("no snapshot after evolution")
	}

	if again := eng.Evolve(ctx); again.Evolved {
		t.Fatalf("evolution must be idempotent within a window")
	}
}

package engine

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"testing"

	"hairlab/internal/genimg"
	"hairlab/internal/strategy"
	"hairlab/internal/strategystore"
)

// stubEvaluator returns a fixed verdict and counts calls.
type stubEvaluator struct {
	mu    sync.Mutex
	calls int
	ev    strategy.Evaluation
}

func (s *stubEvaluator) Evaluate(_ context.Context, _, _ strategy.Image) strategy.Evaluation {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.ev
}

// stubSink records uploads and returns deterministic keys.
type stubSink struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (s *stubSink) Put(_ context.Context, sessionID, attemptID string, _ strategy.Image) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	key := sessionID + "/" + attemptID + ".png"
	s.keys = append(s.keys, key)
	return key, nil
}

func passingEval() strategy.Evaluation {
	return strategy.Evaluation{
		Passed:     true,
		Confidence: 0.75,
		Reason:     "hair changed",
		Details:    strategy.EvaluationDetails{HairStyleChanged: true, HairColorChanged: true, OverallSimilarity: 0.6},
	}
}

func newTestEngine(gen genimg.Generator, eval Evaluator, sink ImageSink) (*Engine, *strategystore.Store) {
	store := strategystore.New(strategystore.Tuning{})
	return New(genimg.NewExecutor(gen), eval, store, sink), store
}

func batchRequest() GenerateRequest {
	return GenerateRequest{
		SessionID:      "sess-batch",
		UserImage:      strategy.Image{MIME: "image/jpeg", Data: []byte("user")},
		ReferenceImage: strategy.Image{MIME: "image/jpeg", Data: []byte("ref")},
	}
}

func TestGenerateBatchAllSucceed(t *testing.T) {
	eval := &stubEvaluator{ev: passingEval()}
	eng, store := newTestEngine(genimg.NewFakeClient(), eval, nil)

	res, err := eng.GenerateBatch(context.Background(), batchRequest())
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(res.Variations) != 4 {
		t.Fatalf("variations = %d, want 4 (one per default strategy)", len(res.Variations))
	}
	if res.TotalGenerated != 4 || res.TotalPassed != 4 {
		t.Fatalf("totals = %d/%d, want 4/4", res.TotalGenerated, res.TotalPassed)
	}
	for _, v := range res.Variations {
		if !strings.HasPrefix(v.ImageDataURL, "data:image/png;base64,") {
			t.Fatalf("variation %s: unexpected data URL prefix %q", v.AttemptID, v.ImageDataURL[:min(len(v.ImageDataURL), 30)])
		}
		if v.Confidence != 0.75 {
			t.Fatalf("variation %s: confidence = %v", v.AttemptID, v.Confidence)
		}
	}

	attempts, err := store.AttemptsBySession(context.Background(), "sess-batch")
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	if len(attempts) != 4 {
		t.Fatalf("ledger rows = %d, want 4", len(attempts))
	}
	for _, a := range attempts {
		if !a.Succeeded() {
			t.Fatalf("attempt %s should have succeeded: %+v", a.ID, a)
		}
		if a.EvaluationPassed == nil || !*a.EvaluationPassed {
			t.Fatalf("attempt %s missing evaluation verdict", a.ID)
		}
	}
}

func TestGenerateBatchOneFailureIsIsolated(t *testing.T) {
	gen := genimg.NewFakeClient()
	gen.Errs = []error{errors.New("model hiccup")}
	eval := &stubEvaluator{ev: passingEval()}
	eng, store := newTestEngine(gen, eval, nil)

	res, err := eng.GenerateBatch(context.Background(), batchRequest())
	if err != nil {
		t.Fatalf("one failure must not fail the batch: %v", err)
	}
	if len(res.Variations) != 4 {
		t.Fatalf("variations = %d, want 4 including the failure", len(res.Variations))
	}
	if res.TotalGenerated != 3 {
		t.Fatalf("generated = %d, want 3", res.TotalGenerated)
	}
	failed := 0
	for _, v := range res.Variations {
		if v.Error != "" {
			failed++
			if v.ImageDataURL != "" {
				t.Fatalf("failed variation carries an image")
			}
		}
	}
	if failed != 1 {
		t.Fatalf("failed variations = %d, want 1", failed)
	}

	// The failure is in the ledger too.
	attempts, _ := store.AttemptsBySession(context.Background(), "sess-batch")
	ledgerFailed := 0
	for _, a := range attempts {
		if a.ErrorMessage != "" {
			ledgerFailed++
		}
	}
	if ledgerFailed != 1 {
		t.Fatalf("ledger failures = %d, want 1", ledgerFailed)
	}
}

func TestGenerateBatchAllFailed(t *testing.T) {
	boom := errors.New("provider down")
	gen := genimg.NewFakeClient()
	gen.Errs = []error{boom, boom, boom, boom}
	eng, _ := newTestEngine(gen, &stubEvaluator{ev: passingEval()}, nil)

	res, err := eng.GenerateBatch(context.Background(), batchRequest())
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("expected ErrAllFailed, got %v", err)
	}
	if len(res.Variations) != 4 {
		t.Fatalf("per-item detail missing: %d variations", len(res.Variations))
	}
	for _, v := range res.Variations {
		if v.Error == "" {
			t.Fatalf("expected every variation to carry its error")
		}
	}
}

func TestGenerateBatchRejectsMissingImages(t *testing.T) {
	eng, _ := newTestEngine(genimg.NewFakeClient(), &stubEvaluator{ev: passingEval()}, nil)

	_, err := eng.GenerateBatch(context.Background(), GenerateRequest{
		UserImage: strategy.Image{MIME: "image/jpeg", Data: []byte("user")},
	})
	if err == nil {
		t.Fatalf("expected validation error for missing reference image")
	}
}

func TestGenerateBatchUnknownStrategyID(t *testing.T) {
	eng, _ := newTestEngine(genimg.NewFakeClient(), &stubEvaluator{ev: passingEval()}, nil)

	req := batchRequest()
	req.StrategyIDs = []string{"default-1", "ghost"}
	_, err := eng.GenerateBatch(context.Background(), req)
	if !errors.Is(err, strategystore.ErrUnknownStrategy) {
		t.Fatalf("expected ErrUnknownStrategy, got %v", err)
	}
}

func TestGenerateBatchDynamicStrategies(t *testing.T) {
	eng, store := newTestEngine(genimg.NewFakeClient(), &stubEvaluator{ev: passingEval()}, nil)

	req := batchRequest()
	req.UseDynamicStrategies = true
	req.Count = 2
	res, err := eng.GenerateBatch(context.Background(), req)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(res.Variations) != 2 {
		t.Fatalf("variations = %d, want 2", len(res.Variations))
	}
	for _, v := range res.Variations {
		if !strings.HasPrefix(v.StrategyName, "dynamic-") {
			t.Fatalf("expected a session-local strategy, got %q", v.StrategyName)
		}
		// Session-local strategies are registered, so selection can find them.
		if _, err := store.ByIDs(context.Background(), []string{v.StrategyID}); err != nil {
			t.Fatalf("dynamic strategy %s not registered: %v", v.StrategyID, err)
		}
	}
}

func TestDynamicSelectionFallbackLogsLookupError(t *testing.T) {
	// A nil store accepts the batch as a no-op but rejects the id readback,
	// forcing the fallback to the default pool.
	var store *strategystore.Store
	eng := New(genimg.NewExecutor(genimg.NewFakeClient()), &stubEvaluator{ev: passingEval()}, store, nil)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	req := batchRequest()
	req.UseDynamicStrategies = true
	res, err := eng.GenerateBatch(context.Background(), req)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(res.Variations) != 4 {
		t.Fatalf("variations = %d, want the 4 defaults", len(res.Variations))
	}

	logged := buf.String()
	if !strings.Contains(logged, "falling back to active pool") {
		t.Fatalf("missing fallback log: %s", logged)
	}
	if strings.Contains(logged, "<nil>") {
		t.Fatalf("fallback log lost the lookup error: %s", logged)
	}
	if !strings.Contains(logged, "strategy id") {
		t.Fatalf("fallback log should carry the lookup error: %s", logged)
	}
}

func TestGenerateBatchUploadsToSink(t *testing.T) {
	sink := &stubSink{}
	eng, store := newTestEngine(genimg.NewFakeClient(), &stubEvaluator{ev: passingEval()}, sink)

	_, err := eng.GenerateBatch(context.Background(), batchRequest())
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(sink.keys) != 4 {
		t.Fatalf("uploads = %d, want 4", len(sink.keys))
	}
	attempts, _ := store.AttemptsBySession(context.Background(), "sess-batch")
	for _, a := range attempts {
		if !strings.HasPrefix(a.OutputImageRef, "sess-batch/") {
			t.Fatalf("attempt %s output ref %q not a storage key", a.ID, a.OutputImageRef)
		}
	}
}

func TestGenerateBatchSinkFailureIsSoft(t *testing.T) {
	sink := &stubSink{err: errors.New("bucket gone")}
	eng, store := newTestEngine(genimg.NewFakeClient(), &stubEvaluator{ev: passingEval()}, sink)

	res, err := eng.GenerateBatch(context.Background(), batchRequest())
	if err != nil {
		t.Fatalf("sink failure must not fail generation: %v", err)
	}
	if res.TotalGenerated != 4 {
		t.Fatalf("generated = %d, want 4", res.TotalGenerated)
	}
	attempts, _ := store.AttemptsBySession(context.Background(), "sess-batch")
	for _, a := range attempts {
		if a.OutputImageRef != "inline" {
			t.Fatalf("attempt %s output ref = %q, want inline fallback", a.ID, a.OutputImageRef)
		}
	}
}

func TestGenerateStreamEventOrder(t *testing.T) {
	eng, _ := newTestEngine(genimg.NewFakeClient(), &stubEvaluator{ev: passingEval()}, nil)

	var mu sync.Mutex
	var events []Event
	_, err := eng.GenerateStream(context.Background(), batchRequest(), func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	if len(events) < 3 {
		t.Fatalf("too few events: %d", len(events))
	}
	if events[0].Type != "start" {
		t.Fatalf("first event = %q, want start", events[0].Type)
	}
	if events[1].Type != "strategies" || len(events[1].Strategies) != 4 {
		t.Fatalf("second event = %+v, want strategies with 4 names", events[1])
	}
	if events[len(events)-1].Type != "done" {
		t.Fatalf("last event = %q, want done", events[len(events)-1].Type)
	}

	counts := map[string]int{}
	for _, ev := range events {
		counts[ev.Type]++
	}
	if counts["generating"] != 4 || counts["complete"] != 4 {
		t.Fatalf("event counts = %v, want 4 generating and 4 complete", counts)
	}
	for _, ev := range events {
		if ev.Type == "complete" && ev.Variation == nil {
			t.Fatalf("complete event missing its variation")
		}
	}
}

func TestGenerateStreamEmitsErrorEvents(t *testing.T) {
	gen := genimg.NewFakeClient()
	gen.Errs = []error{errors.New("nope")}
	eng, _ := newTestEngine(gen, &stubEvaluator{ev: passingEval()}, nil)

	var mu sync.Mutex
	counts := map[string]int{}
	_, err := eng.GenerateStream(context.Background(), batchRequest(), func(ev Event) {
		mu.Lock()
		counts[ev.Type]++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if counts["error"] != 1 || counts["complete"] != 3 {
		t.Fatalf("event counts = %v, want 1 error and 3 complete", counts)
	}
}

func TestGenerateOneRetriesTransientFailures(t *testing.T) {
	gen := genimg.NewFakeClient()
	gen.Errs = []error{errors.New("flaky")}
	eng, store := newTestEngine(gen, &stubEvaluator{ev: passingEval()}, nil)

	req := batchRequest()
	req.SessionID = "sess-one"
	v, err := eng.GenerateOne(context.Background(), req)
	if err != nil {
		t.Fatalf("expected recovery within retry budget: %v", err)
	}
	if gen.Calls() != 2 {
		t.Fatalf("calls = %d, want 2", gen.Calls())
	}
	if v.ImageDataURL == "" {
		t.Fatalf("missing image")
	}
	attempts, _ := store.AttemptsBySession(context.Background(), "sess-one")
	if len(attempts) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(attempts))
	}
}

func TestGenerateOneSurfacesContentBlock(t *testing.T) {
	gen := genimg.NewFakeClient()
	gen.Errs = []error{&genimg.BlockedError{Reason: "SAFETY"}}
	eng, store := newTestEngine(gen, &stubEvaluator{ev: passingEval()}, nil)

	req := batchRequest()
	req.SessionID = "sess-blocked"
	_, err := eng.GenerateOne(context.Background(), req)
	var bErr *genimg.BlockedError
	if !errors.As(err, &bErr) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	if gen.Calls() != 1 {
		t.Fatalf("calls = %d, want 1 (blocks are not retried)", gen.Calls())
	}
	attempts, _ := store.AttemptsBySession(context.Background(), "sess-blocked")
	if len(attempts) != 1 || attempts[0].ErrorMessage == "" {
		t.Fatalf("blocked attempt missing from ledger: %+v", attempts)
	}
}

func TestGenerateOneRejectsMultipleStrategyIDs(t *testing.T) {
	eng, _ := newTestEngine(genimg.NewFakeClient(), &stubEvaluator{ev: passingEval()}, nil)

	req := batchRequest()
	req.StrategyIDs = []string{"default-1", "default-2"}
	if _, err := eng.GenerateOne(context.Background(), req); err == nil {
		t.Fatalf("expected error for multiple strategy ids")
	}
}

func TestGenerateOnePicksTopScorer(t *testing.T) {
	eng, store := newTestEngine(genimg.NewFakeClient(), &stubEvaluator{ev: passingEval()}, nil)
	ctx := context.Background()

	// Give default-3 a win so it leads the pool.
	id := store.AppendAttempt(ctx, strategy.Attempt{
		SessionID: "warmup", StrategyID: "default-3", OutputImageRef: "inline",
	})
	if err := store.RecordOutcome(ctx, "warmup", id); err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	req := batchRequest()
	req.SessionID = "sess-top"
	v, err := eng.GenerateOne(ctx, req)
	if err != nil {
		t.Fatalf("generate one: %v", err)
	}
	if v.StrategyID != "default-3" {
		t.Fatalf("strategy = %s, want the top scorer default-3", v.StrategyID)
	}
}

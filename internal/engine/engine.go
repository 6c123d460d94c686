package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	"hairlab/internal/genimg"
	"hairlab/internal/strategy"
	"hairlab/internal/strategystore"
)

// defaultBatchSize is how many variations one session generates when the
// caller does not say otherwise.
const defaultBatchSize = 4

// Evaluator derives the pass/fail verdict for one generated image.
type Evaluator interface {
	Evaluate(ctx context.Context, before, after strategy.Image) strategy.Evaluation
}

// ImageSink persists a generated image and returns its storage key.
type ImageSink interface {
	Put(ctx context.Context, sessionID, attemptID string, img strategy.Image) (string, error)
}

// Engine ties the transformation executor, the evaluator, and the strategy
// store into the generate / select / evolve loop. All collaborators are
// injected; the engine owns no globals.
type Engine struct {
	exec  *genimg.Executor
	eval  Evaluator
	store *strategystore.Store
	sink  ImageSink // optional; "inline" refs are recorded without one

	mu       sync.Mutex
	watchers map[chan strategystore.Status]struct{}
}

func New(exec *genimg.Executor, eval Evaluator, store *strategystore.Store, sink ImageSink) *Engine {
	return &Engine{
		exec:     exec,
		eval:     eval,
		store:    store,
		sink:     sink,
		watchers: make(map[chan strategystore.Status]struct{}),
	}
}

// GenerateRequest describes one batch generation session.
type GenerateRequest struct {
	SessionID      string
	UserImage      strategy.Image
	ReferenceImage strategy.Image
	// ReferenceRef is the opaque reference recorded in the ledger (URL or
	// storage key); "inline" when the reference arrived as raw bytes.
	ReferenceRef string
	// StrategyIDs selects explicit strategies; empty means the active pool.
	StrategyIDs []string
	// UseDynamicStrategies synthesizes fresh session-local strategies
	// instead of drawing from the active pool.
	UseDynamicStrategies bool
	Count                int
}

func (r GenerateRequest) validate() error {
	if r.UserImage.IsZero() {
		return fmt.Errorf("engine: user image is required")
	}
	if r.ReferenceImage.IsZero() {
		return fmt.Errorf("engine: reference image is required")
	}
	return nil
}

func (r GenerateRequest) count() int {
	if r.Count <= 0 {
		return defaultBatchSize
	}
	return r.Count
}

// selectStrategies resolves the request to a concrete strategy set:
// explicit ids fail fast on unknown ids; dynamic synthesis falls back to
// the active pool if the registry rejects the insert; the default is the
// active pool truncated to the batch size.
func (e *Engine) selectStrategies(ctx context.Context, req GenerateRequest) ([]strategy.Strategy, error) {
	if len(req.StrategyIDs) > 0 {
		return e.store.ByIDs(ctx, req.StrategyIDs)
	}
	if req.UseDynamicStrategies {
		synth := strategy.SynthesizeForSession(req.SessionID, req.count())
		ids, err := e.store.CreateBatch(ctx, synth)
		if err == nil {
			list, lookupErr := e.store.ByIDs(ctx, ids)
			if lookupErr == nil {
				return list, nil
			}
			err = lookupErr
		}
		log.Printf("engine: dynamic strategy creation failed, falling back to active pool: %v", err)
	}
	active := e.store.Active(ctx)
	if len(active) > req.count() {
		active = active[:req.count()]
	}
	return active, nil
}

// Status returns the read-only strategy/evolution report.
func (e *Engine) Status(ctx context.Context) strategystore.Status {
	return e.store.Status(ctx)
}

// Watch subscribes to status snapshots pushed after every recorded
// selection and evolution. The returned cancel must be called.
func (e *Engine) Watch() (<-chan strategystore.Status, func()) {
	ch := make(chan strategystore.Status, 4)
	e.mu.Lock()
	e.watchers[ch] = struct{}{}
	e.mu.Unlock()
	cancel := func() {
		e.mu.Lock()
		delete(e.watchers, ch)
		e.mu.Unlock()
	}
	return ch, cancel
}

// broadcast pushes the current status to all watchers, dropping snapshots
// for slow consumers rather than blocking.
func (e *Engine) broadcast(ctx context.Context) {
	st := e.store.Status(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()
	for ch := range e.watchers {
		select {
		case ch <- st:
		default:
		}
	}
}

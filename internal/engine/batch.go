package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"hairlab/internal/strategy"
)

// ErrAllFailed reports that not one variation in a batch produced an image.
var ErrAllFailed = errors.New("engine: all generations failed")

// Variation is one attempt's user-facing result.
type Variation struct {
	AttemptID        string                     `json:"id"`
	StrategyID       string                     `json:"strategyId"`
	StrategyName     string                     `json:"strategyName"`
	Image            strategy.Image             `json:"-"`
	ImageDataURL     string                     `json:"image,omitempty"`
	Passed           bool                       `json:"passed"`
	Confidence       float64                    `json:"confidence"`
	Reason           string                     `json:"reason,omitempty"`
	Details          strategy.EvaluationDetails `json:"details"`
	GenerationTimeMs int64                      `json:"generationTimeMs"`
	Error            string                     `json:"error,omitempty"`
}

// BatchResult collects every variation of a session, failures included.
type BatchResult struct {
	SessionID      string      `json:"sessionId"`
	Variations     []Variation `json:"variations"`
	TotalGenerated int         `json:"totalGenerated"`
	TotalPassed    int         `json:"totalPassed"`
}

// Event is one streamed progress update. Ordering across variations is
// completion order; Index ties each event back to its variation.
type Event struct {
	Type         string     `json:"type"`
	SessionID    string     `json:"sessionId,omitempty"`
	Index        int        `json:"index,omitempty"`
	StrategyName string     `json:"strategyName,omitempty"`
	Strategies   []string   `json:"strategies,omitempty"`
	Variation    *Variation `json:"variation,omitempty"`
	Message      string     `json:"message,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// GenerateBatch fans out one generation per selected strategy, evaluates
// and records each, and returns all results. One variation failing never
// fails its siblings; if literally every variation failed the batch returns
// ErrAllFailed alongside the per-item detail.
func (e *Engine) GenerateBatch(ctx context.Context, req GenerateRequest) (BatchResult, error) {
	return e.run(ctx, req, nil)
}

// GenerateStream is GenerateBatch with incremental delivery: emit receives
// start/strategies/generating/complete/error/done events as each of the
// parallel attempts progresses. emit is called from multiple goroutines.
func (e *Engine) GenerateStream(ctx context.Context, req GenerateRequest, emit func(Event)) (BatchResult, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	return e.run(ctx, req, emit)
}

func (e *Engine) run(ctx context.Context, req GenerateRequest, emit func(Event)) (BatchResult, error) {
	if err := req.validate(); err != nil {
		return BatchResult{}, err
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.ReferenceRef == "" {
		req.ReferenceRef = "inline"
	}

	strategies, err := e.selectStrategies(ctx, req)
	if err != nil {
		return BatchResult{}, err
	}
	if len(strategies) == 0 {
		return BatchResult{}, fmt.Errorf("engine: no strategies available")
	}

	if emit != nil {
		emit(Event{Type: "start", SessionID: req.SessionID,
			Message: fmt.Sprintf("Starting generation of %d variations", len(strategies))})
		names := make([]string, len(strategies))
		for i, st := range strategies {
			names[i] = st.Name
		}
		emit(Event{Type: "strategies", SessionID: req.SessionID, Strategies: names})
	}

	result := BatchResult{
		SessionID:  req.SessionID,
		Variations: make([]Variation, len(strategies)),
	}

	// All-settled join: every closure returns nil so one failure never
	// cancels the siblings; failures land in their variation slot.
	var g errgroup.Group
	for i, st := range strategies {
		g.Go(func() error {
			result.Variations[i] = e.runOne(ctx, req, st, i, emit)
			return nil
		})
	}
	_ = g.Wait()

	for _, v := range result.Variations {
		if v.Error == "" {
			result.TotalGenerated++
			if v.Passed {
				result.TotalPassed++
			}
		}
	}
	if emit != nil {
		emit(Event{Type: "done", SessionID: req.SessionID, Message: "All variations complete"})
	}
	if result.TotalGenerated == 0 {
		return result, ErrAllFailed
	}
	return result, nil
}

// runOne drives one attempt's strictly sequential lifecycle:
// execute, evaluate, persist image, append to the ledger.
func (e *Engine) runOne(ctx context.Context, req GenerateRequest, st strategy.Strategy, index int, emit func(Event)) Variation {
	if emit != nil {
		emit(Event{Type: "generating", SessionID: req.SessionID, Index: index, StrategyName: st.Name})
	}

	attemptID := uuid.NewString()
	v := Variation{
		AttemptID:    attemptID,
		StrategyID:   st.ID,
		StrategyName: st.Name,
	}
	attempt := strategy.Attempt{
		ID:                attemptID,
		SessionID:         req.SessionID,
		StrategyID:        st.ID,
		StrategyName:      st.Name,
		ReferenceImageRef: req.ReferenceRef,
	}

	res := e.exec.Execute(ctx, req.UserImage, req.ReferenceImage, st.PromptTemplate)
	v.GenerationTimeMs = res.Elapsed.Milliseconds()
	attempt.GenerationTimeMs = v.GenerationTimeMs

	if res.Err != nil {
		log.Printf("engine: strategy %s failed: %v", st.Name, res.Err)
		v.Error = res.Err.Error()
		attempt.ErrorMessage = v.Error
		if id := e.store.AppendAttempt(ctx, attempt); id != "" {
			v.AttemptID = id
		}
		if emit != nil {
			emit(Event{Type: "error", SessionID: req.SessionID, Index: index,
				StrategyName: st.Name, Error: v.Error})
		}
		return v
	}

	v.Image = res.Image
	v.ImageDataURL = dataURL(res.Image)

	ev := e.eval.Evaluate(ctx, req.UserImage, res.Image)
	v.Passed = ev.Passed
	v.Confidence = ev.Confidence
	v.Reason = ev.Reason
	v.Details = ev.Details

	attempt.OutputImageRef = "inline"
	if e.sink != nil {
		if key, err := e.sink.Put(ctx, req.SessionID, attemptID, res.Image); err != nil {
			log.Printf("engine: image upload failed for attempt %s: %v", attemptID, err)
		} else {
			attempt.OutputImageRef = key
		}
	}
	passed := ev.Passed
	attempt.EvaluationPassed = &passed
	attempt.EvaluationConfidence = ev.Confidence
	details := ev.Details
	attempt.EvaluationDetails = &details

	if id := e.store.AppendAttempt(ctx, attempt); id != "" {
		v.AttemptID = id
	}
	if emit != nil {
		emit(Event{Type: "complete", SessionID: req.SessionID, Index: index,
			StrategyName: st.Name, Variation: &v})
	}
	return v
}

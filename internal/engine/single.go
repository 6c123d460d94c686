package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hairlab/internal/strategy"
)

const (
	singleShotAttempts  = 3
	singleShotBaseDelay = time.Second
)

// GenerateOne is the single-shot path: one strategy, with bounded
// exponential-backoff retries on transient failures. Content blocks are
// never retried. The attempt is evaluated and recorded like a batch member.
func (e *Engine) GenerateOne(ctx context.Context, req GenerateRequest) (Variation, error) {
	if err := req.validate(); err != nil {
		return Variation{}, err
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.ReferenceRef == "" {
		req.ReferenceRef = "inline"
	}

	var st strategy.Strategy
	switch {
	case len(req.StrategyIDs) == 1:
		list, err := e.store.ByIDs(ctx, req.StrategyIDs)
		if err != nil {
			return Variation{}, err
		}
		st = list[0]
	case len(req.StrategyIDs) > 1:
		return Variation{}, fmt.Errorf("engine: single-shot path takes at most one strategy id")
	default:
		active := e.store.Active(ctx)
		if len(active) == 0 {
			return Variation{}, fmt.Errorf("engine: no strategies available")
		}
		st = active[0]
	}

	attemptID := uuid.NewString()
	v := Variation{AttemptID: attemptID, StrategyID: st.ID, StrategyName: st.Name}
	attempt := strategy.Attempt{
		ID:                attemptID,
		SessionID:         req.SessionID,
		StrategyID:        st.ID,
		StrategyName:      st.Name,
		ReferenceImageRef: req.ReferenceRef,
	}

	res := e.exec.ExecuteWithRetry(ctx, req.UserImage, req.ReferenceImage,
		st.PromptTemplate, singleShotAttempts, singleShotBaseDelay)
	v.GenerationTimeMs = res.Elapsed.Milliseconds()
	attempt.GenerationTimeMs = v.GenerationTimeMs

	if res.Err != nil {
		v.Error = res.Err.Error()
		attempt.ErrorMessage = v.Error
		e.store.AppendAttempt(ctx, attempt)
		return v, res.Err
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
		if key, err := e.sink.Put(ctx, req.SessionID, attemptID, res.Image); err == nil {
			attempt.OutputImageRef = key
		}
	}
	passed := ev.Passed
	attempt.EvaluationPassed = &passed
	attempt.EvaluationConfidence = ev.Confidence
	details := ev.Details
	attempt.EvaluationDetails = &details
	e.store.AppendAttempt(ctx, attempt)

	return v, nil
}

func dataURL(img strategy.Image) string {
	if img.IsZero() {
		return ""
	}
	mime := img.MIME
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

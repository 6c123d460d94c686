package genimg

import (
	"context"
	"time"

	"hairlab/internal/strategy"
)

// imageOnlyConstraint is appended to every strategy template so the model
// does not answer with prose instead of an image.
const imageOnlyConstraint = "\n\nIMPORTANT: You must generate an image. Return ONLY the transformed image, no text."

// Result is the outcome of one strategy execution. Exactly one of Image or
// Err is meaningful; Elapsed is recorded either way.
type Result struct {
	Image   strategy.Image
	Elapsed time.Duration
	Err     error
}

// Executor runs strategy templates against a Generator. It has no state
// beyond the generator and is safe for concurrent use.
type Executor struct {
	gen Generator
}

func NewExecutor(gen Generator) *Executor { return &Executor{gen: gen} }

// Execute runs one strategy template against one (user, reference) image
// pair. No retries: the batch path absorbs individual failures.
func (e *Executor) Execute(ctx context.Context, userImage, referenceImage strategy.Image, template string) Result {
	start := time.Now()
	img, err := e.gen.Generate(ctx, Request{
		Instructions:   template + imageOnlyConstraint,
		UserImage:      userImage,
		ReferenceImage: referenceImage,
	})
	return Result{Image: img, Elapsed: time.Since(start), Err: err}
}

// ExecuteWithRetry is the single-shot path: transient failures are retried
// with exponential backoff up to maxAttempts; content blocks and other
// permanent errors are surfaced immediately.
func (e *Executor) ExecuteWithRetry(ctx context.Context, userImage, referenceImage strategy.Image, template string, maxAttempts int, baseDelay time.Duration) Result {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	start := time.Now()
	var last error
	for i := 0; i < maxAttempts; i++ {
		img, err := e.gen.Generate(ctx, Request{
			Instructions:   template + imageOnlyConstraint,
			UserImage:      userImage,
			ReferenceImage: referenceImage,
		})
		if err == nil {
			return Result{Image: img, Elapsed: time.Since(start)}
		}
		if IsPermanent(err) {
			return Result{Elapsed: time.Since(start), Err: err}
		}
		last = err
		if i == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return Result{Elapsed: time.Since(start), Err: ctx.Err()}
		case <-time.After(baseDelay * time.Duration(1<<i)):
		}
	}
	return Result{Elapsed: time.Since(start), Err: last}
}

package genimg

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	genai "google.golang.org/genai"

	"hairlab/internal/strategy"
)

// recordingClient captures the request so instruction assembly can be
// asserted.
type recordingClient struct {
	FakeClient
	lastReq Request
}

func (r *recordingClient) Generate(ctx context.Context, req Request) (strategy.Image, error) {
	r.lastReq = req
	return r.FakeClient.Generate(ctx, req)
}

func testImage() strategy.Image {
	return strategy.Image{MIME: "image/jpeg", Data: []byte("jpeg-bytes")}
}

func TestExecuteAppendsImageOnlyConstraint(t *testing.T) {
	cli := &recordingClient{}
	exec := NewExecutor(cli)

	res := exec.Execute(context.Background(), testImage(), testImage(), "change the hair")
	if res.Err != nil {
		t.Fatalf("execute: %v", res.Err)
	}
	if res.Image.IsZero() {
		t.Fatalf("expected an image")
	}
	if !strings.HasPrefix(cli.lastReq.Instructions, "change the hair") {
		t.Fatalf("instructions lost the template: %q", cli.lastReq.Instructions)
	}
	if !strings.Contains(cli.lastReq.Instructions, "You must generate an image") {
		t.Fatalf("instructions missing the image-only constraint: %q", cli.lastReq.Instructions)
	}
}

func TestExecuteWithRetryRecoversFromTransientErrors(t *testing.T) {
	cli := NewFakeClient()
	cli.Errs = []error{errors.New("temporary"), errors.New("temporary again")}
	exec := NewExecutor(cli)

	res := exec.ExecuteWithRetry(context.Background(), testImage(), testImage(), "t", 3, time.Millisecond)
	if res.Err != nil {
		t.Fatalf("expected success on third attempt: %v", res.Err)
	}
	if got := cli.Calls(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestExecuteWithRetryExhaustsAttempts(t *testing.T) {
	boom := errors.New("still down")
	cli := NewFakeClient()
	cli.Errs = []error{boom, boom, boom}
	exec := NewExecutor(cli)

	res := exec.ExecuteWithRetry(context.Background(), testImage(), testImage(), "t", 3, time.Millisecond)
	if !errors.Is(res.Err, boom) {
		t.Fatalf("expected last transient error, got %v", res.Err)
	}
	if got := cli.Calls(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestExecuteWithRetryNeverRetriesContentBlocks(t *testing.T) {
	cli := NewFakeClient()
	cli.Errs = []error{&BlockedError{Reason: "SAFETY"}}
	exec := NewExecutor(cli)

	res := exec.ExecuteWithRetry(context.Background(), testImage(), testImage(), "t", 5, time.Millisecond)
	var bErr *BlockedError
	if !errors.As(res.Err, &bErr) {
		t.Fatalf("expected BlockedError, got %v", res.Err)
	}
	if got := cli.Calls(); got != 1 {
		t.Fatalf("calls = %d, want 1 (no retry after a block)", got)
	}
}

func TestExecuteWithRetryNeverRetriesSafetyStops(t *testing.T) {
	cli := NewFakeClient()
	cli.Errs = []error{&StoppedError{FinishReason: "SAFETY"}}
	exec := NewExecutor(cli)

	res := exec.ExecuteWithRetry(context.Background(), testImage(), testImage(), "t", 3, time.Millisecond)
	var sErr *StoppedError
	if !errors.As(res.Err, &sErr) {
		t.Fatalf("expected StoppedError, got %v", res.Err)
	}
	if got := cli.Calls(); got != 1 {
		t.Fatalf("calls = %d, want 1 (safety stops are not retried)", got)
	}
}

func TestExecuteWithRetryHonorsContextCancel(t *testing.T) {
	cli := NewFakeClient()
	cli.Errs = []error{errors.New("transient")}
	exec := NewExecutor(cli)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := exec.ExecuteWithRetry(ctx, testImage(), testImage(), "t", 3, time.Hour)
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", res.Err)
	}
}

func TestIsPermanent(t *testing.T) {
	if !IsPermanent(&BlockedError{Reason: "SAFETY"}) {
		t.Fatalf("blocked errors are permanent")
	}
	if !IsPermanent(NewPermanentError(errors.New("bad input"))) {
		t.Fatalf("wrapped permanent errors are permanent")
	}
	wrapped := NewPermanentError(errors.New("inner"))
	if !IsPermanent(wrapped) {
		t.Fatalf("permanent marker lost through wrapping")
	}
	if IsPermanent(errors.New("connection reset")) {
		t.Fatalf("plain errors are transient")
	}
	if IsPermanent(&StoppedError{FinishReason: "MAX_TOKENS"}) {
		t.Fatalf("non-safety stops are retryable")
	}
	for _, reason := range []string{"SAFETY", "IMAGE_SAFETY", "PROHIBITED_CONTENT"} {
		if !IsPermanent(&StoppedError{FinishReason: reason}) {
			t.Fatalf("%s stop must be permanent", reason)
		}
	}
}

func TestTriageResponseBlocked(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		PromptFeedback: &genai.GenerateContentResponsePromptFeedback{
			BlockReason: genai.BlockedReasonSafety,
		},
	}
	_, err := triageResponse(resp)
	var bErr *BlockedError
	if !errors.As(err, &bErr) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
}

func TestTriageResponseSafetyFinishIsBlocked(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []*genai.Part{{Text: "I can't help with that"}}},
			FinishReason: genai.FinishReasonSafety,
		}},
	}
	_, err := triageResponse(resp)
	var bErr *BlockedError
	if !errors.As(err, &bErr) {
		t.Fatalf("expected BlockedError for a safety finish, got %v", err)
	}
	if !IsPermanent(err) {
		t.Fatalf("safety finish must not be retried")
	}
}

func TestTriageResponseStoppedWithoutImage(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []*genai.Part{{Text: "cannot comply"}}},
			FinishReason: genai.FinishReasonMaxTokens,
		}},
	}
	_, err := triageResponse(resp)
	var sErr *StoppedError
	if !errors.As(err, &sErr) {
		t.Fatalf("expected StoppedError, got %v", err)
	}
}

func TestTriageResponseTextOnly(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []*genai.Part{{Text: "here is a description instead"}}},
			FinishReason: genai.FinishReasonStop,
		}},
	}
	_, err := triageResponse(resp)
	if !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
}

func TestTriageResponseImagePart(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "sure:"},
				{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{1}}},
			}},
			FinishReason: genai.FinishReasonStop,
		}},
	}
	img, err := triageResponse(resp)
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	if img.MIME != "image/png" || len(img.Data) != 1 {
		t.Fatalf("unexpected image %+v", img)
	}
}

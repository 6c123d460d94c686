package genimg

import (
	"context"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"hairlab/internal/strategy"
)

// Request is one transformation call: the user's photo, the reference
// hairstyle photo, and the strategy's instruction text.
type Request struct {
	Instructions   string
	UserImage      strategy.Image
	ReferenceImage strategy.Image
}

// Generator produces a transformed image from a Request.
type Generator interface {
	Name() string
	Close() error
	Generate(ctx context.Context, req Request) (strategy.Image, error)
}

// GeminiClient is a thin wrapper around the official genai client for the
// image-output model family.
type GeminiClient struct {
	cli     *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiClient dials the Gemini API. timeout bounds each Generate call;
// zero means the 60s default.
func NewGeminiClient(ctx context.Context, apiKey, model string, timeout time.Duration) (*GeminiClient, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  strings.TrimSpace(apiKey),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GeminiClient{cli: cli, model: model, timeout: timeout}, nil
}

func (g *GeminiClient) Name() string { return "Gemini:" + g.model }
func (g *GeminiClient) Close() error { return nil }

// Generate sends the two images and the instruction as one ordered
// multi-part request and triages the response into an image or a
// distinguishable failure.
func (g *GeminiClient) Generate(ctx context.Context, req Request) (strategy.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	parts := []*genai.Part{
		{Text: "USER PHOTO:"},
		{InlineData: &genai.Blob{MIMEType: req.UserImage.MIME, Data: req.UserImage.Data}},
		{Text: "REFERENCE PHOTO:"},
		{InlineData: &genai.Blob{MIMEType: req.ReferenceImage.MIME, Data: req.ReferenceImage.Data}},
		{Text: req.Instructions},
	}
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Role: "user", Parts: parts}}, nil)
	if err != nil {
		return strategy.Image{}, err
	}
	return triageResponse(resp)
}

// triageResponse distinguishes "blocked" from "stopped" from "no image",
// so callers and logs can tell them apart.
func triageResponse(resp *genai.GenerateContentResponse) (strategy.Image, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return strategy.Image{}, &BlockedError{Reason: string(resp.PromptFeedback.BlockReason)}
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return strategy.Image{MIME: part.InlineData.MIMEType, Data: part.InlineData.Data}, nil
			}
		}
	}
	if len(resp.Candidates) > 0 {
		if fr := resp.Candidates[0].FinishReason; fr != "" && fr != genai.FinishReasonStop {
			// Image output is usually blocked at the candidate level, not
			// through PromptFeedback.
			if isSafetyFinish(string(fr)) {
				return strategy.Image{}, &BlockedError{Reason: string(fr)}
			}
			return strategy.Image{}, &StoppedError{FinishReason: string(fr)}
		}
	}
	return strategy.Image{}, ErrNoImage
}

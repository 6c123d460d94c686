package evaluator

import (
	"context"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"hairlab/internal/strategy"
)

// Judge compares two images under the given instructions and returns the
// model's raw text verdict.
type Judge interface {
	Name() string
	Close() error
	Judge(ctx context.Context, before, after strategy.Image, instructions string) (string, error)
}

// GeminiJudge wraps the genai client with a text-output model; image
// comparison runs on the cheaper text model family.
type GeminiJudge struct {
	cli     *genai.Client
	model   string
	timeout time.Duration
}

func NewGeminiJudge(ctx context.Context, apiKey, model string, timeout time.Duration) (*GeminiJudge, error) {
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
	return &GeminiJudge{cli: cli, model: model, timeout: timeout}, nil
}

func (g *GeminiJudge) Name() string { return "GeminiJudge:" + g.model }
func (g *GeminiJudge) Close() error { return nil }

func (g *GeminiJudge) Judge(ctx context.Context, before, after strategy.Image, instructions string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	parts := []*genai.Part{
		{Text: instructions},
		{InlineData: &genai.Blob{MIMEType: before.MIME, Data: before.Data}},
		{InlineData: &genai.Blob{MIMEType: after.MIME, Data: after.Data}},
	}
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Role: "user", Parts: parts}}, nil)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part != nil {
				sb.WriteString(part.Text)
			}
		}
	}
	return sb.String(), nil
}

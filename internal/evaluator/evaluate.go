package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"hairlab/internal/strategy"
)

const judgePrompt = `You are an image comparison expert. Compare these two images of the same person.

Image 1: Original photo
Image 2: Generated transformation

Your task: Determine if a meaningful HAIRSTYLE transformation occurred between image 1 and image 2.

Analyze:
1. Hair color: Did it change? (Yes/No)
2. Hair length: Did it change significantly? (Yes/No)
3. Hair texture: Did it change (straight vs wavy vs curly)? (Yes/No)
4. Hair style: Did the styling change (volume, direction, cut)? (Yes/No)
5. Overall similarity: Rate how similar the images are (0-100%, where 100% = completely identical)

A transformation PASSES if:
- At least 2 of the 4 hair attributes changed, OR
- Overall similarity is less than 85%

A transformation FAILS if:
- Images look nearly identical (similarity > 90%), OR
- Only minor/imperceptible changes occurred

Return your analysis in this EXACT JSON format:
{
  "hairColorChanged": true/false,
  "hairLengthChanged": true/false,
  "hairTextureChanged": true/false,
  "hairStyleChanged": true/false,
  "overallSimilarity": 0.XX (as decimal, e.g., 0.92 for 92%),
  "passed": true/false,
  "reason": "Brief explanation of your decision"
}

Return ONLY the JSON, no other text.`

// verdict mirrors the JSON the judge model is instructed to return.
// Pointer fields let required-field validation distinguish "false" from
// "missing".
type verdict struct {
	HairColorChanged   *bool    `json:"hairColorChanged"`
	HairLengthChanged  *bool    `json:"hairLengthChanged"`
	HairTextureChanged *bool    `json:"hairTextureChanged"`
	HairStyleChanged   *bool    `json:"hairStyleChanged"`
	OverallSimilarity  *float64 `json:"overallSimilarity"`
	Passed             *bool    `json:"passed"`
	Reason             string   `json:"reason"`
}

func (v verdict) complete() bool {
	return v.HairColorChanged != nil && v.HairLengthChanged != nil &&
		v.HairTextureChanged != nil && v.HairStyleChanged != nil &&
		v.OverallSimilarity != nil && v.Passed != nil
}

// Evaluator derives the pass/fail reward signal from the judge's verdict.
// Stateless; safe for concurrent use.
type Evaluator struct {
	judge Judge
}

func New(judge Judge) *Evaluator { return &Evaluator{judge: judge} }

// Evaluate compares the original and generated images.
//
// The two fallback defaults are deliberately asymmetric. An unparseable or
// incomplete verdict fails closed (a contradictory judgment must never be
// auto-passed). A failed judge call fails open with moderate confidence, so
// an otherwise-good generation is shown to the user instead of being hidden
// by evaluator plumbing.
func (e *Evaluator) Evaluate(ctx context.Context, before, after strategy.Image) strategy.Evaluation {
	text, err := e.judge.Judge(ctx, before, after, judgePrompt)
	if err != nil {
		log.Printf("evaluator: judge call failed, skipping evaluation: %v", err)
		return skippedDefault(err)
	}

	raw := extractJSON(text)
	if raw == "" {
		log.Printf("evaluator: no JSON found in judge response (%d bytes)", len(text))
		return parseFailureDefault("evaluation failed - no JSON found in response")
	}

	var v verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		log.Printf("evaluator: judge response is not valid JSON: %v", err)
		return parseFailureDefault(fmt.Sprintf("evaluation failed - invalid JSON: %v", err))
	}
	if !v.complete() {
		log.Printf("evaluator: judge response missing required fields")
		return parseFailureDefault("evaluation failed - verdict missing required fields")
	}

	details := strategy.EvaluationDetails{
		HairColorChanged:   *v.HairColorChanged,
		HairLengthChanged:  *v.HairLengthChanged,
		HairTextureChanged: *v.HairTextureChanged,
		HairStyleChanged:   *v.HairStyleChanged,
		OverallSimilarity:  *v.OverallSimilarity,
	}
	return strategy.Evaluation{
		Passed:     *v.Passed,
		Confidence: deriveConfidence(*v.Passed, details),
		Reason:     v.Reason,
		Details:    details,
	}
}

// deriveConfidence maps the verdict onto [0,1]. On pass, confidence rises
// with each independently-detected change (0.5-1.0). On fail, it reflects
// certainty of the failure judgment: near 0.3 for a near-identical result,
// rising as dissimilarity grows.
func deriveConfidence(passed bool, d strategy.EvaluationDetails) float64 {
	var c float64
	if passed {
		c = 0.5 + 0.125*float64(d.ChangeCount())
	} else {
		c = 0.3 + 0.5*(1-d.OverallSimilarity)
	}
	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c
}

// extractJSON returns the outermost {...} span of s, or "".
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// parseFailureDefault is the conservative fail-closed default for verdicts
// that exist but cannot be trusted.
func parseFailureDefault(reason string) strategy.Evaluation {
	return strategy.Evaluation{
		Passed:     false,
		Confidence: 0.5,
		Reason:     reason,
		Details:    strategy.EvaluationDetails{OverallSimilarity: 1.0},
	}
}

// skippedDefault is the optimistic fail-open default for judge calls that
// never produced a verdict: show the image and let the user decide.
func skippedDefault(err error) strategy.Evaluation {
	cause := "evaluation error"
	if strings.Contains(err.Error(), "413") {
		cause = "image too large"
	}
	return strategy.Evaluation{
		Passed:     true,
		Confidence: 0.6,
		Reason:     fmt.Sprintf("Auto-evaluation skipped (%s)", cause),
		Details: strategy.EvaluationDetails{
			HairColorChanged:  true,
			HairStyleChanged:  true,
			OverallSimilarity: 0.75,
		},
	}
}

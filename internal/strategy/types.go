package strategy

import "time"

// Strategy is a named prompt template for the hairstyle transformation,
// carrying the running fitness score the selection loop learns over time.
type Strategy struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Model          string  `json:"model"`
	PromptTemplate string  `json:"prompt_template"`
	Score          float64 `json:"score"`
	WinCount       int     `json:"win_count"`
	UsageCount     int     `json:"usage_count"`
	IsActive       bool    `json:"is_active"`
	// CreatedForSession is set on dynamically synthesized strategies only.
	CreatedForSession string `json:"created_for_session,omitempty"`
}

// Attempt is one execution of one strategy against a (user image,
// reference image) pair. Attempts sharing a SessionID competed against
// each other for the user's selection.
type Attempt struct {
	ID                   string             `json:"id"`
	SessionID            string             `json:"session_id"`
	StrategyID           string             `json:"strategy_id"`
	StrategyName         string             `json:"strategy_name"`
	ReferenceImageRef    string             `json:"reference_image_ref"`
	OutputImageRef       string             `json:"output_image_ref,omitempty"`
	EvaluationPassed     *bool              `json:"evaluation_passed,omitempty"`
	EvaluationConfidence float64            `json:"evaluation_confidence,omitempty"`
	EvaluationDetails    *EvaluationDetails `json:"evaluation_details,omitempty"`
	UserSelected         bool               `json:"user_selected"`
	GenerationTimeMs     int64              `json:"generation_time_ms"`
	ErrorMessage         string             `json:"error_message,omitempty"`
	CreatedAt            time.Time          `json:"created_at,omitempty"`
}

// Succeeded reports whether the attempt produced an output image.
func (a Attempt) Succeeded() bool { return a.OutputImageRef != "" && a.ErrorMessage == "" }

// EvaluationDetails is the structured verdict returned by the judge model.
type EvaluationDetails struct {
	HairColorChanged   bool    `json:"hairColorChanged"`
	HairLengthChanged  bool    `json:"hairLengthChanged"`
	HairTextureChanged bool    `json:"hairTextureChanged"`
	HairStyleChanged   bool    `json:"hairStyleChanged"`
	OverallSimilarity  float64 `json:"overallSimilarity"`
}

// ChangeCount returns how many of the four hair attributes the judge
// reported as changed.
func (d EvaluationDetails) ChangeCount() int {
	n := 0
	for _, changed := range []bool{d.HairColorChanged, d.HairLengthChanged, d.HairTextureChanged, d.HairStyleChanged} {
		if changed {
			n++
		}
	}
	return n
}

// Evaluation is the pass/fail verdict plus the derived confidence for one
// generated image.
type Evaluation struct {
	Passed     bool              `json:"passed"`
	Confidence float64           `json:"confidence"`
	Reason     string            `json:"reason"`
	Details    EvaluationDetails `json:"details"`
}

// Image is an in-memory image blob with its MIME type.
type Image struct {
	MIME string
	Data []byte
}

// IsZero reports whether the image carries no data.
func (im Image) IsZero() bool { return len(im.Data) == 0 }

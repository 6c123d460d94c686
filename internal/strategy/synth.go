package strategy

import (
	"fmt"
	"time"
)

// sessionTemplate is the proven baseline prompt used for dynamically
// synthesized strategies: pass both images and ask for an exact copy of the
// reference hair.
const sessionTemplate = `Transform the person's hairstyle to match the reference hairstyle exactly. Keep their face, skin tone, and background the same. Only change the hair to match the reference.`

// SynthesizeForSession builds n fresh exploration strategies for one
// session, all at the neutral seed score and active. IDs are assigned by the
// registry on insertion.
func SynthesizeForSession(sessionID string, n int) []Strategy {
	if n <= 0 {
		n = 1
	}
	ts := time.Now().UnixMilli()
	out := make([]Strategy, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Strategy{
			Name:              fmt.Sprintf("dynamic-%d-%d", ts, i),
			Model:             DefaultModel,
			PromptTemplate:    sessionTemplate,
			Score:             SeedScore,
			IsActive:          true,
			CreatedForSession: sessionID,
		})
	}
	return out
}

// SynthesizeReplacements builds n replacement strategies for an evolution
// cycle. Replacements rotate through the seed phrasing styles so a retired
// style family gets another chance with a fresh score.
func SynthesizeReplacements(n int, generation int) []Strategy {
	if n <= 0 {
		return nil
	}
	seeds := Defaults()
	ts := time.Now().UnixMilli()
	out := make([]Strategy, 0, n)
	for i := 0; i < n; i++ {
		seed := seeds[(generation+i)%len(seeds)]
		out = append(out, Strategy{
			Name:           fmt.Sprintf("evolved-%d-%s-%d", ts, seed.Name, i),
			Model:          seed.Model,
			PromptTemplate: seed.PromptTemplate,
			Score:          SeedScore,
			IsActive:       true,
		})
	}
	return out
}

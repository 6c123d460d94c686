package strategy

// DefaultModel is the image-capable model every seed strategy targets.
const DefaultModel = "gemini-2.5-flash-image"

// SeedScore is the neutral fitness every new strategy starts from.
const SeedScore = 0.5

// Defaults returns the fixed fallback strategy set. It is used to bootstrap
// an empty registry and whenever the registry is unreachable, so the engine
// is never left with zero strategies. The four templates deliberately use
// distinct phrasing styles.
func Defaults() []Strategy {
	return []Strategy{
		{
			ID:    "default-1",
			Name:  "explicit-description",
			Model: DefaultModel,
			PromptTemplate: `Look at the reference hairstyle in the second image and describe it to yourself: its cut, color, length, texture, and styling.

Now, take the person in the first image and give them EXACTLY this hairstyle. Change the hair cut, color, length, texture, and styling to match the reference COMPLETELY. Make it dramatic and obvious.

The face, skin, clothing and background should stay the same. Only change the hair.`,
			Score:    SeedScore,
			IsActive: true,
		},
		{
			ID:    "default-2",
			Name:  "step-by-step",
			Model: DefaultModel,
			PromptTemplate: `Task: Hairstyle transformation

Step 1: Identify the person in the first image
Step 2: Analyze the hairstyle in the second reference image
Step 3: Remove the current hair from person in first image
Step 4: Apply the reference hairstyle from second image onto person from first image
Step 5: Match the color, texture, length, and styling EXACTLY

Result: Person from image 1 with hairstyle from image 2. Face unchanged.`,
			Score:    SeedScore,
			IsActive: true,
		},
		{
			ID:    "default-3",
			Name:  "aggressive-transform",
			Model: DefaultModel,
			PromptTemplate: `TRANSFORM THIS HAIR COMPLETELY.

Original: Image 1 - person with current hairstyle
Reference: Image 2 - target hairstyle to achieve

CHANGE THE HAIR TO MATCH IMAGE 2: cut, color, length, texture, and styling.
DO NOT be subtle. Make the change DRAMATIC and OBVIOUS. The hair should look completely different.
Face, body, clothing, background = keep identical.
Hair = make it match reference completely.`,
			Score:    SeedScore,
			IsActive: true,
		},
		{
			ID:    "default-4",
			Name:  "photo-editor",
			Model: DefaultModel,
			PromptTemplate: `You are a professional photo editor. Edit the first photo by changing only the hair.

Study the target hairstyle in image 2: its cut, color, style, and texture.

Apply this hairstyle to the person in image 1. Make it look natural but clearly different. This is a hairstyle preview/mockup.`,
			Score:    SeedScore,
			IsActive: true,
		},
	}
}

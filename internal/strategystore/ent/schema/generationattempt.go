package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
)

// GenerationAttempt holds the schema definition for the GenerationAttempt entity.
type GenerationAttempt struct {
	ent.Schema
}

// Fields of the GenerationAttempt.
func (GenerationAttempt) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("session_id"),
		field.String("strategy_id"),
		field.String("strategy_name").
			Default(""),
		field.String("reference_image_ref").
			Default(""),
		field.String("output_image_ref").
			Default(""),
		field.Bool("evaluation_passed").
			Optional().
			Nillable(),
		field.Float("evaluation_confidence").
			Default(0),
		field.JSON("evaluation_details", map[string]any{}).
			Optional(),
		field.Bool("user_selected").
			Default(false),
		field.Int64("generation_time_ms").
			Default(0),
		field.String("error_message").
			Default(""),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the GenerationAttempt.
func (GenerationAttempt) Edges() []ent.Edge {
	return nil
}

package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
)

// GenerationStrategy holds the schema definition for the GenerationStrategy entity.
type GenerationStrategy struct {
	ent.Schema
}

// Fields of the GenerationStrategy.
func (GenerationStrategy) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("name"),
		field.String("model").
			Default(""),
		field.Text("prompt_template"),
		field.Float("score").
			Default(0.5),
		field.Int("win_count").
			Default(0),
		field.Int("usage_count").
			Default(0),
		field.Bool("is_active").
			Default(true),
		field.String("created_for_session").
			Default(""),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the GenerationStrategy.
func (GenerationStrategy) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("attempts", GenerationAttempt.Type),
	}
}

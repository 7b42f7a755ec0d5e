package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docparser/constants"
	"github.com/joseph-ayodele/docparser/db/ent/schema/utils"
)

type Document struct{ ent.Schema }

func (Document) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "documents"},
	}
}

func (Document) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			MaxLen(36).
			DefaultFunc(uuid.NewString).
			Immutable(),
		field.String("original_filename").NotEmpty(),
		field.String("stored_pdf_path").NotEmpty(),
		field.String("sha256").
			MaxLen(64).
			SchemaType(map[string]string{dialect.Postgres: "char(64)"}),
		field.String("status").
			Default(string(constants.DocumentStatusQueued)).
			Validate(utils.EnumValidator(constants.DocumentStatuses...)),
		field.Int("page_count").Optional().Nillable(),
		field.Int("invoice_count").Default(0),
		field.Bool("translate_to_english").Default(false),
		field.String("error_message").Optional().Nillable().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Int64("total_time_ms").Optional().Nillable(),
		field.String("json_path").Optional().Nillable(),
		field.Time("created_at").Default(time.Now).Immutable(),
		field.Time("updated_at").Default(time.Now).UpdateDefault(time.Now),
	}
}

func (Document) Edges() []ent.Edge {
	return []ent.Edge{
		// ONE document -> MANY pages
		edge.To("pages", Page.Type),
		// ONE document -> MANY invoices
		edge.To("invoices", Invoice.Type),
		// ONE document -> ONE job
		edge.To("job", Job.Type).Unique(),
	}
}

func (Document) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("sha256"),
		index.Fields("status", "created_at"),
	}
}

package schema

import (
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

type Page struct{ ent.Schema }

func (Page) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "pages"},
	}
}

func (Page) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			MaxLen(36).
			DefaultFunc(uuid.NewString).
			Immutable(),
		field.String("document_id").MaxLen(36),
		field.Int("page_index").NonNegative().Immutable(),
		field.String("image_path").Optional().Nillable(),
		field.String("extracted_text_path").Optional().Nillable(),
		// first 500 characters of the extracted text
		field.String("extracted_text_preview").Optional().Nillable().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Int64("page_time_ms").Optional().Nillable(),
		field.String("status").
			Default(string(constants.PageStatusPending)).
			Validate(utils.EnumValidator(constants.PageStatuses...)),
		field.String("raw_json_path").Optional().Nillable(),
		field.String("error_message").Optional().Nillable().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
	}
}

func (Page) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("document", Document.Type).
			Ref("pages").
			Field("document_id").
			Unique().
			Required(),
	}
}

func (Page) Indexes() []ent.Index {
	return []ent.Index{
		// page indices are dense and unique per document
		index.Fields("document_id", "page_index").Unique(),
	}
}

package schema

import (
	"encoding/json"
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
	"github.com/google/uuid"
)

type Invoice struct{ ent.Schema }

func (Invoice) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "invoices"},
	}
}

func (Invoice) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			MaxLen(36).
			DefaultFunc(uuid.NewString).
			Immutable(),
		field.String("document_id").MaxLen(36),
		field.Int("invoice_index").NonNegative(),
		field.Int("start_page").Positive(),
		field.Int("end_page").Positive(),
		field.String("document_number").Optional().Nillable(),
		field.JSON("reference_numbers_json", []string{}).Optional(),
		field.String("issue_date").Optional().Nillable(),
		field.String("supplier_name").Optional().Nillable(),
		field.String("customer_name").Optional().Nillable(),
		field.Float("gross_amount").
			Optional().Nillable().
			SchemaType(map[string]string{dialect.Postgres: "numeric(14,2)"}),
		field.String("currency").Optional().Nillable(),
		field.String("json_path").Optional().Nillable(),
		field.JSON("result_json", json.RawMessage{}).Optional(),
		field.Time("created_at").Default(time.Now).Immutable(),
	}
}

func (Invoice) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("document", Document.Type).
			Ref("invoices").
			Field("document_id").
			Unique().
			Required(),
	}
}

func (Invoice) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("document_id", "invoice_index"),
		index.Fields("document_number"),
	}
}

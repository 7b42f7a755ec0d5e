package repository

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"entgo.io/ent"
	"entgo.io/ent/dialect"
	entsqlann "entgo.io/ent/dialect/entsql"
	"entgo.io/ent/dialect/sql/schema"

	dbschema "github.com/joseph-ayodele/docparser/db/ent/schema"
)

// Table names shared by the repositories.
const (
	documentsTable = "documents"
	pagesTable     = "pages"
	invoicesTable  = "invoices"
	jobsTable      = "jobs"
)

// entSchemas are the ent types the runtime tables are built from.
var entSchemas = []ent.Interface{
	dbschema.Document{},
	dbschema.Page{},
	dbschema.Invoice{},
	dbschema.Job{},
}

// BuildTables converts ent schema descriptors into migration tables, following
// the naming entc uses for migrate.Tables: indexes are <type>_<fields> and
// foreign keys are <table>_<reftable>_<ref>. Owned rows cascade on delete.
func BuildTables(types ...ent.Interface) ([]*schema.Table, error) {
	byType := make(map[string]*schema.Table, len(types))
	out := make([]*schema.Table, 0, len(types))
	for _, s := range types {
		t, err := buildTable(s)
		if err != nil {
			return nil, err
		}
		byType[typeName(s)] = t
		out = append(out, t)
	}

	for _, s := range types {
		t := byType[typeName(s)]
		for _, e := range s.Edges() {
			d := e.Descriptor()
			if !d.Inverse || d.Field == "" {
				continue
			}
			ref, ok := byType[d.Type]
			if !ok {
				return nil, fmt.Errorf("%s.%s: edge to unknown type %s", t.Name, d.Name, d.Type)
			}
			col, ok := t.Column(d.Field)
			if !ok {
				return nil, fmt.Errorf("%s.%s: edge field %s is not a column", t.Name, d.Name, d.Field)
			}
			t.AddForeignKey(&schema.ForeignKey{
				Symbol:     t.Name + "_" + ref.Name + "_" + d.RefName,
				Columns:    []*schema.Column{col},
				RefTable:   ref,
				RefColumns: ref.PrimaryKey,
				OnDelete:   schema.Cascade,
			})
		}
	}
	return out, nil
}

func buildTable(s ent.Interface) (*schema.Table, error) {
	name := typeName(s)
	t := schema.NewTable(tableName(s))

	for _, f := range s.Fields() {
		d := f.Descriptor()
		if d.Err != nil {
			return nil, fmt.Errorf("%s.%s: %w", name, d.Name, d.Err)
		}
		col := &schema.Column{
			Name:       d.Name,
			Type:       d.Info.Type,
			Size:       int64(d.Size),
			Unique:     d.Unique,
			Nullable:   d.Optional,
			SchemaType: d.SchemaType,
		}
		if d.StorageKey != "" {
			col.Name = d.StorageKey
		}
		// function defaults (uuid, time.Now) are applied by the repositories
		if d.Default != nil && reflect.TypeOf(d.Default).Kind() != reflect.Func {
			col.Default = d.Default
		}
		if col.Name == "id" {
			t.AddPrimary(col)
			continue
		}
		t.AddColumn(col)
	}
	if len(t.PrimaryKey) == 0 {
		return nil, fmt.Errorf("%s: no id field", name)
	}

	for _, idx := range s.Indexes() {
		d := idx.Descriptor()
		for _, f := range d.Fields {
			if !t.HasColumn(f) {
				return nil, fmt.Errorf("%s: index on unknown column %s", name, f)
			}
		}
		key := d.StorageKey
		if key == "" {
			key = strings.ToLower(name) + "_" + strings.Join(d.Fields, "_")
		}
		t.AddIndex(key, d.Unique, d.Fields)
	}
	return t, nil
}

func typeName(s ent.Interface) string {
	return reflect.Indirect(reflect.ValueOf(s)).Type().Name()
}

// tableName honors the entsql table annotation and falls back to the plural snake case.
func tableName(s ent.Interface) string {
	for _, a := range s.Annotations() {
		switch ann := a.(type) {
		case entsqlann.Annotation:
			if ann.Table != "" {
				return ann.Table
			}
		case *entsqlann.Annotation:
			if ann != nil && ann.Table != "" {
				return ann.Table
			}
		}
	}
	return strings.ToLower(typeName(s)) + "s"
}

// Migrate creates or updates the tables. Columns and indexes are never dropped.
func (d *DB) Migrate(ctx context.Context) error {
	tables, err := BuildTables(entSchemas...)
	if err != nil {
		return fmt.Errorf("build tables: %w", err)
	}
	m, err := schema.NewMigrate(d.drv)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	if err := m.Create(ctx, tables...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	d.logger.Info("database migrated", "dialect", d.drv.Dialect(), "tables", len(tables))
	return nil
}

// Dialect returns the ent dialect name of the open database.
func (d *DB) Dialect() string {
	if d.drv == nil {
		return dialect.SQLite
	}
	return d.drv.Dialect()
}

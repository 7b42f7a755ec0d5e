//go:build ignore

// Generates typed ent clients from db/ent/schema into gen/ent.
// The service builds its migration tables from these schemas at startup
// (repository.BuildTables) and queries with the dialect/sql builders.
//
//	go run ./db/ent/generate.go
package main

import (
	"log"

	"entgo.io/ent/entc"
	"entgo.io/ent/entc/gen"
)

func main() {
	err := entc.Generate(
		"./db/ent/schema",
		&gen.Config{
			Target:   "gen/ent",
			Package:  "github.com/joseph-ayodele/docparser/gen/ent",
			Features: []gen.Feature{gen.FeatureUpsert},
		},
	)
	if err != nil {
		log.Fatal(err)
	}
}

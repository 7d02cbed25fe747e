package demo

import (
	_ "embed"

	"github.com/absmach/flclient/pkg/schema"
)

//go:embed schema.cue
var schemaSource string

var (
	ModelSchema = schema.MustCompile(schemaSource, "#Model")
	DataSchema  = schema.MustCompile(schemaSource, "#Data")
	CSVSchema   = schema.MustCompile(schemaSource, "#CSV")
)

package report

import (
	"io"

	"github.com/dump-correlator/pkg/writer"
)

// RenderJSON writes doc as an indented JSON document.
func RenderJSON(w io.Writer, doc *Document) error {
	return writer.NewPrettyJSONWriter[*Document]().Write(doc, w)
}

// Marshal returns doc as compact JSON, the form stored in the archive.
func Marshal(doc *Document) ([]byte, error) {
	return writer.NewJSONWriter[*Document]().Marshal(doc)
}

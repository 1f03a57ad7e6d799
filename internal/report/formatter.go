package report

import (
	"fmt"
	"io"
	"sort"
)

// Formatter renders a Document in one output format.
type Formatter interface {
	// Name is the value accepted by --format and the format query parameter.
	Name() string
	// ContentType is the media type of the output.
	ContentType() string
	Format(w io.Writer, doc *Document) error
}

// TextFormatter renders the plain text report.
type TextFormatter struct{}

func (f *TextFormatter) Name() string        { return "text" }
func (f *TextFormatter) ContentType() string { return "text/plain; charset=utf-8" }

// Format writes the plain text report.
func (f *TextFormatter) Format(w io.Writer, doc *Document) error {
	_, err := io.WriteString(w, Render(doc.Findings))
	return err
}

// StyledFormatter renders the terminal report.
type StyledFormatter struct{}

func (f *StyledFormatter) Name() string        { return "styled" }
func (f *StyledFormatter) ContentType() string { return "text/plain; charset=utf-8" }

// Format writes the coloured report.
func (f *StyledFormatter) Format(w io.Writer, doc *Document) error {
	_, err := io.WriteString(w, RenderStyled(doc.Findings))
	return err
}

// JSONFormatter renders the JSON summary document.
type JSONFormatter struct{}

func (f *JSONFormatter) Name() string        { return "json" }
func (f *JSONFormatter) ContentType() string { return "application/json" }

// Format writes the JSON document.
func (f *JSONFormatter) Format(w io.Writer, doc *Document) error {
	return RenderJSON(w, doc)
}

// Registry manages formatter instances.
type Registry struct {
	formatters map[string]Formatter
	fallback   Formatter
}

// NewRegistry creates a registry with the text, styled and json formatters.
// Text is the fallback.
func NewRegistry() *Registry {
	r := &Registry{
		formatters: make(map[string]Formatter),
		fallback:   &TextFormatter{},
	}
	r.Register(&TextFormatter{})
	r.Register(&StyledFormatter{})
	r.Register(&JSONFormatter{})
	return r
}

// Register registers a formatter under its name.
func (r *Registry) Register(f Formatter) {
	r.formatters[f.Name()] = f
}

// Get returns the formatter for name. An empty name selects the fallback.
func (r *Registry) Get(name string) (Formatter, error) {
	if name == "" {
		return r.fallback, nil
	}
	if f, ok := r.formatters[name]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("unknown report format %q (available: %v)", name, r.Names())
}

// Names returns the registered format names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.formatters))
	for name := range r.formatters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Format renders doc with the named formatter.
func (r *Registry) Format(w io.Writer, name string, doc *Document) error {
	f, err := r.Get(name)
	if err != nil {
		return err
	}
	return f.Format(w, doc)
}

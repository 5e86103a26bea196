package codec

import (
	"context"
	"encoding/xml"
	"io"

	"github.com/beevik/etree"

	"github.com/rezonia/einvoice-engine/internal/model"
)

// Dialect serializes and parses one XML invoice standard
type Dialect interface {
	// Format returns the dialect identifier
	Format() Format

	// Matches reports whether a document with this root belongs to the dialect
	Matches(root xml.Name) bool

	// Build renders the invoice as a detached root element
	Build(inv model.Invoice) (*etree.Element, error)

	// Parse reads a document of this dialect into the neutral model
	Parse(ctx context.Context, r io.Reader) (model.Invoice, error)
}

// Registry holds the known dialects. Detection is a linear scan in
// registration order.
type Registry struct {
	dialects []Dialect
}

// NewRegistry creates registry with the built-in dialects
func NewRegistry() *Registry {
	return &Registry{
		dialects: []Dialect{
			NewFacturae(),
			NewUBL(),
		},
	}
}

// Detect identifies the dialect of content
func (r *Registry) Detect(content []byte) (Dialect, error) {
	root, err := RootName(content)
	if err != nil {
		return nil, model.NewParseError(string(FormatUnknown), "root", "malformed XML", err)
	}
	for _, d := range r.dialects {
		if d.Matches(root) {
			return d, nil
		}
	}
	return nil, model.NewConversionError(string(FormatUnknown), "",
		"unknown XML format, no matching dialect for root {"+root.Space+"}"+root.Local, nil)
}

// Register adds a custom dialect to the registry
func (r *Registry) Register(d Dialect) {
	// Custom dialects take priority over built-in ones
	r.dialects = append([]Dialect{d}, r.dialects...)
}

// Lookup returns the dialect for a format, or nil
func (r *Registry) Lookup(f Format) Dialect {
	for _, d := range r.dialects {
		if d.Format() == f {
			return d
		}
	}
	return nil
}

// Formats lists registered formats in detection order
func (r *Registry) Formats() []Format {
	out := make([]Format, len(r.dialects))
	for i, d := range r.dialects {
		out[i] = d.Format()
	}
	return out
}

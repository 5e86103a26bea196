// Package codec converts between the neutral invoice model and the
// supported XML dialects (Facturae 3.2.2 and UBL 2.1).
package codec

import (
	"bytes"
	"context"
	"regexp"
	"time"

	"github.com/beevik/etree"
	"github.com/sirupsen/logrus"

	"github.com/rezonia/einvoice-engine/internal/model"
)

const stampPrefix = "generated-at:"

var stampPattern = regexp.MustCompile(`<!--` + stampPrefix + `[^>]*-->\r?\n?`)

// Codec generates, detects, parses and converts invoice documents
type Codec struct {
	registry *Registry
	now      func() time.Time
	logger   logrus.FieldLogger
}

// Option configures a Codec
type Option func(*Codec)

// WithRegistry replaces the dialect registry
func WithRegistry(r *Registry) Option {
	return func(c *Codec) {
		c.registry = r
	}
}

// WithClock sets the clock used for the generation stamp
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Codec) {
		c.logger = l
	}
}

// New creates a codec with the built-in dialects
func New(opts ...Option) *Codec {
	c := &Codec{
		registry: NewRegistry(),
		now:      time.Now,
		logger:   logrus.StandardLogger().WithField("component", "codec"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry exposes the dialect registry
func (c *Codec) Registry() *Registry {
	return c.registry
}

// Generate serializes inv into the target dialect. Output is byte-identical
// for equal input except for the single generated-at comment node.
func (c *Codec) Generate(inv model.Invoice, target Format) ([]byte, error) {
	d := c.registry.Lookup(target)
	if d == nil {
		return nil, model.NewConversionError("model", string(target), "unsupported target format", nil)
	}

	root, err := d.Build(inv)
	if err != nil {
		return nil, model.NewConversionError("model", string(target), "build document", err)
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.CreateComment(stampPrefix + c.now().UTC().Format(time.RFC3339))
	doc.SetRoot(root)
	doc.Indent(2)

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, model.NewConversionError("model", string(target), "write document", err)
	}

	c.logger.WithFields(logrus.Fields{
		"format":  target,
		"invoice": inv.Number,
		"bytes":   len(out),
	}).Debug("Generated invoice document")

	return out, nil
}

// DetectFormat inspects the root element. Non-XML and unrecognized input
// yield FormatUnknown.
func (c *Codec) DetectFormat(content []byte) Format {
	d, err := c.registry.Detect(content)
	if err != nil {
		return FormatUnknown
	}
	return d.Format()
}

// ToNeutralModel parses either supported dialect. An unrecognized root fails
// with *model.ConversionError, malformed XML with *model.ParseError.
func (c *Codec) ToNeutralModel(ctx context.Context, content []byte) (model.Invoice, error) {
	d, err := c.registry.Detect(content)
	if err != nil {
		return model.Invoice{}, err
	}
	return d.Parse(ctx, bytes.NewReader(content))
}

// ConvertTo parses content into the neutral model and serializes it to target
func (c *Codec) ConvertTo(ctx context.Context, content []byte, target Format) ([]byte, error) {
	if c.registry.Lookup(target) == nil {
		return nil, model.NewConversionError(string(c.DetectFormat(content)), string(target), "unsupported target format", nil)
	}

	inv, err := c.ToNeutralModel(ctx, content)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"invoice": inv.Number,
		"target":  target,
	}).Debug("Converting invoice")

	return c.Generate(inv, target)
}

// StripGenerationStamp removes the generated-at comment so two generations
// of the same invoice compare equal.
func StripGenerationStamp(content []byte) []byte {
	return stampPattern.ReplaceAll(content, nil)
}

// GenerationStamp returns the time recorded in the generated-at comment
func GenerationStamp(content []byte) (time.Time, bool) {
	m := stampPattern.Find(content)
	if m == nil {
		return time.Time{}, false
	}
	s := string(bytes.TrimSpace(m))
	s = s[len("<!--"+stampPrefix) : len(s)-len("-->")]
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

package validation

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/rezonia/einvoice-engine/internal/codec"
)

// ErrSchemaUnavailable means no schema (or no tool to apply it) is installed
// for the requested format. The structural layer then degrades to a
// well-formedness check.
var ErrSchemaUnavailable = errors.New("schema unavailable")

// SchemaValidator validates a document against its XSD
type SchemaValidator interface {
	ValidateSchema(ctx context.Context, content []byte, format codec.Format) error
}

// SchemaError carries the individual schema violations
type SchemaError struct {
	Schema   string
	Messages []string
}

func (e *SchemaError) Error() string {
	return "schema validation failed against " + filepath.Base(e.Schema) + ": " + strings.Join(e.Messages, "; ")
}

// Schema file names looked up in the schema directory (and its maindoc/
// subdirectory, the layout of the OASIS UBL distribution).
var schemaFiles = map[string]string{
	"Facturae":   "Facturaev3_2_2.xsd",
	"Invoice":    "UBL-Invoice-2.1.xsd",
	"CreditNote": "UBL-CreditNote-2.1.xsd",
}

// XmllintValidator applies XSDs with the external xmllint tool
type XmllintValidator struct {
	schemaDir   string
	xmllintPath string
	available   bool
	timeout     time.Duration
}

// XmllintOption configures an XmllintValidator
type XmllintOption func(*XmllintValidator)

// WithXmllintPath overrides the xmllint binary location
func WithXmllintPath(path string) XmllintOption {
	return func(v *XmllintValidator) {
		v.xmllintPath = path
		_, err := os.Stat(path)
		v.available = err == nil
	}
}

// WithSchemaTimeout bounds a single xmllint run
func WithSchemaTimeout(d time.Duration) XmllintOption {
	return func(v *XmllintValidator) {
		v.timeout = d
	}
}

// NewXmllintValidator creates a validator reading XSDs from schemaDir. An
// empty schemaDir makes every call return ErrSchemaUnavailable.
func NewXmllintValidator(schemaDir string, opts ...XmllintOption) *XmllintValidator {
	path, err := exec.LookPath("xmllint")
	v := &XmllintValidator{
		schemaDir:   schemaDir,
		xmllintPath: path,
		available:   err == nil,
		timeout:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// IsAvailable reports whether xmllint was found
func (v *XmllintValidator) IsAvailable() bool {
	return v.available
}

// ValidateSchema runs xmllint --schema on content
func (v *XmllintValidator) ValidateSchema(ctx context.Context, content []byte, format codec.Format) error {
	if !v.available || v.schemaDir == "" || format == codec.FormatUnknown {
		return ErrSchemaUnavailable
	}

	schema, err := v.schemaFor(content)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, v.xmllintPath, "--noout", "--nonet", "--schema", schema, "-")
	cmd.Stdin = bytes.NewReader(content)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), "xmllint")
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return errors.Wrap(err, "run xmllint")
		}
		return &SchemaError{Schema: schema, Messages: xmllintMessages(stderr.String())}
	}
	return nil
}

func (v *XmllintValidator) schemaFor(content []byte) (string, error) {
	root, err := codec.RootName(content)
	if err != nil {
		return "", errors.Wrap(err, "read root element")
	}
	name, ok := schemaFiles[root.Local]
	if !ok {
		return "", ErrSchemaUnavailable
	}
	for _, candidate := range []string{
		filepath.Join(v.schemaDir, name),
		filepath.Join(v.schemaDir, "maindoc", name),
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", ErrSchemaUnavailable
}

// xmllintMessages keeps the per-violation lines and drops the summary
func xmllintMessages(stderr string) []string {
	var out []string
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasSuffix(line, "fails to validate") || strings.HasSuffix(line, "validates") {
			continue
		}
		out = append(out, line)
	}
	if len(out) == 0 {
		out = []string{"document does not conform to schema"}
	}
	return out
}

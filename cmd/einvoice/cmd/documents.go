package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/einvoice-engine/internal/codec"
	"github.com/rezonia/einvoice-engine/internal/validation"
)

var (
	convertTarget  string
	convertOutput  string
	validateFormat string
	docTimeout     time.Duration
)

var detectCmd = &cobra.Command{
	Use:   "detect [files...]",
	Short: "Identify the invoice dialect of XML documents",
	Example: `  einvoice detect invoice.xsig
  einvoice detect invoices/ -f json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDetect,
}

var convertCmd = &cobra.Command{
	Use:   "convert <file>",
	Short: "Convert a document between Facturae and UBL",
	Long: `Convert parses the document into the neutral invoice model and writes it
in the target dialect. Signatures are not carried over.`,
	Example: `  einvoice convert invoice.xsig --target ubl -o invoice.xml
  cat invoice.xml | einvoice convert - --target facturae`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

var validateCmd = &cobra.Command{
	Use:   "validate [files...]",
	Short: "Validate invoice documents",
	Long: `Validate runs the structural (XSD) and business-rule layers. Without
SCHEMA_DIR or xmllint the structural layer only checks well-formedness and
the result is reported as degraded.`,
	Example: `  einvoice validate invoice.xsig
  einvoice validate --as ubl invoices/*.xml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(detectCmd, convertCmd, validateCmd)

	convertCmd.Flags().StringVarP(&convertTarget, "target", "t", "ubl", "Target format (facturae, ubl)")
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "Output file (default: stdout)")

	validateCmd.Flags().StringVar(&validateFormat, "as", "", "Validate as this format instead of detecting it")

	for _, c := range []*cobra.Command{convertCmd, validateCmd} {
		c.Flags().DurationVar(&docTimeout, "timeout", 30*time.Second, "Timeout per document")
	}
}

// DetectResult is the detect output for one file
type DetectResult struct {
	File   string `json:"file"`
	Format string `json:"format"`
	Root   string `json:"root,omitempty"`
	Error  string `json:"error,omitempty"`
}

func runDetect(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return err
	}

	c := newCodec()
	results := make([]DetectResult, 0, len(files))
	for _, file := range files {
		r := DetectResult{File: file, Format: string(codec.FormatUnknown)}
		data, err := readInput(file)
		if err != nil {
			r.Error = err.Error()
		} else {
			r.Format = string(c.DetectFormat(data))
			if name, err := codec.RootName(data); err == nil {
				r.Root = name.Local
			} else {
				r.Error = err.Error()
			}
		}
		results = append(results, r)
	}

	if outputFormat == "json" {
		return printJSON(results)
	}
	for _, r := range results {
		if r.Error != "" {
			fmt.Printf("%s: %s (%s)\n", r.File, r.Format, r.Error)
			continue
		}
		fmt.Printf("%s: %s\n", r.File, r.Format)
	}
	return nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	target, err := codec.ParseFormat(convertTarget)
	if err != nil {
		return err
	}
	data, err := readInput(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), docTimeout)
	defer cancel()

	out, err := newCodec().ConvertTo(ctx, data, target)
	if err != nil {
		return err
	}
	return writeOutput(convertOutput, out)
}

// ValidateResult is the validate output for one file
type ValidateResult struct {
	File   string `json:"file"`
	Format string `json:"format"`
	validation.Result
}

func runValidate(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return err
	}

	var forced codec.Format
	if validateFormat != "" {
		if forced, err = codec.ParseFormat(validateFormat); err != nil {
			return err
		}
	}

	c := newCodec()
	v := newValidator()
	results := make([]ValidateResult, 0, len(files))
	allValid := true

	for _, file := range files {
		printVerbose("Validating: %s\n", file)
		data, err := readInput(file)
		if err != nil {
			results = append(results, ValidateResult{File: file, Result: validation.Failed(validation.LayerStructural, err.Error())})
			allValid = false
			continue
		}

		format := forced
		if format == "" {
			format = c.DetectFormat(data)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), docTimeout)
		res := v.Validate(ctx, data, format)
		cancel()

		results = append(results, ValidateResult{File: file, Format: string(format), Result: res})
		allValid = allValid && res.Valid
	}

	if outputFormat == "json" {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			status := "VALID"
			if !r.Valid {
				status = "INVALID"
			}
			fmt.Printf("%s %s: %s (%s, %s layer)\n", mark(r.Valid), r.File, status, r.Format, r.Layer)
			for _, e := range r.Errors {
				fmt.Printf("  ✗ %s\n", e)
			}
			for _, w := range r.Warnings {
				fmt.Printf("  ⚠ %s\n", w)
			}
		}
	}

	if !allValid {
		return fmt.Errorf("validation failed for some files")
	}
	return nil
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/einvoice-engine/internal/codec"
	"github.com/rezonia/einvoice-engine/internal/delivery"
	"github.com/rezonia/einvoice-engine/internal/processor"
)

var (
	processTenant string
	processTarget string
	processOutput string
	timeout       time.Duration
)

var processCmd = &cobra.Command{
	Use:   "process <invoice.json>",
	Short: "Build, validate, sign and submit an invoice",
	Long: `Process reads invoice data as a JSON object and runs the full pipeline:

  1. Model checks (required fields, tax IDs, IBAN, DIR3 centres, totals)
  2. Serialization to the target dialect
  3. Structural and business-rule validation
  4. XAdES-EPES signing with the tenant's certificate
  5. Submission to the tenant's registry (FACe, FACeB2B or the stub)

Processing stops at the first stage that fails. Every registry call is
written to the delivery log.`,
	Example: `  einvoice process invoice.json --tenant acme
  einvoice process invoice.json --tenant acme --target ubl -o signed.xml -f json`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringVar(&processTenant, "tenant", "", "Tenant submitting the invoice")
	processCmd.Flags().StringVarP(&processTarget, "target", "t", "facturae", "Document format (facturae, ubl)")
	processCmd.Flags().StringVarP(&processOutput, "output", "o", "", "Write the signed document to this file")
	processCmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Processing timeout")
	_ = processCmd.MarkFlagRequired("tenant")
}

// ProcessOutput is the process command's JSON output
type ProcessOutput struct {
	*processor.Result
	Error    string           `json:"error,omitempty"`
	Delivery []delivery.Entry `json:"delivery,omitempty"`
}

func runProcess(cmd *cobra.Command, args []string) error {
	target, err := codec.ParseFormat(processTarget)
	if err != nil {
		return err
	}
	raw, err := readInput(args[0])
	if err != nil {
		return err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("invoice data must be a JSON object: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	res, procErr := e.pipeline.ProcessInvoice(ctx, data, target, processTenant)
	if len(res.SignedXML) > 0 && processOutput != "" {
		if err := writeOutput(processOutput, res.SignedXML); err != nil {
			return err
		}
	}

	out := ProcessOutput{Result: res, Delivery: e.memory.Entries()}
	if procErr != nil {
		out.Error = procErr.Error()
	}

	if outputFormat == "json" {
		if err := printJSON(out); err != nil {
			return err
		}
	} else {
		printProcess(out)
	}

	if procErr != nil {
		return procErr
	}
	if !res.OK() {
		return fmt.Errorf("invoice stopped at stage %s", res.Stage)
	}
	return nil
}

func printProcess(out ProcessOutput) {
	fmt.Printf("%s %s: stage %s\n", mark(out.OK()), out.DocumentID, out.Stage)
	for _, e := range out.Validation.Errors {
		fmt.Printf("  ✗ %s\n", e)
	}
	for _, w := range out.Validation.Warnings {
		fmt.Printf("  ⚠ %s\n", w)
	}
	if out.Error != "" {
		fmt.Printf("  ✗ %s\n", out.Error)
	}
	if s := out.Submission; s != nil {
		fmt.Printf("  Channel:  %s\n", s.Channel)
		if s.RegistryNumber != "" {
			fmt.Printf("  Registry: %s\n", s.RegistryNumber)
		}
		fmt.Printf("  State:    %s\n", s.State)
		if s.ErrorCode != "" {
			fmt.Printf("  Rejected: [%s] %s\n", s.ErrorCode, s.ErrorMessage)
		}
	}
	for _, entry := range out.Delivery {
		printVerbose("  log %s %s %s (%d ms)\n", entry.ID, entry.Operation, entry.Channel, entry.DurationMs)
	}
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/einvoice-engine/internal/gateway"
)

var (
	subTenant    string
	subDocument  string
	cancelReason string
	subTimeout   time.Duration
)

var statusCmd = &cobra.Command{
	Use:     "status <registry-number>",
	Short:   "Query the registry status of a submitted invoice",
	Example: `  einvoice status REG-2026-000123 --tenant acme`,
	Args:    cobra.ExactArgs(1),
	RunE:    runStatus,
}

var cancelCmd = &cobra.Command{
	Use:     "cancel <registry-number>",
	Short:   "Ask the registry to cancel a submitted invoice",
	Example: `  einvoice cancel REG-2026-000123 --tenant acme --reason "duplicated invoice"`,
	Args:    cobra.ExactArgs(1),
	RunE:    runCancel,
}

func init() {
	rootCmd.AddCommand(statusCmd, cancelCmd)

	for _, c := range []*cobra.Command{statusCmd, cancelCmd} {
		c.Flags().StringVar(&subTenant, "tenant", "", "Tenant that submitted the invoice")
		c.Flags().StringVar(&subDocument, "document", "", "Document ID for the delivery log (default: registry number)")
		c.Flags().DurationVar(&subTimeout, "timeout", time.Minute, "Request timeout")
		_ = c.MarkFlagRequired("tenant")
	}
	cancelCmd.Flags().StringVar(&cancelReason, "reason", "", "Cancellation reason sent to the registry")
	_ = cancelCmd.MarkFlagRequired("reason")
}

func documentID(registry string) string {
	if subDocument != "" {
		return subDocument
	}
	return registry
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), subTimeout)
	defer cancel()

	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	status, err := e.orchestrator.Query(ctx, documentID(args[0]), args[0], subTenant)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(status)
	}
	printStatus(status)
	return nil
}

func printStatus(s *gateway.Status) {
	fmt.Printf("%s: %s (%s)\n", s.RegistryNumber, s.State, s.Channel)
	if s.Code != "" {
		fmt.Printf("  Code:        %s %s\n", s.Code, s.Description)
	}
	if s.Reason != "" {
		fmt.Printf("  Reason:      %s\n", s.Reason)
	}
	if gateway.HasCancellation(s) {
		fmt.Printf("  Cancellation: %s %s\n", s.CancellationCode, s.CancellationDescription)
		if s.CancellationReason != "" {
			fmt.Printf("  Cancel note: %s\n", s.CancellationReason)
		}
	}
	fmt.Printf("  Checked:     %s\n", s.CheckedAt.Format(time.RFC3339))
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), subTimeout)
	defer cancel()

	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	sub, err := e.orchestrator.Cancel(ctx, documentID(args[0]), args[0], cancelReason, subTenant)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		if err := printJSON(sub); err != nil {
			return err
		}
	} else {
		fmt.Printf("%s %s: %s (%s)\n", mark(sub.Success), sub.RegistryNumber, sub.State, sub.Channel)
		if sub.ErrorCode != "" {
			fmt.Printf("  ✗ [%s] %s\n", sub.ErrorCode, sub.ErrorMessage)
		}
	}

	if !sub.Success {
		return fmt.Errorf("registry refused the cancellation")
	}
	return nil
}

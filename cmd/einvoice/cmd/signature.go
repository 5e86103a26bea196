package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/einvoice-engine/internal/signature"
)

var (
	signTenant string
	signOutput string
	sigTimeout time.Duration
	infoTenant string
)

var signCmd = &cobra.Command{
	Use:   "sign <file>",
	Short: "Sign a document with the tenant's certificate (XAdES-EPES)",
	Long: `Sign embeds an enveloped XAdES-EPES signature using the key and
certificate stored for the tenant under CERTIFICATES_DIR. The certificate
password comes from the tenant's configuration.`,
	Example: `  einvoice sign invoice.xml --tenant acme -o invoice.xsig`,
	Args:    cobra.ExactArgs(1),
	RunE:    runSign,
}

var verifyCmd = &cobra.Command{
	Use:   "verify [files...]",
	Short: "Verify XAdES signatures",
	Long: `Verify checks references, the signature value and the signed
properties of each document. With TRUST_STORE set the certificate chain is
also checked; OCSP_SOFT_FAIL turns responder failures into warnings.`,
	Example: `  einvoice verify invoice.xsig
  einvoice verify signed/ -f json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

var certinfoCmd = &cobra.Command{
	Use:     "certinfo",
	Short:   "Show the signing certificate of a tenant",
	Example: `  einvoice certinfo --tenant acme`,
	Args:    cobra.NoArgs,
	RunE:    runCertInfo,
}

func init() {
	rootCmd.AddCommand(signCmd, verifyCmd, certinfoCmd)

	signCmd.Flags().StringVar(&signTenant, "tenant", "", "Tenant whose certificate signs the document")
	signCmd.Flags().StringVarP(&signOutput, "output", "o", "", "Output file (default: stdout)")
	_ = signCmd.MarkFlagRequired("tenant")

	certinfoCmd.Flags().StringVar(&infoTenant, "tenant", "", "Tenant ID")
	_ = certinfoCmd.MarkFlagRequired("tenant")

	for _, c := range []*cobra.Command{signCmd, verifyCmd, certinfoCmd} {
		c.Flags().DurationVar(&sigTimeout, "timeout", 60*time.Second, "Timeout per document")
	}
}

func runSign(cmd *cobra.Command, args []string) error {
	data, err := readInput(args[0])
	if err != nil {
		return err
	}
	e, err := newSigningEngine()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), sigTimeout)
	defer cancel()

	signed, err := e.signer.Sign(ctx, data, signTenant)
	if err != nil {
		return err
	}
	return writeOutput(signOutput, signed)
}

// VerifyResult holds the result of verifying a single file
type VerifyResult struct {
	File string `json:"file"`
	*signature.VerificationResult
}

func runVerify(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found to verify")
	}

	verifier, err := newVerifier()
	if err != nil {
		return err
	}

	results := make([]VerifyResult, 0, len(files))
	allValid := true

	for _, file := range files {
		printVerbose("Verifying: %s\n", file)

		r := VerifyResult{File: file}
		data, err := readInput(file)
		if err != nil {
			r.VerificationResult = signature.NewVerificationResult()
			r.AddError(err.Error())
		} else {
			ctx, cancel := context.WithTimeout(cmd.Context(), sigTimeout)
			r.VerificationResult, err = verifier.Verify(ctx, data)
			cancel()
			if err != nil {
				return err
			}
		}

		results = append(results, r)
		allValid = allValid && r.Valid
	}

	if outputFormat == "json" {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			printVerification(r)
		}
	}

	if !allValid {
		return fmt.Errorf("verification failed for some files")
	}
	return nil
}

func printVerification(r VerifyResult) {
	statusText := "VALID"
	if !r.Valid {
		statusText = "INVALID"
	}
	fmt.Printf("%s %s: %s\n", mark(r.Valid), r.File, statusText)

	if r.Signer != nil {
		fmt.Printf("  Signer: %s\n", r.Signer.Name)
		if r.Signer.TaxID != "" {
			fmt.Printf("  Tax ID: %s\n", r.Signer.TaxID)
		}
		if r.Signer.Issuer != "" {
			fmt.Printf("  Issuer: %s\n", r.Signer.Issuer)
		}
	}
	if r.SigningTime != nil {
		fmt.Printf("  Signed: %s\n", r.SigningTime.Format(time.RFC3339))
	}
	if r.PolicyIdentifier != "" {
		fmt.Printf("  Policy: %s\n", r.PolicyIdentifier)
	}

	if r.SignatureFound {
		fmt.Printf("  References:  %s\n", mark(r.ReferencesValid))
		fmt.Printf("  Signature:   %s\n", mark(r.SignatureValid))
		fmt.Printf("  Cert digest: %s\n", mark(r.CertDigestValid))
		if r.ChainChecked {
			fmt.Printf("  Cert chain:  %s\n", mark(r.CertChainValid))
			fmt.Printf("  Not revoked: %s\n", mark(r.NotRevoked))
		} else {
			fmt.Printf("  Cert chain:  - (no trust store)\n")
		}
	}

	for _, e := range r.Errors {
		fmt.Printf("  ✗ %s\n", e)
	}
	for _, w := range r.Warnings {
		fmt.Printf("  ⚠ %s\n", w)
	}
}

func runCertInfo(cmd *cobra.Command, args []string) error {
	e, err := newSigningEngine()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), sigTimeout)
	defer cancel()

	status, err := e.signer.SignerInfo(ctx, infoTenant)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(status)
	}
	fmt.Printf("%s %s\n", mark(status.IsValid), status.Subject)
	fmt.Printf("  Issuer:  %s\n", status.Issuer)
	if status.TaxID != "" {
		fmt.Printf("  Tax ID:  %s\n", status.TaxID)
	}
	fmt.Printf("  Serial:  %s\n", status.SerialNumber)
	fmt.Printf("  Valid:   %s to %s (%d days left)\n",
		status.ValidFrom.Format(time.DateOnly), status.ValidTo.Format(time.DateOnly), status.DaysRemaining)
	return nil
}

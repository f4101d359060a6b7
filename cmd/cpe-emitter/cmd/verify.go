package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/cpe-emitter/internal/archive"
	"github.com/rezonia/cpe-emitter/internal/signature"
	"github.com/rezonia/cpe-emitter/internal/signature/trust"
	"github.com/rezonia/cpe-emitter/internal/signature/xml"
)

var (
	caFile   string
	skipOCSP bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify [files...]",
	Short: "Verify digital signatures",
	Long: `Verify the XMLDSig signature of signed documents and CDRs.

Verifies:
  - Signature validity (cryptographic verification)
  - Certificate chain (to the roots in --ca-file)
  - Certificate revocation (OCSP, unless --skip-ocsp)
  - Signer information

XML files are verified directly. ZIP archives (R-*.zip responses or sent
documents) are unpacked first. Directories are walked for .xml and .zip files.

Examples:
  # Verify with the embedded certificate only
  cpe-emitter verify 20123456789-01-F001-00000042.xml

  # Verify a CDR against trusted roots
  cpe-emitter verify --ca-file roots.pem R-20123456789-01-F001-00000042.zip

  # Skip OCSP revocation failures
  cpe-emitter verify --ca-file roots.pem --skip-ocsp responses/

  # JSON output
  cpe-emitter verify -f json signed.xml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&caFile, "ca-file", "", "Trusted root certificates (PEM format)")
	verifyCmd.Flags().BoolVar(&skipOCSP, "skip-ocsp", false, "Tolerate OCSP revocation check failures")
}

// VerifyResult is the outcome for one file
type VerifyResult struct {
	File string `json:"file"`
	*signature.VerificationResult
	Error string `json:"error,omitempty"`
}

func runVerify(cmd *cobra.Command, args []string) error {
	files, err := collectVerifyFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found to verify")
	}

	opts := []xml.Option{}
	if caFile != "" {
		ts, err := trust.LoadTrustStore(caFile, trust.WithSoftFail(skipOCSP))
		if err != nil {
			return fmt.Errorf("failed to create trust store: %w", err)
		}
		opts = append(opts, xml.WithTrustStore(ts))
	}
	verifier := xml.NewXMLVerifier(opts...)

	results := make([]*VerifyResult, 0, len(files))
	allValid := true
	for _, file := range files {
		printVerbose("Verifying: %s\n", file)
		result := verifyFile(cmd.Context(), verifier, file)
		results = append(results, result)
		if result.VerificationResult == nil || !result.Valid {
			allValid = false
		}
	}

	if err := render(results, func() { printVerifyTable(results) }); err != nil {
		return err
	}
	if !allValid {
		return fmt.Errorf("verification failed for some files")
	}
	return nil
}

func printVerifyTable(results []*VerifyResult) {
	for _, r := range results {
		if r.VerificationResult == nil {
			fmt.Printf("✗ %s: %s\n", r.File, r.Error)
			continue
		}

		statusIcon := "✓"
		if !r.Valid {
			statusIcon = "✗"
		}
		fmt.Printf("%s %s: %s\n", statusIcon, r.File, strings.ToUpper(string(r.Verdict)))

		if r.DocumentID != "" {
			fmt.Printf("  Document: %s\n", r.DocumentID)
		}
		if r.Signer != nil {
			fmt.Printf("  Signer: %s\n", r.Signer.Name)
			if r.Signer.Organization != "" {
				fmt.Printf("  Org:    %s\n", r.Signer.Organization)
			}
			if r.Signer.RUC != "" {
				fmt.Printf("  RUC:    %s\n", r.Signer.RUC)
			}
			if r.Signer.Issuer != "" {
				fmt.Printf("  Issuer: %s\n", r.Signer.Issuer)
			}
		}
		if r.SignatureFound {
			fmt.Printf("  Signature:   %s\n", check(r.SignatureValid))
			if r.TrustChecked {
				fmt.Printf("  Cert Chain:  %s\n", check(r.CertChainValid))
				fmt.Printf("  Not Revoked: %s\n", check(r.NotRevoked))
			} else {
				fmt.Println("  Cert Chain:  - (no trust roots)")
			}
		}
		for _, e := range r.Errors {
			fmt.Printf("  ✗ %s\n", e)
		}
		for _, w := range r.Warnings {
			fmt.Printf("  ⚠ %s\n", w)
		}
	}
}

func check(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}

func verifyFile(parent context.Context, verifier signature.Verifier, filePath string) *VerifyResult {
	ctx, cancel := context.WithTimeout(parent, 60*time.Second)
	defer cancel()

	result := &VerifyResult{File: filePath}
	data, err := os.ReadFile(filePath)
	if err != nil {
		result.Error = fmt.Sprintf("failed to read file: %v", err)
		return result
	}
	if strings.EqualFold(filepath.Ext(filePath), ".zip") {
		entry, err := archive.Unpack(data)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		data = entry.Data
	}

	vr, err := verifier.Verify(ctx, data)
	if vr == nil && err != nil {
		result.Error = fmt.Sprintf("verification error: %v", err)
		return result
	}
	result.VerificationResult = vr
	return result
}

// collectVerifyFiles expands globs and directories
func collectVerifyFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", arg, err)
		}
		if len(matches) == 0 {
			matches = []string{arg}
		}
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				return nil, fmt.Errorf("file not found: %s", match)
			}
			if !info.IsDir() {
				files = append(files, match)
				continue
			}
			err = filepath.Walk(match, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if !info.IsDir() && isVerifiableFile(path) {
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return files, nil
}

func isVerifiableFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml", ".zip":
		return true
	}
	return false
}

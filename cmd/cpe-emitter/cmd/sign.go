package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rezonia/cpe-emitter/internal/signature"
)

var (
	signCert     string
	signPassword string
	signOutput   string
)

var signCmd = &cobra.Command{
	Use:   "sign <unsigned.xml>",
	Short: "Sign an assembled XML document",
	Long: `Embed an enveloped XMLDSig signature in an unsigned UBL document.

The signature is placed in the document's ext:ExtensionContent and signed with
the PKCS#12 certificate given by --cert.

Examples:
  cpe-emitter sign 20123456789-01-F001-00000042.xml --cert acme.p12 --password s3cret
  cpe-emitter sign invoice.xml --cert acme.p12 -o signed.xml`,
	Args: cobra.ExactArgs(1),
	RunE: runSign,
}

func init() {
	rootCmd.AddCommand(signCmd)

	signCmd.Flags().StringVar(&signCert, "cert", "", "PKCS#12 certificate file")
	signCmd.Flags().StringVar(&signPassword, "password", "", "Certificate passphrase")
	signCmd.Flags().StringVarP(&signOutput, "output", "o", "", "Output file (default: <input>-signed.xml)")
	_ = signCmd.MarkFlagRequired("cert")
}

func runSign(cmd *cobra.Command, args []string) error {
	input := args[0]
	unsigned, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	engine := signature.NewEngine(signature.NewCertificateCache())
	signed, err := engine.Sign(unsigned, signCert, signPassword)
	if err != nil {
		return err
	}

	output := signOutput
	if output == "" {
		output = strings.TrimSuffix(input, filepath.Ext(input)) + "-signed.xml"
	}
	if err := os.WriteFile(output, signed, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	digest, err := signature.DigestValue(signed)
	if err != nil {
		return err
	}
	return render(map[string]string{"file": output, "digest": digest}, func() {
		fmt.Printf("✓ %s\n", output)
		fmt.Printf("  Digest: %s\n", digest)
	})
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rezonia/cpe-emitter/internal/cdr"
)

var parseCmd = &cobra.Command{
	Use:   "parse-cdr <response.zip>",
	Short: "Read a CDR (constancia de recepcion) archive",
	Long: `Unpack and parse a CDR returned by SUNAT, printing the response code,
description, notes and the digest of the referenced document.

Examples:
  cpe-emitter parse-cdr R-20123456789-01-F001-00000042.zip
  cpe-emitter parse-cdr -f json R-20123456789-RC-20260309-1.zip`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	resp, err := cdr.Parse(data)
	if err != nil {
		return err
	}

	return render(resp, func() {
		statusIcon := "✓"
		if !resp.Accepted {
			statusIcon = "✗"
		}
		fmt.Printf("%s %s: %s %s\n", statusIcon, resp.ReferenceID, resp.Code, resp.Description)
		if resp.ID != "" {
			fmt.Printf("  Response: %s\n", resp.ID)
		}
		if resp.Digest != "" {
			fmt.Printf("  Digest:   %s\n", resp.Digest)
		}
		for _, n := range resp.Notes {
			fmt.Printf("  ⚠ %s\n", n)
		}
		for _, l := range resp.Lines {
			fmt.Printf("  - %s: %s %s\n", l.ReferenceID, l.Code, l.Description)
		}
	})
}

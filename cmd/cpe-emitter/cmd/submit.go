package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rezonia/cpe-emitter/internal/lifecycle"
)

var submitCmd = &cobra.Command{
	Use:   "submit <document-id>",
	Short: "Assemble, sign and send a document",
	Long: `Submit a stored document to SUNAT and record the CDR.

Invoices, notes and dispatch advices are sent synchronously. A rejected
document is resent with its stored signed XML.

Examples:
  cpe-emitter submit 42
  cpe-emitter submit 42 -f json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocument(cmd.Context(), args[0], (*lifecycle.Controller).Submit)
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <document-id>",
	Short: "Resend a rejected or undetermined document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocument(cmd.Context(), args[0], (*lifecycle.Controller).Retry)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <document-id>",
	Short: "Show the lifecycle state of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(statusCmd)
}

func runDocument(ctx context.Context, arg string, op func(*lifecycle.Controller, context.Context, int64) (*lifecycle.Outcome, error)) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	return withApp(func(a *app) error {
		printVerbose("Sending document %d\n", id)
		out, err := op(a.controller, ctx, id)
		if perr := printOutcome(out); perr != nil {
			return perr
		}
		return err
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return withApp(func(a *app) error {
		doc, err := a.controller.Status(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printDocument(doc)
	})
}

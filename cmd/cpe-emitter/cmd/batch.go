package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/cpe-emitter/internal/assembler"
	"github.com/rezonia/cpe-emitter/internal/lifecycle"
)

var (
	batchEmitter int64
	summaryDate  string
	summaryDocs  []int64
	summaryMods  []int64
	summaryVoids []string
	voidReason   string
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Send a daily summary (RC) of receipts",
	Long: `Send the receipts of a reference date in a daily summary.

Without --document the receipts of the date that are pending or rejected are
used. --modify adds a condition 2 line that informs an accepted receipt again
after its data was corrected. --void adds a condition 3 line for an accepted
receipt, optionally with a reason after a colon.

Examples:
  cpe-emitter summary --emitter 1 --date 2026-03-09
  cpe-emitter summary --emitter 1 --date 2026-03-09 --modify 16
  cpe-emitter summary --emitter 1 --date 2026-03-09 --void 17:"Error en el monto"`,
	Args: cobra.NoArgs,
	RunE: runSummary,
}

var voidCmd = &cobra.Command{
	Use:   "void <document-id>...",
	Short: "Send a void communication (RA) for accepted invoices and notes",
	Long: `Annul accepted invoices, credit notes and debit notes issued on the same day.
Receipts are voided through a daily summary instead.

Examples:
  cpe-emitter void 42 43 --emitter 1 --reason "Error en el RUC"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVoid,
}

var pollCmd = &cobra.Command{
	Use:   "poll <batch-id>",
	Short: "Query the ticket of a summary or void communication",
	Args:  cobra.ExactArgs(1),
	RunE:  runPoll,
}

func init() {
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(voidCmd)
	rootCmd.AddCommand(pollCmd)

	summaryCmd.Flags().Int64Var(&batchEmitter, "emitter", 0, "Emitter id")
	summaryCmd.Flags().StringVar(&summaryDate, "date", "", "Reference date (YYYY-MM-DD, Lima time)")
	summaryCmd.Flags().Int64SliceVar(&summaryDocs, "document", nil, "Receipt ids to include (default: all candidates of the date)")
	summaryCmd.Flags().Int64SliceVar(&summaryMods, "modify", nil, "Accepted receipt to inform again with corrected data")
	summaryCmd.Flags().StringArrayVar(&summaryVoids, "void", nil, "Accepted receipt to void, as id or id:reason")
	_ = summaryCmd.MarkFlagRequired("emitter")
	_ = summaryCmd.MarkFlagRequired("date")

	voidCmd.Flags().Int64Var(&batchEmitter, "emitter", 0, "Emitter id")
	voidCmd.Flags().StringVar(&voidReason, "reason", "", "Void reason for every document")
	_ = voidCmd.MarkFlagRequired("emitter")
}

func runSummary(cmd *cobra.Command, args []string) error {
	ref, err := time.ParseInLocation("2006-01-02", summaryDate, assembler.Lima)
	if err != nil {
		return fmt.Errorf("invalid --date %q: %w", summaryDate, err)
	}
	voids, err := parseVoids(summaryVoids)
	if err != nil {
		return err
	}

	return withApp(func(a *app) error {
		out, err := a.controller.SubmitSummary(cmd.Context(), lifecycle.SummaryRequest{
			EmitterID:     batchEmitter,
			ReferenceDate: ref,
			DocumentIDs:   summaryDocs,
			Modifications: summaryMods,
			Voids:         voids,
		})
		if perr := printBatch(out); perr != nil {
			return perr
		}
		return err
	})
}

func parseVoids(values []string) ([]lifecycle.VoidLine, error) {
	lines := make([]lifecycle.VoidLine, 0, len(values))
	for _, value := range values {
		idPart, reason, _ := strings.Cut(value, ":")
		id, err := strconv.ParseInt(strings.TrimSpace(idPart), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --void %q", value)
		}
		lines = append(lines, lifecycle.VoidLine{DocumentID: id, Reason: strings.TrimSpace(reason)})
	}
	return lines, nil
}

func runVoid(cmd *cobra.Command, args []string) error {
	req := lifecycle.VoidRequest{EmitterID: batchEmitter, Reason: voidReason}
	for _, arg := range args {
		id, err := parseID(arg)
		if err != nil {
			return err
		}
		req.Lines = append(req.Lines, lifecycle.VoidLine{DocumentID: id})
	}

	return withApp(func(a *app) error {
		out, err := a.controller.SubmitVoid(cmd.Context(), req)
		if perr := printBatch(out); perr != nil {
			return perr
		}
		return err
	})
}

func runPoll(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return withApp(func(a *app) error {
		out, err := a.controller.Poll(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printBatch(out)
	})
}

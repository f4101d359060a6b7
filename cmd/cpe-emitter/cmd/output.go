package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/rezonia/cpe-emitter/internal/lifecycle"
	"github.com/rezonia/cpe-emitter/internal/model"
)

// render prints v as JSON, or calls table for the human format
func render(v interface{}, table func()) error {
	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	}
	table()
	return nil
}

func printOutcome(out *lifecycle.Outcome) error {
	if out == nil {
		return nil
	}
	return render(out, func() {
		statusIcon := "✓"
		if !out.Accepted() {
			statusIcon = "✗"
		}
		fmt.Printf("%s %s: %s\n", statusIcon, out.ArtifactName, out.State)
		fmt.Printf("  Document: %d\n", out.DocumentID)
		fmt.Printf("  Attempts: %d\n", out.Attempts)
		if out.Reused {
			fmt.Println("  Resent the stored signed artifact")
		}
		if out.Fallback {
			fmt.Println("  ⚠ Response unreadable, accepted by configuration")
		}
		if r := out.Response; r != nil {
			fmt.Printf("  Code:     %s\n", r.Code)
			if r.Description != "" {
				fmt.Printf("  Message:  %s\n", r.Description)
			}
			for _, n := range r.Notes {
				fmt.Printf("  ⚠ %s\n", n)
			}
		}
	})
}

func printBatch(out *lifecycle.BatchOutcome) error {
	if out == nil {
		return nil
	}
	return render(out, func() {
		fmt.Printf("%s (batch %d): %s\n", out.Identifier, out.BatchID, out.State)
		fmt.Printf("  Artifact: %s\n", out.ArtifactName)
		if out.Ticket != "" {
			fmt.Printf("  Ticket:   %s\n", out.Ticket)
		}
		if out.StatusCode != "" {
			fmt.Printf("  Status:   %s\n", out.StatusCode)
		}
		if out.ResponseCode != "" {
			fmt.Printf("  Code:     %s %s\n", out.ResponseCode, out.Message)
		}
		if out.Cached {
			fmt.Println("  Already resolved, authority not contacted")
		}
		for _, d := range out.Documents {
			number := d.Number
			if number == "" {
				number = strconv.FormatInt(d.DocumentID, 10)
			}
			fmt.Printf("  - %s condition=%d %s\n", number, d.Condition, d.State)
		}
	})
}

func printDocument(doc *model.TaxDocument) error {
	return render(doc, func() {
		fmt.Printf("%s (%s): %s\n", doc.Number(), doc.Type, doc.State)
		fmt.Printf("  Artifact: %s\n", doc.ArtifactName())
		fmt.Printf("  Issued:   %s\n", doc.IssueDate.Format("2006-01-02 15:04:05"))
		fmt.Printf("  Total:    %s %s\n", doc.Currency, doc.Totals.Total.StringFixed(2))
		s := doc.Submission
		fmt.Printf("  Attempts: %d\n", s.Attempts)
		if s.ResponseCode != "" {
			fmt.Printf("  Code:     %s %s\n", s.ResponseCode, s.ResponseMessage)
		}
		if s.Digest != "" {
			fmt.Printf("  Digest:   %s\n", s.Digest)
		}
	})
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

// Package observability provides logging setup and formatted CLI output.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/site-deployer/internal/db"
	"github.com/jonathan/site-deployer/internal/dispatch"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintPublications lists recorded publications, newest last.
func (p *Printer) PrintPublications(pubs []db.Publication) {
	if len(pubs) == 0 {
		p.printBox("PUBLICATIONS", "No publications recorded")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Total publications: %d\n\n", len(pubs)))

	start := max(0, len(pubs)-maxItemsToShow)
	if start > 0 {
		sb.WriteString(fmt.Sprintf("... %d earlier omitted\n\n", start))
	}
	for i := start; i < len(pubs); i++ {
		pub := pubs[i]
		sb.WriteString(fmt.Sprintf("%s/%s r%d\n", pub.Email, pub.Task, pub.Round))
		sb.WriteString(fmt.Sprintf("    pages: %s\n", orDash(pub.PagesURL)))
		if i < len(pubs)-1 {
			sb.WriteString("\n")
		}
	}

	p.printBox("PUBLICATIONS", sb.String())
}

// PrintResults outputs check outcomes and the overall score.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintResults(results []db.Result) {
	if len(results) == 0 {
		fmt.Fprintf(p.out, "┌%s┐\n", strings.Repeat("─", boxWidth-2))
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, "NO RESULTS")
		fmt.Fprintf(p.out, "└%s┘\n", strings.Repeat("─", boxWidth-2))
		return
	}

	var (
		sb    strings.Builder
		total float64
	)
	for i, r := range results {
		mark := "✗"
		if r.Score >= 1 {
			mark = "✓"
		}
		total += r.Score
		sb.WriteString(fmt.Sprintf("%s %s  %s/%s r%d\n", mark, r.CheckName, r.Email, r.Task, r.Round))
		reason := r.Reason
		if len(reason) > 45 {
			reason = reason[:42] + "..."
		}
		sb.WriteString(fmt.Sprintf("  %s\n", reason))
		if i < len(results)-1 {
			sb.WriteString("\n")
		}
	}
	sb.WriteString(fmt.Sprintf("\nScore: %.0f/%d", total, len(results)))

	p.printBox("EVALUATION RESULTS", sb.String())
}

// PrintDispatch lists each dispatched task and whether the endpoint accepted it.
func (p *Printer) PrintDispatch(round int, sent []dispatch.Sent) {
	title := fmt.Sprintf("ROUND %d DISPATCH", round)
	if len(sent) == 0 {
		p.printBox(title, "No tasks sent")
		return
	}

	var (
		sb       strings.Builder
		accepted int
	)
	for _, s := range sent {
		mark := "✗"
		if s.Delivered {
			mark = "✓"
			accepted++
		}
		sb.WriteString(fmt.Sprintf("%s %s  %s\n", mark, s.Task.Email, s.Task.Task))
		sb.WriteString(fmt.Sprintf("    %s\n", s.Endpoint))
	}
	sb.WriteString(fmt.Sprintf("\nAccepted: %d/%d", accepted, len(sent)))

	p.printBox(title, sb.String())
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

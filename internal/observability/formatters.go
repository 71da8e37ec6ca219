// Package observability provides formatted output utilities for the classify
// debug command. Engine components log through internal/logging; these boxes
// are for a human reading a one-shot classification at a terminal.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/apply-engine/internal/classify"
	"github.com/jonathan/apply-engine/internal/fetch"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
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

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintPage outputs where the HTML came from and how it was obtained.
func (p *Printer) PrintPage(url string, vendor fetch.Vendor, statusCode, htmlBytes int, rendered bool) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("URL:      %s\n", url))
	sb.WriteString(fmt.Sprintf("Vendor:   %s\n", vendor))
	if statusCode > 0 {
		sb.WriteString(fmt.Sprintf("Status:   %d\n", statusCode))
	}
	sb.WriteString(fmt.Sprintf("Size:     %d bytes\n", htmlBytes))
	if rendered {
		sb.WriteString("Source:   headless browser (scripts executed)")
	} else {
		sb.WriteString("Source:   plain HTTP fetch")
	}

	p.printBox("PAGE", sb.String())
}

// PrintClassification outputs the classification verdict and its evidence.
func (p *Printer) PrintClassification(res classify.Result) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Type:       %s\n", res.Type))
	sb.WriteString(fmt.Sprintf("Confidence: %.2f\n", res.Confidence))
	if res.Type.Terminal() {
		sb.WriteString("Terminal:   yes (navigator hands off or fails here)\n")
	} else {
		sb.WriteString("Terminal:   no (navigator keeps working the page)\n")
	}

	if len(res.Evidence) > 0 {
		sb.WriteString("\nEvidence:\n")
		count := min(len(res.Evidence), maxItemsToShow)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  • %s\n", res.Evidence[i]))
		}
		if len(res.Evidence) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(res.Evidence)-maxItemsToShow))
		}
	} else if res.Type == classify.TypeUnknown {
		sb.WriteString("\nNo predicate matched; the live agent would keep\n")
		sb.WriteString("observing until the unknown-page timeout.\n")
	}

	p.printBox("PAGE CLASSIFICATION", strings.TrimSuffix(sb.String(), "\n"))
}

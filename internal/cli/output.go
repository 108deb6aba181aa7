package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"folio/api/internal/document"
	"folio/api/internal/notify"
	"folio/api/internal/sections"
)

var (
	successColor  = color.New(color.FgGreen)
	errorColor    = color.New(color.FgRed)
	inactiveColor = color.New(color.FgYellow)
)

func printNotification(w io.Writer, n notify.Notification) {
	switch n.Kind {
	case notify.Error:
		fmt.Fprintf(w, "%s %s\n", errorColor.Sprint("✗"), n.Text)
	default:
		fmt.Fprintf(w, "%s %s\n", successColor.Sprint("✓"), n.Text)
	}
}

func printList(w io.Writer, reg *sections.Registry, docs []document.Document) {
	if len(docs) == 0 {
		fmt.Fprintf(w, "no %s documents\n", reg.Kind)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tVERSION\tTITLE")
	for _, doc := range docs {
		status := successColor.Sprint("active")
		if !doc.Active() {
			status = inactiveColor.Sprint("inactive")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", doc.ID(), status, doc.Version(), reg.Title(doc))
	}
	_ = tw.Flush()
}

func printDocument(w io.Writer, doc document.Document) error {
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err = fmt.Fprintln(w, string(payload))
	return err
}

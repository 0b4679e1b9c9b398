// Package cli renders dispatcher results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/hyperjump/reqai/internal/dispatch"
	"github.com/hyperjump/reqai/internal/indexer"
	"github.com/hyperjump/reqai/internal/schema"
	"github.com/hyperjump/reqai/pkg/utils"
)

// OutputFormat is the format of command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// MaxCellWidth bounds table cells in text output.
const MaxCellWidth = 40

// ParseFormat validates an --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteResult writes res to w in the given format. Failed results are written
// too; the caller decides the exit status.
func WriteResult(w io.Writer, res *dispatch.Result, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if !res.OK {
		fmt.Fprintf(w, "Error: %s\n", res.Message)
		if res.Index != nil {
			WriteStatus(w, res.Index)
		}
		return nil
	}
	if res.Message != "" {
		fmt.Fprintln(w, res.Message)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	switch {
	case res.Types != nil:
		for _, t := range res.Types {
			fmt.Fprintln(w, t)
		}
	case res.Table != nil:
		if err := WriteTable(w, res.Table); err != nil {
			return err
		}
	case res.Form != nil:
		WriteForm(w, res.Form)
	case res.Index != nil:
		WriteStatus(w, res.Index)
	case res.Facets != nil:
		fmt.Fprintf(w, "tags:     %s\n", strings.Join(res.Facets.Tags, ", "))
		fmt.Fprintf(w, "versions: %s\n", strings.Join(res.Facets.Versions, ", "))
	case res.Location != "":
		fmt.Fprintf(w, "location: %s\n", res.Location)
	}
	return nil
}

// WriteTable writes a column-aligned table. Search tables get a leading score column.
func WriteTable(w io.Writer, t *schema.Table) error {
	fmt.Fprintf(w, "\n%s (%d)\n\n", t.Title, len(t.Rows))
	if len(t.Rows) == 0 {
		return nil
	}
	scored := t.Rows[0].Score != nil
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := make([]string, 0, len(t.Columns)+1)
	if scored {
		header = append(header, "Score")
	}
	for _, c := range t.Columns {
		header = append(header, c.Label)
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range t.Rows {
		cells := make([]string, 0, len(r.Cells)+1)
		if scored {
			score := ""
			if r.Score != nil {
				score = fmt.Sprintf("%.4f", *r.Score)
			}
			cells = append(cells, score)
		}
		for _, c := range r.Cells {
			cells = append(cells, cellText(c))
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

// WriteForm lists the fields of a form with their widgets and current values.
func WriteForm(w io.Writer, f *schema.Form) {
	fmt.Fprintf(w, "\n%s\n\n", f.Title)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, field := range f.Fields {
		value := field.Value
		if len(field.Selected) > 0 {
			value = strings.Join(field.Selected, ", ")
		}
		kind := string(field.Widget.Kind)
		if len(field.Widget.Options) > 0 {
			kind += " [" + strings.Join(field.Widget.Options, "|") + "]"
		} else if field.Widget.Target != "" {
			kind += " -> " + field.Widget.Target
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", field.Label, kind, cellText(value))
	}
	_ = tw.Flush()
}

// WriteStatus writes the index status as aligned key/value lines.
func WriteStatus(w io.Writer, st *indexer.Status) {
	fmt.Fprintf(w, "entity_type:  %s\n", st.EntityType)
	fmt.Fprintf(w, "state:        %s\n", st.State)
	fmt.Fprintf(w, "building:     %t\n", st.Building)
	fmt.Fprintf(w, "records:      %d   # embedded records in the index\n", st.Records)
	if st.Building || st.Total > 0 {
		fmt.Fprintf(w, "progress:     %d/%d\n", st.Processed, st.Total)
	}
	if st.Source != "" {
		fmt.Fprintf(w, "source:       %s\n", st.Source)
	}
	if st.Generation != "" {
		fmt.Fprintf(w, "generation:   %s\n", st.Generation)
	}
	if !st.BuiltAt.IsZero() {
		fmt.Fprintf(w, "built_at:     %s\n", st.BuiltAt.Format("2006-01-02 15:04:05"))
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "last_error:   %s\n", st.LastError)
	}
}

// cellText flattens a cell to one line of bounded width.
func cellText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return utils.Truncate(s, MaxCellWidth)
}

// Package report renders validation reports as text or JSON
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	perr "nutrisage/internal/platform/errors"
	"nutrisage/internal/services/validate/domain"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Write renders rep to w; output depends only on rep so re-runs over unchanged data match byte for byte
func Write(w io.Writer, rep domain.Report, format string) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, rep)
	case FormatText, "":
		return writeText(w, rep)
	default:
		return perr.WithField(perr.InvalidArgf("unknown report format %q", format), "format")
	}
}

func writeJSON(w io.Writer, rep domain.Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnknown, "encode report")
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return perr.Wrap(err, perr.ErrorCodeStorage, "write report")
	}
	return nil
}

func writeText(w io.Writer, rep domain.Report) error {
	bw := bufio.NewWriter(w)
	verdict := "PASS"
	if !rep.OK() {
		verdict = "FAIL"
	}
	fmt.Fprintf(bw, "validation %s run=%s status=%s\n", verdict, rep.RunID, rep.RunStatus)
	fmt.Fprintf(bw, "sink:       %s\n", rep.Sink)
	fmt.Fprintf(bw, "summary:    %s\n", rep.Summary)
	fmt.Fprintf(bw, "shards:     %d\n", rep.Shards)
	fmt.Fprintf(bw, "rows:       %d (expected %d)\n", rep.Rows, rep.ExpectedRows)

	fmt.Fprintf(bw, "columns:    %d\n", len(rep.Columns))
	for _, c := range rep.Columns {
		fmt.Fprintf(bw, "  %-40s %s\n", c, rep.Signature[c])
	}

	fmt.Fprintf(bw, "partitions: %d\n", len(rep.Partitions))
	for _, p := range rep.Partitions {
		fmt.Fprintf(bw, "  %-48s rows=%d shards=%d\n", p.Path, p.Rows, p.Shards)
	}

	fmt.Fprintf(bw, "mismatches: %d\n", len(rep.Mismatches))
	for _, m := range rep.Mismatches {
		fmt.Fprintf(bw, "  %s %s", m.Kind, m.Subject)
		if m.Expected != "" {
			fmt.Fprintf(bw, " expected=%s", m.Expected)
		}
		if m.Actual != "" {
			fmt.Fprintf(bw, " actual=%q", m.Actual)
		}
		fmt.Fprintln(bw)
	}
	if err := bw.Flush(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeStorage, "write report")
	}
	return nil
}

package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-reconcile/pkg/types"
)

const (
	FormatTable    = "table"
	FormatJSON     = "json"
	FormatTemplate = "template"
)

// Writer renders summaries for one artifact at a time.
type Writer interface {
	WriteComparison(w io.Writer, artifact string, c Comparison) error
	WriteSeverities(w io.Writer, artifact string, s SeveritySummary) error
}

// NewWriter returns the writer for format. tmpl is only used by the template format.
func NewWriter(format string, colorize bool, tmpl string) (Writer, error) {
	switch format {
	case FormatTable, "":
		return TableWriter{Colorize: colorize}, nil
	case FormatJSON:
		return JSONWriter{}, nil
	case FormatTemplate:
		return NewTemplateWriter(tmpl)
	default:
		return nil, xerrors.Errorf("unknown report format: %s", format)
	}
}

// TableWriter writes the human-readable terminal report.
type TableWriter struct {
	Colorize bool
}

func (tw TableWriter) WriteComparison(w io.Writer, artifact string, c Comparison) error {
	var sb strings.Builder
	if artifact != "" {
		fmt.Fprintf(&sb, "%s\n", tw.title(fmt.Sprintf("%s (%s vs %s)", artifact, c.ScannerA, c.ScannerB)))
	}

	fmt.Fprintf(&sb, "Common CVEs with matching fix statuses: %d\n", c.Matching)
	if c.Verbose {
		for _, f := range c.MatchingFindings {
			fmt.Fprintf(&sb, "  %s: %s\n", f.VulnerabilityID, f.Status)
		}
	}

	fmt.Fprintf(&sb, "Common CVEs with mismatched fix statuses: %d\n", c.Mismatched)
	if c.Verbose {
		for _, f := range c.MismatchedFindings {
			fmt.Fprintf(&sb, "  %s: %s=%s, %s=%s\n", f.VulnerabilityID, c.ScannerA, f.StatusA, c.ScannerB, f.StatusB)
		}
	}

	tw.writeUnique(&sb, c.ScannerA, c.UniqueToA, c.UniqueToAIDs, c.Verbose)
	tw.writeUnique(&sb, c.ScannerB, c.UniqueToB, c.UniqueToBIDs, c.Verbose)

	_, err := io.WriteString(w, sb.String())
	return err
}

func (tw TableWriter) writeUnique(sb *strings.Builder, scanner types.ScannerKind, count int, ids []string, verbose bool) {
	fmt.Fprintf(sb, "Unique to %s: %d\n", scanner, count)
	if verbose && len(ids) > 0 {
		fmt.Fprintf(sb, "  CVEs unique to %s: %s\n", scanner, strings.Join(ids, ", "))
	}
}

func (tw TableWriter) WriteSeverities(w io.Writer, artifact string, s SeveritySummary) error {
	var sb strings.Builder
	if artifact != "" {
		fmt.Fprintf(&sb, "%s\n", tw.title(fmt.Sprintf("%s (%s)", artifact, s.Scanner)))
	}

	for _, b := range s.Buckets {
		// UNKNOWN only shows up when a scanner had nothing better to say
		if b.Severity == types.SeverityUnknown && b.Count == 0 {
			continue
		}
		fmt.Fprintf(&sb, "%s: %d vulnerabilities\n", tw.severity(b.Severity), b.Count)
		if len(b.VulnerabilityIDs) > 0 {
			fmt.Fprintf(&sb, "Critical CVEs: %s\n", strings.Join(b.VulnerabilityIDs, ", "))
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func (tw TableWriter) title(s string) string {
	if !tw.Colorize {
		return s
	}
	return color.New(color.Bold).Sprint(s)
}

func (tw TableWriter) severity(sev types.Severity) string {
	if !tw.Colorize {
		return sev.String()
	}
	return types.ColorizeSeverity(sev.String())
}

// JSONWriter writes one JSON document per artifact.
type JSONWriter struct{}

type comparisonDocument struct {
	Artifact   string `json:",omitempty"`
	Comparison Comparison
}

type severityDocument struct {
	Artifact string `json:",omitempty"`
	Summary  SeveritySummary
}

func (JSONWriter) WriteComparison(w io.Writer, artifact string, c Comparison) error {
	return writeJSON(w, comparisonDocument{Artifact: artifact, Comparison: c})
}

func (JSONWriter) WriteSeverities(w io.Writer, artifact string, s SeveritySummary) error {
	return writeJSON(w, severityDocument{Artifact: artifact, Summary: s})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return xerrors.Errorf("json encode error: %w", err)
	}
	return nil
}

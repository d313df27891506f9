package report

import (
	"bytes"
	"io"
	"os"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-reconcile/pkg/types"
)

// TemplateWriter renders every artifact through a text/template with the
// sprig functions available. The template sees the same documents as JSONWriter.
type TemplateWriter struct {
	tmpl *template.Template
}

// NewTemplateWriter parses text, or the file it names when prefixed with "@".
func NewTemplateWriter(text string) (*TemplateWriter, error) {
	if text == "" {
		return nil, xerrors.New("template format requires a template")
	}
	if path, ok := strings.CutPrefix(text, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, xerrors.Errorf("failed to read template file: %w", err)
		}
		text = string(b)
	}

	funcs := sprig.TxtFuncMap()
	funcs["severityColor"] = types.ColorizeSeverity

	tmpl, err := template.New("report").Funcs(funcs).Parse(text)
	if err != nil {
		return nil, xerrors.Errorf("failed to parse template: %w", err)
	}
	return &TemplateWriter{tmpl: tmpl}, nil
}

func (tw *TemplateWriter) WriteComparison(w io.Writer, artifact string, c Comparison) error {
	return tw.execute(w, comparisonDocument{Artifact: artifact, Comparison: c})
}

func (tw *TemplateWriter) WriteSeverities(w io.Writer, artifact string, s SeveritySummary) error {
	return tw.execute(w, severityDocument{Artifact: artifact, Summary: s})
}

func (tw *TemplateWriter) execute(w io.Writer, data any) error {
	var buf bytes.Buffer
	if err := tw.tmpl.Execute(&buf, data); err != nil {
		return xerrors.Errorf("template execution error: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

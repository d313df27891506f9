package grype

import (
	"encoding/json"

	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-reconcile/pkg/log"
	"github.com/aquasecurity/vuln-reconcile/pkg/types"
)

const Kind types.ScannerKind = "grype"

type Option func(a *Adapter)

func WithStatusTable(table types.StatusTable) Option {
	return func(a *Adapter) {
		a.statuses = table
	}
}

// Adapter normalizes Grype JSON documents. Grype keeps the fix disposition
// under vulnerability.fix.state.
type Adapter struct {
	statuses types.StatusTable
	logger   *log.Logger
}

func NewAdapter(options ...Option) Adapter {
	a := Adapter{
		statuses: types.DefaultStatusTable(),
		logger:   log.WithPrefix(string(Kind)),
	}
	for _, opt := range options {
		opt(&a)
	}
	return a
}

func (a Adapter) Kind() types.ScannerKind {
	return Kind
}

func (a Adapter) Normalize(doc []byte) (types.FindingSet, error) {
	var d document
	if err := json.Unmarshal(doc, &d); err != nil {
		return types.FindingSet{}, xerrors.Errorf("failed to decode Grype document: %w", err)
	}

	findings := make([]types.Finding, 0, len(d.Matches))
	for _, m := range d.Matches {
		if m.Vulnerability.ID == "" {
			a.logger.Debug("Skipping match without vulnerability ID",
				log.String("artifact_name", m.Artifact.Name), log.String("artifact_version", m.Artifact.Version))
			continue
		}
		findings = append(findings, types.Finding{
			VulnerabilityID: m.Vulnerability.ID,
			Status:          a.statuses.Map(m.Vulnerability.Fix.State),
			Severity:        types.ParseSeverity(m.Vulnerability.Severity),
		})
	}
	return types.NewFindingSet(Kind, findings...), nil
}

package trivy

import (
	"encoding/json"

	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-reconcile/pkg/log"
	"github.com/aquasecurity/vuln-reconcile/pkg/types"
)

const Kind types.ScannerKind = "trivy"

type Option func(a *Adapter)

func WithStatusTable(table types.StatusTable) Option {
	return func(a *Adapter) {
		a.statuses = table
	}
}

// Adapter normalizes Trivy JSON reports.
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
	var r report
	if err := json.Unmarshal(doc, &r); err != nil {
		return types.FindingSet{}, xerrors.Errorf("failed to decode Trivy report: %w", err)
	}

	var findings []types.Finding
	for _, res := range r.Results {
		for _, v := range res.Vulnerabilities {
			if v.VulnerabilityID == "" {
				a.logger.Debug("Skipping vulnerability without ID",
					log.String("target", res.Target), log.String("pkg_name", v.PkgName))
				continue
			}
			findings = append(findings, types.Finding{
				VulnerabilityID: v.VulnerabilityID,
				Status:          a.statuses.Map(v.Status),
				Severity:        types.ParseSeverity(v.Severity),
			})
		}
	}
	return types.NewFindingSet(Kind, findings...), nil
}

package types

import (
	"sort"
)

// ScannerKind names a scanner family, e.g. "trivy" or "grype".
type ScannerKind string

// Finding is the canonical, scanner-agnostic view of one vulnerability.
type Finding struct {
	VulnerabilityID string `json:",omitempty"` // e.g. CVE-2019-8331, GHSA-xxxx-yyyy-zzzz
	Status          Status
	Severity        Severity
}

// FindingSet holds the findings of one scanner report keyed by vulnerability ID.
// It can't be modified after NewFindingSet returns.
type FindingSet struct {
	scanner  ScannerKind
	findings map[string]Finding
}

// NewFindingSet builds a set from findings in report order.
// A vulnerability ID reported more than once keeps its last occurrence.
func NewFindingSet(scanner ScannerKind, findings ...Finding) FindingSet {
	m := make(map[string]Finding, len(findings))
	for _, f := range findings {
		m[f.VulnerabilityID] = f
	}
	return FindingSet{
		scanner:  scanner,
		findings: m,
	}
}

// Scanner returns the kind of scanner the set was normalized from.
func (s FindingSet) Scanner() ScannerKind {
	return s.scanner
}

func (s FindingSet) Len() int {
	return len(s.findings)
}

func (s FindingSet) Get(vulnID string) (Finding, bool) {
	f, ok := s.findings[vulnID]
	return f, ok
}

func (s FindingSet) Has(vulnID string) bool {
	_, ok := s.findings[vulnID]
	return ok
}

// IDs returns the vulnerability IDs in lexicographic order.
func (s FindingSet) IDs() []string {
	ids := make([]string, 0, len(s.findings))
	for id := range s.findings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Findings returns the findings sorted by vulnerability ID.
func (s FindingSet) Findings() []Finding {
	findings := make([]Finding, 0, len(s.findings))
	for _, id := range s.IDs() {
		findings = append(findings, s.findings[id])
	}
	return findings
}

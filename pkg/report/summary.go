package report

import (
	"github.com/samber/lo"

	"github.com/aquasecurity/vuln-reconcile/pkg/reconcile"
	"github.com/aquasecurity/vuln-reconcile/pkg/types"
)

// Comparison is the rendered form of a reconciliation result.
// Itemized fields are only filled in verbose mode and are sorted by ID.
type Comparison struct {
	ScannerA   types.ScannerKind
	ScannerB   types.ScannerKind
	Matching   int
	Mismatched int
	UniqueToA  int
	UniqueToB  int

	Verbose            bool                `json:"-"`
	MatchingFindings   []MatchingFinding   `json:",omitempty"`
	MismatchedFindings []MismatchedFinding `json:",omitempty"`
	UniqueToAIDs       []string            `json:",omitempty"`
	UniqueToBIDs       []string            `json:",omitempty"`
}

type MatchingFinding struct {
	VulnerabilityID string
	Status          types.Status
}

type MismatchedFinding struct {
	VulnerabilityID string
	StatusA         types.Status
	StatusB         types.Status
}

// Summarize renders result. a and b must be the sets result was computed from.
func Summarize(result reconcile.Result, a, b types.FindingSet, verbose bool) Comparison {
	c := Comparison{
		ScannerA:   result.ScannerA,
		ScannerB:   result.ScannerB,
		Matching:   result.Matching.Len(),
		Mismatched: result.Mismatched.Len(),
		UniqueToA:  result.UniqueToA.Len(),
		UniqueToB:  result.UniqueToB.Len(),
		Verbose:    verbose,
	}
	if !verbose {
		return c
	}

	c.MatchingFindings = lo.Map(result.Matching.Values(), func(id string, _ int) MatchingFinding {
		f, _ := a.Get(id)
		return MatchingFinding{VulnerabilityID: id, Status: f.Status}
	})
	c.MismatchedFindings = lo.Map(result.Mismatched.Values(), func(id string, _ int) MismatchedFinding {
		fa, _ := a.Get(id)
		fb, _ := b.Get(id)
		return MismatchedFinding{VulnerabilityID: id, StatusA: fa.Status, StatusB: fb.Status}
	})
	c.UniqueToAIDs = result.UniqueToA.Values()
	c.UniqueToBIDs = result.UniqueToB.Values()
	return c
}

// severityOrder is the order buckets are reported in.
var severityOrder = []types.Severity{
	types.SeverityCritical,
	types.SeverityHigh,
	types.SeverityMedium,
	types.SeverityLow,
	types.SeverityUnknown,
}

// SeveritySummary tallies one scanner's findings per severity.
type SeveritySummary struct {
	Scanner types.ScannerKind
	Buckets []SeverityBucket
}

// SeverityBucket lists vulnerability IDs only for CRITICAL.
type SeverityBucket struct {
	Severity         types.Severity
	Count            int
	VulnerabilityIDs []string `json:",omitempty"`
}

func Severities(set types.FindingSet) SeveritySummary {
	grouped := lo.GroupBy(set.Findings(), func(f types.Finding) types.Severity {
		return f.Severity
	})

	s := SeveritySummary{Scanner: set.Scanner()}
	for _, sev := range severityOrder {
		bucket := SeverityBucket{
			Severity: sev,
			Count:    len(grouped[sev]),
		}
		if sev == types.SeverityCritical && bucket.Count > 0 {
			bucket.VulnerabilityIDs = lo.Map(grouped[sev], func(f types.Finding, _ int) string {
				return f.VulnerabilityID
			})
		}
		s.Buckets = append(s.Buckets, bucket)
	}
	return s
}

// Count returns the number of findings with the given severity.
func (s SeveritySummary) Count(sev types.Severity) int {
	b, ok := lo.Find(s.Buckets, func(b SeverityBucket) bool {
		return b.Severity == sev
	})
	if !ok {
		return 0
	}
	return b.Count
}

// Critical returns the IDs of the CRITICAL findings.
func (s SeveritySummary) Critical() []string {
	b, _ := lo.Find(s.Buckets, func(b SeverityBucket) bool {
		return b.Severity == types.SeverityCritical
	})
	return b.VulnerabilityIDs
}

package reconcile

import (
	"github.com/aquasecurity/vuln-reconcile/pkg/set"
	"github.com/aquasecurity/vuln-reconcile/pkg/types"
)

// Result classifies every vulnerability ID reported by either scanner.
// The four sets are pairwise disjoint and together hold keys(A) ∪ keys(B).
type Result struct {
	ScannerA types.ScannerKind
	ScannerB types.ScannerKind

	// Matching holds IDs reported by both scanners with the same canonical status.
	Matching set.Ordered[string]
	// Mismatched holds IDs reported by both scanners with different canonical statuses.
	Mismatched set.Ordered[string]
	UniqueToA  set.Ordered[string]
	UniqueToB  set.Ordered[string]
}

// Reconcile compares two finding sets. Only the canonical status takes part
// in the comparison; severity is informational.
func Reconcile(a, b types.FindingSet) Result {
	ka := set.NewOrdered(a.IDs()...)
	kb := set.NewOrdered(b.IDs()...)

	r := Result{
		ScannerA:   a.Scanner(),
		ScannerB:   b.Scanner(),
		Matching:   set.NewOrdered[string](),
		Mismatched: set.NewOrdered[string](),
		UniqueToA:  ka.Difference(kb),
		UniqueToB:  kb.Difference(ka),
	}

	for _, id := range ka.Intersect(kb).Values() {
		fa, _ := a.Get(id)
		fb, _ := b.Get(id)
		if fa.Status == fb.Status {
			r.Matching.Append(id)
		} else {
			r.Mismatched.Append(id)
		}
	}
	return r
}

// Common returns the IDs reported by both scanners.
func (r Result) Common() set.Ordered[string] {
	return r.Matching.Union(r.Mismatched)
}

// Total returns the number of distinct IDs reported by either scanner.
func (r Result) Total() int {
	return r.Matching.Len() + r.Mismatched.Len() + r.UniqueToA.Len() + r.UniqueToB.Len()
}

package adapter

import (
	"fmt"
	"sort"

	"github.com/aquasecurity/vuln-reconcile/pkg/adapter/grype"
	"github.com/aquasecurity/vuln-reconcile/pkg/adapter/trivy"
	"github.com/aquasecurity/vuln-reconcile/pkg/types"
)

const snippetSize = 256

// Adapter converts one scanner's native report into a FindingSet.
type Adapter interface {
	Kind() types.ScannerKind
	Normalize(doc []byte) (types.FindingSet, error)
}

// Factory builds an adapter that maps statuses through the given table.
type Factory func(table types.StatusTable) Adapter

var (
	// Builtin lists the scanner families available without registration.
	Builtin = map[types.ScannerKind]Factory{
		trivy.Kind: func(table types.StatusTable) Adapter {
			return trivy.NewAdapter(trivy.WithStatusTable(table))
		},
		grype.Kind: func(table types.StatusTable) Adapter {
			return grype.NewAdapter(grype.WithStatusTable(table))
		},
	}
)

// NormalizationError means the document couldn't be traversed as the scanner's schema.
type NormalizationError struct {
	Kind    types.ScannerKind
	Snippet string
	Err     error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("%s report normalization error: %v (document: %q)", e.Kind, e.Err, e.Snippet)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

// UnknownScannerKindError is returned for a scanner family with no registration.
type UnknownScannerKindError struct {
	Kind types.ScannerKind
}

func (e *UnknownScannerKindError) Error() string {
	return fmt.Sprintf("%s is not a supported scanner", e.Kind)
}

// Registry holds one factory and one status table per scanner kind.
// Tables are fixed at construction.
type Registry struct {
	factories map[types.ScannerKind]Factory
	tables    map[types.ScannerKind]types.StatusTable
}

// NewRegistry returns a registry with the builtin scanners. Kinds missing
// from tables use types.DefaultStatusTable.
func NewRegistry(tables map[types.ScannerKind]types.StatusTable) *Registry {
	r := &Registry{
		factories: make(map[types.ScannerKind]Factory, len(Builtin)),
		tables:    make(map[types.ScannerKind]types.StatusTable, len(tables)),
	}
	for kind, table := range tables {
		r.tables[kind] = table
	}
	for kind, factory := range Builtin {
		r.factories[kind] = factory
	}
	return r
}

// Register adds or replaces a scanner family.
func (r *Registry) Register(kind types.ScannerKind, factory Factory) {
	r.factories[kind] = factory
}

// Kinds returns the registered scanner kinds in lexicographic order.
func (r *Registry) Kinds() []types.ScannerKind {
	kinds := make([]types.ScannerKind, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool {
		return kinds[i] < kinds[j]
	})
	return kinds
}

// Get returns the adapter for kind. Errors it produces are *NormalizationError.
func (r *Registry) Get(kind types.ScannerKind) (Adapter, error) {
	factory, ok := r.factories[kind]
	if !ok {
		return nil, &UnknownScannerKindError{Kind: kind}
	}
	table, ok := r.tables[kind]
	if !ok {
		table = types.DefaultStatusTable()
	}
	return normalizer{kind: kind, adapter: factory(table)}, nil
}

// Normalize converts doc, produced by a scanner of the given kind, into a FindingSet.
func (r *Registry) Normalize(kind types.ScannerKind, doc []byte) (types.FindingSet, error) {
	a, err := r.Get(kind)
	if err != nil {
		return types.FindingSet{}, err
	}
	return a.Normalize(doc)
}

// normalizer attaches the scanner kind and a document snippet to adapter errors.
type normalizer struct {
	kind    types.ScannerKind
	adapter Adapter
}

func (n normalizer) Kind() types.ScannerKind {
	return n.kind
}

func (n normalizer) Normalize(doc []byte) (types.FindingSet, error) {
	set, err := n.adapter.Normalize(doc)
	if err != nil {
		return types.FindingSet{}, &NormalizationError{
			Kind:    n.kind,
			Snippet: snippet(doc),
			Err:     err,
		}
	}
	return set, nil
}

func snippet(doc []byte) string {
	if len(doc) > snippetSize {
		return string(doc[:snippetSize])
	}
	return string(doc)
}

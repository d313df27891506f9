package types

import (
	"strings"
)

type Status int

var (
	// Statuses is a list of canonical fix statuses.
	// Every scanner vocabulary is folded onto these four values.
	Statuses = []string{
		"unknown",
		"affected",
		"fixed",
		"will_not_fix",
	}
)

const (
	StatusUnknown Status = iota
	StatusAffected
	StatusFixed
	StatusWillNotFix
)

// NewStatus parses a canonical status name. Anything else is StatusUnknown.
func NewStatus(status string) Status {
	for i, s := range Statuses {
		if status == s {
			return Status(i)
		}
	}
	return StatusUnknown
}

// ParseStatus is the strict variant of NewStatus used for configuration input.
func ParseStatus(status string) (Status, bool) {
	for i, s := range Statuses {
		if strings.EqualFold(strings.TrimSpace(status), s) {
			return Status(i), true
		}
	}
	return StatusUnknown, false
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(Statuses) {
		return Statuses[0]
	}
	return Statuses[s]
}

func (s Status) Index() int {
	return int(s)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	*s = NewStatus(string(text))
	return nil
}

// StatusTable maps scanner-native status strings onto canonical statuses.
// It is immutable once built. Lookups match the native value exactly.
type StatusTable struct {
	entries map[string]Status
}

// NewStatusTable copies m into a new table.
func NewStatusTable(m map[string]Status) StatusTable {
	entries := make(map[string]Status, len(m))
	for native, status := range m {
		entries[native] = status
	}
	return StatusTable{entries: entries}
}

// DefaultStatusTable returns the table shared by the built-in scanners.
func DefaultStatusTable() StatusTable {
	return NewStatusTable(map[string]Status{
		"fixed":        StatusFixed,
		"not-fixed":    StatusAffected,
		"affected":     StatusAffected,
		"wont-fix":     StatusWillNotFix,
		"will_not_fix": StatusWillNotFix,
	})
}

// Map returns the canonical status for a native value. Values missing from
// the table, including the empty string, are StatusUnknown.
func (t StatusTable) Map(native string) Status {
	if s, ok := t.entries[native]; ok {
		return s
	}
	return StatusUnknown
}

// Len returns the number of native values in the table.
func (t StatusTable) Len() int {
	return len(t.entries)
}

// Entries returns a copy of the table contents.
func (t StatusTable) Entries() map[string]Status {
	m := make(map[string]Status, len(t.entries))
	for k, v := range t.entries {
		m[k] = v
	}
	return m
}

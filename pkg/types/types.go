package types

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var (
	SeverityNames = []string{
		"UNKNOWN",
		"LOW",
		"MEDIUM",
		"HIGH",
		"CRITICAL",
	}
	SeverityColor = []func(a ...interface{}) string{
		color.New(color.FgCyan).SprintFunc(),
		color.New(color.FgBlue).SprintFunc(),
		color.New(color.FgYellow).SprintFunc(),
		color.New(color.FgHiRed).SprintFunc(),
		color.New(color.FgRed).SprintFunc(),
	}

	// severityAliases covers vocabularies that don't use the canonical names.
	severityAliases = map[string]Severity{
		"negligible": SeverityLow,
		"moderate":   SeverityMedium,
	}
)

// NewSeverity parses a canonical severity name.
func NewSeverity(severity string) (Severity, error) {
	for i, name := range SeverityNames {
		if severity == name {
			return Severity(i), nil
		}
	}
	return SeverityUnknown, fmt.Errorf("unknown severity: %s", severity)
}

// ParseSeverity accepts any casing and a few scanner-specific aliases.
// Unrecognized or empty values are SeverityUnknown.
func ParseSeverity(severity string) Severity {
	s := strings.TrimSpace(severity)
	if sev, err := NewSeverity(strings.ToUpper(s)); err == nil {
		return sev
	}
	if sev, ok := severityAliases[strings.ToLower(s)]; ok {
		return sev
	}
	return SeverityUnknown
}

func ColorizeSeverity(severity string) string {
	for i, name := range SeverityNames {
		if severity == name {
			return SeverityColor[i](severity)
		}
	}
	return color.New(color.FgBlue).SprintFunc()(severity)
}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(SeverityNames) {
		return SeverityNames[0]
	}
	return SeverityNames[s]
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	*s = ParseSeverity(string(text))
	return nil
}

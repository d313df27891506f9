package grype

// document is the subset of `grype -o json` output needed for normalization.
type document struct {
	Matches []match `json:"matches"`
}

type match struct {
	Vulnerability vulnerability `json:"vulnerability"`
	Artifact      artifact      `json:"artifact"`
}

type vulnerability struct {
	ID         string `json:"id"`
	DataSource string `json:"dataSource"`
	Severity   string `json:"severity"`
	Fix        fix    `json:"fix"`
}

type fix struct {
	Versions []string `json:"versions"`
	State    string   `json:"state"`
}

type artifact struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Type    string `json:"type"`
}

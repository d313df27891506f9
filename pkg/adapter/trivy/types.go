package trivy

// report is the subset of `trivy image --format json` output needed for normalization.
type report struct {
	SchemaVersion int      `json:",omitempty"`
	ArtifactName  string   `json:",omitempty"`
	Results       []result `json:",omitempty"`
}

type result struct {
	Target          string          `json:",omitempty"`
	Class           string          `json:",omitempty"`
	Vulnerabilities []vulnerability `json:",omitempty"`
}

type vulnerability struct {
	VulnerabilityID string `json:",omitempty"`
	PkgName         string `json:",omitempty"`
	Severity        string `json:",omitempty"`
	Status          string `json:",omitempty"`
}

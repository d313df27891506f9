package main

import (
	"flag"
	"os"

	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-reconcile/pkg/adapter"
	"github.com/aquasecurity/vuln-reconcile/pkg/archive"
	"github.com/aquasecurity/vuln-reconcile/pkg/log"
	"github.com/aquasecurity/vuln-reconcile/pkg/reconcile"
	"github.com/aquasecurity/vuln-reconcile/pkg/types"
	"github.com/aquasecurity/vuln-reconcile/pkg/utils"
)

var (
	oldArchive = flag.String("old_file", "cache/archive/old.db", "old archive file")
	newArchive = flag.String("new_file", "cache/archive/reports.db", "new archive file")
	kind       = flag.String("scanner", "trivy", "scanner whose reports are compared")
)

// Reports how one scanner's findings moved between two archive snapshots.
func main() {
	flag.Parse()

	oldDB, err := openArchive(*oldArchive)
	if err != nil {
		log.Error("Failed to open the old archive", log.Err(err))
		os.Exit(1)
	}
	defer oldDB.Close()

	newDB, err := openArchive(*newArchive)
	if err != nil {
		log.Error("Failed to open the new archive", log.Err(err))
		os.Exit(1)
	}
	defer newDB.Close()

	artifacts, err := newDB.Artifacts()
	if err != nil {
		log.Error("Failed to list artifacts", log.Err(err))
		os.Exit(1)
	}

	registry := adapter.NewRegistry(nil)
	scanner := types.ScannerKind(*kind)
	for _, artifact := range artifacts {
		before, err := findings(registry, oldDB, artifact, scanner)
		if err != nil {
			log.Info("Artifact does not exist in the old archive", log.Artifact(artifact))
			continue
		}
		after, err := findings(registry, newDB, artifact, scanner)
		if err != nil {
			log.Warn("Failed to read the new report", log.Artifact(artifact), log.Err(err))
			continue
		}

		result := reconcile.Reconcile(before, after)
		log.Info("Compared snapshots", log.Artifact(artifact),
			log.Int("gone", result.UniqueToA.Len()),
			log.Int("new", result.UniqueToB.Len()),
			log.Int("status_changed", result.Mismatched.Len()))
		for _, id := range result.Mismatched.Values() {
			oldFinding, _ := before.Get(id)
			newFinding, _ := after.Get(id)
			log.Info("Status changed", log.Artifact(artifact), log.String("id", id),
				log.String("old", oldFinding.Status.String()),
				log.String("new", newFinding.Status.String()))
		}
	}
}

func findings(registry *adapter.Registry, a *archive.Archive, artifact string, scanner types.ScannerKind) (types.FindingSet, error) {
	entry, err := a.Get(artifact, scanner)
	if err != nil {
		return types.FindingSet{}, err
	}
	return registry.Normalize(scanner, entry.Document)
}

// openArchive opens an existing archive. bolt would create a missing file.
func openArchive(path string) (*archive.Archive, error) {
	if ok, err := utils.Exists(path); err != nil {
		return nil, err
	} else if !ok {
		return nil, xerrors.Errorf("archive %s does not exist", path)
	}
	return archive.Open(path)
}

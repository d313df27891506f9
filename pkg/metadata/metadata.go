package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/oops"

	"github.com/aquasecurity/vuln-reconcile/pkg/types"
)

const metadataFile = "metadata.json"

// Metadata describes the report archive stored next to it.
type Metadata struct {
	Version   int                 `json:",omitempty"`
	RunID     string              `json:",omitempty"`
	Scanners  []types.ScannerKind `json:",omitempty"`
	UpdatedAt time.Time
}

// Client reads and writes the archive metadata file
type Client struct {
	filePath string
}

func NewClient(archiveDir string) Client {
	return Client{
		filePath: Path(archiveDir),
	}
}

func Path(archiveDir string) string {
	return filepath.Join(archiveDir, metadataFile)
}

func (c Client) Get() (Metadata, error) {
	eb := oops.With("file_path", c.filePath)

	f, err := os.Open(c.filePath)
	if err != nil {
		return Metadata{}, eb.Wrapf(err, "file open error")
	}
	defer f.Close()

	var meta Metadata
	if err = json.NewDecoder(f).Decode(&meta); err != nil {
		return Metadata{}, eb.Wrapf(err, "json decode error")
	}
	return meta, nil
}

// Update overwrites the metadata file, creating its directory when needed.
func (c Client) Update(meta Metadata) error {
	eb := oops.With("file_path", c.filePath)

	if err := os.MkdirAll(filepath.Dir(c.filePath), 0o700); err != nil {
		return eb.Wrapf(err, "mkdir error")
	}

	f, err := os.Create(c.filePath)
	if err != nil {
		return eb.Wrapf(err, "file create error")
	}
	defer f.Close()

	if err = json.NewEncoder(f).Encode(&meta); err != nil {
		return eb.Wrapf(err, "json encode error")
	}
	return nil
}

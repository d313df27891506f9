package archive

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/samber/oops"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/aquasecurity/vuln-reconcile/pkg/types"
)

// SchemaVersion is bumped whenever the bucket layout changes.
const SchemaVersion = 1

const (
	reportsBucket = "reports"
	documentKey   = "document"
	scannedAtKey  = "scanned_at"
)

var ErrNotFound = xerrors.New("report not found")

// Entry is one archived scanner report.
type Entry struct {
	Artifact  string
	Scanner   types.ScannerKind
	ScannedAt time.Time
	Document  []byte
}

// Archive keeps raw scanner reports so they can be reconciled again later.
// Layout: reports/<artifact>/<scanner>/{document,scanned_at}
type Archive struct {
	db    *bolt.DB
	path  string
	clock clock.Clock
}

type Option func(*Archive)

func WithClock(c clock.Clock) Option {
	return func(a *Archive) {
		a.clock = c
	}
}

func Path(cacheDir string) string {
	return filepath.Join(cacheDir, "archive", "reports.db")
}

func Open(path string, opts ...Option) (*Archive, error) {
	eb := oops.With("file_path", path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, eb.Wrapf(err, "mkdir error")
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, eb.Wrapf(err, "failed to open archive")
	}

	a := &Archive{
		db:    db,
		path:  path,
		clock: clock.RealClock{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Archive) Path() string {
	return a.path
}

func (a *Archive) Close() error {
	if err := a.db.Close(); err != nil {
		return xerrors.Errorf("failed to close archive: %w", err)
	}
	return nil
}

// Put stores doc as the latest report of scanner for artifact.
func (a *Archive) Put(artifact string, scanner types.ScannerKind, doc []byte) error {
	eb := oops.With("artifact", artifact, "scanner", scanner)
	scannedAt, err := a.clock.Now().UTC().MarshalText()
	if err != nil {
		return eb.Wrapf(err, "time marshal error")
	}

	err = a.db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists([]byte(reportsBucket))
		if err != nil {
			return xerrors.Errorf("failed to create a bucket: %w", err)
		}
		art, err := root.CreateBucketIfNotExists([]byte(artifact))
		if err != nil {
			return xerrors.Errorf("failed to create a bucket: %w", err)
		}
		bkt, err := art.CreateBucketIfNotExists([]byte(scanner))
		if err != nil {
			return xerrors.Errorf("failed to create a bucket: %w", err)
		}
		if err = bkt.Put([]byte(documentKey), doc); err != nil {
			return err
		}
		return bkt.Put([]byte(scannedAtKey), scannedAt)
	})
	if err != nil {
		return eb.Wrapf(err, "archive update error")
	}
	return nil
}

// Get returns the report of scanner for artifact, or ErrNotFound.
func (a *Archive) Get(artifact string, scanner types.ScannerKind) (Entry, error) {
	entry := Entry{
		Artifact: artifact,
		Scanner:  scanner,
	}
	err := a.db.View(func(tx *bolt.Tx) error {
		bkt := nestedBucket(tx, reportsBucket, artifact, string(scanner))
		if bkt == nil {
			return ErrNotFound
		}

		// Values are only valid during the transaction
		doc := bkt.Get([]byte(documentKey))
		entry.Document = make([]byte, len(doc))
		copy(entry.Document, doc)

		return entry.ScannedAt.UnmarshalText(bkt.Get([]byte(scannedAtKey)))
	})
	if err != nil {
		return Entry{}, xerrors.Errorf("%s/%s: %w", artifact, scanner, err)
	}
	return entry, nil
}

// Artifacts returns the archived artifact references in lexicographic order.
func (a *Archive) Artifacts() ([]string, error) {
	var artifacts []string
	err := a.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(reportsBucket))
		if root == nil {
			return nil
		}
		return root.ForEach(func(k, _ []byte) error {
			artifacts = append(artifacts, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to list archived artifacts: %w", err)
	}
	sort.Strings(artifacts)
	return artifacts, nil
}

func nestedBucket(tx *bolt.Tx, names ...string) *bolt.Bucket {
	bkt := tx.Bucket([]byte(names[0]))
	for _, name := range names[1:] {
		if bkt == nil {
			return nil
		}
		bkt = bkt.Bucket([]byte(name))
	}
	return bkt
}

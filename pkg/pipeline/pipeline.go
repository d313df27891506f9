package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-reconcile/pkg/adapter"
	"github.com/aquasecurity/vuln-reconcile/pkg/archive"
	"github.com/aquasecurity/vuln-reconcile/pkg/log"
	"github.com/aquasecurity/vuln-reconcile/pkg/metrics"
	"github.com/aquasecurity/vuln-reconcile/pkg/reconcile"
	"github.com/aquasecurity/vuln-reconcile/pkg/report"
	"github.com/aquasecurity/vuln-reconcile/pkg/scanner"
	"github.com/aquasecurity/vuln-reconcile/pkg/types"
)

// ArtifactError records why one artifact could not be processed.
type ArtifactError struct {
	Artifact string
	Err      error
}

func (e ArtifactError) Error() string {
	return fmt.Sprintf("%s: %v", e.Artifact, e.Err)
}

func (e ArtifactError) Unwrap() error {
	return e.Err
}

// Pipeline runs adapter → reconcile → report for every artifact.
// Artifacts are independent; a failure is recorded and the run moves on.
type Pipeline struct {
	registry *adapter.Registry
	runner   scanner.Runner
	writer   report.Writer
	archive  *archive.Archive
	metrics  *metrics.Recorder
	limiter  *rate.Limiter
	out      io.Writer

	scannerA    types.ScannerKind
	scannerB    types.ScannerKind
	verbose     bool
	parallelism int
}

type Option func(*Pipeline)

func WithRunner(r scanner.Runner) Option {
	return func(p *Pipeline) {
		p.runner = r
	}
}

func WithWriter(w report.Writer) Option {
	return func(p *Pipeline) {
		p.writer = w
	}
}

// WithArchive stores every scanner report fetched by the runner.
func WithArchive(a *archive.Archive) Option {
	return func(p *Pipeline) {
		p.archive = a
	}
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithScanRate caps scanner invocations per second. Zero or less means no cap.
func WithScanRate(perSecond float64) Option {
	return func(p *Pipeline) {
		if perSecond <= 0 {
			p.limiter = nil
			return
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func WithScanners(a, b types.ScannerKind) Option {
	return func(p *Pipeline) {
		p.scannerA = a
		p.scannerB = b
	}
}

func WithVerbose(verbose bool) Option {
	return func(p *Pipeline) {
		p.verbose = verbose
	}
}

func WithParallelism(n int) Option {
	return func(p *Pipeline) {
		p.parallelism = n
	}
}

func New(registry *adapter.Registry, out io.Writer, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry:    registry,
		runner:      scanner.NewExecRunner(),
		writer:      report.TableWriter{},
		out:         out,
		scannerA:    "trivy",
		scannerB:    "grype",
		parallelism: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.parallelism < 1 {
		p.parallelism = 1
	}
	return p
}

// fetchFunc returns the raw report of one scanner for one artifact.
type fetchFunc func(ctx context.Context, artifact string, kind types.ScannerKind) ([]byte, error)

// Compare scans every image with both scanners and reports their agreement.
func (p *Pipeline) Compare(ctx context.Context, images []string) []ArtifactError {
	return p.each(ctx, images, func(ctx context.Context, image string, w io.Writer) error {
		return p.compare(ctx, image, w, p.scan)
	})
}

// Replay reconciles reports kept in the archive without running any scanner.
// With no artifacts given, every archived artifact is replayed.
func (p *Pipeline) Replay(ctx context.Context, artifacts []string) ([]ArtifactError, error) {
	if p.archive == nil {
		return nil, xerrors.New("no archive configured")
	}
	if len(artifacts) == 0 {
		var err error
		if artifacts, err = p.archive.Artifacts(); err != nil {
			return nil, err
		}
	}
	return p.each(ctx, artifacts, func(ctx context.Context, artifact string, w io.Writer) error {
		return p.compare(ctx, artifact, w, p.archived)
	}), nil
}

// Scan reports the severity breakdown of a single scanner for every image.
func (p *Pipeline) Scan(ctx context.Context, kind types.ScannerKind, images []string) []ArtifactError {
	return p.each(ctx, images, func(ctx context.Context, image string, w io.Writer) error {
		set, err := p.normalize(ctx, image, kind, p.scan)
		if err != nil {
			return err
		}
		return p.writer.WriteSeverities(w, image, report.Severities(set))
	})
}

func (p *Pipeline) compare(ctx context.Context, artifact string, w io.Writer, fetch fetchFunc) error {
	a, err := p.normalize(ctx, artifact, p.scannerA, fetch)
	if err != nil {
		return err
	}
	b, err := p.normalize(ctx, artifact, p.scannerB, fetch)
	if err != nil {
		return err
	}

	result := reconcile.Reconcile(a, b)
	p.metrics.Reconciled(result)
	return p.writer.WriteComparison(w, artifact, report.Summarize(result, a, b, p.verbose))
}

func (p *Pipeline) normalize(ctx context.Context, artifact string, kind types.ScannerKind, fetch fetchFunc) (types.FindingSet, error) {
	a, err := p.registry.Get(kind)
	if err != nil {
		return types.FindingSet{}, err
	}
	doc, err := fetch(ctx, artifact, kind)
	if err != nil {
		return types.FindingSet{}, err
	}
	return a.Normalize(doc)
}

func (p *Pipeline) scan(ctx context.Context, image string, kind types.ScannerKind) ([]byte, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	doc, err := p.runner.Run(ctx, kind, image)
	p.metrics.ObserveScan(kind, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	if p.archive != nil {
		if err = p.archive.Put(image, kind, doc); err != nil {
			log.Warn("Failed to archive report", log.Artifact(image), log.Scanner(string(kind)), log.Err(err))
		}
	}
	return doc, nil
}

func (p *Pipeline) archived(_ context.Context, artifact string, kind types.ScannerKind) ([]byte, error) {
	entry, err := p.archive.Get(artifact, kind)
	if err != nil {
		return nil, err
	}
	return entry.Document, nil
}

// each processes artifacts with up to p.parallelism workers. Output of one
// artifact is buffered and written in one piece, in input order.
func (p *Pipeline) each(ctx context.Context, artifacts []string,
	fn func(ctx context.Context, artifact string, w io.Writer) error) []ArtifactError {
	var (
		mu      sync.Mutex
		next    int
		done    = make([]bool, len(artifacts))
		buffers = make([]*bytes.Buffer, len(artifacts))
		errs    = make([]error, len(artifacts))
	)

	flush := func() {
		for ; next < len(artifacts) && done[next]; next++ {
			if _, err := buffers[next].WriteTo(p.out); err != nil {
				log.Error("Failed to write report", log.Artifact(artifacts[next]), log.Err(err))
			}
			buffers[next] = nil
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for i, artifact := range artifacts {
		i, artifact := i, artifact
		g.Go(func() error {
			logger := log.WithPrefix(artifact)
			logger.Info("Processing artifact...")

			buf := &bytes.Buffer{}
			err := ctx.Err()
			if err == nil {
				err = fn(ctx, artifact, buf)
			}
			if err != nil {
				logger.Error("Failed to process artifact", log.Err(err))
				buf.Reset()
			}
			p.metrics.ArtifactDone(err)

			mu.Lock()
			defer mu.Unlock()
			buffers[i], errs[i], done[i] = buf, err, true
			flush()
			return nil
		})
	}
	_ = g.Wait()

	var failed []ArtifactError
	for i, err := range errs {
		if err != nil {
			failed = append(failed, ArtifactError{Artifact: artifacts[i], Err: err})
		}
	}
	return failed
}

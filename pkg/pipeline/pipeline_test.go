package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
	fake "k8s.io/utils/clock/testing"

	"github.com/aquasecurity/vuln-reconcile/pkg/adapter"
	"github.com/aquasecurity/vuln-reconcile/pkg/archive"
	"github.com/aquasecurity/vuln-reconcile/pkg/metrics"
	"github.com/aquasecurity/vuln-reconcile/pkg/pipeline"
	"github.com/aquasecurity/vuln-reconcile/pkg/report"
	"github.com/aquasecurity/vuln-reconcile/pkg/scanner"
	"github.com/aquasecurity/vuln-reconcile/pkg/types"
)

const (
	trivyDoc = `{"Results":[{"Target":"alpine","Vulnerabilities":[
		{"VulnerabilityID":"CVE-2024-1","Status":"fixed","Severity":"CRITICAL"},
		{"VulnerabilityID":"CVE-2024-2","Status":"affected","Severity":"CRITICAL"},
		{"VulnerabilityID":"CVE-2024-4","Status":"affected","Severity":"HIGH"}]}]}`
	grypeDoc = `{"matches":[
		{"vulnerability":{"id":"CVE-2024-1","severity":"Critical","fix":{"state":"not-fixed"}}},
		{"vulnerability":{"id":"CVE-2024-3","severity":"Low","fix":{"state":"wont-fix"}}},
		{"vulnerability":{"id":"CVE-2024-4","severity":"High","fix":{"state":"not-fixed"}}}]}`

	wantComparison = `alpine:3.19 (trivy vs grype)
Common CVEs with matching fix statuses: 1
  CVE-2024-4: affected
Common CVEs with mismatched fix statuses: 1
  CVE-2024-1: trivy=fixed, grype=affected
Unique to trivy: 1
  CVEs unique to trivy: CVE-2024-2
Unique to grype: 1
  CVEs unique to grype: CVE-2024-3
`
)

func TestPipeline_Compare(t *testing.T) {
	runner := new(scanner.MockRunner)
	runner.On("Run", mock.Anything, types.ScannerKind("trivy"), "alpine:3.19").Return([]byte(trivyDoc), nil)
	runner.On("Run", mock.Anything, types.ScannerKind("grype"), "alpine:3.19").Return([]byte(grypeDoc), nil)
	runner.On("Run", mock.Anything, types.ScannerKind("trivy"), "broken:latest").Return([]byte(`[]`), nil)
	runner.On("Run", mock.Anything, types.ScannerKind("trivy"), "missing:latest").Return(nil, xerrors.New("MANIFEST_UNKNOWN"))

	var out bytes.Buffer
	p := pipeline.New(adapter.NewRegistry(nil), &out,
		pipeline.WithRunner(runner),
		pipeline.WithVerbose(true),
	)

	failed := p.Compare(context.Background(), []string{"broken:latest", "alpine:3.19", "missing:latest"})
	require.Len(t, failed, 2)

	assert.Equal(t, "broken:latest", failed[0].Artifact)
	var normErr *adapter.NormalizationError
	assert.True(t, errors.As(failed[0], &normErr))
	assert.Equal(t, types.ScannerKind("trivy"), normErr.Kind)

	assert.Equal(t, "missing:latest", failed[1].Artifact)
	assert.ErrorContains(t, failed[1], "MANIFEST_UNKNOWN")

	assert.Equal(t, wantComparison, out.String())
	runner.AssertExpectations(t)
}

func TestPipeline_Metrics(t *testing.T) {
	runner := new(scanner.MockRunner)
	runner.On("Run", mock.Anything, types.ScannerKind("trivy"), "alpine:3.19").Return([]byte(trivyDoc), nil)
	runner.On("Run", mock.Anything, types.ScannerKind("grype"), "alpine:3.19").Return([]byte(grypeDoc), nil)
	runner.On("Run", mock.Anything, types.ScannerKind("trivy"), "missing:latest").Return(nil, xerrors.New("MANIFEST_UNKNOWN"))

	recorder := metrics.NewRecorder()
	p := pipeline.New(adapter.NewRegistry(nil), &bytes.Buffer{},
		pipeline.WithRunner(runner),
		pipeline.WithMetrics(recorder),
	)
	require.Len(t, p.Compare(context.Background(), []string{"alpine:3.19", "missing:latest"}), 1)

	want := `
# HELP vuln_reconcile_artifacts_total Artifacts processed, by outcome
# TYPE vuln_reconcile_artifacts_total counter
vuln_reconcile_artifacts_total{result="failure"} 1
vuln_reconcile_artifacts_total{result="success"} 1
# HELP vuln_reconcile_scans_total Scanner invocations, by scanner and outcome
# TYPE vuln_reconcile_scans_total counter
vuln_reconcile_scans_total{result="failure",scanner="trivy"} 1
vuln_reconcile_scans_total{result="success",scanner="grype"} 1
vuln_reconcile_scans_total{result="success",scanner="trivy"} 1
# HELP vuln_reconcile_findings_total Reconciled findings, by category
# TYPE vuln_reconcile_findings_total counter
vuln_reconcile_findings_total{category="matching"} 1
vuln_reconcile_findings_total{category="mismatched"} 1
vuln_reconcile_findings_total{category="unique_to_a"} 1
vuln_reconcile_findings_total{category="unique_to_b"} 1
`
	require.NoError(t, testutil.GatherAndCompare(recorder.Gatherer(), strings.NewReader(want),
		"vuln_reconcile_artifacts_total", "vuln_reconcile_scans_total", "vuln_reconcile_findings_total"))
}

func TestPipeline_ScanRate(t *testing.T) {
	runner := new(scanner.MockRunner)
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).Return([]byte(`{}`), nil)

	p := pipeline.New(adapter.NewRegistry(nil), &bytes.Buffer{},
		pipeline.WithRunner(runner),
		pipeline.WithScanRate(20),
		pipeline.WithParallelism(2),
	)

	start := time.Now()
	require.Empty(t, p.Compare(context.Background(), []string{"alpine:3.19", "nginx:latest"}))
	// four scans at 20/s with a burst of one
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	runner.AssertNumberOfCalls(t, "Run", 4)
}

func TestPipeline_CompareUnknownScanner(t *testing.T) {
	runner := new(scanner.MockRunner)
	runner.On("Run", mock.Anything, types.ScannerKind("trivy"), "alpine:3.19").Return([]byte(trivyDoc), nil)

	var out bytes.Buffer
	p := pipeline.New(adapter.NewRegistry(nil), &out,
		pipeline.WithRunner(runner),
		pipeline.WithScanners("trivy", "clair"),
	)

	failed := p.Compare(context.Background(), []string{"alpine:3.19"})
	require.Len(t, failed, 1)
	var kindErr *adapter.UnknownScannerKindError
	assert.True(t, errors.As(failed[0], &kindErr))
	assert.Empty(t, out.String())
}

func TestPipeline_Scan(t *testing.T) {
	runner := new(scanner.MockRunner)
	runner.On("Run", mock.Anything, types.ScannerKind("trivy"), "alpine:3.19").Return([]byte(trivyDoc), nil)

	var out bytes.Buffer
	p := pipeline.New(adapter.NewRegistry(nil), &out, pipeline.WithRunner(runner))

	failed := p.Scan(context.Background(), "trivy", []string{"alpine:3.19"})
	assert.Empty(t, failed)
	assert.Equal(t, `alpine:3.19 (trivy)
CRITICAL: 2 vulnerabilities
Critical CVEs: CVE-2024-1, CVE-2024-2
HIGH: 1 vulnerabilities
MEDIUM: 0 vulnerabilities
LOW: 0 vulnerabilities
`, out.String())
}

// slowRunner answers later for artifacts that come first, so workers finish out of order.
type slowRunner struct {
	mu    sync.Mutex
	calls int
}

func (r *slowRunner) Run(_ context.Context, kind types.ScannerKind, image string) ([]byte, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	var n int
	fmt.Sscanf(strings.TrimPrefix(image, "app"), "%d", &n)
	time.Sleep(time.Duration(10-n) * 5 * time.Millisecond)

	if kind == "trivy" {
		return []byte(fmt.Sprintf(`{"Results":[{"Vulnerabilities":[{"VulnerabilityID":"CVE-2024-%d","Status":"fixed"}]}]}`, n)), nil
	}
	return []byte(fmt.Sprintf(`{"matches":[{"vulnerability":{"id":"CVE-2024-%d","fix":{"state":"fixed"}}}]}`, n)), nil
}

func TestPipeline_Parallel(t *testing.T) {
	var images []string
	for i := 0; i < 10; i++ {
		images = append(images, fmt.Sprintf("app%d", i))
	}

	runner := &slowRunner{}
	var out bytes.Buffer
	p := pipeline.New(adapter.NewRegistry(nil), &out,
		pipeline.WithRunner(runner),
		pipeline.WithVerbose(true),
		pipeline.WithParallelism(4),
	)

	failed := p.Compare(context.Background(), images)
	require.Empty(t, failed)
	assert.Equal(t, 20, runner.calls)

	var want strings.Builder
	for i, image := range images {
		fmt.Fprintf(&want, `%s (trivy vs grype)
Common CVEs with matching fix statuses: 1
  CVE-2024-%d: fixed
Common CVEs with mismatched fix statuses: 0
Unique to trivy: 0
Unique to grype: 0
`, image, i)
	}
	assert.Equal(t, want.String(), out.String())
}

func TestPipeline_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	p := pipeline.New(adapter.NewRegistry(nil), &out, pipeline.WithRunner(new(scanner.MockRunner)))
	failed := p.Compare(ctx, []string{"alpine:3.19", "nginx:latest"})
	require.Len(t, failed, 2)
	for _, f := range failed {
		assert.ErrorIs(t, f, context.Canceled)
	}
}

func TestPipeline_ArchiveAndReplay(t *testing.T) {
	clock := fake.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	a, err := archive.Open(archive.Path(t.TempDir()), archive.WithClock(clock))
	require.NoError(t, err)
	defer a.Close()

	runner := new(scanner.MockRunner)
	runner.On("Run", mock.Anything, types.ScannerKind("trivy"), "alpine:3.19").Return([]byte(trivyDoc), nil).Once()
	runner.On("Run", mock.Anything, types.ScannerKind("grype"), "alpine:3.19").Return([]byte(grypeDoc), nil).Once()

	var out bytes.Buffer
	p := pipeline.New(adapter.NewRegistry(nil), &out,
		pipeline.WithRunner(runner),
		pipeline.WithArchive(a),
		pipeline.WithVerbose(true),
	)
	require.Empty(t, p.Compare(context.Background(), []string{"alpine:3.19"}))
	runner.AssertExpectations(t)

	entry, err := a.Get("alpine:3.19", "grype")
	require.NoError(t, err)
	assert.Equal(t, grypeDoc, string(entry.Document))
	assert.Equal(t, clock.Now(), entry.ScannedAt)

	out.Reset()
	failed, err := p.Replay(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.Equal(t, wantComparison, out.String())

	out.Reset()
	failed, err = p.Replay(context.Background(), []string{"nginx:latest"})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0], archive.ErrNotFound)
}

func TestPipeline_ReplayWithoutArchive(t *testing.T) {
	p := pipeline.New(adapter.NewRegistry(nil), &bytes.Buffer{})
	_, err := p.Replay(context.Background(), nil)
	assert.EqualError(t, err, "no archive configured")
}

func TestPipeline_JSON(t *testing.T) {
	runner := new(scanner.MockRunner)
	runner.On("Run", mock.Anything, types.ScannerKind("trivy"), "alpine:3.19").Return([]byte(trivyDoc), nil)
	runner.On("Run", mock.Anything, types.ScannerKind("grype"), "alpine:3.19").Return([]byte(grypeDoc), nil)

	var out bytes.Buffer
	p := pipeline.New(adapter.NewRegistry(nil), &out,
		pipeline.WithRunner(runner),
		pipeline.WithWriter(report.JSONWriter{}),
	)
	require.Empty(t, p.Compare(context.Background(), []string{"alpine:3.19"}))
	assert.JSONEq(t, `{
		"Artifact": "alpine:3.19",
		"Comparison": {"ScannerA": "trivy", "ScannerB": "grype", "Matching": 1, "Mismatched": 1, "UniqueToA": 1, "UniqueToB": 1}
	}`, out.String())
}

package pkg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/samber/lo"
	"github.com/urfave/cli"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-reconcile/pkg/adapter"
	"github.com/aquasecurity/vuln-reconcile/pkg/archive"
	"github.com/aquasecurity/vuln-reconcile/pkg/artifact"
	"github.com/aquasecurity/vuln-reconcile/pkg/config"
	"github.com/aquasecurity/vuln-reconcile/pkg/log"
	"github.com/aquasecurity/vuln-reconcile/pkg/metadata"
	"github.com/aquasecurity/vuln-reconcile/pkg/metrics"
	"github.com/aquasecurity/vuln-reconcile/pkg/pipeline"
	"github.com/aquasecurity/vuln-reconcile/pkg/reconcile"
	"github.com/aquasecurity/vuln-reconcile/pkg/report"
	"github.com/aquasecurity/vuln-reconcile/pkg/scanner"
	"github.com/aquasecurity/vuln-reconcile/pkg/types"
	"github.com/aquasecurity/vuln-reconcile/pkg/utils"
)

// AppConfig holds the collaborators the commands run with.
// A nil Runner runs the scanners as child processes.
type AppConfig struct {
	Runner scanner.Runner
}

var (
	verboseFlag = cli.BoolFlag{
		Name:  "verbose, v",
		Usage: "list every CVE per category",
	}
	formatFlag = cli.StringFlag{
		Name:  "format, f",
		Usage: "output format (table, json, template)",
		Value: report.FormatTable,
	}
	templateFlag = cli.StringFlag{
		Name:  "template, t",
		Usage: "output template, \"@file\" reads it from a file",
	}
	metricsFileFlag = cli.StringFlag{
		Name:  "metrics-file",
		Usage: "write Prometheus metrics of the run to this file",
	}
	scanRateFlag = cli.Float64Flag{
		Name:  "scan-rate",
		Usage: "maximum scanner invocations per second (0 for no limit)",
	}
	parallelFlag = cli.IntFlag{
		Name:  "parallel, p",
		Usage: "number of artifacts processed concurrently",
		Value: 1,
	}
	imagesFileFlag = cli.StringFlag{
		Name:  "images-file",
		Usage: "file listing images to scan, one per line",
	}
	gcrFlag = cli.StringFlag{
		Name:  "gcr",
		Usage: "scan every image of the gcr.io/<project> repository",
	}
	gcrAccountFlag = cli.StringFlag{
		Name:  "gcr-account",
		Usage: "gcloud account used to list a private GCR repository",
	}
	archiveFlag = cli.StringFlag{
		Name:  "archive",
		Usage: "bbolt file keeping raw scanner reports",
	}
	scannerAFlag = cli.StringFlag{
		Name:  "scanner-a",
		Usage: "first scanner",
		Value: "trivy",
	}
	scannerBFlag = cli.StringFlag{
		Name:  "scanner-b",
		Usage: "second scanner",
		Value: "grype",
	}
	progressFlag = cli.BoolFlag{
		Name:  "progress",
		Usage: "show a spinner on stderr while scanners run",
	}
)

func (ac AppConfig) NewApp(version string) *cli.App {
	app := cli.NewApp()
	app.Name = "vuln-reconcile"
	app.Version = version
	app.Usage = "Reconcile vulnerability reports of two scanners"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "config file (YAML or TOML)",
		},
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "debug mode",
		},
		cli.BoolFlag{
			Name:  "no-color",
			Usage: "disable colored output",
		},
	}
	app.Before = func(c *cli.Context) error {
		log.SetLogger(log.NewLogger(os.Stderr, c.GlobalBool("debug")))
		if c.GlobalBool("no-color") {
			color.NoColor = true
		}
		return nil
	}

	app.Commands = []cli.Command{
		{
			Name:      "compare",
			Usage:     "scan images with two scanners and compare their findings",
			ArgsUsage: "IMAGE...",
			Action:    ac.compare,
			Flags: []cli.Flag{
				verboseFlag, formatFlag, templateFlag, parallelFlag, imagesFileFlag, gcrFlag, gcrAccountFlag,
				archiveFlag, scannerAFlag, scannerBFlag, progressFlag, metricsFileFlag, scanRateFlag,
			},
		},
		{
			Name:      "scan",
			Usage:     "summarize one scanner's findings per severity",
			ArgsUsage: "IMAGE...",
			Action:    ac.scan,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "scanner, s",
					Usage: "scanner to run",
					Value: "trivy",
				},
				formatFlag, templateFlag, parallelFlag, imagesFileFlag, gcrFlag, gcrAccountFlag, archiveFlag,
				progressFlag, metricsFileFlag, scanRateFlag,
			},
		},
		{
			Name:      "diff",
			Usage:     "compare two report files without running scanners",
			ArgsUsage: "REPORT_A REPORT_B",
			Action:    diff,
			Flags: []cli.Flag{
				verboseFlag, formatFlag, templateFlag,
				cli.StringFlag{
					Name:  "a-kind",
					Usage: "scanner that produced REPORT_A",
					Value: "trivy",
				},
				cli.StringFlag{
					Name:  "b-kind",
					Usage: "scanner that produced REPORT_B",
					Value: "grype",
				},
			},
		},
		{
			Name:      "replay",
			Usage:     "compare reports kept in an archive",
			ArgsUsage: "[ARTIFACT...]",
			Action:    replay,
			Flags: []cli.Flag{
				verboseFlag, formatFlag, templateFlag, parallelFlag, archiveFlag,
				scannerAFlag, scannerBFlag, metricsFileFlag,
			},
		},
	}

	return app
}

// options merges the config file with command flags; flags win.
type options struct {
	cfg      config.Config
	registry *adapter.Registry
	writer   report.Writer
	metrics  *metrics.Recorder
	parallel int
	archive  string
}

func loadOptions(c *cli.Context) (options, error) {
	var opts options
	if path := c.GlobalString("config"); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return options{}, xerrors.Errorf("config error: %w", err)
		}
		opts.cfg = cfg
	}

	format := c.String("format")
	if !c.IsSet("format") && opts.cfg.Format != "" {
		format = opts.cfg.Format
	}
	w, err := report.NewWriter(format, !color.NoColor && isatty.IsTerminal(os.Stdout.Fd()), c.String("template"))
	if err != nil {
		return options{}, err
	}

	opts.parallel = c.Int("parallel")
	if !c.IsSet("parallel") && opts.cfg.Parallelism > 0 {
		opts.parallel = opts.cfg.Parallelism
	}
	opts.archive = c.String("archive")
	if opts.archive == "" {
		opts.archive = opts.cfg.Archive
	}
	opts.writer = w
	opts.registry = adapter.NewRegistry(opts.cfg.StatusTables())
	if c.String("metrics-file") != "" {
		opts.metrics = metrics.NewRecorder()
	}
	return opts, nil
}

// writeMetrics dumps the run metrics when --metrics-file is set.
func writeMetrics(c *cli.Context, opts options) {
	if opts.metrics == nil {
		return
	}
	path := c.String("metrics-file")
	if err := opts.metrics.WriteTextfile(path); err != nil {
		log.Warn("Failed to write metrics", log.FilePath(path), log.Err(err))
	}
}

func (ac AppConfig) runner(c *cli.Context, opts options) scanner.Runner {
	if ac.Runner != nil {
		return ac.Runner
	}
	runnerOpts := []scanner.Option{scanner.WithCommands(opts.cfg.Commands())}
	if c.Bool("progress") {
		runnerOpts = append(runnerOpts, scanner.WithProgress(os.Stderr))
	}
	return scanner.NewExecRunner(runnerOpts...)
}

func images(c *cli.Context) ([]string, error) {
	listers := artifact.Multi{artifact.Static(c.Args())}
	if f := c.String("images-file"); f != "" {
		listers = append(listers, artifact.File(f))
	}
	if project := c.String("gcr"); project != "" {
		listers = append(listers, artifact.NewGCR(project, c.String("gcr-account")))
	}

	refs, err := listers.List(context.Background())
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, xerrors.New("no images specified")
	}
	return refs, nil
}

// checkScanners rejects scanner kinds the registry cannot normalize before any scan runs.
func checkScanners(registry *adapter.Registry, kinds ...string) error {
	supported := registry.Kinds()
	for _, kind := range kinds {
		if !lo.Contains(supported, types.ScannerKind(kind)) {
			return xerrors.Errorf("unknown scanner %q, must be one of %v", kind, supported)
		}
	}
	return nil
}

func openArchive(path string) (*archive.Archive, error) {
	if path == "" {
		return nil, nil
	}
	return archive.Open(path)
}

func (ac AppConfig) compare(c *cli.Context) error {
	opts, err := loadOptions(c)
	if err != nil {
		return err
	}
	if err = checkScanners(opts.registry, c.String("scanner-a"), c.String("scanner-b")); err != nil {
		return err
	}
	refs, err := images(c)
	if err != nil {
		return err
	}
	a, err := openArchive(opts.archive)
	if err != nil {
		return err
	}

	pipelineOpts := []pipeline.Option{
		pipeline.WithRunner(ac.runner(c, opts)),
		pipeline.WithWriter(opts.writer),
		pipeline.WithScanners(types.ScannerKind(c.String("scanner-a")), types.ScannerKind(c.String("scanner-b"))),
		pipeline.WithVerbose(c.Bool("verbose")),
		pipeline.WithParallelism(opts.parallel),
		pipeline.WithMetrics(opts.metrics),
		pipeline.WithScanRate(c.Float64("scan-rate")),
	}
	if a != nil {
		defer a.Close()
		pipelineOpts = append(pipelineOpts, pipeline.WithArchive(a))
	}

	p := pipeline.New(opts.registry, c.App.Writer, pipelineOpts...)
	failed := p.Compare(context.Background(), refs)
	writeMetrics(c, opts)
	if a != nil {
		recordArchive(a, types.ScannerKind(c.String("scanner-a")), types.ScannerKind(c.String("scanner-b")))
	}
	return exitError(failed)
}

func (ac AppConfig) scan(c *cli.Context) error {
	opts, err := loadOptions(c)
	if err != nil {
		return err
	}
	if err = checkScanners(opts.registry, c.String("scanner")); err != nil {
		return err
	}
	refs, err := images(c)
	if err != nil {
		return err
	}
	a, err := openArchive(opts.archive)
	if err != nil {
		return err
	}

	pipelineOpts := []pipeline.Option{
		pipeline.WithRunner(ac.runner(c, opts)),
		pipeline.WithWriter(opts.writer),
		pipeline.WithParallelism(opts.parallel),
		pipeline.WithMetrics(opts.metrics),
		pipeline.WithScanRate(c.Float64("scan-rate")),
	}
	if a != nil {
		defer a.Close()
		pipelineOpts = append(pipelineOpts, pipeline.WithArchive(a))
	}

	kind := types.ScannerKind(c.String("scanner"))
	p := pipeline.New(opts.registry, c.App.Writer, pipelineOpts...)
	failed := p.Scan(context.Background(), kind, refs)
	writeMetrics(c, opts)
	if a != nil {
		recordArchive(a, kind)
	}
	return exitError(failed)
}

func diff(c *cli.Context) error {
	if c.NArg() != 2 {
		return xerrors.New("diff takes exactly two report files")
	}
	opts, err := loadOptions(c)
	if err != nil {
		return err
	}

	sets := make([]types.FindingSet, 2)
	for i, kind := range []string{c.String("a-kind"), c.String("b-kind")} {
		path := c.Args().Get(i)
		doc, err := os.ReadFile(path)
		if err != nil {
			return xerrors.Errorf("failed to read %s: %w", path, err)
		}
		if sets[i], err = opts.registry.Normalize(types.ScannerKind(kind), doc); err != nil {
			return xerrors.Errorf("%s: %w", path, err)
		}
	}

	result := reconcile.Reconcile(sets[0], sets[1])
	return opts.writer.WriteComparison(c.App.Writer, "", report.Summarize(result, sets[0], sets[1], c.Bool("verbose")))
}

func replay(c *cli.Context) error {
	opts, err := loadOptions(c)
	if err != nil {
		return err
	}
	if err = checkScanners(opts.registry, c.String("scanner-a"), c.String("scanner-b")); err != nil {
		return err
	}
	if opts.archive == "" {
		opts.archive = archive.Path(utils.CacheDir())
	}
	if ok, err := utils.Exists(opts.archive); err != nil {
		return err
	} else if !ok {
		return xerrors.Errorf("archive %s does not exist", opts.archive)
	}

	if err = checkArchive(opts.archive); err != nil {
		return err
	}

	a, err := archive.Open(opts.archive)
	if err != nil {
		return err
	}
	defer a.Close()

	p := pipeline.New(opts.registry, c.App.Writer,
		pipeline.WithArchive(a),
		pipeline.WithWriter(opts.writer),
		pipeline.WithScanners(types.ScannerKind(c.String("scanner-a")), types.ScannerKind(c.String("scanner-b"))),
		pipeline.WithVerbose(c.Bool("verbose")),
		pipeline.WithParallelism(opts.parallel),
		pipeline.WithMetrics(opts.metrics),
	)
	failed, err := p.Replay(context.Background(), c.Args())
	if err != nil {
		return err
	}
	writeMetrics(c, opts)
	return exitError(failed)
}

// recordArchive refreshes the metadata file next to the archive.
// Scanner kinds recorded by earlier runs are kept.
func recordArchive(a *archive.Archive, scanners ...types.ScannerKind) {
	client := metadata.NewClient(filepath.Dir(a.Path()))
	if prev, err := client.Get(); err == nil {
		scanners = lo.Uniq(append(prev.Scanners, scanners...))
	}
	meta := metadata.Metadata{
		Version:   archive.SchemaVersion,
		RunID:     uuid.NewString(),
		Scanners:  scanners,
		UpdatedAt: time.Now().UTC(),
	}
	if err := client.Update(meta); err != nil {
		log.Warn("Failed to update archive metadata", log.Err(err))
	}
}

func checkArchive(path string) error {
	meta, err := metadata.NewClient(filepath.Dir(path)).Get()
	if err != nil {
		log.Debug("No archive metadata", log.Err(err))
		return nil
	}
	if meta.Version > archive.SchemaVersion {
		return xerrors.Errorf("archive schema version %d is newer than supported version %d",
			meta.Version, archive.SchemaVersion)
	}
	log.Info("Replaying archive", log.FilePath(path), log.String("updated_at", meta.UpdatedAt.Format(time.RFC3339)))
	return nil
}

func exitError(failed []pipeline.ArtifactError) error {
	if len(failed) == 0 {
		return nil
	}
	return cli.NewExitError(fmt.Sprintf("%d artifact(s) failed", len(failed)), 1)
}

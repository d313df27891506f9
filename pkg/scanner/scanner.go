package scanner

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-reconcile/pkg/log"
	"github.com/aquasecurity/vuln-reconcile/pkg/types"
	"github.com/aquasecurity/vuln-reconcile/pkg/utils"
)

// ImagePlaceholder marks where the image reference goes in a command.
// Commands without it get the reference appended.
const ImagePlaceholder = "{image}"

var ErrNoOutput = xerrors.New("scanner produced no output")

// Runner runs a scanner against an image and returns its raw JSON output.
type Runner interface {
	Run(ctx context.Context, kind types.ScannerKind, image string) ([]byte, error)
}

// DefaultCommands returns the command lines for the builtin scanners.
func DefaultCommands() map[types.ScannerKind][]string {
	return map[types.ScannerKind][]string{
		"trivy": {"trivy", "image", "--quiet", "--format", "json", ImagePlaceholder},
		"grype": {"grype", ImagePlaceholder, "-o", "json"},
	}
}

type Option func(*ExecRunner)

// WithProgress shows a spinner on w while scanners run.
// Concurrent runs share the spinner.
func WithProgress(w io.Writer) Option {
	return func(r *ExecRunner) {
		r.progress = &progress{
			spinner: spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w)),
		}
	}
}

func WithCommands(commands map[types.ScannerKind][]string) Option {
	return func(r *ExecRunner) {
		for kind, argv := range commands {
			r.commands[kind] = argv
		}
	}
}

// ExecRunner runs scanners as child processes.
type ExecRunner struct {
	commands map[types.ScannerKind][]string
	progress *progress
	exec     func(ctx context.Context, argv []string) ([]byte, error)
}

func NewExecRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{
		commands: DefaultCommands(),
		exec:     utils.Exec,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *ExecRunner) Run(ctx context.Context, kind types.ScannerKind, image string) ([]byte, error) {
	argv, err := r.Command(kind, image)
	if err != nil {
		return nil, err
	}

	log.Debug("Running scanner", log.Scanner(string(kind)), log.Artifact(image), log.Any("command", argv))
	if r.progress != nil {
		r.progress.begin(string(kind) + " " + image)
		defer r.progress.end()
	}

	out, err := r.exec(ctx, argv)
	if err != nil {
		return nil, xerrors.Errorf("%s scan error: %w", kind, err)
	}
	if len(out) == 0 {
		return nil, xerrors.Errorf("%s: %w", kind, ErrNoOutput)
	}
	return out, nil
}

// Command returns the command line used to scan image with kind.
func (r *ExecRunner) Command(kind types.ScannerKind, image string) ([]string, error) {
	tmpl, ok := r.commands[kind]
	if !ok || len(tmpl) == 0 {
		return nil, xerrors.Errorf("no command configured for %s", kind)
	}

	argv := make([]string, 0, len(tmpl)+1)
	replaced := false
	for _, arg := range tmpl {
		if arg == ImagePlaceholder {
			arg = image
			replaced = true
		}
		argv = append(argv, arg)
	}
	if !replaced {
		argv = append(argv, image)
	}
	return argv, nil
}

type progress struct {
	mu      sync.Mutex
	spinner *spinner.Spinner
	running int
}

func (p *progress) begin(label string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.running++
	p.setSuffix(label)
	if p.running == 1 {
		p.spinner.Start()
	}
}

func (p *progress) end() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.running--
	switch p.running {
	case 0:
		p.spinner.Stop()
	default:
		p.setSuffix("")
	}
}

func (p *progress) setSuffix(label string) {
	suffix := " " + label
	if p.running > 1 || label == "" {
		suffix = fmt.Sprintf(" %d scan(s) running", p.running)
	}
	p.spinner.Lock()
	p.spinner.Suffix = suffix
	p.spinner.Unlock()
}

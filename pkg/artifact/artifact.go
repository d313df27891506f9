package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-reconcile/pkg/utils"
)

const defaultTag = "latest"

// Lister enumerates the artifacts to reconcile.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// NormalizeImage appends the "latest" tag to references with neither a tag nor a digest.
// A port in the registry host is not a tag.
func NormalizeImage(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.Contains(ref, "@") {
		return ref
	}
	name := ref
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		name = ref[i+1:]
	}
	if strings.Contains(name, ":") {
		return ref
	}
	return ref + ":" + defaultTag
}

// Static lists a fixed set of references.
type Static []string

func (s Static) List(_ context.Context) ([]string, error) {
	return normalize(s), nil
}

// File lists the references in a file, one per line.
type File string

func (f File) List(_ context.Context) ([]string, error) {
	lines, err := utils.ReadLines(string(f))
	if err != nil {
		return nil, xerrors.Errorf("failed to read image list: %w", err)
	}
	return normalize(lines), nil
}

// GCR lists the repositories of a Google Container Registry project with gcloud.
type GCR struct {
	Project string
	// Account is passed to gcloud as --account when set.
	Account string
	exec    func(ctx context.Context, argv []string) ([]byte, error)
}

func NewGCR(project, account string) GCR {
	return GCR{
		Project: project,
		Account: account,
		exec:    utils.Exec,
	}
}

func (g GCR) Repository() string {
	return "gcr.io/" + g.Project
}

func (g GCR) List(ctx context.Context) ([]string, error) {
	argv := []string{
		"gcloud", "container", "images", "list",
		"--repository", g.Repository(),
		"--format", "json",
	}
	if g.Account != "" {
		argv = append(argv, "--account", g.Account)
	}

	out, err := g.run(ctx, argv)
	if err != nil {
		return nil, xerrors.Errorf("failed to list images in %s%s: %w", g.Repository(), g.authHint(ctx), err)
	}

	var images []gcloudImage
	if err = json.Unmarshal(out, &images); err != nil {
		return nil, xerrors.Errorf("failed to decode gcloud output: %w", err)
	}
	return normalize(lo.Map(images, func(img gcloudImage, _ int) string {
		return img.Name
	})), nil
}

// ActiveAccounts returns the gcloud accounts with an ACTIVE credential.
func (g GCR) ActiveAccounts(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, []string{"gcloud", "auth", "list", "--format", "json"})
	if err != nil {
		return nil, xerrors.Errorf("failed to list gcloud accounts: %w", err)
	}

	var accounts []gcloudAccount
	if err = json.Unmarshal(out, &accounts); err != nil {
		return nil, xerrors.Errorf("failed to decode gcloud output: %w", err)
	}
	return lo.FilterMap(accounts, func(a gcloudAccount, _ int) (string, bool) {
		return a.Account, a.Status == "ACTIVE"
	}), nil
}

// authHint explains a failed listing when the registry is not public.
func (g GCR) authHint(ctx context.Context) string {
	if g.Account != "" {
		return ""
	}
	accounts, err := g.ActiveAccounts(ctx)
	switch {
	case err != nil:
		return ""
	case len(accounts) == 0:
		return " (no active gcloud account, run 'gcloud auth login')"
	default:
		return fmt.Sprintf(" (active gcloud accounts: %s, select one with --gcr-account)", strings.Join(accounts, ", "))
	}
}

func (g GCR) run(ctx context.Context, argv []string) ([]byte, error) {
	if g.exec == nil {
		return utils.Exec(ctx, argv)
	}
	return g.exec(ctx, argv)
}

type gcloudImage struct {
	Name string `json:"name"`
}

type gcloudAccount struct {
	Account string `json:"account"`
	Status  string `json:"status"`
}

// Multi concatenates listers, dropping duplicates.
type Multi []Lister

func (m Multi) List(ctx context.Context) ([]string, error) {
	var refs []string
	for _, l := range m {
		r, err := l.List(ctx)
		if err != nil {
			return nil, err
		}
		refs = append(refs, r...)
	}
	return lo.Uniq(refs), nil
}

func normalize(refs []string) []string {
	refs = lo.Map(refs, func(ref string, _ int) string {
		return NormalizeImage(ref)
	})
	return lo.Uniq(lo.Compact(refs))
}

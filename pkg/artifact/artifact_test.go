package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestNormalizeImage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "alpine", want: "alpine:latest"},
		{in: "alpine:3.19", want: "alpine:3.19"},
		{in: "gcr.io/my-project/app", want: "gcr.io/my-project/app:latest"},
		{in: "localhost:5000/app", want: "localhost:5000/app:latest"},
		{in: "localhost:5000/app:v1", want: "localhost:5000/app:v1"},
		{in: "app@sha256:7b3ccabffc97de872a30dfd234fd972a66d247c8cfc69b0550f276481852627c", want: "app@sha256:7b3ccabffc97de872a30dfd234fd972a66d247c8cfc69b0550f276481852627c"},
		{in: "  nginx ", want: "nginx:latest"},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeImage(tt.in))
		})
	}
}

func TestStatic_List(t *testing.T) {
	got, err := Static{"alpine", "alpine:latest", "", "nginx:1.25"}.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpine:latest", "nginx:1.25"}, got)
}

func TestFile_List(t *testing.T) {
	path := filepath.Join(t.TempDir(), "images.txt")
	require.NoError(t, os.WriteFile(path, []byte("# base images\nalpine\ndebian:12\n\nalpine:latest\n"), 0o600))

	got, err := File(path).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpine:latest", "debian:12"}, got)

	_, err = File(filepath.Join(t.TempDir(), "missing")).List(context.Background())
	assert.ErrorContains(t, err, "failed to read image list")
}

func TestGCR_List(t *testing.T) {
	listArgv := []string{"gcloud", "container", "images", "list", "--repository", "gcr.io/my-project", "--format", "json"}

	tests := []struct {
		name     string
		account  string
		out      string
		err      error
		accounts string
		want     []string
		wantArgv []string
		wantErr  string
	}{
		{
			name:     "happy path",
			out:      `[{"name": "gcr.io/my-project/api"}, {"name": "gcr.io/my-project/web"}]`,
			want:     []string{"gcr.io/my-project/api:latest", "gcr.io/my-project/web:latest"},
			wantArgv: listArgv,
		},
		{
			name:     "with account",
			account:  "ci@my-project.iam.gserviceaccount.com",
			out:      `[{"name": "gcr.io/my-project/api"}]`,
			want:     []string{"gcr.io/my-project/api:latest"},
			wantArgv: append(listArgv, "--account", "ci@my-project.iam.gserviceaccount.com"),
		},
		{
			name:     "empty repository",
			out:      `[]`,
			want:     []string{},
			wantArgv: listArgv,
		},
		{
			name:     "not public and no active account",
			err:      xerrors.New("permission denied"),
			accounts: `[{"account": "old@example.com", "status": ""}]`,
			wantArgv: listArgv,
			wantErr:  "failed to list images in gcr.io/my-project (no active gcloud account, run 'gcloud auth login'): permission denied",
		},
		{
			name:     "not public with active accounts",
			err:      xerrors.New("permission denied"),
			accounts: `[{"account": "dev@example.com", "status": "ACTIVE"}, {"account": "old@example.com", "status": ""}]`,
			wantArgv: listArgv,
			wantErr:  "failed to list images in gcr.io/my-project (active gcloud accounts: dev@example.com, select one with --gcr-account): permission denied",
		},
		{
			name:     "failure with an explicit account",
			account:  "dev@example.com",
			err:      xerrors.New("permission denied"),
			wantArgv: append(listArgv, "--account", "dev@example.com"),
			wantErr:  "failed to list images in gcr.io/my-project: permission denied",
		},
		{
			name:     "broken output",
			out:      `{"name": "gcr.io/my-project/api"}`,
			wantArgv: listArgv,
			wantErr:  "failed to decode gcloud output",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotArgv []string
			g := NewGCR("my-project", tt.account)
			g.exec = func(_ context.Context, argv []string) ([]byte, error) {
				if argv[1] == "auth" {
					return []byte(tt.accounts), nil
				}
				gotArgv = argv
				return []byte(tt.out), tt.err
			}

			got, err := g.List(context.Background())
			assert.Equal(t, tt.wantArgv, gotArgv)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGCR_ActiveAccounts(t *testing.T) {
	g := NewGCR("my-project", "")
	g.exec = func(_ context.Context, argv []string) ([]byte, error) {
		assert.Equal(t, []string{"gcloud", "auth", "list", "--format", "json"}, argv)
		return []byte(`[{"account": "a@example.com", "status": "ACTIVE"}, {"account": "b@example.com", "status": ""}]`), nil
	}

	got, err := g.ActiveAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com"}, got)
}

func TestMulti_List(t *testing.T) {
	path := filepath.Join(t.TempDir(), "images.txt")
	require.NoError(t, os.WriteFile(path, []byte("nginx\nredis\n"), 0o600))

	got, err := Multi{Static{"alpine", "nginx"}, File(path)}.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpine:latest", "nginx:latest", "redis:latest"}, got)

	_, err = Multi{Static{"alpine"}, File(filepath.Join(t.TempDir(), "missing"))}.List(context.Background())
	assert.Error(t, err)
}

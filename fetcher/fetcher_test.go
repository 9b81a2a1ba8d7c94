package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpad/types"
)

// initRepo creates a git repository in dir with one commit containing files.
func initRepo(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)

	for path, content := range files {
		full := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
		_, err := wt.Add(path)
		require.NoError(t, err)
	}

	_, err = wt.Commit("init", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@test", When: time.Now()},
	})
	require.NoError(t, err)
}

func TestFetch_ClonesRepository(t *testing.T) {
	t.Parallel()
	src := t.TempDir()
	initRepo(t, src, map[string]string{
		"package.json": `{"scripts":{"start":"node server.js"}}`,
		"server.js":    `console.log("hi")`,
	})

	dest := filepath.Join(t.TempDir(), "projects", "sample")
	f := New(WithDepth(1))

	require.NoError(t, f.Fetch(context.Background(), "file://"+src, dest))

	data, err := os.ReadFile(filepath.Join(dest, "package.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "node server.js")
	assert.DirExists(t, filepath.Join(dest, ".git"))
}

func TestFetch_ExistingDestinationIsUntouched(t *testing.T) {
	t.Parallel()
	dest := t.TempDir()
	marker := filepath.Join(dest, "keep.txt")
	require.NoError(t, os.WriteFile(marker, []byte("mine"), 0o644))

	err := New().Fetch(context.Background(), "file:///does/not/matter", dest)
	require.ErrorIs(t, err, types.ErrAlreadyExists)

	data, readErr := os.ReadFile(marker)
	require.NoError(t, readErr)
	assert.Equal(t, "mine", string(data))
}

func TestFetch_FailureRemovesReservation(t *testing.T) {
	t.Parallel()
	dest := filepath.Join(t.TempDir(), "broken")

	err := New().Fetch(context.Background(), "file://"+filepath.Join(t.TempDir(), "no-such-repo"), dest)
	require.ErrorIs(t, err, types.ErrFetchFailed)
	assert.NoDirExists(t, dest)
}

func TestFetch_EmptyURL(t *testing.T) {
	t.Parallel()
	err := New().Fetch(context.Background(), "  ", filepath.Join(t.TempDir(), "x"))
	require.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestProjectName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/sample.git", "sample"},
		{"https://github.com/acme/web-app", "web-app"},
		{"https://github.com/acme/web-app/", "web-app"},
		{"git@github.com:acme/api.git", "api"},
		{"git@host:repo.git", "repo"},
		{"https://example.com/releases/site.tar.gz", "site"},
		{"https://example.com/releases/site.zip?token=abc", "site"},
		{"file:///tmp/repos/local", "local"},
		{"  https://example.com/trimmed.git  ", "trimmed"},
	}

	for _, tt := range tests {
		got, err := ProjectName(tt.url)
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.want, got, tt.url)
	}
}

func TestProjectName_Invalid(t *testing.T) {
	t.Parallel()
	for _, url := range []string{"", "/", "https://example.com/..", "https://example.com/.git"} {
		_, err := ProjectName(url)
		assert.ErrorIs(t, err, types.ErrInvalidInput, "url %q", url)
	}
}

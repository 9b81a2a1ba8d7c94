// Package fetcher materialises a project's source repository into a local
// workspace directory.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"launchpad/types"
)

// archiveSuffixes are stripped, in order, from the last URL segment.
var archiveSuffixes = []string{".git", ".tar.gz", ".tgz", ".zip"}

// Fetcher clones repositories with go-git.
type Fetcher struct {
	depth     int
	authToken string
	logger    *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithDepth makes clones shallow. Zero means a full clone.
func WithDepth(depth int) Option {
	return func(f *Fetcher) { f.depth = depth }
}

// WithAuthToken authenticates HTTP(S) clones with a personal access token.
func WithAuthToken(token string) Option {
	return func(f *Fetcher) { f.authToken = token }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = logger }
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch clones sourceURL into destination. destination is reserved with an
// atomic mkdir first, so an existing path yields ALREADY_EXISTS without being
// touched. On clone failure the reserved directory is removed.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL, destination string) error {
	if strings.TrimSpace(sourceURL) == "" {
		return types.Errorf(types.CodeInvalidInput, "fetch", "", "source URL must not be empty")
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return types.NewError(types.CodeFetchFailed, "fetch", "", fmt.Errorf("create workspace root: %w", err))
	}
	if err := os.Mkdir(destination, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return types.Errorf(types.CodeAlreadyExists, "fetch", filepath.Base(destination), "workspace %s already exists", destination)
		}
		return types.NewError(types.CodeFetchFailed, "fetch", "", fmt.Errorf("reserve workspace: %w", err))
	}

	cloneOpts := &git.CloneOptions{
		URL:      sourceURL,
		Progress: nil,
	}
	if f.depth > 0 {
		cloneOpts.Depth = f.depth
	}
	if f.authToken != "" && isHTTPURL(sourceURL) {
		cloneOpts.Auth = &http.BasicAuth{
			Username: "x-access-token",
			Password: f.authToken,
		}
	}

	f.logger.Info("cloning repository", "url", sourceURL, "destination", destination, "depth", f.depth)
	if _, err := git.PlainCloneContext(ctx, destination, false, cloneOpts); err != nil {
		if rmErr := os.RemoveAll(destination); rmErr != nil {
			f.logger.Warn("failed to remove workspace after clone failure", "destination", destination, "error", rmErr)
		}
		return types.NewError(types.CodeFetchFailed, "fetch", filepath.Base(destination), fmt.Errorf("clone %s: %w", sourceURL, err))
	}

	f.logger.Info("repository cloned", "url", sourceURL, "destination", destination)
	return nil
}

// ProjectName derives a project name from its source URL: the last path
// segment with archive and VCS suffixes stripped.
func ProjectName(sourceURL string) (string, error) {
	trimmed := strings.TrimSpace(sourceURL)
	trimmed = strings.TrimRight(trimmed, "/")
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}

	name := trimmed
	if i := strings.LastIndexAny(name, "/:\\"); i >= 0 {
		name = name[i+1:]
	}
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}

	if name == "" || name == "." || name == ".." {
		return "", types.Errorf(types.CodeInvalidInput, "install", "", "cannot derive a project name from %q", sourceURL)
	}
	return name, nil
}

func isHTTPURL(u string) bool {
	return strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://")
}

package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpad/types"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
	return dir
}

func TestResolveStartCommand(t *testing.T) {
	tests := []struct {
		name       string
		manifest   string
		wantScript string
		wantCmd    string
	}{
		{
			name:       "start script",
			manifest:   `{"scripts":{"start":"node server.js"}}`,
			wantScript: "start",
			wantCmd:    "node server.js",
		},
		{
			name:       "start preferred over dev",
			manifest:   `{"scripts":{"dev":"vite","start":"node dist/index.js"}}`,
			wantScript: "start",
			wantCmd:    "node dist/index.js",
		},
		{
			name:       "dev fallback",
			manifest:   `{"name":"app","scripts":{"dev":"nodemon app.js","test":"jest"}}`,
			wantScript: "dev",
			wantCmd:    "nodemon app.js",
		},
		{
			name:       "blank start falls back to dev",
			manifest:   `{"scripts":{"start":"  ","dev":"next dev"}}`,
			wantScript: "dev",
			wantCmd:    "next dev",
		},
		{
			name:       "unrelated non-string scripts ignored",
			manifest:   `{"scripts":{"start":"node index.js","lint":["eslint","."],"retries":3,"ci":null}}`,
			wantScript: "start",
			wantCmd:    "node index.js",
		},
		{
			name:       "non-string start falls back to dev",
			manifest:   `{"scripts":{"start":{"cmd":"x"},"dev":"vite"}}`,
			wantScript: "dev",
			wantCmd:    "vite",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeManifest(t, tt.manifest)

			launch, err := ResolveStartCommand(dir)
			require.NoError(t, err)
			assert.Equal(t, tt.wantScript, launch.Script)
			assert.Equal(t, tt.wantCmd, launch.Command)
			assert.Equal(t, dir, launch.WorkDir)
		})
	}
}

func TestResolveStartCommand_Errors(t *testing.T) {
	t.Run("missing manifest", func(t *testing.T) {
		_, err := ResolveStartCommand(t.TempDir())
		require.ErrorIs(t, err, types.ErrManifest)
		assert.ErrorIs(t, err, ErrManifestMissing)
	})

	t.Run("no scripts", func(t *testing.T) {
		_, err := ResolveStartCommand(writeManifest(t, `{"name":"lib"}`))
		require.ErrorIs(t, err, types.ErrManifest)
		assert.ErrorIs(t, err, ErrNoStartCommand)
	})

	t.Run("only unrelated scripts", func(t *testing.T) {
		_, err := ResolveStartCommand(writeManifest(t, `{"scripts":{"build":"tsc"}}`))
		assert.ErrorIs(t, err, ErrNoStartCommand)
	})

	t.Run("scripts not an object", func(t *testing.T) {
		_, err := ResolveStartCommand(writeManifest(t, `{"scripts":"node index.js"}`))
		require.ErrorIs(t, err, types.ErrManifest)
		assert.ErrorIs(t, err, ErrNoStartCommand)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := ResolveStartCommand(writeManifest(t, `{"scripts":`))
		require.ErrorIs(t, err, types.ErrManifest)
		assert.ErrorIs(t, err, ErrManifestInvalid)
	})
}

// Package manifest resolves the command a project is started with from its
// package.json.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"launchpad/types"
)

// FileName is the manifest looked up in a project's workspace.
const FileName = "package.json"

// Script names in resolution order.
var scriptOrder = []string{"start", "dev"}

var (
	// ErrManifestMissing indicates the workspace has no package.json.
	ErrManifestMissing = errors.New("package.json not found in project")

	// ErrNoStartCommand indicates package.json defines neither a start nor a dev script.
	ErrNoStartCommand = errors.New("no start or dev script found in package.json")

	// ErrManifestInvalid indicates package.json could not be parsed.
	ErrManifestInvalid = errors.New("package.json is not valid JSON")
)

// Only the start and dev entries are type-checked; other scripts may hold
// anything.
type packageJSON struct {
	Name    string          `json:"name"`
	Scripts json.RawMessage `json:"scripts"`
}

// scripts returns the entries of the scripts object. A scripts value that is
// not an object yields none.
func (p packageJSON) scripts() map[string]any {
	var scripts map[string]any
	if len(p.Scripts) == 0 || json.Unmarshal(p.Scripts, &scripts) != nil {
		return nil
	}
	return scripts
}

// ResolveStartCommand reads projectPath/package.json and returns the launch
// for its "start" script, falling back to "dev". Failures are MANIFEST_ERROR.
func ResolveStartCommand(projectPath string) (types.Launch, error) {
	path := filepath.Join(projectPath, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.Launch{}, manifestError(ErrManifestMissing)
		}
		return types.Launch{}, manifestError(fmt.Errorf("read %s: %w", FileName, err))
	}

	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return types.Launch{}, manifestError(fmt.Errorf("%w: %v", ErrManifestInvalid, err))
	}

	scripts := pkg.scripts()
	for _, script := range scriptOrder {
		cmd, _ := scripts[script].(string)
		if cmd = strings.TrimSpace(cmd); cmd != "" {
			return types.Launch{
				Script:  script,
				Command: cmd,
				WorkDir: projectPath,
			}, nil
		}
	}
	return types.Launch{}, manifestError(ErrNoStartCommand)
}

func manifestError(err error) error {
	return types.NewError(types.CodeManifest, "resolve start command", "", err)
}

package manager

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"launchpad/types"
)

// Step is one phase of a launch handed to a Runner.
type Step struct {
	Project  string
	HandleID string
	Phase    types.Phase
	Args     []string          // argv, Args[0] is the program
	WorkDir  string            // host directory the phase runs in
	Env      map[string]string // project environment
	Stdout   io.Writer
	Stderr   io.Writer
}

// Runner starts the phases of a launch. Implementations: ExecRunner (host
// processes) and ContainerRunner (docker).
type Runner interface {
	// Start launches step and returns once it is running. ctx bounds only the
	// start-up work, never the lifetime of the process.
	Start(ctx context.Context, step Step) (Process, error)
}

// Process is a started phase.
type Process interface {
	// Wait blocks until the phase exits. It is called exactly once.
	Wait() (exitCode int, err error)
	// Stop asks the phase to exit, escalating to a kill after grace, and
	// returns once it has exited. Stopping an exited process is a no-op.
	Stop(grace time.Duration) error
}

// OutputSink receives process output chunks as they arrive.
type OutputSink interface {
	Output(project string, stream types.Stream, chunk []byte)
}

// streamWriter forwards every write to the sink, unbuffered.
type streamWriter struct {
	sink    OutputSink
	project string
	stream  types.Stream
}

func (w *streamWriter) Write(p []byte) (int, error) {
	if w.sink != nil {
		w.sink.Output(w.project, w.stream, p)
	}
	return len(p), nil
}

// mergeEnv overlays overrides onto base ("KEY=VALUE" entries). Overrides win
// on collisions; the result is deterministic.
func mergeEnv(base []string, overrides map[string]string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return envList(merged)
}

// envList renders a map as sorted "KEY=VALUE" entries.
func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, k+"="+env[k])
	}
	return list
}

package types

// Status represents the last-known lifecycle state of a project.
type Status string

const (
	// Project lifecycle states
	StatusIdle    Status = "idle"    // Installed, never run
	StatusRunning Status = "running" // Run accepted or process still alive
	StatusStopped Status = "stopped" // Explicitly stopped
	StatusFailed  Status = "failed"  // Spawn failed or process exited non-zero
)

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusStopped, StatusFailed:
		return true
	}
	return false
}

// Stream names an output stream of a supervised process.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Phase names a step of the fixed prepare-then-start launch sequence.
type Phase string

const (
	PhasePrepare Phase = "prepare" // dependency install
	PhaseStart   Phase = "start"   // the resolved start script
)

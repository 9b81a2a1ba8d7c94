package types

import "time"

// Project holds the persisted record of an installed repository.
type Project struct {
	Name        string            `json:"name"`         // Unique identifier derived from the source URL
	SourceURL   string            `json:"repoUrl"`      // Origin repository, immutable after creation
	Status      Status            `json:"status"`       // Last-known lifecycle state
	Environment map[string]string `json:"envVariables"` // Variables overlaid on the host environment at run time
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Launch is the command resolved from a project's manifest.
type Launch struct {
	Script  string // Manifest entry used, "start" or "dev"
	Command string // The entry's command text, informational
	WorkDir string // Directory the phases execute in
}

// ProcessExit is posted exactly once when a supervised launch ends.
type ProcessExit struct {
	Project  string
	HandleID string
	Phase    Phase // Phase that was running when the launch ended
	ExitCode int   // -1 when the process could not be started or was killed by a signal
	Err      error
	Stopped  bool // Termination was requested through Stop
	Duration time.Duration
}

// Success reports whether the launch ended with a clean exit.
func (e ProcessExit) Success() bool {
	return e.Err == nil && e.ExitCode == 0
}

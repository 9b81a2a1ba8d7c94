package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"launchpad/types"
)

const defaultGracePeriod = 10 * time.Second

// LaunchRequest describes what to run for a project.
type LaunchRequest struct {
	Project string
	Launch  types.Launch
	Env     map[string]string
}

// ExitFunc receives the terminal result of a launch. It is invoked exactly
// once per handle, after the handle has left the live table.
type ExitFunc func(types.ProcessExit)

// Supervisor runs the prepare-then-start sequence of each launch and reports
// how it ended.
type Supervisor struct {
	runner Runner
	sink   OutputSink
	state  *StateManager
	logger *slog.Logger

	npm   string
	grace time.Duration

	wg sync.WaitGroup
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithNPM sets the package manager binary used for both phases.
func WithNPM(path string) Option {
	return func(s *Supervisor) {
		if path != "" {
			s.npm = path
		}
	}
}

// WithGracePeriod sets how long Terminate waits before killing.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithLogger sets the supervisor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStateManager shares an existing handle table.
func WithStateManager(sm *StateManager) Option {
	return func(s *Supervisor) {
		if sm != nil {
			s.state = sm
		}
	}
}

// NewSupervisor creates a Supervisor that starts phases with runner and
// forwards their output to sink.
func NewSupervisor(runner Runner, sink OutputSink, opts ...Option) *Supervisor {
	s := &Supervisor{
		runner: runner,
		sink:   sink,
		state:  NewStateManager(),
		logger: slog.Default(),
		npm:    "npm",
		grace:  defaultGracePeriod,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State exposes the handle table and per-project locks.
func (s *Supervisor) State() *StateManager {
	return s.state
}

// Spawn starts the prepare phase of req and returns its handle. The start
// phase follows asynchronously once prepare exits cleanly. Failure to start
// the prepare phase is reported as SPAWN_FAILED and onExit is not invoked.
//
// Callers serialise Spawn per project with State().LockProject.
func (s *Supervisor) Spawn(ctx context.Context, req LaunchRequest, onExit ExitFunc) (*Handle, error) {
	if _, ok := s.state.Live(req.Project); ok {
		return nil, types.Errorf(types.CodeAlreadyRunning, "spawn", req.Project, "project is already running")
	}

	h := newHandle(uuid.NewString(), req.Project)
	proc, err := s.runner.Start(ctx, s.step(h, req, types.PhasePrepare, "install"))
	if err != nil {
		return nil, types.NewError(types.CodeSpawnFailed, "spawn", req.Project, err)
	}
	h.proc = proc

	if !s.state.register(h) {
		go proc.Wait() // Stop waits for the process to be reaped
		if err := proc.Stop(s.grace); err != nil {
			s.logger.Warn("Failed to stop duplicate launch", "project", req.Project, "handle", h.ID, "error", err)
		}
		return nil, types.Errorf(types.CodeAlreadyRunning, "spawn", req.Project, "project is already running")
	}

	s.logger.Info("Launch started", "project", req.Project, "handle", h.ID, "script", req.Launch.Script)

	s.wg.Add(1)
	go s.supervise(h, req, onExit)
	return h, nil
}

func (s *Supervisor) step(h *Handle, req LaunchRequest, phase types.Phase, args ...string) Step {
	return Step{
		Project:  req.Project,
		HandleID: h.ID,
		Phase:    phase,
		Args:     append([]string{s.npm}, args...),
		WorkDir:  req.Launch.WorkDir,
		Env:      req.Env,
		Stdout:   &streamWriter{sink: s.sink, project: req.Project, stream: types.StreamStdout},
		Stderr:   &streamWriter{sink: s.sink, project: req.Project, stream: types.StreamStderr},
	}
}

func (s *Supervisor) supervise(h *Handle, req LaunchRequest, onExit ExitFunc) {
	defer s.wg.Done()

	exit := types.ProcessExit{Project: h.Project, HandleID: h.ID, Phase: types.PhasePrepare}
	exit.ExitCode, exit.Err = h.proc.Wait()

	if exit.Err == nil && exit.ExitCode == 0 {
		exit = s.runStart(h, req, exit)
	}

	exit.Stopped = h.StopRequested()
	exit.Duration = time.Since(h.StartedAt)

	s.state.remove(h)
	h.finish(exit)

	attrs := []any{"project", exit.Project, "handle", exit.HandleID, "phase", exit.Phase, "exitCode", exit.ExitCode, "duration", exit.Duration}
	switch {
	case exit.Stopped:
		s.logger.Info("Launch stopped", attrs...)
	case exit.Success():
		s.logger.Info("Launch exited", attrs...)
	default:
		s.logger.Warn("Launch failed", append(attrs, "error", exit.Err)...)
	}

	if onExit != nil {
		onExit(exit)
	}
}

// runStart launches the start phase after a clean prepare. The handle lock is
// held across the launch so Terminate sees either no process or the new one.
func (s *Supervisor) runStart(h *Handle, req LaunchRequest, exit types.ProcessExit) types.ProcessExit {
	h.mu.Lock()
	if h.stopRequested {
		h.mu.Unlock()
		return exit
	}
	h.phase = types.PhaseStart
	exit.Phase = types.PhaseStart

	proc, err := s.runner.Start(context.Background(), s.step(h, req, types.PhaseStart, "run", req.Launch.Script))
	if err != nil {
		h.mu.Unlock()
		exit.ExitCode = -1
		exit.Err = types.NewError(types.CodeSpawnFailed, "start", h.Project, err)
		return exit
	}
	h.proc = proc
	h.mu.Unlock()

	exit.ExitCode, exit.Err = proc.Wait()
	return exit
}

// Terminate requests h to stop and waits until it has. It is a no-op for a
// launch that has already ended. Failure to confirm the exit is reported as
// TERMINATION_FAILED.
func (s *Supervisor) Terminate(ctx context.Context, h *Handle) error {
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		return nil
	default:
	}
	h.stopRequested = true
	proc := h.proc
	h.mu.Unlock()

	s.logger.Info("Terminating launch", "project", h.Project, "handle", h.ID, "grace", s.grace)

	if err := proc.Stop(s.grace); err != nil {
		return types.NewError(types.CodeTerminationFailed, "terminate", h.Project, err)
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return types.NewError(types.CodeTerminationFailed, "terminate", h.Project,
			fmt.Errorf("waiting for exit: %w", ctx.Err()))
	}
}

// StopAll terminates every live launch concurrently.
func (s *Supervisor) StopAll(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, h := range s.state.handles() {
		g.Go(func() error {
			if err := s.Terminate(ctx, h); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Wait blocks until every supervising goroutine has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

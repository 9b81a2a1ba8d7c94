// Package orchestrator owns the project lifecycle: install, run, stop and
// settings. It drives the fetcher, manifest inspector, supervisor and
// registry, and reconciles project status when a supervised launch ends.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"launchpad/fetcher"
	"launchpad/manager"
	"launchpad/manifest"
	"launchpad/types"
)

const exitBuffer = 64

// Registry persists projects.
type Registry interface {
	Create(ctx context.Context, project types.Project) (types.Project, error)
	Get(ctx context.Context, name string) (types.Project, error)
	List(ctx context.Context) ([]types.Project, error)
	UpdateEnvironment(ctx context.Context, name string, env map[string]string) error
	UpdateStatus(ctx context.Context, name string, status types.Status) error
}

// Fetcher materialises a source repository into a fresh directory.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL, destination string) error
}

// ErrorLog records orchestrator-level failures.
type ErrorLog interface {
	Errorf(format string, args ...any)
}

// Domains registers a public name for newly installed projects.
type Domains interface {
	RegisterProjectDomain(ctx context.Context, project string) (*types.ProjectDomain, error)
}

// Orchestrator implements the lifecycle operations.
type Orchestrator struct {
	registry    Registry
	fetcher     Fetcher
	supervisor  *manager.Supervisor
	errorLog    ErrorLog
	domains     Domains
	resolve     func(projectPath string) (types.Launch, error)
	projectsDir string
	logger      *slog.Logger

	mu      sync.Mutex
	current map[string]string // project -> handle whose exit may still update status

	exits     chan types.ProcessExit
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithErrorLog sets where orchestrator-level failures are appended.
func WithErrorLog(e ErrorLog) Option {
	return func(o *Orchestrator) { o.errorLog = e }
}

// WithDomains enables domain registration on install.
func WithDomains(d Domains) Option {
	return func(o *Orchestrator) { o.domains = d }
}

// New creates an Orchestrator and starts its reconciler. Call Shutdown to
// stop it.
func New(registry Registry, f Fetcher, supervisor *manager.Supervisor, projectsDir string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:    registry,
		fetcher:     f,
		supervisor:  supervisor,
		resolve:     manifest.ResolveStartCommand,
		projectsDir: projectsDir,
		logger:      slog.Default(),
		current:     make(map[string]string),
		exits:       make(chan types.ProcessExit, exitBuffer),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	go o.reconcile()
	return o
}

// Workspace returns the directory a project is installed in.
func (o *Orchestrator) Workspace(name string) string {
	return filepath.Join(o.projectsDir, name)
}

// Install fetches sourceURL into a new workspace and registers the project
// in state idle. Nothing is registered when the fetch fails.
func (o *Orchestrator) Install(ctx context.Context, sourceURL string) (types.Project, error) {
	name, err := fetcher.ProjectName(sourceURL)
	if err != nil {
		return types.Project{}, err
	}

	if _, err := o.registry.Get(ctx, name); err == nil {
		return types.Project{}, types.Errorf(types.CodeAlreadyExists, "install", name, "project already exists")
	} else if !errors.Is(err, types.ErrNotFound) {
		return types.Project{}, err
	}

	dest := o.Workspace(name)
	o.logger.Info("Installing project", "project", name, "source", sourceURL)
	if err := o.fetcher.Fetch(ctx, sourceURL, dest); err != nil {
		if !errors.Is(err, types.ErrAlreadyExists) {
			o.reportf("Failed to install project %s: %v", name, err)
		}
		return types.Project{}, err
	}

	project, err := o.registry.Create(ctx, types.Project{Name: name, SourceURL: sourceURL})
	if err != nil {
		if rmErr := os.RemoveAll(dest); rmErr != nil {
			o.logger.Warn("Failed to remove workspace after failed registration", "project", name, "error", rmErr)
		}
		if !errors.Is(err, types.ErrAlreadyExists) {
			o.reportf("Failed to install project %s: %v", name, err)
		}
		return types.Project{}, err
	}

	if o.domains != nil {
		if _, err := o.domains.RegisterProjectDomain(ctx, name); err != nil {
			o.logger.Warn("Domain registration failed", "project", name, "error", err)
		}
	}

	o.logger.Info("Project installed", "project", name)
	return project, nil
}

// Run launches a project. It returns once the launch is accepted; the
// eventual exit is reconciled into the project's status asynchronously.
func (o *Orchestrator) Run(ctx context.Context, name string) error {
	project, err := o.registry.Get(ctx, name)
	if err != nil {
		return err
	}

	unlock := o.supervisor.State().LockProject(name)
	defer unlock()

	if _, ok := o.supervisor.State().Live(name); ok {
		return types.Errorf(types.CodeAlreadyRunning, "run", name, "project is already running")
	}

	launch, err := o.resolve(o.Workspace(name))
	if err != nil {
		o.reportf("Failed to run project %s: %v", name, err)
		return withProject(err, name)
	}

	if err := o.registry.UpdateStatus(ctx, name, types.StatusRunning); err != nil {
		return err
	}

	h, err := o.supervisor.Spawn(ctx, manager.LaunchRequest{
		Project: name,
		Launch:  launch,
		Env:     project.Environment,
	}, o.postExit)
	if err != nil {
		if statusErr := o.registry.UpdateStatus(context.WithoutCancel(ctx), name, types.StatusFailed); statusErr != nil {
			o.logger.Error("Failed to record spawn failure", "project", name, "error", statusErr)
		}
		o.reportf("Failed to run project %s: %v", name, err)
		return err
	}

	o.setCurrent(name, h.ID)
	o.logger.Info("Project started", "project", name, "script", launch.Script, "handle", h.ID)
	return nil
}

// Stop terminates a project's live launch, if any, and records it stopped.
// The status is stopped even when termination cannot be confirmed; that case
// is reported as TERMINATION_FAILED.
func (o *Orchestrator) Stop(ctx context.Context, name string) error {
	if _, err := o.registry.Get(ctx, name); err != nil {
		return err
	}

	unlock := o.supervisor.State().LockProject(name)
	defer unlock()

	var termErr error
	if h, ok := o.supervisor.State().Live(name); ok {
		termErr = o.supervisor.Terminate(ctx, h)
	}
	o.clearCurrent(name)

	if err := o.registry.UpdateStatus(context.WithoutCancel(ctx), name, types.StatusStopped); err != nil {
		return err
	}
	if termErr != nil {
		o.reportf("Failed to stop project %s: %v", name, termErr)
		return termErr
	}

	o.logger.Info("Project stopped", "project", name)
	return nil
}

// UpdateSettings replaces a project's environment. A running launch keeps
// the environment it started with.
func (o *Orchestrator) UpdateSettings(ctx context.Context, name string, env map[string]string) error {
	clean := make(map[string]string, len(env))
	for k, v := range env {
		if err := validateKey(k); err != nil {
			return types.NewError(types.CodeInvalidInput, "update settings", name, err)
		}
		if strings.ContainsRune(v, 0) {
			return types.Errorf(types.CodeInvalidInput, "update settings", name, "value of %s contains NUL", k)
		}
		clean[k] = v
	}
	return o.registry.UpdateEnvironment(ctx, name, clean)
}

func validateKey(k string) error {
	switch {
	case k == "":
		return errors.New("empty variable name")
	case strings.ContainsAny(k, "=\x00"):
		return fmt.Errorf("invalid variable name %q", k)
	}
	return nil
}

// Settings returns a project's environment.
func (o *Orchestrator) Settings(ctx context.Context, name string) (map[string]string, error) {
	project, err := o.registry.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return project.Environment, nil
}

// Get returns a project.
func (o *Orchestrator) Get(ctx context.Context, name string) (types.Project, error) {
	return o.registry.Get(ctx, name)
}

// List returns all projects.
func (o *Orchestrator) List(ctx context.Context) ([]types.Project, error) {
	return o.registry.List(ctx)
}

// Shutdown stops every running project and ends the reconciler.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	for _, name := range o.supervisor.State().LiveProjects() {
		g.Go(func() error {
			o.logger.Info("Stopping project for shutdown", "project", name)
			return o.Stop(ctx, name)
		})
	}
	err := g.Wait()
	if sweepErr := o.supervisor.StopAll(ctx); sweepErr != nil {
		err = errors.Join(err, sweepErr)
	}

	finished := make(chan struct{})
	go func() {
		o.supervisor.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		err = errors.Join(err, fmt.Errorf("waiting for launches to exit: %w", ctx.Err()))
	}

	o.closeOnce.Do(func() { close(o.quit) })
	<-o.done
	return err
}

// postExit is the supervisor's terminal callback. It only enqueues.
func (o *Orchestrator) postExit(exit types.ProcessExit) {
	select {
	case o.exits <- exit:
	case <-o.quit:
	}
}

func (o *Orchestrator) reconcile() {
	defer close(o.done)
	for {
		select {
		case exit := <-o.exits:
			o.apply(exit)
		case <-o.quit:
			return
		}
	}
}

func (o *Orchestrator) apply(exit types.ProcessExit) {
	unlock := o.supervisor.State().LockProject(exit.Project)
	defer unlock()

	// Stop wrote stopped already, or a newer launch owns the status.
	if exit.Stopped || !o.takeCurrent(exit.Project, exit.HandleID) {
		o.logger.Debug("Ignoring exit", "project", exit.Project, "handle", exit.HandleID, "stopped", exit.Stopped)
		return
	}

	ctx := context.Background()
	if exit.Success() {
		if err := o.registry.UpdateStatus(ctx, exit.Project, types.StatusRunning); err != nil {
			o.logger.Error("Failed to update status", "project", exit.Project, "error", err)
		}
		return
	}

	if err := o.registry.UpdateStatus(ctx, exit.Project, types.StatusFailed); err != nil {
		o.logger.Error("Failed to update status", "project", exit.Project, "error", err)
	}
	o.reportf("Failed to run project %s: %v", exit.Project, runtimeFailure(exit))
}

func runtimeFailure(exit types.ProcessExit) error {
	cause := exit.Err
	if cause == nil {
		cause = fmt.Errorf("exit code %d", exit.ExitCode)
	}
	return types.NewError(types.CodeRuntimeFailure, string(exit.Phase), exit.Project, cause)
}

func (o *Orchestrator) setCurrent(name, handleID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current[name] = handleID
}

func (o *Orchestrator) clearCurrent(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.current, name)
}

// takeCurrent reports whether handleID is the launch that owns name's
// status, releasing it if so.
func (o *Orchestrator) takeCurrent(name, handleID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current[name] != handleID {
		return false
	}
	delete(o.current, name)
	return true
}

func (o *Orchestrator) reportf(format string, args ...any) {
	if o.errorLog != nil {
		o.errorLog.Errorf(format, args...)
		return
	}
	o.logger.Error(fmt.Sprintf(format, args...))
}

// withProject fills in the project name on errors raised before it was known.
func withProject(err error, name string) error {
	var e *types.Error
	if errors.As(err, &e) && e.Project == "" {
		cp := *e
		cp.Project = name
		return &cp
	}
	return err
}

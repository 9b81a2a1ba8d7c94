package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

const (
	defaultWaitDelay = 5 * time.Second
	killTimeout      = 5 * time.Second
)

// ExecRunner runs phases as host processes. The process environment is the
// host environment overlaid with the project environment.
type ExecRunner struct {
	waitDelay time.Duration
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{waitDelay: defaultWaitDelay}
}

func (r *ExecRunner) Start(_ context.Context, step Step) (Process, error) {
	if len(step.Args) == 0 {
		return nil, errors.New("empty command")
	}

	// Not CommandContext: the process must outlive the request that started it.
	cmd := exec.Command(step.Args[0], step.Args[1:]...)
	cmd.Dir = step.WorkDir
	cmd.Env = mergeEnv(os.Environ(), step.Env)
	cmd.Stdout = step.Stdout
	cmd.Stderr = step.Stderr
	cmd.WaitDelay = r.waitDelay
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", step.Phase, err)
	}
	return &execProcess{cmd: cmd, done: make(chan struct{})}, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	once sync.Once
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	p.once.Do(func() { close(p.done) })

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), err
	case errors.Is(err, exec.ErrWaitDelay):
		// exited cleanly, a descendant kept the output open
		return p.cmd.ProcessState.ExitCode(), nil
	default:
		return -1, err
	}
}

func (p *execProcess) Stop(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if err := terminateProcess(p.cmd.Process); err != nil {
		return fmt.Errorf("signal process: %w", err)
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	if err := killProcess(p.cmd.Process); err != nil {
		return fmt.Errorf("kill process: %w", err)
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(killTimeout):
		return fmt.Errorf("process %d did not exit after kill", p.cmd.Process.Pid)
	}
}

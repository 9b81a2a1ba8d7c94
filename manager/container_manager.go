package manager

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	containerWorkDir = "/app"
	labelProject     = "launchpad.project"
	labelPhase       = "launchpad.phase"
)

// dockerAPI is the subset of the docker client the ContainerRunner uses.
type dockerAPI interface {
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// ContainerRunner runs each phase in a throwaway container with the project
// workspace bound at /app. Only the project environment is passed in.
type ContainerRunner struct {
	docker dockerAPI
	image  string
	logger *slog.Logger

	mu     sync.Mutex
	pulled map[string]bool
}

// NewContainerRunner connects to the docker daemon from the environment.
func NewContainerRunner(imageName string, logger *slog.Logger) (*ContainerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newContainerRunner(cli, imageName, logger), nil
}

func newContainerRunner(api dockerAPI, imageName string, logger *slog.Logger) *ContainerRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContainerRunner{docker: api, image: imageName, logger: logger, pulled: make(map[string]bool)}
}

func (r *ContainerRunner) Start(ctx context.Context, step Step) (Process, error) {
	if len(step.Args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if err := r.ensureImage(ctx); err != nil {
		return nil, err
	}

	hostDir, err := filepath.Abs(step.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	cfg := &container.Config{
		Image:      r.image,
		Cmd:        step.Args,
		Env:        envList(step.Env),
		WorkingDir: containerWorkDir,
		Labels:     map[string]string{labelProject: step.Project, labelPhase: string(step.Phase)},
		Tty:        false,
	}
	hostCfg := &container.HostConfig{
		Binds: []string{hostDir + ":" + containerWorkDir},
	}
	if port, ok := publishedPort(step.Env); ok {
		cfg.ExposedPorts = nat.PortSet{port: struct{}{}}
		hostCfg.PortBindings = nat.PortMap{
			port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: port.Port()}},
		}
	}

	name := containerName(step)
	resp, err := r.docker.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container for project %s: %w", step.Project, err)
	}

	if err := r.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if rmErr := r.docker.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			r.logger.Warn("Failed to remove container after failed start", "container", resp.ID, "error", rmErr)
		}
		return nil, fmt.Errorf("failed to start container %s for project %s: %w", resp.ID, step.Project, err)
	}

	p := &containerProcess{
		runner:   r,
		id:       resp.ID,
		done:     make(chan struct{}),
		logsDone: make(chan struct{}),
	}
	go p.streamLogs(step.Stdout, step.Stderr)

	r.logger.Debug("Container started", "project", step.Project, "phase", step.Phase, "container", resp.ID, "name", name)
	return p, nil
}

// ensureImage pulls the runtime image once per runner.
func (r *ContainerRunner) ensureImage(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pulled[r.image] {
		return nil
	}

	r.logger.Info("Pulling image", "image", r.image)
	reader, err := r.docker.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", r.image, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", r.image, err)
	}
	r.pulled[r.image] = true
	return nil
}

func publishedPort(env map[string]string) (nat.Port, bool) {
	raw, ok := env["PORT"]
	if !ok {
		return "", false
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 || n > 65535 {
		return "", false
	}
	port, err := nat.NewPort("tcp", strconv.Itoa(n))
	if err != nil {
		return "", false
	}
	return port, true
}

func containerName(step Step) string {
	id := step.HandleID
	if len(id) > 8 {
		id = id[:8]
	}
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '-'
	}, step.Project)
	return fmt.Sprintf("launchpad-%s-%s-%s", name, step.Phase, id)
}

type containerProcess struct {
	runner   *ContainerRunner
	id       string
	done     chan struct{}
	logsDone chan struct{}
	once     sync.Once
}

func (p *containerProcess) streamLogs(stdout, stderr io.Writer) {
	defer close(p.logsDone)
	rc, err := p.runner.docker.ContainerLogs(context.Background(), p.id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		p.runner.logger.Warn("Failed to attach to container logs", "container", p.id, "error", err)
		return
	}
	defer rc.Close()
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil {
		p.runner.logger.Debug("Container log stream ended", "container", p.id, "error", err)
	}
}

func (p *containerProcess) Wait() (int, error) {
	defer p.once.Do(func() { close(p.done) })

	code, err := p.wait()

	select {
	case <-p.logsDone:
	case <-time.After(defaultWaitDelay):
	}
	if rmErr := p.runner.docker.ContainerRemove(context.Background(), p.id, container.RemoveOptions{RemoveVolumes: true, Force: true}); rmErr != nil && !client.IsErrNotFound(rmErr) {
		p.runner.logger.Warn("Failed to remove container", "container", p.id, "error", rmErr)
	}
	return code, err
}

func (p *containerProcess) wait() (int, error) {
	statusCh, errCh := p.runner.docker.ContainerWait(context.Background(), p.id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, fmt.Errorf("wait for container %s: %w", p.id, err)
	case status := <-statusCh:
		code := int(status.StatusCode)
		if status.Error != nil && status.Error.Message != "" {
			return code, fmt.Errorf("container %s: %s", p.id, status.Error.Message)
		}
		if code != 0 {
			return code, fmt.Errorf("container %s exited with code %d", p.id, code)
		}
		return 0, nil
	}
}

func (p *containerProcess) Stop(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	// The daemon sends SIGTERM, then SIGKILL once the timeout elapses.
	timeout := int(grace.Round(time.Second) / time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), grace+killTimeout)
	defer cancel()
	if err := p.runner.docker.ContainerStop(ctx, p.id, container.StopOptions{Timeout: &timeout}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to stop container %s: %w", p.id, err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(killTimeout):
		return fmt.Errorf("container %s did not exit after stop", p.id)
	}
}

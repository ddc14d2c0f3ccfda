// Package subprocess provides a container-isolated driver for
// SubProcessStep. Commands run inside a short-lived Docker container with
// the step's working directory bind-mounted, so a workflow's external
// tools cannot touch the host beyond that directory.
package subprocess

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/nevindra/flowgraph"
)

// containerWorkdir is where the step's cwd is mounted inside the container.
const containerWorkdir = "/work"

// DockerDriver implements flow.SubprocessDriver by running each command
// in a fresh container that is removed when the command exits.
type DockerDriver struct {
	cli   client.APIClient
	image string
	cfg   dockerConfig
}

type dockerConfig struct {
	binds        []string
	exposedPorts nat.PortSet
	portBindings nat.PortMap
	user         string
}

// Option configures a DockerDriver.
type Option func(*dockerConfig)

// WithBinds adds extra bind mounts in Docker's "host:container" form,
// on top of the automatic cwd mount.
func WithBinds(binds ...string) Option {
	return func(c *dockerConfig) { c.binds = append(c.binds, binds...) }
}

// WithUser sets the user the command runs as inside the container.
func WithUser(user string) Option {
	return func(c *dockerConfig) { c.user = user }
}

// WithPublishedPorts publishes container ports using Docker port specs
// (e.g. "8080:80"), for commands that serve an endpoint while running.
func WithPublishedPorts(specs ...string) Option {
	return func(c *dockerConfig) {
		exposed, bindings, err := nat.ParsePortSpecs(specs)
		if err != nil {
			return
		}
		c.exposedPorts = exposed
		c.portBindings = bindings
	}
}

var _ flow.SubprocessDriver = (*DockerDriver)(nil)

// NewDockerDriver returns a driver that runs commands in containers
// created from image. The Docker endpoint comes from the standard
// DOCKER_HOST environment, with API version negotiation.
func NewDockerDriver(image string, opts ...Option) (*DockerDriver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("subprocess: docker client: %w", err)
	}
	d := &DockerDriver{cli: cli, image: image}
	for _, o := range opts {
		o(&d.cfg)
	}
	return d, nil
}

// Run creates a container for command, streams its combined output
// line-by-line to onLine, waits for it to exit, and removes it.
func (d *DockerDriver) Run(ctx context.Context, command, cwd string, env map[string]string, shell bool, onLine func(string)) (int, error) {
	// Inside a container the command always goes through the shell:
	// placeholder-substituted commands rely on word splitting, and the
	// container's entrypoint is bypassed either way.
	_ = shell
	envSlice := make([]string, 0, len(env))
	for k, v := range env {
		envSlice = append(envSlice, k+"="+v)
	}

	cfg := &container.Config{
		Image:        d.image,
		Cmd:          []string{"sh", "-c", command},
		WorkingDir:   containerWorkdir,
		Env:          envSlice,
		User:         d.cfg.user,
		ExposedPorts: d.cfg.exposedPorts,
	}
	host := &container.HostConfig{
		Binds:        d.cfg.binds,
		PortBindings: d.cfg.portBindings,
	}
	if cwd != "" {
		host.Binds = append(host.Binds, cwd+":"+containerWorkdir)
	}

	created, err := d.cli.ContainerCreate(ctx, cfg, host, nil, nil, "")
	if err != nil {
		return -1, fmt.Errorf("subprocess: create container: %w", err)
	}
	defer func() {
		// Removal uses a fresh context so cleanup still happens after
		// cancellation.
		_ = d.cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
	}()

	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return -1, fmt.Errorf("subprocess: start container: %w", err)
	}

	logs, err := d.cli.ContainerLogs(ctx, created.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return -1, fmt.Errorf("subprocess: container logs: %w", err)
	}
	defer logs.Close()

	// The log stream is multiplexed; demux into a pipe the line scanner
	// reads from.
	pr, pw := io.Pipe()
	go func() {
		_, copyErr := stdcopy.StdCopy(pw, pw, logs)
		pw.CloseWithError(copyErr)
	}()
	scanner := bufio.NewScanner(pr)
	for scanner.Scan() {
		onLine(scanner.Text())
	}

	waitCh, errCh := d.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case resp := <-waitCh:
		if resp.Error != nil {
			return -1, fmt.Errorf("subprocess: wait: %s", resp.Error.Message)
		}
		return int(resp.StatusCode), nil
	case err := <-errCh:
		return -1, fmt.Errorf("subprocess: wait: %w", err)
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

package build

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// containerWorkspace is where the source tree is mounted inside the build
// container.
const containerWorkspace = "/workspace"

// DockerBuilder runs the same build inside an NDK container image, so CI
// hosts need neither bazel nor the NDK installed. The DSP probe needs an
// attached device and is not available here; callers decide enableDSP.
type DockerBuilder struct {
	docker    *client.Client
	image     string
	workspace string
	logger    *zap.Logger
}

// NewDockerBuilder creates a container builder mounting workspace into the
// given image. The Docker endpoint comes from the environment.
func NewDockerBuilder(image, workspace string, logger *zap.Logger) (*DockerBuilder, error) {
	docker, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return &DockerBuilder{
		docker:    docker,
		image:     image,
		workspace: workspace,
		logger:    logger.Named("docker-build"),
	}, nil
}

// Build runs one containerized build, streaming its output to out, and
// returns the local directory and name of the produced binary.
func (b *DockerBuilder) Build(ctx context.Context, out io.Writer, opts Options, enableDSP bool) (string, string, error) {
	cmd := append([]string{"bazel"}, BazelArgs(opts, enableDSP)...)
	b.logger.Info("Building target in container",
		zap.String("image", b.image),
		zap.String("target", opts.Target),
		zap.String("abi", opts.ABI))

	created, err := b.docker.ContainerCreate(ctx,
		&container.Config{
			Image:      b.image,
			Cmd:        cmd,
			WorkingDir: containerWorkspace,
			Env:        []string{"ANDROID_NDK_HOME=" + opts.NDKHome},
		},
		&container.HostConfig{
			Binds: []string{b.workspace + ":" + containerWorkspace},
		},
		nil, nil, "")
	if err != nil {
		return "", "", fmt.Errorf("failed to create build container: %w", err)
	}
	defer func() {
		if err := b.docker.ContainerRemove(context.Background(), created.ID,
			container.RemoveOptions{Force: true}); err != nil {
			b.logger.Warn("Failed to remove build container",
				zap.String("container", created.ID),
				zap.Error(err))
		}
	}()

	if err := b.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", "", fmt.Errorf("failed to start build container: %w", err)
	}

	logs, err := b.docker.ContainerLogs(ctx, created.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to attach to build container: %w", err)
	}
	defer logs.Close()

	copyDone := make(chan struct{})
	go func() {
		defer close(copyDone)
		if _, err := stdcopy.StdCopy(out, out, logs); err != nil && ctx.Err() == nil {
			b.logger.Warn("Build log stream ended early", zap.Error(err))
		}
	}()

	waitCh, errCh := b.docker.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return "", "", fmt.Errorf("failed to wait for build container: %w", err)
	case status := <-waitCh:
		<-copyDone
		if status.StatusCode != 0 {
			return "", "", fmt.Errorf("build container exited with status %d", status.StatusCode)
		}
	}

	b.logger.Info("Build done", zap.String("target", opts.Target))
	return TargetBinPath(opts.Target)
}

// Package storagectl controls the containerized storage-cluster service
// that this node runs, via the Docker Engine API. It is the direct
// replacement for the original agent's systemd-managed lipe_web service:
// where the original shelled out to `systemctl start/stop/status
// lipe_web`, this package issues the equivalent container lifecycle
// calls against a single named container.
//
// It is deliberately independent of any DaemonPlugin instance: both the
// storage_service plugin's telemetry collection and the action-runner's
// start/stop/status action handlers call into the same Controller,
// mirroring the original's manage_stratagem module being shared between
// daemon_plugins::stratagem and action_plugins::action_plugin.
package storagectl

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// dockerAPI is the narrow slice of the Docker Engine API client Controller
// needs, so tests can supply a fake instead of a live daemon connection.
// *client.Client satisfies this implicitly.
type dockerAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
}

// Controller manages one node-local storage-service container.
type Controller struct {
	docker        dockerAPI
	containerName string
}

// New wraps an existing Docker client for the named container.
func New(docker *client.Client, containerName string) *Controller {
	return &Controller{docker: docker, containerName: containerName}
}

// Start starts the storage-service container, creating it from image if
// it does not already exist. Returns true on success, matching the
// original's `bool` systemctl-result convention.
func (c *Controller) Start(ctx context.Context, image string) (bool, error) {
	_, err := c.docker.ContainerInspect(ctx, c.containerName)
	if client.IsErrNotFound(err) {
		resp, createErr := c.docker.ContainerCreate(ctx, &container.Config{
			Image: image,
		}, nil, nil, nil, c.containerName)
		if createErr != nil {
			return false, fmt.Errorf("storagectl: create %s: %w", c.containerName, createErr)
		}
		if startErr := c.docker.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); startErr != nil {
			return false, fmt.Errorf("storagectl: start %s: %w", c.containerName, startErr)
		}
		return true, nil
	} else if err != nil {
		return false, fmt.Errorf("storagectl: inspect %s: %w", c.containerName, err)
	}

	if err := c.docker.ContainerStart(ctx, c.containerName, types.ContainerStartOptions{}); err != nil {
		return false, fmt.Errorf("storagectl: start %s: %w", c.containerName, err)
	}
	return true, nil
}

// Stop stops the storage-service container. Returns true on success.
func (c *Controller) Stop(ctx context.Context) (bool, error) {
	if err := c.docker.ContainerStop(ctx, c.containerName, container.StopOptions{}); err != nil {
		return false, fmt.Errorf("storagectl: stop %s: %w", c.containerName, err)
	}
	return true, nil
}

// Status reports whether the storage-service container is running.
func (c *Controller) Status(ctx context.Context) (bool, error) {
	info, err := c.docker.ContainerInspect(ctx, c.containerName)
	if client.IsErrNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storagectl: inspect %s: %w", c.containerName, err)
	}
	return info.State != nil && info.State.Running, nil
}

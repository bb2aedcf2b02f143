package docker

import (
	"context"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"
)

// API defines the subset of the Docker Engine API used by the module tracker.
// Implemented by Client for production, and by fakes in tests.
type API interface {
	ListImages(ctx context.Context) ([]ImageSummary, error)
	InspectImage(ctx context.Context, imageRef string) (ImageDetails, error)
	PullImage(ctx context.Context, refStr string, progress func(PullEvent)) error

	ListContainersByAncestor(ctx context.Context, imageRef string) ([]container.Summary, error)
	FindContainerByName(ctx context.Context, name string) (container.Summary, error)
	InspectContainer(ctx context.Context, id string) (container.InspectResponse, error)
	ContainerState(ctx context.Context, name string) (string, error)
	StopContainer(ctx context.Context, id string, timeout int) error
	RenameContainer(ctx context.Context, id, newName string) error
	RemoveContainer(ctx context.Context, id string) error
	CreateContainer(ctx context.Context, name string, cfg *container.Config, hostCfg *container.HostConfig, netCfg *network.NetworkingConfig) (string, error)
	StartContainer(ctx context.Context, id string) error
	RestartContainer(ctx context.Context, id string) error
	KillContainer(ctx context.Context, id string) error
	PauseContainer(ctx context.Context, id string) error
	UnpauseContainer(ctx context.Context, id string) error

	Close() error
}

// Verify Client implements API at compile time.
var _ API = (*Client)(nil)

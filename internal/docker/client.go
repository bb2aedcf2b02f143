package docker

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/moby/moby/client"
)

// Client wraps the Docker API client for the single container host the
// process manages.
type Client struct {
	api *client.Client
}

// NewClient creates a Docker client connected to the given endpoint.
// Accepts unix:///path, tcp://host:port, or a bare socket path.
func NewClient(endpoint string) (*Client, error) {
	var opts []client.Opt

	switch {
	case strings.HasPrefix(endpoint, "tcp://"), strings.HasPrefix(endpoint, "tcps://"):
		opts = append(opts, client.WithHost(endpoint))
	default:
		sock := strings.TrimPrefix(endpoint, "unix://")
		opts = append(opts,
			client.WithHost("unix://"+sock),
			client.WithHTTPClient(&http.Client{
				Transport: &http.Transport{
					DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
						return net.DialTimeout("unix", sock, 30*time.Second)
					},
				},
			}),
		)
	}

	api, err := client.New(opts...)
	if err != nil {
		return nil, err
	}

	return &Client{api: api}, nil
}

// Ping checks that the Docker daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.Ping(ctx, client.PingOptions{})
	return err
}

// Architecture reports the daemon's architecture string, e.g. "x86_64".
func (c *Client) Architecture(ctx context.Context) (string, error) {
	info, err := c.api.Info(ctx, client.InfoOptions{})
	if err != nil {
		return "", err
	}
	return info.Info.Architecture, nil
}

// Close releases the Docker client resources.
func (c *Client) Close() error {
	return c.api.Close()
}

package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/moby/moby/client"
)

// ImageSummary carries the subset of image metadata the tracker needs.
type ImageSummary struct {
	ID       string
	RepoTags []string
	Labels   map[string]string
}

// ImageDetails is the inspect-level view of a single image.
type ImageDetails struct {
	ID      string
	Labels  map[string]string
	Created string
}

// PullEvent is one decoded message from the image pull stream. Layer-level
// events carry the layer ID; "Pull complete" and "Already exists" statuses
// mark a layer as done.
type PullEvent struct {
	ID     string
	Status string
}

// ListImages returns all images on the host with their tags and labels.
func (c *Client) ListImages(ctx context.Context) ([]ImageSummary, error) {
	result, err := c.api.ImageList(ctx, client.ImageListOptions{All: false})
	if err != nil {
		return nil, err
	}

	summaries := make([]ImageSummary, 0, len(result.Items))
	for _, img := range result.Items {
		summaries = append(summaries, ImageSummary{
			ID:       img.ID,
			RepoTags: img.RepoTags,
			Labels:   img.Labels,
		})
	}
	return summaries, nil
}

// InspectImage returns image details (labels and creation time) by reference.
func (c *Client) InspectImage(ctx context.Context, imageRef string) (ImageDetails, error) {
	resp, err := c.api.ImageInspect(ctx, imageRef)
	if err != nil {
		return ImageDetails{}, err
	}
	details := ImageDetails{
		ID:      resp.ID,
		Created: resp.Created,
	}
	if resp.Config != nil {
		details.Labels = resp.Config.Labels
	}
	return details, nil
}

// PullImage pulls an image by reference in streaming mode, invoking the
// progress callback for every layer-level event. A stream error aborts the
// pull and is returned.
func (c *Client) PullImage(ctx context.Context, refStr string, progress func(PullEvent)) error {
	resp, err := c.api.ImagePull(ctx, refStr, client.ImagePullOptions{})
	if err != nil {
		return err
	}
	defer resp.Close()

	dec := json.NewDecoder(resp)
	for {
		var ev struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("decode pull stream: %w", err)
		}
		if ev.Error != "" {
			return fmt.Errorf("pull %s: %s", refStr, ev.Error)
		}
		if progress != nil && ev.ID != "" && ev.Status != "" {
			progress(PullEvent{ID: ev.ID, Status: ev.Status})
		}
	}
	return nil
}

package queue

import (
	"context"

	"github.com/cogitohq/cogito/pkg/provider"
	"github.com/cogitohq/cogito/pkg/types"
)

// queuedClient routes a client's queries through its provider lane. Probes
// bypass the queue so health checks see the provider, not the backlog.
type queuedClient struct {
	inner provider.Client
	queue *Queue
}

// Wrap returns a client whose Query calls are admitted through the queue.
func (q *Queue) Wrap(c provider.Client) provider.Client {
	return &queuedClient{inner: c, queue: q}
}

func (c *queuedClient) Name() string       { return c.inner.Name() }
func (c *queuedClient) InstanceID() string { return c.inner.InstanceID() }

func (c *queuedClient) Query(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, error) {
	return c.queue.Submit(ctx, c.inner.Name(), func(runCtx context.Context) (*types.LLMResponse, error) {
		return c.inner.Query(runCtx, req)
	})
}

func (c *queuedClient) Probe(ctx context.Context) error {
	return c.inner.Probe(ctx)
}

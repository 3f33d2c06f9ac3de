package mail

import (
	"context"

	"github.com/platinummonkey/gatekeeper/pkg/async"
)

// QueuedSender hands messages to a background pool so slow providers do
// not hold up the request. Send only fails when the message cannot be queued.
type QueuedSender struct {
	next Sender
	pool *async.Pool
}

// NewQueuedSender delivers through next on pool
func NewQueuedSender(next Sender, pool *async.Pool) *QueuedSender {
	return &QueuedSender{next: next, pool: pool}
}

// Send queues msg for delivery
func (q *QueuedSender) Send(ctx context.Context, msg Message) error {
	return q.pool.Submit(ctx, func(ctx context.Context) error {
		return q.next.Send(ctx, msg)
	})
}

package notifications

import (
	"context"
	"fmt"
	"runtime/debug"

	"threadboard/internal/observability"

	"github.com/redis/go-redis/v9"
)

// CommentChannel is the Redis channel carrying comment events between instances.
const CommentChannel = "comments:broadcast"

// Notifier publishes comment events into Redis.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a Notifier. A nil client disables cross-instance fan-out.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Enabled reports whether events travel through Redis.
func (n *Notifier) Enabled() bool {
	return n != nil && n.rdb != nil
}

// PublishComments sends payload to every subscribed instance.
func (n *Notifier) PublishComments(ctx context.Context, payload []byte) error {
	if !n.Enabled() {
		return nil
	}
	return n.rdb.Publish(ctx, CommentChannel, payload).Err()
}

// StartCommentSubscriber subscribes to CommentChannel and calls onMessage for
// each payload until ctx is cancelled. It returns once the subscription is
// confirmed by the server.
func (n *Notifier) StartCommentSubscriber(ctx context.Context, onMessage func(payload string)) error {
	if !n.Enabled() {
		return nil
	}

	sub := n.rdb.Subscribe(ctx, CommentChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", CommentChannel, err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							observability.LogAsyncOperationError(ctx, "comment_subscriber", fmt.Errorf("panic: %v", r), map[string]interface{}{
								"stack": string(debug.Stack()),
							})
						}
					}()
					onMessage(msg.Payload)
				}()
			}
		}
	}()

	return nil
}

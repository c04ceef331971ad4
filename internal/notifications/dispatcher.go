package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"threadboard/internal/models"
	"threadboard/internal/observability"
	"threadboard/internal/tasks"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// Event types sent to push channel subscribers.
const (
	EventCommentUpdate = "comment_update"
	EventCommentDelete = "comment_delete"
)

// CommentEvent is the payload pushed to subscribers.
type CommentEvent struct {
	Type      string                  `json:"type"`
	Comment   *models.CommentResponse `json:"comment,omitempty"`
	CommentID uint                    `json:"comment_id,omitempty"`
}

// CommentReader loads a comment as seen by a viewer.
type CommentReader interface {
	GetByID(ctx context.Context, id, viewerID uint) (*models.CommentView, error)
}

// Broadcaster delivers a payload to local subscribers.
type Broadcaster interface {
	BroadcastAll(message []byte)
}

// Dispatcher turns comment mutations into push events on a background queue.
type Dispatcher struct {
	queue      *tasks.Queue
	comments   CommentReader
	notifier   *Notifier
	local      Broadcaster
	resolveURL func(key string) string
}

// NewDispatcher wires a dispatcher. With a disabled notifier, events go to
// local directly.
func NewDispatcher(queue *tasks.Queue, comments CommentReader, notifier *Notifier, local Broadcaster, resolveURL func(key string) string) *Dispatcher {
	return &Dispatcher{
		queue:      queue,
		comments:   comments,
		notifier:   notifier,
		local:      local,
		resolveURL: resolveURL,
	}
}

// Notify schedules an event for commentID and returns immediately. The job
// keeps the values of ctx (request id, user id, trace) but is cancelled only
// by the queue.
func (d *Dispatcher) Notify(ctx context.Context, commentID uint) {
	values := context.WithoutCancel(ctx)
	err := d.queue.Enqueue("broadcast_comment", func(jobCtx context.Context) {
		ctx, cancel := context.WithCancel(values)
		defer cancel()
		stop := context.AfterFunc(jobCtx, cancel)
		defer stop()

		d.broadcast(ctx, commentID)
	})
	if err != nil {
		observability.Degraded(ctx, "broadcast", "enqueue", err)
	}
}

func (d *Dispatcher) broadcast(ctx context.Context, commentID uint) {
	span, ctx := observability.NewSpan(ctx, "broadcast.comment", attribute.Int64("comment.id", int64(commentID)))
	defer span.End()

	event, err := d.buildEvent(ctx, commentID)
	if err != nil {
		span.SetError(err)
		observability.Degraded(ctx, "broadcast", "load", err)
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		span.SetError(err)
		observability.Degraded(ctx, "broadcast", "encode", err)
		return
	}

	observability.BroadcastEvents.WithLabelValues(event.Type).Inc()

	if d.notifier.Enabled() {
		if err := d.notifier.PublishComments(ctx, payload); err != nil {
			span.SetError(err)
			observability.Degraded(ctx, "broadcast", "publish", err)
		}
		return
	}
	if d.local != nil {
		d.local.BroadcastAll(payload)
	}
}

// buildEvent re-reads the comment anonymously so the pushed view carries no
// viewer-specific state.
func (d *Dispatcher) buildEvent(ctx context.Context, commentID uint) (*CommentEvent, error) {
	view, err := d.comments.GetByID(ctx, commentID, 0)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &CommentEvent{Type: EventCommentDelete, CommentID: commentID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load comment %d: %w", commentID, err)
	}
	return &CommentEvent{
		Type:    EventCommentUpdate,
		Comment: models.NewCommentResponse(view, d.resolveURL),
	}, nil
}

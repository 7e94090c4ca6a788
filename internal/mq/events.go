package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tinyblog/blog/types"
)

const (
	attrEvent        = "event"
	eventPostCreated = "post.created"
	publishTimeout   = 5 * time.Second
)

// PostEvent is the wire form of a created post.
type PostEvent struct {
	ID        int       `json:"id"`
	Content   string    `json:"content"`
	AccountID int       `json:"account_id"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

func newPostEvent(post types.Post) PostEvent {
	return PostEvent{
		ID:        post.ID,
		Content:   post.Content,
		AccountID: post.AccountID,
		Author:    post.Author,
		CreatedAt: post.CreatedAt,
	}
}

func (e PostEvent) Post() types.Post {
	return types.Post{
		ID:        e.ID,
		Content:   e.Content,
		AccountID: e.AccountID,
		Author:    e.Author,
		CreatedAt: e.CreatedAt,
	}
}

// PostPublisher announces created posts on a channel. Publishing is best
// effort: the post is already stored, so failures are only logged.
type PostPublisher struct {
	backend Backend
	channel string
	logger  *logrus.Logger
}

func NewPostPublisher(backend Backend, channel string, logger *logrus.Logger) *PostPublisher {
	return &PostPublisher{backend: backend, channel: channel, logger: logger}
}

func (p *PostPublisher) PostCreated(ctx context.Context, post types.Post) {
	data, err := json.Marshal(newPostEvent(post))
	if err != nil {
		p.logger.WithError(err).WithField("post_id", post.ID).Error("encode post event")
		return
	}

	// The request may finish before the broker acknowledges.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	id, err := p.backend.Publish(ctx, p.channel, data, map[string]string{attrEvent: eventPostCreated})
	if err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"post_id": post.ID,
			"channel": p.channel,
		}).Error("publish post event")
		return
	}
	p.logger.WithFields(logrus.Fields{
		"post_id":    post.ID,
		"channel":    p.channel,
		"message_id": id,
	}).Debug("post event published")
}

// RelayPosts subscribes to channel and passes every decoded post to sink
// until ctx is done. Undecodable messages are logged and acknowledged so
// they are not redelivered forever.
func RelayPosts(ctx context.Context, backend Backend, channel string, sink func(types.Post), logger *logrus.Logger) error {
	err := backend.Subscribe(ctx, channel, func(ctx context.Context, msg Message) error {
		if event := msg.Attributes[attrEvent]; event != "" && event != eventPostCreated {
			return nil
		}
		var event PostEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.WithError(err).WithField("message_id", msg.ID).Warn("dropping malformed post event")
			return nil
		}
		sink(event.Post())
		return nil
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("relay posts from %s: %w", channel, err)
	}
	return nil
}

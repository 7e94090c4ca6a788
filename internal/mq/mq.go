// Package mq carries post events between server instances over RabbitMQ or
// Google Cloud Pub/Sub.
package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tinyblog/blog/config"
)

const (
	BackendRabbitMQ = "rabbitmq"
	BackendPubSub   = "pubsub"
)

// ErrNoBackend is returned by New when no broker is configured.
var ErrNoBackend = errors.New("no message queue backend configured")

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend publishes to and subscribes on named channels. Every subscriber
// of a channel receives every message published after it subscribed.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// New connects to the broker selected by cfg.MQ.Backend.
func New(ctx context.Context, cfg config.Config) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.MQ.Backend)) {
	case "":
		return nil, ErrNoBackend
	case BackendRabbitMQ:
		return NewRabbitMQClient(cfg.RabbitMQ)
	case BackendPubSub:
		return NewPubSubClient(ctx, cfg.PubSub)
	default:
		return nil, fmt.Errorf("unknown message queue backend %q", cfg.MQ.Backend)
	}
}

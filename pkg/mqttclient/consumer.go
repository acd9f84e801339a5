package mqttclient

import (
	"context"
	"log/slog"
)

// Handler processes one inbound message. Errors are logged by the consumer.
type Handler func(ctx context.Context, msg Message) error

// IConsumer drains a message source with a single handler.
type IConsumer interface {
	ConsumeMessage(ctx context.Context)
	SetHandler(handler Handler)
}

// Consumer reads messages one at a time in arrival order and hands them to
// the handler. A panicking handler is recovered so the loop keeps running.
type Consumer struct {
	source  <-chan Message
	handler Handler
	logger  *slog.Logger
}

func NewConsumer(source <-chan Message, handler Handler, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		source:  source,
		handler: handler,
		logger:  logger.With("component", "consumer"),
	}
}

func (c *Consumer) SetHandler(handler Handler) {
	c.handler = handler
}

// ConsumeMessage blocks until ctx is cancelled or the source is closed.
func (c *Consumer) ConsumeMessage(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.source:
			if !ok {
				return
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic", "topic", msg.Topic, "panic", r)
		}
	}()
	if c.handler == nil {
		c.logger.Warn("no handler set", "topic", msg.Topic)
		return
	}
	if err := c.handler(ctx, msg); err != nil {
		c.logger.Error("error handling message", "topic", msg.Topic, "err", err)
	}
}

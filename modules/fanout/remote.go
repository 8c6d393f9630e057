package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// remote carries encoded deliveries between relay processes. Every process,
// including the publisher, receives each message once through its handler.
type remote interface {
	Publish(ctx context.Context, data []byte) error
	Subscribe(ctx context.Context, handler func([]byte)) error
	Close() error
}

// redisRemote uses a Redis Pub/Sub channel.
type redisRemote struct {
	client  *redis.Client
	channel string
	pubsub  *redis.PubSub
}

func newRedisRemote(client *redis.Client, channel string) *redisRemote {
	return &redisRemote{client: client, channel: channel}
}

func (r *redisRemote) Publish(ctx context.Context, data []byte) error {
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func (r *redisRemote) Subscribe(ctx context.Context, handler func([]byte)) error {
	r.pubsub = r.client.Subscribe(ctx, r.channel)
	// Wait for the subscription confirmation so nothing published after
	// Start is missed.
	if _, err := r.pubsub.Receive(ctx); err != nil {
		_ = r.pubsub.Close()
		return fmt.Errorf("failed to subscribe to redis channel %q: %w", r.channel, err)
	}
	ch := r.pubsub.Channel()
	go func() {
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()
	return nil
}

func (r *redisRemote) Close() error {
	if r.pubsub != nil {
		_ = r.pubsub.Close()
	}
	return r.client.Close()
}

// natsRemote uses a core NATS subject on an external server.
type natsRemote struct {
	url     string
	subject string
	nc      *nats.Conn
	sub     *nats.Subscription
}

func newNATSRemote(url, subject string) *natsRemote {
	return &natsRemote{url: url, subject: subject}
}

func (n *natsRemote) connect() error {
	if n.nc != nil {
		return nil
	}
	nc, err := nats.Connect(n.url,
		nats.Name("tchat-fanout"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	n.nc = nc
	return nil
}

func (n *natsRemote) Publish(_ context.Context, data []byte) error {
	if n.nc == nil {
		return ErrNotStarted
	}
	if err := n.nc.Publish(n.subject, data); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func (n *natsRemote) Subscribe(_ context.Context, handler func([]byte)) error {
	if err := n.connect(); err != nil {
		return err
	}
	sub, err := n.nc.Subscribe(n.subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to NATS subject %q: %w", n.subject, err)
	}
	n.sub = sub
	return nil
}

func (n *natsRemote) Close() error {
	if n.sub != nil {
		_ = n.sub.Unsubscribe()
	}
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

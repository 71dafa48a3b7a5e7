package main

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"sutext.github.io/realtime/xlog"
)

// deliverer is the hub side of the bridge.
type deliverer interface {
	Deliver(channel string, frame []byte) int
}

type redisImpl interface {
	Close() error
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub
}

// redisBridge fans relayed frames out to every hub sharing the same Redis.
// Each message is prefixed with the publishing node so a hub skips its own.
type redisBridge struct {
	impl   redisImpl
	prefix string
	node   string
	logger *xlog.Logger
}

func newRedisBridge(conf redisConfig, node string) *redisBridge {
	cli := redis.NewClient(&redis.Options{
		Addr:     conf.Address,
		Password: conf.Password,
		DB:       conf.DB,
	})
	return &redisBridge{
		impl:   cli,
		prefix: conf.Prefix,
		node:   node,
		logger: xlog.Default().With(xlog.Str("bridge", "redis")),
	}
}

// encode prepends the node id to frame.
func (b *redisBridge) encode(frame []byte) []byte {
	msg := make([]byte, 0, len(b.node)+1+len(frame))
	msg = append(msg, b.node...)
	msg = append(msg, ' ')
	return append(msg, frame...)
}

// decode splits a message into its node id and frame.
func (b *redisBridge) decode(msg string) (node string, frame []byte, ok bool) {
	node, rest, ok := strings.Cut(msg, " ")
	if !ok || node == "" {
		return "", nil, false
	}
	return node, []byte(rest), true
}

func (b *redisBridge) Forward(channel string, frame []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.impl.Publish(ctx, b.prefix+channel, b.encode(frame)).Err()
}

// Run relays frames published by other nodes to h until ctx ends.
func (b *redisBridge) Run(ctx context.Context, h deliverer) error {
	sub := b.impl.PSubscribe(ctx, b.prefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	b.logger.Info("redis bridge subscribed", xlog.Str("pattern", b.prefix+"*"))
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			b.handle(h, msg.Channel, msg.Payload)
		}
	}
}

func (b *redisBridge) handle(h deliverer, channel, payload string) {
	node, frame, ok := b.decode(payload)
	if !ok {
		b.logger.Warn("malformed bridge message", xlog.Str("redis_channel", channel))
		return
	}
	if node == b.node || len(bytes.TrimSpace(frame)) == 0 {
		return
	}
	name := strings.TrimPrefix(channel, b.prefix)
	n := h.Deliver(name, frame)
	b.logger.Debug("bridged frame", xlog.Channel(name), xlog.Str("node", node), xlog.Int("delivered", n))
}

func (b *redisBridge) Close() error {
	return b.impl.Close()
}

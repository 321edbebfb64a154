package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus shares events between server replicas over a Redis pub/sub
// channel. Published events go to Redis, and everything received from the
// channel, including this replica's own events, is fanned out to Subscribe
// subscribers. SubscribeLocal subscribers get only this replica's own
// publishes, straight from Publish.
type RedisBus struct {
	client  *redis.Client
	channel string
	shared  *MemoryBus
	local   *MemoryBus
	log     *zap.SugaredLogger

	pubsub *redis.PubSub
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisBus connects to redisURL and starts relaying the channel
func NewRedisBus(ctx context.Context, redisURL, channel string, bufferSize int, log *zap.SugaredLogger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	pubsub := client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so no event published after
	// construction is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	b := newRedisBus(client, channel, bufferSize, log)
	b.pubsub = pubsub

	b.wg.Add(1)
	go b.relay()

	log.Infof("Event bus relaying Redis channel %s", channel)
	return b, nil
}

func newRedisBus(client *redis.Client, channel string, bufferSize int, log *zap.SugaredLogger) *RedisBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBus{
		client:  client,
		channel: channel,
		shared:  NewMemoryBus(bufferSize, log),
		local:   NewMemoryBus(bufferSize, log),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *RedisBus) relay() {
	defer b.wg.Done()

	for msg := range b.pubsub.Channel() {
		if err := b.receive(msg.Payload); err != nil {
			return
		}
	}
}

// receive fans one channel message out to the shared subscribers. Malformed
// messages are dropped; the error is only for a closed or stopping bus.
func (b *RedisBus) receive(payload string) error {
	ev, err := Decode([]byte(payload))
	if err != nil {
		b.log.Warnf("Dropping malformed event from %s: %v", b.channel, err)
		return nil
	}
	return b.shared.Publish(b.ctx, ev)
}

// Publish sends the event to every replica and to this replica's local
// subscribers
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", ev.Type(), err)
	}
	return b.local.Publish(ctx, ev)
}

// Subscribe registers a subscriber for events from every replica
func (b *RedisBus) Subscribe(name string) *Subscription {
	return b.shared.Subscribe(name)
}

// SubscribeLocal registers a subscriber for events published by this replica
func (b *RedisBus) SubscribeLocal(name string) *Subscription {
	return b.local.Subscribe(name)
}

// Close stops the relay and releases the Redis connection
func (b *RedisBus) Close() error {
	b.cancel()
	var err error
	if b.pubsub != nil {
		err = b.pubsub.Close()
	}
	b.wg.Wait()
	_ = b.shared.Close()
	_ = b.local.Close()
	if cerr := b.client.Close(); err == nil {
		err = cerr
	}
	return err
}

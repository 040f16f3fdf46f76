// Package realtime delivers collaboration change notifications over Redis
// pub/sub. Each channel key maps to one Redis topic, so subscribers only
// receive traffic for the scopes they joined.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"docket/api/internal/collab"
)

const topicPrefix = "collab:"

// Broker implements collab.Transport over Redis pub/sub.
type Broker struct {
	client *redis.Client
}

// New connects to Redis at the given URL and verifies the connection.
func New(redisURL string) (*Broker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Broker{client: client}, nil
}

// NewWithClient creates a broker from an existing Redis client.
func NewWithClient(client *redis.Client) *Broker {
	return &Broker{client: client}
}

// Publish encodes the event as JSON and sends it on the topic. Subscribers
// that are offline miss the event; they recover by re-reading state on
// resubscribe.
func (b *Broker) Publish(ctx context.Context, topic string, ev collab.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, topicPrefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a Redis subscription for the topic and pumps decoded
// events through the handler on a dedicated goroutine. Events that fail to
// decode or do not pass the filter are dropped with a log line.
func (b *Broker) Subscribe(ctx context.Context, topic string, filter collab.EventFilter, handler func(collab.Event)) (collab.Channel, error) {
	sub := b.client.Subscribe(ctx, topicPrefix+topic)

	// Receive forces the SUBSCRIBE round trip so a broken connection
	// surfaces here instead of as a silently dead channel.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	sc := &subscription{sub: sub}
	go sc.pump(topic, filter, handler)
	return sc, nil
}

// Close releases the underlying Redis connection.
func (b *Broker) Close() error {
	return b.client.Close()
}

// Ping checks if Redis is reachable.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

type subscription struct {
	sub  *redis.PubSub
	once sync.Once
}

func (s *subscription) pump(topic string, filter collab.EventFilter, handler func(collab.Event)) {
	for msg := range s.sub.Channel() {
		var ev collab.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Printf("realtime: dropping malformed event on %s: %v", topic, err)
			continue
		}
		if !filter.Match(ev) {
			continue
		}
		handler(ev)
	}
}

// Unsubscribe closes the Redis subscription, which ends the pump goroutine.
// Safe to call more than once.
func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		err = s.sub.Close()
	})
	return err
}

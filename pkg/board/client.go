package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"pkt.systems/pslog"

	"github.com/dyluth/easel/internal/loggingutil"
)

// Client provides namespace-scoped Redis operations for boards. It is a Store
// and the publisher/subscriber for the live board event relay.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb       *redis.Client
	namespace string
	logger    pslog.Logger
}

// NewClient creates a new board client for the specified namespace.
// Returns an error if namespace is empty.
func NewClient(redisOpts *redis.Options, namespace string, logger pslog.Logger) (*Client, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	return &Client{
		rdb:       redis.NewClient(redisOpts),
		namespace: namespace,
		logger:    loggingutil.WithSubsystem(logger, "board.redis"),
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Load reads a board's objects and background. A board never saved loads empty.
func (c *Client) Load(ctx context.Context, name string) (*Board, error) {
	objects, err := c.rdb.HGetAll(ctx, ObjectsKey(c.namespace, name)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read board objects from Redis: %w", err)
	}

	background, err := c.rdb.Get(ctx, BackgroundKey(c.namespace, name)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read board background from Redis: %w", err)
	}

	snap := Snapshot{Name: name, Objects: make(map[string]json.RawMessage, len(objects))}
	for id, raw := range objects {
		snap.Objects[id] = json.RawMessage(raw)
	}
	if len(background) > 0 {
		snap.Background = json.RawMessage(background)
	}

	c.logger.Debug("board.redis.loaded", "board", name, "objects", len(snap.Objects))
	return FromSnapshot(snap), nil
}

// Save replaces the persisted state of b in one MULTI/EXEC transaction.
func (c *Client) Save(ctx context.Context, b *Board) error {
	snap := b.Snapshot()
	objectsKey := ObjectsKey(c.namespace, snap.Name)
	backgroundKey := BackgroundKey(c.namespace, snap.Name)

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, objectsKey, backgroundKey)
		if len(snap.Objects) > 0 {
			values := make(map[string]any, len(snap.Objects))
			for id, obj := range snap.Objects {
				values[id] = []byte(obj)
			}
			pipe.HSet(ctx, objectsKey, values)
		}
		if len(snap.Background) > 0 {
			pipe.Set(ctx, backgroundKey, []byte(snap.Background), 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write board to Redis: %w", err)
	}

	c.logger.Debug("board.redis.saved", "board", snap.Name, "objects", len(snap.Objects))
	return nil
}

// Event is one accepted mutation as relayed over Pub/Sub.
type Event struct {
	ID          string          `json:"id"`
	Board       string          `json:"board"`
	Origin      string          `json:"origin"`
	User        json.RawMessage `json:"user,omitempty"`
	Data        json.RawMessage `json:"data"`
	CreatedAtMs int64           `json:"created_at_ms"`
}

// Publish relays an accepted mutation on the board's events channel.
func (c *Client) Publish(ctx context.Context, ev *Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal board event: %w", err)
	}
	if err := c.rdb.Publish(ctx, EventsChannel(c.namespace, ev.Board), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish board event: %w", err)
	}
	return nil
}

// Subscription represents an active Pub/Sub subscription to board events.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *Event
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of board events. It is closed when the
// subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *Event {
	return s.events
}

// Errors returns the channel of non-fatal subscription errors. Undecodable
// messages are reported here and skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Subscribe tails the events of one board, or of every board when name is
// empty. Delivery is at-most-once: slow subscribers may miss events.
func (c *Client) Subscribe(ctx context.Context, name string) (*Subscription, error) {
	var pubsub *redis.PubSub
	if name == "" {
		pubsub = c.rdb.PSubscribe(ctx, AllEventsPattern(c.namespace))
	} else {
		pubsub = c.rdb.Subscribe(ctx, EventsChannel(c.namespace, name))
	}
	// Wait for the subscription to be confirmed so no event published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to board events: %w", err)
	}

	eventsChan := make(chan *Event, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal board event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

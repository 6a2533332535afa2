// Package backplane fans broadcasts out across server replicas over Redis
// pub/sub. Each node delivers locally and publishes an envelope; every other
// node delivers the envelope to its own hub.
package backplane

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"socialwall/pkg/interfaces"
)

// Audience scopes carried in an envelope.
const (
	ScopeClass    = "class"
	ScopeTeachers = "teachers"
	ScopeUser     = "user"
)

// DefaultChannel is the pub/sub channel shared by all replicas.
const DefaultChannel = "socialwall:broadcast"

var errSubscriptionClosed = errors.New("subscription channel closed")

// Envelope is the message published for every broadcast.
type Envelope struct {
	Origin string          `json:"origin"`
	Scope  string          `json:"scope"`
	Target string          `json:"target"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Recorder counts backplane traffic.
type Recorder interface {
	BackplaneMessage(direction, result string)
}

// Options configures a Broadcaster.
type Options struct {
	Channel          string
	NodeID           string
	PublishTimeout   time.Duration
	SubscribeRetries uint64
	RetryBase        time.Duration
	Logger           *slog.Logger
	Recorder         Recorder
}

// Broadcaster wraps the local hub and mirrors every broadcast to Redis.
type Broadcaster struct {
	local          interfaces.Broadcaster
	client         *goredis.Client
	channel        string
	nodeID         string
	publishTimeout time.Duration
	retries        uint64
	retryBase      time.Duration
	logger         *slog.Logger
	recorder       Recorder
}

var _ interfaces.Broadcaster = (*Broadcaster)(nil)

// New creates a Broadcaster delivering to local and publishing on client.
func New(client *goredis.Client, local interfaces.Broadcaster, opts Options) *Broadcaster {
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	if opts.NodeID == "" {
		opts.NodeID = uuid.NewString()
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}
	if opts.SubscribeRetries == 0 {
		opts.SubscribeRetries = 10
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 200 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Broadcaster{
		local:          local,
		client:         client,
		channel:        opts.Channel,
		nodeID:         opts.NodeID,
		publishTimeout: opts.PublishTimeout,
		retries:        opts.SubscribeRetries,
		retryBase:      opts.RetryBase,
		logger:         opts.Logger.With("component", "backplane", "node_id", opts.NodeID),
		recorder:       opts.Recorder,
	}
}

// NodeID identifies this replica in published envelopes.
func (b *Broadcaster) NodeID() string { return b.nodeID }

func (b *Broadcaster) BroadcastToClass(classID, event string, data any) {
	b.local.BroadcastToClass(classID, event, data)
	b.publish(ScopeClass, classID, event, data)
}

func (b *Broadcaster) BroadcastToTeachers(classID, event string, data any) {
	b.local.BroadcastToTeachers(classID, event, data)
	b.publish(ScopeTeachers, classID, event, data)
}

func (b *Broadcaster) BroadcastToUser(userID, event string, data any) {
	b.local.BroadcastToUser(userID, event, data)
	b.publish(ScopeUser, userID, event, data)
}

func (b *Broadcaster) record(direction, result string) {
	if b.recorder != nil {
		b.recorder.BackplaneMessage(direction, result)
	}
}

func (b *Broadcaster) publish(scope, target, event string, data any) {
	payload, err := b.encode(scope, target, event, data)
	if err != nil {
		b.logger.Error("backplane encode failed", "event", event, "error", err)
		b.record("publish", "error")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.publishTimeout)
	defer cancel()

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.logger.Warn("backplane publish failed", "scope", scope, "target", target, "event", event, "error", err)
		b.record("publish", "error")
		return
	}
	b.record("publish", "ok")
}

func (b *Broadcaster) encode(scope, target, event string, data any) ([]byte, error) {
	env := Envelope{Origin: b.nodeID, Scope: scope, Target: target, Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, oops.Code("BACKPLANE_ENCODE_FAILED").With("event", event).Wrap(err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// Deliver hands an envelope published by another node to the local hub.
// Envelopes from this node are ignored.
func (b *Broadcaster) Deliver(payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logger.Warn("backplane envelope malformed", "error", err)
		b.record("receive", "malformed")
		return
	}
	if env.Origin == b.nodeID {
		return
	}

	var data any
	if len(env.Data) > 0 {
		data = env.Data
	}

	switch env.Scope {
	case ScopeClass:
		b.local.BroadcastToClass(env.Target, env.Event, data)
	case ScopeTeachers:
		b.local.BroadcastToTeachers(env.Target, env.Event, data)
	case ScopeUser:
		b.local.BroadcastToUser(env.Target, env.Event, data)
	default:
		b.logger.Warn("backplane envelope has unknown scope", "scope", env.Scope, "origin", env.Origin)
		b.record("receive", "unknown_scope")
		return
	}
	b.record("receive", "ok")
}

// Run subscribes to the channel and delivers envelopes until ctx ends.
// Lost subscriptions are re-established with exponential backoff.
func (b *Broadcaster) Run(ctx context.Context) error {
	backoff := retry.WithMaxRetries(b.retries, retry.NewExponential(b.retryBase))
	backoff = retry.WithCappedDuration(10*time.Second, backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := b.subscribe(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		b.logger.Warn("backplane subscription lost, retrying", "error", err)
		return retry.RetryableError(err)
	})
	if err != nil && ctx.Err() == nil {
		return oops.Code("BACKPLANE_SUBSCRIBE_FAILED").With("channel", b.channel).Wrap(err)
	}
	return nil
}

func (b *Broadcaster) subscribe(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	b.logger.Info("backplane subscribed", "channel", b.channel)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return errSubscriptionClosed
			}
			b.Deliver([]byte(msg.Payload))
		}
	}
}

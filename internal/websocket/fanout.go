package relayws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultFanoutChannel = "relay:deliveries"

// Delivery addresses an encoded frame to local connections. With
// ConsultationID set, only connections that joined that consultation receive
// it. All targets every connection except those of ExceptUserID.
type Delivery struct {
	UserIDs        []int64         `json:"user_ids,omitempty"`
	ConsultationID int64           `json:"consultation_id,omitempty"`
	All            bool            `json:"all,omitempty"`
	ExceptUserID   int64           `json:"except_user_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// Fanout carries deliveries to every hub instance, this one included.
type Fanout interface {
	Publish(ctx context.Context, delivery Delivery) error
	Run(ctx context.Context, deliver func(Delivery)) error
}

type LocalFanout struct {
	queue chan Delivery
}

func NewLocalFanout(buffer int) *LocalFanout {
	if buffer <= 0 {
		buffer = 256
	}
	return &LocalFanout{queue: make(chan Delivery, buffer)}
}

func (f *LocalFanout) Publish(ctx context.Context, delivery Delivery) error {
	select {
	case f.queue <- delivery:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *LocalFanout) Run(ctx context.Context, deliver func(Delivery)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery := <-f.queue:
			deliver(delivery)
		}
	}
}

// RedisFanout shares deliveries between server instances over a Redis
// pub/sub channel. Each instance delivers what it receives to its own
// connections, including what it published itself.
type RedisFanout struct {
	client    redis.UniversalClient
	channel   string
	log       *zap.Logger
	ready     chan struct{}
	readyOnce sync.Once
}

func NewRedisFanout(client redis.UniversalClient, channel string, log *zap.Logger) *RedisFanout {
	if channel == "" {
		channel = DefaultFanoutChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisFanout{
		client:  client,
		channel: channel,
		log:     log.Named("fanout"),
		ready:   make(chan struct{}),
	}
}

func (f *RedisFanout) Publish(ctx context.Context, delivery Delivery) error {
	payload, err := json.Marshal(delivery)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel, payload).Err()
}

// Ready is closed once the subscription is confirmed by the server.
func (f *RedisFanout) Ready() <-chan struct{} {
	return f.ready
}

func (f *RedisFanout) Run(ctx context.Context, deliver func(Delivery)) error {
	sub := f.client.Subscribe(ctx, f.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	f.readyOnce.Do(func() { close(f.ready) })

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var delivery Delivery
			if err := json.Unmarshal([]byte(msg.Payload), &delivery); err != nil {
				f.log.Warn("discarding malformed delivery", zap.Error(err))
				continue
			}
			deliver(delivery)
		}
	}
}

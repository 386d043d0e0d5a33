package relayws

import (
	"context"
	"time"

	"github.com/saeid-a/ConsultBack/internal/metrics"
	"github.com/saeid-a/ConsultBack/internal/models"
	"github.com/saeid-a/ConsultBack/internal/presence"
	"github.com/saeid-a/ConsultBack/internal/services"
	"go.uber.org/zap"
)

const (
	presenceTimeout = 3 * time.Second
	publishTimeout  = 2 * time.Second
)

type relayService interface {
	Join(ctx context.Context, actorID int64, consultationID int64) (*services.JoinResult, error)
	SendMessage(
		ctx context.Context,
		actorID int64,
		consultationID int64,
		body string,
		kind models.MessageKind,
	) (*services.MessageDelivery, error)
	Start(ctx context.Context, actorID int64, consultationID int64) (*models.Consultation, error)
	End(ctx context.Context, actorID int64, consultationID int64) (*models.Consultation, error)
}

type toucher interface {
	Touch(ctx context.Context, userID int64) error
}

type Hub struct {
	clients    map[int64]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	deliveries chan Delivery
	done       chan struct{}

	service  relayService
	fanout   Fanout
	presence presence.Directory
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewHub(
	service relayService,
	fanout Fanout,
	directory presence.Directory,
	m *metrics.Metrics,
	log *zap.Logger,
) *Hub {
	if fanout == nil {
		fanout = NewLocalFanout(0)
	}
	if directory == nil {
		directory = presence.NewMemoryDirectory()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[int64]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliveries: make(chan Delivery, 64),
		done:       make(chan struct{}),
		service:    service,
		fanout:     fanout,
		presence:   directory,
		metrics:    m,
		log:        log.Named("relay"),
	}
}

// Run owns the connection registry until ctx is cancelled, then closes every
// send queue so the write pumps hang up.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	go func() {
		if err := h.fanout.Run(ctx, func(d Delivery) { h.enqueue(ctx, d) }); err != nil {
			h.log.Error("fanout stopped", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for client := range set {
					client.closeSend()
				}
			}
			h.clients = make(map[int64]map[*Client]struct{})
			return
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
		case client := <-h.unregister:
			set, ok := h.clients[client.userID]
			if !ok {
				continue
			}
			if _, exists := set[client]; exists {
				delete(set, client)
				client.closeSend()
			}
			if len(set) == 0 {
				delete(h.clients, client.userID)
			}
		case delivery := <-h.deliveries:
			h.deliver(delivery)
		}
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.closeSend()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Attach registers a new connection and announces its user if this is the
// user's first live connection.
func (h *Hub) Attach(ctx context.Context, client *Client) {
	h.Register(client)

	ctx, cancel := context.WithTimeout(ctx, presenceTimeout)
	defer cancel()
	online, err := h.presence.Connect(ctx, client.userID, client.handle)
	if err != nil {
		h.log.Warn("presence connect failed", zap.Int64("user_id", client.userID), zap.Error(err))
		return
	}
	if online {
		h.metrics.UserOnline()
		h.announce(ctx, EventUserOnline, client.userID)
	}
}

// Detach is the inverse of Attach.
func (h *Hub) Detach(ctx context.Context, client *Client) {
	h.Unregister(client)

	ctx, cancel := context.WithTimeout(ctx, presenceTimeout)
	defer cancel()
	offline, err := h.presence.Disconnect(ctx, client.userID, client.handle)
	if err != nil {
		h.log.Warn("presence disconnect failed", zap.Int64("user_id", client.userID), zap.Error(err))
		return
	}
	if offline {
		h.metrics.UserOffline()
		h.announce(ctx, EventUserOffline, client.userID)
	}
}

// PublishToUsers sends a server event to every live connection of userIDs.
func (h *Hub) PublishToUsers(userIDs []int64, event string, data any) {
	payload, err := encodeOutbound(Outbound{Event: event, Data: data})
	if err != nil {
		h.log.Error("encode server event", zap.String("event", event), zap.Error(err))
		return
	}
	h.publish(context.Background(), Delivery{UserIDs: userIDs, Payload: payload})
}

// IsOnline reports whether userID has a live connection on any instance.
func (h *Hub) IsOnline(ctx context.Context, userID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, presenceTimeout)
	defer cancel()
	return h.presence.IsOnline(ctx, userID)
}

// OnlineUsers lists every identity with a live connection, ascending.
func (h *Hub) OnlineUsers(ctx context.Context) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, presenceTimeout)
	defer cancel()
	return h.presence.Online(ctx)
}

func (h *Hub) announce(ctx context.Context, event string, userID int64) {
	payload, err := encodeOutbound(Outbound{Event: event, Data: PresencePayload{UserID: userID}})
	if err != nil {
		h.log.Error("encode presence event", zap.Error(err))
		return
	}
	h.publish(ctx, Delivery{All: true, ExceptUserID: userID, Payload: payload})
}

// publish never outlives the hub: once Run has returned nothing drains the
// fanout, so deliveries are dropped instead of blocking the caller.
func (h *Hub) publish(ctx context.Context, delivery Delivery) {
	select {
	case <-h.done:
		h.log.Debug("hub stopped, dropping delivery")
		return
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	go func() {
		select {
		case <-h.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := h.fanout.Publish(ctx, delivery); err != nil {
		h.log.Error("publish delivery", zap.Error(err))
	}
}

func (h *Hub) enqueue(ctx context.Context, delivery Delivery) {
	select {
	case h.deliveries <- delivery:
	case <-ctx.Done():
	}
}

func (h *Hub) deliver(delivery Delivery) {
	if delivery.All {
		for userID := range h.clients {
			if userID != delivery.ExceptUserID {
				h.sendToUser(userID, delivery)
			}
		}
		return
	}
	for _, userID := range delivery.UserIDs {
		h.sendToUser(userID, delivery)
	}
}

func (h *Hub) sendToUser(userID int64, delivery Delivery) {
	set, ok := h.clients[userID]
	if !ok {
		return
	}

	for client := range set {
		if delivery.ConsultationID != 0 && !client.hasJoined(delivery.ConsultationID) {
			continue
		}
		if client.trySend(delivery.Payload) {
			continue
		}
		delete(set, client)
		client.closeSend()
		h.metrics.RecordDroppedConnection()
		h.log.Warn("dropping slow connection", zap.Int64("user_id", userID), zap.String("handle", client.handle))
	}
	if len(set) == 0 {
		delete(h.clients, userID)
	}
}

func (h *Hub) touch(userID int64) {
	t, ok := h.presence.(toucher)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := t.Touch(ctx, userID); err != nil {
		h.log.Debug("presence touch failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

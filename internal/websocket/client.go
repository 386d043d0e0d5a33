package relayws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/saeid-a/ConsultBack/internal/models"
	"github.com/saeid-a/ConsultBack/internal/services"
	"go.uber.org/zap"
)

const (
	sendBuffer = 32
	pingPeriod = 30 * time.Second
)

// Conn is the part of a websocket connection the relay uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Client struct {
	hub    *Hub
	conn   Conn
	userID int64
	handle string
	send   chan []byte

	mu     sync.Mutex
	closed bool
	joined map[int64]int64
}

func NewClient(hub *Hub, conn Conn, userID int64) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		handle: uuid.NewString(),
		send:   make(chan []byte, sendBuffer),
		joined: make(map[int64]int64),
	}
}

func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) join(consultationID, peerID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined[consultationID] = peerID
}

func (c *Client) hasJoined(consultationID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.joined[consultationID]
	return ok
}

func (c *Client) peerOf(consultationID int64) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	peerID, ok := c.joined[consultationID]
	return peerID, ok
}

// ReadPump handles inbound frames in arrival order until the connection
// fails, then detaches the client from the hub.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Detach(context.Background(), c)
		_ = c.conn.Close()
	}()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handlePayload(ctx, payload)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.hub.touch(c.userID)
		}
	}
}

func (c *Client) handlePayload(ctx context.Context, payload []byte) {
	in, err := decodeInbound(payload)
	if err != nil {
		c.replyError(0, fmt.Errorf("%w: %v", services.ErrValidation, err))
		c.hub.metrics.RecordRelayEvent("unknown", services.CodeValidation)
		return
	}

	if in.ConsultationID <= 0 {
		err = fmt.Errorf("%w: consultation_id is required", services.ErrValidation)
	} else {
		err = c.dispatch(ctx, in)
	}

	result := "ok"
	if err != nil {
		result = services.ErrorCode(err)
		if result == services.CodeInternal {
			c.hub.log.Error("relay event failed",
				zap.String("event", in.Event),
				zap.Int64("user_id", c.userID),
				zap.Int64("consultation_id", in.ConsultationID),
				zap.Error(err),
			)
		}
		c.replyError(in.ConsultationID, err)
	}
	c.hub.metrics.RecordRelayEvent(metricEventLabel(in.Event), result)
}

func (c *Client) dispatch(ctx context.Context, in Inbound) error {
	switch in.Event {
	case EventJoin:
		return c.handleJoin(ctx, in)
	case EventMessage:
		return c.handleMessage(ctx, in)
	case EventStart:
		_, err := c.hub.service.Start(ctx, c.userID, in.ConsultationID)
		return err
	case EventEnd:
		_, err := c.hub.service.End(ctx, c.userID, in.ConsultationID)
		return err
	}
	if _, ok := relayedEvents[in.Event]; ok {
		return c.handleRelay(ctx, in)
	}
	return fmt.Errorf("%w: unsupported event %q", services.ErrValidation, in.Event)
}

func (c *Client) handleJoin(ctx context.Context, in Inbound) error {
	result, err := c.hub.service.Join(ctx, c.userID, in.ConsultationID)
	if err != nil {
		return err
	}
	c.join(in.ConsultationID, result.PeerID)

	peerOnline, err := c.hub.IsOnline(ctx, result.PeerID)
	if err != nil {
		c.hub.log.Warn("presence lookup failed", zap.Int64("user_id", result.PeerID), zap.Error(err))
	}
	c.reply(Outbound{
		Event:          EventJoined,
		ConsultationID: in.ConsultationID,
		Data: map[string]any{
			"consultation": result.Consultation,
			"peer_id":      result.PeerID,
			"peer_online":  peerOnline,
			"messages":     result.Messages,
		},
	})
	return nil
}

func (c *Client) handleMessage(ctx context.Context, in Inbound) error {
	if !c.hasJoined(in.ConsultationID) {
		return errNotJoined
	}
	var body chatPayload
	if len(in.Data) > 0 {
		if err := json.Unmarshal(in.Data, &body); err != nil {
			return fmt.Errorf("%w: invalid message payload", services.ErrValidation)
		}
	}

	delivery, err := c.hub.service.SendMessage(ctx, c.userID, in.ConsultationID, body.Message, models.MessageKind(body.Type))
	if err != nil {
		return err
	}

	frame, err := encodeOutbound(Outbound{
		Event:          EventMessage,
		ConsultationID: in.ConsultationID,
		From:           c.userID,
		Data:           delivery.Message,
	})
	if err != nil {
		return err
	}
	c.hub.publish(ctx, Delivery{
		UserIDs:        []int64{delivery.RecipientID},
		ConsultationID: in.ConsultationID,
		Payload:        frame,
	})
	c.reply(Outbound{Event: EventMessageSent, ConsultationID: in.ConsultationID, Data: delivery.Message})
	return nil
}

func (c *Client) handleRelay(ctx context.Context, in Inbound) error {
	peerID, ok := c.peerOf(in.ConsultationID)
	if !ok {
		return errNotJoined
	}
	frame, err := encodeOutbound(Outbound{
		Event:          in.Event,
		ConsultationID: in.ConsultationID,
		From:           c.userID,
		Data:           in.Data,
	})
	if err != nil {
		return err
	}
	c.hub.publish(ctx, Delivery{
		UserIDs:        []int64{peerID},
		ConsultationID: in.ConsultationID,
		Payload:        frame,
	})
	return nil
}

var errNotJoined = fmt.Errorf("%w: join the consultation first", services.ErrForbidden)

func (c *Client) reply(out Outbound) {
	payload, err := encodeOutbound(out)
	if err != nil {
		c.hub.log.Error("encode reply", zap.String("event", out.Event), zap.Error(err))
		return
	}
	if !c.trySend(payload) {
		c.closeSend()
		c.hub.metrics.RecordDroppedConnection()
	}
}

func (c *Client) replyError(consultationID int64, err error) {
	message := services.PublicMessage(err)
	if errors.Is(err, errMalformedEnvelope) {
		message = "invalid message payload"
	}
	c.reply(Outbound{
		Event:          EventError,
		ConsultationID: consultationID,
		Data:           ErrorPayload{Code: services.ErrorCode(err), Message: message},
	})
}

package relayws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/saeid-a/ConsultBack/internal/clock"
	"github.com/saeid-a/ConsultBack/internal/lock"
	"github.com/saeid-a/ConsultBack/internal/models"
	"github.com/saeid-a/ConsultBack/internal/presence"
	"github.com/saeid-a/ConsultBack/internal/repository/memory"
	"github.com/saeid-a/ConsultBack/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	requesterID = int64(42)
	providerID  = int64(7)
	outsiderID  = int64(99)
	waitFor     = 2 * time.Second
	quietPeriod = 150 * time.Millisecond
)

var errConnClosed = errors.New("connection closed")

type fakeConn struct {
	inbound  chan []byte
	outbound chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound:  make(chan []byte, 16),
		outbound: make(chan []byte, 128),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case payload := <-c.inbound:
		return websocket.TextMessage, payload, nil
	case <-c.closed:
		return 0, nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	c.outbound <- append([]byte(nil), data...)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type frame struct {
	Event          string          `json:"event"`
	ConsultationID int64           `json:"consultation_id"`
	From           int64           `json:"from"`
	Data           json.RawMessage `json:"data"`
}

func (c *fakeConn) emit(t *testing.T, event string, consultationID int64, data any) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"event": event, "consultation_id": consultationID, "data": data})
	require.NoError(t, err)
	c.inbound <- payload
}

func (c *fakeConn) expect(t *testing.T, event string) frame {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case payload := <-c.outbound:
			var f frame
			require.NoError(t, json.Unmarshal(payload, &f))
			if f.Event == event {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", event)
		}
	}
}

func (c *fakeConn) expectNone(t *testing.T, event string) {
	t.Helper()
	deadline := time.After(quietPeriod)
	for {
		select {
		case payload := <-c.outbound:
			var f frame
			require.NoError(t, json.Unmarshal(payload, &f))
			if f.Event == event {
				t.Fatalf("unexpected %s: %s", event, payload)
			}
		case <-deadline:
			return
		}
	}
}

type relayFixture struct {
	hub          *Hub
	service      *services.ConsultationService
	clock        *clock.FakeClock
	consultation *models.Consultation
	ctx          context.Context
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC))
	store := memory.NewStore(clk)
	store.PutProvider(models.Provider{
		UserID: providerID,
		Modes:  models.ConsultationModes{Chat: true, Video: true},
		Rates:  models.ConsultationRates{Chat: 1000, Video: 2000},
	})
	store.PutWallet(models.Wallet{UserID: requesterID, Balance: 10000, Currency: "INR"})

	consultations := services.NewConsultationService(store, lock.NewKeyedMutex(), clk, nil, nil, nil, nil, nil)
	hub := NewHub(services.NewRelayService(store, consultations), NewLocalFanout(0), presence.NewMemoryDirectory(), nil, nil)
	consultations.SetEventPublisher(hub)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	created, err := consultations.Create(ctx, requesterID, services.CreateConsultationInput{
		ProviderID: providerID,
		Modality:   models.ModalityVideo,
	})
	require.NoError(t, err)

	return &relayFixture{hub: hub, service: consultations, clock: clk, consultation: created, ctx: ctx}
}

func (f *relayFixture) connect(t *testing.T, userID int64) (*fakeConn, *Client) {
	t.Helper()
	conn := newFakeConn()
	client := NewClient(f.hub, conn, userID)
	f.hub.Attach(f.ctx, client)
	go client.WritePump()
	go client.ReadPump(f.ctx)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, client
}

func (f *relayFixture) joined(t *testing.T, userID int64) *fakeConn {
	t.Helper()
	conn, _ := f.connect(t, userID)
	conn.emit(t, EventJoin, f.consultation.ID, nil)
	conn.expect(t, EventJoined)
	return conn
}

func TestJoinRepliesWithPeerAndHistory(t *testing.T) {
	f := newRelayFixture(t)
	conn, _ := f.connect(t, requesterID)

	conn.emit(t, EventJoin, f.consultation.ID, nil)
	reply := conn.expect(t, EventJoined)

	var data struct {
		PeerID       int64                        `json:"peer_id"`
		PeerOnline   bool                         `json:"peer_online"`
		Consultation models.Consultation          `json:"consultation"`
		Messages     []models.ConsultationMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(reply.Data, &data))
	assert.Equal(t, providerID, data.PeerID)
	assert.False(t, data.PeerOnline)
	assert.Equal(t, f.consultation.ID, data.Consultation.ID)
	assert.Empty(t, data.Messages)
}

func TestJoinReportsConnectedPeer(t *testing.T) {
	f := newRelayFixture(t)
	f.connect(t, providerID)
	conn, _ := f.connect(t, requesterID)

	conn.emit(t, EventJoin, f.consultation.ID, nil)
	reply := conn.expect(t, EventJoined)

	var data struct {
		PeerOnline bool `json:"peer_online"`
	}
	require.NoError(t, json.Unmarshal(reply.Data, &data))
	assert.True(t, data.PeerOnline)

	online, err := f.hub.OnlineUsers(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{providerID, requesterID}, online)

	isOnline, err := f.hub.IsOnline(f.ctx, outsiderID)
	require.NoError(t, err)
	assert.False(t, isOnline)
}

func TestJoinByOutsiderIsForbidden(t *testing.T) {
	f := newRelayFixture(t)
	conn, _ := f.connect(t, outsiderID)

	conn.emit(t, EventJoin, f.consultation.ID, nil)
	reply := conn.expect(t, EventError)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(reply.Data, &payload))
	assert.Equal(t, services.CodeAuthorization, payload.Code)
}

func TestMessageIsStoredAndDeliveredToPeerOnly(t *testing.T) {
	f := newRelayFixture(t)
	requester := f.joined(t, requesterID)
	provider := f.joined(t, providerID)
	outsider, _ := f.connect(t, outsiderID)

	requester.emit(t, EventMessage, f.consultation.ID, map[string]string{"message": "hello doctor"})

	ack := requester.expect(t, EventMessageSent)
	var sent models.ConsultationMessage
	require.NoError(t, json.Unmarshal(ack.Data, &sent))
	assert.Equal(t, "hello doctor", sent.Body)
	assert.Equal(t, models.MessageKindText, sent.Kind)

	received := provider.expect(t, EventMessage)
	assert.Equal(t, requesterID, received.From)
	assert.Equal(t, f.consultation.ID, received.ConsultationID)

	requester.expectNone(t, EventMessage)
	outsider.expectNone(t, EventMessage)

	messages, total, err := f.service.Messages(f.ctx, providerID, f.consultation.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "hello doctor", messages[0].Body)
}

func TestMessageBeforeJoinIsRejected(t *testing.T) {
	f := newRelayFixture(t)
	conn, _ := f.connect(t, requesterID)

	conn.emit(t, EventMessage, f.consultation.ID, map[string]string{"message": "hi"})
	reply := conn.expect(t, EventError)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(reply.Data, &payload))
	assert.Equal(t, services.CodeAuthorization, payload.Code)
}

func TestMalformedFrameReturnsValidationError(t *testing.T) {
	f := newRelayFixture(t)
	conn, _ := f.connect(t, requesterID)

	conn.inbound <- []byte(`{"event":`)
	reply := conn.expect(t, EventError)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(reply.Data, &payload))
	assert.Equal(t, services.CodeValidation, payload.Code)
	assert.Equal(t, "invalid message payload", payload.Message)

	conn.emit(t, "consultation:dance", f.consultation.ID, nil)
	reply = conn.expect(t, EventError)
	require.NoError(t, json.Unmarshal(reply.Data, &payload))
	assert.Equal(t, services.CodeValidation, payload.Code)
}

func TestSignalingIsRelayedVerbatimToJoinedPeer(t *testing.T) {
	f := newRelayFixture(t)
	requester := f.joined(t, requesterID)
	providerIdle, _ := f.connect(t, providerID)
	provider := f.joined(t, providerID)

	offer := map[string]any{"offer": map[string]any{"type": "offer", "sdp": "v=0"}}
	requester.emit(t, EventWebRTCOffer, f.consultation.ID, offer)

	relayed := provider.expect(t, EventWebRTCOffer)
	assert.Equal(t, requesterID, relayed.From)
	assert.JSONEq(t, `{"offer":{"type":"offer","sdp":"v=0"}}`, string(relayed.Data))

	providerIdle.expectNone(t, EventWebRTCOffer)
	requester.expectNone(t, EventWebRTCOffer)

	requester.emit(t, EventTypingStart, f.consultation.ID, nil)
	typing := provider.expect(t, EventTypingStart)
	assert.Equal(t, requesterID, typing.From)
}

func TestSocketStartAndEndReachBothParticipants(t *testing.T) {
	f := newRelayFixture(t)
	requester, _ := f.connect(t, requesterID)
	provider, _ := f.connect(t, providerID)

	requester.emit(t, EventStart, f.consultation.ID, nil)
	reply := requester.expect(t, EventError)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(reply.Data, &payload))
	assert.Equal(t, services.CodeAuthorization, payload.Code)

	provider.emit(t, EventStart, f.consultation.ID, nil)
	requester.expect(t, services.EventConsultationStarted)
	provider.expect(t, services.EventConsultationStarted)

	f.clock.Advance(2 * time.Minute)
	requester.emit(t, EventEnd, f.consultation.ID, nil)
	ended := provider.expect(t, services.EventConsultationEnded)
	requester.expect(t, services.EventConsultationEnded)

	var data services.EndedEvent
	require.NoError(t, json.Unmarshal(ended.Data, &data))
	assert.Equal(t, 2, data.Duration)
	assert.Equal(t, models.Amount(4000), data.TotalAmount)
}

func TestPresenceAnnouncedOnFirstAndLastConnection(t *testing.T) {
	f := newRelayFixture(t)
	observer, _ := f.connect(t, requesterID)

	first, _ := f.connect(t, providerID)
	online := observer.expect(t, EventUserOnline)
	var who PresencePayload
	require.NoError(t, json.Unmarshal(online.Data, &who))
	assert.Equal(t, providerID, who.UserID)
	first.expectNone(t, EventUserOnline)

	second, _ := f.connect(t, providerID)
	observer.expectNone(t, EventUserOnline)

	require.NoError(t, first.Close())
	observer.expectNone(t, EventUserOffline)

	require.NoError(t, second.Close())
	offline := observer.expect(t, EventUserOffline)
	require.NoError(t, json.Unmarshal(offline.Data, &who))
	assert.Equal(t, providerID, who.UserID)
}

func TestSlowConnectionIsDropped(t *testing.T) {
	f := newRelayFixture(t)
	conn := newFakeConn()
	slow := NewClient(f.hub, conn, providerID)
	f.hub.Attach(f.ctx, slow)
	healthy, _ := f.connect(t, providerID)

	for i := 0; i < sendBuffer+1; i++ {
		f.hub.PublishToUsers([]int64{providerID}, "test:tick", map[string]int{"n": i})
	}

	assert.Eventually(t, func() bool {
		slow.mu.Lock()
		defer slow.mu.Unlock()
		return slow.closed
	}, waitFor, 10*time.Millisecond)

	f.hub.PublishToUsers([]int64{providerID}, "test:after", nil)
	healthy.expect(t, "test:after")
}

func TestPublishAfterShutdownReturnsImmediately(t *testing.T) {
	hub := NewHub(nil, NewLocalFanout(1), nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	cancel()
	<-hub.done

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < 10; i++ {
			hub.PublishToUsers([]int64{providerID}, "test:tick", nil)
		}
	}()

	select {
	case <-finished:
	case <-time.After(publishTimeout / 2):
		t.Fatal("publishing to a stopped hub blocked")
	}
}

func TestPublishBlockedOnFullQueueReleasesWhenHubStops(t *testing.T) {
	hub := NewHub(nil, NewLocalFanout(1), nil, nil, nil)
	hub.PublishToUsers([]int64{providerID}, "test:fill", nil)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		hub.PublishToUsers([]int64{providerID}, "test:blocked", nil)
	}()

	select {
	case <-finished:
		t.Fatal("expected publish to wait for queue space")
	case <-time.After(quietPeriod):
	}

	close(hub.done)
	select {
	case <-finished:
	case <-time.After(publishTimeout / 2):
		t.Fatal("publish stayed blocked after the hub stopped")
	}
}

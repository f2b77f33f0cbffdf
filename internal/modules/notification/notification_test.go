package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/gorilla/websocket"
	amqp "github.com/rabbitmq/amqp091-go"

	"ridedispatch/internal/logging"
	"ridedispatch/internal/modules/ride"
	"ridedispatch/internal/types"
)

func sampleEvent(to ride.Status) ride.Event {
	return ride.Event{
		RideID:   "r1",
		From:     ride.StatusRequested,
		To:       to,
		Actor:    ride.SystemActor,
		RiderID:  "rider1",
		DriverID: "d1",
		At:       time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, published{exchange, key, msg})
	return f.err
}

func TestAMQPPublisher(t *testing.T) {
	ch := &fakeChannel{}
	p := newAMQPPublisher(ch, "ride_topic", logging.Discard())
	ctx := context.Background()

	if err := p.RideTransition(ctx, sampleEvent(ride.StatusAccepted)); err != nil {
		t.Fatalf("publish status: %v", err)
	}
	if err := p.RideCompleted(ctx, "r1", types.Money{Amount: 1850, Currency: "EUR"}); err != nil {
		t.Fatalf("publish payment: %v", err)
	}

	if len(ch.sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(ch.sent))
	}
	if ch.sent[0].exchange != "ride_topic" || ch.sent[0].key != "ride.status.accepted" {
		t.Fatalf("unexpected status routing: %+v", ch.sent[0])
	}
	var status StatusMessage
	if err := json.Unmarshal(ch.sent[0].msg.Body, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.RideID != "r1" || status.To != "accepted" || status.DriverID != "d1" {
		t.Fatalf("unexpected status body: %+v", status)
	}

	if ch.sent[1].key != "payment.requested" || ch.sent[1].msg.CorrelationId != "r1" {
		t.Fatalf("unexpected payment routing: %+v", ch.sent[1])
	}
	var pay PaymentMessage
	if err := json.Unmarshal(ch.sent[1].msg.Body, &pay); err != nil {
		t.Fatalf("decode payment: %v", err)
	}
	if pay.Amount != 1850 || pay.Currency != "EUR" {
		t.Fatalf("unexpected payment body: %+v", pay)
	}

	ch.err = errors.New("channel closed")
	if err := p.RideTransition(ctx, sampleEvent(ride.StatusCancelled)); err == nil {
		t.Fatal("expected publish error")
	}
}

type fakeMessaging struct {
	mu   sync.Mutex
	sent []*messaging.Message
}

func (f *fakeMessaging) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return "msg-id", nil
}

func TestFCM_Recipients(t *testing.T) {
	client := &fakeMessaging{}
	f := &FCM{client: client}
	ctx := context.Background()

	if err := f.RideTransition(ctx, sampleEvent(ride.StatusAccepted)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(client.sent) != 1 || client.sent[0].Topic != "user_rider1" {
		t.Fatalf("accepted should only reach the rider: %+v", client.sent)
	}

	if err := f.RideTransition(ctx, sampleEvent(ride.StatusCancelled)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(client.sent) != 3 || client.sent[2].Topic != "user_d1" {
		t.Fatalf("cancel should reach rider and driver: %d sent", len(client.sent))
	}
	if client.sent[1].Data["status"] != "cancelled" {
		t.Fatalf("unexpected data: %v", client.sent[1].Data)
	}
}

type stubNotifier struct {
	calls int
	err   error
	mu    sync.Mutex
}

func (s *stubNotifier) RideTransition(context.Context, ride.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func TestFanout(t *testing.T) {
	ok := &stubNotifier{}
	failing := &stubNotifier{err: errors.New("push down")}
	f := Fanout{ok, failing}

	err := f.RideTransition(context.Background(), sampleEvent(ride.StatusAccepted))
	if err == nil || !strings.Contains(err.Error(), "push down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if ok.calls != 1 || failing.calls != 1 {
		t.Fatalf("every notifier must be called: %d %d", ok.calls, failing.calls)
	}
	if err := (Fanout{}).RideTransition(context.Background(), sampleEvent(ride.StatusAccepted)); err != nil {
		t.Fatalf("empty fanout: %v", err)
	}
}

func TestHub_SubscribeAndDrop(t *testing.T) {
	h := NewHub(logging.Discard())
	events, cancel := h.Subscribe("r1")

	for i := 0; i < subscriberSize+5; i++ {
		_ = h.RideTransition(context.Background(), sampleEvent(ride.StatusAccepted))
	}
	if len(events) != subscriberSize {
		t.Fatalf("buffer should hold %d events, got %d", subscriberSize, len(events))
	}

	cancel()
	cancel()
	if h.Subscribers("r1") != 0 {
		t.Fatal("cancel must remove the subscription")
	}
}

func TestHub_ServeWS(t *testing.T) {
	h := NewHub(logging.Discard())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, "r1")
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers("r1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(time.Millisecond)
	}

	_ = h.RideTransition(context.Background(), sampleEvent(ride.StatusAccepted))
	_ = h.RideTransition(context.Background(), sampleEvent(ride.StatusCompleted))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second StatusMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first: %v", err)
	}
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read second: %v", err)
	}
	if first.To != "accepted" || second.To != "completed" {
		t.Fatalf("unexpected events: %+v %+v", first, second)
	}

	// The server closes the stream after a terminal status.
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal closure, got %v", err)
	}
}

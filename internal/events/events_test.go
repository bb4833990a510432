package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

type recorder struct {
	events []Event
}

func (r *recorder) Publish(_ context.Context, ev Event) {
	r.events = append(r.events, ev)
}

func TestMulti_PublishesToAll(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Multi{a, nil, b}

	m.Publish(context.Background(), Event{Type: TypeBidPlaced, AuctionID: "a1"})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("expected one event each, got %d and %d", len(a.events), len(b.events))
	}
}

func TestRoutingKey(t *testing.T) {
	if got := routingKey(Event{Type: TypeBidPlaced}); got != RoutingBidPlaced {
		t.Errorf("expected %s, got %s", RoutingBidPlaced, got)
	}
	if got := routingKey(Event{Type: TypeWalletCredited}); got != RoutingWalletCredited {
		t.Errorf("expected %s, got %s", RoutingWalletCredited, got)
	}
}

func dialHub(t *testing.T, h *WSHub, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *WSHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		got := len(h.clients)
		h.mu.Unlock()
		if got == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("hub never reached %d clients", n)
}

func TestWSHub_BroadcastsBidsToFollowers(t *testing.T) {
	h := NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	follower := dialHub(t, h, "?auction_id=a1")
	other := dialHub(t, h, "?auction_id=a2")
	waitForClients(t, h, 2)

	h.Publish(ctx, Event{Type: TypeBidPlaced, AuctionID: "a1", Price: decimal.NewFromInt(1050), Countdown: 10})

	follower.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := follower.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.AuctionID != "a1" || !ev.Price.Equal(decimal.NewFromInt(1050)) || ev.Countdown != 10 {
		t.Errorf("unexpected event %+v", ev)
	}

	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Error("client following a2 should not receive a1 events")
	}
}

func TestWSHub_IgnoresWalletEvents(t *testing.T) {
	h := NewWSHub()
	h.Publish(context.Background(), Event{Type: TypeWalletCredited, BidderID: "u1"})

	select {
	case <-h.broadcast:
		t.Error("wallet events must not be broadcast")
	default:
	}
}

func TestWSHub_StoppedHubReleasesHandlers(t *testing.T) {
	h := NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	existing := dialHub(t, h, "")
	waitForClients(t, h, 1)

	cancel()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	// The connection closed by shutdown must not leave its read pump stuck.
	existing.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := existing.ReadMessage(); err == nil {
		t.Fatal("expected the connection to be closed by shutdown")
	}

	returned := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(returned)
		h.HandleWS(w, r)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleWS blocked on a stopped hub")
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected a closed connection from a stopped hub")
	}
}

func TestAMQPPublisher_DoesNotWaitForBroker(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var delivered []string

	p := &AMQPPublisher{timeout: time.Second}
	p.send = func(_ context.Context, ev Event) error {
		<-release
		mu.Lock()
		delivered = append(delivered, ev.AuctionID)
		mu.Unlock()
		return nil
	}
	p.start()

	start := time.Now()
	for i := 0; i < 10; i++ {
		p.Publish(context.Background(), Event{Type: TypeBidPlaced, AuctionID: fmt.Sprintf("a%d", i)})
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("publishing waited on the broker for %s", elapsed)
	}

	close(release)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Closed publishers drop events instead of panicking.
	p.Publish(context.Background(), Event{Type: TypeBidPlaced, AuctionID: "late"})

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 10 {
		t.Fatalf("expected 10 delivered events, got %d", len(delivered))
	}
	for i, id := range delivered {
		if want := fmt.Sprintf("a%d", i); id != want {
			t.Errorf("event %d: got %s, want %s", i, id, want)
		}
	}
}

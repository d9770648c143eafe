package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	app "github.com/R3E-Network/lockswap/internal/app"
	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/events"
	"github.com/R3E-Network/lockswap/internal/middleware"
)

func TestEventsStreamCommittedUnits(t *testing.T) {
	application, err := app.New(app.Stores{}, app.Options{DisableKeeper: true}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	auth := middleware.NewAuthMiddleware([]byte("test-secret"), "", nil)
	srv := httptest.NewServer(New(application, Config{
		Tracing: middleware.NewTracing(nil),
		Auth:    auth,
		Audit:   newAuditLog(10, nil),
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/events", nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for application.Events.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	token, err := auth.Issue("alice", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL+"/items",
		bytes.NewReader([]byte(`{"type":"sword","data":{"power":3}}`)))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("register item: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register item: status %d", resp.StatusCode)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	itemID := ledger.ID(gjson.GetBytes(buf.Bytes(), "id").String())

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Sequence != 1 || ev.Sender != "alice" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if len(ev.Effects.Created) != 1 || ev.Effects.Created[0] != itemID {
		t.Fatalf("expected created %s, got %+v", itemID, ev.Effects)
	}

	conn.Close()
	deadline = time.Now().Add(5 * time.Second)
	for application.Events.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not released after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

package wire

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// testServer runs handler for each websocket connection and records the
// transport identity header.
type testServer struct {
	*httptest.Server
	identity chan string
}

func newTestServer(t *testing.T, handler func(ws *websocket.Conn)) *testServer {
	t.Helper()
	ts := &testServer{identity: make(chan string, 1)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.identity <- r.Header.Get("X-Transport-Identity")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func sendMsg(t *testing.T, ws *websocket.Conn, msg serverMsg) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Errorf("marshal: %v", err)
		return
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Errorf("write: %v", err)
	}
}

func sendHello(t *testing.T, ws *websocket.Conn, session string) {
	t.Helper()
	sendMsg(t, ws, serverMsg{Op: "hello", Session: session})
}

func readClientMsg(t *testing.T, ws *websocket.Conn) clientMsg {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	var msg clientMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("server decode: %v", err)
	}
	return msg
}

func TestDialHello(t *testing.T) {
	done := make(chan struct{})
	ts := newTestServer(t, func(ws *websocket.Conn) {
		sendHello(t, ws, "s-42")
		<-done
	})
	defer close(done)

	conn, err := Dial(context.Background(), ts.url(), "device-7")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if conn.Session() != "s-42" {
		t.Errorf("session = %q, want s-42", conn.Session())
	}
	if id := <-ts.identity; id != "device-7" {
		t.Errorf("transport identity = %q, want device-7", id)
	}
}

func TestDialRejectsMissingHello(t *testing.T) {
	ts := newTestServer(t, func(ws *websocket.Conn) {
		// A row before the hello means the session was never activated.
		sendMsg(t, ws, serverMsg{Op: "row", Table: "player"})
	})

	_, err := Dial(context.Background(), ts.url(), "d")
	if err != ErrNoHello {
		t.Fatalf("Dial error = %v, want ErrNoHello", err)
	}
}

func TestEventsArriveInOrder(t *testing.T) {
	done := make(chan struct{})
	ts := newTestServer(t, func(ws *websocket.Conn) {
		sendHello(t, ws, "s")
		readClientMsg(t, ws) // subscribe
		sendMsg(t, ws, serverMsg{Op: "row", Table: "player", Event: "insert", Data: json.RawMessage(`{"id":"p1"}`)})
		sendMsg(t, ws, serverMsg{Op: "row", Table: "problem", Event: "update", Data: json.RawMessage(`{"id":"pr1"}`)})
		sendMsg(t, ws, serverMsg{Op: "applied", Scope: "base"})
		<-done
	})
	defer close(done)

	conn, err := Dial(context.Background(), ts.url(), "d")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Subscribe("base", []string{"SELECT * FROM player"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	want := []Event{
		{Kind: EventRow, Row: RowEvent{Table: "player", Op: OpInsert, Row: json.RawMessage(`{"id":"p1"}`)}},
		{Kind: EventRow, Row: RowEvent{Table: "problem", Op: OpUpdate, Row: json.RawMessage(`{"id":"pr1"}`)}},
		{Kind: EventApplied, Scope: "base"},
	}
	for i, w := range want {
		select {
		case got := <-conn.Events():
			if got.Kind != w.Kind || got.Scope != w.Scope || got.Row.Table != w.Row.Table ||
				got.Row.Op != w.Row.Op || string(got.Row.Row) != string(w.Row.Row) {
				t.Errorf("event %d = %+v, want %+v", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d never arrived", i)
		}
	}
}

func TestScopeErrorDelivered(t *testing.T) {
	done := make(chan struct{})
	ts := newTestServer(t, func(ws *websocket.Conn) {
		sendHello(t, ws, "s")
		readClientMsg(t, ws)
		sendMsg(t, ws, serverMsg{Op: "error", Scope: "match:m1", Message: "no such match"})
		<-done
	})
	defer close(done)

	conn, err := Dial(context.Background(), ts.url(), "d")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Subscribe("match:m1", nil); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	select {
	case ev := <-conn.Events():
		if ev.Kind != EventScopeError || ev.Scope != "match:m1" || ev.Err != "no such match" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scope error never arrived")
	}
}

func TestClientFrames(t *testing.T) {
	frames := make(chan clientMsg, 3)
	done := make(chan struct{})
	ts := newTestServer(t, func(ws *websocket.Conn) {
		sendHello(t, ws, "s")
		for i := 0; i < 3; i++ {
			frames <- readClientMsg(t, ws)
		}
		<-done
	})
	defer close(done)

	conn, err := Dial(context.Background(), ts.url(), "d")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	queries := []string{"SELECT * FROM player WHERE id = 'p1'"}
	if err := conn.Subscribe("base", queries); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := conn.Call("submit_answer", map[string]int{"value": 9}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if err := conn.Unsubscribe("base"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	sub := <-frames
	if sub.Op != "subscribe" || sub.Scope != "base" || len(sub.Queries) != 1 || sub.Queries[0] != queries[0] {
		t.Errorf("subscribe frame = %+v", sub)
	}
	call := <-frames
	if call.Op != "call" || call.Reducer != "submit_answer" || string(call.Args) != `{"value":9}` {
		t.Errorf("call frame = %+v", call)
	}
	unsub := <-frames
	if unsub.Op != "unsubscribe" || unsub.Scope != "base" {
		t.Errorf("unsubscribe frame = %+v", unsub)
	}
}

func TestServerDropClosesStream(t *testing.T) {
	ts := newTestServer(t, func(ws *websocket.Conn) {
		sendHello(t, ws, "s")
		// Return immediately: the deferred close drops the transport.
	})

	conn, err := Dial(context.Background(), ts.url(), "d")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	select {
	case _, ok := <-conn.Events():
		if ok {
			t.Fatal("expected closed stream, got an event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event stream never closed")
	}
	select {
	case <-conn.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("Closed never fired")
	}
}

func TestWriteAfterClose(t *testing.T) {
	done := make(chan struct{})
	ts := newTestServer(t, func(ws *websocket.Conn) {
		sendHello(t, ws, "s")
		<-done
	})
	defer close(done)

	conn, err := Dial(context.Background(), ts.url(), "d")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Close()
	conn.Close() // idempotent

	if err := conn.Subscribe("base", nil); err != ErrConnClosed {
		t.Errorf("Subscribe after close = %v, want ErrConnClosed", err)
	}
	if err := conn.Call("noop", nil); err != ErrConnClosed {
		t.Errorf("Call after close = %v, want ErrConnClosed", err)
	}
}

// Package wire implements the client side of the backend subscription
// protocol: scope subscriptions with streamed row events, plus
// fire-and-forget reducer calls.
//
// The connection delivers every server message on a single ordered
// stream. Subscription acks travel in-band with row events, so a
// consumer that processes the stream in order knows that by the time it
// sees a scope's "applied" marker, it has already seen every initial
// row of that scope.
package wire

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	// connActiveTimeout bounds the wait for the server's hello frame
	// after the websocket handshake.
	connActiveTimeout = 5 * time.Second

	// eventBuffer is the event channel capacity. When the consumer
	// falls behind, the read loop blocks rather than dropping events.
	eventBuffer = 256
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrNoHello    = errors.New("server did not confirm session")
)

// RowOp identifies the kind of a row event.
type RowOp string

const (
	OpInsert RowOp = "insert"
	OpUpdate RowOp = "update"
	OpDelete RowOp = "delete"
)

// RowEvent is one streamed change for a row matching an active scope.
type RowEvent struct {
	Table string
	Op    RowOp
	Row   json.RawMessage
}

// EventKind discriminates stream events.
type EventKind int

const (
	// EventRow carries a row change.
	EventRow EventKind = iota
	// EventApplied marks a scope as applied: all of its initial rows
	// precede this event on the stream.
	EventApplied
	// EventScopeError reports a rejected subscription.
	EventScopeError
)

// Event is one ordered message from the server.
type Event struct {
	Kind  EventKind
	Row   RowEvent // valid for EventRow
	Scope string   // valid for EventApplied and EventScopeError
	Err   string   // valid for EventScopeError
}

type clientMsg struct {
	Op      string          `json:"op"`
	Scope   string          `json:"scope,omitempty"`
	Queries []string        `json:"queries,omitempty"`
	Reducer string          `json:"reducer,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
}

type serverMsg struct {
	Op      string          `json:"op"`
	Session string          `json:"session,omitempty"`
	Scope   string          `json:"scope,omitempty"`
	Table   string          `json:"table,omitempty"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Conn is a live protocol connection. All writes are serialized through
// an internal mutex; the read loop runs in its own goroutine and
// delivers events until the transport drops, then closes the stream.
type Conn struct {
	ws      *websocket.Conn
	session string

	writeMu sync.Mutex

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
}

// Dial opens a websocket to the backend, waits for the server's hello
// frame (which carries the session handle), and starts the read loop.
// The hello wait is bounded; a server that accepts the socket but never
// activates the session fails the whole connection attempt.
func Dial(ctx context.Context, url, transportIdentity string) (*Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: connActiveTimeout,
	}
	header := http.Header{}
	header.Set("X-Transport-Identity", transportIdentity)

	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial backend: %w", err)
	}

	ws.SetReadDeadline(time.Now().Add(connActiveTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("%w: %v", ErrNoHello, err)
	}
	var hello serverMsg
	if err := json.Unmarshal(data, &hello); err != nil || hello.Op != "hello" || hello.Session == "" {
		ws.Close()
		return nil, ErrNoHello
	}
	ws.SetReadDeadline(time.Time{})

	c := &Conn{
		ws:      ws,
		session: hello.Session,
		events:  make(chan Event, eventBuffer),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Session returns the server-assigned session handle.
func (c *Conn) Session() string { return c.session }

// Events returns the ordered event stream. The channel is closed when
// the connection drops, which is also the disconnect notification.
func (c *Conn) Events() <-chan Event { return c.events }

// Closed is closed once the connection is torn down for any reason.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

// Subscribe submits a scope's query set as a single atomic request
// (both-or-neither across tables). It returns once the request is
// written; the scope is live when EventApplied for it appears on the
// stream.
func (c *Conn) Subscribe(scope string, queries []string) error {
	return c.write(clientMsg{Op: "subscribe", Scope: scope, Queries: queries})
}

// Unsubscribe tears down a scope. Best-effort: failures are returned
// but callers are expected to ignore them when the transport is already
// going away.
func (c *Conn) Unsubscribe(scope string) error {
	return c.write(clientMsg{Op: "unsubscribe", Scope: scope})
}

// Call invokes a named remote procedure. Fire-and-forget: success or
// failure is observed indirectly via subsequent cache events.
func (c *Conn) Call(reducer string, args interface{}) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode args for %s: %w", reducer, err)
	}
	return c.write(clientMsg{Op: "call", Reducer: reducer, Args: raw})
}

// Close tears down the connection. Safe to call multiple times and
// concurrently with a transport-initiated drop.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
	})
}

func (c *Conn) write(msg clientMsg) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) readLoop() {
	defer func() {
		c.Close()
		close(c.events)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var msg serverMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		var ev Event
		switch msg.Op {
		case "applied":
			ev = Event{Kind: EventApplied, Scope: msg.Scope}
		case "error":
			if msg.Scope == "" {
				continue
			}
			ev = Event{Kind: EventScopeError, Scope: msg.Scope, Err: msg.Message}
		case "row":
			ev = Event{Kind: EventRow, Row: RowEvent{Table: msg.Table, Op: RowOp(msg.Event), Row: msg.Data}}
		default:
			continue
		}

		select {
		case c.events <- ev:
		case <-c.closed:
			return
		}
	}
}

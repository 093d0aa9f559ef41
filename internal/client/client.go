// Package client is the synchronization core: it owns the connection
// lifecycle, keeps the local cache in step with the authoritative
// backend, and exposes the derived game phase the host renders against.
package client

import (
	"context"
	"sync"
	"time"

	"mathraid/internal/game"
	"mathraid/internal/identity"
	"mathraid/internal/logger"
	"mathraid/internal/state"
	"mathraid/internal/wire"
)

const (
	// Reconnect delays: a transport drop usually heals faster than a
	// failed connect attempt, so it gets the shorter timer.
	reconnectAfterDrop  = 1500 * time.Millisecond
	reconnectAfterError = 2 * time.Second

	// OfflineGrace is how long hosts should wait before surfacing a
	// "still disconnected" indicator, to avoid flicker on quick
	// reconnects.
	OfflineGrace = 1500 * time.Millisecond

	baseScopeTimeout = 10 * time.Second
	dynScopeTimeout  = 10 * time.Second
	confirmTimeout   = 10 * time.Second
	initAttempts     = 3
	initBackoff      = 2 * time.Second
)

// Transport is the live backend connection the core drives. *wire.Conn
// satisfies it; tests substitute fakes. Subscribe only submits the
// request: the scope is live when its applied marker appears on the
// ordered event stream.
type Transport interface {
	Session() string
	Events() <-chan wire.Event
	Closed() <-chan struct{}
	Subscribe(scope string, queries []string) error
	Unsubscribe(scope string) error
	Call(reducer string, args interface{}) error
	Close()
}

// Dialer opens a Transport for a connection attempt.
type Dialer func(ctx context.Context, transportIdentity string) (Transport, error)

// Verifier exchanges a credential for verified claims.
type Verifier interface {
	Verify(ctx context.Context, credential, transportIdentity string) (*identity.Claims, error)
}

// CredentialProvider returns a fresh platform credential. It is called
// once per connection attempt - never cached across attempts, because
// the most common disconnect cause is token expiry after long idle.
// An empty credential with nil error means local/developer mode.
type CredentialProvider func(ctx context.Context) (string, error)

// Config wires a Core's collaborators.
type Config struct {
	Dial        Dialer
	Verifier    Verifier
	Credentials CredentialProvider
	// DeviceID is the locally-generated stable transport identity.
	DeviceID string
	// Name and Grade are client-staged profile fields; the gateway's
	// claims override them when present.
	Name  string
	Grade int
	Log   *logger.Logger
}

// Core is the sync core. One instance per session; constructor-injected
// state so tests can run independent cores side by side.
type Core struct {
	cfg   Config
	log   *logger.Logger
	store *state.Store

	mu            sync.Mutex
	conn          Transport
	gen           int    // connection attempt generation
	dynScope      string // match id of the active dynamic scope, "" when detached
	knownIdentity bool   // a verified identity exists from a prior attempt
	closed        bool
	userErr       string
	preMatch      *game.Progression
	reconnectT    *time.Timer

	createMu sync.Mutex
	created  map[string]bool // player ids a create was issued for, process lifetime

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Core around an empty store.
func New(cfg Config) *Core {
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Core{
		cfg:     cfg,
		log:     cfg.Log.With("component", "core"),
		store:   state.New(),
		created: make(map[string]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Store exposes the state container for read-only host selectors.
func (c *Core) Store() *state.Store { return c.store }

// Status returns the current connection status variant.
func (c *Core) Status() state.ConnStatus { return c.store.Status() }

// Phase derives the current game phase from the cache.
func (c *Core) Phase() game.Phase { return c.store.Phase() }

// UserError returns the user-visible error message, if any. Only
// resource-exhausted failures land here; transient ones are handled
// internally.
func (c *Core) UserError() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userErr, c.userErr != ""
}

// Connect starts the connect pipeline. Idempotent entry guard: a no-op
// unless currently Disconnected.
func (c *Core) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if _, ok := c.store.Status().(state.Disconnected); !ok {
		return
	}
	c.startConnectLocked()
}

// Reconnect is the single centralized reconnect entry point. Every
// trigger (timer, host online event, visibility change, manual retry)
// funnels through here; it no-ops unless currently Disconnected and a
// previously-known identity exists, so racing triggers cannot stack
// attempts or tear down a healthy session.
func (c *Core) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.knownIdentity {
		return
	}
	if _, ok := c.store.Status().(state.Disconnected); !ok {
		return
	}
	c.startConnectLocked()
}

// Logout disconnects without scheduling a reconnect and forgets the
// known identity.
func (c *Core) Logout() {
	c.mu.Lock()
	c.knownIdentity = false
	c.userErr = ""
	c.stopReconnectLocked()
	conn := c.conn
	c.conn = nil
	c.gen++ // invalidate in-flight pipeline and monitors
	c.dynScope = ""
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.store.SetStatus(state.Disconnected{})
	c.log.Info("logged out")
}

// Close shuts the core down and waits for its goroutines.
func (c *Core) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopReconnectLocked()
	conn := c.conn
	c.conn = nil
	c.gen++
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
}

// Phases streams deduplicated phase changes until ctx ends. The current
// phase is delivered first.
func (c *Core) Phases(ctx context.Context) <-chan game.Phase {
	out := make(chan game.Phase, 1)
	changes := c.store.Watch(ctx)
	last := c.store.Phase()
	out <- last

	go func() {
		defer close(out)
		for range changes {
			p := c.store.Phase()
			if p == last {
				continue
			}
			last = p
			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// startConnectLocked flips to Connecting and launches the pipeline.
// Caller holds c.mu.
func (c *Core) startConnectLocked() {
	c.stopReconnectLocked()
	c.userErr = ""
	c.gen++
	gen := c.gen
	c.store.SetStatus(state.Connecting{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runConnect(gen)
	}()
}

// scheduleReconnect arms the reconnect timer. Caller holds c.mu.
func (c *Core) scheduleReconnectLocked(after time.Duration) {
	if c.closed || !c.knownIdentity {
		return
	}
	c.stopReconnectLocked()
	c.reconnectT = time.AfterFunc(after, c.Reconnect)
}

func (c *Core) stopReconnectLocked() {
	if c.reconnectT != nil {
		c.reconnectT.Stop()
		c.reconnectT = nil
	}
}

package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mathraid/internal/game"
	"mathraid/internal/identity"
	"mathraid/internal/state"
	"mathraid/internal/wire"
)

// ackTable tracks in-flight subscription waits for one connection
// attempt. Acks are signaled by the pump after it has applied every row
// that preceded the applied marker on the stream, so a successful wait
// means the scope's initial data is already in the cache.
type ackTable struct {
	mu     sync.Mutex
	m      map[string]chan error
	failed error
}

func newAckTable() *ackTable {
	return &ackTable{m: make(map[string]chan error)}
}

func (a *ackTable) register(scope string) <-chan error {
	ch := make(chan error, 1)
	a.mu.Lock()
	if a.failed != nil {
		ch <- a.failed
	} else {
		a.m[scope] = ch
	}
	a.mu.Unlock()
	return ch
}

func (a *ackTable) signal(scope string, err error) {
	a.mu.Lock()
	ch := a.m[scope]
	delete(a.m, scope)
	a.mu.Unlock()
	if ch != nil {
		ch <- err
	}
}

func (a *ackTable) drop(scope string) {
	a.mu.Lock()
	delete(a.m, scope)
	a.mu.Unlock()
}

func (a *ackTable) failAll(err error) {
	a.mu.Lock()
	a.failed = err
	for scope, ch := range a.m {
		delete(a.m, scope)
		ch <- err
	}
	a.mu.Unlock()
}

// runConnect executes one connection attempt end to end: fresh
// credential, dial, identity verification, base scope, player
// initializer. Only after all of those does the core enter Connected.
func (c *Core) runConnect(gen int) {
	var cred string
	if c.cfg.Credentials != nil {
		var err error
		cred, err = c.cfg.Credentials(c.ctx)
		if err != nil {
			c.connectFailed(gen, nil, fmt.Errorf("failed to fetch credential: %w", err))
			return
		}
	}

	conn, err := c.cfg.Dial(c.ctx, c.cfg.DeviceID)
	if err != nil {
		c.connectFailed(gen, nil, err)
		return
	}

	claims, err := c.cfg.Verifier.Verify(c.ctx, cred, c.cfg.DeviceID)
	if err != nil {
		c.connectFailed(gen, conn, err)
		return
	}

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.knownIdentity = true
	c.mu.Unlock()
	c.store.SetLocalPlayer(claims.PlayerID)

	// The pump runs for the connection's whole life. It must be up
	// before the base scope applies so the initial row burst lands in
	// the cache the initializer inspects.
	acks := newAckTable()
	trigger := make(chan struct{}, 1)
	c.wg.Add(2)
	go c.pump(gen, conn, trigger, acks)
	go c.scopeLoop(gen, conn, trigger, acks)

	if err := c.subscribeScope(conn, acks, "base", baseQueries(claims.PlayerID), baseScopeTimeout); err != nil {
		c.connectFailed(gen, conn, fmt.Errorf("base scope: %w", err))
		return
	}

	// Gateway claims override client-staged profile fields.
	name, grade := c.cfg.Name, c.cfg.Grade
	if claims.Name != "" {
		name = claims.Name
	}
	if claims.Grade != 0 {
		grade = claims.Grade
	}

	player, err := c.ensurePlayer(conn, claims.PlayerID, name, grade)
	if err != nil {
		c.connectFailed(gen, conn, err)
		return
	}

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.mu.Unlock()

	c.store.SetStatus(state.Connected{Session: conn.Session()})
	c.log.Info("connected", "session", conn.Session(), "player", player.ID)

	// Attach the dynamic scope if the player is already mid-match
	// (resume after reload or reconnect).
	select {
	case trigger <- struct{}{}:
	default:
	}
}

// subscribeScope submits a scope and blocks until the pump observes its
// applied marker, so the scope's initial rows are guaranteed cached on
// return.
func (c *Core) subscribeScope(conn Transport, acks *ackTable, scope string, queries []string, timeout time.Duration) error {
	ack := acks.register(scope)
	if err := conn.Subscribe(scope, queries); err != nil {
		acks.drop(scope)
		return err
	}
	select {
	case err := <-ack:
		return err
	case <-time.After(timeout):
		acks.drop(scope)
		return fmt.Errorf("timed out waiting for scope %q to apply", scope)
	case <-c.ctx.Done():
		acks.drop(scope)
		return c.ctx.Err()
	}
}

// pump applies the ordered event stream to the cache until the
// connection drops, then reports the drop. Player-row changes nudge the
// scope loop, since the dynamic scope tracks player.inMatchId.
func (c *Core) pump(gen int, conn Transport, trigger chan<- struct{}, acks *ackTable) {
	defer c.wg.Done()
	defer acks.failAll(wire.ErrConnClosed)

	for ev := range conn.Events() {
		if c.superseded(gen) {
			return
		}
		switch ev.Kind {
		case wire.EventApplied:
			acks.signal(ev.Scope, nil)
		case wire.EventScopeError:
			acks.signal(ev.Scope, fmt.Errorf("subscription rejected: scope %q: %s", ev.Scope, ev.Err))
			c.log.Warn("scope rejected", "scope", ev.Scope, "err", ev.Err)
		case wire.EventRow:
			if err := c.store.Apply(ev.Row); err != nil {
				c.log.Warn("dropped bad row event", "table", ev.Row.Table, "err", err)
				continue
			}
			if ev.Row.Table == state.TablePlayer {
				select {
				case trigger <- struct{}{}:
				default:
				}
			}
		}
	}
	c.onDrop(gen)
}

// scopeLoop serializes dynamic-scope reconciliation off the pump
// goroutine, so a scope subscribe's applied wait never blocks event
// delivery.
func (c *Core) scopeLoop(gen int, conn Transport, trigger <-chan struct{}, acks *ackTable) {
	defer c.wg.Done()
	for {
		select {
		case <-trigger:
			c.reconcileDynamicScope(gen, conn, acks)
		case <-conn.Closed():
			return
		case <-c.ctx.Done():
			return
		}
	}
}

// superseded reports whether a newer connection attempt has replaced
// gen.
func (c *Core) superseded(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.gen || c.closed
}

// onDrop handles a transport-initiated disconnect.
func (c *Core) onDrop(gen int) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.conn = nil
	c.dynScope = ""
	c.scheduleReconnectLocked(reconnectAfterDrop)
	c.mu.Unlock()

	c.store.SetStatus(state.Disconnected{Err: wire.ErrConnClosed})
	c.log.Warn("transport dropped, reconnect scheduled", "after", reconnectAfterDrop)
}

// connectFailed tears down a failed attempt and decides between an
// automatic retry and a user-visible error. Transient failures retry
// silently; exhausted or permanent ones surface a message and leave
// retrying to the user. A token-expiry-shaped rejection gets neither:
// a stale credential cannot self-heal, so hosts should reload.
func (c *Core) connectFailed(gen int, conn Transport, err error) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	c.gen++
	c.conn = nil
	c.dynScope = ""

	var verr *identity.VerificationError
	switch {
	case isStaleCredential(err):
		err = fmt.Errorf("%w: %v", ErrStaleCredential, err)
		c.userErr = "Your session has expired. Please reload to sign in again."
	case errors.As(err, &verr) && verr.StatusCode < 500:
		c.userErr = "Sign-in was rejected: " + verr.Message
	case errors.Is(err, ErrInitializationFailed):
		c.userErr = "We couldn't set up your player. Please try again."
	case errors.Is(err, wire.ErrNoHello):
		c.userErr = "The game server isn't responding. Please try again."
	default:
		c.scheduleReconnectLocked(reconnectAfterError)
	}
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.store.SetStatus(state.Disconnected{Err: err})
	c.log.Warn("connect attempt failed", "err", err)
}

// ensurePlayer is the idempotent get-or-create player flow.
//
// Returning session: the row is already in the freshly-loaded base
// cache, so it is trustworthy. Issue a fire-and-forget upsert and
// return immediately.
//
// New identity: the id must not be used until the backend has actually
// materialized the row, so issue a create and block until the matching
// insert shows up in the cache. The confirmation wait is retried to
// ride out spurious timeouts (a device waking from sleep), but the
// create command itself is issued at most once per id for the process
// lifetime.
func (c *Core) ensurePlayer(conn Transport, id, name string, grade int) (game.Player, error) {
	if p, ok := c.store.Player(id); ok {
		if err := conn.Call("upsert_player", playerArgs{PlayerID: id, Name: name, Grade: grade}); err != nil {
			return game.Player{}, fmt.Errorf("upsert_player: %w", err)
		}
		return p, nil
	}

	for attempt := 1; attempt <= initAttempts; attempt++ {
		p, err := c.createAndWait(conn, id, name, grade)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrInitConfirmTimeout) {
			return game.Player{}, err
		}
		c.log.Warn("player confirmation timed out", "attempt", attempt, "player", id)
		if attempt < initAttempts {
			select {
			case <-time.After(initBackoff):
			case <-conn.Closed():
				return game.Player{}, wire.ErrConnClosed
			case <-c.ctx.Done():
				return game.Player{}, c.ctx.Err()
			}
		}
	}
	return game.Player{}, fmt.Errorf("%w: no confirmation after %d attempts", ErrInitializationFailed, initAttempts)
}

// createAndWait issues the create (at most once per id) and waits for
// the insert to be observed in the cache.
func (c *Core) createAndWait(conn Transport, id, name string, grade int) (game.Player, error) {
	// Watch before issuing so the confirmation can't slip between the
	// cache check and the wait.
	wctx, cancel := context.WithTimeout(c.ctx, confirmTimeout)
	defer cancel()
	changes := c.store.Watch(wctx, state.TablePlayer)

	// The insert may have landed while this attempt was being set up.
	if p, ok := c.store.Player(id); ok {
		return p, nil
	}

	c.createMu.Lock()
	issue := !c.created[id]
	c.created[id] = true
	c.createMu.Unlock()

	if issue {
		if err := conn.Call("create_player", playerArgs{PlayerID: id, Name: name, Grade: grade}); err != nil {
			return game.Player{}, fmt.Errorf("create_player: %w", err)
		}
	}

	for {
		if p, ok := c.store.Player(id); ok {
			return p, nil
		}
		select {
		case _, ok := <-changes:
			if !ok {
				return game.Player{}, ErrInitConfirmTimeout
			}
		case <-conn.Closed():
			return game.Player{}, wire.ErrConnClosed
		}
	}
}

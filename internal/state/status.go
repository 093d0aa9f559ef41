package state

// ConnStatus is the connection lifecycle state. Exactly one variant is
// held at a time; the sealed interface keeps invalid combinations (for
// example a session handle while disconnected) unrepresentable.
type ConnStatus interface {
	connStatus()
}

// Disconnected is the initial state and the state after any drop. Err
// holds the failure that caused the drop, nil for a clean start or an
// explicit logout.
type Disconnected struct {
	Err error
}

// Connecting means the connect pipeline (dial, verify, base scope,
// player init) is in flight.
type Connecting struct{}

// Connected carries the live session handle. Entering this state is the
// single point where the host may issue mutation commands.
type Connected struct {
	Session string
}

func (Disconnected) connStatus() {}
func (Connecting) connStatus()   {}
func (Connected) connStatus()    {}

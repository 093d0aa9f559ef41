package client

import (
	"errors"
	"strings"

	"mathraid/internal/identity"
)

var (
	// ErrInitializationFailed is surfaced after the player initializer
	// exhausts its retry budget without the backend confirming the new
	// player row.
	ErrInitializationFailed = errors.New("player initialization failed")

	// ErrInitConfirmTimeout is the retried, internal form: the backend
	// did not confirm a created player within the confirmation window.
	ErrInitConfirmTimeout = errors.New("timed out waiting for player confirmation")

	// ErrStaleCredential marks a token-expiry-shaped rejection. A stale
	// credential cannot self-heal via reconnect; hosts should reload
	// the whole session instead.
	ErrStaleCredential = errors.New("platform credential is stale")

	// ErrNotConnected is returned by commands issued outside the
	// Connected state.
	ErrNotConnected = errors.New("not connected")

	// ErrNoActiveProblem is returned by SubmitAnswer when the local
	// queue has no active problem.
	ErrNoActiveProblem = errors.New("no active problem")
)

// isStaleCredential classifies a verification failure as token expiry.
func isStaleCredential(err error) bool {
	var verr *identity.VerificationError
	if !errors.As(err, &verr) {
		return false
	}
	if verr.StatusCode != 401 && verr.StatusCode != 403 {
		return false
	}
	msg := strings.ToLower(verr.Message)
	return strings.Contains(msg, "expired") || strings.Contains(msg, "stale")
}

// Package identity exchanges a platform credential for a verified,
// stable player identifier via the external identity gateway.
package identity

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

const (
	defaultGatewayURL    = "http://localhost:7778"
	defaultVerifyPath    = "/verify"
	defaultVerifyTimeout = 10 * time.Second
)

// VerificationError is returned when the gateway rejects a credential
// with a non-2xx response. It carries the gateway's own message.
type VerificationError struct {
	StatusCode int
	Message    string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("identity verification failed (status %d): %s", e.StatusCode, e.Message)
}

// Claims are the gateway's authoritative profile fields. They always
// override client-supplied values.
type Claims struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Grade    int    `json:"grade,omitempty"`
}

// Verifier calls the identity gateway. It performs no retries itself;
// the connection manager decides whether to retry the whole connection
// attempt.
type Verifier struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithBaseURL sets the gateway base URL.
func WithBaseURL(url string) Option {
	return func(v *Verifier) {
		v.baseURL = url
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(v *Verifier) {
		v.httpClient.Timeout = timeout
	}
}

// NewVerifier creates a Verifier with the given options.
func NewVerifier(opts ...Option) *Verifier {
	v := &Verifier{
		httpClient: &http.Client{
			Timeout: defaultVerifyTimeout,
		},
		baseURL: defaultGatewayURL,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type verifyRequest struct {
	Credential        string `json:"credential,omitempty"`
	TransportIdentity string `json:"transportIdentity"`
}

// Verify exchanges a platform credential and the locally-generated
// transport identity for verified claims. The credential may be empty in
// local/developer mode; the gateway then mints an identity from the
// transport identity alone.
func (v *Verifier) Verify(ctx context.Context, credential, transportIdentity string) (*Claims, error) {
	body, err := json.Marshal(verifyRequest{
		Credential:        credential,
		TransportIdentity: transportIdentity,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+defaultVerifyPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &VerificationError{
			StatusCode: resp.StatusCode,
			Message:    string(bytes.TrimSpace(msg)),
		}
	}

	var claims Claims
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	if claims.PlayerID == "" {
		return nil, fmt.Errorf("gateway returned empty player id")
	}
	return &claims, nil
}

package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
)

func TestVerifySuccess(t *testing.T) {
	var gotReq verifyRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/verify" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(Claims{PlayerID: "p1", Name: "Ada", Grade: 4})
	}))
	defer ts.Close()

	v := NewVerifier(WithBaseURL(ts.URL))
	claims, err := v.Verify(context.Background(), "tok", "dev1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.PlayerID != "p1" || claims.Name != "Ada" || claims.Grade != 4 {
		t.Errorf("claims = %+v", claims)
	}
	if gotReq.Credential != "tok" || gotReq.TransportIdentity != "dev1" {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestVerifyDeveloperMode(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Credential != "" {
			t.Errorf("credential should be absent, got %q", req.Credential)
		}
		json.NewEncoder(w).Encode(Claims{PlayerID: "anon-" + req.TransportIdentity})
	}))
	defer ts.Close()

	v := NewVerifier(WithBaseURL(ts.URL))
	claims, err := v.Verify(context.Background(), "", "dev1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.PlayerID != "anon-dev1" {
		t.Errorf("playerId = %q", claims.PlayerID)
	}
}

func TestVerifyRejection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	defer ts.Close()

	v := NewVerifier(WithBaseURL(ts.URL))
	_, err := v.Verify(context.Background(), "old", "dev1")

	var verr *VerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *VerificationError", err)
	}
	if verr.StatusCode != http.StatusUnauthorized || verr.Message != "token expired" {
		t.Errorf("error = %+v", verr)
	}
}

func TestNewVerifierDefaults(t *testing.T) {
	v := NewVerifier()
	if v.baseURL != defaultGatewayURL {
		t.Errorf("baseURL = %q, want %q", v.baseURL, defaultGatewayURL)
	}

	v = NewVerifier(WithBaseURL("http://gateway.internal"))
	if v.baseURL != "http://gateway.internal" {
		t.Errorf("baseURL = %q after WithBaseURL", v.baseURL)
	}
}

func TestVerifyEmptyPlayerID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Claims{})
	}))
	defer ts.Close()

	v := NewVerifier(WithBaseURL(ts.URL))
	if _, err := v.Verify(context.Background(), "tok", "dev1"); err == nil {
		t.Fatal("expected an error for empty player id")
	}
}

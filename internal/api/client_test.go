package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vico_home/actorcast/internal/domain"
)

func TestRequestRelayCredentials(t *testing.T) {
	var gotAuth string
	var gotReq credentialsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(credentialsResponse{
			Username: "1700000000:actor",
			Password: "secret",
			TTL:      3600,
			URIs:     []string{"stun:stun.example.com:3478", "turn:turn.example.com:3478?transport=udp"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "jwt-token")
	creds, err := c.RequestRelayCredentials(context.Background(), "actor-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotAuth != "Bearer jwt-token" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
	if gotReq.ParticipantID != "actor-1" {
		t.Errorf("expected participant id actor-1, got %q", gotReq.ParticipantID)
	}
	if len(gotReq.RequestID) != 32 {
		t.Errorf("expected 32 char request id, got %q", gotReq.RequestID)
	}
	if creds.TTLSeconds != 3600 {
		t.Errorf("expected ttl 3600, got %d", creds.TTLSeconds)
	}
	if len(creds.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(creds.Servers))
	}
	if creds.Servers[0].Username != "" {
		t.Error("stun server must not carry credentials")
	}
	if creds.Servers[1].Username != "1700000000:actor" || creds.Servers[1].Credential != "secret" {
		t.Errorf("turn server credentials not set: %+v", creds.Servers[1])
	}
}

func TestRequestRelayCredentials_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").RequestRelayCredentials(context.Background(), "a")
	if err == nil || !strings.Contains(err.Error(), "http 503") {
		t.Errorf("expected http 503 error, got %v", err)
	}
}

func TestRequestRelayCredentials_NoURIs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"username":"u","password":"p","ttl":60,"uris":[]}`))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "").RequestRelayCredentials(context.Background(), "a"); err == nil {
		t.Error("expected error for empty uri list")
	}
}

func TestSecretIssuer(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	iss := &SecretIssuer{
		Secret: "s3cret",
		URIs:   []string{"turn:turn.example.com:3478?transport=udp"},
		STUN:   []string{"stun:turn.example.com:3478"},
		TTL:    30 * time.Minute,
		Now:    func() time.Time { return now },
	}

	creds, err := iss.RequestRelayCredentials(context.Background(), "viewer-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if creds.Provenance != domain.ProvenanceRelay {
		t.Errorf("expected relay provenance, got %s", creds.Provenance)
	}
	if !creds.ExpiresAt.Equal(now.Add(30 * time.Minute)) {
		t.Errorf("unexpected expiry %s", creds.ExpiresAt)
	}
	if len(creds.Servers) != 2 {
		t.Fatalf("expected stun + turn servers, got %d", len(creds.Servers))
	}

	turn := creds.Servers[1]
	wantUser := "1800001800:viewer-7"
	if turn.Username != wantUser {
		t.Errorf("expected username %s, got %s", wantUser, turn.Username)
	}
	mac := hmac.New(sha1.New, []byte("s3cret"))
	mac.Write([]byte(wantUser))
	if want := base64.StdEncoding.EncodeToString(mac.Sum(nil)); turn.Credential != want {
		t.Errorf("expected password %s, got %s", want, turn.Credential)
	}
}

func TestSecretIssuer_Misconfigured(t *testing.T) {
	if _, err := (&SecretIssuer{URIs: []string{"turn:x"}}).RequestRelayCredentials(context.Background(), "a"); err == nil {
		t.Error("expected error without secret")
	}
	if _, err := (&SecretIssuer{Secret: "s"}).RequestRelayCredentials(context.Background(), "a"); err == nil {
		t.Error("expected error without uris")
	}
}

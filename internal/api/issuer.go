package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"

	"vico_home/actorcast/internal/domain"
)

const defaultTTL = time.Hour

// SecretIssuer mints coturn use-auth-secret credentials locally:
// username is "<expiry>:<participant>", password is base64(HMAC-SHA1(username)).
type SecretIssuer struct {
	Secret string
	// URIs are turn: URIs, e.g. "turn:turn.example.com:3478?transport=udp".
	URIs []string
	// STUN URIs are handed out alongside the relay.
	STUN []string
	TTL  time.Duration
	Now  func() time.Time
}

// RequestRelayCredentials implements domain.CredentialService.
func (s *SecretIssuer) RequestRelayCredentials(_ context.Context, localID string) (*domain.RelayCredentials, error) {
	if s.Secret == "" {
		return nil, fmt.Errorf("turn secret not configured")
	}
	if len(s.URIs) == 0 {
		return nil, fmt.Errorf("turn uris not configured")
	}

	ttl := s.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	expiresAt := now().Add(ttl).Truncate(time.Second)

	username := fmt.Sprintf("%d:%s", expiresAt.Unix(), localID)
	mac := hmac.New(sha1.New, []byte(s.Secret))
	mac.Write([]byte(username))
	password := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	creds := &domain.RelayCredentials{
		TTLSeconds: int(ttl / time.Second),
		ExpiresAt:  expiresAt,
		Provenance: domain.ProvenanceRelay,
	}
	for _, uri := range s.STUN {
		creds.Servers = append(creds.Servers, domain.ICEServer{URLs: []string{uri}})
	}
	creds.Servers = append(creds.Servers, domain.ICEServer{
		URLs:       append([]string(nil), s.URIs...),
		Username:   username,
		Credential: password,
	})
	return creds, nil
}

package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"vico_home/actorcast/internal/domain"
)

const defaultTimeout = 5 * time.Second

type credentialsRequest struct {
	ParticipantID string `json:"participantId"`
	RequestID     string `json:"requestId"`
}

// credentialsResponse follows the TURN REST API shape.
type credentialsResponse struct {
	Username   string   `json:"username"`
	Password   string   `json:"password"`
	TTL        int      `json:"ttl"`
	URIs       []string `json:"uris"`
	ExpiresAt  int64    `json:"expiresAt,omitempty"`
	Provenance string   `json:"provenance,omitempty"`
}

// Client fetches relay credentials from an HTTP issuer.
type Client struct {
	url   string
	token string
	http  *http.Client
}

// NewClient creates a client for the issuer at url. token, if set, is sent
// as a bearer token.
func NewClient(url, token string) *Client {
	return &Client{
		url:   url,
		token: token,
		http:  &http.Client{Timeout: defaultTimeout},
	}
}

func generateRequestID() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	h := sha1.Sum(buf)
	return fmt.Sprintf("%x", h)[:32]
}

// RequestRelayCredentials implements domain.CredentialService.
func (c *Client) RequestRelayCredentials(ctx context.Context, localID string) (*domain.RelayCredentials, error) {
	body, err := json.Marshal(credentialsRequest{
		ParticipantID: localID,
		RequestID:     generateRequestID(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal credentials request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}

	var cr credentialsResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(cr.URIs) == 0 {
		return nil, fmt.Errorf("issuer returned no uris")
	}

	creds := &domain.RelayCredentials{
		TTLSeconds: cr.TTL,
		Provenance: domain.Provenance(cr.Provenance),
	}
	if cr.ExpiresAt > 0 {
		creds.ExpiresAt = time.Unix(cr.ExpiresAt, 0)
	}
	for _, uri := range cr.URIs {
		s := domain.ICEServer{URLs: []string{uri}}
		if s.IsRelay() {
			s.Username = cr.Username
			s.Credential = cr.Password
		}
		creds.Servers = append(creds.Servers, s)
	}
	return creds, nil
}

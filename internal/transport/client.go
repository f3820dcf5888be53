package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"marketledger/internal/consensus"
	"marketledger/internal/logger"
)

// Client broadcasts consensus messages to peer replicas.
type Client struct {
	http         *http.Client
	nodeID       int
	sharedSecret string
}

// NewClient builds a pooled HTTP client for inter-replica traffic. When
// sharedSecret is non-empty, every SendMessage call attaches a freshly
// signed bearer token, matching a peer Server constructed with the same
// secret.
func NewClient(nodeID int, sharedSecret string) *Client {
	return &Client{http: &http.Client{Timeout: 5 * time.Second}, nodeID: nodeID, sharedSecret: sharedSecret}
}

// SendMessage POSTs msg to url + "/message".
func (c *Client) SendMessage(ctx context.Context, url string, msg consensus.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(url, "/")+"/message", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.sharedSecret != "" {
		token, err := IssueToken(c.sharedSecret, c.nodeID, time.Minute)
		if err != nil {
			return fmt.Errorf("transport: issue bearer token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("transport: send to %s: %w", url, err)
	}
	defer resp.Body.Close()
	return nil
}

// Broadcast fans msg out to every peer address except the one matching
// selfPort. Failures are logged and skipped — broadcast is best-effort.
func (c *Client) Broadcast(ctx context.Context, msg consensus.Message, peers []string, selfPort int) {
	selfSuffix := fmt.Sprintf(":%d", selfPort)
	for _, peer := range peers {
		if strings.HasSuffix(peer, selfSuffix) {
			continue
		}
		if err := c.SendMessage(ctx, peer, msg); err != nil {
			logger.Warn("transport: broadcast failed", "peer", peer, "error", err.Error())
		}
	}
}

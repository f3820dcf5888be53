package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"marketledger/internal/consensus"
)

func TestPostMessageAcceptedWhenQuorumReached(t *testing.T) {
	handler := func(msg consensus.Message) (bool, error) {
		if msg.Algorithm != "pbft" {
			t.Fatalf("unexpected algorithm %q", msg.Algorithm)
		}
		return true, nil
	}
	s := NewServer(handler, nil, "")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := EncodeMessage(consensus.Message{Algorithm: "pbft", BlockIndex: 1, BlockHash: "abc", NodeID: 0})
	resp, err := http.Post(srv.URL+"/message", "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["status"] != "accepted" || decoded["quorum_reached"] != true {
		t.Fatalf("unexpected response: %+v", decoded)
	}
}

func TestPostMessagePendingWhenHandlerErrors(t *testing.T) {
	handler := func(msg consensus.Message) (bool, error) {
		return false, context.DeadlineExceeded
	}
	s := NewServer(handler, nil, "")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := EncodeMessage(consensus.Message{Algorithm: "gossip"})
	resp, err := http.Post(srv.URL+"/message", "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	if decoded["status"] != "pending" {
		t.Fatalf("expected pending status, got %+v", decoded)
	}
}

func TestPostMessageRejectsMalformedBody(t *testing.T) {
	s := NewServer(func(consensus.Message) (bool, error) { return true, nil }, nil, "")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/message", "application/json", strings.NewReader("not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHealthAndStatsEndpoints(t *testing.T) {
	s := NewServer(func(consensus.Message) (bool, error) { return true, nil }, func() map[string]interface{} {
		return map[string]interface{}{"blocks": 3}
	}, "")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", resp.StatusCode)
	}

	statsResp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	defer statsResp.Body.Close()
	var decoded map[string]interface{}
	json.NewDecoder(statsResp.Body).Decode(&decoded)
	if decoded["blocks"] != float64(3) {
		t.Fatalf("unexpected stats response: %+v", decoded)
	}
}

func TestMessageRequiresBearerTokenWhenSecretConfigured(t *testing.T) {
	s := NewServer(func(consensus.Message) (bool, error) { return true, nil }, nil, "test-secret")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := EncodeMessage(consensus.Message{Algorithm: "pbft"})

	resp, err := http.Post(srv.URL+"/message", "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", resp.StatusCode)
	}

	token, err := IssueToken("test-secret", 1, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/message", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post with token: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with valid bearer token, got %d", resp2.StatusCode)
	}
}

func TestBroadcastSkipsSelfPort(t *testing.T) {
	var received []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = append(received, r.Host)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	parts := strings.Split(host, ":")
	selfPort := 9999

	c := NewClient(0, "")
	c.Broadcast(context.Background(), consensus.Message{Algorithm: "pbft"}, []string{
		"http://" + host,
		"http://" + parts[0] + ":9999",
	}, selfPort)

	if len(received) != 1 {
		t.Fatalf("expected exactly one broadcast delivery, got %d", len(received))
	}
}

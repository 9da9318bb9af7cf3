package msgapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/botgate/internal/stream"
)

type testAPI struct {
	tokenCalls  atomic.Int64
	expiresIn   int
	lastAuth    atomic.Value // string
	lastBody    atomic.Value // []byte
	sendStatus  int
	sendPayload string
}

func newTestAPI(t *testing.T) (*testAPI, *Client) {
	t.Helper()
	api := &testAPI{expiresIn: 7200, sendStatus: http.StatusOK, sendPayload: `{"id":"m-1","stream_id":"st-9"}`}

	mux := http.NewServeMux()
	mux.HandleFunc(tokenEndpoint, func(w http.ResponseWriter, r *http.Request) {
		api.tokenCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-abc",
			"expires_in":   api.expiresIn,
		})
	})
	mux.HandleFunc(gatewayEndpoint, func(w http.ResponseWriter, r *http.Request) {
		api.lastAuth.Store(r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"url": "wss://gw.example/shard"})
	})
	mux.HandleFunc("/v2/users/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		api.lastBody.Store(body)
		if api.sendStatus != http.StatusOK {
			w.WriteHeader(api.sendStatus)
			w.Write([]byte(`{"code":304023,"message":"push message is waiting for audit"}`))
			return
		}
		w.Write([]byte(api.sendPayload))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return api, New(srv.URL, "app-1", "secret-1")
}

func TestClient_GatewayDiscovery(t *testing.T) {
	api, c := newTestAPI(t)

	url, err := c.Gateway(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if url != "wss://gw.example/shard" {
		t.Errorf("gateway url = %q", url)
	}
	if got := api.lastAuth.Load(); got != "Bot tok-abc" {
		t.Errorf("authorization = %q, want bot token", got)
	}
}

func TestClient_TokenIsCached(t *testing.T) {
	api, c := newTestAPI(t)

	ctx := context.Background()
	c.Gateway(ctx)
	c.Gateway(ctx)
	c.Gateway(ctx)

	if n := api.tokenCalls.Load(); n != 1 {
		t.Errorf("token exchanges = %d, want 1 (cached)", n)
	}
}

func TestClient_TokenRefreshOnExpiry(t *testing.T) {
	api, c := newTestAPI(t)
	api.expiresIn = 0 // expires immediately (buffer pushes it into the past)

	ctx := context.Background()
	c.Gateway(ctx)
	c.Gateway(ctx)

	if n := api.tokenCalls.Load(); n != 2 {
		t.Errorf("token exchanges = %d, want refresh per call", n)
	}
}

func TestClient_InvalidateTokenNotBlockedByExchange(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc(tokenEndpoint, func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-abc", "expires_in": 7200})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := New(srv.URL, "app-1", "secret-1")

	exchanged := make(chan error, 1)
	go func() {
		_, err := c.AccessToken(context.Background())
		exchanged <- err
	}()
	<-entered

	// The exchange is mid round trip; invalidation must not wait on it.
	invalidated := make(chan struct{})
	go func() {
		c.InvalidateToken()
		close(invalidated)
	}()
	select {
	case <-invalidated:
	case <-time.After(2 * time.Second):
		t.Fatal("InvalidateToken blocked behind an in-flight token exchange")
	}

	close(release)
	if err := <-exchanged; err != nil {
		t.Fatalf("token exchange: %v", err)
	}
}

func TestClient_SendPassiveCarriesReplyTo(t *testing.T) {
	api, c := newTestAPI(t)

	id, err := c.SendPassive(context.Background(), Target{Kind: TargetC2C, ID: "u-1"}, "msg-42", "hello", 1)
	if err != nil {
		t.Fatal(err)
	}
	if id != "m-1" {
		t.Errorf("message id = %q", id)
	}

	var req sendRequest
	json.Unmarshal(api.lastBody.Load().([]byte), &req)
	if req.MsgID != "msg-42" || req.Content != "hello" || req.MsgSeq != 1 {
		t.Errorf("request = %+v", req)
	}
}

func TestClient_APIErrorIsStructured(t *testing.T) {
	api, c := newTestAPI(t)
	api.sendStatus = http.StatusForbidden

	_, err := c.SendPassive(context.Background(), Target{Kind: TargetC2C, ID: "u-1"}, "msg-1", "x", 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Code != 304023 || apiErr.Status != http.StatusForbidden {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if apiErr.RateLimited() {
		t.Error("403 reported as rate limited")
	}
}

func TestChunkSender_FirstCallReturnsServerStreamID(t *testing.T) {
	api, c := newTestAPI(t)
	sender := c.ChunkSender(Target{Kind: TargetC2C, ID: "u-1"}, "msg-42")

	id, err := sender.SendChunk(context.Background(), stream.Chunk{Content: "Hi", Index: 1})
	if err != nil {
		t.Fatal(err)
	}
	if id != "st-9" {
		t.Errorf("stream id = %q, want server-assigned st-9", id)
	}

	var req sendRequest
	json.Unmarshal(api.lastBody.Load().([]byte), &req)
	if req.Stream == nil || req.Stream.State != streamStateDelta || req.Stream.Index != 1 {
		t.Errorf("stream payload = %+v", req.Stream)
	}

	// Later calls echo the id they already hold.
	id, err = sender.SendChunk(context.Background(), stream.Chunk{Content: " there", Index: 2, StreamID: "st-9"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "st-9" {
		t.Errorf("stream id on second call = %q", id)
	}
	json.Unmarshal(api.lastBody.Load().([]byte), &req)
	if req.Stream.ID != "st-9" {
		t.Errorf("echoed stream id = %q", req.Stream.ID)
	}
}

func TestChunkSender_FinalChunkState(t *testing.T) {
	api, c := newTestAPI(t)
	sender := c.ChunkSender(Target{Kind: TargetC2C, ID: "u-1"}, "msg-42")

	if _, err := sender.SendChunk(context.Background(), stream.Chunk{Index: 3, StreamID: "st-9", Final: true}); err != nil {
		t.Fatal(err)
	}
	var req sendRequest
	json.Unmarshal(api.lastBody.Load().([]byte), &req)
	if req.Stream.State != streamStateDone {
		t.Errorf("final state = %d, want %d", req.Stream.State, streamStateDone)
	}
}

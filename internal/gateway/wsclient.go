package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// wsClient wraps coder/websocket with a mutex-guarded write method so
// the heartbeat goroutine and the handshake path never interleave
// frames.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func dialWS(ctx context.Context, wsURL string) (*wsClient, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: ws dial: %w", err)
	}
	conn.SetReadLimit(1 << 20) // 1MB
	return &wsClient{conn: conn}, nil
}

// readFrame blocks for the next frame, the context cancelling, or the
// connection closing.
func (c *wsClient) readFrame(ctx context.Context) (*Frame, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("gateway: parse frame: %w", err)
	}
	return &f, nil
}

// writeFrame sends one frame. Thread-safe.
func (c *wsClient) writeFrame(ctx context.Context, f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("gateway: marshal frame: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsClient) close(code int, reason string) {
	c.conn.Close(websocket.StatusCode(code), reason)
}

// closeInfo carries the close code and reason of a dropped connection.
type closeInfo struct {
	code   int
	reason string
}

// parseCloseInfo extracts the close code from a read error. Reads that
// fail without a close frame count as abnormal closure (1006).
func parseCloseInfo(err error) closeInfo {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return closeInfo{code: int(ce.Code), reason: ce.Reason}
	}
	return closeInfo{code: 1006, reason: err.Error()}
}

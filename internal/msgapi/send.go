package msgapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nextlevelbuilder/botgate/internal/stream"
)

const (
	msgTypeText  = 0
	msgTypeImage = 1

	streamStateDelta = 1  // incremental content (or zero-content keepalive)
	streamStateDone  = 10 // terminal chunk, closes the stream for the reader
)

type sendRequest struct {
	Content string         `json:"content"`
	MsgType int            `json:"msg_type"`
	MsgID   string         `json:"msg_id,omitempty"`  // reply-to: passive sends only
	MsgSeq  int            `json:"msg_seq,omitempty"` // dedupe counter within one reply-to
	Image   string         `json:"image,omitempty"`
	Stream  *streamPayload `json:"stream,omitempty"`
}

type streamPayload struct {
	State int    `json:"state"`
	ID    string `json:"id,omitempty"`
	Index int    `json:"index"`
}

type sendResponse struct {
	ID       string `json:"id"`
	StreamID string `json:"stream_id,omitempty"`
}

func sendPath(t Target) (string, error) {
	id := url.PathEscape(t.ID)
	switch t.Kind {
	case TargetC2C:
		return "/v2/users/" + id + "/messages", nil
	case TargetGroup:
		return "/v2/groups/" + id + "/messages", nil
	case TargetChannel:
		return "/channels/" + id + "/messages", nil
	default:
		return "", fmt.Errorf("msgapi: unknown target kind %q", t.Kind)
	}
}

// SendPassive sends a reply bound to an inbound message id. The platform
// quota for passive replies is enforced upstream by the reply limiter;
// this is the raw call.
func (c *Client) SendPassive(ctx context.Context, t Target, replyTo, content string, seq int) (string, error) {
	path, err := sendPath(t)
	if err != nil {
		return "", err
	}
	var resp sendResponse
	err = c.do(ctx, http.MethodPost, path, sendRequest{
		Content: content,
		MsgType: msgTypeText,
		MsgID:   replyTo,
		MsgSeq:  seq,
	}, &resp)
	return resp.ID, err
}

// SendPassiveImage sends an image reply bound to an inbound message id.
func (c *Client) SendPassiveImage(ctx context.Context, t Target, replyTo, imageURL string, seq int) (string, error) {
	path, err := sendPath(t)
	if err != nil {
		return "", err
	}
	var resp sendResponse
	err = c.do(ctx, http.MethodPost, path, sendRequest{
		MsgType: msgTypeImage,
		MsgID:   replyTo,
		MsgSeq:  seq,
		Image:   imageURL,
	}, &resp)
	return resp.ID, err
}

// SendProactive sends an unprompted message with no reply-to id. The
// platform applies its own separate quota to these.
func (c *Client) SendProactive(ctx context.Context, t Target, content string) (string, error) {
	path, err := sendPath(t)
	if err != nil {
		return "", err
	}
	var resp sendResponse
	err = c.do(ctx, http.MethodPost, path, sendRequest{
		Content: content,
		MsgType: msgTypeText,
	}, &resp)
	return resp.ID, err
}

// ChunkSender binds a target and reply-to id into a stream.ChunkSender
// for one conversation turn.
func (c *Client) ChunkSender(t Target, replyTo string) stream.ChunkSender {
	return &chunkSender{client: c, target: t, replyTo: replyTo}
}

type chunkSender struct {
	client  *Client
	target  Target
	replyTo string
}

// SendChunk performs one streaming send. The server assigns the stream
// id on the first call; subsequent calls must echo it with an increasing
// index.
func (s *chunkSender) SendChunk(ctx context.Context, chunk stream.Chunk) (string, error) {
	path, err := sendPath(s.target)
	if err != nil {
		return "", err
	}
	state := streamStateDelta
	if chunk.Final {
		state = streamStateDone
	}
	var resp sendResponse
	err = s.client.do(ctx, http.MethodPost, path, sendRequest{
		Content: chunk.Content,
		MsgType: msgTypeText,
		MsgID:   s.replyTo,
		MsgSeq:  chunk.Index,
		Stream: &streamPayload{
			State: state,
			ID:    chunk.StreamID,
			Index: chunk.Index,
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	if chunk.StreamID != "" {
		return chunk.StreamID, nil
	}
	return resp.StreamID, nil
}

package gateway

import "encoding/json"

// Opcodes of the gateway wire protocol. Frames are {op, d, s?, t?}.
const (
	OpDispatch       = 0  // in: event, carries t + s
	OpHeartbeat      = 1  // out: last seen sequence number
	OpIdentify       = 2  // out: token + capability bits + shard
	OpResume         = 6  // out: token + session id + seq
	OpReconnect      = 7  // in: server asks for a resuming reconnect
	OpInvalidSession = 9  // in: d is the resumable flag
	OpHello          = 10 // in: d carries heartbeat interval
	OpHeartbeatACK   = 11 // in: liveness no-op
)

// Dispatch event types the supervisor reacts to.
const (
	eventReady   = "READY"
	eventResumed = "RESUMED"

	eventC2CMessage     = "C2C_MESSAGE_CREATE"
	eventGroupAtMessage = "GROUP_AT_MESSAGE_CREATE"
	eventChannelAt      = "AT_MESSAGE_CREATE"
	eventDirectMessage  = "DIRECT_MESSAGE_CREATE"
)

// Close codes and their required handling.
const (
	CloseNormal        = 1000 // no reconnect
	CloseResumable     = 4009 // reconnect preserving session
	CloseInternalFirst = 4900 // 4900..4913: reconnect with fresh identify
	CloseInternalLast  = 4913
	CloseOffline       = 4914 // account offline / sandbox-restricted: stop
	CloseBanned        = 4915 // account banned: stop
)

// Frame is one gateway message in either direction.
type Frame struct {
	Op        int             `json:"op"`
	D         json.RawMessage `json:"d,omitempty"`
	Seq       *int64          `json:"s,omitempty"`
	EventType string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // milliseconds
}

type identifyData struct {
	Token      string   `json:"token"`
	Intents    uint32   `json:"intents"`
	Shard      [2]int   `json:"shard"`
	Properties struct{} `json:"properties"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

type readyData struct {
	Version   int    `json:"version"`
	SessionID string `json:"session_id"`
	User      struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Shard [2]int `json:"shard"`
}

// messageData is the shared body of message-creation dispatch events.
type messageData struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"author"`
	GroupID     string `json:"group_openid,omitempty"`
	ChannelID   string `json:"channel_id,omitempty"`
	GuildID     string `json:"guild_id,omitempty"`
	Attachments []struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
		Filename    string `json:"filename"`
		Size        int64  `json:"size"`
	} `json:"attachments,omitempty"`
}

// closeAction is what the reconnect loop must do after a disconnect.
type closeAction int

const (
	actionBackoff  closeAction = iota // standard delay table, resume if possible
	actionResume                      // reconnect preserving session
	actionIdentify                    // clear session, fresh identify
	actionStop                        // permanent: banned / offline / clean close
)

// classifyClose maps a websocket close code to the reconnect behavior.
func classifyClose(code int) closeAction {
	switch {
	case code == CloseNormal:
		return actionStop
	case code == CloseResumable:
		return actionResume
	case code >= CloseInternalFirst && code <= CloseInternalLast:
		return actionIdentify
	case code == CloseOffline, code == CloseBanned:
		return actionStop
	default:
		return actionBackoff
	}
}

// fatalClose reports whether the close code means the account itself is
// unusable (no retry will ever help).
func fatalClose(code int) bool {
	return code == CloseOffline || code == CloseBanned
}

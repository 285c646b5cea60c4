// Package transport implements the durable pub/sub transport core of spec
// §4.F/§6: message framing, a version handshake, per-client auth and
// heartbeat, a sliding-window rate limiter, a topic router with pattern
// matching, and backpressure-bounded per-client delivery queues. Grounded
// on the teacher's ollama-distributed/pkg/api/websocket_server.go (hub/
// connection/registration channel shape) and pkg/api/rate_limiter.go
// (sliding window), using gorilla/websocket for the wire socket and
// golang-jwt for the authenticate hook.
package transport

import "time"

// MessageType is the wire envelope's type discriminator (spec §6).
type MessageType string

const (
	TypeVersion     MessageType = "version"
	TypeAuth        MessageType = "auth"
	TypeAck         MessageType = "ack"
	TypeError       MessageType = "error"
	TypePing        MessageType = "ping"
	TypePong        MessageType = "pong"
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
	TypePublish     MessageType = "publish"
	TypeEvent       MessageType = "event"
)

// Error codes (spec §6, stable).
const (
	CodeInvalidMessage       = "INVALID_MESSAGE"
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	CodeSubscriptionLimit    = "SUBSCRIPTION_LIMIT_EXCEEDED"
	CodeMethodNotFound       = "METHOD_NOT_FOUND"
	CodeInvalidParams        = "INVALID_PARAMS"
	CodeInternalError        = "INTERNAL_ERROR"
)

// Message is the common envelope every frame shares, with the body held
// in the type-specific fields below (a tagged union over JSON, per spec §6).
type Message struct {
	ID              string      `json:"id"`
	Type            MessageType `json:"type"`
	Timestamp       int64       `json:"timestamp"`
	ProtocolVersion string      `json:"protocolVersion,omitempty"`

	// version
	Version   string   `json:"version,omitempty"`
	Supported []string `json:"supported,omitempty"`

	// auth
	Token    string                 `json:"token,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// ack
	MessageID string `json:"messageId,omitempty"`
	Success   bool   `json:"success,omitempty"`

	// error
	Code         string      `json:"code,omitempty"`
	ErrorMessage string      `json:"message,omitempty"`
	Details      interface{} `json:"details,omitempty"`

	// pong
	Latency int64 `json:"latency,omitempty"`

	// subscribe/unsubscribe
	Topics []string `json:"topics,omitempty"`

	// publish
	Topic     string      `json:"topic,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Broadcast bool        `json:"broadcast,omitempty"`

	// event
	SequenceNumber uint64 `json:"sequenceNumber,omitempty"`
}

func now() int64 { return time.Now().UnixMilli() }

func newEnvelope(id string, typ MessageType) Message {
	return Message{ID: id, Type: typ, Timestamp: now()}
}

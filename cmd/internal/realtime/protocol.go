package realtime

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Version is the wire version of the realtime protocol.
const Version = 1

// Envelope types.
const (
	// TypeHello is sent by the client right after connecting.
	TypeHello = "hello"
	// TypeHelloAck confirms the connection is registered for revocation events.
	TypeHelloAck = "hello.ack"
	// TypeForcedLogout tells the device its session was revoked remotely.
	// The server closes the connection after delivering it.
	TypeForcedLogout = "forced-logout"
	// TypeError reports a protocol-level problem to the client.
	TypeError = "error"
)

// Envelope is the single frame format for both directions.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs shallow structural checks before dispatch.
func (e Envelope) Validate() error {
	if e.V != Version {
		return errors.New("unsupported version")
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing type")
	}
	return nil
}

// HelloAckPayload confirms registration of a device connection.
type HelloAckPayload struct {
	DeviceID string `json:"deviceId"`
}

// ForcedLogoutPayload names the reason a device was signed out.
type ForcedLogoutPayload struct {
	Reason string `json:"reason"`
}

// ErrorPayload is the error frame body.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Registry tracks live device connections per user and fans out
// revocation events. It only covers this process: connections on other
// nodes are not reached, and their next gated request fails the
// live-session check anyway.
//
// Concurrency guarantees:
// - Register/Unregister are safe under concurrent ForceLogout.
// - ForceLogout never blocks (drops under backpressure).
// - Fanout is panic-safe because Client.Send is never closed by the server.
type Registry struct {
	log *slog.Logger

	mu    sync.RWMutex
	users map[string]map[string]*Client // user_id -> device_id -> client
}

// NewRegistry constructs a Registry instance.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:   log,
		users: make(map[string]map[string]*Client),
	}
}

// Register adds a client connection. A newer connection from the same
// device displaces the old one, which gets closed.
func (r *Registry) Register(client *Client) {
	if r == nil || client == nil || client.UserID == "" || client.DeviceID == "" {
		return
	}

	var displaced *Client

	r.mu.Lock()
	devices := r.users[client.UserID]
	if devices == nil {
		devices = make(map[string]*Client)
		r.users[client.UserID] = devices
	}
	displaced = devices[client.DeviceID]
	devices[client.DeviceID] = client
	r.mu.Unlock()

	if displaced != nil {
		displaced.Close()
	}

	r.log.Info("registry.register", "user_id", client.UserID, "device_id", client.DeviceID)
}

// Unregister removes a client connection and signals its shutdown.
// A connection that was already displaced by a newer one is left alone.
func (r *Registry) Unregister(client *Client) {
	if r == nil || client == nil {
		return
	}

	r.mu.Lock()
	if devices := r.users[client.UserID]; devices != nil && devices[client.DeviceID] == client {
		delete(devices, client.DeviceID)
		if len(devices) == 0 {
			delete(r.users, client.UserID)
		}
	}
	r.mu.Unlock()

	client.Close()

	r.log.Info("registry.unregister", "user_id", client.UserID, "device_id", client.DeviceID)
}

// ForceLogout pushes a forced-logout event to the named devices of a
// user, or to every connected device of the user when no device ids are
// given. Slow clients are skipped rather than blocked on; their next
// gated request fails anyway.
func (r *Registry) ForceLogout(userID, reason string, deviceIDs ...string) {
	if r == nil || userID == "" {
		return
	}

	payload, _ := json.Marshal(ForcedLogoutPayload{Reason: reason})
	env := newEnvelope(TypeForcedLogout, payload, time.Now().UTC())

	r.mu.RLock()
	devices := r.users[userID]
	targets := make([]*Client, 0, len(devices))
	if len(deviceIDs) == 0 {
		for _, c := range devices {
			targets = append(targets, c)
		}
	} else {
		for _, id := range deviceIDs {
			if c := devices[id]; c != nil {
				targets = append(targets, c)
			}
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		select {
		case <-c.Done():
			continue
		default:
		}

		select {
		case c.Send <- env:
		default:
			// Drop rather than block; the connection is torn down by the
			// gateway once its writer observes the closed session.
		}
	}

	r.log.Info("registry.force_logout", "user_id", userID, "reason", reason, "targets", len(targets))
}

// ConnectionCount returns the number of live connections on this
// instance. Exposed as a metrics gauge.
func (r *Registry) ConnectionCount() int {
	if r == nil {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, devices := range r.users {
		n += len(devices)
	}
	return n
}

// Connected reports whether the user's device currently holds a live
// connection on this instance.
func (r *Registry) Connected(userID, deviceID string) bool {
	if r == nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := r.users[userID]
	if devices == nil {
		return false
	}
	c := devices[deviceID]
	if c == nil {
		return false
	}
	select {
	case <-c.Done():
		return false
	default:
		return true
	}
}

package messaging

import (
	"context"
	"errors"
	"time"
)

// HealthStatus represents the health state of a messaging connection.
type HealthStatus struct {
	Connected bool          `json:"connected"`
	Latency   time.Duration `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
}

// Healthy reports whether the connection can be used.
func (s HealthStatus) Healthy() bool {
	return s.Connected && s.Error == ""
}

// CheckClientHealth verifies the client connection with a ping request.
// A "no responders" style failure still counts as healthy as long as the
// client stays connected, since it proves the server round-trip works.
func CheckClientHealth(ctx context.Context, client Client) HealthStatus {
	status := HealthStatus{}

	if client == nil {
		status.Error = "client is nil"
		return status
	}

	status.Connected = client.IsConnected()
	if !status.Connected {
		status.Error = "not connected to message broker"
		return status
	}

	start := time.Now()
	_, err := client.Request(ctx, "_HEALTH.ping", []byte("ping"), 2*time.Second)
	status.Latency = time.Since(start)

	if err != nil && errors.Is(err, context.Canceled) {
		status.Error = "health check canceled"
	}
	status.Connected = client.IsConnected()
	if !status.Connected {
		status.Error = "connection lost during health check"
	}

	return status
}

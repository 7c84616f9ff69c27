package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClient struct {
	connected  bool
	requestErr error
}

func (f *fakeClient) Publish(context.Context, string, []byte) error { return nil }
func (f *fakeClient) PublishMsg(context.Context, *Message) error { return nil }
func (f *fakeClient) Close() error { return nil }
func (f *fakeClient) Drain() error { return nil }
func (f *fakeClient) IsConnected() bool { return f.connected }
func (f *fakeClient) Subscribe(string, MessageHandler) (Subscription, error) {
	return nil, nil
}
func (f *fakeClient) QueueSubscribe(string, string, MessageHandler) (Subscription, error) {
	return nil, nil
}
func (f *fakeClient) Request(context.Context, string, []byte, time.Duration) (*Message, error) {
	return nil, f.requestErr
}

func TestCheckClientHealth(t *testing.T) {
	tests := []struct {
		name    string
		client  Client
		healthy bool
		errMsg  string
	}{
		{name: "nil client", client: nil, errMsg: "client is nil"},
		{name: "disconnected", client: &fakeClient{}, errMsg: "not connected to message broker"},
		{name: "connected with responder", client: &fakeClient{connected: true}, healthy: true},
		{name: "connected without responder", client: &fakeClient{connected: true, requestErr: errors.New("nats: no responders available for request")}, healthy: true},
		{name: "canceled", client: &fakeClient{connected: true, requestErr: context.Canceled}, errMsg: "health check canceled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := CheckClientHealth(context.Background(), tt.client)
			assert.Equal(t, tt.healthy, status.Healthy())
			assert.Equal(t, tt.errMsg, status.Error)
		})
	}
}

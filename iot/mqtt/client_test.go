package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "ssl://global.azure-devices-provisioning.net:8883",
		DefaultTransport().BrokerURL("global.azure-devices-provisioning.net"))
	assert.Equal(t, "tcp://127.0.0.1:1883", Transport{Scheme: "tcp", Port: 1883}.BrokerURL("127.0.0.1"))
	assert.Equal(t, "ssl://hub:8883", Transport{}.BrokerURL("hub"))
}

func TestClientOptions(t *testing.T) {
	opts := DefaultTransport().ClientOptions("hub.azure-devices.net", "sim-001", "user", "secret")
	assert.Equal(t, "sim-001", opts.ClientID)
	assert.Equal(t, "user", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, uint(4), opts.ProtocolVersion)
	assert.False(t, opts.AutoReconnect)
	if assert.NotNil(t, opts.TLSConfig) {
		assert.Equal(t, "hub.azure-devices.net", opts.TLSConfig.ServerName)
	}
	if assert.Len(t, opts.Servers, 1) {
		assert.Equal(t, "ssl://hub.azure-devices.net:8883", opts.Servers[0].String())
	}

	plain := Transport{Scheme: "tcp", Port: 1883}.ClientOptions("127.0.0.1", "sim-001", "", "")
	if assert.Len(t, plain.Servers, 1) {
		assert.Equal(t, "tcp://127.0.0.1:1883", plain.Servers[0].String())
	}
}

func TestTelemetryTopic(t *testing.T) {
	assert.Equal(t, "devices/sim-001/messages/events/$.ct=application%2Fjson&$.ce=utf-8",
		TelemetryTopic("sim-001", "application/json", "utf-8"))
	assert.Equal(t, "devices/sim-001/messages/events/", TelemetryTopic("sim-001", "", ""))
	assert.Equal(t, "devices/sim-001/messages/events/$.ce=utf-8", TelemetryTopic("sim-001", "", "utf-8"))
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func (f *fakeToken) Wait() bool                       { <-f.done; return true }
func (f *fakeToken) WaitTimeout(d time.Duration) bool { return true }
func (f *fakeToken) Done() <-chan struct{}            { return f.done }
func (f *fakeToken) Error() error                     { return f.err }

func TestWaitTokenHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitToken(ctx, &fakeToken{done: make(chan struct{})})
	assert.ErrorIs(t, err, context.Canceled)

	done := make(chan struct{})
	close(done)
	assert.NoError(t, WaitToken(context.Background(), &fakeToken{done: done}))
}

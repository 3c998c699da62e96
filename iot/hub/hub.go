// Package hub manages the MQTT session of a simulated device with its IoT hub.
//
// The session is supervised: every state transition is reported to an observer. There is no
// reconnection, a lost connection is irrecoverable and reported as iot.StateDisabled.
package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/devsim/core/logger"
	"github.com/relabs-tech/devsim/iot"
	"github.com/relabs-tech/devsim/iot/credentials"
	devmqtt "github.com/relabs-tech/devsim/iot/mqtt"
)

// APIVersion is the IoT hub API version the device speaks
const APIVersion = "2021-04-12"

// Connection is a live session with an IoT hub. It implements iot.Publisher.
type Connection struct {
	client   paho.Client
	host     string
	deviceID string

	mu       sync.Mutex
	state    iot.ConnectionState
	observer iot.StateObserver

	closeOnce sync.Once
}

type options struct {
	transport devmqtt.Transport
	observer  iot.StateObserver
	tokenTTL  time.Duration
}

// Option configures Connect
type Option func(*options)

// WithTransport replaces the default MQTT over TLS transport
func WithTransport(t devmqtt.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithStateObserver registers the observer before the connection is opened, so that no
// transition is missed
func WithStateObserver(observer iot.StateObserver) Option {
	return func(o *options) { o.observer = observer }
}

// WithTokenLifetime sets the lifetime of the SAS token used as password
func WithTokenLifetime(d time.Duration) Option {
	return func(o *options) { o.tokenTTL = d }
}

// Username returns the MQTT user name of deviceID on host
func Username(host, deviceID string) string {
	return host + "/" + deviceID + "/?api-version=" + APIVersion
}

// Connect opens an authenticated session with the hub at host. deviceKey is the derived,
// base64 device key.
func Connect(ctx context.Context, host, deviceID, deviceKey string, opts ...Option) (*Connection, error) {
	o := options{
		transport: devmqtt.DefaultTransport(),
		tokenTTL:  credentials.DefaultTokenLifetime,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	password, err := credentials.SASToken(credentials.HubResourceURI(host, deviceID), deviceKey, "", time.Now().Add(o.tokenTTL))
	if err != nil {
		return nil, err
	}

	c := &Connection{
		host:     host,
		deviceID: deviceID,
		state:    iot.StateDisconnected,
		observer: o.observer,
	}

	clientOptions := o.transport.ClientOptions(host, deviceID, Username(host, deviceID), password).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.setState(iot.StateDisabled, err)
		})
	c.client = paho.NewClient(clientOptions)

	rlog := logger.FromContext(ctx).WithField("hub", host)
	rlog.Infoln("connecting to IoT hub")
	token := c.client.Connect()
	if err := devmqtt.WaitToken(ctx, token); err != nil {
		go func() {
			token.Wait()
			c.client.Disconnect(0)
		}()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: cannot connect to hub %s: %v", iot.ErrConnectionFatal, host, err)
	}
	c.setState(iot.StateConnected, nil)
	return c, nil
}

// State returns the current connection state
func (c *Connection) State() iot.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState records a transition and notifies the observer outside the lock. Closed and
// disabled are final.
func (c *Connection) setState(state iot.ConnectionState, reason error) {
	c.mu.Lock()
	if c.state == state || c.state == iot.StateClosed || c.state == iot.StateDisabled {
		c.mu.Unlock()
		return
	}
	c.state = state
	observer := c.observer
	c.mu.Unlock()

	entry := logger.Default().WithField("hub", c.host).WithField("state", state.String())
	if reason != nil {
		entry = entry.WithError(reason)
	}
	entry.Infoln("connection status changed")

	if observer != nil {
		observer(state, reason)
	}
}

// Send publishes one device-to-cloud message with the given content type and encoding and
// waits for the hub's acknowledgement.
func (c *Connection) Send(ctx context.Context, payload []byte, contentType, contentEncoding string) error {
	if state := c.State(); state != iot.StateConnected {
		return fmt.Errorf("%w: connection is %s", iot.ErrPublish, state)
	}
	topic := devmqtt.TelemetryTopic(c.deviceID, contentType, contentEncoding)
	if err := devmqtt.WaitToken(ctx, c.client.Publish(topic, 1, false, payload)); err != nil {
		return fmt.Errorf("%w: %v", iot.ErrPublish, err)
	}
	return nil
}

// Close releases the session. Only the first call disconnects, later calls are ignored.
func (c *Connection) Close() error {
	closed := false
	c.closeOnce.Do(func() {
		closed = true
		c.client.Disconnect(250)
		c.setState(iot.StateClosed, nil)
	})
	if !closed {
		logger.Default().WithField("hub", c.host).Debugln("connection already closed")
	}
	return nil
}

package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/relabs-tech/devsim/core/logger"
	"github.com/relabs-tech/devsim/iot"
	"github.com/relabs-tech/devsim/iot/control"
	"github.com/relabs-tech/devsim/iot/hub"
	devmqtt "github.com/relabs-tech/devsim/iot/mqtt"
	"github.com/relabs-tech/devsim/iot/provisioning"
	"github.com/relabs-tech/devsim/iot/simulator"
)

// Registrar registers a device with a provisioning service
type Registrar interface {
	Register(ctx context.Context, endpoint, idScope, deviceID, deviceKey string) (*provisioning.Result, error)
}

// RegistrarFunc is an adapter to allow the use of ordinary functions as Registrar
type RegistrarFunc func(ctx context.Context, endpoint, idScope, deviceID, deviceKey string) (*provisioning.Result, error)

// Register calls f
func (f RegistrarFunc) Register(ctx context.Context, endpoint, idScope, deviceID, deviceKey string) (*provisioning.Result, error) {
	return f(ctx, endpoint, idScope, deviceID, deviceKey)
}

// Connection is an open hub session
type Connection interface {
	iot.Publisher
	State() iot.ConnectionState
	Close() error
}

// Connector opens a hub session. observer must be registered before the session is opened.
type Connector interface {
	Connect(ctx context.Context, host, deviceID, deviceKey string, observer iot.StateObserver) (Connection, error)
}

// ConnectorFunc is an adapter to allow the use of ordinary functions as Connector
type ConnectorFunc func(ctx context.Context, host, deviceID, deviceKey string, observer iot.StateObserver) (Connection, error)

// Connect calls f
func (f ConnectorFunc) Connect(ctx context.Context, host, deviceID, deviceKey string, observer iot.StateObserver) (Connection, error) {
	return f(ctx, host, deviceID, deviceKey, observer)
}

// Builder is a builder helper for Run
type Builder struct {
	// Parameters identify the device. Mandatory.
	Parameters *Parameters
	// Settings of the simulation. If zero, simulator.DefaultSettings are used.
	Settings simulator.Settings
	// Transport is used by the default registrar and connector. If zero, MQTT over TLS is used.
	Transport devmqtt.Transport
	// Registrar overrides the MQTT provisioning client
	Registrar Registrar
	// Connector overrides the MQTT hub client
	Connector Connector
	// Input carries the operator commands. If nil, there are no operator controls.
	Input io.Reader
	// Console receives the human readable output
	Console io.Writer
	// Rand is the jitter source of the simulation
	Rand simulator.Source
	// Monitor is updated with the progress of the device. Optional.
	Monitor *Monitor
}

func (bb *Builder) transport() devmqtt.Transport {
	if bb.Transport.Scheme == "" {
		return devmqtt.DefaultTransport()
	}
	return bb.Transport
}

func (bb *Builder) registrar() Registrar {
	if bb.Registrar != nil {
		return bb.Registrar
	}
	transport := bb.transport()
	return RegistrarFunc(func(ctx context.Context, endpoint, idScope, deviceID, deviceKey string) (*provisioning.Result, error) {
		return provisioning.New(endpoint, idScope, deviceID, deviceKey, provisioning.WithTransport(transport)).Register(ctx)
	})
}

func (bb *Builder) connector() Connector {
	if bb.Connector != nil {
		return bb.Connector
	}
	transport := bb.transport()
	return ConnectorFunc(func(ctx context.Context, host, deviceID, deviceKey string, observer iot.StateObserver) (Connection, error) {
		conn, err := hub.Connect(ctx, host, deviceID, deviceKey, hub.WithTransport(transport), hub.WithStateObserver(observer))
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

// Run provisions, connects and simulates the device until ctx is cancelled or the operator quits.
// It returns nil on a regular shutdown. Errors wrap one of the iot error categories.
func Run(ctx context.Context, bb *Builder) error {
	if bb.Parameters == nil {
		return fmt.Errorf("%w: parameters are missing", iot.ErrConfig)
	}
	p := bb.Parameters
	if err := p.Validate(); err != nil {
		return err
	}
	settings := bb.Settings
	if settings == (simulator.Settings{}) {
		settings = simulator.DefaultSettings()
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	console := bb.Console
	if console == nil {
		console = io.Discard
	}
	monitor := bb.Monitor
	if monitor == nil {
		monitor = &Monitor{}
	}

	deviceKey, err := p.DeriveKey()
	if err != nil {
		return err
	}

	ctx, rlog := logger.ContextWithDeviceIdentity(ctx, p.DeviceID)
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	monitor.setDevice(p.DeviceID)
	rlog.Infoln("registering with", p.ProvisioningEndpoint)
	result, err := bb.registrar().Register(ctx, p.ProvisioningEndpoint, p.IDScope, p.DeviceID, deviceKey)
	if err != nil {
		if ctx.Err() != nil {
			rlog.Infoln("registration cancelled")
			return nil
		}
		return err
	}
	if result.Status != provisioning.StatusAssigned {
		return fmt.Errorf("%w: could not provision device, status %q %s", iot.ErrProvisioning, result.Status, result.ErrorMessage)
	}
	deviceID := result.DeviceID
	if deviceID == "" {
		deviceID = p.DeviceID
	}
	fmt.Fprintln(console, "IoT Device was assigned")
	fmt.Fprintln(console, "Assigned Hub:", result.AssignedHub)
	fmt.Fprintln(console, "Device id:", deviceID)
	monitor.setAssignment(result.AssignedHub, deviceID)

	observer := func(state iot.ConnectionState, reason error) {
		monitor.setConnection(state)
		if state == iot.StateDisabled {
			cancel(fmt.Errorf("%w: connection to %s lost: %v", iot.ErrConnectionFatal, result.AssignedHub, reason))
		}
	}
	conn, err := bb.connector().Connect(ctx, result.AssignedHub, deviceID, deviceKey, observer)
	if err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, iot.ErrConnectionFatal) {
			return cause
		}
		if ctx.Err() != nil {
			rlog.Infoln("connect cancelled")
			return nil
		}
		return err
	}
	var closeOnce sync.Once
	closeConnection := func() {
		closeOnce.Do(func() {
			if err := conn.Close(); err != nil {
				rlog.WithError(err).Errorln("cannot close hub connection")
			}
		})
	}
	defer closeConnection()

	session := simulator.NewSession(settings)
	engine := simulator.NewEngine(&simulator.Builder{
		Session:   session,
		Publisher: conn,
		Settings:  settings,
		Rand:      bb.Rand,
		Console:   console,
	})
	monitor.setSimulation(session, engine)

	var wg sync.WaitGroup
	if bb.Input != nil {
		control.PrintHelp(console)
		reader := control.New(session, bb.Input, console, func() { cancel(nil) })
		wg.Add(1)
		go func() {
			defer wg.Done()
			reader.Run(ctx)
		}()
	}

	engine.Run(ctx)

	closeConnection()
	cancel(nil)
	wg.Wait()

	if cause := context.Cause(ctx); errors.Is(cause, iot.ErrConnectionFatal) {
		return cause
	}
	rlog.Infoln("device stopped")
	return nil
}

package device

import (
	"sync"

	"github.com/relabs-tech/devsim/core/status"
	"github.com/relabs-tech/devsim/iot"
	"github.com/relabs-tech/devsim/iot/simulator"
)

// Monitor tracks the progress of a running device. It is a status.Source.
type Monitor struct {
	mu          sync.Mutex
	deviceID    string
	assignedHub string
	connection  iot.ConnectionState
	session     *simulator.Session
	engine      *simulator.Engine
}

func (m *Monitor) setDevice(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deviceID = deviceID
}

func (m *Monitor) setAssignment(assignedHub, deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignedHub = assignedHub
	m.deviceID = deviceID
}

func (m *Monitor) setConnection(state iot.ConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connection = state
}

func (m *Monitor) setSimulation(session *simulator.Session, engine *simulator.Engine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = session
	m.engine = engine
}

// Statistics implements status.Source
func (m *Monitor) Statistics() status.Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := status.Statistics{
		DeviceID:    m.deviceID,
		AssignedHub: m.assignedHub,
		Connection:  m.connection.String(),
		Engine:      simulator.StateIdle.String(),
	}
	if m.session != nil {
		baseline := m.session.Snapshot()
		s.BaselineTemperature = baseline.Temperature
		s.BaselineHumidity = baseline.Humidity
	}
	if m.engine != nil {
		stats := m.engine.Statistics()
		s.Engine = stats.State
		s.Published = stats.Published
		s.Failed = stats.Failed
	}
	return s
}

package simulator

import "sync"

// Baseline is the state readings are derived from
type Baseline struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// Session is the mutable simulation state. It is safe for concurrent use, readers always
// observe a whole baseline.
type Session struct {
	mu        sync.Mutex
	baseline  Baseline
	increment float64
}

// NewSession creates a session starting at the baselines of settings
func NewSession(settings Settings) *Session {
	return &Session{
		baseline: Baseline{
			Temperature: settings.BaseTemperature,
			Humidity:    settings.BaseHumidity,
		},
		increment: settings.TemperatureIncrement,
	}
}

// Snapshot returns the current baseline
func (s *Session) Snapshot() Baseline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseline
}

// RaiseTemperature moves the temperature baseline up by one increment and returns the new baseline
func (s *Session) RaiseTemperature() Baseline {
	return s.adjust(s.increment)
}

// LowerTemperature moves the temperature baseline down by one increment and returns the new baseline
func (s *Session) LowerTemperature() Baseline {
	return s.adjust(-s.increment)
}

func (s *Session) adjust(delta float64) Baseline {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseline.Temperature += delta
	return s.baseline
}
